package state

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"

	errs "github.com/alexjbarnes/devicelink/internal/errors"
	"golang.org/x/crypto/scrypt"
	"golang.org/x/text/unicode/norm"
)

const (
	// scryptN is the CPU/memory cost parameter for scrypt key derivation (2^15).
	scryptN = 32768

	// scryptR is the block size parameter for scrypt key derivation.
	scryptR = 8

	// scryptP is the parallelization parameter for scrypt key derivation.
	scryptP = 1

	// sealKeyLen is the derived AES-256 key length in bytes.
	sealKeyLen = 32

	// saltLen is the length of the per-database random salt.
	saltLen = 16
)

// sealer encrypts the session record at rest with AES-GCM. The layout is
// [12-byte nonce][ciphertext+tag].
type sealer struct {
	gcm cipher.AEAD
}

func newSalt() ([]byte, error) {
	salt := make([]byte, saltLen)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("generating salt: %w", err)
	}

	return salt, nil
}

// newSealer derives the record key from passphrase and salt using scrypt.
// The passphrase is normalized to NFKC so the same text typed on different
// keyboards derives the same key.
func newSealer(passphrase string, salt []byte) (*sealer, error) {
	key, err := scrypt.Key([]byte(norm.NFKC.String(passphrase)), salt, scryptN, scryptR, scryptP, sealKeyLen)
	if err != nil {
		return nil, fmt.Errorf("deriving state key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating AES cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}

	return &sealer{gcm: gcm}, nil
}

func (s *sealer) close(plain []byte) ([]byte, error) {
	nonce := make([]byte, s.gcm.NonceSize(), s.gcm.NonceSize()+len(plain)+s.gcm.Overhead())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}

	return s.gcm.Seal(nonce, nonce, plain, nil), nil
}

func (s *sealer) open(data []byte) ([]byte, error) {
	ns := s.gcm.NonceSize()
	if len(data) < ns+s.gcm.Overhead() {
		return nil, errs.ErrSealed
	}

	plain, err := s.gcm.Open(nil, data[:ns], data[ns:], nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errs.ErrSealed, err)
	}

	return plain, nil
}
