package state

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	errs "github.com/alexjbarnes/devicelink/internal/errors"
	bolt "go.etcd.io/bbolt"
)

const (
	// stateDirPerm is the permission mode for the state directory (~/.devicelink/).
	stateDirPerm = fs.FileMode(0o700)

	// stateFilePerm is the permission mode for the state database file.
	stateFilePerm = fs.FileMode(0o600)

	// stateOpenTimeout is the maximum time to wait for the bolt database lock.
	stateOpenTimeout = 5 * time.Second
)

var (
	sessionBucket = []byte("session")
	recordKey     = []byte("record")
	saltKey       = []byte("salt")
)

// Record is the single fixed-layout session record. Assigned is set on
// every write so a zeroed or missing record reads as "nothing stored".
type Record struct {
	Assigned       bool   `json:"assigned"`
	InstallationID string `json:"installation_id"`
	SessionToken   string `json:"session_token"`
	LastPushTime   string `json:"last_push_time"`
}

// State wraps a bbolt database holding the session record.
type State struct {
	db   *bolt.DB
	seal *sealer
}

// Options configures how the state database is opened.
type Options struct {
	// Passphrase, when set, seals the record with a key derived from it.
	// Without one the record is stored as plain JSON.
	Passphrase string
}

// LoadAt opens a state database at the given path, creating it if it
// does not exist. Useful for tests that need an isolated database.
func LoadAt(path string, opts Options) (*State, error) {
	if err := os.MkdirAll(filepath.Dir(path), stateDirPerm); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	db, err := bolt.Open(path, stateFilePerm, &bolt.Options{Timeout: stateOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("opening state db: %w", err)
	}

	var salt []byte

	err = db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(sessionBucket)
		if err != nil {
			return err
		}

		if opts.Passphrase == "" {
			return nil
		}

		salt = append(salt, b.Get(saltKey)...)
		if len(salt) > 0 {
			return nil
		}

		salt, err = newSalt()
		if err != nil {
			return err
		}

		return b.Put(saltKey, salt)
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing state db: %w", err)
	}

	s := &State{db: db}

	if opts.Passphrase != "" {
		s.seal, err = newSealer(opts.Passphrase, salt)
		if err != nil {
			db.Close()
			return nil, err
		}
	}

	return s, nil
}

// Close closes the database.
func (s *State) Close() error {
	return s.db.Close()
}

// Read returns the stored record. It returns ErrNotAssigned when nothing
// was ever written and ErrSealed when the record cannot be opened with the
// configured passphrase.
func (s *State) Read() (Record, error) {
	var rec Record

	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(sessionBucket).Get(recordKey)
		if v == nil {
			return errs.ErrNotAssigned
		}

		data := v
		if s.seal != nil {
			plain, err := s.seal.open(v)
			if err != nil {
				return err
			}

			data = plain
		}

		if err := json.Unmarshal(data, &rec); err != nil {
			return fmt.Errorf("decoding session record: %w", err)
		}

		return nil
	})
	if err != nil {
		return Record{}, err
	}

	if !rec.Assigned {
		return Record{}, errs.ErrNotAssigned
	}

	return rec, nil
}

// Write replaces the stored record.
func (s *State) Write(rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding session record: %w", err)
	}

	if s.seal != nil {
		data, err = s.seal.close(data)
		if err != nil {
			return err
		}
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(sessionBucket).Put(recordKey, data)
	})
	if err != nil {
		return fmt.Errorf("%w: %w", errs.ErrStorage, err)
	}

	return nil
}

// Clear removes the stored record. A later Read reports ErrNotAssigned.
func (s *State) Clear() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(sessionBucket).Delete(recordKey)
	})
}

// DefaultPath returns ~/.devicelink/state.db.
func DefaultPath() (string, error) {
	dir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("determining home directory: %w", err)
	}

	return filepath.Join(dir, ".devicelink", "state.db"), nil
}
