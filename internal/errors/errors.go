package errors

import "errors"

// Transport errors.
var (
	ErrNotConnected = errors.New("not connected to server")
	ErrUnsafeInput  = errors.New("request field contains unsafe characters")
)

// Storage errors.
var (
	ErrStorage     = errors.New("session storage failed")
	ErrNotAssigned = errors.New("no session record stored")
	ErrSealed      = errors.New("session record cannot be unsealed")
)

// Push errors.
var (
	ErrHandshake = errors.New("push handshake rejected")
)
