// Package transport provides the streaming connections the client talks
// over: a polling byte-stream interface, an adapter that turns any
// io.ReadWriteCloser into one, and dialers for TCP, TLS and WebSocket.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	errs "github.com/alexjbarnes/devicelink/internal/errors"
)

//go:generate mockgen -source=conn.go -destination=mock_conn_test.go -package=transport

// ErrNoData is returned by ReadByte when no byte is pending and the peer
// has not closed the connection.
var ErrNoData = errors.New("transport: no data available")

// Conn is a byte stream read by polling. Available and ReadByte never
// block; Wait is the only call that suspends the caller.
type Conn interface {
	// Available returns the number of bytes that can be read without blocking.
	Available() int

	// ReadByte returns the next pending byte. It returns ErrNoData when
	// nothing is pending and io.EOF once the peer closed and every byte
	// was consumed.
	ReadByte() (byte, error)

	// Write sends p to the peer.
	Write(p []byte) (int, error)

	// Wait blocks until a byte is pending, the peer closes, or ctx is done.
	// It returns ctx.Err() only in the last case.
	Wait(ctx context.Context) error

	// Connected reports whether the connection is open or still holds
	// unread bytes.
	Connected() bool

	// Close releases the connection. Further reads report no data.
	Close() error
}

// Dialer opens a Conn to host:port.
type Dialer interface {
	Dial(ctx context.Context, host string, port int) (Conn, error)
}

// Connect dials host up to attempts times, returning the first connection
// that succeeds. Attempts follow each other immediately. When every attempt
// fails the error wraps errors.ErrNotConnected and the last dial error.
func Connect(ctx context.Context, d Dialer, host string, port, attempts int, logger *slog.Logger) (Conn, error) {
	if attempts < 1 {
		attempts = 1
	}

	if logger == nil {
		logger = slog.Default()
	}

	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		conn, err := d.Dial(ctx, host, port)
		if err == nil {
			logger.Debug("connected",
				slog.String("host", host),
				slog.Int("port", port),
				slog.Int("attempt", attempt),
			)

			return conn, nil
		}

		lastErr = err
		logger.Debug("connect attempt failed",
			slog.String("host", host),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)

		if ctx.Err() != nil {
			break
		}
	}

	return nil, fmt.Errorf("%w: %s:%d: %w", errs.ErrNotConnected, host, port, lastErr)
}
