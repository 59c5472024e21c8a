package devicelink

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	errs "github.com/alexjbarnes/devicelink/internal/errors"
	"github.com/alexjbarnes/devicelink/internal/state"
	"github.com/alexjbarnes/devicelink/internal/transport"
)

// fakeConn is a scripted transport.Conn. Bytes in pending are readable
// now; each Wait moves the next chunk into pending.
type fakeConn struct {
	pending []byte
	chunks  [][]byte
	open    bool
	closed  bool
	written bytes.Buffer
}

// replyConn holds data and then reports the peer closed.
func replyConn(data string) *fakeConn {
	return &fakeConn{pending: []byte(data)}
}

// liveConn stays open until closed by the client.
func liveConn() *fakeConn {
	return &fakeConn{open: true}
}

// trickle delivers s one byte per Wait.
func (c *fakeConn) trickle(s string) {
	for i := 0; i < len(s); i++ {
		c.chunks = append(c.chunks, []byte{s[i]})
	}
}

func (c *fakeConn) deliver(s string) { c.pending = append(c.pending, s...) }

func (c *fakeConn) Available() int {
	if c.closed {
		return 0
	}

	return len(c.pending)
}

func (c *fakeConn) ReadByte() (byte, error) {
	if c.closed {
		return 0, net.ErrClosed
	}

	if len(c.pending) == 0 {
		if c.open || len(c.chunks) > 0 {
			return 0, transport.ErrNoData
		}

		return 0, io.EOF
	}

	b := c.pending[0]
	c.pending = c.pending[1:]

	return b, nil
}

func (c *fakeConn) Write(p []byte) (int, error) {
	if c.closed {
		return 0, net.ErrClosed
	}

	return c.written.Write(p)
}

func (c *fakeConn) Wait(ctx context.Context) error {
	if c.closed || len(c.pending) > 0 {
		return nil
	}

	if len(c.chunks) > 0 {
		c.pending = append(c.pending, c.chunks[0]...)
		c.chunks = c.chunks[1:]

		return nil
	}

	if !c.open {
		return nil
	}

	<-ctx.Done()

	return ctx.Err()
}

func (c *fakeConn) Connected() bool {
	return !c.closed && (c.open || len(c.pending) > 0 || len(c.chunks) > 0)
}

func (c *fakeConn) Close() error {
	c.closed = true
	return nil
}

// fakeDialer hands out conns in order and records every dial.
type fakeDialer struct {
	conns []*fakeConn
	err   error
	dials []string
}

func (d *fakeDialer) Dial(_ context.Context, host string, _ int) (transport.Conn, error) {
	d.dials = append(d.dials, host)

	if d.err != nil {
		return nil, d.err
	}

	if len(d.conns) == 0 {
		return nil, errors.New("connection refused")
	}

	c := d.conns[0]
	d.conns = d.conns[1:]

	return c, nil
}

// memSlot keeps the record in memory and counts writes.
type memSlot struct {
	rec    state.Record
	writes int
}

func (s *memSlot) Read() (state.Record, error) {
	if !s.rec.Assigned {
		return state.Record{}, errs.ErrNotAssigned
	}

	return s.rec, nil
}

func (s *memSlot) Write(rec state.Record) error {
	s.writes++
	s.rec = rec

	return nil
}

func socketClient(t *testing.T, d *fakeDialer, slot *memSlot) *Client {
	t.Helper()

	c := New(slot, Options{Dialer: d, APIHost: "api.example.com", PushHost: "push.example.com"}, nil)
	c.Begin("app-id", "client-key")

	return c
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	return ctx
}
