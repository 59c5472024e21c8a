package transport

import (
	"context"
	"io"
	"net"
)

const (
	// streamChunkSize is the read size of the pump goroutine.
	streamChunkSize = 512

	// streamQueueLen bounds how many unread chunks the pump buffers ahead
	// of the caller before it stops reading from the peer.
	streamQueueLen = 16
)

// Stream adapts an io.ReadWriteCloser to Conn. A pump goroutine reads from
// the peer and hands chunks over a bounded channel; everything else runs
// on the caller's goroutine. Stream is not safe for concurrent use apart
// from the pump.
type Stream struct {
	rwc  io.ReadWriteCloser
	ch   chan []byte
	quit chan struct{}

	pending []byte
	eof     bool
	closed  bool
}

// NewStream starts pumping rwc and returns the Stream. Closing the Stream
// closes rwc.
func NewStream(rwc io.ReadWriteCloser) *Stream {
	s := &Stream{
		rwc:  rwc,
		ch:   make(chan []byte, streamQueueLen),
		quit: make(chan struct{}),
	}

	// Capture the channels by value so the pump never touches caller state.
	go pump(rwc, s.ch, s.quit)

	return s
}

func pump(r io.Reader, ch chan<- []byte, quit <-chan struct{}) {
	defer close(ch)

	for {
		buf := make([]byte, streamChunkSize)

		n, err := r.Read(buf)
		if n > 0 {
			select {
			case ch <- buf[:n]:
			case <-quit:
				return
			}
		}

		if err != nil {
			return
		}
	}
}

// drain moves every chunk the pump already delivered into pending.
func (s *Stream) drain() {
	for !s.eof {
		select {
		case chunk, ok := <-s.ch:
			if !ok {
				s.eof = true
				return
			}

			s.pending = append(s.pending, chunk...)
		default:
			return
		}
	}
}

// Available implements Conn.
func (s *Stream) Available() int {
	if s.closed {
		return 0
	}

	s.drain()

	return len(s.pending)
}

// ReadByte implements Conn.
func (s *Stream) ReadByte() (byte, error) {
	if s.closed {
		return 0, net.ErrClosed
	}

	if len(s.pending) == 0 {
		s.drain()
	}

	if len(s.pending) == 0 {
		if s.eof {
			return 0, io.EOF
		}

		return 0, ErrNoData
	}

	c := s.pending[0]
	s.pending = s.pending[1:]

	return c, nil
}

// Write implements Conn.
func (s *Stream) Write(p []byte) (int, error) {
	if s.closed {
		return 0, net.ErrClosed
	}

	return s.rwc.Write(p)
}

// Wait implements Conn.
func (s *Stream) Wait(ctx context.Context) error {
	if s.closed {
		return nil
	}

	s.drain()

	if len(s.pending) > 0 || s.eof {
		return nil
	}

	select {
	case chunk, ok := <-s.ch:
		if !ok {
			s.eof = true
		} else {
			s.pending = append(s.pending, chunk...)
		}

		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Connected implements Conn.
func (s *Stream) Connected() bool {
	if s.closed {
		return false
	}

	s.drain()

	return !s.eof || len(s.pending) > 0
}

// Close implements Conn. It is safe to call more than once.
func (s *Stream) Close() error {
	if s.closed {
		return nil
	}

	s.closed = true
	s.pending = nil

	close(s.quit)

	return s.rwc.Close()
}
