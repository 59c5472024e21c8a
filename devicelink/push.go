package devicelink

import (
	"context"
	"io"

	"github.com/alexjbarnes/devicelink/internal/jsonfield"
	"github.com/alexjbarnes/devicelink/internal/linebuf"
	"github.com/alexjbarnes/devicelink/internal/session"
	"github.com/alexjbarnes/devicelink/internal/transport"
)

// heartbeat is the empty frame both sides send to keep the push
// connection open.
const heartbeat = "{}"

// Push reads one notification from the push connection. Obtain it from
// Client.NextPush and call Read once.
type Push struct {
	conn transport.Conn
	size int

	buf       *linebuf.Buffer
	cr        bool // a '\r' not yet known to end the line
	lookahead []byte
	payload   string
	truncated bool

	// onTime receives the "time" field of each completed payload.
	onTime func(ts string)
	// unread takes back lookahead bytes that belong to later payloads.
	unread func(rest []byte)
}

func newPush(conn transport.Conn, size int, onTime func(string), unread func([]byte)) *Push {
	return &Push{conn: conn, size: size, onTime: onTime, unread: unread}
}

// SetLookahead stages bytes already taken off the connection so Read
// consumes them before reading more.
func (p *Push) SetLookahead(data string) {
	p.lookahead = append(p.lookahead[:0], data...)
}

// Read returns the next payload: the bytes up to a newline, with a
// trailing carriage return removed. Heartbeat and blank lines are skipped.
// Bytes past the buffer capacity are dropped and Truncated reports it.
//
// Read blocks until a line completes, the connection closes, or ctx is
// done. A connection closed mid-line returns the partial payload with
// io.ErrUnexpectedEOF; closed with nothing buffered returns io.EOF. When
// ctx ends first the bytes read so far are handed back so the next push
// starts with them.
func (p *Push) Read(ctx context.Context) (string, error) {
	if p.buf == nil {
		p.buf = linebuf.New(p.size)
	}

	p.payload = ""
	p.truncated = false

	for {
		p.buf.Reset()
		p.cr = false

		line, complete, err := p.readLine(ctx)
		if err != nil {
			return "", err
		}

		if !complete {
			if line == "" {
				return "", io.EOF
			}

			p.payload = line

			return line, io.ErrUnexpectedEOF
		}

		if line == "" || line == heartbeat {
			continue
		}

		p.payload = line
		p.truncated = p.buf.Truncated()
		p.giveBack(p.lookahead)
		p.lookahead = nil

		if p.onTime != nil {
			if ts, ok := jsonfield.String(p.buf.Bytes(), "time", session.LastPushTimeWidth+1); ok {
				p.onTime(ts)
			}
		}

		return line, nil
	}
}

// readLine fills the buffer from the lookahead and then the connection
// until a newline. complete is false when input ran out first.
func (p *Push) readLine(ctx context.Context) (string, bool, error) {
	for len(p.lookahead) > 0 {
		c := p.lookahead[0]
		p.lookahead = p.lookahead[1:]

		if p.feed(c) {
			return p.line(), true, nil
		}
	}

	if p.conn == nil {
		p.flushCR()
		return p.buf.String(), false, nil
	}

	for p.conn.Connected() {
		if p.conn.Available() == 0 {
			if err := p.conn.Wait(ctx); err != nil {
				p.keepPartial()
				return "", false, err
			}

			continue
		}

		c, err := p.conn.ReadByte()
		if err != nil {
			break
		}

		if p.feed(c) {
			return p.line(), true, nil
		}
	}

	p.flushCR()

	return p.buf.String(), false, nil
}

// keepPartial saves an unfinished line after a cancelled wait.
func (p *Push) keepPartial() {
	p.flushCR()
	partial := append([]byte(nil), p.buf.Bytes()...)
	p.buf.Reset()

	if p.unread != nil {
		p.giveBack(partial)
		return
	}

	p.lookahead = partial
}

// feed stores c and reports whether it ended the line. A carriage return
// is held back until the next byte: dropped before '\n', stored otherwise.
func (p *Push) feed(c byte) bool {
	if c == '\n' {
		p.cr = false
		return true
	}

	p.flushCR()

	if c == '\r' {
		p.cr = true
		return false
	}

	p.buf.Append(c)

	return false
}

func (p *Push) flushCR() {
	if p.cr {
		p.cr = false
		p.buf.Append('\r')
	}
}

func (p *Push) line() string { return p.buf.String() }

func (p *Push) giveBack(rest []byte) {
	if len(rest) == 0 || p.unread == nil {
		return
	}

	p.unread(append([]byte(nil), rest...))
}

// Payload returns the payload of the last successful Read.
func (p *Push) Payload() string { return p.payload }

// Truncated reports whether the last payload exceeded the buffer.
func (p *Push) Truncated() bool { return p.truncated }

// Close drops the read buffer. The push connection stays open.
func (p *Push) Close() {
	p.buf = nil
	p.lookahead = nil
}
