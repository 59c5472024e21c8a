package devicelink

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"net/http"

	"github.com/alexjbarnes/devicelink/internal/jsonfield"
	"github.com/alexjbarnes/devicelink/internal/transport"
)

// Response reads the reply to one request. A request that never left the
// device still yields a Response: Connected reports false and Err says why.
type Response struct {
	conn     transport.Conn
	err      error
	framed   bool
	maxBytes int

	read      bool
	raw       []byte // bytes taken off conn so far
	status    int
	body      []byte
	truncated bool
}

func newResponse(conn transport.Conn, framed bool, maxBytes int) *Response {
	return &Response{conn: conn, framed: framed, maxBytes: maxBytes}
}

func failedResponse(err error) *Response {
	return &Response{err: err, read: true}
}

// Connected reports whether the request was sent.
func (r *Response) Connected() bool { return r.err == nil }

// Err returns the reason the request was not sent. It wraps
// errors.ErrNotConnected when the server was unreachable and
// errors.ErrUnsafeInput when a request field was rejected.
func (r *Response) Err() error { return r.err }

// Body reads the reply until the server closes the connection and returns
// the payload with any HTTP status line and headers removed. Replies
// larger than the configured limit are cut; Truncated reports it. The
// result is cached, so later calls do not touch the connection. When ctx
// ends first the bytes read so far are kept and the next call resumes
// after them.
func (r *Response) Body(ctx context.Context) ([]byte, error) {
	if r.read {
		return r.body, nil
	}

	if err := r.readAll(ctx); err != nil {
		return nil, err
	}

	r.read = true
	r.conn.Close()
	r.body = r.raw
	r.raw = nil

	if r.framed {
		r.status, r.body = splitHTTP(r.body)
	}

	return r.body, nil
}

// StatusCode returns the HTTP status of a socket reply after Body was
// read, or 0 when unknown.
func (r *Response) StatusCode() int { return r.status }

// Truncated reports whether Body dropped bytes over the size limit.
func (r *Response) Truncated() bool { return r.truncated }

// GetString reads the body and returns the value of a top-level JSON
// field, or "" when it is absent.
func (r *Response) GetString(ctx context.Context, key string) (string, error) {
	body, err := r.Body(ctx)
	if err != nil {
		return "", err
	}

	v, _ := jsonfield.String(body, key, len(body)+1)

	return v, nil
}

// Close releases the connection without reading the rest of the reply.
func (r *Response) Close() error {
	if r.conn == nil || r.read {
		return nil
	}

	r.read = true

	return r.conn.Close()
}

// readAll appends to r.raw until the peer closes.
func (r *Response) readAll(ctx context.Context) error {
	for r.conn.Connected() {
		if r.conn.Available() == 0 {
			if err := r.conn.Wait(ctx); err != nil {
				return err
			}

			continue
		}

		c, err := r.conn.ReadByte()
		if err != nil {
			break
		}

		if len(r.raw) >= r.maxBytes {
			r.truncated = true
			continue
		}

		r.raw = append(r.raw, c)
	}

	return nil
}

// splitHTTP separates status and body of an HTTP/1.1 reply, undoing
// chunked transfer encoding. Anything that does not parse as HTTP is
// returned unchanged.
func splitHTTP(raw []byte) (int, []byte) {
	if !bytes.HasPrefix(raw, []byte("HTTP/")) {
		return 0, raw
	}

	resp, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(raw)), nil)
	if err != nil {
		return 0, raw
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil && len(body) == 0 {
		// Cut short by the size limit: fall back to the bytes after the
		// header block.
		if i := bytes.Index(raw, []byte("\r\n\r\n")); i >= 0 {
			return resp.StatusCode, raw[i+4:]
		}
	}

	return resp.StatusCode, body
}
