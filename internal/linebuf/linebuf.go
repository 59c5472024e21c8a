// Package linebuf provides a fixed-capacity byte buffer that drops bytes
// once full instead of growing. Dropped bytes are recorded so callers can
// tell a truncated line from a complete one.
package linebuf

import "bytes"

// Buffer holds at most Cap() bytes. The capacity passed to New reserves one
// slot for the line terminator, matching the fixed char arrays the wire
// format was designed around, so a buffer of capacity 256 stores 255 bytes.
type Buffer struct {
	data      []byte
	truncated bool
}

// New returns a buffer of the given capacity. Capacities below 2 are
// raised to 2 so the buffer can hold at least one byte.
func New(capacity int) *Buffer {
	if capacity < 2 {
		capacity = 2
	}

	return &Buffer{data: make([]byte, 0, capacity-1)}
}

// Append adds c to the buffer. It returns false and marks the buffer
// truncated when there is no room left.
func (b *Buffer) Append(c byte) bool {
	if len(b.data) == cap(b.data) {
		b.truncated = true
		return false
	}

	b.data = append(b.data, c)

	return true
}

// AppendString copies as much of s as fits and returns the number of bytes
// stored and whether any were dropped.
func (b *Buffer) AppendString(s string) (int, bool) {
	room := cap(b.data) - len(b.data)

	n := len(s)
	if n > room {
		n = room
		b.truncated = true
	}

	b.data = append(b.data, s[:n]...)

	return n, n < len(s)
}

// Bytes returns the buffered bytes. The slice aliases the buffer and is only
// valid until the next mutating call.
func (b *Buffer) Bytes() []byte { return b.data }

// String returns a copy of the buffered bytes.
func (b *Buffer) String() string { return string(b.data) }

// Len returns the number of buffered bytes.
func (b *Buffer) Len() int { return len(b.data) }

// Cap returns the number of bytes the buffer can hold.
func (b *Buffer) Cap() int { return cap(b.data) }

// Full reports whether another Append would be dropped.
func (b *Buffer) Full() bool { return len(b.data) == cap(b.data) }

// Truncated reports whether any byte was dropped since the last Reset.
func (b *Buffer) Truncated() bool { return b.truncated }

// HasPrefix reports whether the buffered bytes begin with prefix.
func (b *Buffer) HasPrefix(prefix string) bool {
	return bytes.HasPrefix(b.data, []byte(prefix))
}

// Discard removes the first n bytes and shifts the remainder to the front.
func (b *Buffer) Discard(n int) {
	if n >= len(b.data) {
		b.data = b.data[:0]
		return
	}

	if n <= 0 {
		return
	}

	m := copy(b.data, b.data[n:])
	clear(b.data[m:])
	b.data = b.data[:m]
}

// Reset empties the buffer and clears the truncated flag. The backing
// array is zeroed so no stale payload survives between reads.
func (b *Buffer) Reset() {
	clear(b.data[:cap(b.data)])
	b.data = b.data[:0]
	b.truncated = false
}
