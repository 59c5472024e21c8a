package linebuf

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNew_ReservesTerminatorSlot(t *testing.T) {
	b := New(8)
	assert.Equal(t, 7, b.Cap())
	assert.Equal(t, 0, b.Len())
	assert.False(t, b.Full())
}

func TestNew_MinimumCapacity(t *testing.T) {
	b := New(0)
	assert.Equal(t, 1, b.Cap())
	assert.True(t, b.Append('x'))
	assert.False(t, b.Append('y'))
}

func TestAppend_DropsWhenFull(t *testing.T) {
	b := New(4)
	assert.True(t, b.Append('a'))
	assert.True(t, b.Append('b'))
	assert.True(t, b.Append('c'))
	assert.True(t, b.Full())
	assert.False(t, b.Truncated())

	assert.False(t, b.Append('d'))
	assert.True(t, b.Truncated())
	assert.Equal(t, "abc", b.String())
}

func TestAppendString_Fits(t *testing.T) {
	b := New(16)
	n, truncated := b.AppendString("hello")
	assert.Equal(t, 5, n)
	assert.False(t, truncated)
	assert.Equal(t, "hello", b.String())
}

func TestAppendString_Truncates(t *testing.T) {
	b := New(6)
	n, truncated := b.AppendString(strings.Repeat("x", 10))
	assert.Equal(t, 5, n)
	assert.True(t, truncated)
	assert.True(t, b.Truncated())
	assert.Equal(t, "xxxxx", b.String())
}

func TestHasPrefix(t *testing.T) {
	b := New(16)
	b.AppendString("{}\r\nabc")
	assert.True(t, b.HasPrefix("{}"))
	assert.False(t, b.HasPrefix("abc"))
}

func TestDiscard_ShiftsRemainder(t *testing.T) {
	b := New(16)
	b.AppendString("{}\n\nhello")
	b.Discard(4)
	assert.Equal(t, "hello", b.String())

	// Bytes past the new length are zeroed.
	full := b.Bytes()[:b.Cap()]
	for _, c := range full[b.Len():] {
		assert.Equal(t, byte(0), c)
	}
}

func TestDiscard_AllAndNone(t *testing.T) {
	b := New(16)
	b.AppendString("abc")
	b.Discard(0)
	assert.Equal(t, "abc", b.String())

	b.Discard(10)
	assert.Equal(t, 0, b.Len())
}

func TestReset_ClearsContentAndFlag(t *testing.T) {
	b := New(3)
	b.AppendString("abcdef")
	assert.True(t, b.Truncated())

	b.Reset()
	assert.Equal(t, 0, b.Len())
	assert.False(t, b.Truncated())
	assert.True(t, b.Append('z'))
	assert.Equal(t, "z", b.String())
}
