package bridge

import (
	"context"
	"testing"
	"time"

	"github.com/alexjbarnes/devicelink/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitized(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"", true},
		{"GET", true},
		{"/1/classes/Foo", true},
		{`{"a":1,"b":"x y"}`, true},
		{"where=%7B%7D&limit=10", true},
		{"tab\tseparated", true},
		{"line\nbreak", false},
		{"{}\r\n", false},
		{"it's", false},
		{"`reboot`", false},
		{"nul\x00byte", false},
		{"del\x7f", false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Sanitized(tt.in), "Sanitized(%q)", tt.in)
	}
}

func collect(t *testing.T, c transport.Conn) string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var out []byte
	for c.Connected() {
		require.NoError(t, c.Wait(ctx))

		for c.Available() > 0 {
			b, err := c.ReadByte()
			require.NoError(t, err)
			out = append(out, b)
		}
	}

	return string(out)
}

func TestRunner_PassesArguments(t *testing.T) {
	r := Runner{Command: []string{"sh", "-c", `printf '%s|' "$@"`, "sh"}}

	conn, err := r.Start(context.Background(), "-v", "POST", "-e", "/1/classes/Foo", "-d", `{"a":1}`)
	require.NoError(t, err)
	defer conn.Close()

	assert.Equal(t, `-v|POST|-e|/1/classes/Foo|-d|{"a":1}|`, collect(t, conn))
}

func TestRunner_PassesEnvironment(t *testing.T) {
	r := Runner{
		Command: []string{"sh", "-c", `printf '%s' "$DEVICELINK_APP_ID"`},
		Env:     []string{"DEVICELINK_APP_ID=app-123"},
	}

	conn, err := r.Start(context.Background())
	require.NoError(t, err)
	defer conn.Close()

	assert.Equal(t, "app-123", collect(t, conn))
}

func TestRunner_WritesReachHelper(t *testing.T) {
	r := Runner{Command: []string{"sh", "-c", `printf s; head -c 1`}}

	conn, err := r.Start(context.Background())
	require.NoError(t, err)
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, conn.Wait(ctx))
	c, err := conn.ReadByte()
	require.NoError(t, err)
	assert.Equal(t, byte('s'), c)

	_, err = conn.Write([]byte("n"))
	require.NoError(t, err)

	assert.Equal(t, "n", collect(t, conn))
}

func TestRunner_CloseKillsLongRunningHelper(t *testing.T) {
	r := Runner{Command: []string{"sh", "-c", "sleep 60"}}

	conn, err := r.Start(context.Background())
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		conn.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Close did not stop the helper")
	}
}

func TestRunner_NoCommand(t *testing.T) {
	_, err := Runner{}.Start(context.Background())
	assert.ErrorContains(t, err, "no command configured")
}

func TestRunner_MissingBinary(t *testing.T) {
	_, err := Runner{Command: []string{"/nonexistent/devicelink-helper"}}.Start(context.Background())
	assert.ErrorContains(t, err, "starting helper")
}

func TestRunner_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Runner{Command: []string{"true"}}.Start(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
