// Package bridge runs the helper programs that perform requests and hold
// the push channel on boards where the network stack lives in a separate
// processor. Arguments travel as command-line parameters, so every value
// handed over must pass Sanitized first.
package bridge

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"

	"github.com/alexjbarnes/devicelink/internal/transport"
)

// Sanitized reports whether s can be passed to a helper as a single
// argument without changing how the helper splits or interprets it.
// Control characters other than tab, DEL, quotes used for shell quoting
// and backticks are rejected.
func Sanitized(s string) bool {
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case c == '\t':
		case c < 0x20, c == 0x7f, c == '\'', c == '`':
			return false
		}
	}

	return true
}

// Runner starts one helper program.
type Runner struct {
	// Command is the program and any leading arguments.
	Command []string
	// Env is appended to the current process environment.
	Env    []string
	Logger *slog.Logger
}

// Start launches the helper with args appended to Command. The returned
// Conn reads the helper's stdout and writes to its stdin; closing it kills
// the helper if it is still running.
func (r Runner) Start(ctx context.Context, args ...string) (transport.Conn, error) {
	if len(r.Command) == 0 {
		return nil, fmt.Errorf("starting helper: no command configured")
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("starting helper: %w", err)
	}

	argv := append(append([]string{}, r.Command[1:]...), args...)

	// The helper outlives ctx: push helpers run until the service stops.
	cmd := exec.Command(r.Command[0], argv...) //nolint:gosec // G204: command comes from operator configuration
	cmd.Env = append(os.Environ(), r.Env...)
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("opening helper stdin: %w", err)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("opening helper stdout: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting helper %s: %w", r.Command[0], err)
	}

	if r.Logger != nil {
		r.Logger.Debug("helper started",
			slog.String("command", r.Command[0]),
			slog.Int("pid", cmd.Process.Pid),
		)
	}

	return transport.NewStream(&process{cmd: cmd, stdin: stdin, stdout: stdout}), nil
}

// process joins a running helper's pipes into one io.ReadWriteCloser.
type process struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
}

func (p *process) Read(b []byte) (int, error)  { return p.stdout.Read(b) }
func (p *process) Write(b []byte) (int, error) { return p.stdin.Write(b) }

func (p *process) Close() error {
	p.stdin.Close()

	// Kill fails once the helper already exited; Wait still reaps it.
	_ = p.cmd.Process.Kill()
	_ = p.cmd.Wait()

	return nil
}
