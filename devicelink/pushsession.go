package devicelink

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alexjbarnes/devicelink/internal/bridge"
	errs "github.com/alexjbarnes/devicelink/internal/errors"
	"github.com/alexjbarnes/devicelink/internal/linebuf"
	"github.com/alexjbarnes/devicelink/internal/session"
	"github.com/alexjbarnes/devicelink/internal/transport"
)

// PushState is the lifecycle of the push service.
type PushState int

const (
	PushIdle PushState = iota
	PushConnecting
	PushStreaming
)

func (s PushState) String() string {
	switch s {
	case PushIdle:
		return "idle"
	case PushConnecting:
		return "connecting"
	case PushStreaming:
		return "streaming"
	}

	return fmt.Sprintf("PushState(%d)", int(s))
}

// Bridge helper protocol bytes.
const (
	bridgeStarted = 's'
	bridgeNext    = 'n'
)

// handshakeVersion identifies the push protocol revision to the server.
const handshakeVersion = "e1.0.0"

// pushChannel is one way of holding the push connection open.
type pushChannel interface {
	start(ctx context.Context, id identity, sess session.Snapshot) error
	available() bool
	connected() bool
	next(onTime func(string)) *Push
	stop() error
}

// handshakeFrame builds the opening frame of the push connection. The
// trailing heartbeat starts the keepalive cadence.
func handshakeFrame(id identity, sess session.Snapshot) []byte {
	last := "null"
	if sess.LastPushTime != "" {
		last = `"` + sess.LastPushTime + `"`
	}

	return fmt.Appendf(nil,
		`{"installation_id":"%s", "oauth_key":"%s", "v":"%s", "last":%s}`+"\r\n{}\r\n",
		sess.InstallationID, id.applicationID, handshakeVersion, last)
}

// socketPush reads pushes from a connection of its own. Bytes drained
// while checking availability wait in frame until the next push takes
// them over as lookahead.
type socketPush struct {
	dialer    transport.Dialer
	host      string
	port      int
	attempts  int
	keepalive time.Duration
	size      int
	logger    *slog.Logger

	conn          transport.Conn
	frame         *linebuf.Buffer
	lastHeartbeat time.Time
}

func newSocketPush(o Options, logger *slog.Logger) *socketPush {
	return &socketPush{
		dialer:    o.Dialer,
		host:      o.PushHost,
		port:      o.Port,
		attempts:  o.ConnectAttempts,
		keepalive: o.KeepaliveInterval,
		size:      o.PushBufferSize,
		logger:    logger,
		frame:     linebuf.New(o.PushBufferSize),
	}
}

func (s *socketPush) start(ctx context.Context, id identity, sess session.Snapshot) error {
	s.stop()

	conn, err := transport.Connect(ctx, s.dialer, s.host, s.port, s.attempts, s.logger)
	if err != nil {
		s.logger.Warn("failed to connect to push server", slog.String("error", err.Error()))
		return err
	}

	if _, err := conn.Write(handshakeFrame(id, sess)); err != nil {
		conn.Close()
		return fmt.Errorf("%w: sending push handshake: %w", errs.ErrNotConnected, err)
	}

	s.conn = conn
	s.lastHeartbeat = time.Now()
	s.logger.Info("push started", slog.String("host", s.host))

	return nil
}

// available reports whether a push can be read. It sends a keepalive when
// the connection has been idle for the keepalive interval.
func (s *socketPush) available() bool {
	if s.conn == nil {
		return false
	}

	pending := s.conn.Available() > 0
	if !pending && s.conn.Connected() && time.Since(s.lastHeartbeat) >= s.keepalive {
		if _, err := s.conn.Write([]byte(heartbeat + "\r\n")); err != nil {
			s.logger.Warn("sending keepalive", slog.String("error", err.Error()))
		} else {
			s.logger.Debug("keepalive sent")
		}

		s.lastHeartbeat = time.Now()
	}

	if s.frame.Len() > 0 {
		return true
	}

	// The frame holds PushBufferSize-1 bytes, the same as a Push line, so
	// anything past that stays on the connection for Read to pull.
	for !s.frame.Full() && s.conn.Available() > 0 {
		c, err := s.conn.ReadByte()
		if err != nil {
			break
		}

		s.frame.Append(c)
	}

	if s.stripHeartbeats() {
		return true
	}

	s.frame.Reset()

	return s.conn.Available() > 0
}

// stripHeartbeats removes leading heartbeat frames and newline noise from
// the frame buffer and reports whether a payload prefix remains.
func (s *socketPush) stripHeartbeats() bool {
	for {
		data := s.frame.Bytes()

		i := 0
		if s.frame.HasPrefix(heartbeat) {
			i = len(heartbeat)
		}

		for i < len(data) && (data[i] == '\r' || data[i] == '\n') {
			i++
		}

		if i == 0 {
			return len(data) > 0
		}

		s.frame.Discard(i)
	}
}

func (s *socketPush) connected() bool {
	return s.conn != nil && s.conn.Connected()
}

func (s *socketPush) next(onTime func(string)) *Push {
	p := newPush(s.conn, s.size, onTime, s.unread)
	if s.frame.Len() > 0 {
		p.SetLookahead(s.frame.String())
		s.frame.Reset()
	}

	return p
}

// unread puts bytes a push read ahead back in front of the frame buffer.
func (s *socketPush) unread(rest []byte) {
	queued := s.frame.String()
	s.frame.Reset()
	s.frame.AppendString(string(rest))
	s.frame.AppendString(queued)
}

func (s *socketPush) stop() error {
	s.frame.Reset()

	if s.conn == nil {
		return nil
	}

	err := s.conn.Close()
	s.conn = nil

	return err
}

// bridgePush holds the push helper. The helper answers the start with one
// status byte and then releases one push per ready signal.
type bridgePush struct {
	command []string
	size    int
	logger  *slog.Logger

	conn    transport.Conn
	pending []byte
}

func newBridgePush(o Options, logger *slog.Logger) *bridgePush {
	return &bridgePush{command: o.PushCommand, size: o.PushBufferSize, logger: logger}
}

func (b *bridgePush) start(ctx context.Context, id identity, sess session.Snapshot) error {
	b.stop()

	runner := bridge.Runner{Command: b.command, Env: helperEnv(id, sess), Logger: b.logger}

	conn, err := runner.Start(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", errs.ErrNotConnected, err)
	}

	for conn.Available() == 0 && conn.Connected() {
		if err := conn.Wait(ctx); err != nil {
			conn.Close()
			return fmt.Errorf("waiting for push helper: %w", err)
		}
	}

	status, err := conn.ReadByte()
	if err != nil {
		conn.Close()
		return fmt.Errorf("%w: push helper exited before reporting status", errs.ErrHandshake)
	}

	for conn.Available() > 0 {
		if _, err := conn.ReadByte(); err != nil {
			break
		}
	}

	if status != bridgeStarted {
		conn.Close()
		return fmt.Errorf("%w: push helper status %q", errs.ErrHandshake, status)
	}

	if _, err := conn.Write([]byte{bridgeNext}); err != nil {
		conn.Close()
		return fmt.Errorf("%w: signalling push helper: %w", errs.ErrNotConnected, err)
	}

	b.conn = conn
	b.logger.Info("push started", slog.String("helper", b.command[0]))

	return nil
}

func (b *bridgePush) available() bool {
	if b.conn == nil {
		return false
	}

	if _, err := b.conn.Write([]byte{bridgeNext}); err != nil {
		b.logger.Debug("signalling push helper", slog.String("error", err.Error()))
	}

	return len(b.pending) > 0 || b.conn.Available() > 0
}

func (b *bridgePush) connected() bool {
	return b.conn != nil && b.conn.Connected()
}

func (b *bridgePush) next(onTime func(string)) *Push {
	p := newPush(b.conn, b.size, onTime, b.unread)
	if len(b.pending) > 0 {
		p.SetLookahead(string(b.pending))
		b.pending = nil
	}

	return p
}

// unread keeps bytes a push read ahead for the next one.
func (b *bridgePush) unread(rest []byte) {
	b.pending = append(rest, b.pending...)
}

func (b *bridgePush) stop() error {
	b.pending = nil

	if b.conn == nil {
		return nil
	}

	err := b.conn.Close()
	b.conn = nil

	return err
}
