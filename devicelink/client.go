// Package devicelink is a device client for a hosted application backend.
// It keeps the device's installation and session state in non-volatile
// storage, sends framed requests, and holds a push channel open for
// server notifications.
//
// A Client is driven by a single caller. Requests and the push channel use
// separate connections, so a request can be sent between push polls.
package devicelink

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alexjbarnes/devicelink/internal/session"
)

// Client talks to one application on the backend.
type Client struct {
	opts   Options
	logger *slog.Logger
	store  *session.Store

	id        identity
	requester requester
	push      pushChannel
	pushState PushState
	last      *Response
}

// New returns a client whose session persists to slot. Call Begin before
// anything else.
func New(slot session.Slot, opts Options, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	opts = opts.withDefaults()

	c := &Client{
		opts:   opts,
		logger: logger,
		store:  session.New(slot, logger),
	}

	switch opts.Transport {
	case TransportBridge:
		c.requester = &bridgeRequester{command: opts.RequestCommand, maxBytes: opts.MaxResponseBytes, logger: logger}
		c.push = newBridgePush(opts, logger)
	default:
		c.requester = &socketRequester{
			dialer:   opts.Dialer,
			host:     opts.APIHost,
			port:     opts.Port,
			attempts: opts.ConnectAttempts,
			version:  opts.ClientVersion,
			maxBytes: opts.MaxResponseBytes,
			logger:   logger,
		}
		c.push = newSocketPush(opts, logger)
	}

	return c
}

// Begin sets the application credentials and restores the stored session.
func (c *Client) Begin(applicationID, clientKey string) {
	c.id = identity{applicationID: applicationID, clientKey: clientKey}
	c.store.Restore()

	c.logger.Info("client started",
		slog.String("transport", string(c.opts.Transport)),
		slog.Bool("has_installation", c.store.InstallationID() != ""),
		slog.Bool("has_session", c.store.SessionToken() != ""),
	)
}

// SetInstallationID replaces the stored installation id.
func (c *Client) SetInstallationID(id string) error {
	if c.store.SetInstallationID(id) {
		c.logger.Warn("installation id truncated", slog.Int("width", session.InstallationIDWidth))
	}

	return c.store.Persist()
}

// SetSessionToken stores token and makes sure the backend session is tied
// to this installation. An empty token clears the session. Only a failure
// to persist the token is returned; association is retried on the next
// call.
func (c *Client) SetSessionToken(ctx context.Context, token string) error {
	if token == "" {
		return c.ClearSessionToken()
	}

	if c.store.SetSessionToken(token) {
		c.logger.Warn("session token truncated", slog.Int("width", session.SessionTokenWidth))
	}

	if err := c.store.Persist(); err != nil {
		return err
	}

	if c.opts.Transport == TransportBridge {
		return nil
	}

	if err := c.associateSession(ctx); err != nil {
		c.logger.Warn("failed to associate session", slog.String("error", err.Error()))
	}

	return nil
}

// ClearSessionToken removes the session token.
func (c *Client) ClearSessionToken() error {
	c.store.ClearSessionToken()
	return c.store.Persist()
}

// SessionToken returns the session token, or "" when there is none.
func (c *Client) SessionToken() string { return c.store.SessionToken() }

// SendRequest sends one request and returns the handle for its reply. A
// reply still held from the previous request is released first. Check
// Response.Connected before reading.
func (c *Client) SendRequest(ctx context.Context, req Request) *Response {
	if c.last != nil {
		c.last.Close()
		c.last = nil
	}

	c.persist()

	resp := c.requester.send(ctx, c.id, c.store.Snapshot(), req)
	if resp.Connected() {
		c.last = resp
	}

	c.persist()

	return resp
}

// StartPushService opens the push channel. The service is streaming
// afterwards even when opening failed; PushAvailable then reports false
// until the service is started again.
func (c *Client) StartPushService(ctx context.Context) error {
	c.pushState = PushConnecting

	err := c.push.start(ctx, c.id, c.store.Snapshot())
	c.pushState = PushStreaming

	if err != nil {
		return fmt.Errorf("starting push service: %w", err)
	}

	return nil
}

// PushAvailable reports whether NextPush has a payload to read. Call it
// on every poll: it also keeps an idle push connection alive.
func (c *Client) PushAvailable() bool {
	if c.pushState != PushStreaming {
		return false
	}

	return c.push.available()
}

// PushConnected reports whether the push connection is open. The library
// never reconnects; callers restart the service when this turns false.
func (c *Client) PushConnected() bool {
	return c.pushState == PushStreaming && c.push.connected()
}

// NextPush returns a reader for the next payload on the push channel.
func (c *Client) NextPush() *Push {
	return c.push.next(c.recordPushTime)
}

// StopPushService closes the push channel.
func (c *Client) StopPushService() error {
	c.pushState = PushIdle
	return c.push.stop()
}

// PushState reports where the push service is in its lifecycle.
func (c *Client) PushState() PushState { return c.pushState }

// End stops the push service, releases any pending reply and flushes the
// session.
func (c *Client) End() error {
	if c.last != nil {
		c.last.Close()
		c.last = nil
	}

	stopErr := c.StopPushService()

	if err := c.store.Persist(); err != nil {
		return err
	}

	return stopErr
}

func (c *Client) recordPushTime(ts string) {
	c.store.SetLastPushTime(ts)
	c.persist()
}

// persist flushes the store. Failures leave the store dirty for the next
// call.
func (c *Client) persist() {
	if err := c.store.Persist(); err != nil {
		c.logger.Warn("failed to persist session", slog.String("error", err.Error()))
	}
}
