package devicelink

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"

	"github.com/alexjbarnes/devicelink/internal/bridge"
	"github.com/alexjbarnes/devicelink/internal/jsonfield"
	"github.com/google/uuid"
)

const (
	installationsPath = "/1/installations"
	sessionMePath     = "/1/sessions/me"
	deviceType        = "embedded"
	parseVersion      = "1.0.0"
)

// InstallationID returns the installation id, creating and registering one
// when none is stored. It returns "" only when a new id could not be
// obtained.
func (c *Client) InstallationID(ctx context.Context) string {
	if id := c.store.InstallationID(); id != "" {
		return id
	}

	var err error
	if c.opts.Transport == TransportBridge {
		err = c.fetchInstallation(ctx)
	} else {
		err = c.registerInstallation(ctx)
	}

	if err != nil {
		c.logger.Warn("failed to create installation", slog.String("error", err.Error()))
	}

	c.persist()

	return c.store.InstallationID()
}

// registerInstallation generates an id and announces it to the backend.
// The id is kept even when the announcement fails.
func (c *Client) registerInstallation(ctx context.Context) error {
	id := uuid.NewString()
	c.store.SetInstallationID(id)

	c.logger.Info("creating installation", slog.String("installation_id", id))

	resp := c.SendRequest(ctx, Request{
		Verb: "POST",
		Path: installationsPath,
		Body: fmt.Sprintf(`{"installationId": "%s", "deviceType": "%s", "parseVersion": "%s"}`, id, deviceType, parseVersion),
	})
	if !resp.Connected() {
		return fmt.Errorf("registering installation: %w", resp.Err())
	}

	body, err := resp.Body(ctx)
	if err != nil {
		return fmt.Errorf("reading installation reply: %w", err)
	}

	c.logger.Debug("installation registered",
		slog.Int("status", resp.StatusCode()),
		slog.Int("body_bytes", len(body)),
	)

	return nil
}

// fetchInstallation asks the request helper for the id it holds.
func (c *Client) fetchInstallation(ctx context.Context) error {
	runner := bridge.Runner{
		Command: c.opts.RequestCommand,
		Env:     helperEnv(c.id, c.store.Snapshot()),
		Logger:  c.logger,
	}

	conn, err := runner.Start(ctx, "-i")
	if err != nil {
		return fmt.Errorf("starting request helper: %w", err)
	}

	out, err := newResponse(conn, false, c.opts.MaxResponseBytes).Body(ctx)
	if err != nil {
		return fmt.Errorf("reading installation id: %w", err)
	}

	id := string(bytes.TrimSpace(out))
	if id == "" {
		return fmt.Errorf("request helper returned no installation id")
	}

	c.store.SetInstallationID(id)

	return nil
}

// associateSession ties the current session to this installation when the
// backend does not already know the pairing.
func (c *Client) associateSession(ctx context.Context) error {
	if c.InstallationID(ctx) == "" {
		return nil
	}

	resp := c.SendRequest(ctx, Request{Verb: "GET", Path: sessionMePath})
	if !resp.Connected() {
		return fmt.Errorf("looking up session: %w", resp.Err())
	}

	body, err := resp.Body(ctx)
	if err != nil {
		return fmt.Errorf("reading session: %w", err)
	}

	if jsonfield.Has(body, "installationId") {
		return nil
	}

	c.logger.Info("associating session with installation")

	resp = c.SendRequest(ctx, Request{Verb: "PUT", Path: sessionMePath, Body: "{}\r\n"})
	if !resp.Connected() {
		return fmt.Errorf("associating session: %w", resp.Err())
	}

	return nil
}
