package devicelink

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/alexjbarnes/devicelink/internal/bridge"
	errs "github.com/alexjbarnes/devicelink/internal/errors"
	"github.com/alexjbarnes/devicelink/internal/session"
	"github.com/alexjbarnes/devicelink/internal/transport"
)

// Header names sent with every request.
const (
	headerClientVersion  = "X-App-Client-Version"
	headerApplicationID  = "X-App-Application-Id"
	headerClientKey      = "X-App-Client-Key"
	headerInstallationID = "X-App-Installation-Id"
	headerSessionToken   = "X-App-Session-Token"
)

// Request is one backend call. Body is sent verbatim; callers provide
// valid JSON. Params is appended to the path as a query string.
type Request struct {
	Verb   string
	Path   string
	Body   string
	Params string
}

// identity is the application credential pair supplied to Begin.
type identity struct {
	applicationID string
	clientKey     string
}

// requester transmits exactly one request and returns a Response bound to
// the connection the reply arrives on.
type requester interface {
	send(ctx context.Context, id identity, sess session.Snapshot, req Request) *Response
}

// socketRequester writes request frames to a connection of its own.
type socketRequester struct {
	dialer   transport.Dialer
	host     string
	port     int
	attempts int
	version  string
	maxBytes int
	logger   *slog.Logger
}

func (r *socketRequester) send(ctx context.Context, id identity, sess session.Snapshot, req Request) *Response {
	conn, err := transport.Connect(ctx, r.dialer, r.host, r.port, r.attempts, r.logger)
	if err != nil {
		r.logger.Warn("failed to connect to server", slog.String("error", err.Error()))
		return failedResponse(err)
	}

	frame := appendFrame(nil, r.host, r.version, id, sess, req)

	r.logger.Debug("sending request",
		slog.String("verb", req.Verb),
		slog.String("path", req.Path),
		slog.Int("body_bytes", len(req.Body)),
	)

	if _, err := conn.Write(frame); err != nil {
		conn.Close()
		return failedResponse(fmt.Errorf("%w: writing request: %w", errs.ErrNotConnected, err))
	}

	return newResponse(conn, true, r.maxBytes)
}

// appendFrame appends the request frame to dst. Header order is fixed.
func appendFrame(dst []byte, host, version string, id identity, sess session.Snapshot, req Request) []byte {
	b := bytes.NewBuffer(dst)

	if req.Params != "" {
		fmt.Fprintf(b, "%s %s?%s HTTP/1.1\r\n", req.Verb, req.Path, req.Params)
	} else {
		fmt.Fprintf(b, "%s %s HTTP/1.1\r\n", req.Verb, req.Path)
	}

	fmt.Fprintf(b, "Host: %s\r\n", host)
	fmt.Fprintf(b, "%s: %s\r\n", headerClientVersion, version)
	fmt.Fprintf(b, "%s: %s\r\n", headerApplicationID, id.applicationID)
	fmt.Fprintf(b, "%s: %s\r\n", headerClientKey, id.clientKey)

	if sess.InstallationID != "" {
		fmt.Fprintf(b, "%s: %s\r\n", headerInstallationID, sess.InstallationID)
	}

	if sess.SessionToken != "" {
		fmt.Fprintf(b, "%s: %s\r\n", headerSessionToken, sess.SessionToken)
	}

	hasBody := req.Body != "" && req.Verb != "GET"

	switch {
	case hasBody:
		b.WriteString("Content-Type: application/json; charset=utf-8\r\n")
	case req.Params != "":
		b.WriteString("Content-Type: html/text\r\n")
	}

	if hasBody {
		b.WriteString("Content-Length: " + strconv.Itoa(len(req.Body)) + "\r\n")
	}

	b.WriteString("Connection: close\r\n")
	b.WriteString("\r\n")

	if req.Body != "" {
		b.WriteString(req.Body)
	}

	return b.Bytes()
}

// bridgeRequester runs the request helper once per call. The helper gets
// the request as arguments and the identity through its environment.
type bridgeRequester struct {
	command  []string
	maxBytes int
	logger   *slog.Logger
}

func (r *bridgeRequester) send(ctx context.Context, id identity, sess session.Snapshot, req Request) *Response {
	for _, field := range []string{req.Verb, req.Path, req.Body, req.Params} {
		if !bridge.Sanitized(field) {
			r.logger.Warn("refusing request with unsafe field",
				slog.String("verb", req.Verb),
				slog.String("path", req.Path),
			)

			return failedResponse(errs.ErrUnsafeInput)
		}
	}

	args := []string{"-v", req.Verb, "-e", req.Path}
	if req.Body != "" {
		args = append(args, "-d", req.Body)
	}

	if req.Params != "" {
		args = append(args, "-p", req.Params)
	}

	runner := bridge.Runner{
		Command: r.command,
		Env:     helperEnv(id, sess),
		Logger:  r.logger,
	}

	conn, err := runner.Start(ctx, args...)
	if err != nil {
		r.logger.Warn("failed to start request helper", slog.String("error", err.Error()))
		return failedResponse(fmt.Errorf("%w: %w", errs.ErrNotConnected, err))
	}

	return newResponse(conn, false, r.maxBytes)
}

// helperEnv passes identity and session to a bridge helper.
func helperEnv(id identity, sess session.Snapshot) []string {
	return []string{
		"DEVICELINK_APP_ID=" + id.applicationID,
		"DEVICELINK_CLIENT_KEY=" + id.clientKey,
		"DEVICELINK_INSTALLATION_ID=" + sess.InstallationID,
		"DEVICELINK_SESSION_TOKEN=" + sess.SessionToken,
		"DEVICELINK_LAST_PUSH_TIME=" + sess.LastPushTime,
	}
}
