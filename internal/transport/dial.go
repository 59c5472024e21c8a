package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/coder/websocket"
)

// defaultDialTimeout bounds a single connect attempt when the dialer does
// not set its own timeout.
const defaultDialTimeout = 15 * time.Second

// wsReadLimit caps a single tunnelled WebSocket message. Payload size is
// bounded further up by the line buffer.
const wsReadLimit = 1 << 20

func dialTimeout(d time.Duration) time.Duration {
	if d <= 0 {
		return defaultDialTimeout
	}

	return d
}

// TCPDialer opens plain TCP connections. Used against local test servers
// and for backends terminated behind a TLS proxy.
type TCPDialer struct {
	Timeout time.Duration
}

// Dial implements Dialer.
func (d TCPDialer) Dial(ctx context.Context, host string, port int) (Conn, error) {
	nd := net.Dialer{Timeout: dialTimeout(d.Timeout)}

	nc, err := nd.DialContext(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, fmt.Errorf("dialing tcp: %w", err)
	}

	return NewStream(nc), nil
}

// TLSDialer opens TLS connections. A nil Config verifies the server
// certificate against the system roots using host as the server name.
type TLSDialer struct {
	Timeout time.Duration
	Config  *tls.Config
}

// Dial implements Dialer.
func (d TLSDialer) Dial(ctx context.Context, host string, port int) (Conn, error) {
	td := tls.Dialer{
		NetDialer: &net.Dialer{Timeout: dialTimeout(d.Timeout)},
		Config:    d.Config,
	}

	nc, err := td.DialContext(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, fmt.Errorf("dialing tls: %w", err)
	}

	return NewStream(nc), nil
}

// WebSocketDialer tunnels the byte stream through a WebSocket, for
// deployments where only HTTPS egress is allowed. Each Write is sent as one
// text message and inbound messages are concatenated into the stream.
type WebSocketDialer struct {
	Timeout time.Duration
	// Path is the request path of the tunnel endpoint, e.g. "/stream".
	Path string
	// Insecure selects ws:// instead of wss://.
	Insecure bool
	// HTTPClient is used for the upgrade request. Nil uses http.DefaultClient.
	HTTPClient *http.Client
}

// Dial implements Dialer.
func (d WebSocketDialer) Dial(ctx context.Context, host string, port int) (Conn, error) {
	scheme := "wss"
	if d.Insecure {
		scheme = "ws"
	}

	u := url.URL{
		Scheme: scheme,
		Host:   net.JoinHostPort(host, strconv.Itoa(port)),
		Path:   d.Path,
	}

	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout(d.Timeout))
	defer cancel()

	ws, _, err := websocket.Dial(dialCtx, u.String(), &websocket.DialOptions{ //nolint:bodyclose // websocket.Dial closes the response body internally
		HTTPClient: d.HTTPClient,
	})
	if err != nil {
		return nil, fmt.Errorf("dialing websocket: %w", err)
	}

	ws.SetReadLimit(wsReadLimit)

	// The tunnel lives until Close, independent of the dial context.
	return NewStream(websocket.NetConn(context.Background(), ws, websocket.MessageText)), nil
}
