package devicelink

import (
	"time"

	"github.com/alexjbarnes/devicelink/internal/transport"
)

// Transport selects how requests and the push channel reach the backend.
type Transport string

const (
	// TransportSocket writes request frames directly to a streaming
	// connection opened by the configured Dialer.
	TransportSocket Transport = "socket"

	// TransportBridge hands each request to a helper program and reads the
	// push channel from a long-running helper.
	TransportBridge Transport = "bridge"
)

const (
	defaultAPIHost           = "api.parse.com"
	defaultPushHost          = "push.parse.com"
	defaultPort              = 443
	defaultClientVersion     = "1.0.3"
	defaultConnectAttempts   = 3
	defaultPushBufferSize    = 256
	defaultKeepaliveInterval = 12 * time.Minute
	defaultMaxResponseBytes  = 64 * 1024
)

// Options configures a Client. Zero values take the defaults noted on
// each field.
type Options struct {
	// Transport defaults to TransportSocket.
	Transport Transport

	// APIHost receives requests. Defaults to api.parse.com.
	APIHost string
	// PushHost serves the push channel. Defaults to push.parse.com.
	PushHost string
	// Port is used for both hosts. Defaults to 443.
	Port int
	// ClientVersion is sent in the client-version header. Defaults to 1.0.3.
	ClientVersion string

	// Dialer opens socket connections. Defaults to a TLS dialer.
	Dialer transport.Dialer
	// ConnectAttempts bounds connect retries per request or push start.
	// Defaults to 3.
	ConnectAttempts int

	// PushBufferSize is the capacity of the push frame buffer and of each
	// push line, terminator included. Defaults to 256.
	PushBufferSize int
	// KeepaliveInterval is the minimum spacing between client keepalives
	// on an idle push connection. Defaults to 12 minutes.
	KeepaliveInterval time.Duration

	// MaxResponseBytes caps how much of a response is kept. Defaults to 64KiB.
	MaxResponseBytes int

	// RequestCommand and PushCommand are the bridge helper programs.
	// Default to parse_request and parse_push.
	RequestCommand []string
	PushCommand    []string
}

func (o Options) withDefaults() Options {
	if o.Transport == "" {
		o.Transport = TransportSocket
	}

	if o.APIHost == "" {
		o.APIHost = defaultAPIHost
	}

	if o.PushHost == "" {
		o.PushHost = defaultPushHost
	}

	if o.Port == 0 {
		o.Port = defaultPort
	}

	if o.ClientVersion == "" {
		o.ClientVersion = defaultClientVersion
	}

	if o.Dialer == nil {
		o.Dialer = transport.TLSDialer{}
	}

	if o.ConnectAttempts <= 0 {
		o.ConnectAttempts = defaultConnectAttempts
	}

	if o.PushBufferSize <= 0 {
		o.PushBufferSize = defaultPushBufferSize
	}

	if o.KeepaliveInterval <= 0 {
		o.KeepaliveInterval = defaultKeepaliveInterval
	}

	if o.MaxResponseBytes <= 0 {
		o.MaxResponseBytes = defaultMaxResponseBytes
	}

	if len(o.RequestCommand) == 0 {
		o.RequestCommand = []string{"parse_request"}
	}

	if len(o.PushCommand) == 0 {
		o.PushCommand = []string{"parse_push"}
	}

	return o
}
