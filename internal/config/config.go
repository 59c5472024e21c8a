package config

import (
	"crypto/tls"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/alexjbarnes/devicelink/devicelink"
	"github.com/alexjbarnes/devicelink/internal/state"
	"github.com/alexjbarnes/devicelink/internal/transport"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Dial modes for the socket transport.
const (
	DialTLS       = "tls"
	DialTCP       = "tcp"
	DialWebSocket = "websocket"
)

// Config holds all environment-based configuration for devicelink.
type Config struct {
	// Application credentials issued by the backend.
	ApplicationID string `env:"DEVICELINK_APP_ID"`
	ClientKey     string `env:"DEVICELINK_CLIENT_KEY"`

	// Backend endpoints. Both hosts share one port.
	APIHost  string `env:"API_HOST" envDefault:"api.parse.com"`
	PushHost string `env:"PUSH_HOST" envDefault:"push.parse.com"`
	Port     int    `env:"PORT" envDefault:"443"`

	// Transport is "socket" or "bridge". Dial picks how socket
	// connections are opened: "tls", "tcp" or "websocket".
	Transport     string        `env:"TRANSPORT" envDefault:"socket"`
	Dial          string        `env:"DIAL" envDefault:"tls"`
	WebSocketPath string        `env:"WEBSOCKET_PATH" envDefault:"/"`
	DialTimeout   time.Duration `env:"DIAL_TIMEOUT" envDefault:"15s"`

	// WebSocketPlaintext dials ws:// instead of wss://.
	WebSocketPlaintext bool `env:"WEBSOCKET_PLAINTEXT" envDefault:"false"`

	// InsecureSkipVerify disables certificate checks. Only for local test
	// servers.
	InsecureSkipVerify bool `env:"INSECURE_SKIP_VERIFY" envDefault:"false"`

	ConnectAttempts   int           `env:"CONNECT_ATTEMPTS" envDefault:"3"`
	PushBufferSize    int           `env:"PUSH_BUFFER_SIZE" envDefault:"256"`
	KeepaliveInterval time.Duration `env:"KEEPALIVE_INTERVAL" envDefault:"12m"`

	// PollInterval spaces push polls in the listen loop. ReadTimeout bounds
	// each response or push read.
	PollInterval time.Duration `env:"POLL_INTERVAL" envDefault:"1s"`
	ReadTimeout  time.Duration `env:"READ_TIMEOUT" envDefault:"30s"`

	// Session storage. An empty path means ~/.devicelink/state.db. When a
	// passphrase is set the stored record is encrypted.
	StatePath       string `env:"STATE_PATH"`
	StatePassphrase string `env:"STATE_PASSPHRASE"`

	// Bridge helper commands, split on whitespace.
	BridgeRequestCmd string `env:"BRIDGE_REQUEST_CMD" envDefault:"parse_request"`
	BridgePushCmd    string `env:"BRIDGE_PUSH_CMD" envDefault:"parse_push"`

	// Environment controls log format
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL"`
}

// warnInsecureEnvFile checks whether the .env file (if present) has
// overly permissive permissions. On Unix systems, group or world
// readable files risk exposing the client key to other users.
func warnInsecureEnvFile() {
	if runtime.GOOS == "windows" {
		return
	}

	info, err := os.Stat(".env")
	if err != nil {
		return // file does not exist, nothing to check
	}

	mode := info.Mode().Perm()
	if mode&0o077 != 0 {
		log.Printf("WARNING: .env file has insecure permissions %04o; recommended 0600", mode)
	}
}

// Load reads configuration from environment variables.
// It first attempts to load a .env file if present, then parses env vars.
func Load() (*Config, error) {
	_ = godotenv.Load()

	warnInsecureEnvFile()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	if cfg.StatePath == "" {
		path, err := state.DefaultPath()
		if err != nil {
			return nil, err
		}

		cfg.StatePath = path
	}

	absPath, err := filepath.Abs(cfg.StatePath)
	if err != nil {
		return nil, fmt.Errorf("resolving state path to absolute path: %w", err)
	}

	cfg.StatePath = absPath

	return cfg, nil
}

func (c *Config) validate() error {
	if c.ApplicationID == "" {
		return fmt.Errorf("DEVICELINK_APP_ID is required")
	}

	if c.ClientKey == "" {
		return fmt.Errorf("DEVICELINK_CLIENT_KEY is required")
	}

	switch devicelink.Transport(c.Transport) {
	case devicelink.TransportSocket, devicelink.TransportBridge:
	default:
		return fmt.Errorf("TRANSPORT must be %q or %q, got %q", devicelink.TransportSocket, devicelink.TransportBridge, c.Transport)
	}

	switch c.Dial {
	case DialTLS, DialTCP, DialWebSocket:
	default:
		return fmt.Errorf("DIAL must be one of %s, %s, %s; got %q", DialTLS, DialTCP, DialWebSocket, c.Dial)
	}

	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535, got %d", c.Port)
	}

	if c.ConnectAttempts < 1 {
		return fmt.Errorf("CONNECT_ATTEMPTS must be at least 1")
	}

	// The buffer needs room for at least one byte and the terminator.
	if c.PushBufferSize < 2 {
		return fmt.Errorf("PUSH_BUFFER_SIZE must be at least 2")
	}

	if c.KeepaliveInterval <= 0 || c.PollInterval <= 0 || c.ReadTimeout <= 0 {
		return fmt.Errorf("KEEPALIVE_INTERVAL, POLL_INTERVAL and READ_TIMEOUT must be positive")
	}

	if devicelink.Transport(c.Transport) == devicelink.TransportBridge {
		if len(strings.Fields(c.BridgeRequestCmd)) == 0 || len(strings.Fields(c.BridgePushCmd)) == 0 {
			return fmt.Errorf("BRIDGE_REQUEST_CMD and BRIDGE_PUSH_CMD are required for the bridge transport")
		}
	}

	return nil
}

// Dialer builds the socket dialer selected by DIAL.
func (c *Config) Dialer() transport.Dialer {
	switch c.Dial {
	case DialTCP:
		return transport.TCPDialer{Timeout: c.DialTimeout}
	case DialWebSocket:
		return transport.WebSocketDialer{
			Timeout:  c.DialTimeout,
			Path:     c.WebSocketPath,
			Insecure: c.WebSocketPlaintext,
		}
	default:
		return transport.TLSDialer{
			Timeout: c.DialTimeout,
			Config:  &tls.Config{InsecureSkipVerify: c.InsecureSkipVerify}, //nolint:gosec // opt-in for local test servers
		}
	}
}

// ClientOptions maps the configuration onto client options.
func (c *Config) ClientOptions() devicelink.Options {
	return devicelink.Options{
		Transport:         devicelink.Transport(c.Transport),
		APIHost:           c.APIHost,
		PushHost:          c.PushHost,
		Port:              c.Port,
		Dialer:            c.Dialer(),
		ConnectAttempts:   c.ConnectAttempts,
		PushBufferSize:    c.PushBufferSize,
		KeepaliveInterval: c.KeepaliveInterval,
		RequestCommand:    strings.Fields(c.BridgeRequestCmd),
		PushCommand:       strings.Fields(c.BridgePushCmd),
	}
}

// StateOptions returns the options for opening the session store.
func (c *Config) StateOptions() state.Options {
	return state.Options{Passphrase: c.StatePassphrase}
}
