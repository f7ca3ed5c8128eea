package client

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/vango-dev/wsession/pkg/transport"
)

// DefaultClientVersion is sent in Connect when Config.ClientVersion is empty.
const DefaultClientVersion = "wsession-go/1"

// Config configures a Client.
type Config struct {
	// URL is the WebSocket endpoint, e.g. "wss://example.com/ws".
	URL string

	// Header is sent with every dial.
	Header http.Header

	// ClientVersion is reported to the server in Connect.
	// Default: DefaultClientVersion
	ClientVersion string

	// ReconnectInterval is the base reconnect delay. Attempt a waits
	// min(ReconnectInterval * 2^a, MaxReconnectDelay).
	// Default: 1s
	ReconnectInterval time.Duration

	// MaxReconnectDelay caps the reconnect delay.
	// Default: 30s
	MaxReconnectDelay time.Duration

	// MaxReconnectAttempts is the number of failed reconnect attempts after
	// which the client enters StatusError.
	// Default: 5
	MaxReconnectAttempts int

	// HeartbeatInterval is how often a Heartbeat is sent while connected.
	// Default: 30s
	HeartbeatInterval time.Duration

	// HeartbeatTimeout, when positive, treats the connection as lost if the
	// server has not answered a Heartbeat within this long of sending it.
	// The check runs on each heartbeat tick, so a timeout shorter than
	// HeartbeatInterval fires no earlier than the second unanswered tick.
	// Default: 0 (disabled)
	HeartbeatTimeout time.Duration

	// DialTimeout bounds each dial including the WebSocket handshake.
	// Default: 10s
	DialTimeout time.Duration

	// Dialer opens connections. Default: transport.WebSocketDialer.
	Dialer transport.Dialer

	// Logger for lifecycle events. Default: slog.Default().
	Logger *slog.Logger
}

// DefaultConfig returns a Config for url with sensible defaults.
func DefaultConfig(url string) *Config {
	return &Config{
		URL:                  url,
		ClientVersion:        DefaultClientVersion,
		ReconnectInterval:    time.Second,
		MaxReconnectDelay:    30 * time.Second,
		MaxReconnectAttempts: 5,
		HeartbeatInterval:    30 * time.Second,
		DialTimeout:          10 * time.Second,
	}
}

// Clone returns a copy of the config. Header is deep-copied.
func (c *Config) Clone() *Config {
	clone := *c
	if c.Header != nil {
		clone.Header = c.Header.Clone()
	}
	return &clone
}

// WithReconnect sets the reconnect base interval and attempt limit.
func (c *Config) WithReconnect(interval time.Duration, maxAttempts int) *Config {
	c.ReconnectInterval = interval
	c.MaxReconnectAttempts = maxAttempts
	return c
}

// WithHeartbeat sets the heartbeat interval and timeout.
func (c *Config) WithHeartbeat(interval, timeout time.Duration) *Config {
	c.HeartbeatInterval = interval
	c.HeartbeatTimeout = timeout
	return c
}

// WithDialer sets the dialer.
func (c *Config) WithDialer(d transport.Dialer) *Config {
	c.Dialer = d
	return c
}

func (c *Config) applyDefaults() {
	def := DefaultConfig(c.URL)
	if c.ClientVersion == "" {
		c.ClientVersion = def.ClientVersion
	}
	if c.ReconnectInterval <= 0 {
		c.ReconnectInterval = def.ReconnectInterval
	}
	if c.MaxReconnectDelay <= 0 {
		c.MaxReconnectDelay = def.MaxReconnectDelay
	}
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = def.MaxReconnectAttempts
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = def.HeartbeatInterval
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = def.DialTimeout
	}
	if c.Dialer == nil {
		c.Dialer = &transport.WebSocketDialer{}
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Backoff returns the reconnect delay for zero-based attempt a:
// min(interval * 2^a, max).
func Backoff(interval, max time.Duration, a int) time.Duration {
	if a < 0 {
		a = 0
	}
	d := interval
	for i := 0; i < a; i++ {
		if d >= max {
			return max
		}
		d *= 2
	}
	if d > max {
		return max
	}
	return d
}
