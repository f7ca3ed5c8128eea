package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/vango-dev/wsession/pkg/keepalive"
	"github.com/vango-dev/wsession/pkg/pool"
	"github.com/vango-dev/wsession/pkg/quality"
)

// Config holds the server configuration.
type Config struct {
	// Timeouts

	// SessionTimeout is how long a detached session is kept for resumption,
	// measured from its last bound socket or last buffered write.
	// Default: 5 minutes.
	SessionTimeout time.Duration

	// SweepInterval is how often expired sessions are removed.
	// Default: SessionTimeout / 5.
	SweepInterval time.Duration

	// HandshakeTimeout is the maximum time to wait for Connect or Reconnect
	// on a new socket.
	// Default: 10 seconds.
	HandshakeTimeout time.Duration

	// WriteTimeout bounds each socket write.
	// Default: 10 seconds.
	WriteTimeout time.Duration

	// Limits

	// MaxMessageSize is the maximum size of an inbound WebSocket message.
	// Default: 64KB.
	MaxMessageSize int64

	// MaxSessions caps the number of sessions. 0 means unlimited.
	// Default: 0.
	MaxSessions int

	// MaxPendingMessages caps the frames a session retains for replay.
	// Frames already written to a live socket are retained too, until the
	// client acknowledges them in a Reconnect, so a busy session holds up
	// to this many frames even while connected. When the cap is reached
	// the oldest frame is dropped.
	// Default: 256.
	MaxPendingMessages int

	// MaxPendingBytes caps the bytes a session retains for replay. Sent
	// frames count toward it, so every session that has sent this much
	// keeps up to MaxPendingBytes of payload in memory for its lifetime.
	// Size it as sessions * MaxPendingBytes. When the cap is reached the
	// oldest frame is dropped.
	// Default: 1MB.
	MaxPendingBytes int

	// WebSocket

	// ReadBufferSize and WriteBufferSize size the upgrader's I/O buffers.
	// Default: 4096.
	ReadBufferSize  int
	WriteBufferSize int

	// EnableCompression negotiates permessage-deflate.
	// Default: false.
	EnableCompression bool

	// CheckOrigin validates the Origin header of upgrade requests.
	// Default: same-origin only (gorilla's default).
	CheckOrigin func(r *http.Request) bool

	// Behaviour

	// ResumePolicy decides what a Reconnect for an unknown or expired
	// session does. Default: FreshSessionPolicy.
	ResumePolicy ResumePolicy

	// Quality configures each session's quality tracker.
	Quality *quality.Config

	// KeepAlive configures ping probing.
	KeepAlive *keepalive.Config

	// Pool configures the pool of sockets awaiting their handshake.
	Pool *pool.Config

	// Observability

	// Metrics receives Prometheus observations. Nil disables them.
	Metrics *Metrics

	// TracerName names the OpenTelemetry tracer.
	// Default: "wsession".
	TracerName string

	// Logger for server events. Default: slog.Default().
	Logger *slog.Logger
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		SessionTimeout:     5 * time.Minute,
		HandshakeTimeout:   10 * time.Second,
		WriteTimeout:       10 * time.Second,
		MaxMessageSize:     64 * 1024,
		MaxPendingMessages: 256,
		MaxPendingBytes:    1 << 20,
		ReadBufferSize:     4096,
		WriteBufferSize:    4096,
		TracerName:         defaultTracerName,
	}
}

// Clone returns a shallow copy of the config. Nested configs are copied.
func (c *Config) Clone() *Config {
	clone := *c
	if c.Quality != nil {
		clone.Quality = c.Quality.Clone()
	}
	if c.KeepAlive != nil {
		ka := *c.KeepAlive
		clone.KeepAlive = &ka
	}
	if c.Pool != nil {
		p := *c.Pool
		clone.Pool = &p
	}
	return &clone
}

// WithSessionTimeout sets the resumption window.
func (c *Config) WithSessionTimeout(d time.Duration) *Config {
	c.SessionTimeout = d
	return c
}

// WithMaxSessions sets the session cap.
func (c *Config) WithMaxSessions(n int) *Config {
	c.MaxSessions = n
	return c
}

// WithPendingLimits sets the per-session replay buffer caps.
func (c *Config) WithPendingLimits(messages, bytes int) *Config {
	c.MaxPendingMessages = messages
	c.MaxPendingBytes = bytes
	return c
}

// WithResumePolicy sets the resume policy.
func (c *Config) WithResumePolicy(p ResumePolicy) *Config {
	c.ResumePolicy = p
	return c
}

// WithMetrics sets the Prometheus metrics sink.
func (c *Config) WithMetrics(m *Metrics) *Config {
	c.Metrics = m
	return c
}

// WithLogger sets the logger.
func (c *Config) WithLogger(l *slog.Logger) *Config {
	c.Logger = l
	return c
}

func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.SessionTimeout <= 0 {
		c.SessionTimeout = def.SessionTimeout
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = c.SessionTimeout / 5
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = def.HandshakeTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = def.MaxMessageSize
	}
	if c.MaxSessions < 0 {
		c.MaxSessions = 0
	}
	if c.MaxPendingMessages <= 0 {
		c.MaxPendingMessages = def.MaxPendingMessages
	}
	if c.MaxPendingBytes <= 0 {
		c.MaxPendingBytes = def.MaxPendingBytes
	}
	if c.ReadBufferSize <= 0 {
		c.ReadBufferSize = def.ReadBufferSize
	}
	if c.WriteBufferSize <= 0 {
		c.WriteBufferSize = def.WriteBufferSize
	}
	if c.ResumePolicy == nil {
		c.ResumePolicy = FreshSessionPolicy
	}
	if c.Quality == nil {
		c.Quality = quality.DefaultConfig()
	}
	if c.KeepAlive == nil {
		c.KeepAlive = keepalive.DefaultConfig()
	}
	if c.Pool == nil {
		c.Pool = pool.DefaultConfig()
	}
	if c.Pool.IdleTimeout <= 0 {
		c.Pool.IdleTimeout = pool.DefaultConfig().IdleTimeout
	}
	if c.TracerName == "" {
		c.TracerName = def.TracerName
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}
