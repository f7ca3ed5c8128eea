package config

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/vango-dev/wsession/pkg/archive"
	"github.com/vango-dev/wsession/pkg/client"
	"github.com/vango-dev/wsession/pkg/keepalive"
	"github.com/vango-dev/wsession/pkg/pool"
	"github.com/vango-dev/wsession/pkg/quality"
	"github.com/vango-dev/wsession/pkg/server"
)

// ServerConfig builds a server configuration from the server section.
// Metrics are left unset; the caller owns the Prometheus registry.
func (c *Config) ServerConfig(logger *slog.Logger) (*server.Config, error) {
	s := c.Server
	cfg := server.DefaultConfig()
	cfg.Logger = logger

	var err error
	if cfg.SessionTimeout, err = durationOr(cfg.SessionTimeout, "server.sessionTimeout", s.SessionTimeout); err != nil {
		return nil, err
	}
	if cfg.SweepInterval, err = durationOr(cfg.SweepInterval, "server.sweepInterval", s.SweepInterval); err != nil {
		return nil, err
	}
	if cfg.HandshakeTimeout, err = durationOr(cfg.HandshakeTimeout, "server.handshakeTimeout", s.HandshakeTimeout); err != nil {
		return nil, err
	}
	if cfg.WriteTimeout, err = durationOr(cfg.WriteTimeout, "server.writeTimeout", s.WriteTimeout); err != nil {
		return nil, err
	}

	if s.MaxMessageSize > 0 {
		cfg.MaxMessageSize = s.MaxMessageSize
	}
	cfg.MaxSessions = s.MaxSessions
	cfg.WithPendingLimits(s.MaxPendingMessages, s.MaxPendingBytes)
	cfg.EnableCompression = s.EnableCompression
	cfg.CheckOrigin = CheckOrigin(s.AllowedOrigins)

	if s.ResumePolicy == "reject" {
		cfg.ResumePolicy = server.RejectPolicy
	} else {
		cfg.ResumePolicy = server.FreshSessionPolicy
	}

	q := quality.DefaultConfig()
	if s.Quality.WindowSize > 0 {
		q.WindowSize = s.Quality.WindowSize
	}
	if s.Quality.LatencyWeight > 0 || s.Quality.JitterWeight > 0 || s.Quality.LossWeight > 0 {
		q.WithWeights(s.Quality.LatencyWeight, s.Quality.JitterWeight, s.Quality.LossWeight)
	}
	if q.LatencyCeiling, err = durationOr(q.LatencyCeiling, "server.quality.latencyCeiling", s.Quality.LatencyCeiling); err != nil {
		return nil, err
	}
	if q.MinHeartbeatInterval, err = durationOr(q.MinHeartbeatInterval, "server.quality.minHeartbeatInterval", s.Quality.MinHeartbeatInterval); err != nil {
		return nil, err
	}
	if q.MaxHeartbeatInterval, err = durationOr(q.MaxHeartbeatInterval, "server.quality.maxHeartbeatInterval", s.Quality.MaxHeartbeatInterval); err != nil {
		return nil, err
	}
	cfg.Quality = q

	ka := keepalive.DefaultConfig()
	if s.KeepAlive.MaxMissedPongs > 0 {
		ka.MaxMissedPongs = s.KeepAlive.MaxMissedPongs
	}
	ka.Logger = logger
	cfg.KeepAlive = ka

	p := pool.DefaultConfig()
	if s.Pool.MaxSize > 0 {
		p.MaxSize = s.Pool.MaxSize
	}
	if p.IdleTimeout, err = durationOr(p.IdleTimeout, "server.pool.idleTimeout", s.Pool.IdleTimeout); err != nil {
		return nil, err
	}
	p.Logger = logger
	cfg.Pool = p

	return cfg, nil
}

// ClientConfig builds a client configuration from the client section.
func (c *Config) ClientConfig(logger *slog.Logger) (*client.Config, error) {
	s := c.Client
	cfg := client.DefaultConfig(s.URL)
	cfg.Logger = logger
	if s.ClientVersion != "" {
		cfg.ClientVersion = s.ClientVersion
	}
	if s.MaxReconnectAttempts > 0 {
		cfg.MaxReconnectAttempts = s.MaxReconnectAttempts
	}

	var err error
	if cfg.ReconnectInterval, err = durationOr(cfg.ReconnectInterval, "client.reconnectInterval", s.ReconnectInterval); err != nil {
		return nil, err
	}
	if cfg.MaxReconnectDelay, err = durationOr(cfg.MaxReconnectDelay, "client.maxReconnectDelay", s.MaxReconnectDelay); err != nil {
		return nil, err
	}
	if cfg.HeartbeatInterval, err = durationOr(cfg.HeartbeatInterval, "client.heartbeatInterval", s.HeartbeatInterval); err != nil {
		return nil, err
	}
	if cfg.HeartbeatTimeout, err = durationOr(cfg.HeartbeatTimeout, "client.heartbeatTimeout", s.HeartbeatTimeout); err != nil {
		return nil, err
	}
	if cfg.DialTimeout, err = durationOr(cfg.DialTimeout, "client.dialTimeout", s.DialTimeout); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ArchiveConfig builds an archive configuration from the archive section.
func (c *Config) ArchiveConfig(logger *slog.Logger) (*archive.Config, error) {
	a := c.Archive
	cfg := archive.DefaultConfig()
	cfg.Bucket = a.Bucket
	cfg.Prefix = a.Prefix
	cfg.Region = a.Region
	cfg.Endpoint = a.Endpoint
	cfg.UsePathStyle = a.UsePathStyle
	cfg.IncludeSessions = a.IncludeSessions
	cfg.Node = a.Node
	cfg.Logger = logger

	var err error
	if cfg.Interval, err = durationOr(cfg.Interval, "archive.interval", a.Interval); err != nil {
		return nil, err
	}
	return cfg, nil
}

// CheckOrigin returns an upgrade origin check for allowed. Nil (gorilla's
// same-origin check) is returned when allowed is empty.
func CheckOrigin(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return nil
	}
	hosts := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			hosts[strings.ToLower(u.Host)] = true
		} else {
			hosts[strings.ToLower(o)] = true
		}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return hosts[strings.ToLower(u.Host)]
	}
}

// durationOr parses s, keeping def when s is empty.
func durationOr(def time.Duration, field, s string) (time.Duration, error) {
	if s == "" {
		return def, nil
	}
	return parseDuration(field, s)
}
