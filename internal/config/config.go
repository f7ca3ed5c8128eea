package config

import (
	"encoding/json"
	stderrors "errors"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vango-dev/wsession/internal/errors"
)

const (
	// DefaultAddr is the default listen address.
	DefaultAddr = ":8080"

	// DefaultPath is the default WebSocket route.
	DefaultPath = "/ws"

	// DefaultMetricsPath is the default Prometheus route.
	DefaultMetricsPath = "/metrics"
)

// FileNames are the configuration file names Load looks for, in order.
var FileNames = []string{"wsession.json", "wsession.yaml", "wsession.yml"}

// Config represents the complete configuration file.
type Config struct {
	Server  ServerConfig  `json:"server" yaml:"server"`
	Client  ClientConfig  `json:"client" yaml:"client"`
	Archive ArchiveConfig `json:"archive" yaml:"archive"`
	Log     LogConfig     `json:"log" yaml:"log"`
	Profile ProfileConfig `json:"profile" yaml:"profile"`

	// configPath stores the path where the config was loaded from.
	configPath string
}

// ServerConfig contains server settings.
type ServerConfig struct {
	// Addr is the HTTP listen address.
	Addr string `json:"addr,omitempty" yaml:"addr,omitempty"`

	// Path is the WebSocket route.
	Path string `json:"path,omitempty" yaml:"path,omitempty"`

	SessionTimeout   string `json:"sessionTimeout,omitempty" yaml:"sessionTimeout,omitempty"`
	SweepInterval    string `json:"sweepInterval,omitempty" yaml:"sweepInterval,omitempty"`
	HandshakeTimeout string `json:"handshakeTimeout,omitempty" yaml:"handshakeTimeout,omitempty"`
	WriteTimeout     string `json:"writeTimeout,omitempty" yaml:"writeTimeout,omitempty"`
	ShutdownTimeout  string `json:"shutdownTimeout,omitempty" yaml:"shutdownTimeout,omitempty"`

	MaxMessageSize     int64 `json:"maxMessageSize,omitempty" yaml:"maxMessageSize,omitempty"`
	MaxSessions        int   `json:"maxSessions,omitempty" yaml:"maxSessions,omitempty"`

	// MaxPendingMessages and MaxPendingBytes bound each session's replay
	// buffer. Sent frames stay in it until acknowledged, so every busy
	// session holds up to MaxPendingBytes.
	MaxPendingMessages int   `json:"maxPendingMessages,omitempty" yaml:"maxPendingMessages,omitempty"`
	MaxPendingBytes    int   `json:"maxPendingBytes,omitempty" yaml:"maxPendingBytes,omitempty"`

	// ResumePolicy is "fresh" or "reject".
	ResumePolicy string `json:"resumePolicy,omitempty" yaml:"resumePolicy,omitempty"`

	// AllowedOrigins lists accepted Origin hosts. Empty means same-origin
	// only; "*" accepts any origin.
	AllowedOrigins []string `json:"allowedOrigins,omitempty" yaml:"allowedOrigins,omitempty"`

	EnableCompression bool `json:"enableCompression,omitempty" yaml:"enableCompression,omitempty"`

	Quality   QualityConfig   `json:"quality,omitempty" yaml:"quality,omitempty"`
	KeepAlive KeepAliveConfig `json:"keepAlive,omitempty" yaml:"keepAlive,omitempty"`
	Pool      PoolConfig      `json:"pool,omitempty" yaml:"pool,omitempty"`
	Metrics   MetricsConfig   `json:"metrics,omitempty" yaml:"metrics,omitempty"`
}

// QualityConfig tunes connection quality scoring.
type QualityConfig struct {
	WindowSize           int     `json:"windowSize,omitempty" yaml:"windowSize,omitempty"`
	LatencyWeight        float64 `json:"latencyWeight,omitempty" yaml:"latencyWeight,omitempty"`
	JitterWeight         float64 `json:"jitterWeight,omitempty" yaml:"jitterWeight,omitempty"`
	LossWeight           float64 `json:"lossWeight,omitempty" yaml:"lossWeight,omitempty"`
	LatencyCeiling       string  `json:"latencyCeiling,omitempty" yaml:"latencyCeiling,omitempty"`
	MinHeartbeatInterval string  `json:"minHeartbeatInterval,omitempty" yaml:"minHeartbeatInterval,omitempty"`
	MaxHeartbeatInterval string  `json:"maxHeartbeatInterval,omitempty" yaml:"maxHeartbeatInterval,omitempty"`
}

// KeepAliveConfig configures ping probing.
type KeepAliveConfig struct {
	MaxMissedPongs int `json:"maxMissedPongs,omitempty" yaml:"maxMissedPongs,omitempty"`
}

// PoolConfig configures the handshake pool.
type PoolConfig struct {
	MaxSize     int    `json:"maxSize,omitempty" yaml:"maxSize,omitempty"`
	IdleTimeout string `json:"idleTimeout,omitempty" yaml:"idleTimeout,omitempty"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled   bool   `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	Path      string `json:"path,omitempty" yaml:"path,omitempty"`
	Namespace string `json:"namespace,omitempty" yaml:"namespace,omitempty"`
}

// ClientConfig contains settings for the connect command.
type ClientConfig struct {
	URL                  string `json:"url,omitempty" yaml:"url,omitempty"`
	ClientVersion        string `json:"clientVersion,omitempty" yaml:"clientVersion,omitempty"`
	ReconnectInterval    string `json:"reconnectInterval,omitempty" yaml:"reconnectInterval,omitempty"`
	MaxReconnectDelay    string `json:"maxReconnectDelay,omitempty" yaml:"maxReconnectDelay,omitempty"`
	MaxReconnectAttempts int    `json:"maxReconnectAttempts,omitempty" yaml:"maxReconnectAttempts,omitempty"`
	HeartbeatInterval    string `json:"heartbeatInterval,omitempty" yaml:"heartbeatInterval,omitempty"`
	HeartbeatTimeout     string `json:"heartbeatTimeout,omitempty" yaml:"heartbeatTimeout,omitempty"`
	DialTimeout          string `json:"dialTimeout,omitempty" yaml:"dialTimeout,omitempty"`
}

// ArchiveConfig configures the S3 stats archive.
type ArchiveConfig struct {
	Enabled         bool   `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	Bucket          string `json:"bucket,omitempty" yaml:"bucket,omitempty"`
	Prefix          string `json:"prefix,omitempty" yaml:"prefix,omitempty"`
	Region          string `json:"region,omitempty" yaml:"region,omitempty"`
	Endpoint        string `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	UsePathStyle    bool   `json:"usePathStyle,omitempty" yaml:"usePathStyle,omitempty"`
	Interval        string `json:"interval,omitempty" yaml:"interval,omitempty"`
	IncludeSessions bool   `json:"includeSessions,omitempty" yaml:"includeSessions,omitempty"`
	Node            string `json:"node,omitempty" yaml:"node,omitempty"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	// Level is debug, info, warn or error.
	Level string `json:"level,omitempty" yaml:"level,omitempty"`

	// Format is text or json.
	Format string `json:"format,omitempty" yaml:"format,omitempty"`
}

// ProfileConfig configures continuous profiling.
type ProfileConfig struct {
	Enabled         bool   `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	ServerAddress   string `json:"serverAddress,omitempty" yaml:"serverAddress,omitempty"`
	ApplicationName string `json:"applicationName,omitempty" yaml:"applicationName,omitempty"`
}

// New creates a Config with default values.
func New() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:               DefaultAddr,
			Path:               DefaultPath,
			SessionTimeout:     "5m",
			HandshakeTimeout:   "10s",
			WriteTimeout:       "10s",
			ShutdownTimeout:    "15s",
			MaxMessageSize:     64 * 1024,
			MaxPendingMessages: 256,
			MaxPendingBytes:    1 << 20,
			ResumePolicy:       "fresh",
			Quality: QualityConfig{
				WindowSize:           10,
				LatencyWeight:        0.5,
				JitterWeight:         0.2,
				LossWeight:           0.3,
				LatencyCeiling:       "1s",
				MinHeartbeatInterval: "5s",
				MaxHeartbeatInterval: "45s",
			},
			KeepAlive: KeepAliveConfig{MaxMissedPongs: 3},
			Pool:      PoolConfig{MaxSize: 1024, IdleTimeout: "2m"},
			Metrics:   MetricsConfig{Path: DefaultMetricsPath, Namespace: "wsession"},
		},
		Client: ClientConfig{
			URL:                  "ws://localhost:8080/ws",
			ReconnectInterval:    "1s",
			MaxReconnectDelay:    "30s",
			MaxReconnectAttempts: 5,
			HeartbeatInterval:    "30s",
			DialTimeout:          "10s",
		},
		Archive: ArchiveConfig{
			Prefix:   "wsession/",
			Interval: "1m",
		},
		Log: LogConfig{Level: "info", Format: "text"},
		Profile: ProfileConfig{
			ServerAddress:   "http://localhost:4040",
			ApplicationName: "wsession",
		},
	}
}

// Load reads the first configuration file found in dir.
func Load(dir string) (*Config, error) {
	for _, name := range FileNames {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return LoadFile(path)
		}
	}
	return nil, errors.New(errors.CodeConfigNotFound).
		WithDetail("No configuration file in " + dir).
		WithSuggestion("Run 'wsession config init' to create one")
}

// LoadFile reads configuration from path. The format follows the file
// extension.
func LoadFile(path string) (*Config, error) {
	format, err := formatOf(path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.New(errors.CodeConfigNotFound).
				WithDetail(path + " does not exist").
				WithSuggestion("Run 'wsession config init' to create one")
		}
		return nil, errors.New(errors.CodeConfigParse).Wrap(err)
	}

	data, err = ExpandEnv(data)
	if err != nil {
		return nil, err
	}

	cfg := New()
	if err := decode(format, data, cfg); err != nil {
		return nil, parseError(path, format, data, err)
	}

	cfg.configPath = path
	cfg.applyDefaults()
	return cfg, nil
}

func formatOf(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return "json", nil
	case ".yaml", ".yml":
		return "yaml", nil
	}
	return "", errors.New(errors.CodeUnsupportedFormat).
		WithDetail(filepath.Base(path) + " has no .json, .yaml or .yml extension")
}

func decode(format string, data []byte, cfg *Config) error {
	if format == "yaml" {
		return yaml.Unmarshal(data, cfg)
	}
	return json.Unmarshal(data, cfg)
}

var yamlLine = regexp.MustCompile(`line (\d+)`)

// parseError attaches the failing file position when the decoder reports
// one.
func parseError(path, format string, data []byte, err error) error {
	e := errors.New(errors.CodeConfigParse).
		WithDetail(err.Error()).
		WithSuggestion("Check that " + filepath.Base(path) + " is valid " + strings.ToUpper(format))

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	switch {
	case stderrors.As(err, &syntaxErr):
		line, col := position(data, syntaxErr.Offset)
		e.WithLocation(path, line, col)
	case stderrors.As(err, &typeErr):
		line, col := position(data, typeErr.Offset)
		e.WithLocation(path, line, col)
	default:
		if m := yamlLine.FindStringSubmatch(err.Error()); m != nil {
			if line, convErr := strconv.Atoi(m[1]); convErr == nil {
				e.WithLocation(path, line, 0)
			}
		}
	}
	return e
}

// position converts a byte offset into a 1-based line and column.
func position(data []byte, offset int64) (line, col int) {
	if offset > int64(len(data)) {
		offset = int64(len(data))
	}
	line, col = 1, 1
	for _, b := range data[:offset] {
		if b == '\n' {
			line++
			col = 1
		} else {
			col++
		}
	}
	return line, col
}

// Save writes the configuration to the file it was loaded from.
func (c *Config) Save() error {
	if c.configPath == "" {
		return errors.Newf(errors.CategoryConfig, "no config path set")
	}
	return c.SaveTo(c.configPath)
}

// SaveTo writes the configuration to path in the format its extension
// names.
func (c *Config) SaveTo(path string) error {
	format, err := formatOf(path)
	if err != nil {
		return err
	}

	var data []byte
	if format == "yaml" {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
		data = append(data, '\n')
	}
	if err != nil {
		return errors.New(errors.CodeConfigParse).Wrap(err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.New(errors.CodeConfigParse).Wrap(err)
	}
	c.configPath = path
	return nil
}

// Path returns the path where the config was loaded from.
func (c *Config) Path() string {
	return c.configPath
}

// applyDefaults fills fields a file cleared explicitly.
func (c *Config) applyDefaults() {
	def := New()
	if c.Server.Addr == "" {
		c.Server.Addr = def.Server.Addr
	}
	if c.Server.Path == "" {
		c.Server.Path = def.Server.Path
	}
	if c.Server.ResumePolicy == "" {
		c.Server.ResumePolicy = def.Server.ResumePolicy
	}
	if c.Server.Metrics.Path == "" {
		c.Server.Metrics.Path = def.Server.Metrics.Path
	}
	if c.Server.Metrics.Namespace == "" {
		c.Server.Metrics.Namespace = def.Server.Metrics.Namespace
	}
	if c.Archive.Interval == "" {
		c.Archive.Interval = def.Archive.Interval
	}
	if c.Log.Level == "" {
		c.Log.Level = def.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = def.Log.Format
	}
	if c.Profile.ApplicationName == "" {
		c.Profile.ApplicationName = def.Profile.ApplicationName
	}
}

// durationField names a duration setting for Validate.
type durationField struct {
	name     string
	value    string
	positive bool
}

func (c *Config) durations() []durationField {
	s, q, cl := &c.Server, &c.Server.Quality, &c.Client
	return []durationField{
		{"server.sessionTimeout", s.SessionTimeout, true},
		{"server.sweepInterval", s.SweepInterval, false},
		{"server.handshakeTimeout", s.HandshakeTimeout, false},
		{"server.writeTimeout", s.WriteTimeout, false},
		{"server.shutdownTimeout", s.ShutdownTimeout, false},
		{"server.quality.latencyCeiling", q.LatencyCeiling, false},
		{"server.quality.minHeartbeatInterval", q.MinHeartbeatInterval, false},
		{"server.quality.maxHeartbeatInterval", q.MaxHeartbeatInterval, false},
		{"server.pool.idleTimeout", s.Pool.IdleTimeout, false},
		{"client.reconnectInterval", cl.ReconnectInterval, false},
		{"client.maxReconnectDelay", cl.MaxReconnectDelay, false},
		{"client.heartbeatInterval", cl.HeartbeatInterval, false},
		{"client.heartbeatTimeout", cl.HeartbeatTimeout, false},
		{"client.dialTimeout", cl.DialTimeout, false},
		{"archive.interval", c.Archive.Interval, false},
	}
}

// Validate checks the configuration and returns the first problem as a
// coded error.
func (c *Config) Validate() error {
	for _, f := range c.durations() {
		d, err := parseDuration(f.name, f.value)
		if err != nil {
			return err
		}
		if d < 0 || (f.positive && f.value != "" && d == 0) {
			return errors.New(errors.CodeInvalidValue).
				WithDetailf("%s must be positive, got %q", f.name, f.value)
		}
	}

	lo, _ := parseDuration("", c.Server.Quality.MinHeartbeatInterval)
	hi, _ := parseDuration("", c.Server.Quality.MaxHeartbeatInterval)
	if lo > 0 && hi > 0 && hi < lo {
		return errors.New(errors.CodeInvalidValue).
			WithDetailf("server.quality.maxHeartbeatInterval (%s) is below minHeartbeatInterval (%s)", hi, lo)
	}

	every, _ := parseDuration("", c.Client.HeartbeatInterval)
	if every <= 0 {
		every = 30 * time.Second
	}
	if wait, _ := parseDuration("", c.Client.HeartbeatTimeout); wait > 0 && wait < every {
		return errors.New(errors.CodeInvalidValue).
			WithDetailf("client.heartbeatTimeout (%s) is below heartbeatInterval (%s)", wait, every)
	}

	ints := []struct {
		name  string
		value int64
	}{
		{"server.maxMessageSize", c.Server.MaxMessageSize},
		{"server.maxSessions", int64(c.Server.MaxSessions)},
		{"server.maxPendingMessages", int64(c.Server.MaxPendingMessages)},
		{"server.maxPendingBytes", int64(c.Server.MaxPendingBytes)},
		{"server.quality.windowSize", int64(c.Server.Quality.WindowSize)},
		{"server.keepAlive.maxMissedPongs", int64(c.Server.KeepAlive.MaxMissedPongs)},
		{"server.pool.maxSize", int64(c.Server.Pool.MaxSize)},
		{"client.maxReconnectAttempts", int64(c.Client.MaxReconnectAttempts)},
	}
	for _, f := range ints {
		if f.value < 0 {
			return errors.New(errors.CodeInvalidValue).
				WithDetailf("%s must not be negative, got %d", f.name, f.value)
		}
	}

	q := c.Server.Quality
	if q.LatencyWeight < 0 || q.JitterWeight < 0 || q.LossWeight < 0 {
		return errors.New(errors.CodeInvalidValue).
			WithDetail("server.quality weights must not be negative")
	}

	switch c.Server.ResumePolicy {
	case "fresh", "reject":
	default:
		return errors.New(errors.CodeInvalidValue).
			WithDetailf("server.resumePolicy must be \"fresh\" or \"reject\", got %q", c.Server.ResumePolicy).
			WithSuggestion(`Use "fresh" to open a new session on resume or "reject" to refuse it`)
	}

	if !strings.HasPrefix(c.Server.Path, "/") {
		return errors.New(errors.CodeInvalidValue).
			WithDetailf("server.path must start with '/', got %q", c.Server.Path)
	}

	if c.Archive.Enabled && c.Archive.Bucket == "" {
		return errors.New(errors.CodeInvalidValue).
			WithDetail("archive.bucket is required when the archive is enabled")
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return errors.New(errors.CodeInvalidValue).
			WithDetailf("log.level must be debug, info, warn or error, got %q", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return errors.New(errors.CodeInvalidValue).
			WithDetailf("log.format must be text or json, got %q", c.Log.Format)
	}
	return nil
}

// parseDuration parses a duration setting. Empty means unset.
func parseDuration(field, s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, errors.New(errors.CodeInvalidDuration).
			WithDetailf("%s: %q", field, s).
			WithSuggestion(`Use a duration such as "500ms", "30s" or "5m"`).
			Wrap(err)
	}
	return d, nil
}

// Exists reports whether dir holds a configuration file.
func Exists(dir string) bool {
	for _, name := range FileNames {
		if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
			return true
		}
	}
	return false
}
