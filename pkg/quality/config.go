package quality

import "time"

// Config tunes how latency, jitter and heartbeat loss become a score and a
// heartbeat interval.
type Config struct {
	// WindowSize is the number of latency samples kept in the ring buffer.
	// Default: 10
	WindowSize int

	// LatencyWeight scales the latency term of the score.
	// Default: 0.5
	LatencyWeight float64

	// JitterWeight scales jitter relative to latency. The effective jitter
	// coefficient is capped at 1/sqrt(WindowSize-1) so that worsening any
	// single sample can never improve the score.
	// Default: 0.2
	JitterWeight float64

	// LossWeight scales the packet loss term of the score.
	// Default: 0.3
	LossWeight float64

	// LatencyCeiling is the effective latency at which the latency term
	// saturates.
	// Default: 1s
	LatencyCeiling time.Duration

	// MinHeartbeatInterval is used when the score is 0.
	// Default: 5s
	MinHeartbeatInterval time.Duration

	// MaxHeartbeatInterval is used when the score is 1. It must stay below
	// infrastructure idle timeouts (load balancers commonly cut at 60s).
	// Default: 45s
	MaxHeartbeatInterval time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		WindowSize:           10,
		LatencyWeight:        0.5,
		JitterWeight:         0.2,
		LossWeight:           0.3,
		LatencyCeiling:       time.Second,
		MinHeartbeatInterval: 5 * time.Second,
		MaxHeartbeatInterval: 45 * time.Second,
	}
}

// Clone returns a copy of the config.
func (c *Config) Clone() *Config {
	clone := *c
	return &clone
}

// WithWeights sets the latency, jitter and loss weights.
func (c *Config) WithWeights(latency, jitter, loss float64) *Config {
	c.LatencyWeight = latency
	c.JitterWeight = jitter
	c.LossWeight = loss
	return c
}

// WithHeartbeatBounds sets the heartbeat interval bounds.
func (c *Config) WithHeartbeatBounds(min, max time.Duration) *Config {
	c.MinHeartbeatInterval = min
	c.MaxHeartbeatInterval = max
	return c
}

// normalized fills zero or invalid fields with defaults.
func (c *Config) normalized() Config {
	def := DefaultConfig()
	out := Config{}
	if c != nil {
		out = *c
	}
	if out.WindowSize <= 0 {
		out.WindowSize = def.WindowSize
	}
	if out.LatencyWeight < 0 {
		out.LatencyWeight = 0
	}
	if out.JitterWeight < 0 {
		out.JitterWeight = 0
	}
	if out.LossWeight < 0 {
		out.LossWeight = 0
	}
	if out.LatencyWeight == 0 && out.JitterWeight == 0 && out.LossWeight == 0 {
		out.LatencyWeight = def.LatencyWeight
		out.JitterWeight = def.JitterWeight
		out.LossWeight = def.LossWeight
	}
	if out.LatencyCeiling <= 0 {
		out.LatencyCeiling = def.LatencyCeiling
	}
	if out.MinHeartbeatInterval <= 0 {
		out.MinHeartbeatInterval = def.MinHeartbeatInterval
	}
	if out.MaxHeartbeatInterval <= 0 {
		out.MaxHeartbeatInterval = def.MaxHeartbeatInterval
	}
	if out.MaxHeartbeatInterval < out.MinHeartbeatInterval {
		out.MaxHeartbeatInterval = out.MinHeartbeatInterval
	}
	return out
}
