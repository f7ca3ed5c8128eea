// Package quality scores connection health from heartbeat round trips.
//
// A Tracker keeps a fixed window of latency samples plus heartbeat
// accounting and derives a score in [0,1] and the heartbeat interval that
// the keep-alive layer should use next. Lower scores mean shorter intervals.
package quality

import (
	"math"
	"sync"
	"time"
)

// Metrics is a point-in-time snapshot of a Tracker.
type Metrics struct {
	Samples            int           `json:"samples"`
	LastLatency        time.Duration `json:"last_latency"`
	AverageLatency     time.Duration `json:"average_latency"`
	Jitter             time.Duration `json:"jitter"`
	MissedHeartbeats   uint64        `json:"missed_heartbeats"`
	ExpectedHeartbeats uint64        `json:"expected_heartbeats"`
	ConsecutiveMisses  int           `json:"consecutive_misses"`
	PacketLossRate     float64       `json:"packet_loss_rate"`
	Score              float64       `json:"score"`
	HeartbeatInterval  time.Duration `json:"heartbeat_interval"`
}

// Tracker holds the quality state for one connection. It is safe for
// concurrent use by the connection's read loop and its keep-alive timer.
type Tracker struct {
	mu  sync.Mutex
	cfg Config

	// Latency ring buffer, in milliseconds.
	samples []float64
	head    int
	count   int

	missed      uint64
	expected    uint64
	consecutive int

	k        float64
	avg      float64
	jitter   float64
	score    float64
	interval time.Duration
}

// NewTracker creates a tracker. A nil config uses DefaultConfig.
func NewTracker(cfg *Config) *Tracker {
	c := cfg.normalized()
	t := &Tracker{
		cfg:     c,
		k:       jitterCoefficient(c),
		samples: make([]float64, c.WindowSize),
	}
	t.recompute()
	return t
}

// RecordLatency adds a round-trip sample, overwriting the oldest once the
// window is full.
func (t *Tracker) RecordLatency(d time.Duration) {
	if d < 0 {
		d = 0
	}
	ms := float64(d) / float64(time.Millisecond)

	t.mu.Lock()
	defer t.mu.Unlock()

	t.samples[t.head] = ms
	t.head = (t.head + 1) % len(t.samples)
	if t.count < len(t.samples) {
		t.count++
	}
	t.recompute()
}

// RecordExpectedHeartbeat counts one scheduled probe.
func (t *Tracker) RecordExpectedHeartbeat() {
	t.mu.Lock()
	t.expected++
	t.recompute()
	t.mu.Unlock()
}

// RecordMissedHeartbeat counts one unanswered probe and returns the number
// of consecutive misses.
func (t *Tracker) RecordMissedHeartbeat() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.missed++
	if t.missed > t.expected {
		t.expected = t.missed
	}
	t.consecutive++
	t.recompute()
	return t.consecutive
}

// RecordPong resets the consecutive miss counter.
func (t *Tracker) RecordPong() {
	t.mu.Lock()
	t.consecutive = 0
	t.mu.Unlock()
}

// ResetConsecutive clears the consecutive miss counter without touching the
// loss history. Call it when a new connection takes over the tracker.
func (t *Tracker) ResetConsecutive() {
	t.mu.Lock()
	t.consecutive = 0
	t.mu.Unlock()
}

// Score returns the current quality score in [0,1].
func (t *Tracker) Score() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.score
}

// HeartbeatInterval returns the interval to wait before the next probe.
func (t *Tracker) HeartbeatInterval() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.interval
}

// Metrics returns a snapshot of the tracker state.
func (t *Tracker) Metrics() Metrics {
	t.mu.Lock()
	defer t.mu.Unlock()

	m := Metrics{
		Samples:            t.count,
		AverageLatency:     msToDuration(t.avg),
		Jitter:             msToDuration(t.jitter),
		MissedHeartbeats:   t.missed,
		ExpectedHeartbeats: t.expected,
		ConsecutiveMisses:  t.consecutive,
		PacketLossRate:     t.lossRate(),
		Score:              t.score,
		HeartbeatInterval:  t.interval,
	}
	if t.count > 0 {
		last := (t.head - 1 + len(t.samples)) % len(t.samples)
		m.LastLatency = msToDuration(t.samples[last])
	}
	return m
}

// recompute refreshes the derived fields. Caller holds t.mu.
func (t *Tracker) recompute() {
	// Until the window fills, samples occupy [0, count).
	t.avg, t.jitter = meanStddev(t.samples[:t.count])
	t.score = score(t.cfg, t.k, t.avg, t.jitter, t.lossRate())
	t.interval = interval(t.cfg, t.score)
}

func (t *Tracker) lossRate() float64 {
	if t.expected == 0 {
		return 0
	}
	return float64(t.missed) / float64(t.expected)
}

// Score combines average latency and jitter (both in milliseconds) and a loss
// rate into a value in [0,1]. It is non-increasing in each input and in every
// individual latency sample.
//
// Jitter enters through the latency term as avg + k*jitter, where k is
// JitterWeight/LatencyWeight capped at 1/sqrt(WindowSize-1). Past that cap a
// single slower sample could lower the stddev by more than it raises the
// mean. With LatencyWeight 0, jitter is ignored.
func Score(cfg Config, avgMs, jitterMs, loss float64) float64 {
	c := cfg.normalized()
	return score(c, jitterCoefficient(c), avgMs, jitterMs, loss)
}

func score(c Config, k, avgMs, jitterMs, loss float64) float64 {
	ceiling := float64(c.LatencyCeiling) / float64(time.Millisecond)
	latencyTerm := clamp01((avgMs + k*jitterMs) / ceiling)
	lossTerm := clamp01(loss)

	total := c.LatencyWeight + c.LossWeight
	if total == 0 {
		return 1
	}
	penalty := (c.LatencyWeight*latencyTerm + c.LossWeight*lossTerm) / total
	return clamp01(1 - penalty)
}

func jitterCoefficient(c Config) float64 {
	if c.LatencyWeight == 0 || c.WindowSize <= 1 {
		return 0
	}
	k := c.JitterWeight / c.LatencyWeight
	return math.Min(k, 1/math.Sqrt(float64(c.WindowSize-1)))
}

// Interval maps a score onto the configured heartbeat bounds. A score of 0
// yields MinHeartbeatInterval and 1 yields MaxHeartbeatInterval.
func Interval(cfg Config, score float64) time.Duration {
	return interval(cfg.normalized(), score)
}

func interval(c Config, score float64) time.Duration {
	span := float64(c.MaxHeartbeatInterval - c.MinHeartbeatInterval)
	d := c.MinHeartbeatInterval + time.Duration(span*clamp01(score))
	if d < c.MinHeartbeatInterval {
		return c.MinHeartbeatInterval
	}
	if d > c.MaxHeartbeatInterval {
		return c.MaxHeartbeatInterval
	}
	return d
}

// meanStddev returns the mean and population standard deviation.
func meanStddev(xs []float64) (float64, float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	mean := sum / float64(len(xs))

	var sq float64
	for _, x := range xs {
		d := x - mean
		sq += d * d
	}
	return mean, math.Sqrt(sq / float64(len(xs)))
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func msToDuration(ms float64) time.Duration {
	return time.Duration(ms * float64(time.Millisecond))
}
