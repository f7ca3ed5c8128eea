package quality

import (
	"math"
	"math/rand"
	"testing"
	"time"
)

func TestTrackerAverageAndJitter(t *testing.T) {
	tr := NewTracker(nil)
	for _, ms := range []int{10, 20, 30, 40} {
		tr.RecordLatency(time.Duration(ms) * time.Millisecond)
	}

	m := tr.Metrics()
	if m.Samples != 4 {
		t.Fatalf("Samples = %d, want 4", m.Samples)
	}
	if m.AverageLatency != 25*time.Millisecond {
		t.Fatalf("AverageLatency = %v, want 25ms", m.AverageLatency)
	}
	// Population stddev of 10,20,30,40 is sqrt(125).
	want := time.Duration(math.Sqrt(125) * float64(time.Millisecond))
	if diff := m.Jitter - want; diff > time.Microsecond || diff < -time.Microsecond {
		t.Fatalf("Jitter = %v, want %v", m.Jitter, want)
	}
	if m.LastLatency != 40*time.Millisecond {
		t.Fatalf("LastLatency = %v, want 40ms", m.LastLatency)
	}
}

func TestTrackerRingBufferOverwritesOldest(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WindowSize = 3
	tr := NewTracker(cfg)

	for _, ms := range []int{1000, 1000, 1000, 10, 10, 10} {
		tr.RecordLatency(time.Duration(ms) * time.Millisecond)
	}

	m := tr.Metrics()
	if m.Samples != 3 {
		t.Fatalf("Samples = %d, want 3", m.Samples)
	}
	if m.AverageLatency != 10*time.Millisecond {
		t.Fatalf("AverageLatency = %v, want 10ms once old samples are overwritten", m.AverageLatency)
	}
	if m.Jitter != 0 {
		t.Fatalf("Jitter = %v, want 0", m.Jitter)
	}
}

func TestTrackerLossRate(t *testing.T) {
	tr := NewTracker(nil)
	for i := 0; i < 4; i++ {
		tr.RecordExpectedHeartbeat()
	}
	if got := tr.RecordMissedHeartbeat(); got != 1 {
		t.Fatalf("RecordMissedHeartbeat() = %d, want 1", got)
	}
	if got := tr.RecordMissedHeartbeat(); got != 2 {
		t.Fatalf("RecordMissedHeartbeat() = %d, want 2", got)
	}

	m := tr.Metrics()
	if m.PacketLossRate != 0.5 {
		t.Fatalf("PacketLossRate = %v, want 0.5", m.PacketLossRate)
	}

	tr.RecordPong()
	if got := tr.Metrics().ConsecutiveMisses; got != 0 {
		t.Fatalf("ConsecutiveMisses after pong = %d, want 0", got)
	}
	if got := tr.RecordMissedHeartbeat(); got != 1 {
		t.Fatalf("RecordMissedHeartbeat() after pong = %d, want 1", got)
	}
}

func TestTrackerResetConsecutiveKeepsLossHistory(t *testing.T) {
	tr := NewTracker(nil)
	for i := 0; i < 3; i++ {
		tr.RecordExpectedHeartbeat()
		tr.RecordMissedHeartbeat()
	}
	before := tr.Metrics()

	tr.ResetConsecutive()
	after := tr.Metrics()
	if after.ConsecutiveMisses != 0 {
		t.Fatalf("ConsecutiveMisses = %d, want 0", after.ConsecutiveMisses)
	}
	if after.MissedHeartbeats != before.MissedHeartbeats || after.PacketLossRate != before.PacketLossRate {
		t.Fatalf("loss history = %d/%v, want %d/%v",
			after.MissedHeartbeats, after.PacketLossRate, before.MissedHeartbeats, before.PacketLossRate)
	}
	if got := tr.RecordMissedHeartbeat(); got != 1 {
		t.Fatalf("RecordMissedHeartbeat() after reset = %d, want 1", got)
	}
}

func TestTrackerMissedHeartbeatLowersScore(t *testing.T) {
	tr := NewTracker(nil)
	tr.RecordLatency(20 * time.Millisecond)
	tr.RecordExpectedHeartbeat()
	before := tr.Score()
	beforeInterval := tr.HeartbeatInterval()

	tr.RecordMissedHeartbeat()
	if after := tr.Score(); after >= before {
		t.Fatalf("Score() after miss = %v, want < %v", after, before)
	}
	if after := tr.HeartbeatInterval(); after >= beforeInterval {
		t.Fatalf("HeartbeatInterval() after miss = %v, want < %v", after, beforeInterval)
	}
}

func TestFreshTrackerIsHealthy(t *testing.T) {
	tr := NewTracker(nil)
	if got := tr.Score(); got != 1 {
		t.Fatalf("Score() = %v, want 1", got)
	}
	if got := tr.HeartbeatInterval(); got != DefaultConfig().MaxHeartbeatInterval {
		t.Fatalf("HeartbeatInterval() = %v, want max", got)
	}
}

func TestScoreMonotonicInSamples(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	configs := []*Config{
		DefaultConfig(),
		DefaultConfig().WithWeights(1, 10, 0),
		DefaultConfig().WithWeights(0.1, 0.9, 0.5),
		{WindowSize: 2, LatencyWeight: 1, JitterWeight: 5, LatencyCeiling: 500 * time.Millisecond},
	}

	for ci, cfg := range configs {
		for iter := 0; iter < 500; iter++ {
			n := 1 + rng.Intn(25)
			a := NewTracker(cfg)
			b := NewTracker(cfg)
			for i := 0; i < n; i++ {
				x := time.Duration(rng.Intn(1500)) * time.Millisecond
				var bump time.Duration
				if rng.Intn(3) == 0 {
					bump = time.Duration(rng.Intn(1500)) * time.Millisecond
				}
				a.RecordLatency(x)
				b.RecordLatency(x + bump)
			}
			if sa, sb := a.Score(), b.Score(); sb > sa+1e-12 {
				t.Fatalf("config %d: score(B) = %v > score(A) = %v with B >= A pointwise", ci, sb, sa)
			}
		}
	}
}

// The worst case for a naive stddev term: one low outlier raised to match
// the rest removes all jitter.
func TestScoreMonotonicOutlierCase(t *testing.T) {
	cfg := DefaultConfig()
	a := NewTracker(cfg)
	b := NewTracker(cfg)
	for i := 0; i < cfg.WindowSize; i++ {
		hi := 900 * time.Millisecond
		if i == 0 {
			a.RecordLatency(0)
		} else {
			a.RecordLatency(hi)
		}
		b.RecordLatency(hi)
	}
	if b.Score() > a.Score()+1e-12 {
		t.Fatalf("score(B) = %v > score(A) = %v", b.Score(), a.Score())
	}
}

func TestScoreMonotonicInInputs(t *testing.T) {
	cfg := *DefaultConfig()
	base := Score(cfg, 100, 20, 0.1)

	if s := Score(cfg, 200, 20, 0.1); s > base {
		t.Fatalf("higher latency raised score: %v > %v", s, base)
	}
	if s := Score(cfg, 100, 80, 0.1); s > base {
		t.Fatalf("higher jitter raised score: %v > %v", s, base)
	}
	if s := Score(cfg, 100, 20, 0.4); s > base {
		t.Fatalf("higher loss raised score: %v > %v", s, base)
	}
	if s := Score(cfg, 1e9, 1e9, 1); s != 0 {
		t.Fatalf("worst-case score = %v, want 0", s)
	}
}

func TestIntervalBounds(t *testing.T) {
	cfg := *DefaultConfig().WithHeartbeatBounds(2*time.Second, 20*time.Second)

	tests := []struct {
		score float64
		want  time.Duration
	}{
		{-1, 2 * time.Second},
		{0, 2 * time.Second},
		{0.5, 11 * time.Second},
		{1, 20 * time.Second},
		{3, 20 * time.Second},
	}
	for _, tt := range tests {
		if got := Interval(cfg, tt.score); got != tt.want {
			t.Errorf("Interval(%v) = %v, want %v", tt.score, got, tt.want)
		}
	}

	prev := time.Duration(0)
	for s := 0.0; s <= 1.0; s += 0.01 {
		got := Interval(cfg, s)
		if got < prev {
			t.Fatalf("Interval not monotone at score %v: %v < %v", s, got, prev)
		}
		prev = got
	}
}

func TestDefaultMaxIntervalBelowIdleTimeout(t *testing.T) {
	if max := DefaultConfig().MaxHeartbeatInterval; max >= 60*time.Second {
		t.Fatalf("default MaxHeartbeatInterval = %v, want below 60s", max)
	}
}

func TestConfigNormalization(t *testing.T) {
	cfg := &Config{
		MinHeartbeatInterval: 30 * time.Second,
		MaxHeartbeatInterval: 10 * time.Second,
	}
	tr := NewTracker(cfg)
	if got := tr.HeartbeatInterval(); got != 30*time.Second {
		t.Fatalf("HeartbeatInterval() = %v, want max clamped up to min", got)
	}
	if len(tr.samples) != DefaultConfig().WindowSize {
		t.Fatalf("window = %d, want default", len(tr.samples))
	}
}
