package keepalive

import (
	"encoding/binary"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/vango-dev/wsession/pkg/quality"
)

type fakeTimer struct {
	d       time.Duration
	f       func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	was := !t.stopped
	t.stopped = true
	return was
}

// scheduler records timers instead of running them.
type scheduler struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (s *scheduler) afterFunc(d time.Duration, f func()) timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &fakeTimer{d: d, f: f}
	s.timers = append(s.timers, t)
	return t
}

func (s *scheduler) last() *fakeTimer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timers[len(s.timers)-1]
}

func (s *scheduler) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

type fakeTarget struct {
	id      string
	tracker *quality.Tracker

	mu           sync.Mutex
	pings        [][]byte
	pingErr      error
	unresponsive int
}

func newTarget(id string) *fakeTarget {
	return &fakeTarget{id: id, tracker: quality.NewTracker(nil)}
}

func (t *fakeTarget) ID() string                { return t.id }
func (t *fakeTarget) Quality() *quality.Tracker { return t.tracker }

func (t *fakeTarget) Ping(p []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pings = append(t.pings, p)
	return t.pingErr
}

func (t *fakeTarget) Unresponsive() {
	t.mu.Lock()
	t.unresponsive++
	t.mu.Unlock()
}

func (t *fakeTarget) lastPing() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pings[len(t.pings)-1]
}

func (t *fakeTarget) pingCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pings)
}

func newTestManager(max int) (*Manager, *scheduler, *time.Time) {
	m := New(&Config{MaxMissedPongs: max})
	s := &scheduler{}
	now := time.Unix(1700000000, 0)
	m.afterFunc = s.afterFunc
	m.now = func() time.Time { return now }
	return m, s, &now
}

func TestTrackSchedulesAtTrackerInterval(t *testing.T) {
	m, s, _ := newTestManager(3)
	tgt := newTarget("s1")
	m.Track(tgt)

	if s.count() != 1 {
		t.Fatalf("timers = %d, want 1", s.count())
	}
	if got, want := s.last().d, tgt.tracker.HeartbeatInterval(); got != want {
		t.Fatalf("first delay = %v, want %v", got, want)
	}
	if m.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", m.Len())
	}
}

func TestPingPongRecordsLatency(t *testing.T) {
	m, s, now := newTestManager(3)
	tgt := newTarget("s1")
	m.Track(tgt)

	s.last().f()
	if tgt.pingCount() != 1 {
		t.Fatalf("pings = %d, want 1", tgt.pingCount())
	}
	payload := tgt.lastPing()
	if len(payload) != PayloadSize {
		t.Fatalf("payload len = %d, want %d", len(payload), PayloadSize)
	}

	*now = now.Add(80 * time.Millisecond)
	if !m.HandlePong("s1", payload) {
		t.Fatalf("HandlePong() = false, want true")
	}
	if m.HandlePong("s1", payload) {
		t.Fatalf("duplicate HandlePong() = true, want false")
	}

	metrics := tgt.tracker.Metrics()
	if metrics.LastLatency != 80*time.Millisecond {
		t.Fatalf("LastLatency = %v, want 80ms", metrics.LastLatency)
	}
	if metrics.ExpectedHeartbeats != 1 || metrics.MissedHeartbeats != 0 {
		t.Fatalf("heartbeats = %d/%d, want 1 expected 0 missed", metrics.ExpectedHeartbeats, metrics.MissedHeartbeats)
	}

	// The next tick must not count a miss.
	s.last().f()
	if got := tgt.tracker.Metrics().MissedHeartbeats; got != 0 {
		t.Fatalf("MissedHeartbeats = %d, want 0", got)
	}
}

func TestStalePongIgnored(t *testing.T) {
	m, s, _ := newTestManager(3)
	tgt := newTarget("s1")
	m.Track(tgt)
	s.last().f()

	stale := make([]byte, PayloadSize)
	binary.BigEndian.PutUint64(stale, 12345)
	if m.HandlePong("s1", stale) {
		t.Fatalf("HandlePong(stale) = true")
	}
	if m.HandlePong("s1", []byte{1}) {
		t.Fatalf("HandlePong(short) = true")
	}
	if m.HandlePong("unknown", tgt.lastPing()) {
		t.Fatalf("HandlePong(unknown id) = true")
	}
}

func TestConsecutiveMissesDeclareUnresponsive(t *testing.T) {
	m, s, _ := newTestManager(3)
	tgt := newTarget("s1")
	m.Track(tgt)

	var delays []time.Duration
	for i := 0; i < 4; i++ {
		timer := s.last()
		delays = append(delays, timer.d)
		timer.f()
	}

	if tgt.unresponsive != 1 {
		t.Fatalf("Unresponsive() calls = %d, want 1", tgt.unresponsive)
	}
	if tgt.pingCount() != 3 {
		t.Fatalf("pings = %d, want 3", tgt.pingCount())
	}
	if m.Len() != 0 {
		t.Fatalf("Len() = %d, want 0 after unresponsive", m.Len())
	}
	if got := tgt.tracker.Metrics().MissedHeartbeats; got != 3 {
		t.Fatalf("MissedHeartbeats = %d, want 3", got)
	}
	for i := 2; i < len(delays); i++ {
		if delays[i] >= delays[i-1] {
			t.Fatalf("interval did not shrink as pongs were missed: %v", delays)
		}
	}

	// No timer was scheduled by the final tick.
	before := s.count()
	s.last().f()
	if s.count() != before {
		t.Fatalf("timer rescheduled after unresponsive")
	}
}

func TestUntrackCancelsTimer(t *testing.T) {
	m, s, _ := newTestManager(3)
	tgt := newTarget("s1")
	m.Track(tgt)
	timer := s.last()

	if !m.Untrack(tgt) {
		t.Fatalf("Untrack() = false")
	}
	if !timer.stopped {
		t.Fatalf("timer not stopped")
	}

	// A callback that was already in flight must do nothing.
	timer.f()
	if tgt.pingCount() != 0 {
		t.Fatalf("ping sent after Untrack")
	}
	if m.Untrack(tgt) {
		t.Fatalf("second Untrack() = true")
	}
}

func TestTrackReplacesTargetWithSameID(t *testing.T) {
	m, s, _ := newTestManager(3)
	old := newTarget("s1")
	m.Track(old)
	oldTimer := s.last()

	fresh := newTarget("s1")
	m.Track(fresh)
	if !oldTimer.stopped {
		t.Fatalf("old timer not cancelled on replace")
	}
	if m.Untrack(old) {
		t.Fatalf("Untrack(old) removed the replacement")
	}
	if m.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", m.Len())
	}
}

func TestPingErrorCountsAsMiss(t *testing.T) {
	m, s, _ := newTestManager(3)
	tgt := newTarget("s1")
	tgt.pingErr = errors.New("broken pipe")
	m.Track(tgt)

	s.last().f()
	s.last().f()
	if got := tgt.tracker.Metrics().MissedHeartbeats; got != 1 {
		t.Fatalf("MissedHeartbeats = %d, want 1", got)
	}
}

func TestStop(t *testing.T) {
	m, s, _ := newTestManager(3)
	m.Track(newTarget("a"))
	m.Track(newTarget("b"))
	m.Stop()

	for _, timer := range s.timers {
		if !timer.stopped {
			t.Fatalf("timer not stopped")
		}
	}
	m.Track(newTarget("c"))
	if m.Len() != 0 {
		t.Fatalf("Track after Stop added an entry")
	}
}
