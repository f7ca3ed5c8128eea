// Package keepalive drives server-side ping/pong probing per connection.
//
// Each tracked connection owns one cancellable timer. On every tick the
// manager checks whether the previous ping was answered, records the
// outcome in the connection's quality.Tracker, sends a new transport-level
// ping, and reschedules itself at the tracker's current heartbeat interval.
// A degrading link is therefore probed more often. After MaxMissedPongs
// consecutive unanswered pings the target is declared unresponsive.
package keepalive

import (
	"encoding/binary"
	"log/slog"
	"sync"
	"time"

	"github.com/vango-dev/wsession/pkg/quality"
)

// Target is one probed connection.
type Target interface {
	// ID identifies the connection in logs and in HandlePong.
	ID() string

	// Ping sends a transport-level ping carrying payload.
	Ping(payload []byte) error

	// Quality returns the tracker that receives probe results.
	Quality() *quality.Tracker

	// Unresponsive is called once, from the timer goroutine, when
	// MaxMissedPongs consecutive pings went unanswered. The target is
	// already untracked when it runs.
	Unresponsive()
}

// Config configures a Manager.
type Config struct {
	// MaxMissedPongs is the number of consecutive unanswered pings after
	// which a target is declared unresponsive.
	// Default: 3
	MaxMissedPongs int

	// Logger for probe events. Default: slog.Default().
	Logger *slog.Logger
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{MaxMissedPongs: 3}
}

// PayloadSize is the length of a ping payload: the send time in Unix
// nanoseconds, big-endian.
const PayloadSize = 8

type timer interface {
	Stop() bool
}

type entry struct {
	target Target

	mu       sync.Mutex
	timer    timer
	awaiting bool
	token    uint64
	sentAt   time.Time
	stopped  bool
}

// Manager schedules pings for all tracked targets.
type Manager struct {
	maxMissed int
	logger    *slog.Logger

	mu      sync.Mutex
	entries map[string]*entry
	stopped bool

	now       func() time.Time
	afterFunc func(d time.Duration, f func()) timer
}

// New creates a Manager. A nil config uses DefaultConfig.
func New(cfg *Config) *Manager {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	maxMissed := cfg.MaxMissedPongs
	if maxMissed <= 0 {
		maxMissed = DefaultConfig().MaxMissedPongs
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		maxMissed: maxMissed,
		logger:    logger.With("component", "keepalive"),
		entries:   make(map[string]*entry),
		now:       time.Now,
		afterFunc: func(d time.Duration, f func()) timer {
			return time.AfterFunc(d, f)
		},
	}
}

// Track starts probing t. A target already tracked under the same ID is
// replaced and its timer cancelled. The first ping fires after the
// tracker's current heartbeat interval.
func (m *Manager) Track(t Target) {
	e := &entry{target: t}

	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	old := m.entries[t.ID()]
	m.entries[t.ID()] = e

	e.mu.Lock()
	e.timer = m.afterFunc(t.Quality().HeartbeatInterval(), func() { m.tick(e) })
	e.mu.Unlock()
	m.mu.Unlock()

	if old != nil {
		old.cancel()
	}
}

// Untrack stops probing t. It only removes the entry if t is the target
// currently tracked under its ID, so a late call for a replaced target is
// harmless. After Untrack returns no tick for t will send a ping.
func (m *Manager) Untrack(t Target) bool {
	m.mu.Lock()
	e, ok := m.entries[t.ID()]
	if !ok || e.target != t {
		m.mu.Unlock()
		return false
	}
	delete(m.entries, t.ID())
	m.mu.Unlock()

	e.cancel()
	return true
}

func (e *entry) cancel() {
	e.mu.Lock()
	e.stopped = true
	if e.timer != nil {
		e.timer.Stop()
	}
	e.mu.Unlock()
}

// HandlePong records a pong for the target tracked under id. Pongs that do
// not answer the outstanding ping are ignored. It reports whether the pong
// was accepted.
func (m *Manager) HandlePong(id string, payload []byte) bool {
	if len(payload) != PayloadSize {
		return false
	}
	token := binary.BigEndian.Uint64(payload)

	m.mu.Lock()
	e := m.entries[id]
	m.mu.Unlock()
	if e == nil {
		return false
	}

	e.mu.Lock()
	if e.stopped || !e.awaiting || token != e.token {
		e.mu.Unlock()
		return false
	}
	e.awaiting = false
	rtt := m.now().Sub(e.sentAt)
	e.mu.Unlock()

	tr := e.target.Quality()
	tr.RecordLatency(rtt)
	tr.RecordPong()
	return true
}

// tick runs on the entry's timer.
func (m *Manager) tick(e *entry) {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}

	id := e.target.ID()
	tr := e.target.Quality()

	if e.awaiting {
		missed := tr.RecordMissedHeartbeat()
		m.logger.Debug("pong missed",
			"session_id", id,
			"consecutive", missed,
			"score", tr.Score())

		if missed >= m.maxMissed {
			e.stopped = true
			e.mu.Unlock()

			m.mu.Lock()
			if m.entries[id] == e {
				delete(m.entries, id)
			}
			m.mu.Unlock()

			m.logger.Info("connection unresponsive",
				"session_id", id,
				"missed_pongs", missed)
			e.target.Unresponsive()
			return
		}
	}

	tr.RecordExpectedHeartbeat()
	now := m.now()
	e.token = uint64(now.UnixNano())
	e.sentAt = now
	e.awaiting = true

	payload := make([]byte, PayloadSize)
	binary.BigEndian.PutUint64(payload, e.token)

	next := tr.HeartbeatInterval()
	e.timer = m.afterFunc(next, func() { m.tick(e) })
	e.mu.Unlock()

	if err := e.target.Ping(payload); err != nil {
		// The read loop observes the broken socket; the next tick counts
		// this ping as missed.
		m.logger.Debug("ping failed", "session_id", id, "error", err)
	}
}

// Len returns the number of tracked targets.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Stop cancels every timer. Track is a no-op afterwards.
func (m *Manager) Stop() {
	m.mu.Lock()
	entries := m.entries
	m.entries = make(map[string]*entry)
	m.stopped = true
	m.mu.Unlock()

	for _, e := range entries {
		e.cancel()
	}
}
