// Package pool tracks inbound sockets that have been upgraded but not yet
// bound to a logical session.
//
// Entries are keyed by a caller-chosen key (usually the remote host) and kept
// in least-recently-used order. The pool never grows past MaxSize: acquiring
// a new key on a full pool evicts the entry with the oldest LastUsedAt.
// Releasing an entry only marks it idle; idle entries leave the pool through
// eviction or CloseIdleOlderThan.
package pool

import (
	"container/list"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidKey is returned for an empty pool key.
var ErrInvalidKey = errors.New("pool: empty key")

// Entry is one pooled connection record.
type Entry struct {
	// Key is the pool key the entry was acquired under.
	Key string

	// SocketID identifies the first socket that created the entry.
	SocketID string

	// CreatedAt is when the entry was created.
	CreatedAt time.Time

	// LastUsedAt is the last Acquire or Release time.
	LastUsedAt time.Time

	// RequestCount is the number of Acquire calls that returned this entry.
	RequestCount uint64

	// Idle is true between Release and the next Acquire.
	Idle bool
}

// CapacityError reports that an entry was evicted to make room.
type CapacityError struct {
	MaxSize int
	Evicted Entry
}

// Error implements the error interface.
func (e *CapacityError) Error() string {
	return fmt.Sprintf("pool: at capacity (%d), evicted %q", e.MaxSize, e.Evicted.Key)
}

// Config configures a Pool.
type Config struct {
	// MaxSize is the maximum number of entries.
	// Default: 1024
	MaxSize int

	// IdleTimeout is the age after which idle entries are swept by owners
	// that call CloseIdleOlderThan periodically.
	// Default: 2m
	IdleTimeout time.Duration

	// OnEvict is called, outside the pool lock, for every LRU eviction.
	OnEvict func(*CapacityError)

	// Logger receives eviction and sweep logs. Default: slog.Default().
	Logger *slog.Logger
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		MaxSize:     1024,
		IdleTimeout: 2 * time.Minute,
	}
}

// Stats is a snapshot of pool counters.
type Stats struct {
	Size          int
	MaxSize       int
	Idle          int
	TotalAcquires uint64
	ReuseHits     uint64
	Evictions     uint64
	Expired       uint64

	// HitRate is ReuseHits / TotalAcquires.
	HitRate float64

	// Utilization is Size / MaxSize.
	Utilization float64
}

// Pool is a bounded LRU of connection entries. It is safe for concurrent use.
type Pool struct {
	mu sync.Mutex

	maxSize int
	onEvict func(*CapacityError)
	logger  *slog.Logger

	// LRU order, front = most recently used. Values are *Entry.
	lru   *list.List
	index map[string]*list.Element

	totalAcquires uint64
	reuseHits     uint64
	evictions     uint64
	expired       uint64

	now func() time.Time
}

// New creates a pool. A nil config uses DefaultConfig.
func New(cfg *Config) *Pool {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	maxSize := cfg.MaxSize
	if maxSize <= 0 {
		maxSize = DefaultConfig().MaxSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		maxSize: maxSize,
		onEvict: cfg.OnEvict,
		logger:  logger.With("component", "connection_pool"),
		lru:     list.New(),
		index:   make(map[string]*list.Element),
		now:     time.Now,
	}
}

// Acquire returns the entry for key, creating it if needed. reused is true
// when the entry already existed. The returned Entry is a copy.
func (p *Pool) Acquire(key string) (entry Entry, reused bool, err error) {
	if key == "" {
		return Entry{}, false, ErrInvalidKey
	}

	var evicted []*CapacityError

	p.mu.Lock()
	now := p.now()
	p.totalAcquires++

	if elem, ok := p.index[key]; ok {
		e := elem.Value.(*Entry)
		e.LastUsedAt = now
		e.RequestCount++
		e.Idle = false
		p.lru.MoveToFront(elem)
		p.reuseHits++
		entry = *e
		p.mu.Unlock()
		return entry, true, nil
	}

	for p.lru.Len() >= p.maxSize {
		evicted = append(evicted, p.evictOldestLocked())
	}

	e := &Entry{
		Key:          key,
		SocketID:     uuid.NewString(),
		CreatedAt:    now,
		LastUsedAt:   now,
		RequestCount: 1,
	}
	p.index[key] = p.lru.PushFront(e)
	entry = *e
	p.mu.Unlock()

	for _, ce := range evicted {
		p.logger.Warn("pool at capacity, evicted least recently used entry",
			"evicted_key", ce.Evicted.Key,
			"evicted_socket_id", ce.Evicted.SocketID,
			"max_size", ce.MaxSize)
		if p.onEvict != nil {
			p.onEvict(ce)
		}
	}
	return entry, false, nil
}

// evictOldestLocked removes the back of the LRU list. Caller holds p.mu and
// guarantees the list is not empty.
func (p *Pool) evictOldestLocked() *CapacityError {
	back := p.lru.Back()
	e := back.Value.(*Entry)
	p.lru.Remove(back)
	delete(p.index, e.Key)
	p.evictions++
	return &CapacityError{MaxSize: p.maxSize, Evicted: *e}
}

// Release marks the entry for key idle. It reports whether the key was
// present. The entry stays in the pool.
func (p *Pool) Release(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	elem, ok := p.index[key]
	if !ok {
		return false
	}
	e := elem.Value.(*Entry)
	e.Idle = true
	e.LastUsedAt = p.now()
	p.lru.MoveToFront(elem)
	return true
}

// Remove deletes the entry for key.
func (p *Pool) Remove(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	elem, ok := p.index[key]
	if !ok {
		return false
	}
	p.lru.Remove(elem)
	delete(p.index, key)
	return true
}

// Get returns a copy of the entry for key.
func (p *Pool) Get(key string) (Entry, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	elem, ok := p.index[key]
	if !ok {
		return Entry{}, false
	}
	return *elem.Value.(*Entry), true
}

// CloseIdleOlderThan removes idle entries whose LastUsedAt is more than d in
// the past and returns how many were removed.
func (p *Pool) CloseIdleOlderThan(d time.Duration) int {
	p.mu.Lock()
	cutoff := p.now().Add(-d)
	removed := 0

	// Walk from the back; entries get newer toward the front.
	for elem := p.lru.Back(); elem != nil; {
		prev := elem.Prev()
		e := elem.Value.(*Entry)
		if e.Idle && e.LastUsedAt.Before(cutoff) {
			p.lru.Remove(elem)
			delete(p.index, e.Key)
			removed++
		}
		elem = prev
	}
	p.expired += uint64(removed)
	remaining := p.lru.Len()
	p.mu.Unlock()

	if removed > 0 {
		p.logger.Debug("closed idle pool entries",
			"removed", removed,
			"remaining", remaining)
	}
	return removed
}

// Len returns the number of entries.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lru.Len()
}

// Stats returns pool statistics.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	idle := 0
	for elem := p.lru.Front(); elem != nil; elem = elem.Next() {
		if elem.Value.(*Entry).Idle {
			idle++
		}
	}

	s := Stats{
		Size:          p.lru.Len(),
		MaxSize:       p.maxSize,
		Idle:          idle,
		TotalAcquires: p.totalAcquires,
		ReuseHits:     p.reuseHits,
		Evictions:     p.evictions,
		Expired:       p.expired,
		Utilization:   float64(p.lru.Len()) / float64(p.maxSize),
	}
	if p.totalAcquires > 0 {
		s.HitRate = float64(p.reuseHits) / float64(p.totalAcquires)
	}
	return s
}
