package pool

import (
	"fmt"
	"math/rand"
	"testing"
	"time"
)

// fakeClock advances one millisecond per call so LastUsedAt is strictly
// ordered by operation.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time {
	c.t = c.t.Add(time.Millisecond)
	return c.t
}

func newTestPool(t *testing.T, maxSize int) (*Pool, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	p := New(&Config{MaxSize: maxSize})
	p.now = clock.now
	return p, clock
}

func TestAcquireCreatesAndReuses(t *testing.T) {
	p, _ := newTestPool(t, 4)

	first, reused, err := p.Acquire("10.0.0.1")
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if reused {
		t.Fatalf("first Acquire() reused = true")
	}
	if first.SocketID == "" || first.RequestCount != 1 {
		t.Fatalf("first entry = %+v", first)
	}

	second, reused, err := p.Acquire("10.0.0.1")
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if !reused {
		t.Fatalf("second Acquire() reused = false")
	}
	if second.SocketID != first.SocketID {
		t.Fatalf("SocketID changed on reuse: %q -> %q", first.SocketID, second.SocketID)
	}
	if second.RequestCount != 2 {
		t.Fatalf("RequestCount = %d, want 2", second.RequestCount)
	}
	if !second.LastUsedAt.After(first.LastUsedAt) {
		t.Fatalf("LastUsedAt not advanced")
	}

	s := p.Stats()
	if s.HitRate != 0.5 {
		t.Fatalf("HitRate = %v, want 0.5", s.HitRate)
	}
	if s.Utilization != 0.25 {
		t.Fatalf("Utilization = %v, want 0.25", s.Utilization)
	}
}

func TestAcquireEmptyKey(t *testing.T) {
	p, _ := newTestPool(t, 1)
	if _, _, err := p.Acquire(""); err != ErrInvalidKey {
		t.Fatalf("Acquire(\"\") error = %v, want ErrInvalidKey", err)
	}
}

func TestEvictsLeastRecentlyUsed(t *testing.T) {
	var evicted []string
	clock := &fakeClock{t: time.Unix(0, 0)}
	p := New(&Config{
		MaxSize: 3,
		OnEvict: func(ce *CapacityError) { evicted = append(evicted, ce.Evicted.Key) },
	})
	p.now = clock.now

	for _, k := range []string{"a", "b", "c"} {
		p.Acquire(k)
	}
	// Touch a so b becomes the oldest.
	p.Acquire("a")
	p.Acquire("d")

	if len(evicted) != 1 || evicted[0] != "b" {
		t.Fatalf("evicted = %v, want [b]", evicted)
	}
	if _, ok := p.Get("b"); ok {
		t.Fatalf("b still present after eviction")
	}
	if p.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", p.Len())
	}

	// Release also counts as use.
	p.Release("c")
	p.Acquire("e")
	if evicted[len(evicted)-1] != "a" {
		t.Fatalf("evicted = %v, want a evicted second", evicted)
	}
	if got := p.Stats().Evictions; got != 2 {
		t.Fatalf("Evictions = %d, want 2", got)
	}
}

func TestPoolBoundProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	for _, maxSize := range []int{1, 2, 7, 32} {
		p, _ := newTestPool(t, maxSize)
		var victims []*CapacityError
		p.onEvict = func(ce *CapacityError) { victims = append(victims, ce) }

		for i := 0; i < 2000; i++ {
			key := fmt.Sprintf("k%d", rng.Intn(maxSize*3))

			// Snapshot the oldest entry before a potential eviction.
			var oldest Entry
			haveOldest := false
			if _, exists := p.Get(key); !exists && p.Len() == maxSize {
				for elem := p.lru.Front(); elem != nil; elem = elem.Next() {
					e := elem.Value.(*Entry)
					if !haveOldest || e.LastUsedAt.Before(oldest.LastUsedAt) {
						oldest = *e
						haveOldest = true
					}
				}
			}
			before := len(victims)

			if rng.Intn(4) == 0 {
				p.Release(key)
			} else if _, _, err := p.Acquire(key); err != nil {
				t.Fatalf("Acquire() error = %v", err)
			}

			if p.Len() > maxSize {
				t.Fatalf("Len() = %d exceeds MaxSize %d", p.Len(), maxSize)
			}
			if len(victims) > before {
				if !haveOldest {
					t.Fatalf("unexpected eviction")
				}
				if got := victims[len(victims)-1].Evicted.Key; got != oldest.Key {
					t.Fatalf("evicted %q, want oldest %q", got, oldest.Key)
				}
			}
		}
	}
}

func TestReleaseKeepsEntry(t *testing.T) {
	p, _ := newTestPool(t, 2)
	p.Acquire("x")

	if !p.Release("x") {
		t.Fatalf("Release() = false, want true")
	}
	e, ok := p.Get("x")
	if !ok || !e.Idle {
		t.Fatalf("Get() = %+v, %v; want idle entry", e, ok)
	}
	if p.Release("missing") {
		t.Fatalf("Release(missing) = true")
	}

	e, _, _ = p.Acquire("x")
	if e.Idle {
		t.Fatalf("entry still idle after Acquire")
	}
}

func TestCloseIdleOlderThan(t *testing.T) {
	p, clock := newTestPool(t, 10)
	p.Acquire("old-idle")
	p.Release("old-idle")
	p.Acquire("old-busy")

	clock.t = clock.t.Add(time.Minute)

	p.Acquire("new-idle")
	p.Release("new-idle")

	if n := p.CloseIdleOlderThan(30 * time.Second); n != 1 {
		t.Fatalf("CloseIdleOlderThan() = %d, want 1", n)
	}
	if _, ok := p.Get("old-idle"); ok {
		t.Fatalf("old-idle not removed")
	}
	if _, ok := p.Get("old-busy"); !ok {
		t.Fatalf("busy entry removed")
	}
	if _, ok := p.Get("new-idle"); !ok {
		t.Fatalf("recent idle entry removed")
	}
	if got := p.Stats().Expired; got != 1 {
		t.Fatalf("Expired = %d, want 1", got)
	}
}

func TestRemove(t *testing.T) {
	p, _ := newTestPool(t, 2)
	p.Acquire("a")
	if !p.Remove("a") || p.Remove("a") {
		t.Fatalf("Remove() should succeed once")
	}
	if p.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", p.Len())
	}
}
