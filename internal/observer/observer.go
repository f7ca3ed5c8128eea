// Package observer provides typed subscriber lists used for lifecycle
// events in place of string-keyed event emitters.
package observer

import "sync"

type subscriber[T any] struct {
	id uint64
	fn func(T)
}

// List is a set of handlers for one event kind. The zero value is ready to
// use. Handlers run synchronously, in subscription order, on the goroutine
// that calls Emit, and never under the list's lock.
type List[T any] struct {
	mu     sync.Mutex
	nextID uint64
	subs   []subscriber[T]
}

// Add registers fn and returns a function that removes it. Calling the
// returned function more than once is harmless.
func (l *List[T]) Add(fn func(T)) (remove func()) {
	if fn == nil {
		return func() {}
	}
	l.mu.Lock()
	l.nextID++
	id := l.nextID
	l.subs = append(l.subs, subscriber[T]{id: id, fn: fn})
	l.mu.Unlock()

	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		for i, s := range l.subs {
			if s.id == id {
				l.subs = append(l.subs[:i:i], l.subs[i+1:]...)
				return
			}
		}
	}
}

// Emit calls every handler with v.
func (l *List[T]) Emit(v T) {
	l.mu.Lock()
	subs := l.subs
	l.mu.Unlock()

	for _, s := range subs {
		s.fn(v)
	}
}

// Len returns the number of registered handlers.
func (l *List[T]) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.subs)
}
