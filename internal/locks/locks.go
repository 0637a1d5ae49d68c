// Package locks provides the process-wide concurrency primitives: named
// single-flight locks, a singleflight group for collapsing duplicate reads,
// and a bounded LRU of recently seen upstream event ids.
package locks

import (
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

// ErrHeld is returned when a named lock is already held and the caller asked
// not to wait.
var ErrHeld = fmt.Errorf("lock already held")

// Guard releases a named lock.
type Guard struct {
	release func()
	once    sync.Once
}

// Release frees the lock. Safe to call more than once.
func (g *Guard) Release() { g.once.Do(g.release) }

// LockSet hands out named single-flight locks (account-action, migration, ...).
type LockSet struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
}

// NewLockSet returns an empty lock set.
func NewLockSet() *LockSet {
	return &LockSet{locks: make(map[string]chan struct{})}
}

// Acquire takes the named lock. With wait <= 0 it fails fast with ErrHeld
// when the key is busy; otherwise it blocks up to wait.
func (s *LockSet) Acquire(key string, wait time.Duration) (*Guard, error) {
	ch := s.channel(key)

	if wait <= 0 {
		select {
		case ch <- struct{}{}:
		default:
			return nil, fmt.Errorf("%w: %s", ErrHeld, key)
		}
	} else {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case ch <- struct{}{}:
		case <-timer.C:
			return nil, fmt.Errorf("acquire %s: timeout after %s", key, wait)
		}
	}

	return &Guard{release: func() { <-ch }}, nil
}

func (s *LockSet) channel(key string) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.locks[key]
	if !ok {
		ch = make(chan struct{}, 1)
		s.locks[key] = ch
	}
	return ch
}

// Flight collapses concurrent identical reads (domain cache rebuilds and the
// like) into a single execution.
type Flight struct {
	g singleflight.Group
}

// Do runs fn once per key among concurrent callers, sharing the result.
func (f *Flight) Do(key string, fn func() (any, error)) (any, error) {
	v, err, _ := f.g.Do(key, fn)
	return v, err
}

// seenEventsSize bounds the replay-dedup window. Old entries fall out; replay
// beyond the window is absorbed by idempotent store writes.
const seenEventsSize = 4096

// EventDedup is the bounded LRU of recently observed upstream event ids.
type EventDedup struct {
	cache *lru.Cache[string, struct{}]
}

// NewEventDedup returns a dedup window of the default size.
func NewEventDedup() *EventDedup {
	c, _ := lru.New[string, struct{}](seenEventsSize)
	return &EventDedup{cache: c}
}

// Seen records the event id and reports whether it was already present.
func (d *EventDedup) Seen(eventID string) bool {
	if eventID == "" {
		return false
	}
	if _, ok := d.cache.Get(eventID); ok {
		return true
	}
	d.cache.Add(eventID, struct{}{})
	return false
}
