package locks

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestAcquireFailFast(t *testing.T) {
	s := NewLockSet()
	g, err := s.Acquire("k1", 0)
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	if _, err := s.Acquire("k1", 0); !errors.Is(err, ErrHeld) {
		t.Fatalf("second acquire: %v, want ErrHeld", err)
	}
	// Different key is independent.
	g2, err := s.Acquire("k2", 0)
	if err != nil {
		t.Fatalf("other key: %v", err)
	}
	g2.Release()

	g.Release()
	g3, err := s.Acquire("k1", 0)
	if err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	g3.Release()
}

func TestAcquireWait(t *testing.T) {
	s := NewLockSet()
	g, _ := s.Acquire("k", 0)

	done := make(chan error, 1)
	go func() {
		g2, err := s.Acquire("k", 2*time.Second)
		if g2 != nil {
			g2.Release()
		}
		done <- err
	}()
	time.Sleep(50 * time.Millisecond)
	g.Release()
	if err := <-done; err != nil {
		t.Fatalf("waiting acquire: %v", err)
	}
}

func TestAcquireWaitTimeout(t *testing.T) {
	s := NewLockSet()
	g, _ := s.Acquire("k", 0)
	defer g.Release()
	if _, err := s.Acquire("k", 30*time.Millisecond); err == nil {
		t.Fatal("expected timeout")
	}
}

func TestGuardReleaseIdempotent(t *testing.T) {
	s := NewLockSet()
	g, _ := s.Acquire("k", 0)
	g.Release()
	g.Release() // must not panic or over-drain
	g2, err := s.Acquire("k", 0)
	if err != nil {
		t.Fatalf("reacquire: %v", err)
	}
	g2.Release()
}

func TestFlightCollapses(t *testing.T) {
	var f Flight
	var runs int32
	var wg sync.WaitGroup
	gate := make(chan struct{})

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := f.Do("key", func() (any, error) {
				atomic.AddInt32(&runs, 1)
				<-gate
				return "value", nil
			})
			if err != nil || v != "value" {
				t.Errorf("Do = (%v, %v)", v, err)
			}
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(gate)
	wg.Wait()
	if n := atomic.LoadInt32(&runs); n != 1 {
		t.Errorf("fn ran %d times, want 1", n)
	}
}

func TestEventDedup(t *testing.T) {
	d := NewEventDedup()
	if d.Seen("e1") {
		t.Error("first sighting reported as seen")
	}
	if !d.Seen("e1") {
		t.Error("replay not detected")
	}
	if d.Seen("") {
		t.Error("empty ids never dedup")
	}
}

func TestEventDedupEviction(t *testing.T) {
	d := NewEventDedup()
	d.Seen("old")
	for i := 0; i < seenEventsSize+10; i++ {
		d.Seen(fmt.Sprintf("filler-%d", i))
	}
	if d.Seen("old") {
		t.Error("entry beyond the window should have been evicted")
	}
}
