// Package platform holds the hardware-facing primitives the runtime core is
// built on: a monotonic clock and a single one-shot system timer.
package platform

import (
	"sync"
	"time"
)

// Clock reports monotonic time elapsed since the clock was created.
type Clock interface {
	Now() time.Duration
}

// MonotonicClock is a Clock backed by the Go runtime's monotonic reading.
type MonotonicClock struct {
	start time.Time
}

// NewMonotonicClock returns a clock whose zero is the moment of the call.
func NewMonotonicClock() *MonotonicClock {
	return &MonotonicClock{start: time.Now()}
}

func (c *MonotonicClock) Now() time.Duration { return time.Since(c.start) }

// SystemTimer is a single re-armable one-shot timer. The callback may be
// invoked on any goroutine. Set replaces any pending arm.
type SystemTimer interface {
	Set(callback func(), delay time.Duration) bool
	Cancel() bool
	IsActive() bool
}

// Timer implements SystemTimer with time.AfterFunc.
type Timer struct {
	mu     sync.Mutex
	t      *time.Timer
	gen    uint64
	active bool
}

// NewTimer returns an unarmed timer.
func NewTimer() *Timer { return &Timer{} }

func (t *Timer) Set(callback func(), delay time.Duration) bool {
	if callback == nil {
		return false
	}
	if delay < 0 {
		delay = 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.t != nil {
		t.t.Stop()
	}
	t.gen++
	gen := t.gen
	t.active = true
	t.t = time.AfterFunc(delay, func() {
		t.mu.Lock()
		if gen != t.gen {
			// superseded by a later Set or Cancel
			t.mu.Unlock()
			return
		}
		t.active = false
		t.mu.Unlock()
		callback()
	})
	return true
}

func (t *Timer) Cancel() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.t == nil || !t.active {
		return false
	}
	t.t.Stop()
	t.gen++
	t.active = false
	return true
}

func (t *Timer) IsActive() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}
