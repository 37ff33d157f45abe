// Package manual provides a hand-driven clock and system timer for
// deterministic simulations and tests.
package manual

import (
	"sort"
	"sync"
	"time"
)

// Clock is a platform.Clock that only moves when Advance or Set is called.
// Timers created from it fire synchronously inside Advance.
type Clock struct {
	mu     sync.Mutex
	now    time.Duration
	timers []*Timer
}

// NewClock returns a clock reading zero.
func NewClock() *Clock { return &Clock{} }

func (c *Clock) Now() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set moves the clock to an absolute reading without firing timers.
func (c *Clock) Set(now time.Duration) {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
}

// Advance moves the clock forward by d, firing every armed timer whose
// deadline has been reached, earliest first. Callbacks run on the caller's
// goroutine with no lock held.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now += d
	now := c.now
	var due []*Timer
	for _, t := range c.timers {
		if t.active && t.deadline <= now {
			due = append(due, t)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].deadline < due[j].deadline })
	var cbs []func()
	for _, t := range due {
		t.active = false
		t.fired++
		cbs = append(cbs, t.cb)
	}
	c.mu.Unlock()
	for _, cb := range cbs {
		cb()
	}
}

// NewTimer returns an unarmed timer bound to this clock.
func (c *Clock) NewTimer() *Timer {
	t := &Timer{clock: c}
	c.mu.Lock()
	c.timers = append(c.timers, t)
	c.mu.Unlock()
	return t
}

// Timer is a platform.SystemTimer driven by a Clock.
type Timer struct {
	clock    *Clock
	cb       func()
	deadline time.Duration
	delay    time.Duration
	active   bool
	sets     int
	cancels  int
	fired    int
}

func (t *Timer) Set(callback func(), delay time.Duration) bool {
	if callback == nil {
		return false
	}
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if delay < 0 {
		delay = 0
	}
	t.cb = callback
	t.delay = delay
	t.deadline = t.clock.now + delay
	t.active = true
	t.sets++
	return true
}

func (t *Timer) Cancel() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if !t.active {
		return false
	}
	t.active = false
	t.cancels++
	return true
}

func (t *Timer) IsActive() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	return t.active
}

// Stats reports how often the timer was armed, cancelled and fired.
type Stats struct {
	Sets      int
	Cancels   int
	Fired     int
	LastDelay time.Duration
	Deadline  time.Duration
	Active    bool
}

// Stats returns a snapshot of the timer's counters.
func (t *Timer) Stats() Stats {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	return Stats{
		Sets:      t.sets,
		Cancels:   t.cancels,
		Fired:     t.fired,
		LastDelay: t.delay,
		Deadline:  t.deadline,
		Active:    t.active,
	}
}
