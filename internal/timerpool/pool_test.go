package timerpool

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chred/internal/eventloop"
	"chred/internal/platform/manual"
	"chred/pkg/types"
)

type posted struct {
	eventType types.EventType
	data      any
	target    uint32
}

// fakeLoop runs deferred callbacks only when told to.
type fakeLoop struct {
	posted    []posted
	callbacks []func()
	postErr   error
	fatals    []string
}

func (l *fakeLoop) PostEvent(et types.EventType, data any, _ eventloop.FreeFunc, _, target uint32) error {
	if l.postErr != nil {
		return l.postErr
	}
	l.posted = append(l.posted, posted{et, data, target})
	return nil
}

func (l *fakeLoop) DeferCallback(_ eventloop.CallbackType, fn func()) error {
	l.callbacks = append(l.callbacks, fn)
	return nil
}

func (l *fakeLoop) Fatal(format string, args ...any) {
	l.fatals = append(l.fatals, fmt.Sprintf(format, args...))
}

func (l *fakeLoop) run() {
	for len(l.callbacks) > 0 {
		cb := l.callbacks[0]
		l.callbacks = l.callbacks[1:]
		cb()
	}
}

func newPool(t *testing.T, capacity int) (*TimerPool, *fakeLoop, *manual.Clock, *manual.Timer) {
	t.Helper()
	loop := &fakeLoop{}
	clock := manual.NewClock()
	timer := clock.NewTimer()
	p := New(loop, Config{MaxTimerRequests: capacity, Clock: clock, SystemTimer: timer})
	return p, loop, clock, timer
}

func TestNewAppliesDefaults(t *testing.T) {
	p := New(&fakeLoop{}, Config{})
	assert.Equal(t, defaultMaxTimerRequests, p.Status().Capacity)
	assert.Nil(t, p.Status().NextExpiryNs)
}

func TestHandlesAreSequentialFromZero(t *testing.T) {
	p, _, _, _ := newPool(t, 0)
	for i := 0; i < 5; i++ {
		assert.Equal(t, types.TimerHandle(i), p.SetTimer(1, time.Second, nil, true))
	}
}

func TestHandleWraparoundChecksUniqueness(t *testing.T) {
	p, _, _, _ := newPool(t, 0)
	long := p.SetTimer(1, time.Hour, nil, true)
	require.Equal(t, types.TimerHandle(0), long)

	p.lastTimerHandle = types.TimerInvalid - 2
	assert.Equal(t, types.TimerInvalid-1, p.SetTimer(1, time.Second, nil, true))
	assert.False(t, p.mustCheckUniqueness)

	// Wraps: skips TimerInvalid and the still-armed handle 0.
	assert.Equal(t, types.TimerHandle(1), p.SetTimer(1, time.Second, nil, true))
	assert.True(t, p.mustCheckUniqueness)
	assert.Equal(t, types.TimerHandle(2), p.SetTimer(1, time.Second, nil, true))

	// Freed handles become available again once generation passes them.
	require.True(t, p.CancelTimer(1, long))
	p.lastTimerHandle = types.TimerInvalid - 1
	assert.Equal(t, types.TimerHandle(0), p.SetTimer(1, time.Second, nil, true))
	assert.True(t, p.mustCheckUniqueness, "uniqueness checks stay on")
}

func TestCapacity(t *testing.T) {
	p, _, _, _ := newPool(t, 2)
	before := testutil.ToFloat64(setFailuresTotal.WithLabelValues("capacity"))
	assert.NotEqual(t, types.TimerInvalid, p.SetTimer(1, time.Second, nil, true))
	assert.NotEqual(t, types.TimerInvalid, p.SetTimer(1, time.Second, nil, true))
	assert.Equal(t, types.TimerInvalid, p.SetTimer(1, time.Second, nil, true))
	assert.Equal(t, before+1, testutil.ToFloat64(setFailuresTotal.WithLabelValues("capacity")))
	assert.Equal(t, 2, p.Status().Armed)
}

func TestPeriodicTimerNeedsPositiveDuration(t *testing.T) {
	p, _, _, _ := newPool(t, 0)
	assert.Equal(t, types.TimerInvalid, p.SetTimer(1, 0, nil, false))
	assert.Equal(t, types.TimerInvalid, p.SetTimer(1, -time.Second, nil, false))
	assert.Equal(t, 0, p.Status().Armed)
}

func TestZeroDurationOneShotFiresImmediately(t *testing.T) {
	p, loop, _, timer := newPool(t, 0)
	h := p.SetTimer(3, 0, "now", true)
	require.NotEqual(t, types.TimerInvalid, h)
	require.Len(t, loop.posted, 1)
	assert.Equal(t, posted{types.EventTimer, "now", 3}, loop.posted[0])
	assert.Equal(t, 0, p.Status().Armed)
	assert.False(t, timer.IsActive())
}

func TestOneShotExpiry(t *testing.T) {
	p, loop, clock, timer := newPool(t, 0)
	p.SetTimer(1, 10*time.Millisecond, "cookie", true)
	assert.True(t, timer.IsActive())
	assert.Equal(t, 10*time.Millisecond, timer.Stats().LastDelay)

	clock.Advance(9 * time.Millisecond)
	assert.Empty(t, loop.callbacks)

	clock.Advance(time.Millisecond)
	require.Len(t, loop.callbacks, 1, "expiry is handed to the loop")
	assert.Empty(t, loop.posted)

	loop.run()
	require.Len(t, loop.posted, 1)
	assert.Equal(t, posted{types.EventTimer, "cookie", 1}, loop.posted[0])
	assert.Equal(t, 0, p.Status().Armed)
	assert.False(t, timer.IsActive())
}

func TestPeriodicTimerRearms(t *testing.T) {
	p, loop, clock, timer := newPool(t, 0)
	h := p.SetTimer(1, 10*time.Millisecond, nil, false)

	for i := 0; i < 5; i++ {
		clock.Advance(10 * time.Millisecond)
		loop.run()
	}
	assert.Len(t, loop.posted, 5)
	assert.True(t, timer.IsActive())
	assert.Equal(t, 60*time.Millisecond, timer.Stats().Deadline)

	require.True(t, p.CancelTimer(1, h))
	assert.False(t, timer.IsActive())
}

func TestLateTickFiresEveryDueTimer(t *testing.T) {
	p, loop, clock, _ := newPool(t, 0)
	p.SetTimer(1, 30*time.Millisecond, "c", true)
	p.SetTimer(1, 10*time.Millisecond, "a", true)
	p.SetTimer(1, 20*time.Millisecond, "b", true)

	clock.Advance(25 * time.Millisecond)
	loop.run()
	require.Len(t, loop.posted, 2)
	assert.Equal(t, "a", loop.posted[0].data)
	assert.Equal(t, "b", loop.posted[1].data)
	assert.Equal(t, 1, p.Status().Armed)
}

func TestEarlierTimerReplacesSystemTimer(t *testing.T) {
	p, _, _, timer := newPool(t, 0)
	p.SetTimer(1, time.Second, nil, true)
	p.SetTimer(1, 100*time.Millisecond, nil, true)
	st := timer.Stats()
	assert.Equal(t, 100*time.Millisecond, st.LastDelay)
	assert.Equal(t, 1, st.Cancels)

	// A later timer leaves the system timer alone.
	p.SetTimer(1, 500*time.Millisecond, nil, true)
	assert.Equal(t, st.Sets, timer.Stats().Sets)
}

func TestEarlyTickRearmsForRemainder(t *testing.T) {
	p, loop, clock, timer := newPool(t, 0)
	p.SetTimer(1, 10*time.Millisecond, nil, true)
	clock.Set(4 * time.Millisecond)

	p.handleSystemTimerTick()
	assert.Empty(t, loop.posted)
	assert.Equal(t, 6*time.Millisecond, timer.Stats().LastDelay)
}

func TestTickWithEmptyPool(t *testing.T) {
	p, loop, _, _ := newPool(t, 0)
	assert.NotPanics(t, p.handleSystemTimerTick)
	assert.False(t, p.handleExpiredTimersAndScheduleNext())
	assert.Empty(t, loop.fatals)
}

func TestCancelTimer(t *testing.T) {
	p, _, _, timer := newPool(t, 0)
	head := p.SetTimer(1, 10*time.Millisecond, nil, true)
	tail := p.SetTimer(2, 50*time.Millisecond, nil, true)

	assert.False(t, p.CancelTimer(2, head), "owned by another nanoapp")
	assert.False(t, p.CancelTimer(1, 12345), "unknown handle")
	assert.Equal(t, 2, p.Status().Armed)

	sets := timer.Stats().Sets
	require.True(t, p.CancelTimer(1, head))
	st := timer.Stats()
	assert.Equal(t, sets+1, st.Sets, "re-armed for the new head")
	assert.Equal(t, 50*time.Millisecond, st.Deadline)

	require.True(t, p.CancelTimer(2, tail))
	assert.False(t, timer.IsActive())
	assert.Equal(t, 0, p.Status().Armed)
}

func TestCancelNonHeadLeavesSystemTimerAlone(t *testing.T) {
	p, _, _, timer := newPool(t, 0)
	p.SetTimer(1, 10*time.Millisecond, "a", true)
	middle := p.SetTimer(1, 20*time.Millisecond, "b", true)
	p.SetTimer(1, 30*time.Millisecond, "c", true)
	before := timer.Stats()

	require.True(t, p.CancelTimer(1, middle))
	after := timer.Stats()
	assert.Equal(t, before.Sets, after.Sets)
	assert.Equal(t, before.Cancels, after.Cancels)
	assert.Equal(t, 10*time.Millisecond, after.Deadline)

	timers := p.Timers()
	require.Len(t, timers, 2)
	assert.Equal(t, 10*time.Millisecond, timers[0].ExpirationTime)
	assert.Equal(t, 30*time.Millisecond, timers[1].ExpirationTime)
}

func TestHeadIsEarliestAcrossRandomOperations(t *testing.T) {
	p, loop, clock, timer := newPool(t, 16)
	rng := rand.New(rand.NewSource(7))

	for step := 0; step < 500; step++ {
		armed := p.Timers()
		switch op := rng.Intn(10); {
		case op < 5 || len(armed) == 0:
			d := time.Duration(1+rng.Intn(200)) * time.Millisecond
			p.SetTimer(uint32(1+rng.Intn(3)), d, step, rng.Intn(2) == 0)
		case op < 8:
			victim := armed[rng.Intn(len(armed))]
			require.True(t, p.CancelTimer(victim.InstanceID, victim.Handle))
		default:
			clock.Advance(time.Duration(rng.Intn(50)) * time.Millisecond)
			loop.run()
		}

		armed = p.Timers()
		if len(armed) == 0 {
			assert.False(t, timer.IsActive(), "step %d: idle pool keeps the system timer armed", step)
			continue
		}
		for _, ti := range armed[1:] {
			require.LessOrEqual(t, armed[0].ExpirationTime, ti.ExpirationTime, "step %d: head is not the earliest timer", step)
		}
		require.True(t, timer.IsActive(), "step %d", step)
		require.Equal(t, armed[0].ExpirationTime, timer.Stats().Deadline, "step %d: system timer not aimed at the head", step)
	}
	assert.Empty(t, loop.fatals)
}

func TestCancelAllNanoappTimers(t *testing.T) {
	p, _, _, timer := newPool(t, 0)
	p.SetTimer(1, 10*time.Millisecond, nil, true)
	p.SetTimer(1, 20*time.Millisecond, nil, false)
	keep := p.SetTimer(2, 30*time.Millisecond, nil, true)
	p.SetTimer(1, 40*time.Millisecond, nil, true)

	assert.Equal(t, 3, p.CancelAllNanoappTimers(1))
	timers := p.Timers()
	require.Len(t, timers, 1)
	assert.Equal(t, keep, timers[0].Handle)
	assert.Equal(t, 30*time.Millisecond, timer.Stats().Deadline)

	assert.Equal(t, 0, p.CancelAllNanoappTimers(1))
	assert.Equal(t, 1, p.CancelAllNanoappTimers(2))
	assert.False(t, timer.IsActive())
}

func TestStatus(t *testing.T) {
	p, _, clock, _ := newPool(t, 8)
	p.SetTimer(1, 100*time.Millisecond, nil, true)
	clock.Set(30 * time.Millisecond)
	st := p.Status()
	assert.Equal(t, 1, st.Armed)
	assert.Equal(t, 8, st.Capacity)
	require.NotNil(t, st.NextExpiryNs)
	assert.Equal(t, int64(70*time.Millisecond), *st.NextExpiryNs)
}

func TestPostFailureIsFatal(t *testing.T) {
	p, loop, clock, _ := newPool(t, 0)
	p.SetTimer(1, 10*time.Millisecond, nil, true)
	loop.postErr = errors.New("queue full")
	clock.Advance(10 * time.Millisecond)
	loop.run()
	require.Len(t, loop.fatals, 1)
	assert.Contains(t, loop.fatals[0], "failed to post timer event")
}

func TestStoppedLoopIsNotFatal(t *testing.T) {
	var fatals []*eventloop.FatalError
	loop := eventloop.New(eventloop.Config{FatalHandler: func(e *eventloop.FatalError) { fatals = append(fatals, e) }})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, loop.Run(ctx))

	clock := manual.NewClock()
	p := New(loop, Config{Clock: clock, SystemTimer: clock.NewTimer()})
	p.SetTimer(1, 0, nil, true)
	assert.Empty(t, fatals)
	assert.Equal(t, 0, p.Status().Armed)
}

func TestTickRetriedWhenQueueFull(t *testing.T) {
	loop := eventloop.New(eventloop.Config{MaxEvents: 1})
	clock := manual.NewClock()
	timer := clock.NewTimer()
	p := New(loop, Config{Clock: clock, SystemTimer: timer})

	p.SetTimer(1, 10*time.Millisecond, nil, true)
	require.NoError(t, loop.DeferCallback(eventloop.CallbackDebugDump, func() {}))
	clock.Advance(10 * time.Millisecond)

	st := timer.Stats()
	assert.True(t, st.Active, "re-armed after the queue refused the tick")
	assert.Equal(t, tickRetryDelay, st.LastDelay)

	loop.Drain()
	clock.Advance(tickRetryDelay)
	loop.Drain()
	assert.Equal(t, 0, p.Status().Armed)
	assert.False(t, timer.IsActive())
}
