// Package timerpool multiplexes nanoapp timers onto a single system timer.
//
// Armed timers live in a bounded min-heap keyed by absolute expiration time.
// The system timer is always armed for the head of the heap. When it fires,
// its callback (which may run on any goroutine) defers a tick onto the event
// loop, and expiry is processed there: due timers post EventTimer to their
// owner, periodic timers are re-inserted, and the system timer is re-armed
// for whatever is now at the head.
package timerpool

import (
	"container/heap"
	"time"

	"github.com/rs/zerolog"

	"chred/internal/eventloop"
	"chred/internal/platform"
	"chred/pkg/types"
)

// Defaults applied when corresponding Config fields are unset.
const (
	defaultMaxTimerRequests = 64
	// tickRetryDelay re-arms the system timer when a tick could not be handed
	// to a full event queue.
	tickRetryDelay = time.Millisecond
)

// EventLoop is the part of the event loop the pool depends on.
type EventLoop interface {
	PostEvent(eventType types.EventType, data any, free eventloop.FreeFunc, sender, target uint32) error
	DeferCallback(cbType eventloop.CallbackType, fn func()) error
	Fatal(format string, args ...any)
}

// Config encapsulates the tunables for TimerPool construction.
type Config struct {
	MaxTimerRequests int
	Clock            platform.Clock
	SystemTimer      platform.SystemTimer
	Logger           zerolog.Logger
}

// TimerPool owns every armed nanoapp timer. All methods except the system
// timer callback must be called on the loop goroutine.
type TimerPool struct {
	loop     EventLoop
	clock    platform.Clock
	sys      platform.SystemTimer
	log      zerolog.Logger
	capacity int

	requests timerHeap

	lastTimerHandle types.TimerHandle
	// Set permanently once handle generation wraps around TimerInvalid.
	mustCheckUniqueness bool
}

// New constructs a TimerPool, applying defaults for unset Config fields.
func New(loop EventLoop, cfg Config) *TimerPool {
	if cfg.MaxTimerRequests <= 0 {
		cfg.MaxTimerRequests = defaultMaxTimerRequests
	}
	if cfg.Clock == nil {
		cfg.Clock = platform.NewMonotonicClock()
	}
	if cfg.SystemTimer == nil {
		cfg.SystemTimer = platform.NewTimer()
	}
	return &TimerPool{
		loop:            loop,
		clock:           cfg.Clock,
		sys:             cfg.SystemTimer,
		log:             cfg.Logger.With().Str("component", "timerpool").Logger(),
		capacity:        cfg.MaxTimerRequests,
		requests:        make(timerHeap, 0, cfg.MaxTimerRequests),
		lastTimerHandle: types.TimerInvalid,
	}
}

// SetTimer arms a timer for the given nanoapp. It returns types.TimerInvalid
// when the pool is full or a periodic timer has a non-positive duration.
func (p *TimerPool) SetTimer(instanceID uint32, duration time.Duration, cookie any, isOneShot bool) types.TimerHandle {
	if !isOneShot && duration <= 0 {
		p.log.Warn().Uint32("instance", instanceID).Dur("duration", duration).Msg("rejecting periodic timer without a positive duration")
		setFailuresTotal.WithLabelValues("invalid_duration").Inc()
		return types.TimerInvalid
	}

	req := timerRequest{
		nanoappInstanceID: instanceID,
		handle:            p.generateTimerHandle(),
		expirationTime:    p.clock.Now() + duration,
		duration:          duration,
		isOneShot:         isOneShot,
		cookie:            cookie,
	}

	newTimerExpiresEarliest := len(p.requests) > 0 && p.requests[0].expirationTime > req.expirationTime
	if !p.insertTimerRequest(req) {
		setFailuresTotal.WithLabelValues("capacity").Inc()
		return types.TimerInvalid
	}

	p.log.Debug().Uint32("instance", instanceID).Uint32("handle", uint32(req.handle)).
		Dur("duration", duration).Bool("one_shot", isOneShot).Msg("timer set")
	timersSetTotal.WithLabelValues(kindLabel(isOneShot)).Inc()

	if newTimerExpiresEarliest {
		if p.sys.IsActive() {
			p.sys.Cancel()
		}
		p.sys.Set(p.onSystemTimerCallback, duration)
	} else if len(p.requests) == 1 {
		// First outstanding timer: process it now, which either fires it
		// immediately or arms the system timer.
		p.handleExpiredTimersAndScheduleNext()
	}
	return req.handle
}

// CancelTimer disarms a timer owned by the given nanoapp. It fails, leaving
// the pool untouched, when the handle is unknown or owned by another nanoapp.
func (p *TimerPool) CancelTimer(instanceID uint32, handle types.TimerHandle) bool {
	index := p.indexOf(handle)
	if index < 0 {
		p.log.Warn().Uint32("handle", uint32(handle)).Msg("failed to cancel timer: not found")
		cancelFailuresTotal.WithLabelValues("not_found").Inc()
		return false
	}
	if p.requests[index].nanoappInstanceID != instanceID {
		p.log.Warn().Uint32("handle", uint32(handle)).Uint32("instance", instanceID).
			Uint32("owner", p.requests[index].nanoappInstanceID).Msg("failed to cancel timer: permission denied")
		cancelFailuresTotal.WithLabelValues("permission_denied").Inc()
		return false
	}

	heap.Remove(&p.requests, index)
	if index == 0 {
		if p.sys.IsActive() {
			p.sys.Cancel()
		}
		p.handleExpiredTimersAndScheduleNext()
	}
	armedTimers.Set(float64(len(p.requests)))
	timersCancelledTotal.Inc()
	p.log.Debug().Uint32("instance", instanceID).Uint32("handle", uint32(handle)).Msg("timer cancelled")
	return true
}

// CancelAllNanoappTimers disarms every timer owned by instanceID and returns
// how many were removed.
func (p *TimerPool) CancelAllNanoappTimers(instanceID uint32) int {
	if len(p.requests) == 0 {
		return 0
	}
	headRemoved := p.requests[0].nanoappInstanceID == instanceID
	kept := p.requests[:0]
	removed := 0
	for _, req := range p.requests {
		if req.nanoappInstanceID == instanceID {
			removed++
			continue
		}
		kept = append(kept, req)
	}
	for i := len(kept); i < len(p.requests); i++ {
		p.requests[i] = timerRequest{}
	}
	p.requests = kept
	heap.Init(&p.requests)
	if headRemoved {
		if p.sys.IsActive() {
			p.sys.Cancel()
		}
		if len(p.requests) > 0 {
			p.handleExpiredTimersAndScheduleNext()
		}
	}
	armedTimers.Set(float64(len(p.requests)))
	timersCancelledTotal.Add(float64(removed))
	return removed
}

// Status summarizes the pool for the operator surface.
func (p *TimerPool) Status() types.TimerPoolStatus {
	st := types.TimerPoolStatus{Armed: len(p.requests), Capacity: p.capacity}
	if len(p.requests) > 0 {
		next := int64(p.requests[0].expirationTime - p.clock.Now())
		st.NextExpiryNs = &next
	}
	return st
}

// TimerInfo is a read-only view of one armed timer.
type TimerInfo struct {
	InstanceID     uint32
	Handle         types.TimerHandle
	ExpirationTime time.Duration
	Duration       time.Duration
	OneShot        bool
}

// Timers lists armed timers in heap order; index 0 fires next.
func (p *TimerPool) Timers() []TimerInfo {
	out := make([]TimerInfo, 0, len(p.requests))
	for _, r := range p.requests {
		out = append(out, TimerInfo{
			InstanceID:     r.nanoappInstanceID,
			Handle:         r.handle,
			ExpirationTime: r.expirationTime,
			Duration:       r.duration,
			OneShot:        r.isOneShot,
		})
	}
	return out
}

func (p *TimerPool) indexOf(handle types.TimerHandle) int {
	for i := range p.requests {
		if p.requests[i].handle == handle {
			return i
		}
	}
	return -1
}

func (p *TimerPool) generateTimerHandle() types.TimerHandle {
	var handle types.TimerHandle
	if p.mustCheckUniqueness {
		handle = p.generateUniqueTimerHandle()
	} else {
		handle = p.lastTimerHandle + 1
		if handle == types.TimerInvalid {
			// Handles may now collide with long-lived timers; check every
			// allocation from here on.
			p.mustCheckUniqueness = true
			handle = p.generateUniqueTimerHandle()
		}
	}
	p.lastTimerHandle = handle
	return handle
}

func (p *TimerPool) generateUniqueTimerHandle() types.TimerHandle {
	handle := p.lastTimerHandle
	for {
		handle++
		if handle != types.TimerInvalid && p.indexOf(handle) < 0 {
			return handle
		}
	}
}

func (p *TimerPool) insertTimerRequest(req timerRequest) bool {
	if len(p.requests) >= p.capacity {
		p.log.Error().Int("capacity", p.capacity).Msg("failed to insert a timer request: pool full")
		return false
	}
	heap.Push(&p.requests, req)
	armedTimers.Set(float64(len(p.requests)))
	return true
}

// onSystemTimerCallback runs on whatever goroutine the system timer uses.
func (p *TimerPool) onSystemTimerCallback() {
	err := p.loop.DeferCallback(eventloop.CallbackTimerTick, p.handleSystemTimerTick)
	if err == nil {
		return
	}
	if eventloop.IsQueueFull(err) {
		p.log.Warn().Msg("event queue full, retrying timer tick")
		p.sys.Set(p.onSystemTimerCallback, tickRetryDelay)
		return
	}
	p.log.Error().Err(err).Msg("dropping timer tick")
}

func (p *TimerPool) handleSystemTimerTick() {
	if !p.handleExpiredTimersAndScheduleNext() {
		// A tick can race with a cancellation that emptied the pool.
		p.log.Warn().Msg("timer callback invoked with no outstanding timers")
	}
}

// handleExpiredTimersAndScheduleNext fires every due timer and arms the
// system timer for the next one. It returns false only when called with an
// empty pool. An early system timer tick is harmless: the head is not yet
// due, so the timer is simply re-armed for the remaining time.
func (p *TimerPool) handleExpiredTimersAndScheduleNext() bool {
	success := false
	for len(p.requests) > 0 {
		now := p.clock.Now()
		// Copy: the heap slot is reused by the pop and push below.
		head := p.requests[0]
		if now < head.expirationTime {
			p.sys.Set(p.onSystemTimerCallback, head.expirationTime-now)
			success = true
			break
		}

		err := p.loop.PostEvent(types.EventTimer, head.cookie, nil, types.SystemInstanceID, head.nanoappInstanceID)
		switch {
		case err == nil:
			timersFiredTotal.Inc()
		case eventloop.IsLoopStopped(err):
			// Shutting down; nobody is left to receive it.
			p.log.Debug().Uint32("handle", uint32(head.handle)).Msg("dropping timer event after loop stop")
		default:
			p.loop.Fatal("failed to post timer event for instance %d: %v", head.nanoappInstanceID, err)
		}
		success = true

		heap.Pop(&p.requests)
		if !head.isOneShot {
			head.expirationTime = now + head.duration
			if !p.insertTimerRequest(head) {
				p.loop.Fatal("failed to re-insert periodic timer %d", head.handle)
			}
		}
	}
	armedTimers.Set(float64(len(p.requests)))
	return success
}
