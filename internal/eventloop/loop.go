package eventloop

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"chred/internal/platform"
	"chred/pkg/types"
)

// EventLoop queues events and deferred callbacks and runs them one at a time
// on a single goroutine.
type EventLoop struct {
	q         *queue
	clock     platform.Clock
	log       zerolog.Logger
	publisher EventPublisher
	fatal     FatalHandler

	// Loop goroutine only.
	nanoapps       []*Nanoapp
	nextInstanceID uint32

	running atomic.Bool
	stopped atomic.Bool
}

// New constructs an EventLoop from Config, applying defaults for unset fields.
func New(cfg Config) *EventLoop {
	if cfg.MaxEvents <= 0 {
		cfg.MaxEvents = defaultMaxEvents
	}
	if cfg.Clock == nil {
		cfg.Clock = platform.NewMonotonicClock()
	}
	if cfg.Publisher == nil {
		cfg.Publisher = noopPublisher{}
	}
	if cfg.FatalHandler == nil {
		cfg.FatalHandler = panicOnFatal
	}
	return &EventLoop{
		q:              newQueue(cfg.MaxEvents),
		clock:          cfg.Clock,
		log:            cfg.Logger.With().Str("component", "eventloop").Logger(),
		publisher:      cfg.Publisher,
		fatal:          cfg.FatalHandler,
		nextInstanceID: types.SystemInstanceID + 1,
	}
}

// Clock returns the loop's time source.
func (l *EventLoop) Clock() platform.Clock { return l.clock }

// PostEvent queues an event for one nanoapp, or for every registered nanoapp
// when target is types.BroadcastInstanceID. Ownership of data moves to the
// loop; free (if non-nil) runs exactly once after delivery. On error the
// caller keeps ownership and free is not called. Safe from any goroutine.
func (l *EventLoop) PostEvent(eventType types.EventType, data any, free FreeFunc, sender, target uint32) error {
	err := l.q.push(entry{
		kind:      entryEvent,
		eventType: eventType,
		data:      data,
		free:      free,
		sender:    sender,
		target:    target,
	})
	if err != nil {
		eventsRejectedTotal.WithLabelValues(rejectReason(err)).Inc()
		l.log.Warn().Err(err).Stringer("event", eventType).Uint32("target", target).Msg("failed to post event")
		return err
	}
	eventsPostedTotal.WithLabelValues(eventType.String()).Inc()
	return nil
}

// DeferCallback queues fn to run later on the loop goroutine. It is the way
// other goroutines hand work to the loop. Once accepted, fn will run unless
// the loop stops first.
func (l *EventLoop) DeferCallback(cbType CallbackType, fn func()) error {
	err := l.q.push(entry{kind: entryCallback, cbType: cbType, cb: fn})
	if err != nil {
		eventsRejectedTotal.WithLabelValues(rejectReason(err)).Inc()
		l.log.Warn().Err(err).Stringer("callback", cbType).Msg("failed to defer callback")
		return err
	}
	callbacksDeferredTotal.WithLabelValues(cbType.String()).Inc()
	return nil
}

// Run drains the loop until ctx is done. Only one goroutine may run the loop.
// On return every nanoapp has been ended and queued entries discarded.
func (l *EventLoop) Run(ctx context.Context) error {
	if !l.running.CompareAndSwap(false, true) {
		return alreadyRunningError{}
	}
	defer l.running.Store(false)
	l.log.Info().Int("capacity", len(l.q.buf)).Msg("event loop started")
	for {
		for ctx.Err() == nil && l.runOnce() {
		}
		select {
		case <-ctx.Done():
			l.shutdown()
			return nil
		case <-l.q.wake:
		}
	}
}

// Drain runs queued entries on the calling goroutine until the queue is
// empty, including entries queued while draining. It returns the number of
// entries run. It must not be used while Run is active.
func (l *EventLoop) Drain() int {
	n := 0
	for l.runOnce() {
		n++
	}
	return n
}

// Running reports whether Run is active.
func (l *EventLoop) Running() bool { return l.running.Load() }

// Stopped reports whether the loop has shut down.
func (l *EventLoop) Stopped() bool { return l.stopped.Load() }

// QueueDepth returns the number of queued entries. Safe from any goroutine.
func (l *EventLoop) QueueDepth() int { return l.q.len() }

// QueueCapacity returns the queue bound.
func (l *EventLoop) QueueCapacity() int { return len(l.q.buf) }

func (l *EventLoop) runOnce() bool {
	e, ok := l.q.pop()
	if !ok {
		return false
	}
	start := time.Now()
	switch e.kind {
	case entryEvent:
		l.distributeEvent(e)
		dispatchDuration.WithLabelValues("event").Observe(time.Since(start).Seconds())
	case entryCallback:
		l.safeExecute(e.cbType.String(), e.cb)
		dispatchDuration.WithLabelValues("callback").Observe(time.Since(start).Seconds())
	default:
		l.log.Error().Uint8("kind", uint8(e.kind)).Msg("dropping queue entry of unknown kind")
	}
	return true
}

func (l *EventLoop) distributeEvent(e entry) {
	if e.target == types.BroadcastInstanceID {
		// Handlers cannot add nanoapps synchronously, but iterate a snapshot anyway.
		apps := append([]*Nanoapp(nil), l.nanoapps...)
		for _, n := range apps {
			if n.IsRegisteredForBroadcastEvent(e.eventType) {
				l.deliver(n, e, true)
			}
		}
	} else if n := l.FindNanoappByInstanceID(e.target); n != nil {
		l.deliver(n, e, false)
	} else {
		l.log.Warn().Stringer("event", e.eventType).Uint32("target", e.target).Msg("dropping event for unknown nanoapp")
	}
	if e.free != nil {
		l.safeExecute("free", func() { e.free(e.eventType, e.data) })
	}
}

func (l *EventLoop) deliver(n *Nanoapp, e entry, broadcast bool) {
	n.delivered++
	deliveriesTotal.Inc()
	l.publisher.Publish(Trace{
		Time:      l.clock.Now(),
		EventType: e.eventType,
		Sender:    e.sender,
		Recipient: n.instanceID,
		Broadcast: broadcast,
	})
	l.safeExecute(n.info.Name, func() { n.handler.HandleEvent(e.sender, e.eventType, e.data) })
}

// safeExecute runs fn, logging and swallowing ordinary panics so one faulty
// nanoapp does not take the loop down. FatalErrors keep propagating.
func (l *EventLoop) safeExecute(what string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			if fe, ok := r.(*FatalError); ok {
				panic(fe)
			}
			l.log.Error().Str("in", what).Interface("panic", r).Msg("recovered panic on event loop")
		}
	}()
	fn()
}

// StartNanoapp registers a nanoapp, builds its handler and calls Start.
// The handler factory receives the registered Nanoapp so it can capture its
// instance ID. A nanoapp whose Start returns false is unregistered again.
// Loop goroutine only.
func (l *EventLoop) StartNanoapp(info NanoappInfo, newHandler func(*Nanoapp) Handler) (*Nanoapp, bool) {
	n := &Nanoapp{
		info:       info,
		instanceID: l.nextInstanceID,
		broadcast:  make(map[types.EventType]struct{}),
	}
	l.nextInstanceID++
	n.handler = newHandler(n)
	l.nanoapps = append(l.nanoapps, n)

	started := false
	l.safeExecute(info.Name, func() { started = n.handler.Start() })
	if !started {
		l.removeNanoapp(n.instanceID)
		l.log.Warn().Str("nanoapp", info.Name).Uint32("instance", n.instanceID).Msg("nanoapp failed to start")
		return nil, false
	}
	l.log.Info().Str("nanoapp", info.Name).Uint64("app_id", info.AppID).Uint32("instance", n.instanceID).Msg("nanoapp started")
	_ = l.PostEvent(types.EventNanoappStarted, &types.NanoappStartedEvent{AppID: info.AppID, InstanceID: n.instanceID},
		nil, types.SystemInstanceID, types.BroadcastInstanceID)
	return n, true
}

// FindNanoappByInstanceID returns nil when no such nanoapp is loaded.
// Loop goroutine only.
func (l *EventLoop) FindNanoappByInstanceID(instanceID uint32) *Nanoapp {
	for _, n := range l.nanoapps {
		if n.instanceID == instanceID {
			return n
		}
	}
	return nil
}

// FindNanoappByAppID returns nil when no such nanoapp is loaded.
// Loop goroutine only.
func (l *EventLoop) FindNanoappByAppID(appID uint64) *Nanoapp {
	for _, n := range l.nanoapps {
		if n.info.AppID == appID {
			return n
		}
	}
	return nil
}

// Nanoapps returns the loaded nanoapps in instance ID order. Loop goroutine only.
func (l *EventLoop) Nanoapps() []*Nanoapp {
	return append([]*Nanoapp(nil), l.nanoapps...)
}

func (l *EventLoop) removeNanoapp(instanceID uint32) {
	for i, n := range l.nanoapps {
		if n.instanceID == instanceID {
			l.nanoapps = append(l.nanoapps[:i], l.nanoapps[i+1:]...)
			return
		}
	}
}

// shutdown stops accepting entries, discards what is queued (events still
// have their free funcs run) and ends every nanoapp.
func (l *EventLoop) shutdown() {
	l.stopped.Store(true)
	pending := l.q.stop()
	queueDepth.Set(0)
	for _, e := range pending {
		if e.kind == entryEvent && e.free != nil {
			l.safeExecute("free", func() { e.free(e.eventType, e.data) })
		}
	}
	if len(pending) > 0 {
		l.log.Info().Int("discarded", len(pending)).Msg("discarded queued entries on shutdown")
	}
	for _, n := range l.nanoapps {
		l.safeExecute(n.info.Name, n.handler.End)
	}
	l.nanoapps = nil
	l.log.Info().Msg("event loop stopped")
}
