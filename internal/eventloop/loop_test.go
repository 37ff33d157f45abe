package eventloop

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chred/internal/platform/manual"
	"chred/pkg/types"
)

const userEvent types.EventType = types.EventFirstUserValue

type delivery struct {
	sender    uint32
	eventType types.EventType
	data      any
}

type fakeHandler struct {
	start  bool
	onEvt  func(d delivery)
	got    []delivery
	ended  int
	starts int
}

func (h *fakeHandler) Start() bool { h.starts++; return h.start }

func (h *fakeHandler) HandleEvent(sender uint32, t types.EventType, data any) {
	d := delivery{sender, t, data}
	h.got = append(h.got, d)
	if h.onEvt != nil {
		h.onEvt(d)
	}
}

func (h *fakeHandler) End() { h.ended++ }

func startApp(t *testing.T, l *EventLoop, name string) (*Nanoapp, *fakeHandler) {
	t.Helper()
	h := &fakeHandler{start: true}
	n, ok := l.StartNanoapp(NanoappInfo{Name: name}, func(*Nanoapp) Handler { return h })
	require.True(t, ok)
	l.Drain()
	return n, h
}

func TestNewAppliesDefaults(t *testing.T) {
	l := New(Config{})
	assert.Equal(t, defaultMaxEvents, l.QueueCapacity())
	assert.NotNil(t, l.Clock())
	assert.Equal(t, 0, l.QueueDepth())
	assert.False(t, l.Running())
	assert.False(t, l.Stopped())
}

func TestTargetedDelivery(t *testing.T) {
	l := New(Config{})
	a, ha := startApp(t, l, "a")
	_, hb := startApp(t, l, "b")

	require.NoError(t, l.PostEvent(userEvent, "x", nil, 7, a.InstanceID()))
	assert.Equal(t, 1, l.QueueDepth())
	assert.Equal(t, 1, l.Drain())

	require.Len(t, ha.got, 1)
	assert.Equal(t, delivery{7, userEvent, "x"}, ha.got[0])
	assert.Empty(t, hb.got)
	assert.Equal(t, uint64(1), a.EventsDelivered())
}

func TestEventsAndCallbacksShareOneFIFO(t *testing.T) {
	l := New(Config{})
	a, h := startApp(t, l, "a")

	var order []string
	h.onEvt = func(d delivery) { order = append(order, d.data.(string)) }
	require.NoError(t, l.PostEvent(userEvent, "e1", nil, 0, a.InstanceID()))
	require.NoError(t, l.DeferCallback(CallbackDebugDump, func() { order = append(order, "cb1") }))
	require.NoError(t, l.PostEvent(userEvent, "e2", nil, 0, a.InstanceID()))
	require.NoError(t, l.DeferCallback(CallbackDebugDump, func() {
		order = append(order, "cb2")
		// Entries queued while draining run in the same drain.
		_ = l.PostEvent(userEvent, "e3", nil, 0, a.InstanceID())
	}))

	assert.Equal(t, 5, l.Drain())
	assert.Equal(t, []string{"e1", "cb1", "e2", "cb2", "e3"}, order)
}

func TestBroadcastDeliversToRegisteredOnly(t *testing.T) {
	pub := NewMemoryPublisher()
	l := New(Config{Publisher: pub})
	a, ha := startApp(t, l, "a")
	b, hb := startApp(t, l, "b")
	_, hc := startApp(t, l, "c")
	require.True(t, a.RegisterForBroadcastEvent(userEvent))
	require.True(t, b.RegisterForBroadcastEvent(userEvent))
	require.True(t, b.RegisterForBroadcastEvent(userEvent), "registering twice is fine")

	frees := 0
	require.NoError(t, l.PostEvent(userEvent, 1, func(et types.EventType, data any) {
		frees++
		assert.Equal(t, userEvent, et)
		assert.Equal(t, 1, data)
	}, types.SystemInstanceID, types.BroadcastInstanceID))
	l.Drain()

	assert.Len(t, ha.got, 1)
	assert.Len(t, hb.got, 1)
	assert.Empty(t, hc.got)
	assert.Equal(t, 1, frees)

	traces := pub.Traces()
	require.Len(t, traces, 2)
	assert.Equal(t, a.InstanceID(), traces[0].Recipient)
	assert.Equal(t, b.InstanceID(), traces[1].Recipient)
	assert.True(t, traces[0].Broadcast)
}

func TestUnknownTargetStillFrees(t *testing.T) {
	l := New(Config{})
	freed := 0
	require.NoError(t, l.PostEvent(userEvent, nil, func(types.EventType, any) { freed++ }, 0, 99))
	l.Drain()
	assert.Equal(t, 1, freed)
}

func TestQueueFull(t *testing.T) {
	l := New(Config{MaxEvents: 2})
	before := testutil.ToFloat64(eventsRejectedTotal.WithLabelValues("queue_full"))

	require.NoError(t, l.PostEvent(userEvent, nil, nil, 0, 1))
	require.NoError(t, l.DeferCallback(CallbackTimerTick, func() {}))
	err := l.PostEvent(userEvent, nil, nil, 0, 1)
	require.Error(t, err)
	assert.True(t, IsQueueFull(err))
	err = l.DeferCallback(CallbackTimerTick, func() {})
	assert.True(t, IsQueueFull(err))
	assert.Equal(t, before+2, testutil.ToFloat64(eventsRejectedTotal.WithLabelValues("queue_full")))

	l.Drain()
	assert.NoError(t, l.PostEvent(userEvent, nil, nil, 0, 1))
}

func TestRingWrapsAround(t *testing.T) {
	l := New(Config{MaxEvents: 3})
	var got []int
	for round := 0; round < 4; round++ {
		for i := 0; i < 3; i++ {
			v := round*3 + i
			require.NoError(t, l.DeferCallback(CallbackDebugDump, func() { got = append(got, v) }))
		}
		l.Drain()
	}
	require.Len(t, got, 12)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestHandlerPanicIsContained(t *testing.T) {
	l := New(Config{})
	a, h := startApp(t, l, "a")
	h.onEvt = func(d delivery) {
		if d.data == "boom" {
			panic("nanoapp bug")
		}
	}
	freed := false
	require.NoError(t, l.PostEvent(userEvent, "boom", func(types.EventType, any) { freed = true }, 0, a.InstanceID()))
	require.NoError(t, l.PostEvent(userEvent, "ok", nil, 0, a.InstanceID()))

	assert.NotPanics(t, func() { l.Drain() })
	assert.Len(t, h.got, 2)
	assert.True(t, freed)
}

func TestFatalHandler(t *testing.T) {
	var got []*FatalError
	l := New(Config{FatalHandler: func(e *FatalError) { got = append(got, e) }})
	before := testutil.ToFloat64(fatalTotal)

	l.Fatal("broken %s", "invariant")
	require.Len(t, got, 1)
	assert.Equal(t, "broken invariant", got[0].Msg)
	assert.Equal(t, "FATAL: broken invariant", got[0].Error())
	assert.Equal(t, before+1, testutil.ToFloat64(fatalTotal))
}

func TestFatalPanicsByDefaultAndEscapesRecovery(t *testing.T) {
	l := New(Config{})
	require.NoError(t, l.DeferCallback(CallbackTimerTick, func() { l.Fatal("cannot post") }))

	defer func() {
		r := recover()
		require.NotNil(t, r)
		fe, ok := r.(*FatalError)
		require.True(t, ok, "panic value %T", r)
		assert.Equal(t, "cannot post", fe.Msg)
	}()
	l.Drain()
	t.Fatal("drain should not return")
}

func TestStartNanoapp(t *testing.T) {
	l := New(Config{})
	watcher, hw := startApp(t, l, "watcher")
	require.True(t, watcher.RegisterForBroadcastEvent(types.EventNanoappStarted))

	h := &fakeHandler{start: true}
	var seen *Nanoapp
	n, ok := l.StartNanoapp(NanoappInfo{AppID: 0x42, Name: "app", Version: 2}, func(n *Nanoapp) Handler {
		seen = n
		return h
	})
	require.True(t, ok)
	assert.Same(t, n, seen)
	assert.Equal(t, 1, h.starts)
	assert.Equal(t, uint32(2), n.InstanceID())
	assert.Same(t, n, l.FindNanoappByAppID(0x42))
	assert.Same(t, n, l.FindNanoappByInstanceID(2))
	assert.Nil(t, l.FindNanoappByInstanceID(types.SystemInstanceID))

	l.Drain()
	require.Len(t, hw.got, 1)
	ev := hw.got[0].data.(*types.NanoappStartedEvent)
	assert.Equal(t, uint64(0x42), ev.AppID)
	assert.Equal(t, uint32(2), ev.InstanceID)
}

func TestStartNanoappFailureUnregisters(t *testing.T) {
	l := New(Config{})
	h := &fakeHandler{start: false}
	n, ok := l.StartNanoapp(NanoappInfo{Name: "bad"}, func(*Nanoapp) Handler { return h })
	assert.False(t, ok)
	assert.Nil(t, n)
	assert.Empty(t, l.Nanoapps())
	assert.Equal(t, 0, l.Drain(), "no started broadcast for a failed start")

	// Instance IDs are never reused.
	good, _ := startApp(t, l, "good")
	assert.Equal(t, uint32(2), good.InstanceID())
}

func TestBroadcastRegistrationLimit(t *testing.T) {
	l := New(Config{})
	n, _ := startApp(t, l, "a")
	for i := 0; i < maxBroadcastRegistrations; i++ {
		require.True(t, n.RegisterForBroadcastEvent(userEvent+types.EventType(i)))
	}
	assert.False(t, n.RegisterForBroadcastEvent(types.EventTimer))
	assert.True(t, n.UnregisterForBroadcastEvent(userEvent))
	assert.False(t, n.UnregisterForBroadcastEvent(userEvent))
	assert.True(t, n.RegisterForBroadcastEvent(types.EventTimer))

	events := n.BroadcastEvents()
	require.Len(t, events, maxBroadcastRegistrations)
	assert.Equal(t, types.EventTimer, events[0])
}

func TestRunProcessesEntriesFromOtherGoroutines(t *testing.T) {
	clock := manual.NewClock()
	l := New(Config{Clock: clock})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()
	require.Eventually(t, l.Running, time.Second, time.Millisecond)

	assert.Error(t, l.Run(ctx), "only one goroutine may run the loop")

	var mu sync.Mutex
	count := 0
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				for {
					err := l.DeferCallback(CallbackDebugDump, func() {
						mu.Lock()
						count++
						mu.Unlock()
					})
					if err == nil {
						break
					}
					assert.True(t, IsQueueFull(err))
					time.Sleep(time.Millisecond)
				}
			}
		}()
	}
	wg.Wait()
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count == 80
	}, 2*time.Second, time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	assert.True(t, l.Stopped())
	assert.False(t, l.Running())
	assert.True(t, IsLoopStopped(l.PostEvent(userEvent, nil, nil, 0, 1)))
}

func TestShutdownFreesPendingAndEndsNanoapps(t *testing.T) {
	l := New(Config{})
	a, h := startApp(t, l, "a")

	freed := 0
	require.NoError(t, l.PostEvent(userEvent, nil, func(types.EventType, any) { freed++ }, 0, a.InstanceID()))
	ran := false
	require.NoError(t, l.DeferCallback(CallbackTimerTick, func() { ran = true }))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, l.Run(ctx))

	assert.Equal(t, 1, freed)
	assert.False(t, ran, "pending callbacks are dropped")
	assert.Empty(t, h.got)
	assert.Equal(t, 1, h.ended)
	assert.Empty(t, l.Nanoapps())
	assert.True(t, IsLoopStopped(l.DeferCallback(CallbackTimerTick, func() {})))
}

func TestFanoutPublisher(t *testing.T) {
	p := NewFanoutPublisher()
	id1, ch1, cancel1 := p.Subscribe(1)
	id2, ch2, cancel2 := p.Subscribe(0)
	defer cancel2()
	assert.NotEqual(t, id1, id2)
	assert.Equal(t, 2, p.Subscribers())

	before := testutil.ToFloat64(tracesDroppedTotal)
	p.Publish(Trace{EventType: types.EventTimer})
	p.Publish(Trace{EventType: types.EventTimer})
	assert.Equal(t, before+1, testutil.ToFloat64(tracesDroppedTotal), "slow subscriber loses the overflow")
	assert.Len(t, ch1, 1)
	assert.Len(t, ch2, 2)

	cancel1()
	cancel1()
	assert.Equal(t, 1, p.Subscribers())
	<-ch1
	_, open := <-ch1
	assert.False(t, open)
}
