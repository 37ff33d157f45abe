// Package runtime wires the event loop, timer pool and WiFi request manager
// into one context object and hands nanoapps their view of it.
package runtime

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"chred/internal/eventloop"
	"chred/internal/platform"
	"chred/internal/timerpool"
	"chred/internal/wifi"
	"chred/pkg/types"
)

// Config encapsulates the tunables for Runtime construction. Zero values fall
// back to each component's defaults.
type Config struct {
	MaxEvents                 int
	MaxTimerRequests          int
	MaxScanMonitorTransitions int
	ScanResultTimeout         time.Duration

	Clock       platform.Clock
	SystemTimer platform.SystemTimer
	// Wifi is the platform layer; nil means a platform without WiFi.
	Wifi wifi.PlatformWifi

	Logger zerolog.Logger
	// FatalHandler receives unrecoverable errors; nil panics.
	FatalHandler eventloop.FatalHandler
}

// Nanoapp is an application hosted by the runtime. All methods run on the
// loop goroutine.
type Nanoapp interface {
	// Start is called once after loading; sys stays valid until End returns.
	// Returning false unloads the nanoapp.
	Start(sys *System) bool
	HandleEvent(senderInstanceID uint32, eventType types.EventType, eventData any)
	End()
}

// Runtime is the explicit context object the core components share.
type Runtime struct {
	bootID string
	clock  platform.Clock
	log    zerolog.Logger

	loop   *eventloop.EventLoop
	timers *timerpool.TimerPool
	wifi   *wifi.RequestManager
	events *eventloop.FanoutPublisher

	startedAt    time.Duration
	pendingLoads atomic.Int32
}

// New builds the runtime and opens the WiFi platform.
func New(cfg Config) (*Runtime, error) {
	if cfg.Clock == nil {
		cfg.Clock = platform.NewMonotonicClock()
	}
	if cfg.Wifi == nil {
		cfg.Wifi = noWifi{}
	}
	bootID := uuid.NewString()
	log := cfg.Logger.With().Str("boot_id", bootID).Logger()
	events := eventloop.NewFanoutPublisher()

	loop := eventloop.New(eventloop.Config{
		MaxEvents:    cfg.MaxEvents,
		Clock:        cfg.Clock,
		Logger:       log,
		Publisher:    events,
		FatalHandler: cfg.FatalHandler,
	})
	r := &Runtime{
		bootID: bootID,
		clock:  cfg.Clock,
		log:    log.With().Str("component", "runtime").Logger(),
		loop:   loop,
		events: events,
		timers: timerpool.New(loop, timerpool.Config{
			MaxTimerRequests: cfg.MaxTimerRequests,
			Clock:            cfg.Clock,
			SystemTimer:      cfg.SystemTimer,
			Logger:           log,
		}),
		wifi: wifi.New(loop, wifi.Config{
			Platform:                  cfg.Wifi,
			Clock:                     cfg.Clock,
			Logger:                    log,
			ScanResultTimeout:         cfg.ScanResultTimeout,
			MaxScanMonitorTransitions: cfg.MaxScanMonitorTransitions,
		}),
		startedAt: cfg.Clock.Now(),
	}
	if err := r.wifi.Init(); err != nil {
		return nil, err
	}
	return r, nil
}

// BootID identifies this runtime instance.
func (r *Runtime) BootID() string { return r.bootID }

// Loop exposes the event loop, mainly for tests that drive it by hand.
func (r *Runtime) Loop() *eventloop.EventLoop { return r.loop }

// LoadNanoapp queues app to be started on the loop goroutine. An app whose
// AppID is already loaded is not started. Safe from any goroutine.
func (r *Runtime) LoadNanoapp(info eventloop.NanoappInfo, app Nanoapp) error {
	r.pendingLoads.Add(1)
	err := r.loop.DeferCallback(eventloop.CallbackNanoappLoad, func() {
		defer r.pendingLoads.Add(-1)
		r.startNanoapp(info, app)
	})
	if err != nil {
		r.pendingLoads.Add(-1)
		return err
	}
	return nil
}

func (r *Runtime) startNanoapp(info eventloop.NanoappInfo, app Nanoapp) {
	if existing := r.loop.FindNanoappByAppID(info.AppID); existing != nil {
		r.log.Error().Str("nanoapp", info.Name).Uint64("app_id", info.AppID).Uint32("loaded_as", existing.InstanceID()).
			Msg("refusing to load nanoapp: app ID already loaded")
		return
	}
	var instanceID uint32
	_, ok := r.loop.StartNanoapp(info, func(n *eventloop.Nanoapp) eventloop.Handler {
		instanceID = n.InstanceID()
		return &nanoappHandler{app: app, sys: newSystem(r, n)}
	})
	if !ok {
		// Timers set from a failed Start would otherwise outlive the nanoapp.
		if n := r.timers.CancelAllNanoappTimers(instanceID); n > 0 {
			r.log.Debug().Uint32("instance", instanceID).Int("timers", n).Msg("cancelled timers of nanoapp that failed to start")
		}
	}
}

// Run drives the event loop until ctx is done, then ends every nanoapp.
func (r *Runtime) Run(ctx context.Context) error {
	r.log.Info().Msg("runtime starting")
	err := r.loop.Run(ctx)
	r.log.Info().Msg("runtime stopped")
	return err
}

// Ready reports whether the loop is running and every queued nanoapp load
// has been processed.
func (r *Runtime) Ready() bool {
	return r.loop.Running() && r.pendingLoads.Load() == 0
}

// Subscribe streams event deliveries. The returned cancel func must be called
// to release the subscription; the channel is closed afterwards.
func (r *Runtime) Subscribe(buffer int) (string, <-chan types.EventRecord, func()) {
	id, traces, cancel := r.events.Subscribe(buffer)
	out := make(chan types.EventRecord, cap(traces))
	go func() {
		defer close(out)
		for t := range traces {
			select {
			case out <- recordOf(t):
			default:
			}
		}
	}()
	return id, out, cancel
}

func recordOf(t eventloop.Trace) types.EventRecord {
	return types.EventRecord{
		TimeNs:    int64(t.Time),
		Type:      t.EventType.String(),
		TypeID:    uint16(t.EventType),
		Sender:    t.Sender,
		Recipient: t.Recipient,
		Broadcast: t.Broadcast,
	}
}

// onLoop runs fn on the loop goroutine and waits for it to finish.
func (r *Runtime) onLoop(ctx context.Context, cbType eventloop.CallbackType, fn func()) error {
	if !r.loop.Running() {
		return errNotRunning
	}
	done := make(chan struct{})
	if err := r.loop.DeferCallback(cbType, func() {
		fn()
		close(done)
	}); err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var errNotRunning = errors.New("runtime: event loop not running")

// IsNotRunning reports whether err means the loop was not running.
func IsNotRunning(err error) bool { return errors.Is(err, errNotRunning) }

// nanoappHandler adapts a Nanoapp to the loop's Handler.
type nanoappHandler struct {
	app Nanoapp
	sys *System
}

func (h *nanoappHandler) Start() bool { return h.app.Start(h.sys) }

func (h *nanoappHandler) HandleEvent(sender uint32, eventType types.EventType, data any) {
	h.app.HandleEvent(sender, eventType, data)
}

func (h *nanoappHandler) End() {
	h.app.End()
	h.sys.rt.timers.CancelAllNanoappTimers(h.sys.InstanceID())
}

// noWifi is the platform used when none is configured.
type noWifi struct{}

var errWifiUnsupported = errors.New("wifi not supported")

func (noWifi) Init(wifi.Callbacks) error               { return nil }
func (noWifi) Capabilities() uint32                    { return types.WifiCapabilitiesNone }
func (noWifi) ConfigureScanMonitor(bool) error         { return errWifiUnsupported }
func (noWifi) RequestScan(*types.WifiScanParams) error { return errWifiUnsupported }
func (noWifi) ReleaseScanEvent(*types.WifiScanEvent)   {}
