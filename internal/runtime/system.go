package runtime

import (
	"time"

	"github.com/rs/zerolog"

	"chred/internal/eventloop"
	"chred/pkg/types"
)

// System is the API a nanoapp uses to reach the runtime. It is bound to one
// nanoapp and must only be used on the loop goroutine.
type System struct {
	rt  *Runtime
	app *eventloop.Nanoapp
	log zerolog.Logger
}

func newSystem(rt *Runtime, app *eventloop.Nanoapp) *System {
	return &System{
		rt:  rt,
		app: app,
		log: rt.log.With().Str("nanoapp", app.Name()).Uint32("instance", app.InstanceID()).Logger(),
	}
}

func (s *System) InstanceID() uint32 { return s.app.InstanceID() }
func (s *System) AppID() uint64      { return s.app.AppID() }

// Time returns the runtime's monotonic time.
func (s *System) Time() time.Duration { return s.rt.clock.Now() }

// Log returns a logger tagged with the nanoapp's name and instance ID.
func (s *System) Log() *zerolog.Logger { return &s.log }

// SetTimer arms a timer that delivers types.EventTimer with cookie as data.
// It returns types.TimerInvalid on failure.
func (s *System) SetTimer(duration time.Duration, cookie any, oneShot bool) types.TimerHandle {
	return s.rt.timers.SetTimer(s.InstanceID(), duration, cookie, oneShot)
}

// CancelTimer fails for unknown handles and for timers set by other nanoapps.
func (s *System) CancelTimer(handle types.TimerHandle) bool {
	return s.rt.timers.CancelTimer(s.InstanceID(), handle)
}

// SendEvent posts a nanoapp-defined event to another nanoapp, or to every
// registered nanoapp when target is types.BroadcastInstanceID. Only event
// types at or above types.EventFirstUserValue may be sent. free, if non-nil,
// runs after delivery, or immediately when the event cannot be queued.
func (s *System) SendEvent(eventType types.EventType, data any, free eventloop.FreeFunc, target uint32) bool {
	if eventType < types.EventFirstUserValue {
		s.log.Warn().Stringer("event", eventType).Msg("refusing to send a reserved event type")
		if free != nil {
			free(eventType, data)
		}
		return false
	}
	if err := s.rt.loop.PostEvent(eventType, data, free, s.InstanceID(), target); err != nil {
		if free != nil {
			free(eventType, data)
		}
		return false
	}
	return true
}

// RegisterForBroadcast subscribes or unsubscribes the nanoapp from broadcasts
// of eventType.
func (s *System) RegisterForBroadcast(eventType types.EventType, enable bool) bool {
	if enable {
		return s.app.RegisterForBroadcastEvent(eventType)
	}
	return s.app.UnregisterForBroadcastEvent(eventType)
}

// WifiCapabilities returns the platform's types.WifiCapabilities* bits.
func (s *System) WifiCapabilities() uint32 { return s.rt.wifi.Capabilities() }

// WifiConfigureScanMonitor asks for scan monitor results to be delivered, or
// stopped. The outcome arrives as a types.EventWifiAsyncResult carrying cookie.
func (s *System) WifiConfigureScanMonitor(enable bool, cookie any) bool {
	return s.rt.wifi.ConfigureScanMonitor(s.InstanceID(), enable, cookie)
}

// WifiRequestScan starts an on-demand scan. The outcome arrives as a
// types.EventWifiAsyncResult carrying cookie, followed by results.
func (s *System) WifiRequestScan(params *types.WifiScanParams, cookie any) bool {
	return s.rt.wifi.RequestScan(s.InstanceID(), params, cookie)
}
