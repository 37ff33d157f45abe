package eventloop

import (
	"fmt"

	"github.com/rs/zerolog"

	"chred/internal/platform"
	"chred/pkg/types"
)

// Defaults applied when corresponding Config fields are unset.
const (
	defaultMaxEvents = 96
)

// CallbackType tags a deferred callback with the subsystem that queued it.
type CallbackType uint16

const (
	CallbackTimerTick CallbackType = iota + 1
	CallbackWifiScanMonitorStateChange
	CallbackWifiRequestScanResponse
	CallbackWifiHandleScanEvent
	CallbackNanoappLoad
	CallbackDebugDump
	CallbackStatus
)

func (t CallbackType) String() string {
	switch t {
	case CallbackTimerTick:
		return "timer_tick"
	case CallbackWifiScanMonitorStateChange:
		return "wifi_scan_monitor_state_change"
	case CallbackWifiRequestScanResponse:
		return "wifi_request_scan_response"
	case CallbackWifiHandleScanEvent:
		return "wifi_handle_scan_event"
	case CallbackNanoappLoad:
		return "nanoapp_load"
	case CallbackDebugDump:
		return "debug_dump"
	case CallbackStatus:
		return "status"
	default:
		return fmt.Sprintf("callback_%d", uint16(t))
	}
}

// FreeFunc releases event data once every recipient has handled the event.
type FreeFunc func(eventType types.EventType, data any)

// Handler is the loop-facing side of a nanoapp.
type Handler interface {
	// Start is invoked once after the nanoapp is registered; false unloads it.
	Start() bool
	HandleEvent(senderInstanceID uint32, eventType types.EventType, eventData any)
	// End is invoked once when the runtime shuts down.
	End()
}

// NanoappInfo is the static description of a nanoapp.
type NanoappInfo struct {
	AppID   uint64
	Name    string
	Version uint32
}

// Config encapsulates the tunables for EventLoop construction.
type Config struct {
	// MaxEvents bounds the queue shared by events and deferred callbacks.
	MaxEvents int
	Clock     platform.Clock
	Logger    zerolog.Logger
	// Publisher observes every event delivery; nil drops them.
	Publisher EventPublisher
	// FatalHandler receives FatalErrors; nil panics.
	FatalHandler FatalHandler
}
