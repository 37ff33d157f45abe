package types

import (
	"fmt"
	"math"
)

// TimerHandle identifies an outstanding timer request within a timer pool.
type TimerHandle uint32

// TimerInvalid is never handed out as a valid timer handle.
const TimerInvalid TimerHandle = math.MaxUint32

// Reserved nanoapp instance IDs.
const (
	// SystemInstanceID is the sender of every event produced by the runtime itself.
	SystemInstanceID uint32 = 0
	// BroadcastInstanceID targets every nanoapp registered for the event type.
	BroadcastInstanceID uint32 = math.MaxUint32
)

// EventType identifies the payload carried by an event.
type EventType uint16

const (
	EventMessageFromHost EventType = 0x0001
	EventTimer           EventType = 0x0002
	EventNanoappStarted  EventType = 0x0003
	EventNanoappStopped  EventType = 0x0004

	EventWifiFirst       EventType = 0x0300
	EventWifiAsyncResult EventType = EventWifiFirst + 0
	EventWifiScanResult  EventType = EventWifiFirst + 1

	// EventFirstUserValue is the first event type available to nanoapps for
	// their own messages.
	EventFirstUserValue EventType = 0x8000
)

func (t EventType) String() string {
	switch t {
	case EventMessageFromHost:
		return "message_from_host"
	case EventTimer:
		return "timer"
	case EventNanoappStarted:
		return "nanoapp_started"
	case EventNanoappStopped:
		return "nanoapp_stopped"
	case EventWifiAsyncResult:
		return "wifi_async_result"
	case EventWifiScanResult:
		return "wifi_scan_result"
	}
	if t >= EventFirstUserValue {
		return fmt.Sprintf("user_0x%04x", uint16(t))
	}
	return fmt.Sprintf("0x%04x", uint16(t))
}

// ErrorCode is carried by async results to explain a failure.
type ErrorCode uint8

const (
	ErrorNone             ErrorCode = 0
	Error                 ErrorCode = 1
	ErrorInvalidArgument  ErrorCode = 2
	ErrorBusy             ErrorCode = 3
	ErrorNoMemory         ErrorCode = 4
	ErrorNotSupported     ErrorCode = 5
	ErrorTimeout          ErrorCode = 6
	ErrorFunctionDisabled ErrorCode = 7
)

func (c ErrorCode) String() string {
	switch c {
	case ErrorNone:
		return "none"
	case Error:
		return "error"
	case ErrorInvalidArgument:
		return "invalid_argument"
	case ErrorBusy:
		return "busy"
	case ErrorNoMemory:
		return "no_memory"
	case ErrorNotSupported:
		return "not_supported"
	case ErrorTimeout:
		return "timeout"
	case ErrorFunctionDisabled:
		return "function_disabled"
	default:
		return fmt.Sprintf("error_%d", uint8(c))
	}
}

// AsyncResult reports the completion of an asynchronous request. Cookie is the
// value the nanoapp supplied with the request, returned untouched.
type AsyncResult struct {
	RequestType uint8
	Success     bool
	ErrorCode   ErrorCode
	Cookie      any
}

// NanoappStartedEvent is the payload of EventNanoappStarted and EventNanoappStopped.
type NanoappStartedEvent struct {
	AppID      uint64
	InstanceID uint32
}
