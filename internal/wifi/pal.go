package wifi

import "chred/pkg/types"

// PlatformWifi is the platform abstraction layer the request manager drives.
// Each asynchronous operation supports only one request in flight.
type PlatformWifi interface {
	// Init opens the platform and installs the completion callbacks.
	Init(cb Callbacks) error
	Capabilities() uint32
	// ConfigureScanMonitor starts a scan monitor transition; completion is
	// reported through Callbacks.HandleScanMonitorStateChange.
	ConfigureScanMonitor(enable bool) error
	// RequestScan starts an on-demand scan; completion is reported through
	// Callbacks.HandleScanResponse followed by zero or more HandleScanEvent.
	RequestScan(params *types.WifiScanParams) error
	// ReleaseScanEvent returns an event previously delivered via HandleScanEvent.
	ReleaseScanEvent(event *types.WifiScanEvent)
}

// Callbacks receives platform completions. Implementations must accept calls
// from any goroutine.
type Callbacks interface {
	HandleScanMonitorStateChange(enabled bool, errorCode types.ErrorCode)
	HandleScanResponse(pending bool, errorCode types.ErrorCode)
	HandleScanEvent(event *types.WifiScanEvent)
}

// optional holds a value that may be absent.
type optional[T any] struct {
	v  T
	ok bool
}

func (o *optional[T]) set(v T) { o.v, o.ok = v, true }

func (o *optional[T]) reset() {
	var zero T
	o.v, o.ok = zero, false
}

func (o optional[T]) get() (T, bool) { return o.v, o.ok }

func (o optional[T]) has() bool { return o.ok }
