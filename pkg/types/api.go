package types

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: dump timed out
	Error string `json:"error" example:"dump timed out"`
	// HTTP status code.
	// example: 504
	Code int `json:"code" example:"504"`
}

// NanoappStatus summarizes a loaded nanoapp for /status.
type NanoappStatus struct {
	// Runtime-assigned instance ID.
	// example: 1
	InstanceID uint32 `json:"instance_id" example:"1"`
	// Stable application ID.
	// example: 81985529216486896
	AppID uint64 `json:"app_id" example:"81985529216486896"`
	// Human-friendly name.
	// example: timer_world
	Name string `json:"name" example:"timer_world"`
	// Application version.
	// example: 1
	Version uint32 `json:"version" example:"1"`
	// Event types the nanoapp receives as broadcasts.
	BroadcastEvents []string `json:"broadcast_events,omitempty"`
	// Number of events delivered to this nanoapp.
	// example: 42
	EventsDelivered uint64 `json:"events_delivered" example:"42"`
}

// TimerPoolStatus summarizes the timer pool.
type TimerPoolStatus struct {
	// Number of armed timers.
	// example: 2
	Armed int `json:"armed" example:"2"`
	// Maximum number of concurrently armed timers.
	// example: 64
	Capacity int `json:"capacity" example:"64"`
	// Nanoseconds until the next timer fires; absent when nothing is armed.
	NextExpiryNs *int64 `json:"next_expiry_ns,omitempty"`
}

// ScanMonitorTransition is a queued scan monitor state change.
type ScanMonitorTransition struct {
	InstanceID uint32 `json:"instance_id"`
	Enable     bool   `json:"enable"`
}

// WifiStatus summarizes the WiFi request manager.
type WifiStatus struct {
	// Platform capability bitmask.
	// example: 3
	Capabilities uint32 `json:"capabilities" example:"3"`
	// Whether any nanoapp holds a scan monitor subscription.
	ScanMonitorEnabled bool `json:"scan_monitor_enabled"`
	// Instance IDs subscribed to the scan monitor.
	ScanMonitorNanoapps []uint32 `json:"scan_monitor_nanoapps"`
	// Instance ID of the nanoapp with an outstanding scan request, if any.
	PendingScanRequester *uint32 `json:"pending_scan_requester,omitempty"`
	// Whether scan results for the outstanding request are still expected.
	ScanResultsPending bool `json:"scan_results_pending"`
	// Queued scan monitor transitions, front first.
	Transitions []ScanMonitorTransition `json:"transitions"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	// Identifier of this runtime instance, regenerated on every start.
	// example: 2f0c9f34-6b4e-4e9b-9a56-1b2bd3d6f5a1
	BootID string `json:"boot_id" example:"2f0c9f34-6b4e-4e9b-9a56-1b2bd3d6f5a1"`
	// Whether the event loop is running.
	Running bool `json:"running"`
	// Uptime of the runtime in seconds.
	// example: 3600
	UptimeSeconds int64 `json:"uptime_seconds" example:"3600"`
	// Entries waiting in the event queue.
	// example: 0
	QueueDepth int `json:"queue_depth" example:"0"`
	// Maximum number of queued entries.
	// example: 96
	QueueCapacity int `json:"queue_capacity" example:"96"`
	// Loaded nanoapps.
	Nanoapps []NanoappStatus `json:"nanoapps"`
	// Timer pool summary.
	Timers TimerPoolStatus `json:"timers"`
	// WiFi request manager summary.
	Wifi WifiStatus `json:"wifi"`
}

// EventRecord describes one event delivery, streamed on /events.
type EventRecord struct {
	// Monotonic runtime time of the delivery in nanoseconds.
	TimeNs int64 `json:"time_ns"`
	// Event type name.
	// example: timer
	Type string `json:"type" example:"timer"`
	// Raw event type value.
	TypeID uint16 `json:"type_id"`
	// Sending instance ID (0 for the runtime).
	Sender uint32 `json:"sender"`
	// Receiving instance ID.
	Recipient uint32 `json:"recipient"`
	// Whether the event was a broadcast.
	Broadcast bool `json:"broadcast"`
}
