package httpapi

import "time"

// dumpTimeout bounds how long /debug/dump and /status wait for the event loop.
var dumpTimeout = 2 * time.Second

// SetDumpTimeout sets the loop round-trip timeout for /status and /debug/dump.
// Non-positive values restore the 2s default.
func SetDumpTimeout(d time.Duration) {
	if d <= 0 {
		dumpTimeout = 2 * time.Second
		return
	}
	dumpTimeout = d
}

// eventsBuffer is the per-subscriber channel depth for /events.
var eventsBuffer = 64

// SetEventsBuffer sets the per-subscriber buffer used by /events.
func SetEventsBuffer(n int) {
	if n <= 0 {
		eventsBuffer = 64
		return
	}
	eventsBuffer = n
}

// CORS configuration (opt-in). If disabled, no CORS middleware is added.
var (
	corsEnabled        bool
	corsAllowedOrigins []string
	corsAllowedMethods []string
	corsAllowedHeaders []string
)

// SetCORSOptions configures CORS behavior for the HTTP server.
func SetCORSOptions(enabled bool, origins, methods, headers []string) {
	corsEnabled = enabled
	corsAllowedOrigins = append([]string(nil), origins...)
	corsAllowedMethods = append([]string(nil), methods...)
	corsAllowedHeaders = append([]string(nil), headers...)
}
