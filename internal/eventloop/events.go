package eventloop

import (
	"time"

	"chred/pkg/types"
)

// Trace describes one event delivery to one nanoapp.
type Trace struct {
	Time      time.Duration
	EventType types.EventType
	Sender    uint32
	Recipient uint32
	Broadcast bool
}

// EventPublisher observes deliveries. Publish runs on the loop goroutine, so
// implementations must be lightweight and non-blocking, and must not panic.
type EventPublisher interface {
	Publish(Trace)
}

// noopPublisher is the default; it drops traces.
type noopPublisher struct{}

func (noopPublisher) Publish(Trace) {}
