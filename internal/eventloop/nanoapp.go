package eventloop

import (
	"sort"

	"chred/pkg/types"
)

// maxBroadcastRegistrations bounds the broadcast event types one nanoapp may
// subscribe to.
const maxBroadcastRegistrations = 32

// Nanoapp is a loaded application. Its methods must only be called on the
// loop goroutine.
type Nanoapp struct {
	info       NanoappInfo
	instanceID uint32
	handler    Handler
	broadcast  map[types.EventType]struct{}
	delivered  uint64
}

func (n *Nanoapp) InstanceID() uint32 { return n.instanceID }
func (n *Nanoapp) AppID() uint64      { return n.info.AppID }
func (n *Nanoapp) Name() string       { return n.info.Name }
func (n *Nanoapp) Version() uint32    { return n.info.Version }

// EventsDelivered counts the events handed to this nanoapp.
func (n *Nanoapp) EventsDelivered() uint64 { return n.delivered }

// RegisterForBroadcastEvent subscribes the nanoapp to broadcasts of eventType.
// Registering twice is a no-op that succeeds.
func (n *Nanoapp) RegisterForBroadcastEvent(eventType types.EventType) bool {
	if _, ok := n.broadcast[eventType]; ok {
		return true
	}
	if len(n.broadcast) >= maxBroadcastRegistrations {
		return false
	}
	n.broadcast[eventType] = struct{}{}
	return true
}

// UnregisterForBroadcastEvent reports whether a registration was removed.
func (n *Nanoapp) UnregisterForBroadcastEvent(eventType types.EventType) bool {
	if _, ok := n.broadcast[eventType]; !ok {
		return false
	}
	delete(n.broadcast, eventType)
	return true
}

func (n *Nanoapp) IsRegisteredForBroadcastEvent(eventType types.EventType) bool {
	_, ok := n.broadcast[eventType]
	return ok
}

// BroadcastEvents lists the registrations in ascending order.
func (n *Nanoapp) BroadcastEvents() []types.EventType {
	out := make([]types.EventType, 0, len(n.broadcast))
	for t := range n.broadcast {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
