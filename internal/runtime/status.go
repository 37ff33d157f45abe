package runtime

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"chred/internal/eventloop"
	"chred/pkg/types"
)

// Status collects a snapshot on the loop goroutine.
func (r *Runtime) Status(ctx context.Context) (types.StatusResponse, error) {
	var st types.StatusResponse
	err := r.onLoop(ctx, eventloop.CallbackStatus, func() { st = r.snapshot() })
	if err != nil {
		return types.StatusResponse{}, err
	}
	return st, nil
}

// DebugDump renders the human readable state of every component. It runs on
// the loop goroutine so the dump is consistent.
func (r *Runtime) DebugDump(ctx context.Context) (string, error) {
	var sb strings.Builder
	var dumpErr error
	err := r.onLoop(ctx, eventloop.CallbackDebugDump, func() { dumpErr = r.writeDebugDump(&sb) })
	if err != nil {
		return "", err
	}
	if dumpErr != nil {
		return "", dumpErr
	}
	return sb.String(), nil
}

// snapshot must run on the loop goroutine.
func (r *Runtime) snapshot() types.StatusResponse {
	st := types.StatusResponse{
		BootID:        r.bootID,
		Running:       r.loop.Running(),
		UptimeSeconds: int64((r.clock.Now() - r.startedAt).Seconds()),
		QueueDepth:    r.loop.QueueDepth(),
		QueueCapacity: r.loop.QueueCapacity(),
		Nanoapps:      []types.NanoappStatus{},
		Timers:        r.timers.Status(),
		Wifi:          r.wifi.Status(),
	}
	for _, n := range r.loop.Nanoapps() {
		ns := types.NanoappStatus{
			InstanceID:      n.InstanceID(),
			AppID:           n.AppID(),
			Name:            n.Name(),
			Version:         n.Version(),
			EventsDelivered: n.EventsDelivered(),
		}
		for _, t := range n.BroadcastEvents() {
			ns.BroadcastEvents = append(ns.BroadcastEvents, t.String())
		}
		st.Nanoapps = append(st.Nanoapps, ns)
	}
	return st
}

// writeDebugDump must run on the loop goroutine.
func (r *Runtime) writeDebugDump(w io.Writer) error {
	now := r.clock.Now()
	if _, err := fmt.Fprintf(w, "Runtime: boot %s uptime %s\n", r.bootID, (now - r.startedAt).Truncate(time.Millisecond)); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "\nEvent loop: queue %d/%d\n Nanoapps:\n", r.loop.QueueDepth(), r.loop.QueueCapacity()); err != nil {
		return err
	}
	for _, n := range r.loop.Nanoapps() {
		if _, err := fmt.Fprintf(w, "  id=%d appId=0x%016x name=%s version=%d events=%d\n",
			n.InstanceID(), n.AppID(), n.Name(), n.Version(), n.EventsDelivered()); err != nil {
			return err
		}
	}
	timers := r.timers.Timers()
	if _, err := fmt.Fprintf(w, "\nTimers: %d armed\n", len(timers)); err != nil {
		return err
	}
	for _, t := range timers {
		kind := "periodic"
		if t.OneShot {
			kind = "oneshot"
		}
		if _, err := fmt.Fprintf(w, "  handle=%d nanoappId=%d %s duration=%s expires_in=%s\n",
			t.Handle, t.InstanceID, kind, t.Duration, t.ExpirationTime-now); err != nil {
			return err
		}
	}
	return r.wifi.WriteDebugDump(w)
}
