package timerpool

import (
	"time"

	"chred/pkg/types"
)

// timerRequest is one armed timer.
type timerRequest struct {
	nanoappInstanceID uint32
	handle            types.TimerHandle
	expirationTime    time.Duration
	duration          time.Duration
	isOneShot         bool
	cookie            any
}

// timerHeap is a min-heap of timer requests keyed by expiration time.
// Mutations move elements, so callers re-read index 0 after every push or
// remove instead of holding on to an element.
type timerHeap []timerRequest

func (h timerHeap) Len() int           { return len(h) }
func (h timerHeap) Less(i, j int) bool { return h[i].expirationTime < h[j].expirationTime }
func (h timerHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *timerHeap) Push(x any) {
	*h = append(*h, x.(timerRequest))
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	old[n-1] = timerRequest{}
	*h = old[:n-1]
	return x
}
