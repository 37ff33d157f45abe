package eventloop

import (
	"sync"

	"chred/pkg/types"
)

type entryKind uint8

const (
	entryEvent entryKind = iota + 1
	entryCallback
)

// entry is one queued unit of work: either an event for nanoapps or a
// deferred system callback. kind selects which fields are meaningful.
type entry struct {
	kind entryKind

	eventType types.EventType
	data      any
	free      FreeFunc
	sender    uint32
	target    uint32

	cbType CallbackType
	cb     func()
}

// queue is a fixed-capacity FIFO ring. It is the single synchronization
// point between producer goroutines and the loop goroutine.
type queue struct {
	mu      sync.Mutex
	buf     []entry
	head    int
	size    int
	stopped bool
	// wake has room for one pending signal; producers never block on it.
	wake chan struct{}
}

func newQueue(capacity int) *queue {
	return &queue{
		buf:  make([]entry, capacity),
		wake: make(chan struct{}, 1),
	}
}

func (q *queue) push(e entry) error {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return loopStoppedError{}
	}
	if q.size == len(q.buf) {
		q.mu.Unlock()
		if e.kind == entryCallback {
			return queueFullError{what: e.cbType.String()}
		}
		return queueFullError{what: e.eventType.String()}
	}
	q.buf[(q.head+q.size)%len(q.buf)] = e
	q.size++
	depth := q.size
	q.mu.Unlock()
	queueDepth.Set(float64(depth))
	select {
	case q.wake <- struct{}{}:
	default:
	}
	return nil
}

func (q *queue) pop() (entry, bool) {
	q.mu.Lock()
	if q.size == 0 {
		q.mu.Unlock()
		return entry{}, false
	}
	e := q.buf[q.head]
	q.buf[q.head] = entry{}
	q.head = (q.head + 1) % len(q.buf)
	q.size--
	depth := q.size
	q.mu.Unlock()
	queueDepth.Set(float64(depth))
	return e, true
}

// stop refuses further pushes and hands back whatever was still queued.
func (q *queue) stop() []entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.stopped = true
	out := make([]entry, 0, q.size)
	for q.size > 0 {
		out = append(out, q.buf[q.head])
		q.buf[q.head] = entry{}
		q.head = (q.head + 1) % len(q.buf)
		q.size--
	}
	return out
}

func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}
