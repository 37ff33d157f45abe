package eventloop

import (
	"sync"

	"github.com/google/uuid"
)

// FanoutPublisher copies each trace to every subscriber. A subscriber that
// falls behind loses traces rather than stalling the loop.
type FanoutPublisher struct {
	mu   sync.RWMutex
	subs map[string]chan Trace
}

func NewFanoutPublisher() *FanoutPublisher {
	return &FanoutPublisher{subs: make(map[string]chan Trace)}
}

func (p *FanoutPublisher) Publish(t Trace) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, ch := range p.subs {
		select {
		case ch <- t:
		default:
			tracesDroppedTotal.Inc()
		}
	}
}

// Subscribe registers a subscriber with the given buffer. The returned cancel
// func removes it and closes the channel.
func (p *FanoutPublisher) Subscribe(buffer int) (string, <-chan Trace, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	id := uuid.NewString()
	ch := make(chan Trace, buffer)
	p.mu.Lock()
	p.subs[id] = ch
	p.mu.Unlock()
	var once sync.Once
	return id, ch, func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.subs, id)
			p.mu.Unlock()
			close(ch)
		})
	}
}

// Subscribers returns the number of active subscribers.
func (p *FanoutPublisher) Subscribers() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.subs)
}
