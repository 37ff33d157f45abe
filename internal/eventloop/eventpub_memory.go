package eventloop

import "sync"

// MemoryPublisher stores traces in-memory for tests.
type MemoryPublisher struct {
	mu     sync.Mutex
	traces []Trace
}

func NewMemoryPublisher() *MemoryPublisher { return &MemoryPublisher{} }

func (p *MemoryPublisher) Publish(t Trace) {
	p.mu.Lock()
	p.traces = append(p.traces, t)
	p.mu.Unlock()
}

func (p *MemoryPublisher) Traces() []Trace {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Trace, len(p.traces))
	copy(out, p.traces)
	return out
}
