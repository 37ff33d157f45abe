// Package eventloop is the cooperative scheduler at the heart of the runtime.
// It is structured into small files by concern:
//
//   - loop.go: EventLoop, Run/Drain and event dispatch.
//   - queue.go: the bounded hand-off queue shared by events and deferred callbacks.
//   - nanoapp.go: loaded nanoapps and their broadcast registrations.
//   - types.go: callback types, handler interfaces and Config.
//   - errors.go: error kinds (IsQueueFull, IsLoopStopped) and FatalError.
//   - events.go, eventpub_*.go: the dispatch tap consumed by /events and tests.
//   - metrics.go: Prometheus collectors.
//
// Exactly one goroutine drains the loop. Everything a nanoapp or a core
// component does happens on that goroutine, one entry at a time, to completion.
// Other goroutines (platform completion handlers, timers, the HTTP surface)
// cross into the loop only through DeferCallback or PostEvent, which are the
// only synchronized entry points.
package eventloop
