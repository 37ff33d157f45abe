package eventloop

import "fmt"

// queueFullError signals that the bounded event queue had no free slot.
type queueFullError struct{ what string }

func (e queueFullError) Error() string { return "event queue full: " + e.what }

// IsQueueFull reports whether err indicates queue exhaustion.
func IsQueueFull(err error) bool {
	_, ok := err.(queueFullError)
	return ok
}

// loopStoppedError signals that the loop no longer accepts entries.
type loopStoppedError struct{}

func (loopStoppedError) Error() string { return "event loop stopped" }

// IsLoopStopped reports whether err indicates the loop has shut down.
func IsLoopStopped(err error) bool {
	_, ok := err.(loopStoppedError)
	return ok
}

// alreadyRunningError is returned by Run when another goroutine already drains the loop.
type alreadyRunningError struct{}

func (alreadyRunningError) Error() string { return "event loop already running" }

// FatalError marks a broken runtime invariant. It is not a handled failure:
// the default FatalHandler panics with it and the runtime goes down.
type FatalError struct {
	Msg string
}

func (e *FatalError) Error() string { return "FATAL: " + e.Msg }

// FatalHandler receives FatalErrors raised on the loop.
type FatalHandler func(*FatalError)

func panicOnFatal(err *FatalError) { panic(err) }

// Fatal reports an unrecoverable invariant violation.
func (l *EventLoop) Fatal(format string, args ...any) {
	err := &FatalError{Msg: fmt.Sprintf(format, args...)}
	l.log.Error().Str("fatal", err.Msg).Msg("fatal error")
	fatalTotal.Inc()
	l.fatal(err)
}
