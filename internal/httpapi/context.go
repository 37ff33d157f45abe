package httpapi

import "context"

// serverBaseCtx is cancelled when the daemon shuts down. Long-lived handlers
// such as /events watch it next to the request context.
var serverBaseCtx = context.Background()

// SetBaseContext installs the shutdown context; nil restores Background.
func SetBaseContext(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	serverBaseCtx = ctx
}

// joinContexts derives a context from req that is also cancelled when base
// is done. The cancel func must be called when the handler returns.
func joinContexts(base, req context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(req)
	stop := context.AfterFunc(base, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}
