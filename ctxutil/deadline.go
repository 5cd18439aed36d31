package ctxutil

import (
	"context"
	"time"
)

// WithGracePeriod returns a context that outlives parent by grace. The CLI uses
// it so an interrupted download can still flush its bookkeeping files.
func WithGracePeriod(parent context.Context, grace time.Duration) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))
	stop := context.AfterFunc(parent, func() {
		time.AfterFunc(grace, cancel)
	})
	return ctx, func() {
		stop()
		cancel()
	}
}
