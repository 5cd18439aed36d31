package ctxutil_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/xeptore/melo/ctxutil"
)

type ctxKey struct{}

func TestWithGracePeriod(t *testing.T) {
	t.Parallel()

	t.Run("initially_active", func(t *testing.T) {
		t.Parallel()

		parentCtx, parentCancel := context.WithCancel(context.WithValue(t.Context(), ctxKey{}, "v"))
		defer parentCancel()

		ctx, cancel := ctxutil.WithGracePeriod(parentCtx, time.Second)
		defer cancel()

		assert.NoError(t, ctx.Err())
		assert.Equal(t, "v", ctx.Value(ctxKey{}))
	})

	t.Run("cancels_after_grace", func(t *testing.T) {
		t.Parallel()

		parentCtx, parentCancel := context.WithCancel(t.Context())
		defer parentCancel()

		grace := 200 * time.Millisecond
		ctx, cancel := ctxutil.WithGracePeriod(parentCtx, grace)
		defer cancel()

		start := time.Now()
		parentCancel()

		select {
		case <-ctx.Done():
			assert.Fail(t, "expected returned context to remain active immediately after parent cancellation")
		default:
		}

		select {
		case <-ctx.Done():
			assert.GreaterOrEqual(t, time.Since(start), grace)
		case <-time.After(grace + time.Second):
			assert.Fail(t, "expected returned context to be canceled after the grace period")
		}
	})

	t.Run("cancel_func", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := ctxutil.WithGracePeriod(t.Context(), time.Hour)
		cancel()
		assert.ErrorIs(t, ctx.Err(), context.Canceled)
	})
}
