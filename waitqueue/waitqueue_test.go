package waitqueue_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xeptore/melo/waitqueue"
)

func TestWaitQueue(t *testing.T) {
	t.Parallel()

	t.Run("interval_capacity", func(t *testing.T) {
		t.Parallel()

		interval := 300 * time.Millisecond
		wq := waitqueue.New(t.Context(), 2, interval, 0)
		defer wq.Close()

		start := time.Now()
		calls := 0
		for range 3 {
			require.NoError(t, wq.Do(t.Context(), func() error { calls++; return nil }))
		}
		assert.Equal(t, 3, calls)
		assert.GreaterOrEqual(t, time.Since(start), interval-50*time.Millisecond)
	})

	t.Run("spacing", func(t *testing.T) {
		t.Parallel()

		spacing := 100 * time.Millisecond
		wq := waitqueue.New(t.Context(), 100, time.Minute, spacing)
		defer wq.Close()

		start := time.Now()
		for range 3 {
			require.NoError(t, wq.Do(t.Context(), func() error { return nil }))
		}
		assert.GreaterOrEqual(t, time.Since(start), 2*spacing)
	})

	t.Run("fn_error", func(t *testing.T) {
		t.Parallel()

		wq := waitqueue.New(t.Context(), 1, time.Minute, 0)
		defer wq.Close()

		errBoom := errors.New("boom")
		assert.ErrorIs(t, wq.Do(t.Context(), func() error { return errBoom }), errBoom)
	})

	t.Run("context_canceled_while_full", func(t *testing.T) {
		t.Parallel()

		wq := waitqueue.New(t.Context(), 1, time.Minute, 0)
		defer wq.Close()

		require.NoError(t, wq.Do(t.Context(), func() error { return nil }))

		ctx, cancel := context.WithTimeout(t.Context(), 50*time.Millisecond)
		defer cancel()
		err := wq.Do(ctx, func() error { return nil })
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}
