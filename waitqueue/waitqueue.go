package waitqueue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// WaitQueue paces calls to a remote service: at most one call every spacing,
// and at most capacity calls per interval.
type WaitQueue struct {
	timer           *time.Timer
	spacing         time.Duration
	capacity        int32
	intervalTicker  *time.Ticker
	intervalCounter atomic.Int32
	sendLock        *sync.Mutex
	cancelTicker    context.CancelFunc
	done            chan struct{}
}

func New(ctx context.Context, capacity int32, interval, spacing time.Duration) *WaitQueue {
	ctx, cancel := context.WithCancel(ctx)
	wq := &WaitQueue{
		timer:           time.NewTimer(0),
		spacing:         spacing,
		capacity:        max(capacity, 1),
		done:            make(chan struct{}),
		intervalTicker:  time.NewTicker(interval),
		intervalCounter: atomic.Int32{},
		sendLock:        &sync.Mutex{},
		cancelTicker:    cancel,
	}

	go wq.runTicker(ctx)
	return wq
}

func (w *WaitQueue) runTicker(ctx context.Context) {
	defer close(w.done)
	defer w.intervalTicker.Stop()
	for {
		select {
		case <-w.intervalTicker.C:
			w.intervalCounter.Store(0)
		case <-ctx.Done():
			return
		}
	}
}

func (w *WaitQueue) Close() {
	w.cancelTicker()
	<-w.done
}

// Do runs fn once a slot is free. fn errors are returned as is and still
// consume the slot.
func (w *WaitQueue) Do(ctx context.Context, fn func() error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-w.timer.C:
	}
	defer w.timer.Reset(w.spacing)

	for {
		if err := w.trySend(fn); nil != err {
			if errors.Is(err, errIntervalCapReached) {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(max(w.spacing, 10*time.Millisecond)):
				}
				continue
			}
			return err
		}
		return nil
	}
}

var errIntervalCapReached = errors.New("wait queue interval capacity has reached, waiting for next interval")

func (w *WaitQueue) trySend(fn func() error) error {
	w.sendLock.Lock()
	defer w.sendLock.Unlock()

	if c := w.intervalCounter.Load(); c < w.capacity {
		w.intervalCounter.Add(1)
		return fn()
	}
	return errIntervalCapReached
}
