package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

// deviceLocks hands out one exclusive slot per device id
type deviceLocks struct {
	slots   *xsync.MapOf[string, chan struct{}]
	timeout time.Duration
}

func newDeviceLocks(timeout time.Duration) *deviceLocks {
	return &deviceLocks{
		slots:   xsync.NewMapOf[string, chan struct{}](),
		timeout: timeout,
	}
}

// lock blocks until the slot of deviceID is free or ctx is done
func (l *deviceLocks) lock(ctx context.Context, deviceID string) (func(), error) {
	slot, _ := l.slots.LoadOrCompute(deviceID, func() chan struct{} {
		return make(chan struct{}, 1)
	})

	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}

	select {
	case slot <- struct{}{}:
		return func() { <-slot }, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("device %s is busy: %w", deviceID, ctx.Err())
	}
}
