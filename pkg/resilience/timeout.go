package resilience

import (
	"context"
	"fmt"
	"time"
)

// WithTimeout runs fn under a context cancelled after timeout and returns as
// soon as either fn finishes or the deadline passes. fn keeps running in the
// background after a timeout, so it must honour ctx. A non-positive timeout
// runs fn directly.
func WithTimeout(ctx context.Context, timeout time.Duration, name string, fn func(ctx context.Context) error) error {
	if timeout <= 0 {
		return fn(ctx)
	}
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- fn(tctx) }()

	select {
	case err := <-done:
		return err
	case <-tctx.Done():
		if ctx.Err() != nil {
			return fmt.Errorf("%s: parent context cancelled: %w", name, ctx.Err())
		}
		return fmt.Errorf("%s: %w (limit: %v)", name, context.DeadlineExceeded, timeout)
	}
}
