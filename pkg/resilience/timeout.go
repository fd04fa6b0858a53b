package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nimburion/backupstore/pkg/storeerr"
)

// ErrTimeout is returned when an operation exceeds its timeout. It classifies as
// storeerr.ErrRetryable.
var ErrTimeout = fmt.Errorf("%w: operation timed out", storeerr.ErrRetryable)

// WithTimeout runs fn with a context bounded by timeout. A non-positive timeout leaves
// the caller's context untouched. When the bound elapses before fn returns, ErrTimeout
// is returned; cancellation of the parent context is reported as is.
func WithTimeout(ctx context.Context, timeout time.Duration, fn func(context.Context) error) error {
	if timeout <= 0 {
		return fn(ctx)
	}
	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- fn(timeoutCtx)
	}()

	select {
	case err := <-done:
		return err
	case <-timeoutCtx.Done():
		if ctx.Err() == nil && errors.Is(timeoutCtx.Err(), context.DeadlineExceeded) {
			return ErrTimeout
		}
		return timeoutCtx.Err()
	}
}
