package resilience

import (
	"context"
	"errors"
	"time"
)

// ErrDeadlineExceeded is returned by RetryUntil when the retry window elapses.
var ErrDeadlineExceeded = errors.New("retry deadline exceeded")

// RetryPolicy bounds RetryUntil.
type RetryPolicy struct {
	// InitialDelay is the pause after the first failed attempt.
	InitialDelay time.Duration
	// MaxDelay caps the exponential growth of the pause.
	MaxDelay time.Duration
	// Deadline is the overall retry window measured from the first attempt.
	Deadline time.Duration
}

func (p RetryPolicy) normalize() RetryPolicy {
	if p.InitialDelay <= 0 {
		p.InitialDelay = time.Second
	}
	if p.MaxDelay < p.InitialDelay {
		p.MaxDelay = p.InitialDelay
	}
	if p.Deadline <= 0 {
		p.Deadline = 30 * time.Second
	}
	return p
}

// Delay returns the pause after the given zero-based failed attempt.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	p = p.normalize()
	delay := p.InitialDelay
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	return delay
}

// RetryUntil calls fn until it reports done, returns a non-retryable error, the policy
// deadline elapses or ctx is cancelled. fn returns retry=true together with the error
// that triggered the retry; that error is joined into ErrDeadlineExceeded when the
// window closes.
func RetryUntil(ctx context.Context, policy RetryPolicy, fn func(context.Context) (retry bool, err error)) error {
	policy = policy.normalize()
	deadline := time.Now().Add(policy.Deadline)

	for attempt := 0; ; attempt++ {
		retry, err := fn(ctx)
		if !retry {
			return err
		}

		delay := policy.Delay(attempt)
		if time.Now().Add(delay).After(deadline) {
			return errors.Join(ErrDeadlineExceeded, err)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Join(ctx.Err(), err)
		case <-timer.C:
		}
	}
}
