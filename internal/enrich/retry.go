package enrich

import (
	"context"
	"time"

	"github.com/JonMunkholm/shelver/internal/apperr"
)

// Retry defaults.
const (
	DefaultRetryAttempts  = 3
	DefaultRetryBaseDelay = 1 * time.Second
	DefaultRetryMaxDelay  = 30 * time.Second
)

// Retrier runs a call up to Attempts times with doubling delays between
// attempts: base, base*2, base*4. Only retryable errors are retried.
type Retrier struct {
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
	// Sleeper overrides how delays are waited out (useful for tests).
	Sleeper func(time.Duration)
}

func (r Retrier) attempts() int {
	if r.Attempts <= 0 {
		return 1
	}
	return r.Attempts
}

// Delay returns the wait after the given 1-based failed attempt.
func (r Retrier) Delay(attempt int) time.Duration {
	base := r.BaseDelay
	if base <= 0 {
		return 0
	}
	maxDelay := r.MaxDelay
	if maxDelay <= 0 {
		maxDelay = DefaultRetryMaxDelay
	}
	delay := base
	for i := 1; i < attempt; i++ {
		if delay > maxDelay/2 {
			return maxDelay
		}
		delay *= 2
	}
	if delay > maxDelay {
		return maxDelay
	}
	return delay
}

func (r Retrier) sleep(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	if r.Sleeper != nil {
		r.Sleeper(delay)
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Retry runs fn under the ladder, each attempt bounded by timeout when it is
// positive. It returns the result, the number of calls made, and the last error.
func Retry[T any](ctx context.Context, r Retrier, timeout time.Duration, fn func(context.Context) (T, error)) (T, int, error) {
	var zero T
	limit := r.attempts()

	for attempt := 1; ; attempt++ {
		out, err := callOnce(ctx, timeout, fn)
		if err == nil {
			return out, attempt, nil
		}
		if attempt >= limit || !apperr.Retryable(err) || ctx.Err() != nil {
			return zero, attempt, err
		}
		if serr := r.sleep(ctx, r.Delay(attempt)); serr != nil {
			return zero, attempt, err
		}
	}
}

func callOnce[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return fn(ctx)
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(callCtx)
}
