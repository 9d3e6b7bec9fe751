package payment

import (
	"context"
	"time"
)

// WithRetry invokes op up to maxAttempts times with a fixed delay between
// attempts, returning the first result ok reports as successful. After the
// final attempt the last result and error are returned as-is so the caller
// can inspect what actually happened. The delay wait honors ctx cancellation.
func WithRetry[T any](ctx context.Context, maxAttempts int, delay time.Duration, op func(context.Context) (T, error), ok func(T) bool) (T, error) {
	var (
		result T
		err    error
	)
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result, err = op(ctx)
		if err == nil && ok(result) {
			return result, nil
		}
		if attempt == maxAttempts {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return result, ctx.Err()
		}
	}
	return result, err
}
