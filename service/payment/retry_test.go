package payment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type attemptResult struct {
	ok bool
}

func TestWithRetry(t *testing.T) {
	t.Run("returns immediately on first success", func(t *testing.T) {
		calls := 0
		got, err := WithRetry(context.Background(), 3, time.Millisecond,
			func(ctx context.Context) (attemptResult, error) {
				calls++
				return attemptResult{ok: true}, nil
			},
			func(r attemptResult) bool { return r.ok })
		require.NoError(t, err)
		assert.True(t, got.ok)
		assert.Equal(t, 1, calls)
	})

	t.Run("stops at first success after failures", func(t *testing.T) {
		calls := 0
		got, err := WithRetry(context.Background(), 5, time.Millisecond,
			func(ctx context.Context) (attemptResult, error) {
				calls++
				if calls < 3 {
					return attemptResult{}, errors.New("transient")
				}
				return attemptResult{ok: true}, nil
			},
			func(r attemptResult) bool { return r.ok })
		require.NoError(t, err)
		assert.True(t, got.ok)
		assert.Equal(t, 3, calls)
	})

	t.Run("exhausts attempts and returns last error", func(t *testing.T) {
		calls := 0
		_, err := WithRetry(context.Background(), 3, time.Millisecond,
			func(ctx context.Context) (attemptResult, error) {
				calls++
				return attemptResult{}, errors.New("still failing")
			},
			func(r attemptResult) bool { return r.ok })
		assert.Error(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("unsuccessful result without error still retries", func(t *testing.T) {
		calls := 0
		got, err := WithRetry(context.Background(), 3, time.Millisecond,
			func(ctx context.Context) (attemptResult, error) {
				calls++
				return attemptResult{ok: false}, nil
			},
			func(r attemptResult) bool { return r.ok })
		require.NoError(t, err)
		assert.False(t, got.ok)
		assert.Equal(t, 3, calls)
	})

	t.Run("context cancellation interrupts the delay", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		calls := 0
		done := make(chan struct{})
		go func() {
			defer close(done)
			_, err := WithRetry(ctx, 10, time.Minute,
				func(ctx context.Context) (attemptResult, error) {
					calls++
					return attemptResult{}, errors.New("nope")
				},
				func(r attemptResult) bool { return r.ok })
			assert.ErrorIs(t, err, context.Canceled)
		}()
		time.Sleep(10 * time.Millisecond)
		cancel()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("retry did not observe cancellation")
		}
		assert.Equal(t, 1, calls)
	})

	t.Run("clamps nonpositive attempt counts to one", func(t *testing.T) {
		calls := 0
		_, err := WithRetry(context.Background(), 0, time.Millisecond,
			func(ctx context.Context) (attemptResult, error) {
				calls++
				return attemptResult{}, errors.New("nope")
			},
			func(r attemptResult) bool { return r.ok })
		assert.Error(t, err)
		assert.Equal(t, 1, calls)
	})
}
