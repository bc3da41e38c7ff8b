package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUniformJitter_Bounds(t *testing.T) {
	j := DefaultJitter()
	for i := 0; i < 10000; i++ {
		d := j()
		require.GreaterOrEqual(t, d, 10*time.Millisecond)
		require.Less(t, d, 100*time.Millisecond)
	}
	assert.Equal(t, 5*time.Millisecond, UniformJitter(5*time.Millisecond, 5*time.Millisecond)())
}

func TestRetryForever_FailsThenSucceeds(t *testing.T) {
	const failures = 4
	var (
		calls  int
		errs   []int
		sleeps []time.Duration
	)
	policy := Policy{
		OnError: func(attempt int, _ error) { errs = append(errs, attempt) },
		Sleep: func(_ context.Context, d time.Duration) error {
			sleeps = append(sleeps, d)
			return nil
		},
	}

	res, err := RetryForever(context.Background(), policy, func(context.Context) (string, error) {
		calls++
		if calls <= failures {
			return "", fmt.Errorf("transient %d", calls)
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", res)
	assert.Equal(t, failures+1, calls)
	assert.Equal(t, []int{1, 2, 3, 4}, errs)
	require.Len(t, sleeps, failures)
	for _, d := range sleeps {
		assert.GreaterOrEqual(t, d, 10*time.Millisecond)
		assert.Less(t, d, 100*time.Millisecond)
	}
}

func TestRetryForever_StopSignal(t *testing.T) {
	var errCount int
	policy := Policy{
		OnError: func(int, error) { errCount++ },
		Sleep:   func(context.Context, time.Duration) error { return nil },
	}
	_, err := RetryForever(context.Background(), policy, func(context.Context) (int, error) {
		return 0, errors.New("provider raised KeyboardInterrupt")
	})
	require.ErrorIs(t, err, ErrStopped)
	assert.Equal(t, 1, errCount)
}

func TestRetryForever_ContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var (
		mu       sync.Mutex
		errCount int
	)
	policy := Policy{OnError: func(int, error) {
		mu.Lock()
		errCount++
		mu.Unlock()
	}}

	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err := RetryForever(ctx, policy, func(ctx context.Context) (int, error) {
		return 0, errors.New("always failing")
	})
	require.ErrorIs(t, err, context.Canceled)
	mu.Lock()
	defer mu.Unlock()
	assert.Positive(t, errCount)
}

func TestRetryForever_CancelDuringCallNotCounted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var errCount int
	policy := Policy{OnError: func(int, error) { errCount++ }}

	_, err := RetryForever(ctx, policy, func(ctx context.Context) (int, error) {
		cancel()
		return 0, ctx.Err()
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, errCount)
}

func TestIsStop(t *testing.T) {
	assert.False(t, IsStop(nil))
	assert.False(t, IsStop(errors.New("connection reset")))
	assert.True(t, IsStop(context.Canceled))
	assert.True(t, IsStop(fmt.Errorf("call: %w", context.Canceled)))
	assert.False(t, IsStop(fmt.Errorf("call: %w", context.DeadlineExceeded)))
	assert.True(t, IsStop(errors.New("worker interrupted")))
	assert.True(t, IsStop(errors.New("KeyboardInterrupt")))
}

func TestSleepContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	assert.ErrorIs(t, SleepContext(ctx, time.Hour), context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
	assert.NoError(t, SleepContext(context.Background(), time.Millisecond))
}
