// Package resilience holds the retry loop shared by the write and query
// worker pools.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"
)

// ErrStopped is returned when an attempt failed with a cooperative stop
// signal rather than a transient fault.
var ErrStopped = errors.New("retry stopped")

// Default jitter bounds between attempts.
const (
	DefaultMinJitter = 10 * time.Millisecond
	DefaultMaxJitter = 100 * time.Millisecond
)

// stopMarkers are substrings that mark an error as an interrupt relayed by
// the provider rather than a provider fault.
var stopMarkers = []string{"KeyboardInterrupt", "interrupted"}

// Policy configures RetryForever. The zero value uses DefaultJitter.
type Policy struct {
	// Jitter returns the pause before the next attempt.
	Jitter func() time.Duration
	// OnError observes every failed attempt, including the one carrying a
	// stop signal. It is not called when ctx is done.
	OnError func(attempt int, err error)
	// Sleep waits for d or until ctx is done. Tests replace it.
	Sleep func(ctx context.Context, d time.Duration) error
}

// UniformJitter returns a jitter source drawing uniformly from [min, max).
func UniformJitter(min, max time.Duration) func() time.Duration {
	if max <= min {
		return func() time.Duration { return min }
	}
	span := int64(max - min)
	return func() time.Duration {
		return min + time.Duration(rand.Int64N(span))
	}
}

// DefaultJitter draws from [10ms, 100ms).
func DefaultJitter() func() time.Duration {
	return UniformJitter(DefaultMinJitter, DefaultMaxJitter)
}

// IsStop reports whether err is a cancellation or a relayed interrupt. A
// deadline is not a stop: provider-side timeouts are retried.
func IsStop(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return true
	}
	msg := err.Error()
	for _, m := range stopMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// SleepContext waits for d or until ctx is done.
func SleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// RetryForever calls fn until it succeeds. There is no attempt limit: it
// returns ctx.Err() once ctx is done, or an error wrapping ErrStopped when fn
// fails with a stop signal.
func RetryForever[T any](ctx context.Context, policy Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	jitter := policy.Jitter
	if jitter == nil {
		jitter = DefaultJitter()
	}
	sleep := policy.Sleep
	if sleep == nil {
		sleep = SleepContext
	}

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		res, err := fn(ctx)
		if err == nil {
			return res, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return zero, ctxErr
		}

		if policy.OnError != nil {
			policy.OnError(attempt, err)
		}
		if IsStop(err) {
			return zero, fmt.Errorf("%w: %w", ErrStopped, err)
		}

		if err := sleep(ctx, jitter()); err != nil {
			return zero, err
		}
	}
}
