package resilience

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/jonwraymond/taskops"
	"github.com/jonwraymond/taskops/observe"
)

// Retry re-invokes the operation up to retries additional times on genuine
// failure, for retries+1 attempts total. Negative retries is clamped to 0.
//
// A cancellation-classified failure aborts immediately without further
// attempts. onRetry (may be nil) fires once per attempt that will be
// retried, not on the final terminal failure; attempt is 1-based.
func Retry[T any](retries int, onRetry func(attempt int, err error)) Transform[T] {
	if retries < 0 {
		retries = 0
	}
	return func(op taskops.Operation[T]) taskops.Operation[T] {
		return func(ctx context.Context, args ...any) (T, error) {
			var zero T
			var lastErr error

			for attempt := 1; attempt <= retries+1; attempt++ {
				v, err := op(ctx, args...)
				if err == nil {
					return v, nil
				}
				if taskops.IsCanceled(err) {
					return zero, err
				}
				lastErr = err
				if attempt <= retries && onRetry != nil {
					onRetry(attempt, err)
				}
			}

			return zero, lastErr
		}
	}
}

// RetryWhenConfig configures RetryWhen.
type RetryWhenConfig struct {
	// MaxAttempts is the maximum number of attempts (including initial).
	// Default: 3
	MaxAttempts int

	// Delay computes the wait before the next attempt. Nil means no wait.
	// The wait is cancellable: if the context fires during it, the call
	// settles immediately with the context's error.
	Delay func(attempt int, err error) time.Duration

	// OnRetry is called before each retry attempt.
	OnRetry func(attempt int, err error)

	// Metrics, when set, records each retried attempt.
	Metrics observe.Metrics

	// Meta labels the metric records.
	Meta observe.OpMeta
}

// RetryWhen retries while predicate returns true for the failure, up to
// MaxAttempts total attempts. Cancellation aborts immediately and is never
// passed to the predicate.
func RetryWhen[T any](predicate func(ctx context.Context, err error, attempt int) bool, config RetryWhenConfig) Transform[T] {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 3
	}
	return func(op taskops.Operation[T]) taskops.Operation[T] {
		return func(ctx context.Context, args ...any) (T, error) {
			var zero T
			var lastErr error

			for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
				v, err := op(ctx, args...)
				if err == nil {
					return v, nil
				}
				if taskops.IsCanceled(err) {
					return zero, err
				}
				lastErr = err

				if attempt >= config.MaxAttempts || !predicate(ctx, err, attempt) {
					break
				}

				if config.OnRetry != nil {
					config.OnRetry(attempt, err)
				}
				if config.Metrics != nil {
					config.Metrics.RecordRetry(ctx, config.Meta, attempt)
				}

				if config.Delay != nil {
					if werr := sleep(ctx, config.Delay(attempt, err)); werr != nil {
						return zero, werr
					}
				}
			}

			return zero, lastErr
		}
	}
}

// sleep waits for d or until ctx fires, whichever comes first.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// BackoffConfig configures Backoff.
type BackoffConfig struct {
	// InitialInterval is the delay before the first retry.
	// Default: 100ms
	InitialInterval time.Duration

	// MaxInterval caps the delay between retries.
	// Default: 30s
	MaxInterval time.Duration

	// Multiplier is the exponential growth factor.
	// Default: 2.0
	Multiplier float64

	// MaxAttempts is the maximum number of attempts (including initial).
	// Default: 3
	MaxAttempts int

	// ShouldRetry gates retries; nil retries every genuine failure.
	ShouldRetry func(err error) bool

	// OnRetry is called before each retry attempt.
	OnRetry func(attempt int, err error)

	// Metrics, when set, records each retried attempt.
	Metrics observe.Metrics

	// Meta labels the metric records.
	Meta observe.OpMeta
}

// Backoff retries with an exponential delay schedule. It is built on
// RetryWhen; the schedule comes from cenkalti/backoff, one instance per
// invocation so concurrent calls do not share delay state.
func Backoff[T any](config BackoffConfig) Transform[T] {
	if config.InitialInterval <= 0 {
		config.InitialInterval = 100 * time.Millisecond
	}
	if config.MaxInterval <= 0 {
		config.MaxInterval = 30 * time.Second
	}
	if config.Multiplier <= 0 {
		config.Multiplier = 2.0
	}

	predicate := func(_ context.Context, err error, _ int) bool {
		return config.ShouldRetry == nil || config.ShouldRetry(err)
	}

	return func(op taskops.Operation[T]) taskops.Operation[T] {
		return func(ctx context.Context, args ...any) (T, error) {
			eb := backoff.NewExponentialBackOff()
			eb.InitialInterval = config.InitialInterval
			eb.MaxInterval = config.MaxInterval
			eb.Multiplier = config.Multiplier
			eb.Reset()

			inner := RetryWhen[T](predicate, RetryWhenConfig{
				MaxAttempts: config.MaxAttempts,
				Delay: func(int, error) time.Duration {
					return eb.NextBackOff()
				},
				OnRetry: config.OnRetry,
				Metrics: config.Metrics,
				Meta:    config.Meta,
			})(op)

			return inner(ctx, args...)
		}
	}
}
