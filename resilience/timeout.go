package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/jonwraymond/taskops"
)

type settlement[T any] struct {
	value T
	err   error
}

// Timeout races the operation against a deadline. On deadline it settles
// with ErrTimeout WITHOUT cancelling the underlying operation: the
// invocation may run to completion and its eventual result is discarded.
// External cancellation still settles the call with the cancellation kind.
func Timeout[T any](d time.Duration) Transform[T] {
	return func(op taskops.Operation[T]) taskops.Operation[T] {
		return func(ctx context.Context, args ...any) (T, error) {
			var zero T

			done := make(chan settlement[T], 1)
			go func() {
				v, err := op(ctx, args...)
				done <- settlement[T]{value: v, err: err}
			}()

			timer := time.NewTimer(d)
			defer timer.Stop()

			select {
			case s := <-done:
				return s.value, s.err
			case <-timer.C:
				return zero, ErrTimeout
			case <-ctx.Done():
				return zero, ctx.Err()
			}
		}
	}
}

// TimeoutCancel races the operation against a deadline and, on deadline,
// additionally cancels the operation's context. A failure the deadline
// caused — whether the operation reports context.DeadlineExceeded or a bare
// cancellation — is normalized into ErrTimeout, so callers always see the
// timeout kind when the deadline, not an external cancel, ended the call.
func TimeoutCancel[T any](d time.Duration) Transform[T] {
	return func(op taskops.Operation[T]) taskops.Operation[T] {
		return func(ctx context.Context, args ...any) (T, error) {
			var zero T

			tctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()

			done := make(chan settlement[T], 1)
			go func() {
				v, err := op(tctx, args...)
				done <- settlement[T]{value: v, err: err}
			}()

			select {
			case s := <-done:
				if s.err != nil && deadlineCaused(ctx, tctx, s.err) {
					return zero, ErrTimeout
				}
				return s.value, s.err
			case <-tctx.Done():
				if ctx.Err() != nil {
					// External cancellation, not the deadline.
					return zero, ctx.Err()
				}
				return zero, ErrTimeout
			}
		}
	}
}

// deadlineCaused reports whether err is a cancellation or deadline failure
// attributable to tctx's deadline rather than external cancellation.
func deadlineCaused(parent, tctx context.Context, err error) bool {
	if parent.Err() != nil {
		return false
	}
	if !errors.Is(tctx.Err(), context.DeadlineExceeded) {
		return false
	}
	return taskops.IsCanceled(err) || errors.Is(err, context.DeadlineExceeded)
}

// TimeoutWith settles with the fallback operation's outcome on timeout
// only. Other failures, including cancellation, propagate unchanged.
func TimeoutWith[T any](d time.Duration, fallback taskops.Operation[T]) Transform[T] {
	return func(op taskops.Operation[T]) taskops.Operation[T] {
		timed := Timeout[T](d)(op)
		return func(ctx context.Context, args ...any) (T, error) {
			v, err := timed(ctx, args...)
			if errors.Is(err, ErrTimeout) {
				return fallback(ctx, args...)
			}
			return v, err
		}
	}
}
