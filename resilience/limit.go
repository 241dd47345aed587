package resilience

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/jonwraymond/taskops"
)

// Debounce executes only the most recent call within the wait window. Every
// superseded call settles with a cancellation-classified failure as soon as
// it is superseded. Each wrapping holds its own window state.
func Debounce[T any](wait time.Duration) Transform[T] {
	return func(op taskops.Operation[T]) taskops.Operation[T] {
		var (
			mu         sync.Mutex
			generation uint64
			supersede  context.CancelFunc
		)
		return func(ctx context.Context, args ...any) (T, error) {
			var zero T

			mu.Lock()
			generation++
			gen := generation
			if supersede != nil {
				supersede()
			}
			wctx, cancel := context.WithCancel(ctx)
			supersede = cancel
			mu.Unlock()
			defer cancel()

			timer := time.NewTimer(wait)
			defer timer.Stop()

			select {
			case <-wctx.Done():
				// Superseded by a newer call, or externally cancelled.
				return zero, wctx.Err()
			case <-timer.C:
			}

			mu.Lock()
			if generation != gen {
				mu.Unlock()
				return zero, context.Canceled
			}
			// The wait is over; the executing call is no longer in the
			// window and must not be cancelled by the next arrival.
			supersede = nil
			mu.Unlock()

			return op(ctx, args...)
		}
	}
}

// throttleFlight is one window's shared in-flight result.
type throttleFlight[T any] struct {
	done  chan struct{}
	value T
	err   error
}

// Throttle executes the first call in each window; calls arriving before
// the window elapses share the first call's in-flight result (and its
// cancellation token). After the window, a new call starts a fresh window.
func Throttle[T any](window time.Duration) Transform[T] {
	return func(op taskops.Operation[T]) taskops.Operation[T] {
		var (
			mu        sync.Mutex
			windowEnd time.Time
			current   *throttleFlight[T]
		)
		return func(ctx context.Context, args ...any) (T, error) {
			mu.Lock()
			now := time.Now()
			if current == nil || now.After(windowEnd) {
				f := &throttleFlight[T]{done: make(chan struct{})}
				current = f
				windowEnd = now.Add(window)
				mu.Unlock()

				v, err := op(ctx, args...)
				f.value, f.err = v, err
				close(f.done)
				return v, err
			}
			f := current
			mu.Unlock()

			<-f.done
			return f.value, f.err
		}
	}
}

// Queue serializes calls with an upper bound on simultaneously executing
// invocations (default 1). Waiters are dispatched in arrival order as
// capacity frees up; a waiter whose context fires settles with the
// cancellation kind without executing.
func Queue[T any](concurrency int) Transform[T] {
	if concurrency <= 0 {
		concurrency = 1
	}
	return func(op taskops.Operation[T]) taskops.Operation[T] {
		sem := semaphore.NewWeighted(int64(concurrency))
		return func(ctx context.Context, args ...any) (T, error) {
			if err := sem.Acquire(ctx, 1); err != nil {
				var zero T
				return zero, err
			}
			defer sem.Release(1)
			return op(ctx, args...)
		}
	}
}
