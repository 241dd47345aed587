package resilience

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/jonwraymond/taskops"
)

// All runs the operations concurrently and resolves with their results in
// order once every one succeeds. The first failure wins and cancels the
// remaining invocations.
func All[T any](ops ...taskops.Operation[T]) taskops.Operation[[]T] {
	return func(ctx context.Context, args ...any) ([]T, error) {
		g, gctx := errgroup.WithContext(ctx)
		results := make([]T, len(ops))
		for i, op := range ops {
			g.Go(func() error {
				v, err := op(gctx, args...)
				if err != nil {
					return err
				}
				results[i] = v
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		return results, nil
	}
}

// Pair holds the results of Zip.
type Pair[A, B any] struct {
	First  A
	Second B
}

// Zip runs two differently typed operations concurrently and resolves with
// both results once both succeed, propagating the first failure.
func Zip[A, B any](a taskops.Operation[A], b taskops.Operation[B]) taskops.Operation[Pair[A, B]] {
	return func(ctx context.Context, args ...any) (Pair[A, B], error) {
		var p Pair[A, B]
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			v, err := a(gctx, args...)
			if err != nil {
				return err
			}
			p.First = v
			return nil
		})
		g.Go(func() error {
			v, err := b(gctx, args...)
			if err != nil {
				return err
			}
			p.Second = v
			return nil
		})
		if err := g.Wait(); err != nil {
			return Pair[A, B]{}, err
		}
		return p, nil
	}
}

// Race settles with whichever operation settles first, success or failure,
// and cancels the rest.
func Race[T any](ops ...taskops.Operation[T]) taskops.Operation[T] {
	return func(ctx context.Context, args ...any) (T, error) {
		var zero T
		if len(ops) == 0 {
			return zero, ErrNoOperations
		}

		rctx, cancel := context.WithCancel(ctx)
		defer cancel()

		ch := make(chan settlement[T], len(ops))
		for _, op := range ops {
			go func() {
				v, err := op(rctx, args...)
				ch <- settlement[T]{value: v, err: err}
			}()
		}

		s := <-ch
		return s.value, s.err
	}
}

// Sequence runs the operations one at a time, threading the same context,
// and stops immediately if the context is already cancelled before the next
// one starts. The first failure aborts the sequence.
func Sequence[T any](ops ...taskops.Operation[T]) taskops.Operation[[]T] {
	return func(ctx context.Context, args ...any) ([]T, error) {
		results := make([]T, 0, len(ops))
		for _, op := range ops {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			v, err := op(ctx, args...)
			if err != nil {
				return nil, err
			}
			results = append(results, v)
		}
		return results, nil
	}
}
