package taskops

import "context"

// Operation is a cancellable unit of asynchronous work.
//
// Contract:
// - Exactly one outcome: a call returns either a value or an error, once.
// - Cancellation: the context is the cancellation token. An operation that
//   stops because its context was cancelled must return an error wrapping
//   context.Canceled (returning ctx.Err() satisfies this).
// - Concurrency: an Operation must be safe for concurrent invocation; any
//   state it closes over is its own responsibility.
type Operation[T any] func(ctx context.Context, args ...any) (T, error)

// Value returns an operation that always succeeds with v.
func Value[T any](v T) Operation[T] {
	return func(context.Context, ...any) (T, error) {
		return v, nil
	}
}

// Fail returns an operation that always fails with err.
func Fail[T any](err error) Operation[T] {
	return func(context.Context, ...any) (T, error) {
		var zero T
		return zero, err
	}
}

// Recover wraps op so that a genuine failure is handed to handler, which may
// produce a replacement value or a replacement error. Cancellation passes
// through unchanged: a superseded or cancelled call is not a failure to
// recover from.
func Recover[T any](op Operation[T], handler func(ctx context.Context, err error) (T, error)) Operation[T] {
	return func(ctx context.Context, args ...any) (T, error) {
		v, err := op(ctx, args...)
		if err == nil || IsCanceled(err) {
			return v, err
		}
		return handler(ctx, err)
	}
}

// Map transforms an operation's successful result. Failures pass through.
func Map[T, U any](op Operation[T], f func(T) U) Operation[U] {
	return func(ctx context.Context, args ...any) (U, error) {
		v, err := op(ctx, args...)
		if err != nil {
			var zero U
			return zero, err
		}
		return f(v), nil
	}
}
