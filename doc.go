// Package taskops defines the operation contract shared by the task, cache
// and resilience packages.
//
// An [Operation] is a cancellable unit of asynchronous work that produces
// exactly one result or one error. The context passed to an operation is its
// cancellation token: combinators and the task primitive signal supersession
// and explicit cancellation by cancelling that context, and classify the
// resulting failure with [IsCanceled].
//
// The failure taxonomy is:
//
//   - Cancellation: an error wrapping [context.Canceled]. Never retried,
//     never recovered, never surfaced as a task error.
//   - Timeout: a distinguished kind produced only by the timeout combinators
//     in the resilience package.
//   - Operation failure: everything else. Non-error panic values are
//     normalized with [Normalize] so callers always see an error value.
package taskops
