// Package resilience provides operation-to-operation combinators: retry
// with backoff, timeouts, debounce/throttle/queue rate limiting, a circuit
// breaker and orchestration helpers.
//
// Every combinator is a [Transform]: it takes an operation and returns a
// decorated operation. Composition order is caller-controlled with [Pipe]:
//
//	op = resilience.Pipe(op,
//	    resilience.Retry[User](2, nil),
//	    resilience.Timeout[User](5*time.Second),
//	)
//
// Combinators are transparent to the failure taxonomy: cancellation and
// timeout kinds pass through unmodified, except where conversion is the
// combinator's purpose (TimeoutCancel normalizes a deadline-caused
// cancellation into ErrTimeout). Cancellation is never retried and never
// counts as a circuit failure.
package resilience
