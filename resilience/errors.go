package resilience

import "errors"

// Sentinel errors for resilience operations.
var (
	// ErrTimeout is returned when an operation exceeds its deadline. It is
	// a distinguished kind: only the timeout combinators produce it, and
	// TimeoutCancel converts a deadline-caused cancellation into it so
	// callers never mistake "deadline exceeded" for "externally cancelled".
	ErrTimeout = errors.New("resilience: operation timed out")

	// ErrCircuitOpen is returned when the circuit breaker is open.
	ErrCircuitOpen = errors.New("resilience: circuit breaker is open")

	// ErrNoOperations is returned by orchestration helpers given no
	// operations.
	ErrNoOperations = errors.New("resilience: no operations provided")
)
