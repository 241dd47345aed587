package resilience

import "github.com/jonwraymond/taskops"

// Transform decorates an operation with a resilience behavior.
type Transform[T any] func(taskops.Operation[T]) taskops.Operation[T]

// Pipe applies transforms to op left to right: the first transform is the
// innermost wrapper, closest to the operation.
func Pipe[T any](op taskops.Operation[T], transforms ...Transform[T]) taskops.Operation[T] {
	for _, tr := range transforms {
		op = tr(op)
	}
	return op
}
