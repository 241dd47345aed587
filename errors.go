package taskops

import (
	"context"
	"errors"
	"fmt"
)

// OperationError wraps a non-error failure value (for example a panic value)
// so it can travel through error returns while preserving its string form.
type OperationError struct {
	Value any
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("taskops: operation failed: %v", e.Value)
}

// IsCanceled reports whether err is classified as a cancellation: the run
// was superseded or explicitly cancelled. Deadline expiry is not a
// cancellation; the timeout combinators produce their own distinguished kind.
func IsCanceled(err error) bool {
	return errors.Is(err, context.Canceled)
}

// Normalize converts an arbitrary failure value into an error. Error values
// pass through unchanged; anything else is wrapped in an *OperationError.
func Normalize(v any) error {
	if v == nil {
		return nil
	}
	if err, ok := v.(error); ok {
		return err
	}
	return &OperationError{Value: v}
}
