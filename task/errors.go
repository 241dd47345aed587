package task

import "errors"

// Sentinel errors for task operations.
var (
	// ErrNoOperation is returned by Run when no operation is defined.
	ErrNoOperation = errors.New("task: no operation defined")

	// ErrDisposed is returned by Run after Dispose has been called.
	ErrDisposed = errors.New("task: task is disposed")
)
