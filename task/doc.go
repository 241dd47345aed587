// Package task provides a single-slot, cancellable, latest-result-wins
// holder for asynchronous values.
//
// A Task owns at most one active invocation of its operation at a time.
// Starting a new run cancels the previous one and bumps an internal
// generation counter; a settlement from an older generation never mutates
// the task's state, regardless of settlement order. Subscribers receive an
// immutable snapshot of the state on every transition, starting with the
// current state at subscription time.
package task
