package task

// State is an immutable snapshot of a task.
//
// It is passed and stored by value: a snapshot handed to a listener or
// returned by Task.State is never mutated by later task activity.
type State[T any] struct {
	// Data is the last successful result. It persists across failures and
	// cancellations until overwritten by a newer success or a Reset.
	Data T

	// HasData reports whether Data holds a result.
	HasData bool

	// Err is the last genuine operation failure. Cancellations are never
	// recorded here. Cleared at the start of every new run.
	Err error

	// Loading is true exactly while the task's current invocation is
	// outstanding.
	Loading bool

	// Stale is true until the first run is started, distinguishing
	// "never run" from "ran and is idle". Reset restores it.
	Stale bool
}

// initialState is the snapshot a task starts with and returns to on Reset.
func initialState[T any]() State[T] {
	return State[T]{Stale: true}
}
