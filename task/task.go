package task

import (
	"context"
	"sync"

	"github.com/jonwraymond/taskops"
	"github.com/jonwraymond/taskops/observe"
)

// Listener receives state snapshots.
type Listener[T any] func(State[T])

// Task is a stateful holder for one asynchronous value.
//
// Contract:
//   - Concurrency: all methods are safe for concurrent use.
//   - Ordering: only the latest run may write state. A run superseded by a
//     newer one has its context cancelled and its settlement discarded.
//   - Listeners: notified synchronously on every state transition; a
//     panicking listener is isolated and reported without affecting other
//     listeners or task state. Listeners must not synchronously call task
//     methods that themselves notify (Run, Cancel, Fulfill, Reset, Dispose,
//     Subscribe). When transitions race from different goroutines, each
//     listener receives every snapshot but delivery order between the racing
//     transitions is unspecified; State() always reflects the latest
//     transition.
type Task[T any] struct {
	mu         sync.Mutex
	notifyMu   sync.Mutex
	op         taskops.Operation[T]
	state      State[T]
	generation uint64
	cancel     context.CancelFunc
	listeners  map[int]Listener[T]
	nextID     int
	logger     observe.Logger
	disposed   bool
}

// Option configures a Task.
type Option[T any] func(*Task[T])

// WithLogger sets the logger used to report isolated listener failures.
func WithLogger[T any](logger observe.Logger) Option[T] {
	return func(t *Task[T]) {
		t.logger = logger
	}
}

// New creates a task wrapping op. The operation may be nil and defined later
// with Define.
func New[T any](op taskops.Operation[T], opts ...Option[T]) *Task[T] {
	t := &Task[T]{
		op:        op,
		state:     initialState[T](),
		listeners: make(map[int]Listener[T]),
		logger:    observe.NopLogger(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// NewValue creates a task pre-fulfilled with v. No operation is defined.
func NewValue[T any](v T, opts ...Option[T]) *Task[T] {
	t := New[T](nil, opts...)
	t.Fulfill(v)
	return t
}

// State returns the current snapshot.
func (t *Task[T]) State() State[T] {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Subscribe registers listener and immediately invokes it with the current
// snapshot, so a subscriber never waits for the next transition to observe
// state. The returned function removes the listener; it is idempotent.
func (t *Task[T]) Subscribe(listener Listener[T]) (unsubscribe func()) {
	t.mu.Lock()
	id := t.nextID
	t.nextID++
	t.listeners[id] = listener
	snapshot := t.state
	t.mu.Unlock()

	t.dispatch([]Listener[T]{listener}, snapshot)

	return func() {
		t.mu.Lock()
		delete(t.listeners, id)
		t.mu.Unlock()
	}
}

// Run starts a new invocation of the operation.
//
// Starting a run atomically cancels the previous in-flight invocation and
// advances the generation, then publishes a loading snapshot (Err cleared,
// Data preserved). Run blocks until its own invocation settles and returns
// that outcome: the value on success, the classified error on failure, and
// an error wrapping context.Canceled when the run was cancelled or
// superseded. A superseded run's outcome never mutates task state.
func (t *Task[T]) Run(ctx context.Context, args ...any) (T, error) {
	var zero T

	t.mu.Lock()
	if t.disposed {
		t.mu.Unlock()
		return zero, ErrDisposed
	}
	op := t.op
	if op == nil {
		t.mu.Unlock()
		return zero, ErrNoOperation
	}

	t.generation++
	gen := t.generation
	if t.cancel != nil {
		t.cancel()
	}
	runCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel

	st := t.state
	st.Err = nil
	st.Loading = true
	st.Stale = false
	t.state = st
	listeners := t.snapshotListenersLocked()
	t.mu.Unlock()

	t.dispatch(listeners, st)

	v, err := invoke(op, runCtx, args)
	cancel()

	t.mu.Lock()
	if t.generation != gen {
		// A newer run owns the state now; settle privately.
		t.mu.Unlock()
		if err != nil {
			return zero, err
		}
		return v, nil
	}
	t.cancel = nil

	st = t.state
	st.Loading = false
	switch {
	case err == nil:
		st.Data = v
		st.HasData = true
		st.Err = nil
	case taskops.IsCanceled(err):
		// Cancellation is not a failure; Err stays as it was.
	default:
		st.Err = err
	}
	t.state = st
	listeners = t.snapshotListenersLocked()
	t.mu.Unlock()

	t.dispatch(listeners, st)

	if err != nil {
		return zero, err
	}
	return v, nil
}

// invoke calls op, converting a panic into a normalized error.
func invoke[T any](op taskops.Operation[T], ctx context.Context, args []any) (v T, err error) {
	defer func() {
		if r := recover(); r != nil {
			var zero T
			v = zero
			err = taskops.Normalize(r)
		}
	}()
	return op(ctx, args...)
}

// Cancel signals the active invocation's context, if any, and clears
// Loading. Data and Err are untouched. No-op when idle.
func (t *Task[T]) Cancel() {
	t.mu.Lock()
	if t.cancel == nil {
		t.mu.Unlock()
		return
	}
	t.cancel()
	t.cancel = nil
	// Advance the generation so a late settlement from the cancelled
	// invocation is discarded even if its operation ignored the context.
	t.generation++

	st := t.state
	st.Loading = false
	t.state = st
	listeners := t.snapshotListenersLocked()
	t.mu.Unlock()

	t.dispatch(listeners, st)
}

// Fulfill cancels any in-flight invocation and synchronously settles the
// task with v, as if a run had just succeeded. The operation is not invoked.
func (t *Task[T]) Fulfill(v T) {
	t.mu.Lock()
	t.generation++
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
	t.state = State[T]{Data: v, HasData: true}
	st := t.state
	listeners := t.snapshotListenersLocked()
	t.mu.Unlock()

	t.dispatch(listeners, st)
}

// Reset cancels any in-flight invocation and restores the initial snapshot.
func (t *Task[T]) Reset() {
	t.mu.Lock()
	t.generation++
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
	t.state = initialState[T]()
	st := t.state
	listeners := t.snapshotListenersLocked()
	t.mu.Unlock()

	t.dispatch(listeners, st)
}

// Define replaces the wrapped operation. In-flight invocations of the
// previous operation are unaffected; the next Run uses op.
func (t *Task[T]) Define(op taskops.Operation[T]) {
	t.mu.Lock()
	t.op = op
	t.mu.Unlock()
}

// Dispose cancels outstanding work, removes all listeners and marks the
// task unusable. Subsequent Run calls return ErrDisposed.
func (t *Task[T]) Dispose() {
	t.mu.Lock()
	t.disposed = true
	t.generation++
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
	t.listeners = make(map[int]Listener[T])
	t.mu.Unlock()
}

func (t *Task[T]) snapshotListenersLocked() []Listener[T] {
	ls := make([]Listener[T], 0, len(t.listeners))
	for _, l := range t.listeners {
		ls = append(ls, l)
	}
	return ls
}

// dispatch notifies each listener with the snapshot, isolating panics so one
// failing listener cannot starve the rest or corrupt task state.
func (t *Task[T]) dispatch(listeners []Listener[T], st State[T]) {
	t.notifyMu.Lock()
	defer t.notifyMu.Unlock()

	for _, l := range listeners {
		t.notify(l, st)
	}
}

func (t *Task[T]) notify(l Listener[T], st State[T]) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error(context.Background(), "task listener panicked",
				observe.Field{Key: "panic", Value: taskops.Normalize(r).Error()})
		}
	}()
	l(st)
}
