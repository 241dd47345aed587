package cache

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/jonwraymond/taskops"
	"github.com/jonwraymond/taskops/observe"
)

// Options configures how the engine caches one wrapped operation.
type Options struct {
	// TTL is the freshness window measured from an entry's UpdatedAt.
	// Zero means an entry is always fresh once written.
	TTL time.Duration

	// StaleTTL extends the window after TTL during which a stale entry is
	// still servable while a background refresh runs.
	StaleTTL time.Duration

	// Tags are attached to written entries for tag-based invalidation.
	Tags []string

	// DisableDedupe turns off coalescing of concurrent invocations for the
	// same key. The zero value keeps dedupe on.
	DisableDedupe bool
}

// Engine wraps operations with a key-addressed store.
//
// The engine owns a transient coalescing table scoped to its own lifetime:
// concurrent invocations for the same key share one in-flight call, and the
// record is dropped as soon as the call settles, success or failure. The
// store remains the only durable state.
type Engine struct {
	store   Store
	flight  singleflight.Group
	metrics observe.Metrics
	logger  observe.Logger
	now     func() time.Time
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithMetrics sets the metrics sink for cache events.
func WithMetrics(m observe.Metrics) EngineOption {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithLogger sets the logger used for background refresh diagnostics.
func WithLogger(l observe.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithClock overrides the engine's time source.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		e.now = now
	}
}

// NewEngine creates an engine over store.
func NewEngine(store Store, opts ...EngineOption) *Engine {
	e := &Engine{
		store:   store,
		metrics: observe.NopMetrics(),
		logger:  observe.NopLogger(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// freshness classifies an entry against the options' windows.
type freshness int

const (
	fresh freshness = iota
	staleServable
	expired
)

func (e *Engine) classify(entry Entry, ok bool, opts Options) freshness {
	if !ok {
		return expired
	}
	if opts.TTL <= 0 {
		return fresh
	}
	age := e.now().Sub(entry.UpdatedAt)
	if age <= opts.TTL {
		return fresh
	}
	if age <= opts.TTL+opts.StaleTTL {
		return staleServable
	}
	return expired
}

// emit publishes a read-path event to the store's subscribers (when the
// store supports events) and to the metrics sink.
func (e *Engine) emit(ctx context.Context, ev Event) {
	if es, ok := e.store.(EventSource); ok {
		es.RecordEvent(ctx, ev)
	}
	e.metrics.RecordCacheEvent(ctx, ev.Key, string(ev.Kind))
}

// fetch invokes raw through the coalescing path and writes the entry on
// success. Failures are propagated without writing.
func (e *Engine) fetch(ctx context.Context, key string, opts Options, raw func(context.Context) (any, error)) (any, error) {
	run := func(ctx context.Context) (any, error) {
		v, err := raw(ctx)
		if err != nil {
			return nil, err
		}
		e.write(ctx, key, v, opts.Tags)
		return v, nil
	}

	if opts.DisableDedupe {
		return run(ctx)
	}

	v, err, _ := e.flight.Do(key, func() (any, error) {
		return run(ctx)
	})
	return v, err
}

// write stores value under key, preserving CreatedAt across refreshes.
func (e *Engine) write(ctx context.Context, key string, value any, tags []string) {
	now := e.now()
	entry := Entry{Value: value, CreatedAt: now, UpdatedAt: now, Tags: tags}
	if prev, ok := e.store.Get(ctx, key); ok {
		entry.CreatedAt = prev.CreatedAt
	}
	if err := e.store.Set(ctx, key, entry); err != nil {
		e.logger.Warn(ctx, "cache write failed",
			observe.Field{Key: "key", Value: key},
			observe.Field{Key: "error", Value: err.Error()})
	}
}

// cachedValue extracts a typed value from an entry. An entry holding a value
// of the wrong type is treated as a miss.
func cachedValue[T any](entry Entry, ok bool) (T, bool) {
	var zero T
	if !ok {
		return zero, false
	}
	v, match := entry.Value.(T)
	if !match {
		return zero, false
	}
	return v, true
}

// Cached wraps op so that a fresh entry under key is served without
// invoking it. On miss or expiry the operation runs (coalesced with other
// callers for the same key unless dedupe is disabled) and a successful
// result is written back. Failures propagate and never write the cache.
func Cached[T any](e *Engine, key string, op taskops.Operation[T], opts Options) taskops.Operation[T] {
	return func(ctx context.Context, args ...any) (T, error) {
		var zero T

		entry, ok := e.store.Get(ctx, key)
		if v, match := cachedValue[T](entry, ok); match && e.classify(entry, ok, opts) == fresh {
			e.emit(ctx, Event{Kind: EventHit, Key: key})
			return v, nil
		}

		e.emit(ctx, Event{Kind: EventMiss, Key: key})
		v, err := e.fetch(ctx, key, opts, func(ctx context.Context) (any, error) {
			return op(ctx, args...)
		})
		if err != nil {
			return zero, err
		}
		return v.(T), nil
	}
}

// CachedKeyed behaves as Cached but derives the cache key per invocation
// from opName and the call's arguments via keyer, so differently
// parameterized calls of one operation get distinct entries. A key
// derivation failure propagates without invoking op.
func CachedKeyed[T any](e *Engine, keyer Keyer, opName string, op taskops.Operation[T], opts Options) taskops.Operation[T] {
	return func(ctx context.Context, args ...any) (T, error) {
		var zero T
		key, err := keyer.Key(opName, args...)
		if err != nil {
			return zero, err
		}
		if err := ValidateKey(key); err != nil {
			return zero, err
		}
		return Cached(e, key, op, opts)(ctx, args...)
	}
}

// StaleWhileRevalidate wraps op with the same read-through behavior as
// Cached, except that an entry inside the stale window is served
// immediately while a refresh runs in the background.
//
// The background refresh is detached from the caller's cancellation: a
// caller abandoning its request must not abort a refresh other readers will
// benefit from. Background failures never surface to any caller; they are
// reported as revalidate-error events only.
func StaleWhileRevalidate[T any](e *Engine, key string, op taskops.Operation[T], opts Options) taskops.Operation[T] {
	return func(ctx context.Context, args ...any) (T, error) {
		var zero T

		entry, ok := e.store.Get(ctx, key)
		v, match := cachedValue[T](entry, ok)
		if match {
			switch e.classify(entry, ok, opts) {
			case fresh:
				e.emit(ctx, Event{Kind: EventHit, Key: key})
				return v, nil
			case staleServable:
				e.emit(ctx, Event{Kind: EventStale, Key: key})
				e.revalidate(ctx, key, opts, func(ctx context.Context) (any, error) {
					return op(ctx, args...)
				})
				return v, nil
			}
		}

		e.emit(ctx, Event{Kind: EventMiss, Key: key})
		got, err := e.fetch(ctx, key, opts, func(ctx context.Context) (any, error) {
			return op(ctx, args...)
		})
		if err != nil {
			return zero, err
		}
		return got.(T), nil
	}
}

// revalidate refreshes key in the background, outliving the caller's
// cancellation.
func (e *Engine) revalidate(ctx context.Context, key string, opts Options, raw func(context.Context) (any, error)) {
	bg := context.WithoutCancel(ctx)
	go func() {
		e.emit(bg, Event{Kind: EventRevalidate, Key: key})
		if _, err := e.fetch(bg, key, opts, raw); err != nil {
			e.emit(bg, Event{Kind: EventRevalidateError, Key: key, Err: err})
			e.logger.Warn(bg, "background revalidation failed",
				observe.Field{Key: "key", Value: key},
				observe.Field{Key: "error", Value: err.Error()})
		}
	}()
}

// InvalidationTarget names the keys and tags to invalidate after a
// successful invocation.
type InvalidationTarget struct {
	Keys []string
	Tags []string
}

// InvalidateKeys builds a target of literal keys.
func InvalidateKeys(keys ...string) InvalidationTarget {
	return InvalidationTarget{Keys: keys}
}

// InvalidateTags builds a target of tags.
func InvalidateTags(tags ...string) InvalidationTarget {
	return InvalidationTarget{Tags: tags}
}

// InvalidateOnResolve wraps op so that target is invalidated only after op
// succeeds. Failures propagate and cause no invalidation.
func InvalidateOnResolve[T any](e *Engine, op taskops.Operation[T], target InvalidationTarget) taskops.Operation[T] {
	return InvalidateOnResolveFunc(e, op, func(T) InvalidationTarget {
		return target
	})
}

// InvalidateOnResolveFunc derives the invalidation target from the
// successful result.
func InvalidateOnResolveFunc[T any](e *Engine, op taskops.Operation[T], target func(T) InvalidationTarget) taskops.Operation[T] {
	return func(ctx context.Context, args ...any) (T, error) {
		v, err := op(ctx, args...)
		if err != nil {
			return v, err
		}

		t := target(v)
		for _, key := range t.Keys {
			if derr := e.store.Delete(ctx, key); derr != nil {
				e.logger.Warn(ctx, "cache invalidation failed",
					observe.Field{Key: "key", Value: key},
					observe.Field{Key: "error", Value: derr.Error()})
			}
		}
		if len(t.Tags) > 0 {
			ti, ok := e.store.(TagInvalidator)
			if !ok {
				e.logger.Warn(ctx, "store does not support tag invalidation")
			} else {
				for _, tag := range t.Tags {
					if derr := ti.InvalidateTag(ctx, tag); derr != nil {
						e.logger.Warn(ctx, "tag invalidation failed",
							observe.Field{Key: "tag", Value: tag},
							observe.Field{Key: "error", Value: derr.Error()})
					}
				}
			}
		}
		return v, nil
	}
}
