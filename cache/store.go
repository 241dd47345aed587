package cache

import (
	"context"
	"errors"
	"strings"
	"time"
)

// MaxKeyLength is the maximum allowed length for a cache key.
const MaxKeyLength = 512

// Sentinel errors for cache operations.
var (
	ErrNilStore   = errors.New("cache: store is nil")
	ErrInvalidKey = errors.New("cache: key is invalid")
	ErrKeyTooLong = errors.New("cache: key exceeds max length")
)

// Entry is a cached value with its write timestamps.
//
// CreatedAt is preserved across refreshes of the same key; UpdatedAt changes
// on every write. Freshness decisions are made against UpdatedAt.
type Entry struct {
	Value     any
	CreatedAt time.Time
	UpdatedAt time.Time
	Tags      []string
}

// Store is the contract the engine requires from a cache backend.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Errors: Get should never error; it returns (Entry{}, false) on miss.
//   Implementations backed by durable media must treat malformed persisted
//   entries as misses (and remove them) rather than surfacing read errors.
// - Delete and Clear are idempotent.
type Store interface {
	// Get retrieves an entry. Returns (Entry{}, false) on miss.
	Get(ctx context.Context, key string) (Entry, bool)

	// Set stores an entry under key, overwriting any previous entry.
	Set(ctx context.Context, key string, entry Entry) error

	// Delete removes an entry. No error on miss.
	Delete(ctx context.Context, key string) error

	// Has reports whether an entry exists for key.
	Has(ctx context.Context, key string) bool

	// Clear removes all entries.
	Clear(ctx context.Context) error
}

// KeyLister is implemented by stores that can enumerate their keys.
type KeyLister interface {
	Keys(ctx context.Context) []string
}

// TagInvalidator is implemented by stores that support tag-based bulk
// invalidation.
type TagInvalidator interface {
	// InvalidateTag removes every entry carrying tag.
	InvalidateTag(ctx context.Context, tag string) error
}

// EventKind identifies a cache event.
type EventKind string

// Event kinds emitted by stores and the engine.
const (
	EventHit             EventKind = "hit"
	EventMiss            EventKind = "miss"
	EventStale           EventKind = "stale"
	EventSet             EventKind = "set"
	EventInvalidate      EventKind = "invalidate"
	EventClear           EventKind = "clear"
	EventRevalidate      EventKind = "revalidate"
	EventRevalidateError EventKind = "revalidate-error"
)

// Event describes a single cache occurrence.
type Event struct {
	Kind EventKind
	Key  string // empty for clear
	Err  error  // set for revalidate-error
}

// EventSource is implemented by stores that publish cache events.
//
// Stores emit set/invalidate/clear themselves; the engine publishes
// read-path diagnostics (hit, miss, stale, revalidate, revalidate-error)
// through RecordEvent when the store supports it.
type EventSource interface {
	// SubscribeEvents registers fn for future events and returns an
	// unsubscribe function. A panicking subscriber must be isolated from
	// the others, the same way task listeners are.
	SubscribeEvents(fn func(Event)) (unsubscribe func())

	// RecordEvent publishes ev to current subscribers.
	RecordEvent(ctx context.Context, ev Event)
}

// ValidateKey checks if a key is valid for caching.
func ValidateKey(key string) error {
	if key == "" || strings.TrimSpace(key) == "" {
		return ErrInvalidKey
	}
	if len(key) > MaxKeyLength {
		return ErrKeyTooLong
	}
	// Reject keys with newlines or carriage returns
	if strings.ContainsAny(key, "\n\r") {
		return ErrInvalidKey
	}
	return nil
}
