package cache

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory Store implementation with key enumeration,
// event subscription and tag invalidation.
type MemoryStore struct {
	mu          sync.RWMutex
	entries     map[string]Entry
	subscribers map[int]func(Event)
	nextSubID   int
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries:     make(map[string]Entry),
		subscribers: make(map[int]func(Event)),
	}
}

// Get retrieves an entry. Returns (Entry{}, false) on miss.
func (s *MemoryStore) Get(_ context.Context, key string) (Entry, bool) {
	s.mu.RLock()
	entry, ok := s.entries[key]
	s.mu.RUnlock()
	return entry, ok
}

// Set stores an entry, overwriting any previous one, and emits a set event.
func (s *MemoryStore) Set(ctx context.Context, key string, entry Entry) error {
	s.mu.Lock()
	s.entries[key] = entry
	s.mu.Unlock()

	s.RecordEvent(ctx, Event{Kind: EventSet, Key: key})
	return nil
}

// Delete removes an entry and emits an invalidate event. Idempotent.
func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	_, existed := s.entries[key]
	delete(s.entries, key)
	s.mu.Unlock()

	if existed {
		s.RecordEvent(ctx, Event{Kind: EventInvalidate, Key: key})
	}
	return nil
}

// Has reports whether an entry exists for key.
func (s *MemoryStore) Has(_ context.Context, key string) bool {
	s.mu.RLock()
	_, ok := s.entries[key]
	s.mu.RUnlock()
	return ok
}

// Clear removes all entries and emits a clear event.
func (s *MemoryStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	s.entries = make(map[string]Entry)
	s.mu.Unlock()

	s.RecordEvent(ctx, Event{Kind: EventClear})
	return nil
}

// Keys returns the stored keys in no particular order.
func (s *MemoryStore) Keys(_ context.Context) []string {
	s.mu.RLock()
	keys := make([]string, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	s.mu.RUnlock()
	return keys
}

// InvalidateTag removes every entry carrying tag, emitting an invalidate
// event per removed key.
func (s *MemoryStore) InvalidateTag(ctx context.Context, tag string) error {
	s.mu.Lock()
	var removed []string
	for key, entry := range s.entries {
		for _, t := range entry.Tags {
			if t == tag {
				removed = append(removed, key)
				break
			}
		}
	}
	for _, key := range removed {
		delete(s.entries, key)
	}
	s.mu.Unlock()

	for _, key := range removed {
		s.RecordEvent(ctx, Event{Kind: EventInvalidate, Key: key})
	}
	return nil
}

// SubscribeEvents registers fn for future events. The returned function
// removes the subscription; it is idempotent.
func (s *MemoryStore) SubscribeEvents(fn func(Event)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.subscribers[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subscribers, id)
		s.mu.Unlock()
	}
}

// RecordEvent publishes ev to current subscribers, isolating panics so one
// failing subscriber cannot starve the rest.
func (s *MemoryStore) RecordEvent(_ context.Context, ev Event) {
	s.mu.RLock()
	subs := make([]func(Event), 0, len(s.subscribers))
	for _, fn := range s.subscribers {
		subs = append(subs, fn)
	}
	s.mu.RUnlock()

	for _, fn := range subs {
		notifyEvent(fn, ev)
	}
}

func notifyEvent(fn func(Event), ev Event) {
	defer func() {
		_ = recover()
	}()
	fn(ev)
}

// Interface checks.
var (
	_ Store          = (*MemoryStore)(nil)
	_ KeyLister      = (*MemoryStore)(nil)
	_ TagInvalidator = (*MemoryStore)(nil)
	_ EventSource    = (*MemoryStore)(nil)
)
