package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonwraymond/taskops"
)

// testClock is a manually advanced time source.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Unix(1000, 0)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// countingOp returns "v<n>" where n counts invocations.
func countingOp(calls *atomic.Int32) taskops.Operation[string] {
	return func(ctx context.Context, _ ...any) (string, error) {
		n := calls.Add(1)
		return fmt.Sprintf("v%d", n), nil
	}
}

func TestCachedFreshnessRoundTrip(t *testing.T) {
	clock := newTestClock()
	store := NewMemoryStore()
	e := NewEngine(store, WithClock(clock.Now))

	var calls atomic.Int32
	op := Cached(e, "u:1", countingOp(&calls), Options{TTL: 100 * time.Millisecond})

	v, err := op(context.Background())
	if err != nil || v != "v1" {
		t.Fatalf("first call = %q, %v", v, err)
	}

	clock.Advance(50 * time.Millisecond)
	v, err = op(context.Background())
	if err != nil || v != "v1" {
		t.Errorf("read within TTL = %q, %v, want cached v1", v, err)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("invocations = %d, want 1 (fresh read must not invoke)", got)
	}

	clock.Advance(100 * time.Millisecond)
	v, err = op(context.Background())
	if err != nil || v != "v2" {
		t.Errorf("read after TTL = %q, %v, want v2", v, err)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("invocations = %d, want 2", got)
	}
}

func TestCachedZeroTTLAlwaysFresh(t *testing.T) {
	clock := newTestClock()
	e := NewEngine(NewMemoryStore(), WithClock(clock.Now))

	var calls atomic.Int32
	op := Cached(e, "k", countingOp(&calls), Options{})

	op(context.Background())
	clock.Advance(24 * time.Hour)
	v, err := op(context.Background())
	if err != nil || v != "v1" {
		t.Errorf("read = %q, %v, want v1 (no TTL means always fresh)", v, err)
	}
	if calls.Load() != 1 {
		t.Errorf("invocations = %d, want 1", calls.Load())
	}
}

func TestCachedFailureNotWritten(t *testing.T) {
	store := NewMemoryStore()
	e := NewEngine(store)

	testErr := errors.New("fetch failed")
	op := Cached(e, "k", taskops.Fail[string](testErr), Options{TTL: time.Minute})

	if _, err := op(context.Background()); !errors.Is(err, testErr) {
		t.Fatalf("error = %v, want %v", err, testErr)
	}
	if store.Has(context.Background(), "k") {
		t.Error("failed invocation wrote a cache entry")
	}
}

func TestCachedPreservesCreatedAt(t *testing.T) {
	clock := newTestClock()
	store := NewMemoryStore()
	e := NewEngine(store, WithClock(clock.Now))

	var calls atomic.Int32
	op := Cached(e, "k", countingOp(&calls), Options{TTL: 10 * time.Millisecond})

	op(context.Background())
	first, _ := store.Get(context.Background(), "k")

	clock.Advance(time.Minute)
	op(context.Background())
	second, _ := store.Get(context.Background(), "k")

	if !second.CreatedAt.Equal(first.CreatedAt) {
		t.Errorf("CreatedAt = %v, want preserved %v", second.CreatedAt, first.CreatedAt)
	}
	if !second.UpdatedAt.After(first.UpdatedAt) {
		t.Errorf("UpdatedAt = %v, want later than %v", second.UpdatedAt, first.UpdatedAt)
	}
}

func TestDedupeCoalescing(t *testing.T) {
	e := NewEngine(NewMemoryStore())

	var calls atomic.Int32
	release := make(chan struct{})
	op := Cached(e, "k", func(ctx context.Context, _ ...any) (string, error) {
		calls.Add(1)
		<-release
		return "shared", nil
	}, Options{TTL: time.Minute})

	var wg sync.WaitGroup
	results := make([]string, 2)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := op(context.Background())
			if err != nil {
				t.Errorf("call %d error = %v", i, err)
			}
			results[i] = v
		}()
	}

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := calls.Load(); got != 1 {
		t.Errorf("invocations = %d, want 1 (concurrent calls must coalesce)", got)
	}
	if results[0] != "shared" || results[1] != "shared" {
		t.Errorf("results = %v, want both shared", results)
	}
}

func TestDedupeDisabled(t *testing.T) {
	e := NewEngine(NewMemoryStore())

	var calls atomic.Int32
	release := make(chan struct{})
	op := Cached(e, "k", func(ctx context.Context, _ ...any) (string, error) {
		calls.Add(1)
		<-release
		return "x", nil
	}, Options{TTL: time.Minute, DisableDedupe: true})

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			op(context.Background())
		}()
	}

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := calls.Load(); got != 2 {
		t.Errorf("invocations = %d, want 2 (dedupe disabled)", got)
	}
}

func TestDedupedFailureShared(t *testing.T) {
	e := NewEngine(NewMemoryStore())

	testErr := errors.New("boom")
	var calls atomic.Int32
	release := make(chan struct{})
	op := Cached(e, "k", func(ctx context.Context, _ ...any) (string, error) {
		calls.Add(1)
		<-release
		return "", testErr
	}, Options{TTL: time.Minute})

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = op(context.Background())
		}()
	}

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if calls.Load() != 1 {
		t.Errorf("invocations = %d, want 1", calls.Load())
	}
	for i, err := range errs {
		if !errors.Is(err, testErr) {
			t.Errorf("caller %d error = %v, want %v", i, err, testErr)
		}
	}
}

func TestCachedKeyedDerivesKeyPerCall(t *testing.T) {
	store := NewMemoryStore()
	e := NewEngine(store)
	keyer := NewDefaultKeyer()

	var calls atomic.Int32
	op := CachedKeyed(e, keyer, "getUser", func(ctx context.Context, args ...any) (string, error) {
		calls.Add(1)
		return fmt.Sprintf("user-%v", args[0]), nil
	}, Options{TTL: time.Minute})

	ctx := context.Background()
	v, err := op(ctx, 1)
	if err != nil || v != "user-1" {
		t.Fatalf("op(1) = %q, %v", v, err)
	}
	v, err = op(ctx, 2)
	if err != nil || v != "user-2" {
		t.Fatalf("op(2) = %q, %v", v, err)
	}

	// Repeating an argument set must hit its own entry.
	v, err = op(ctx, 1)
	if err != nil || v != "user-1" {
		t.Errorf("repeat op(1) = %q, %v", v, err)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("invocations = %d, want 2 (one per distinct argument set)", got)
	}

	// The entry lives under the keyer-derived key.
	key, err := keyer.Key("getUser", 1)
	if err != nil {
		t.Fatalf("Key() error = %v", err)
	}
	if !store.Has(ctx, key) {
		t.Errorf("store missing derived key %q", key)
	}
}

func TestCachedKeyedDerivationFailure(t *testing.T) {
	e := NewEngine(NewMemoryStore())

	var calls atomic.Int32
	op := CachedKeyed(e, NewDefaultKeyer(), "getUser", countingOp(&calls), Options{TTL: time.Minute})

	// Channels cannot be canonicalized, so key derivation fails.
	if _, err := op(context.Background(), make(chan int)); err == nil {
		t.Fatal("error = nil, want key derivation failure")
	}
	if calls.Load() != 0 {
		t.Errorf("invocations = %d, want 0 (derivation failure must not invoke)", calls.Load())
	}
}

func TestStaleWhileRevalidateServesStale(t *testing.T) {
	clock := newTestClock()
	store := NewMemoryStore()
	e := NewEngine(store, WithClock(clock.Now))

	var calls atomic.Int32
	opts := Options{TTL: 100 * time.Millisecond, StaleTTL: 100 * time.Millisecond}
	op := StaleWhileRevalidate(e, "k", countingOp(&calls), opts)

	op(context.Background()) // miss, writes v1
	clock.Advance(150 * time.Millisecond)

	v, err := op(context.Background())
	if err != nil || v != "v1" {
		t.Fatalf("stale read = %q, %v, want cached v1 served immediately", v, err)
	}

	// Background refresh should land v2.
	waitFor(t, func() bool {
		entry, ok := store.Get(context.Background(), "k")
		return ok && entry.Value == "v2"
	})
	if calls.Load() != 2 {
		t.Errorf("invocations = %d, want 2", calls.Load())
	}
}

func TestStaleWhileRevalidateOutlivesCaller(t *testing.T) {
	clock := newTestClock()
	store := NewMemoryStore()
	e := NewEngine(store, WithClock(clock.Now))

	started := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32
	op := StaleWhileRevalidate(e, "k", func(ctx context.Context, _ ...any) (string, error) {
		if calls.Add(1) > 1 {
			close(started)
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-release:
			}
			return "refreshed", nil
		}
		return "orig", nil
	}, Options{TTL: 10 * time.Millisecond, StaleTTL: time.Minute})

	op(context.Background())
	clock.Advance(30 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	v, err := op(ctx)
	if err != nil || v != "orig" {
		t.Fatalf("stale read = %q, %v", v, err)
	}

	<-started
	cancel() // caller goes away; refresh must not be aborted
	close(release)

	waitFor(t, func() bool {
		entry, ok := store.Get(context.Background(), "k")
		return ok && entry.Value == "refreshed"
	})
}

func TestStaleWhileRevalidateSwallowsBackgroundFailure(t *testing.T) {
	clock := newTestClock()
	store := NewMemoryStore()
	e := NewEngine(store, WithClock(clock.Now))

	var events []Event
	var evMu sync.Mutex
	store.SubscribeEvents(func(ev Event) {
		evMu.Lock()
		events = append(events, ev)
		evMu.Unlock()
	})

	var calls atomic.Int32
	op := StaleWhileRevalidate(e, "k", func(ctx context.Context, _ ...any) (string, error) {
		if calls.Add(1) > 1 {
			return "", errors.New("refresh failed")
		}
		return "orig", nil
	}, Options{TTL: 10 * time.Millisecond, StaleTTL: time.Minute})

	op(context.Background())
	clock.Advance(30 * time.Millisecond)

	v, err := op(context.Background())
	if err != nil || v != "orig" {
		t.Fatalf("stale read = %q, %v, background failure must not surface", v, err)
	}

	waitFor(t, func() bool {
		evMu.Lock()
		defer evMu.Unlock()
		for _, ev := range events {
			if ev.Kind == EventRevalidateError {
				return true
			}
		}
		return false
	})

	entry, ok := store.Get(context.Background(), "k")
	if !ok || entry.Value != "orig" {
		t.Errorf("entry = %v (ok=%v), want untouched orig", entry.Value, ok)
	}
}

func TestStaleWhileRevalidateMissAwaits(t *testing.T) {
	clock := newTestClock()
	e := NewEngine(NewMemoryStore(), WithClock(clock.Now))

	var calls atomic.Int32
	opts := Options{TTL: 10 * time.Millisecond, StaleTTL: 10 * time.Millisecond}
	op := StaleWhileRevalidate(e, "k", countingOp(&calls), opts)

	op(context.Background())
	clock.Advance(time.Minute) // beyond stale window

	v, err := op(context.Background())
	if err != nil || v != "v2" {
		t.Errorf("expired read = %q, %v, want fresh v2 awaited by caller", v, err)
	}
}

func TestInvalidateOnResolveKeys(t *testing.T) {
	store := NewMemoryStore()
	e := NewEngine(store)

	store.Set(context.Background(), "a", Entry{Value: 1})
	store.Set(context.Background(), "b", Entry{Value: 2})

	op := InvalidateOnResolve(e, taskops.Value("done"), InvalidateKeys("a"))
	if _, err := op(context.Background()); err != nil {
		t.Fatalf("error = %v", err)
	}

	if store.Has(context.Background(), "a") {
		t.Error("key a not invalidated after success")
	}
	if !store.Has(context.Background(), "b") {
		t.Error("key b invalidated unexpectedly")
	}
}

func TestInvalidateOnResolveFailureNoInvalidation(t *testing.T) {
	store := NewMemoryStore()
	e := NewEngine(store)

	store.Set(context.Background(), "a", Entry{Value: 1})

	op := InvalidateOnResolve(e, taskops.Fail[string](errors.New("boom")), InvalidateKeys("a"))
	if _, err := op(context.Background()); err == nil {
		t.Fatal("error = nil, want failure")
	}

	if !store.Has(context.Background(), "a") {
		t.Error("failure must not invalidate")
	}
}

func TestInvalidateOnResolveTags(t *testing.T) {
	store := NewMemoryStore()
	e := NewEngine(store)

	store.Set(context.Background(), "a", Entry{Value: 1, Tags: []string{"users"}})
	store.Set(context.Background(), "b", Entry{Value: 2, Tags: []string{"posts"}})

	op := InvalidateOnResolve(e, taskops.Value("ok"), InvalidateTags("users"))
	if _, err := op(context.Background()); err != nil {
		t.Fatalf("error = %v", err)
	}

	if store.Has(context.Background(), "a") {
		t.Error("tagged entry not invalidated")
	}
	if !store.Has(context.Background(), "b") {
		t.Error("untagged entry invalidated")
	}
}

func TestInvalidateOnResolveFunc(t *testing.T) {
	store := NewMemoryStore()
	e := NewEngine(store)

	store.Set(context.Background(), "user:7", Entry{Value: "old"})

	op := InvalidateOnResolveFunc(e, taskops.Value("user:7"), func(v string) InvalidationTarget {
		return InvalidateKeys(v)
	})
	if _, err := op(context.Background()); err != nil {
		t.Fatalf("error = %v", err)
	}

	if store.Has(context.Background(), "user:7") {
		t.Error("derived key not invalidated")
	}
}

func TestCachedEmitsHitAndMiss(t *testing.T) {
	store := NewMemoryStore()
	e := NewEngine(store)

	var kinds []EventKind
	var mu sync.Mutex
	store.SubscribeEvents(func(ev Event) {
		mu.Lock()
		kinds = append(kinds, ev.Kind)
		mu.Unlock()
	})

	var calls atomic.Int32
	op := Cached(e, "k", countingOp(&calls), Options{TTL: time.Minute})

	op(context.Background())
	op(context.Background())

	mu.Lock()
	defer mu.Unlock()
	want := []EventKind{EventMiss, EventSet, EventHit}
	if len(kinds) != len(want) {
		t.Fatalf("events = %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Errorf("event[%d] = %q, want %q", i, kinds[i], want[i])
		}
	}
}

// waitFor polls cond for up to a second.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within 1s")
}
