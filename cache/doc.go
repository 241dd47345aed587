// Package cache provides a key-addressed store contract and an engine that
// wraps operations with caching, request coalescing and
// stale-while-revalidate semantics.
//
// The Store is the source of truth for entries; the Engine owns only a
// transient coalescing table (one per Engine instance) that exists between
// invocation start and settlement. Failed invocations never write entries,
// and a coalesced failure is shared identically by every joined caller.
package cache
