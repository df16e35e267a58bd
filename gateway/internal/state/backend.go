// Package state defines the pluggable key-value abstraction used by
// rate-limiting, session, circuit-breaker, and distributed-lock
// features (C8, §4.7). The default implementation is in-process; the
// interface is the only boundary to an optional external store.
package state

import (
	"context"
	"time"
)

// Backend is a keyed get/set/increment/compare-and-swap store with
// TTL. Implementations must make Increment atomic against concurrent
// callers and CompareAndSwap succeed iff the current value equals
// expected at the point of the call (§4.7).
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error

	// Increment adds delta to the integer stored at key, creating it
	// with value delta if absent, and returns the resulting value.
	Increment(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error)

	// CompareAndSwap writes newValue iff the stored value equals
	// expected (absent is represented by a nil expected).
	CompareAndSwap(ctx context.Context, key string, expected, newValue []byte) (bool, error)

	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)

	Keys(ctx context.Context, pattern string) ([]string, error)
	MGet(ctx context.Context, keys []string) (map[string][]byte, error)
	MSet(ctx context.Context, values map[string][]byte, ttl time.Duration) error
	MDel(ctx context.Context, keys []string) error

	Flush(ctx context.Context) error
	HealthCheck(ctx context.Context) error
}
