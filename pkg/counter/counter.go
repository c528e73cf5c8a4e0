// Package counter provides the shared TTL-capable counter store backing
// velocity windows and score-derived rate limits. The single mutating
// primitive is an atomic increment-with-expiry, so callers need no
// additional locking: concurrent increments against the same key
// serialize inside the store and no updates are lost.
package counter

import (
	"context"
	"time"
)

// Store is the counter store contract. IncrementAndGet must be atomic
// under concurrent callers. The expiry is set only when the key is first
// created within a window; subsequent increments never extend the TTL.
//
// Failure policy: when the store is unreachable callers must treat the
// error as "no data" and fail open toward allowing traffic, logging the
// degradation. The store itself never masks errors.
type Store interface {
	// IncrementAndGet atomically increments the counter at key, creating
	// it with the given TTL when absent, and returns the new value.
	IncrementAndGet(ctx context.Context, key string, ttl time.Duration) (int64, error)
	// Get returns the current value and whether the key exists.
	Get(ctx context.Context, key string) (int64, bool, error)
}
