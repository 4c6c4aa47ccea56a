package indexer

import (
	"context"
	"time"
)

// DistLock provides distributed locking between portalindex instances. When
// several instances share one search cluster, a DistLock keeps them from
// rebuilding the same collection at the same time, which would race on the
// alias swap and on orphan cleanup.
type DistLock interface {
	// Acquire attempts to acquire a lock for the given key with the specified TTL.
	// Returns true if the lock was acquired, false if already held by another instance.
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// Release releases the lock for the given key.
	Release(ctx context.Context, key string) error
}
