package cache

import (
	"context"
	"time"
)

// Cache is the subset of key-value operations the service relies on.
type Cache interface {
	CounterOps

	// Ping verifies the cache connection is alive
	Ping(ctx context.Context) error

	// Close closes the cache connection
	Close() error
}

// CounterOps defines the operations needed for fixed-window counters.
type CounterOps interface {
	// SetNX sets the value only if the key does not exist (atomic operation)
	// Returns true if the key was set, false if it already existed
	SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error)

	// Incr increments the integer value of a key by 1
	Incr(ctx context.Context, key string) (int64, error)

	// Expire sets a timeout on a key
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// TTL returns the remaining time to live of a key
	// Returns a negative duration if the key has no expiration or does not exist
	TTL(ctx context.Context, key string) (time.Duration, error)

	// Del deletes one or more keys
	Del(ctx context.Context, keys ...string) error
}
