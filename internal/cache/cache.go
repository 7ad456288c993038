// Package cache holds the key-value cache port, its Redis adapter and the
// caches built on it.
package cache

import (
	"context"
	"time"
)

// Cache is the minimal key-value contract the application uses.
// Implementations must be safe for concurrent use.
type Cache interface {
	// Get returns ErrMiss when key is absent.
	Get(ctx context.Context, key string) (string, error)

	// Set stores value at key. A zero or negative ttl means no expiration.
	Set(ctx context.Context, key string, value string, ttl time.Duration) error

	// Del removes keys and returns how many existed.
	Del(ctx context.Context, keys ...string) (int64, error)

	Ping(ctx context.Context) error
	Close() error
}

// ErrMiss signals a cache miss, as opposed to a transport error.
var ErrMiss = errMiss{}

type errMiss struct{}

func (e errMiss) Error() string { return "cache: miss" }
