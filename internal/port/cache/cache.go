// Package cache defines the port interface for tool-result caching.
package cache

import (
	"context"
	"time"
)

// Cache is the port interface for key-value caching. Values are opaque
// bytes; the registry serializes cache entries before storing them.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
