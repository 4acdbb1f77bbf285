// Package cache defines the byte-level contract of the shared (tier 2) cache
// behind the boundary and layer caches.
package cache

import (
	"context"
	"time"
)

type Interface interface {
	MGet(ctx context.Context, keys []string) (map[string][]byte, error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) (int, error)
	DelPrefix(ctx context.Context, prefix string) (int, error)
}
