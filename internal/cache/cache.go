package cache

import (
	"context"
	"strings"
	"time"
)

// DefaultExpiration is the default expiration time for cache entries
const DefaultExpiration = 30 * time.Minute

// DefaultCleanupInterval is how often expired items are removed from the cache
const DefaultCleanupInterval = 1 * time.Hour

// Cache is a simple TTL cache used for read-mostly lookups such as plans
type Cache interface {
	Get(ctx context.Context, key string) (interface{}, bool)
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration)
	Delete(ctx context.Context, key string)
	Flush(ctx context.Context)
}

// GenerateKey builds a cache key from a prefix and its parts
func GenerateKey(prefix string, parts ...string) string {
	return prefix + ":" + strings.Join(parts, ":")
}
