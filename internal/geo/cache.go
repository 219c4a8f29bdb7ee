package geo

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const cacheKeyPrefix = "leadrelay:geo:"

// RedisCache shares resolved cities across relay instances.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache creates a cache backed by the given Redis client.
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func (c *RedisCache) Get(ctx context.Context, postalCode string) (string, bool) {
	city, err := c.client.Get(ctx, cacheKeyPrefix+postalCode).Result()
	if err == redis.Nil {
		return "", false
	}
	if err != nil {
		log.Printf("geo: cache get failed: %v", err)
		return "", false
	}
	return city, true
}

func (c *RedisCache) Set(ctx context.Context, postalCode, city string) {
	if err := c.client.Set(ctx, cacheKeyPrefix+postalCode, city, cacheTTL).Err(); err != nil {
		log.Printf("geo: cache set failed: %v", err)
	}
}

// MemoryCache is the in-process fallback used when Redis is not configured.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	clock   func() time.Time
}

type memoryEntry struct {
	city      string
	expiresAt time.Time
}

// NewMemoryCache creates an in-memory cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]memoryEntry), clock: time.Now}
}

// WithClock overrides the time source, for tests.
func (c *MemoryCache) WithClock(clock func() time.Time) *MemoryCache {
	c.clock = clock
	return c
}

func (c *MemoryCache) Get(ctx context.Context, postalCode string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[postalCode]
	if !ok {
		return "", false
	}
	if c.clock().After(entry.expiresAt) {
		delete(c.entries, postalCode)
		return "", false
	}
	return entry.city, true
}

func (c *MemoryCache) Set(ctx context.Context, postalCode, city string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[postalCode] = memoryEntry{city: city, expiresAt: c.clock().Add(cacheTTL)}
}
