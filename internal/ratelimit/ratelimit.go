// Package ratelimit bounds submissions per client IP over a fixed window.
// The counter only moves on accepted submissions: a rejected request does
// not consume quota, so the limit reads as "N accepted per window".
package ratelimit

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/webylead/leadrelay/internal/domain"
)

// Limiter decides whether a submission from clientIP may proceed.
// Implementations must fail open: when the backing store is unavailable
// the submission goes through.
type Limiter interface {
	Allow(ctx context.Context, clientIP string, settings domain.Settings) bool
}

// RedisLimiter keeps per-IP counters in Redis so the limit holds across
// multiple relay instances.
type RedisLimiter struct {
	client *redis.Client
	clock  func() time.Time
}

// NewRedisLimiter creates a limiter backed by the given Redis client.
func NewRedisLimiter(client *redis.Client) *RedisLimiter {
	return &RedisLimiter{client: client, clock: time.Now}
}

// WithClock overrides the time source, for tests.
func (l *RedisLimiter) WithClock(clock func() time.Time) *RedisLimiter {
	l.clock = clock
	return l
}

func (l *RedisLimiter) Allow(ctx context.Context, clientIP string, settings domain.Settings) bool {
	if !settings.RateLimitEnabled || clientIP == "" {
		return true
	}

	key := bucketKey(clientIP, l.clock(), settings.RateLimitWindow)

	count, err := l.client.Get(ctx, key).Int()
	if err != nil && err != redis.Nil {
		log.Printf("ratelimit: redis get failed, allowing: %v", err)
		return true
	}
	if count >= settings.RateLimitMax {
		return false
	}

	pipe := l.client.Pipeline()
	pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, settings.RateLimitWindow)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("ratelimit: redis pipeline failed, allowing: %v", err)
	}
	return true
}

// bucketKey truncates time to the window start so every request inside the
// same fixed window shares one counter.
func bucketKey(clientIP string, t time.Time, window time.Duration) string {
	if window <= 0 {
		window = time.Hour
	}
	bucket := t.UTC().Truncate(window).Unix()
	return fmt.Sprintf("leadrelay:rl:%s:%d", clientIP, bucket)
}

// MemoryLimiter is the in-process fallback used when Redis is not
// configured. Counters from past windows are dropped lazily on access.
type MemoryLimiter struct {
	mu     sync.Mutex
	counts map[string]int
	clock  func() time.Time
	lastGC time.Time
}

// NewMemoryLimiter creates an in-memory limiter.
func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{counts: make(map[string]int), clock: time.Now}
}

// WithClock overrides the time source, for tests.
func (l *MemoryLimiter) WithClock(clock func() time.Time) *MemoryLimiter {
	l.clock = clock
	return l
}

func (l *MemoryLimiter) Allow(ctx context.Context, clientIP string, settings domain.Settings) bool {
	if !settings.RateLimitEnabled || clientIP == "" {
		return true
	}

	key := bucketKey(clientIP, l.clock(), settings.RateLimitWindow)

	l.mu.Lock()
	defer l.mu.Unlock()

	l.maybeSweep(settings.RateLimitWindow)

	if l.counts[key] >= settings.RateLimitMax {
		return false
	}
	l.counts[key]++
	return true
}

// maybeSweep drops all counters once per window. Keys embed the window
// bucket, so stale entries can never be read again; this just caps memory.
func (l *MemoryLimiter) maybeSweep(window time.Duration) {
	if window <= 0 {
		window = time.Hour
	}
	now := l.clock()
	if now.Sub(l.lastGC) < window {
		return
	}
	l.lastGC = now
	for key := range l.counts {
		if !currentBucket(key, now, window) {
			delete(l.counts, key)
		}
	}
}

func currentBucket(key string, now time.Time, window time.Duration) bool {
	bucket := now.UTC().Truncate(window).Unix()
	suffix := fmt.Sprintf(":%d", bucket)
	return len(key) > len(suffix) && key[len(key)-len(suffix):] == suffix
}
