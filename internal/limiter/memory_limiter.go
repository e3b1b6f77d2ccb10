package limiter

import (
	"context"
	"sync"
	"time"
)

// idleBucketTTL is how long an untouched bucket is kept before cleanup
const idleBucketTTL = 5 * time.Minute

// tokenBucket tracks the budget of a single client.
// Tokens refill continuously, so a full window of requests may burst
// and the long-run rate stays at limit per window.
type tokenBucket struct {
	mu         sync.Mutex
	tokens     float64
	lastRefill time.Time
}

// MemoryLimiter keeps one token bucket per key in process memory.
// Suitable for single-instance deployments.
type MemoryLimiter struct {
	capacity   float64
	refillRate float64 // tokens per second
	now        func() time.Time

	buckets sync.Map // key -> *tokenBucket

	cleanupMu   sync.Mutex
	lastCleanup time.Time
}

// NewMemoryLimiter allows limit requests per window for each key
func NewMemoryLimiter(limit int, window time.Duration) *MemoryLimiter {
	if limit < 1 {
		limit = 1
	}
	if window <= 0 {
		window = time.Second
	}
	return &MemoryLimiter{
		capacity:    float64(limit),
		refillRate:  float64(limit) / window.Seconds(),
		now:         time.Now,
		lastCleanup: time.Now(),
	}
}

// Allow implements the Limiter interface
func (l *MemoryLimiter) Allow(ctx context.Context, key string) bool {
	now := l.now()
	bucket := l.bucket(key, now)

	bucket.mu.Lock()
	elapsed := now.Sub(bucket.lastRefill).Seconds()
	if elapsed > 0 {
		bucket.tokens = min(bucket.tokens+elapsed*l.refillRate, l.capacity)
		bucket.lastRefill = now
	}
	allowed := bucket.tokens >= 1
	if allowed {
		bucket.tokens--
	}
	bucket.mu.Unlock()

	l.maybeCleanup(now)
	return allowed
}

func (l *MemoryLimiter) bucket(key string, now time.Time) *tokenBucket {
	if b, ok := l.buckets.Load(key); ok {
		return b.(*tokenBucket)
	}
	b, _ := l.buckets.LoadOrStore(key, &tokenBucket{tokens: l.capacity, lastRefill: now})
	return b.(*tokenBucket)
}

// maybeCleanup drops buckets idle for longer than idleBucketTTL.
// A dropped bucket is indistinguishable from a full one.
func (l *MemoryLimiter) maybeCleanup(now time.Time) {
	l.cleanupMu.Lock()
	defer l.cleanupMu.Unlock()

	if now.Sub(l.lastCleanup) < idleBucketTTL {
		return
	}

	threshold := now.Add(-idleBucketTTL)
	l.buckets.Range(func(key, value any) bool {
		b := value.(*tokenBucket)
		b.mu.Lock()
		idle := b.lastRefill.Before(threshold)
		b.mu.Unlock()

		if idle {
			l.buckets.Delete(key)
		}
		return true
	})
	l.lastCleanup = now
}

// Len returns the number of tracked keys
func (l *MemoryLimiter) Len() int {
	n := 0
	l.buckets.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// Close implements the Limiter interface. There is nothing to release.
func (l *MemoryLimiter) Close() error {
	return nil
}
