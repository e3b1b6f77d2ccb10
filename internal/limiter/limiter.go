// Package limiter throttles requests per client so a single caller cannot
// exhaust the geolocation provider's quota.
package limiter

import (
	"context"
	"time"
)

// Limiter is the interface that all rate limiters must implement
// This allows us to easily swap between in-memory and Redis implementations
type Limiter interface {
	// Allow reports whether one more request from key fits in its budget
	// and consumes it if so.
	Allow(ctx context.Context, key string) bool

	// Close cleans up any resources (Redis connections, etc.)
	Close() error
}

// Config holds configuration for creating a rate limiter
type Config struct {
	Type   string        // "memory" or "redis"
	Limit  int           // requests allowed per window
	Window time.Duration // window length

	// Redis-specific config
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}
