package limiter

import (
	"fmt"
	"strings"

	"github.com/evyataryagoni/iptracker/internal/logger"
)

// NewLimiter creates a rate limiter based on the configuration (factory pattern)
func NewLimiter(cfg Config, log *logger.Logger) (Limiter, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Type)) {
	case "memory", "":
		// In-memory rate limiter (single-server deployments)
		return NewMemoryLimiter(cfg.Limit, cfg.Window), nil

	case "redis":
		// Redis-based rate limiter (shared across instances)
		lim, err := NewRedisLimiter(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.Limit, cfg.Window, log)
		if err != nil {
			return nil, fmt.Errorf("failed to create Redis limiter: %w", err)
		}
		return lim, nil

	default:
		return nil, fmt.Errorf("unknown rate limiter type: %s (supported: 'memory', 'redis')", cfg.Type)
	}
}
