package limiter

import (
	"context"
	"fmt"
	"time"

	"github.com/evyataryagoni/iptracker/internal/logger"
	"github.com/redis/go-redis/v9"
)

// windowScript increments the counter for the current window and sets its
// expiry on first use, atomically.
//
// KEYS[1] = counter key, ARGV[1] = expiry in milliseconds
var windowScript = redis.NewScript(`
local current = redis.call('INCR', KEYS[1])
if current == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return current
`)

// RedisLimiter is a fixed-window counter shared by every instance that
// talks to the same Redis. Keys look like "ratelimit:<client>:<window>".
type RedisLimiter struct {
	client *redis.Client
	limit  int64
	window time.Duration
	now    func() time.Time
	logger *logger.Logger
}

// NewRedisLimiter connects to Redis and allows limit requests per window.
// A nil logger falls back to the default logger.
func NewRedisLimiter(addr, password string, db, limit int, window time.Duration, log *logger.Logger) (*RedisLimiter, error) {
	if log == nil {
		log = logger.NewDefault()
	}
	if window < time.Millisecond {
		window = time.Second
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis for rate limiting: %w", err)
	}

	return &RedisLimiter{
		client: client,
		limit:  int64(max(limit, 1)),
		window: window,
		now:    time.Now,
		logger: log.WithComponent("RedisLimiter"),
	}, nil
}

// Allow implements the Limiter interface.
// Redis errors fail open: the request is allowed and the error logged,
// so a limiter outage never takes the API down with it.
func (l *RedisLimiter) Allow(ctx context.Context, key string) bool {
	window := l.now().UnixMilli() / l.window.Milliseconds()
	counterKey := fmt.Sprintf("ratelimit:%s:%d", key, window)

	count, err := windowScript.Run(ctx, l.client, []string{counterKey}, (2 * l.window).Milliseconds()).Int64()
	if err != nil {
		l.logger.Warn().Err(err).Str("key", key).Msg("Rate limiter unavailable, allowing request")
		return true
	}
	return count <= l.limit
}

// Close closes the Redis connection
func (l *RedisLimiter) Close() error {
	if l.client != nil {
		return l.client.Close()
	}
	return nil
}
