package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/evyataryagoni/iptracker/internal/models"
	"github.com/redis/go-redis/v9"
)

// recordKeyPrefix namespaces record keys: record:<ip_address>
const recordKeyPrefix = "record:"

// RedisStore implements Store using Redis
// Each record is one JSON value written with SETNX, which makes the
// duplicate check and the write a single atomic command.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a new Redis store
//
// Parameters:
//   - addr: Redis server address (e.g., "localhost:6379")
//   - password: Redis password (empty string if no password)
//   - db: Redis database number (0-15, default is 0)
func NewRedisStore(addr, password string, db int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisStore{client: client}, nil
}

func recordKey(ip string) string {
	return recordKeyPrefix + ip
}

// Exists checks whether a record key is present
func (s *RedisStore) Exists(ctx context.Context, ip string) (bool, error) {
	n, err := s.client.Exists(ctx, recordKey(ip)).Result()
	if err != nil {
		return false, &StorageError{Op: "exists", Err: err}
	}
	return n > 0, nil
}

// Insert stores rec under record:<ip> only if the key is absent.
// Redis records carry no numeric ID.
func (s *RedisStore) Insert(ctx context.Context, rec *models.IPRecord) error {
	stored := *rec
	if stored.Timestamp.IsZero() {
		stored.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(&stored)
	if err != nil {
		return &StorageError{Op: "insert", Err: fmt.Errorf("encode record: %w", err)}
	}

	// No expiration: records live until removed by an operator
	created, err := s.client.SetNX(ctx, recordKey(rec.IPAddress), data, 0).Result()
	if err != nil {
		return &StorageError{Op: "insert", Err: err}
	}
	if !created {
		return ErrDuplicate
	}

	rec.Timestamp = stored.Timestamp
	return nil
}

// FindByIP decodes the stored JSON record
func (s *RedisStore) FindByIP(ctx context.Context, ip string) (*models.IPRecord, error) {
	val, err := s.client.Get(ctx, recordKey(ip)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, &StorageError{Op: "find", Err: err}
	}

	var rec models.IPRecord
	if err := json.Unmarshal(val, &rec); err != nil {
		return nil, &StorageError{Op: "find", Err: fmt.Errorf("decode record: %w", err)}
	}
	return &rec, nil
}

// Ping checks the Redis connection
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return &StorageError{Op: "ping", Err: err}
	}
	return nil
}

// Close closes the Redis connection
// Should be called when the application shuts down
func (s *RedisStore) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}
