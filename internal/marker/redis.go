package marker

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps a marker as the key MARKER:<scope>:<name>, without expiry.
type RedisStore struct {
	client *redis.Client
	key    string
}

// NewRedisStore creates a RedisStore. The client is owned by the caller.
func NewRedisStore(client *redis.Client, scope, name string) *RedisStore {
	return &RedisStore{client: client, key: fmt.Sprintf("MARKER:%s:%s", scope, name)}
}

// Key returns the Redis key of the marker.
func (s *RedisStore) Key() string {
	return s.key
}

// Has reports whether the marker key exists.
func (s *RedisStore) Has(ctx context.Context) (bool, error) {
	n, err := s.client.Exists(ctx, s.key).Result()
	if err != nil {
		return false, fmt.Errorf("Redis EXISTS %s failed: %w", s.key, err)
	}
	return n > 0, nil
}

// Set stores the marker permanently.
func (s *RedisStore) Set(ctx context.Context) error {
	value := time.Now().UTC().Format(time.RFC3339)
	if err := s.client.Set(ctx, s.key, value, 0).Err(); err != nil {
		return fmt.Errorf("Redis SET %s failed: %w", s.key, err)
	}
	return nil
}

// Close is a no-op; the client is shared.
func (s *RedisStore) Close() error {
	return nil
}
