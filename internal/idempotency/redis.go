package idempotency

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore backs the seen-set with Redis so the dedup window survives process
// restarts and is shared across replicas.
type RedisStore struct {
	client *redis.Client
	prefix string
	window time.Duration
}

// NewRedisStore constructs a Redis-backed store.
func NewRedisStore(client *redis.Client, prefix string, window time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "webhook:seen"
	}
	if window <= 0 {
		window = defaultWindow
	}

	return &RedisStore{client: client, prefix: prefix, window: window}
}

// Seen implements Store using SET NX with a TTL: the first caller wins and every
// later caller inside the window observes a duplicate.
func (s *RedisStore) Seen(ctx context.Context, eventID string) (bool, error) {
	key := fmt.Sprintf("%s:%s", s.prefix, eventID)

	set, err := s.client.SetNX(ctx, key, 1, s.window).Result()
	if err != nil {
		return false, fmt.Errorf("idempotency setnx: %w", err)
	}

	return !set, nil
}
