package counter

import (
	"context"
	"fmt"
	"time"

	"github.com/sitewarden/sitewarden/internal/database"
)

// RedisStore is the Store used in production so counters survive restarts
// and are shared across replicas.
type RedisStore struct {
	rdb    *database.Redis
	prefix string
}

// NewRedisStore creates a RedisStore. All keys are namespaced under prefix.
func NewRedisStore(rdb *database.Redis, prefix string) *RedisStore {
	return &RedisStore{rdb: rdb, prefix: prefix}
}

func (s *RedisStore) fullKey(key string) string {
	return fmt.Sprintf("%s:%s", s.prefix, key)
}

// Increment implements Store. The expiry is refreshed on every increment so
// the window slides with the latest event.
func (s *RedisStore) Increment(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	fullKey := s.fullKey(key)
	count, err := s.rdb.Incr(ctx, fullKey)
	if err != nil {
		return 0, fmt.Errorf("failed to increment counter %s: %w", key, err)
	}
	if err := s.rdb.Expire(ctx, fullKey, ttl); err != nil {
		return 0, fmt.Errorf("failed to set counter expiry %s: %w", key, err)
	}
	return count, nil
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, key string) (int64, error) {
	value, err := s.rdb.GetInt64(ctx, s.fullKey(key))
	if err != nil {
		return 0, fmt.Errorf("failed to read counter %s: %w", key, err)
	}
	return value, nil
}

// Clear implements Store.
func (s *RedisStore) Clear(ctx context.Context, key string) error {
	if err := s.rdb.Delete(ctx, s.fullKey(key)); err != nil {
		return fmt.Errorf("failed to clear counter %s: %w", key, err)
	}
	return nil
}
