package cache

import (
	"context"
	"time"

	rediscache "github.com/BaSui01/aicore/internal/cache"
)

// RedisStore 基于 Redis 的远端存储
type RedisStore struct {
	manager *rediscache.Manager
}

var _ Store = (*RedisStore)(nil)

func NewRedisStore(manager *rediscache.Manager) *RedisStore {
	return &RedisStore{manager: manager}
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.manager.Get(ctx, key)
	if rediscache.IsCacheMiss(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.manager.Set(ctx, key, value, ttl)
}

func (s *RedisStore) KeysMatching(ctx context.Context, pattern string) ([]string, error) {
	return s.manager.Scan(ctx, pattern)
}

func (s *RedisStore) Delete(ctx context.Context, keys ...string) error {
	return s.manager.Delete(ctx, keys...)
}
