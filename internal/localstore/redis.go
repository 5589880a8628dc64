package localstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps state in Redis under a key prefix, so several devices
// signed in as the same profile can share it.
type RedisStore struct {
	redis  *redis.Client
	prefix string
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if client == nil {
		panic("localstore: redis client required")
	}
	return &RedisStore{redis: client, prefix: prefix}
}

func (s *RedisStore) key(k string) string { return s.prefix + k }

func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.redis.Get(ctx, s.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("localstore: redis get %s: %w", key, err)
	}
	return v, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key, value string) error {
	if err := s.redis.Set(ctx, s.key(key), value, 0).Err(); err != nil {
		return fmt.Errorf("localstore: redis set %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, 0, len(keys))
	for _, k := range keys {
		full = append(full, s.key(k))
	}
	if err := s.redis.Del(ctx, full...).Err(); err != nil {
		return fmt.Errorf("localstore: redis delete: %w", err)
	}
	return nil
}

// Clear removes only keys under the store's prefix.
func (s *RedisStore) Clear(ctx context.Context) error {
	iter := s.redis.Scan(ctx, 0, s.prefix+"*", 100).Iterator()
	var batch []string
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("localstore: redis scan: %w", err)
	}
	if len(batch) == 0 {
		return nil
	}
	if err := s.redis.Del(ctx, batch...).Err(); err != nil {
		return fmt.Errorf("localstore: redis clear: %w", err)
	}
	return nil
}
