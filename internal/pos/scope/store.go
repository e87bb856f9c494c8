package scope

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// ErrKeyNotFound is returned by a Store when the key holds no value.
var ErrKeyNotFound = errors.New("scope: key not found")

// Store is the durable key-value storage the scope survives relaunches in.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, keys ...string) error
}

// RedisStore keeps values in Redis under a namespace prefix, without expiry.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore constructs a RedisStore. An empty prefix defaults to "pos".
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "pos"
	}
	return &RedisStore{client: client, prefix: prefix}
}

// Get loads the raw value for key.
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	payload, err := s.client.Get(ctx, s.redisKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrKeyNotFound
		}
		return nil, fmt.Errorf("scope: get %s: %w", key, err)
	}
	return payload, nil
}

// Set stores value under key.
func (s *RedisStore) Set(ctx context.Context, key string, value []byte) error {
	if err := s.client.Set(ctx, s.redisKey(key), value, 0).Err(); err != nil {
		return fmt.Errorf("scope: set %s: %w", key, err)
	}
	return nil
}

// Delete removes the keys. Missing keys are ignored.
func (s *RedisStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	redisKeys := make([]string, 0, len(keys))
	for _, k := range keys {
		redisKeys = append(redisKeys, s.redisKey(k))
	}
	if err := s.client.Del(ctx, redisKeys...).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("scope: delete: %w", err)
	}
	return nil
}

func (s *RedisStore) redisKey(key string) string {
	return s.prefix + ":" + key
}
