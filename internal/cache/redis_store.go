package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/medsafe-analysis-server/internal/domain"
)

const redisKeyPrefix = "medsafe:cache:"

// RedisStore is a JSON-encoded shared cache tier backed by Redis
type RedisStore struct {
	client *redis.Client
	prefix string
}

type redisEnvelope struct {
	Data      json.RawMessage `json:"data"`
	CachedAt  time.Time       `json:"cached_at"`
	ExpiresAt time.Time       `json:"expires_at"`
}

// NewRedisStore connects to the Redis instance at config.RedisURL
func NewRedisStore(config domain.CacheConfig) (*RedisStore, error) {
	opts, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	if config.PoolSize > 0 {
		opts.PoolSize = config.PoolSize
	}
	if config.PoolTimeout > 0 {
		opts.PoolTimeout = config.PoolTimeout
	}
	if config.MaxRetries > 0 {
		opts.MaxRetries = config.MaxRetries
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisStoreFromClient(client), nil
}

// NewRedisStoreFromClient wraps an existing client
func NewRedisStoreFromClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, prefix: redisKeyPrefix}
}

// Get decodes the value stored under namespace/key into dest.
// A missing, expired or corrupted entry is reported as a miss.
func (s *RedisStore) Get(ctx context.Context, namespace, key string, dest interface{}) (bool, error) {
	fullKey := s.key(namespace, key)

	val, err := s.client.Get(ctx, fullKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get %s cache entry: %w", namespace, err)
	}

	var env redisEnvelope
	if err := json.Unmarshal(val, &env); err != nil {
		s.client.Del(ctx, fullKey)
		return false, nil
	}

	if !time.Now().Before(env.ExpiresAt) {
		s.client.Del(ctx, fullKey)
		return false, nil
	}

	if err := json.Unmarshal(env.Data, dest); err != nil {
		s.client.Del(ctx, fullKey)
		return false, nil
	}

	return true, nil
}

// Set stores value under namespace/key for ttl
func (s *RedisStore) Set(ctx context.Context, namespace, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal %s cache entry: %w", namespace, err)
	}

	now := time.Now()
	env, err := json.Marshal(redisEnvelope{
		Data:      data,
		CachedAt:  now,
		ExpiresAt: now.Add(ttl),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal %s cache envelope: %w", namespace, err)
	}

	return s.client.Set(ctx, s.key(namespace, key), env, ttl).Err()
}

// Delete removes namespace/key
func (s *RedisStore) Delete(ctx context.Context, namespace, key string) error {
	return s.client.Del(ctx, s.key(namespace, key)).Err()
}

// IsHealthy pings Redis
func (s *RedisStore) IsHealthy(ctx context.Context) bool {
	return s.client.Ping(ctx).Err() == nil
}

// Close closes the underlying client
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) key(namespace, key string) string {
	return s.prefix + namespace + ":" + key
}
