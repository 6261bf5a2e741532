package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "staffline:"

// RedisStore persists cache entries in Redis for shared-kiosk deployments
// where several terminals see the same local cache.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore connects to the Redis instance named by redisURL.
func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("cache: parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("cache: connect to redis: %w", err)
	}

	return &RedisStore{client: client, prefix: redisKeyPrefix}, nil
}

// NewRedisStoreWithClient wraps an existing Redis client.
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, prefix: redisKeyPrefix}
}

// Close releases the underlying client connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) storageKey(key string) string {
	return s.prefix + key
}

// Get returns the stored value for key, or ErrKeyNotFound.
func (s *RedisStore) Get(ctx context.Context, key string) (json.RawMessage, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}
	value, err := s.client.Get(ctx, s.storageKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, key)
	}
	if err != nil {
		return nil, err
	}
	return json.RawMessage(value), nil
}

// Set stores value under key without expiry.
func (s *RedisStore) Set(ctx context.Context, key string, value json.RawMessage) error {
	if key == "" {
		return ErrEmptyKey
	}
	return s.client.Set(ctx, s.storageKey(key), []byte(value), 0).Err()
}

// Delete removes the value stored under key. Deleting an absent key succeeds.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	return s.client.Del(ctx, s.storageKey(key)).Err()
}

// ListKeys returns every stored key in lexical order.
func (s *RedisStore) ListKeys(ctx context.Context) ([]string, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, s.prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val()[len(s.prefix):])
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	sort.Strings(keys)
	return keys, nil
}
