package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache provides type-safe caching operations.
type Cache[T any] struct {
	client    *Client
	keyPrefix string
	ttl       time.Duration
}

// NewCache creates a new type-safe cache.
// Returns error if any parameter is invalid.
func NewCache[T any](client *Client, prefix string, ttl time.Duration) (*Cache[T], error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if prefix == "" {
		return nil, errors.New("key prefix is required")
	}
	if ttl <= 0 {
		return nil, errors.New("TTL must be positive")
	}

	return &Cache[T]{
		client:    client,
		keyPrefix: prefix,
		ttl:       ttl,
	}, nil
}

// buildKey creates the full cache key with prefix.
func (c *Cache[T]) buildKey(key string) string {
	return fmt.Sprintf("%s:%s", c.keyPrefix, key)
}

// Get retrieves a cached value by key.
// Returns ErrCacheMiss if the key does not exist.
func (c *Cache[T]) Get(ctx context.Context, key string) (*T, error) {
	if key == "" {
		return nil, errors.New("key is required")
	}

	done := Timed("cache_get")
	data, err := c.client.client.Get(ctx, c.buildKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		DefaultMetrics.RecordCacheMiss(c.keyPrefix)
		done(nil)
		return nil, ErrCacheMiss
	}
	if err != nil {
		done(err)
		return nil, fmt.Errorf("cache get: %w", err)
	}

	var value T
	if err := json.Unmarshal(data, &value); err != nil {
		done(err)
		return nil, fmt.Errorf("cache unmarshal: %w", err)
	}

	DefaultMetrics.RecordCacheHit(c.keyPrefix)
	done(nil)
	return &value, nil
}

// Set stores a value in the cache with the default TTL.
func (c *Cache[T]) Set(ctx context.Context, key string, value T) error {
	if key == "" {
		return errors.New("key is required")
	}

	done := Timed("cache_set")
	data, err := json.Marshal(value)
	if err != nil {
		done(err)
		return fmt.Errorf("cache marshal: %w", err)
	}
	if err := c.client.client.Set(ctx, c.buildKey(key), data, c.ttl).Err(); err != nil {
		done(err)
		return fmt.Errorf("cache set: %w", err)
	}
	done(nil)
	return nil
}

// Delete removes keys from the cache.
func (c *Cache[T]) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	fullKeys := make([]string, len(keys))
	for i, key := range keys {
		fullKeys[i] = c.buildKey(key)
	}
	if err := c.client.client.Del(ctx, fullKeys...).Err(); err != nil {
		return fmt.Errorf("cache delete: %w", err)
	}
	return nil
}

// MGet retrieves multiple values by keys.
// Returns a map of key to value. Missing keys are not included in the result.
func (c *Cache[T]) MGet(ctx context.Context, keys ...string) (map[string]*T, error) {
	if len(keys) == 0 {
		return make(map[string]*T), nil
	}

	fullKeys := make([]string, len(keys))
	for i, key := range keys {
		if key == "" {
			return nil, fmt.Errorf("key at index %d is empty", i)
		}
		fullKeys[i] = c.buildKey(key)
	}

	done := Timed("cache_mget")
	values, err := c.client.client.MGet(ctx, fullKeys...).Result()
	done(err)
	if err != nil {
		return nil, fmt.Errorf("cache mget: %w", err)
	}

	result := make(map[string]*T)
	for i, v := range values {
		data, ok := v.(string)
		if !ok {
			DefaultMetrics.RecordCacheMiss(c.keyPrefix)
			continue
		}

		var value T
		if err := json.Unmarshal([]byte(data), &value); err != nil {
			c.client.logger.Warn("cache mget unmarshal failed",
				"cache", c.keyPrefix,
				"error", err,
			)
			continue
		}
		DefaultMetrics.RecordCacheHit(c.keyPrefix)
		result[keys[i]] = &value
	}
	return result, nil
}

// MSet stores multiple values in one pipeline.
func (c *Cache[T]) MSet(ctx context.Context, items map[string]T) error {
	if len(items) == 0 {
		return nil
	}

	pipe := c.client.client.Pipeline()
	for key, value := range items {
		if key == "" {
			return errors.New("empty key in items map")
		}
		data, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("cache marshal key %s: %w", key, err)
		}
		pipe.Set(ctx, c.buildKey(key), data, c.ttl)
	}

	done := Timed("cache_mset")
	_, err := pipe.Exec(ctx)
	done(err)
	if err != nil {
		return fmt.Errorf("cache mset: %w", err)
	}
	return nil
}
