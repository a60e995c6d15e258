package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Cache stores batches of JSON-encoded values under a key prefix. Lookups
// between scheduled runs go through MGet and MSet only, so one round trip
// serves a whole run.
type Cache[T any] struct {
	client    *Client
	keyPrefix string
	ttl       time.Duration
}

// NewCache creates a cache whose entries expire after ttl.
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

func (c *Cache[T]) buildKey(key string) string {
	return fmt.Sprintf("%s:%s", c.keyPrefix, key)
}

// MGet returns the cached values for keys. Missing keys are absent from the
// result; entries that fail to decode are logged and count as misses.
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

	start := time.Now()
	values, err := c.client.client.MGet(ctx, fullKeys...).Result()
	DefaultMetrics.ObserveOperation("cache_mget", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("cache mget: %w", err)
	}

	result := make(map[string]*T, len(keys))
	for i, v := range values {
		data, ok := v.(string)
		if !ok {
			continue
		}

		var value T
		if err := json.Unmarshal([]byte(data), &value); err != nil {
			c.client.logger.Warn("cache mget unmarshal failed",
				"key", keys[i],
				"error", err,
			)
			continue
		}
		result[keys[i]] = &value
	}

	DefaultMetrics.RecordCacheHits(c.keyPrefix, len(result))
	DefaultMetrics.RecordCacheMisses(c.keyPrefix, len(keys)-len(result))
	return result, nil
}

// MSet stores multiple values in one pipeline with the default TTL.
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

	start := time.Now()
	_, err := pipe.Exec(ctx)
	DefaultMetrics.ObserveOperation("cache_mset", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("cache mset: %w", err)
	}
	return nil
}
