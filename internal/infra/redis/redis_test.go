package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openctemio/vulnsync/internal/config"
	"github.com/openctemio/vulnsync/pkg/logger"
)

// unreachableClient points at a port nothing listens on.
func unreachableClient(t *testing.T) *Client {
	t.Helper()
	rc := goredis.NewClient(&goredis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = rc.Close() })
	return NewFromClient(rc, logger.NewNop())
}

func TestNew_Validation(t *testing.T) {
	log := logger.NewNop()

	_, err := New(nil, log)
	assert.Error(t, err)

	_, err = New(&config.RedisConfig{Addr: "localhost:6379"}, nil)
	assert.Error(t, err)

	_, err = New(&config.RedisConfig{}, log)
	assert.EqualError(t, err, "redis address is required")
}

func TestNew_ConnectFailure(t *testing.T) {
	cfg := &config.RedisConfig{
		Addr:          "127.0.0.1:1",
		DialTimeout:   50 * time.Millisecond,
		MaxRetries:    1,
		MinRetryDelay: time.Millisecond,
		MaxRetryDelay: time.Millisecond,
	}

	_, err := New(cfg, logger.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 2 attempts")
}

func TestNewCache_Validation(t *testing.T) {
	client := unreachableClient(t)

	tests := []struct {
		name   string
		client *Client
		prefix string
		ttl    time.Duration
	}{
		{"nil client", nil, "entities", time.Hour},
		{"empty prefix", client, "", time.Hour},
		{"zero ttl", client, "entities", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCache[string](tt.client, tt.prefix, tt.ttl)
			assert.Error(t, err)
		})
	}

	cache, err := NewCache[string](client, "entities", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, "entities:HOST-1", cache.buildKey("HOST-1"))
	assert.Equal(t, time.Hour, cache.ttl)
}

func TestCache_InputErrors(t *testing.T) {
	cache, err := NewCache[string](unreachableClient(t), "entities", time.Hour)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = cache.MGet(ctx, "a", "")
	assert.EqualError(t, err, "key at index 1 is empty")

	got, err := cache.MGet(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)

	assert.NoError(t, cache.MSet(ctx, nil))
}

func TestCache_ConnectionError(t *testing.T) {
	cache, err := NewCache[string](unreachableClient(t), "entities", time.Hour)
	require.NoError(t, err)

	_, err = cache.MGet(context.Background(), "HOST-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cache mget")

	err = cache.MSet(context.Background(), map[string]string{"HOST-1": "web-01"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cache mset")
}

func TestNewLocker_Validation(t *testing.T) {
	client := unreachableClient(t)

	_, err := NewLocker(nil, "vulnsync:run", time.Minute)
	assert.Error(t, err)
	_, err = NewLocker(client, "", time.Minute)
	assert.Error(t, err)
	_, err = NewLocker(client, "vulnsync:run", 0)
	assert.Error(t, err)

	locker, err := NewLocker(client, "vulnsync:run", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, time.Minute, locker.TTL())
}

func TestLocker_AcquireConnectionError(t *testing.T) {
	locker, err := NewLocker(unreachableClient(t), "vulnsync:run", time.Minute)
	require.NoError(t, err)

	_, err = locker.Acquire(context.Background())
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrLockHeld))
	assert.Contains(t, err.Error(), "lock acquire")
}
