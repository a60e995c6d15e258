package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/openctemio/vulnsync/internal/config"
	"github.com/openctemio/vulnsync/pkg/logger"
)

const (
	defaultDialTimeout   = 5 * time.Second
	defaultMinRetryDelay = 100 * time.Millisecond
	defaultMaxRetryDelay = 3 * time.Second
)

// Client wraps redis.Client with connection retry and logging.
type Client struct {
	client *redis.Client
	logger *logger.Logger
}

// New connects to Redis, retrying the initial ping with exponential
// backoff up to cfg.MaxRetries times.
func New(cfg *config.RedisConfig, log *logger.Logger) (*Client, error) {
	if cfg == nil {
		return nil, errors.New("redis config is required")
	}
	if log == nil {
		return nil, errors.New("logger is required")
	}
	if !cfg.Enabled() {
		return nil, errors.New("redis address is required")
	}

	dialTimeout := durationOr(cfg.DialTimeout, defaultDialTimeout)
	minDelay := durationOr(cfg.MinRetryDelay, defaultMinRetryDelay)
	maxDelay := durationOr(cfg.MaxRetryDelay, defaultMaxRetryDelay)

	client := redis.NewClient(&redis.Options{
		Addr:            cfg.Addr,
		Password:        cfg.Password,
		DB:              cfg.DB,
		DialTimeout:     dialTimeout,
		MaxRetries:      cfg.MaxRetries,
		MinRetryBackoff: minDelay,
		MaxRetryBackoff: maxDelay,
	})

	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
		err := client.Ping(ctx).Err()
		cancel()

		if err == nil {
			log.Info("redis connected", "addr", cfg.Addr, "db", cfg.DB)
			return &Client{client: client, logger: log}, nil
		}

		lastErr = err
		if attempt < cfg.MaxRetries {
			backoff := min(minDelay*time.Duration(1<<attempt), maxDelay)
			log.Warn("redis connection failed, retrying",
				"attempt", attempt+1,
				"max_retries", cfg.MaxRetries,
				"backoff", backoff,
				"error", err,
			)
			time.Sleep(backoff)
		}
	}

	_ = client.Close()
	return nil, fmt.Errorf("failed to connect to redis after %d attempts: %w", cfg.MaxRetries+1, lastErr)
}

// NewFromClient wraps an existing go-redis client without pinging it.
func NewFromClient(client *redis.Client, log *logger.Logger) *Client {
	if log == nil {
		log = logger.NewNop()
	}
	return &Client{client: client, logger: log}
}

func durationOr(d, def time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return def
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	c.logger.Info("closing redis connection")
	return c.client.Close()
}

// Ping checks if Redis is available.
func (c *Client) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Client returns the underlying redis.Client for advanced operations.
func (c *Client) Client() *redis.Client {
	return c.client
}
