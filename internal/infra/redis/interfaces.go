package redis

import (
	"context"
	"time"
)

// Pinger is an interface for health check operations.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Closer is an interface for graceful shutdown.
type Closer interface {
	Close() error
}

// CacheStore is the batch cache used by the entity collector.
type CacheStore[T any] interface {
	MGet(ctx context.Context, keys ...string) (map[string]*T, error)
	MSet(ctx context.Context, items map[string]T) error
}

// RunLocker runs a function under the distributed run lock.
type RunLocker interface {
	Do(ctx context.Context, fn func(ctx context.Context) error) error
	TTL() time.Duration
}

var (
	_ Pinger               = (*Client)(nil)
	_ Closer               = (*Client)(nil)
	_ CacheStore[struct{}] = (*Cache[struct{}])(nil)
	_ RunLocker            = (*Locker)(nil)
)
