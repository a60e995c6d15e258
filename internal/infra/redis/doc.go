// Package redis provides the optional Redis integration used by vulnsync.
//
// # Overview
//
// This package provides three components:
//   - Client: connection management with retry on startup
//   - Cache[T]: type-safe generic caching with TTL support, used to keep
//     Dynatrace entity details between scheduled runs
//   - Locker: a distributed lock so that only one replica reconciles at a time
//
// # Quick Start
//
//	client, err := redis.New(&cfg.Redis, logger)
//	if err != nil {
//		return err
//	}
//	defer client.Close()
//
//	entities, err := redis.NewCache[securitydata.EntityDetails](client, "entities", cfg.Redis.CacheTTL)
//
//	locker, err := redis.NewLocker(client, "vulnsync:run", cfg.Redis.LockTTL)
//	lock, err := locker.Acquire(ctx)
//	if errors.Is(err, redis.ErrLockHeld) {
//		// another replica is running
//	}
//	defer lock.Release(context.Background())
//
// # Thread Safety
//
// All components are safe for concurrent use. The underlying go-redis client
// manages connection pooling.
package redis
