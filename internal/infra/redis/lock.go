package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lock only if it is still owned by the caller.
var releaseScript = redis.NewScript(`
	if redis.call('GET', KEYS[1]) == ARGV[1] then
		return redis.call('DEL', KEYS[1])
	end
	return 0
`)

// extendScript resets the lock TTL only if it is still owned by the caller.
var extendScript = redis.NewScript(`
	if redis.call('GET', KEYS[1]) == ARGV[1] then
		return redis.call('PEXPIRE', KEYS[1], ARGV[2])
	end
	return 0
`)

// Locker hands out a single named lock backed by SET NX PX.
type Locker struct {
	client *Client
	key    string
	ttl    time.Duration
}

// NewLocker creates a Locker for key. The lock expires after ttl unless
// extended, so a crashed owner cannot block other replicas forever.
func NewLocker(client *Client, key string, ttl time.Duration) (*Locker, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if key == "" {
		return nil, errors.New("lock key is required")
	}
	if ttl <= 0 {
		return nil, errors.New("TTL must be positive")
	}
	return &Locker{client: client, key: key, ttl: ttl}, nil
}

// TTL returns the lock expiry.
func (l *Locker) TTL() time.Duration {
	return l.ttl
}

// Acquire takes the lock. Returns ErrLockHeld if another owner has it.
func (l *Locker) Acquire(ctx context.Context) (*Lock, error) {
	token := uuid.NewString()

	start := time.Now()
	ok, err := l.client.client.SetNX(ctx, l.key, token, l.ttl).Result()
	DefaultMetrics.ObserveOperation("lock_acquire", time.Since(start), err)
	if err != nil {
		DefaultMetrics.RecordLockAttempt(l.key, "error")
		return nil, fmt.Errorf("lock acquire: %w", err)
	}
	if !ok {
		DefaultMetrics.RecordLockAttempt(l.key, "held")
		return nil, ErrLockHeld
	}

	DefaultMetrics.RecordLockAttempt(l.key, "acquired")
	l.client.logger.Debug("lock acquired", "key", l.key, "ttl", l.ttl)
	return &Lock{locker: l, token: token}, nil
}

// Lock is an acquired lock.
type Lock struct {
	locker *Locker
	token  string
}

// Token returns the owner token stored in Redis.
func (k *Lock) Token() string {
	return k.token
}

// Release gives the lock up. Returns ErrLockLost if it had already expired
// or been taken by another owner.
func (k *Lock) Release(ctx context.Context) error {
	n, err := releaseScript.Run(ctx, k.locker.client.client, []string{k.locker.key}, k.token).Int()
	if err != nil {
		return fmt.Errorf("lock release: %w", err)
	}
	if n == 0 {
		return ErrLockLost
	}
	k.locker.client.logger.Debug("lock released", "key", k.locker.key)
	return nil
}

// Extend resets the lock expiry to the locker TTL.
func (k *Lock) Extend(ctx context.Context) error {
	n, err := extendScript.Run(ctx, k.locker.client.client, []string{k.locker.key}, k.token, k.locker.ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("lock extend: %w", err)
	}
	if n == 0 {
		return ErrLockLost
	}
	return nil
}

// Do runs fn while holding the lock. The lock is extended every half TTL
// until fn returns and released afterwards. Returns ErrLockHeld without
// calling fn if another owner has the lock.
//
// If the lock is lost while fn runs, the context passed to fn is cancelled
// with ErrLockLost as its cause and Do returns an error wrapping ErrLockLost.
func (l *Locker) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	lock, err := l.Acquire(ctx)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		ticker := time.NewTicker(max(l.ttl/2, time.Second))
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-runCtx.Done():
				return
			case <-ticker.C:
				err := lock.Extend(runCtx)
				switch {
				case err == nil:
				case errors.Is(err, ErrLockLost):
					DefaultMetrics.RecordLockAttempt(l.key, "lost")
					l.client.logger.Error("lock lost, stopping run", "key", l.key)
					cancel(ErrLockLost)
					return
				default:
					// Transient; retried on the next tick while the TTL lasts.
					l.client.logger.Warn("lock extend failed", "key", l.key, "error", err)
				}
			}
		}
	}()

	fnErr := fn(runCtx)
	close(done)
	<-stopped

	if errors.Is(context.Cause(runCtx), ErrLockLost) {
		if fnErr == nil || errors.Is(fnErr, ErrLockLost) {
			return ErrLockLost
		}
		return fmt.Errorf("%w: %w", ErrLockLost, fnErr)
	}

	if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
		l.client.logger.Warn("lock release failed", "key", l.key, "error", err)
	}
	return fnErr
}
