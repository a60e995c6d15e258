package redis

import "errors"

// Redis-specific errors.
var (
	// ErrLockHeld is returned when the lock is owned by someone else.
	ErrLockHeld = errors.New("lock: held by another owner")

	// ErrLockLost is returned when releasing or extending a lock that
	// expired or was taken over.
	ErrLockLost = errors.New("lock: no longer owned")
)
