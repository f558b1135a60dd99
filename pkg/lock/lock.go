// Package lock serializes balance-mutating operations per account number.
//
// A Locker provides named mutual exclusion with a bounded wait and a
// bounded hold: once acquired, a lock is force-released by the backing
// service after the hold timeout even if the holder never releases it.
// The Redis implementation delegates to redsync; LocalLocker covers
// single-process development and tests.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	goredislib "github.com/redis/go-redis/v9"
)

const defaultRetryDelay = 50 * time.Millisecond

// Lease is the proof of one acquisition. Only the holder of a Lease can
// release what it acquired: a stale Lease whose lock already hit its hold
// timeout and was handed to another holder releases nothing.
//
// Release is idempotent and tolerates the hold-timeout auto-release, so
// calling it on an expired or already-released Lease is a no-op.
type Lease interface {
	Release(ctx context.Context) error
}

// Locker is the mutual-exclusion contract used by the Guard.
//
// Acquire blocks up to wait attempting to obtain exclusive ownership of
// key and reports false (not an error) when the wait elapses contended.
// Errors are reserved for transport failures talking to the lock service.
type Locker interface {
	Acquire(ctx context.Context, key string, wait time.Duration, hold time.Duration) (Lease, bool, error)
}

// RedisLocker implements Locker on top of redsync.
type RedisLocker struct {
	redsync    *redsync.Redsync
	retryDelay time.Duration
}

// NewRedisLocker wires a RedisLocker over a go-redis client.
func NewRedisLocker(client goredislib.UniversalClient) (*RedisLocker, error) {
	if client == nil {
		return nil, errors.New("redis client is nil")
	}
	pool := goredis.NewPool(client)
	return &RedisLocker{
		redsync:    redsync.New(pool),
		retryDelay: defaultRetryDelay,
	}, nil
}

// Acquire obtains key for at most hold, waiting up to wait.
func (locker *RedisLocker) Acquire(ctx context.Context, key string, wait time.Duration, hold time.Duration) (Lease, bool, error) {
	tries := int(wait/locker.retryDelay) + 1
	if tries < 1 {
		tries = 1
	}
	mutex := locker.redsync.NewMutex(
		key,
		redsync.WithExpiry(hold),
		redsync.WithTries(tries),
		redsync.WithRetryDelay(locker.retryDelay),
	)
	if err := mutex.LockContext(ctx); err != nil {
		if isContention(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("lock acquire %s: %w", key, err)
	}
	return &redisLease{key: key, mutex: mutex}, true, nil
}

// redisLease carries the acquiring call's own mutex, whose random value
// redsync checks on unlock, so an expired lease cannot free the value a
// later holder wrote under the same key.
type redisLease struct {
	key   string
	mutex *redsync.Mutex
}

func (lease *redisLease) Release(ctx context.Context) error {
	// An unacknowledged unlock means the value no longer matched: the
	// hold timeout already handed the key to someone else.
	if _, err := lease.mutex.UnlockContext(ctx); err != nil {
		if errors.Is(err, redsync.ErrLockAlreadyExpired) {
			return nil
		}
		return fmt.Errorf("lock release %s: %w", lease.key, err)
	}
	return nil
}

func isContention(err error) bool {
	if errors.Is(err, redsync.ErrFailed) {
		return true
	}
	var taken *redsync.ErrTaken
	return errors.As(err, &taken)
}
