package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

const lockKeyPrefix = "ACLK:"

// Timeout bounds sized for one balance mutation plus ledger write.
const (
	DefaultWaitTimeout = time.Second
	DefaultHoldTimeout = 15 * time.Second
)

// ErrLockAcquisitionFailed reports that the account's lock stayed contended
// for the whole wait timeout. Callers may retry with backoff; the guard
// itself does not.
var ErrLockAcquisitionFailed = errors.New("lock acquisition failed")

// ErrInvalidGuardConfig reports bad Guard wiring.
var ErrInvalidGuardConfig = errors.New("invalid guard config")

// LockKey derives the lock name for an account number. Operations on the
// same account contend for the same key; different accounts never contend.
func LockKey(accountNumber string) string {
	return lockKeyPrefix + accountNumber
}

// GuardOption configures a Guard.
type GuardOption func(*Guard)

// WithWaitTimeout overrides how long an acquisition may wait.
func WithWaitTimeout(wait time.Duration) GuardOption {
	return func(guard *Guard) {
		guard.wait = wait
	}
}

// WithHoldTimeout overrides the lock service's force-release window.
func WithHoldTimeout(hold time.Duration) GuardOption {
	return func(guard *Guard) {
		guard.hold = hold
	}
}

// WithLogger wires a logger for release failures, which the guard cannot
// surface without clobbering the wrapped operation's result.
func WithLogger(logger *zap.Logger) GuardOption {
	return func(guard *Guard) {
		guard.logger = logger
	}
}

// Guard wraps account-targeted operations in a scoped lock acquisition:
// acquire before, release on every exit path, so at most one
// balance-mutating operation runs per account number at a time.
type Guard struct {
	locker Locker
	wait   time.Duration
	hold   time.Duration
	logger *zap.Logger
}

// NewGuard wires a Guard.
func NewGuard(locker Locker, options ...GuardOption) (*Guard, error) {
	if locker == nil {
		return nil, fmt.Errorf("%w: locker dependency is nil", ErrInvalidGuardConfig)
	}
	guard := &Guard{
		locker: locker,
		wait:   DefaultWaitTimeout,
		hold:   DefaultHoldTimeout,
		logger: zap.NewNop(),
	}
	for _, option := range options {
		if option != nil {
			option(guard)
		}
	}
	if guard.wait <= 0 || guard.hold <= 0 {
		return nil, fmt.Errorf("%w: timeouts must be positive", ErrInvalidGuardConfig)
	}
	return guard, nil
}

// WithAccountLock runs fn while holding the account's lock. When the lock
// stays contended past the wait timeout, fn is never invoked and
// ErrLockAcquisitionFailed is returned. Transport failures from the lock
// service surface as distinct errors. The release is deferred, so it runs
// on normal return, error, and panic alike.
func (guard *Guard) WithAccountLock(ctx context.Context, accountNumber string, fn func(ctx context.Context) error) error {
	key := LockKey(accountNumber)
	lease, acquired, err := guard.locker.Acquire(ctx, key, guard.wait, guard.hold)
	if err != nil {
		return fmt.Errorf("account %s: %w", accountNumber, err)
	}
	if !acquired {
		return fmt.Errorf("%w: account %s", ErrLockAcquisitionFailed, accountNumber)
	}
	defer func() {
		if releaseErr := lease.Release(ctx); releaseErr != nil {
			guard.logger.Warn("lock release failed", zap.String("lock_key", key), zap.Error(releaseErr))
		}
	}()
	return fn(ctx)
}
