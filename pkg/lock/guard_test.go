package lock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

const testAccountNumber = "1000000000"

type fakeLease struct {
	locker *fakeLocker
	key    string
}

func (lease *fakeLease) Release(_ context.Context) error {
	lease.locker.mutex.Lock()
	defer lease.locker.mutex.Unlock()
	lease.locker.releaseKeys = append(lease.locker.releaseKeys, lease.key)
	return lease.locker.releaseErr
}

type fakeLocker struct {
	mutex       sync.Mutex
	acquired    bool
	acquireErr  error
	releaseErr  error
	acquireKeys []string
	releaseKeys []string
	acquireWait time.Duration
	acquireHold time.Duration
}

func newFakeLocker() *fakeLocker {
	return &fakeLocker{acquired: true}
}

func (locker *fakeLocker) Acquire(_ context.Context, key string, wait time.Duration, hold time.Duration) (Lease, bool, error) {
	locker.mutex.Lock()
	defer locker.mutex.Unlock()
	locker.acquireKeys = append(locker.acquireKeys, key)
	locker.acquireWait = wait
	locker.acquireHold = hold
	if locker.acquireErr != nil || !locker.acquired {
		return nil, false, locker.acquireErr
	}
	return &fakeLease{locker: locker, key: key}, true, nil
}

func mustNewGuard(test *testing.T, locker Locker, options ...GuardOption) *Guard {
	test.Helper()
	guard, err := NewGuard(locker, options...)
	if err != nil {
		test.Fatalf("new guard: %v", err)
	}
	return guard
}

func TestWithAccountLockRunsFnAndReleases(test *testing.T) {
	test.Parallel()
	locker := newFakeLocker()
	guard := mustNewGuard(test, locker)
	invocations := 0

	err := guard.WithAccountLock(context.Background(), testAccountNumber, func(ctx context.Context) error {
		invocations++
		return nil
	})
	if err != nil {
		test.Fatalf("with account lock: %v", err)
	}
	if invocations != 1 {
		test.Fatalf("expected fn invoked once, got %d", invocations)
	}
	wantKey := LockKey(testAccountNumber)
	if len(locker.acquireKeys) != 1 || locker.acquireKeys[0] != wantKey {
		test.Fatalf("expected one acquire of %s, got %v", wantKey, locker.acquireKeys)
	}
	if len(locker.releaseKeys) != 1 || locker.releaseKeys[0] != wantKey {
		test.Fatalf("expected one release of %s, got %v", wantKey, locker.releaseKeys)
	}
	if locker.acquireWait != DefaultWaitTimeout || locker.acquireHold != DefaultHoldTimeout {
		test.Fatalf("expected default timeouts, got wait=%v hold=%v", locker.acquireWait, locker.acquireHold)
	}
}

func TestWithAccountLockContentionSkipsFn(test *testing.T) {
	test.Parallel()
	locker := newFakeLocker()
	locker.acquired = false
	guard := mustNewGuard(test, locker)

	err := guard.WithAccountLock(context.Background(), testAccountNumber, func(ctx context.Context) error {
		test.Fatalf("fn must not run when the lock is contended")
		return nil
	})
	if !errors.Is(err, ErrLockAcquisitionFailed) {
		test.Fatalf("expected ErrLockAcquisitionFailed, got %v", err)
	}
	if len(locker.releaseKeys) != 0 {
		test.Fatalf("an unacquired lock must not be released, got %v", locker.releaseKeys)
	}
}

func TestWithAccountLockTransportError(test *testing.T) {
	test.Parallel()
	transportError := errors.New("lock service unreachable")
	locker := newFakeLocker()
	locker.acquired = false
	locker.acquireErr = transportError
	guard := mustNewGuard(test, locker)

	err := guard.WithAccountLock(context.Background(), testAccountNumber, func(ctx context.Context) error {
		test.Fatalf("fn must not run on transport failure")
		return nil
	})
	if !errors.Is(err, transportError) {
		test.Fatalf("expected transport error, got %v", err)
	}
	if errors.Is(err, ErrLockAcquisitionFailed) {
		test.Fatalf("transport failure must stay distinct from contention")
	}
}

func TestWithAccountLockReleasesOnFnError(test *testing.T) {
	test.Parallel()
	operationError := errors.New("operation failed")
	locker := newFakeLocker()
	guard := mustNewGuard(test, locker)

	err := guard.WithAccountLock(context.Background(), testAccountNumber, func(ctx context.Context) error {
		return operationError
	})
	if !errors.Is(err, operationError) {
		test.Fatalf("expected operation error, got %v", err)
	}
	if len(locker.releaseKeys) != 1 {
		test.Fatalf("expected exactly one release after fn error, got %d", len(locker.releaseKeys))
	}
}

func TestWithAccountLockReleasesOnPanic(test *testing.T) {
	test.Parallel()
	locker := newFakeLocker()
	guard := mustNewGuard(test, locker)

	func() {
		defer func() {
			if recovered := recover(); recovered == nil {
				test.Fatalf("expected panic to propagate")
			}
		}()
		_ = guard.WithAccountLock(context.Background(), testAccountNumber, func(ctx context.Context) error {
			panic("operation panicked")
		})
	}()
	if len(locker.releaseKeys) != 1 {
		test.Fatalf("expected exactly one release after panic, got %d", len(locker.releaseKeys))
	}
}

func TestNewGuardValidation(test *testing.T) {
	test.Parallel()
	if _, err := NewGuard(nil); !errors.Is(err, ErrInvalidGuardConfig) {
		test.Fatalf("expected ErrInvalidGuardConfig for nil locker, got %v", err)
	}
	if _, err := NewGuard(newFakeLocker(), WithWaitTimeout(0)); !errors.Is(err, ErrInvalidGuardConfig) {
		test.Fatalf("expected ErrInvalidGuardConfig for zero wait, got %v", err)
	}
	if _, err := NewGuard(newFakeLocker(), WithHoldTimeout(-time.Second)); !errors.Is(err, ErrInvalidGuardConfig) {
		test.Fatalf("expected ErrInvalidGuardConfig for negative hold, got %v", err)
	}
}

func TestLockKeyIsPerAccount(test *testing.T) {
	test.Parallel()
	if LockKey("1000000000") == LockKey("1000000001") {
		test.Fatalf("different accounts must map to different lock keys")
	}
	if LockKey("1000000000") != "ACLK:1000000000" {
		test.Fatalf("unexpected lock key %s", LockKey("1000000000"))
	}
}

func TestGuardSerializesPerAccount(test *testing.T) {
	test.Parallel()
	guard := mustNewGuard(test, NewLocalLocker(), WithWaitTimeout(5*time.Second), WithHoldTimeout(30*time.Second))

	const workers = 16
	var inCriticalSection int32
	var overlaps int32
	var waitGroup sync.WaitGroup
	waitGroup.Add(workers)
	for worker := 0; worker < workers; worker++ {
		go func() {
			defer waitGroup.Done()
			err := guard.WithAccountLock(context.Background(), testAccountNumber, func(ctx context.Context) error {
				if atomic.AddInt32(&inCriticalSection, 1) > 1 {
					atomic.AddInt32(&overlaps, 1)
				}
				time.Sleep(time.Millisecond)
				atomic.AddInt32(&inCriticalSection, -1)
				return nil
			})
			if err != nil {
				test.Errorf("with account lock: %v", err)
			}
		}()
	}
	waitGroup.Wait()
	if overlaps != 0 {
		test.Fatalf("expected mutual exclusion, observed %d overlaps", overlaps)
	}
}
