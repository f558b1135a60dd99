package lock

import (
	"context"
	"sync"
	"time"
)

// LocalLocker implements Locker with in-process per-key locks. It keeps the
// same contract as the Redis implementation, including hold-timeout
// auto-release and ownership-checked leases, so single-process deployments
// and tests exercise the same code paths.
type LocalLocker struct {
	stateGuard sync.Mutex
	states     map[string]*localLockState
}

type localLockState struct {
	slot       chan struct{}
	held       bool
	generation uint64
}

// NewLocalLocker returns an empty LocalLocker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{states: make(map[string]*localLockState)}
}

// Acquire obtains key for at most hold, waiting up to wait.
func (locker *LocalLocker) Acquire(ctx context.Context, key string, wait time.Duration, hold time.Duration) (Lease, bool, error) {
	state := locker.state(key)
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case state.slot <- struct{}{}:
	case <-timer.C:
		return nil, false, nil
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
	locker.stateGuard.Lock()
	state.held = true
	state.generation++
	generation := state.generation
	locker.stateGuard.Unlock()
	if hold > 0 {
		time.AfterFunc(hold, func() { locker.free(state, generation) })
	}
	return &localLease{locker: locker, state: state, generation: generation}, true, nil
}

func (locker *LocalLocker) state(key string) *localLockState {
	locker.stateGuard.Lock()
	defer locker.stateGuard.Unlock()
	state, ok := locker.states[key]
	if !ok {
		state = &localLockState{slot: make(chan struct{}, 1)}
		locker.states[key] = state
	}
	return state
}

// free releases the holder identified by generation. A lease whose
// acquisition already expired, released, or was handed to a later holder
// releases nothing; the generation check pins the release to its owner.
func (locker *LocalLocker) free(state *localLockState, generation uint64) {
	locker.stateGuard.Lock()
	defer locker.stateGuard.Unlock()
	if !state.held || state.generation != generation {
		return
	}
	state.held = false
	<-state.slot
}

// localLease proves ownership of one acquisition of one key.
type localLease struct {
	locker     *LocalLocker
	state      *localLockState
	generation uint64
}

func (lease *localLease) Release(_ context.Context) error {
	lease.locker.free(lease.state, lease.generation)
	return nil
}
