package ledger

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// DefaultLockTimeout bounds how long a mutation waits for its entity.
const DefaultLockTimeout = 2 * time.Second

// EntityLocks serializes mutations per entity. Different entities never
// contend. Acquisition is bounded by a timeout and surfaces
// *LockTimeoutError instead of blocking forever.
type EntityLocks struct {
	timeout time.Duration

	mu    sync.Mutex
	locks map[EntityID]*entityLock
}

type entityLock struct {
	sem  *semaphore.Weighted
	refs int
}

func NewEntityLocks(timeout time.Duration) *EntityLocks {
	if timeout <= 0 {
		timeout = DefaultLockTimeout
	}
	return &EntityLocks{timeout: timeout, locks: make(map[EntityID]*entityLock)}
}

// Acquire blocks until the entity's lock is held, the timeout elapses or
// ctx is done. The returned release func must be called exactly once.
func (l *EntityLocks) Acquire(ctx context.Context, id EntityID) (release func(), err error) {
	el := l.ref(id)

	waitCtx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	start := time.Now()
	if err := el.sem.Acquire(waitCtx, 1); err != nil {
		l.unref(id, el)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &LockTimeoutError{EntityID: id, Waited: time.Since(start)}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			el.sem.Release(1)
			l.unref(id, el)
		})
	}, nil
}

func (l *EntityLocks) ref(id EntityID) *entityLock {
	l.mu.Lock()
	defer l.mu.Unlock()
	el, ok := l.locks[id]
	if !ok {
		el = &entityLock{sem: semaphore.NewWeighted(1)}
		l.locks[id] = el
	}
	el.refs++
	return el
}

// unref drops the map entry once nobody holds or waits on it.
func (l *EntityLocks) unref(id EntityID, el *entityLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	el.refs--
	if el.refs == 0 {
		delete(l.locks, id)
	}
}

// held reports how many entities currently have holders or waiters.
func (l *EntityLocks) held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
