// Package locks provides per-key mutual exclusion for token refresh and
// other operations that must not run concurrently for the same user.
//
// Two implementations exist: an in-process manager for single-instance
// deployments and a Redis-backed manager using the Redlock algorithm from
// go-redsync/redsync/v4 for multi-instance deployments. Both block until
// the lock is available or the context is done.
package locks

import (
	"context"
	"sync"
	"time"

	"calendar-service/internal/common/errors"
)

// Lock is a held lock. Release must be called exactly once when the
// critical section is done.
type Lock interface {
	// Key returns the identifier this lock guards.
	Key() string

	// Release gives up the lock. Safe to call more than once.
	Release(ctx context.Context) error

	// IsHeld reports whether this instance still holds the lock. It checks
	// local state only.
	IsHeld() bool
}

// LockManager acquires locks by key. Acquisition blocks until the lock is
// available, the context is cancelled, or the attempt times out.
type LockManager interface {
	AcquireLock(ctx context.Context, key string, expiration time.Duration) (Lock, error)
	Close() error
}

// LocalManager provides in-process per-key locking. Contending goroutines
// wait in FIFO-ish order on a per-key semaphore rather than failing fast.
//
// LocalManager is safe for concurrent use.
type LocalManager struct {
	mu     sync.Mutex
	sems   map[string]*localSem
	closed bool
}

type localSem struct {
	ch   chan struct{}
	refs int
}

func NewLocalManager() *LocalManager {
	return &LocalManager{
		sems: make(map[string]*localSem),
	}
}

// AcquireLock blocks until the key's lock is free or ctx is done. The
// expiration parameter is ignored; in-process locks live until released.
func (m *LocalManager) AcquireLock(ctx context.Context, key string, expiration time.Duration) (Lock, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, errors.InternalError("lock manager is closed", nil)
	}
	sem, ok := m.sems[key]
	if !ok {
		sem = &localSem{ch: make(chan struct{}, 1)}
		m.sems[key] = sem
	}
	sem.refs++
	m.mu.Unlock()

	select {
	case sem.ch <- struct{}{}:
		return &localLock{key: key, sem: sem, manager: m}, nil
	case <-ctx.Done():
		m.unref(key, sem)
		return nil, errors.TimeoutError("lock acquisition for " + key)
	}
}

func (m *LocalManager) unref(key string, sem *localSem) {
	m.mu.Lock()
	sem.refs--
	if sem.refs == 0 {
		delete(m.sems, key)
	}
	m.mu.Unlock()
}

func (m *LocalManager) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

type localLock struct {
	key      string
	sem      *localSem
	manager  *LocalManager
	released sync.Once
	done     bool
	mu       sync.Mutex
}

func (l *localLock) Key() string {
	return l.key
}

func (l *localLock) Release(ctx context.Context) error {
	l.released.Do(func() {
		<-l.sem.ch
		l.manager.unref(l.key, l.sem)
		l.mu.Lock()
		l.done = true
		l.mu.Unlock()
	})
	return nil
}

func (l *localLock) IsHeld() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return !l.done
}

var _ LockManager = (*LocalManager)(nil)
