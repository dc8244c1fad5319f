package locks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v8"

	"calendar-service/internal/common/errors"
	"calendar-service/internal/redis"
)

// RedsyncManager implements distributed locking across service instances
// using the Redlock algorithm from go-redsync/redsync/v4. LockContext
// blocks and retries until the lock is acquired or the context is done,
// which serializes token refreshes for the same user across instances.
type RedsyncManager struct {
	redsync    *redsync.Redsync
	localLocks map[string]*redsyncLock
	mutex      sync.RWMutex
}

type redsyncLock struct {
	mutex      *redsync.Mutex
	key        string
	expiration time.Duration
	ctx        context.Context
	cancel     context.CancelFunc
	manager    *RedsyncManager
	released   sync.Once
}

func NewRedsyncManager(redisClient *redis.Client) (*RedsyncManager, error) {
	if redisClient == nil {
		return nil, errors.ConfigError("redis client is required")
	}

	pool := goredis.NewPool(redisClient.GetGoRedisClient())
	rs := redsync.New(pool)

	return &RedsyncManager{
		redsync:    rs,
		localLocks: make(map[string]*redsyncLock),
	}, nil
}

// AcquireLock blocks until the distributed lock is acquired or ctx is done.
// The lock is renewed in the background at a third of its expiration so it
// survives operations longer than the initial expiry.
func (rm *RedsyncManager) AcquireLock(ctx context.Context, key string, expiration time.Duration) (Lock, error) {
	mutex := rm.redsync.NewMutex(fmt.Sprintf("lock:%s", key), redsync.WithExpiry(expiration))

	if err := mutex.LockContext(ctx); err != nil {
		return nil, errors.TimeoutError("lock acquisition for " + key)
	}

	lockCtx, cancel := context.WithCancel(context.Background())
	lock := &redsyncLock{
		mutex:      mutex,
		key:        key,
		expiration: expiration,
		ctx:        lockCtx,
		cancel:     cancel,
		manager:    rm,
	}

	rm.mutex.Lock()
	rm.localLocks[key] = lock
	rm.mutex.Unlock()

	go rm.renewLock(lock)

	return lock, nil
}

func (rm *RedsyncManager) renewLock(lock *redsyncLock) {
	renewInterval := lock.expiration / 3
	if renewInterval < time.Second {
		renewInterval = time.Second
	}

	ticker := time.NewTicker(renewInterval)
	defer ticker.Stop()

	for {
		select {
		case <-lock.ctx.Done():
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			ok, err := lock.mutex.ExtendContext(ctx)
			cancel()

			if err != nil || !ok {
				// Lock lost, clean up
				lock.Release(context.Background())
				return
			}
		}
	}
}

func (rm *RedsyncManager) Close() error {
	rm.mutex.Lock()
	held := make([]*redsyncLock, 0, len(rm.localLocks))
	for _, lock := range rm.localLocks {
		held = append(held, lock)
	}
	rm.mutex.Unlock()

	for _, lock := range held {
		lock.Release(context.Background())
	}
	return nil
}

func (rl *redsyncLock) Key() string {
	return rl.key
}

func (rl *redsyncLock) Release(ctx context.Context) error {
	rl.released.Do(func() {
		rl.cancel()

		rl.manager.mutex.Lock()
		delete(rl.manager.localLocks, rl.key)
		rl.manager.mutex.Unlock()

		unlockCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		rl.mutex.UnlockContext(unlockCtx)
	})
	return nil
}

func (rl *redsyncLock) IsHeld() bool {
	select {
	case <-rl.ctx.Done():
		return false
	default:
		return true
	}
}

var _ LockManager = (*RedsyncManager)(nil)
