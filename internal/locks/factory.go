package locks

import (
	"calendar-service/internal/redis"
)

// NewLockManager picks the lock implementation for the deployment. With a
// Redis client it returns the redsync-backed distributed manager; without
// one it falls back to in-process locking, which is correct as long as a
// single service instance runs.
func NewLockManager(redisClient *redis.Client) (LockManager, error) {
	if redisClient == nil {
		return NewLocalManager(), nil
	}
	return NewRedsyncManager(redisClient)
}
