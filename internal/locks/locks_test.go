package locks

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calendar-service/internal/redis"
)

func TestLocalManager_AcquireAndRelease(t *testing.T) {
	manager := NewLocalManager()
	defer manager.Close()

	ctx := context.Background()

	lock, err := manager.AcquireLock(ctx, "user-1", 30*time.Second)
	require.NoError(t, err)
	require.NotNil(t, lock)

	assert.Equal(t, "user-1", lock.Key())
	assert.True(t, lock.IsHeld())

	err = lock.Release(ctx)
	assert.NoError(t, err)
	assert.False(t, lock.IsHeld())

	// Double release is a no-op
	assert.NoError(t, lock.Release(ctx))
}

func TestLocalManager_BlocksUntilReleased(t *testing.T) {
	manager := NewLocalManager()
	defer manager.Close()

	ctx := context.Background()

	lock1, err := manager.AcquireLock(ctx, "user-1", 30*time.Second)
	require.NoError(t, err)

	acquired := make(chan Lock)
	go func() {
		lock2, err := manager.AcquireLock(ctx, "user-1", 30*time.Second)
		require.NoError(t, err)
		acquired <- lock2
	}()

	// The second acquisition must wait for the first to release
	select {
	case <-acquired:
		t.Fatal("second acquisition succeeded while lock was held")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, lock1.Release(ctx))

	select {
	case lock2 := <-acquired:
		lock2.Release(ctx)
	case <-time.After(time.Second):
		t.Fatal("second acquisition did not proceed after release")
	}
}

func TestLocalManager_ContextCancellation(t *testing.T) {
	manager := NewLocalManager()
	defer manager.Close()

	ctx := context.Background()

	lock1, err := manager.AcquireLock(ctx, "user-1", 30*time.Second)
	require.NoError(t, err)
	defer lock1.Release(ctx)

	shortCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()

	lock2, err := manager.AcquireLock(shortCtx, "user-1", 30*time.Second)
	assert.Error(t, err)
	assert.Nil(t, lock2)
}

func TestLocalManager_IndependentKeys(t *testing.T) {
	manager := NewLocalManager()
	defer manager.Close()

	ctx := context.Background()

	lock1, err := manager.AcquireLock(ctx, "user-1", 30*time.Second)
	require.NoError(t, err)
	defer lock1.Release(ctx)

	// A different key must not block
	done := make(chan struct{})
	go func() {
		lock2, err := manager.AcquireLock(ctx, "user-2", 30*time.Second)
		require.NoError(t, err)
		lock2.Release(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("acquisition of an independent key blocked")
	}
}

func TestLocalManager_MutualExclusion(t *testing.T) {
	manager := NewLocalManager()
	defer manager.Close()

	ctx := context.Background()
	var counter int
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lock, err := manager.AcquireLock(ctx, "shared", 30*time.Second)
			require.NoError(t, err)
			defer lock.Release(ctx)

			// Unsynchronized increment; the lock provides the exclusion
			v := counter
			time.Sleep(time.Millisecond)
			counter = v + 1
		}()
	}

	wg.Wait()
	assert.Equal(t, 20, counter)
}

func TestRedsyncManager_AcquireLock(t *testing.T) {
	s, err := miniredis.Run()
	require.NoError(t, err)
	defer s.Close()

	redisClient, err := redis.NewClient(&redis.Config{
		Address: s.Addr(),
	})
	require.NoError(t, err)
	defer redisClient.Close()

	manager, err := NewRedsyncManager(redisClient)
	require.NoError(t, err)
	defer manager.Close()

	ctx := context.Background()

	t.Run("successful lock acquisition", func(t *testing.T) {
		lock, err := manager.AcquireLock(ctx, "refresh:user-1", 30*time.Second)
		require.NoError(t, err)
		require.NotNil(t, lock)

		assert.Equal(t, "refresh:user-1", lock.Key())
		assert.True(t, lock.IsHeld())

		err = lock.Release(ctx)
		assert.NoError(t, err)
		assert.False(t, lock.IsHeld())
	})

	t.Run("lock contention times out", func(t *testing.T) {
		lock1, err := manager.AcquireLock(ctx, "contended", 30*time.Second)
		require.NoError(t, err)
		defer lock1.Release(ctx)

		shortCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
		defer cancel()

		lock2, err := manager.AcquireLock(shortCtx, "contended", 30*time.Second)
		assert.Error(t, err)
		assert.Nil(t, lock2)
	})

	t.Run("reacquire after release", func(t *testing.T) {
		lock1, err := manager.AcquireLock(ctx, "cycled", 30*time.Second)
		require.NoError(t, err)
		require.NoError(t, lock1.Release(ctx))

		lock2, err := manager.AcquireLock(ctx, "cycled", 30*time.Second)
		require.NoError(t, err)
		lock2.Release(ctx)
	})
}

func TestRedsyncManager_NilRedisClient(t *testing.T) {
	manager, err := NewRedsyncManager(nil)
	assert.Error(t, err)
	assert.Nil(t, manager)
	assert.Contains(t, err.Error(), "redis client is required")
}

func TestNewLockManager(t *testing.T) {
	t.Run("without redis falls back to local", func(t *testing.T) {
		manager, err := NewLockManager(nil)
		require.NoError(t, err)
		defer manager.Close()

		_, ok := manager.(*LocalManager)
		assert.True(t, ok)
	})

	t.Run("with redis uses redsync", func(t *testing.T) {
		s, err := miniredis.Run()
		require.NoError(t, err)
		defer s.Close()

		redisClient, err := redis.NewClient(&redis.Config{
			Address: s.Addr(),
		})
		require.NoError(t, err)
		defer redisClient.Close()

		manager, err := NewLockManager(redisClient)
		require.NoError(t, err)
		defer manager.Close()

		_, ok := manager.(*RedsyncManager)
		assert.True(t, ok)
	})
}
