package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockerAcquireRelease(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	locker := NewLocker(client)
	ctx := context.Background()
	key := RunApplyLockKey(42)
	assert.Equal(t, "catalogsync:run:42:apply", key)

	release, err := locker.Acquire(ctx, key, time.Minute)
	require.NoError(t, err)

	_, err = locker.Acquire(ctx, key, time.Minute)
	assert.ErrorIs(t, err, ErrLocked)

	require.NoError(t, release(ctx))
	assert.False(t, mr.Exists(key))

	again, err := locker.Acquire(ctx, key, time.Minute)
	require.NoError(t, err)
	require.NoError(t, again(ctx))
}

func TestLockerReleaseKeepsForeignLock(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	locker := NewLocker(client)
	ctx := context.Background()
	key := RunApplyLockKey(7)

	release, err := locker.Acquire(ctx, key, time.Second)
	require.NoError(t, err)

	mr.FastForward(2 * time.Second)
	require.NoError(t, mr.Set(key, "someone-else"))

	require.NoError(t, release(ctx))
	got, err := mr.Get(key)
	require.NoError(t, err)
	assert.Equal(t, "someone-else", got)
}

func TestNilLockerAlwaysGrants(t *testing.T) {
	var locker *Locker
	release, err := locker.Acquire(context.Background(), "k", time.Second)
	require.NoError(t, err)
	assert.NoError(t, release(context.Background()))
}
