package lock

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntitiesDiffer(t *testing.T) {
	a, b := NewRedLock(nil, ""), NewRedLock(nil, "")
	assert.NotEmpty(t, a.Entity())
	assert.NotEqual(t, a.Entity(), b.Entity())
	assert.Equal(t, "me", NewRedLock(nil, "me").Entity())
}

func TestLockIsExclusive(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	defer rdb.Close()
	ctx := context.Background()
	key := "plua:test:lock:" + GeneLockEntity()

	a, b := NewRedLock(rdb, ""), NewRedLock(rdb, "")
	require.NoError(t, a.Lock(ctx, key, time.Minute, 0, 10*time.Millisecond))
	assert.ErrorIs(t, b.Lock(ctx, key, time.Minute, 50*time.Millisecond, 10*time.Millisecond), ErrFailedLock)

	ok, err := b.UnLock(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok, "only the holder unlocks")
	ok, err = a.UnLock(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = b.TryLock(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	b.UnLock(ctx, key)
}
