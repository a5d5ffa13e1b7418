package adapter

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nexus-stock/internal/pkg/redis"
)

func newRedisLock(t *testing.T) (*LockRedisAdapter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClientFrom(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = client.Close() })
	a, err := NewLockRedisAdapter(client, "")
	require.NoError(t, err)
	return a, mr
}

func TestRedisLockSetIfAbsent(t *testing.T) {
	a, mr := newRedisLock(t)
	ctx := context.Background()
	key := "lock:stock:{p1:s1:shop1:w1}"

	ok, err := a.SetIfAbsent(ctx, key, "t1", 3*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = a.SetIfAbsent(ctx, key, "t2", 3*time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := mr.Get(key)
	require.NoError(t, err)
	assert.Equal(t, "t1", got)
	assert.Equal(t, 3*time.Second, mr.TTL(key))
}

func TestRedisLockCompareAndDelete(t *testing.T) {
	a, mr := newRedisLock(t)
	ctx := context.Background()
	key := "lock:stock:{p1:s1:shop1:w1}"

	_, err := a.SetIfAbsent(ctx, key, "t1", 3*time.Second)
	require.NoError(t, err)

	deleted, err := a.CompareAndDelete(ctx, key, "someone-else")
	require.NoError(t, err)
	assert.False(t, deleted)
	assert.True(t, mr.Exists(key))

	deleted, err = a.CompareAndDelete(ctx, key, "t1")
	require.NoError(t, err)
	assert.True(t, deleted)
	assert.False(t, mr.Exists(key))

	deleted, err = a.CompareAndDelete(ctx, key, "t1")
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestRedisLockExpiredHolderCannotDeleteSuccessor(t *testing.T) {
	a, mr := newRedisLock(t)
	ctx := context.Background()
	key := "lock:stock:{p1:s1:shop1:w1}"

	_, err := a.SetIfAbsent(ctx, key, "slow", time.Second)
	require.NoError(t, err)
	mr.FastForward(2 * time.Second)

	ok, err := a.SetIfAbsent(ctx, key, "next", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	deleted, err := a.CompareAndDelete(ctx, key, "slow")
	require.NoError(t, err)
	assert.False(t, deleted)
	got, _ := mr.Get(key)
	assert.Equal(t, "next", got)
}

func TestRedisLockStoreUnavailable(t *testing.T) {
	a, mr := newRedisLock(t)
	mr.Close()

	_, err := a.SetIfAbsent(context.Background(), "k", "t", time.Second)
	assert.Error(t, err)
	_, err = a.CompareAndDelete(context.Background(), "k", "t")
	assert.Error(t, err)
}

func TestRedisLockReleaseScriptFromFile(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClientFrom(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = client.Close() })

	_, err := NewLockRedisAdapter(client, filepath.Join(t.TempDir(), "missing.lua"))
	assert.Error(t, err)

	a, err := NewLockRedisAdapter(client, filepath.Join("..", "..", "..", "..", "..", "scripts", "release_lock.lua"))
	require.NoError(t, err)

	ctx := context.Background()
	key := "lock:holder:{cart-1}"
	ok, err := a.SetIfAbsent(ctx, key, "t1", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	deleted, err := a.CompareAndDelete(ctx, key, "t2")
	require.NoError(t, err)
	assert.False(t, deleted)
	deleted, err = a.CompareAndDelete(ctx, key, "t1")
	require.NoError(t, err)
	assert.True(t, deleted)
	assert.False(t, mr.Exists(key))
}
