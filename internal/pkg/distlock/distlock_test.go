package distlock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func TestRedisLockMutualExclusion(t *testing.T) {
	client := newTestRedis(t)
	ctx := context.Background()

	a := NewRedisLock(client, "worker:metrics", 30*time.Second)
	b := NewRedisLock(client, "worker:metrics", 30*time.Second)

	ok, err := a.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = b.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "second holder must not acquire")

	require.NoError(t, a.Release(ctx))

	ok, err = b.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok, "lock should be free after release")
}

func TestRedisLockReleaseRequiresOwnership(t *testing.T) {
	client := newTestRedis(t)
	ctx := context.Background()

	a := NewRedisLock(client, "worker:sync", time.Minute)
	b := NewRedisLock(client, "worker:sync", time.Minute)

	ok, err := a.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	// b never acquired: its release must not free a's lock
	require.NoError(t, b.Release(ctx))

	ok, err = b.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisLockExtend(t *testing.T) {
	client := newTestRedis(t)
	ctx := context.Background()

	a := NewRedisLock(client, "worker:healing", time.Second)
	ok, err := a.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, a.Extend(ctx, time.Minute))

	ttl := client.PTTL(ctx, "lock:worker:healing").Val()
	assert.Greater(t, ttl, 5*time.Second)
}

func TestNewLockPrefersRedis(t *testing.T) {
	client := newTestRedis(t)
	l := NewLock(client, nil, "any", time.Minute)
	_, isRedis := l.(*RedisLock)
	assert.True(t, isRedis)

	l = NewLock(nil, nil, "any", time.Minute)
	_, isPG := l.(*PGAdvisoryLock)
	assert.True(t, isPG)
}
