package platform

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiterRedisBucketExhausts(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	l := NewRateLimiter(rdb, "emailbison", 2, 1)

	ctx := context.Background()
	wait, err := l.take(ctx)
	require.NoError(t, err)
	assert.Zero(t, wait)

	wait, err = l.take(ctx)
	require.NoError(t, err)
	assert.Zero(t, wait)

	wait, err = l.take(ctx)
	require.NoError(t, err)
	assert.Greater(t, wait, time.Duration(0))
}

func TestRateLimiterLocalFallback(t *testing.T) {
	l := NewRateLimiter(nil, "emailbison", 1, 100)

	wait, err := l.take(context.Background())
	require.NoError(t, err)
	assert.Zero(t, wait)

	wait, err = l.take(context.Background())
	require.NoError(t, err)
	assert.Greater(t, wait, time.Duration(0))
}
