package platform

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// tokenBucketScript refills the bucket from elapsed time and takes one
// token. Returns 0 when a token was taken, otherwise the milliseconds
// until the next token becomes available.
var tokenBucketScript = redis.NewScript(`
local tokens = tonumber(redis.call('HGET', KEYS[1], 'tokens') or ARGV[1])
local last = tonumber(redis.call('HGET', KEYS[1], 'ts') or '0')
local capacity = tonumber(ARGV[1])
local refill = tonumber(ARGV[2])
local now = tonumber(ARGV[3])

if last > 0 then
  tokens = math.min(capacity, tokens + (now - last) / 1000 * refill)
end

if tokens >= 1 then
  redis.call('HSET', KEYS[1], 'tokens', tokens - 1, 'ts', now)
  redis.call('PEXPIRE', KEYS[1], 60000)
  return 0
end

redis.call('HSET', KEYS[1], 'tokens', tokens, 'ts', now)
redis.call('PEXPIRE', KEYS[1], 60000)
return math.ceil((1 - tokens) / refill * 1000)
`)

// RateLimiter is a per-platform token bucket shared across replicas
// through Redis. Without Redis it degrades to a local bucket, which
// still bounds a single process. Redis errors fail open.
type RateLimiter struct {
	rdb      *redis.Client
	key      string
	capacity float64
	refill   float64 // tokens per second

	mu     sync.Mutex
	tokens float64
	last   time.Time
}

// NewRateLimiter creates a bucket named after the platform.
func NewRateLimiter(rdb *redis.Client, name string, capacity int, perSecond float64) *RateLimiter {
	return &RateLimiter{
		rdb:      rdb,
		key:      "platform:rate:" + name,
		capacity: float64(capacity),
		refill:   perSecond,
		tokens:   float64(capacity),
		last:     time.Now(),
	}
}

// Wait blocks until a token is available or the context ends.
func (l *RateLimiter) Wait(ctx context.Context) error {
	for {
		wait, err := l.take(ctx)
		if err != nil || wait == 0 {
			return err
		}
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

// take attempts to grab one token, returning the suggested wait when
// none is available.
func (l *RateLimiter) take(ctx context.Context) (time.Duration, error) {
	if l.rdb == nil {
		return l.takeLocal(), nil
	}
	now := time.Now().UnixMilli()
	res, err := tokenBucketScript.Run(ctx, l.rdb, []string{l.key}, l.capacity, l.refill, now).Int64()
	if err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		// Redis down: fall back to the local bucket rather than stall.
		return l.takeLocal(), nil
	}
	return time.Duration(res) * time.Millisecond, nil
}

func (l *RateLimiter) takeLocal() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	l.tokens = minFloat(l.capacity, l.tokens+now.Sub(l.last).Seconds()*l.refill)
	l.last = now
	if l.tokens >= 1 {
		l.tokens--
		return 0
	}
	return time.Duration((1 - l.tokens) / l.refill * float64(time.Second))
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
