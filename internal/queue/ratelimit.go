package queue

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// rateLimiter caps global job throughput across all replicas. Backed
// by a per-second Redis counter bumped atomically in Lua; without
// Redis it degrades to an in-memory counter (per-process cap only).
type rateLimiter struct {
	rdb   *redis.Client
	limit int

	mu       sync.Mutex
	winStart int64
	count    int
}

var rateScript = redis.NewScript(`
	local current = redis.call("INCR", KEYS[1])
	if current == 1 then
		redis.call("EXPIRE", KEYS[1], 2)
	end
	if current > tonumber(ARGV[1]) then
		return 0
	end
	return 1
`)

func newRateLimiter(rdb *redis.Client, perSecond int) *rateLimiter {
	if perSecond <= 0 {
		perSecond = 50
	}
	return &rateLimiter{rdb: rdb, limit: perSecond}
}

// Wait blocks until a slot in the current second is available or the
// context ends. Errors from Redis fail open so a cache outage never
// stalls the pipeline.
func (r *rateLimiter) Wait(ctx context.Context) {
	for {
		if r.allow(ctx) {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func (r *rateLimiter) allow(ctx context.Context) bool {
	now := time.Now().Unix()

	if r.rdb == nil {
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.winStart != now {
			r.winStart = now
			r.count = 0
		}
		if r.count >= r.limit {
			return false
		}
		r.count++
		return true
	}

	key := "queue:rate:" + time.Unix(now, 0).UTC().Format("150405")
	ok, err := rateScript.Run(ctx, r.rdb, []string{key}, r.limit).Int()
	if err != nil {
		return true
	}
	return ok == 1
}
