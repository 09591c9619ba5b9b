package admission

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCounters implements the classic fixed-window counter: INCR plus an
// expiry set only when the key is first created, TTL disclosing the reset.
type RedisCounters struct {
	rdb redis.Cmdable
}

func NewRedisCounters(rdb redis.Cmdable) *RedisCounters {
	return &RedisCounters{rdb: rdb}
}

func (c *RedisCounters) Incr(ctx context.Context, key string, win time.Duration) (int64, time.Duration, error) {
	k := "ratelimit:" + key

	pipe := c.rdb.TxPipeline()
	incr := pipe.Incr(ctx, k)
	pipe.ExpireNX(ctx, k, win)
	ttl := pipe.TTL(ctx, k)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, 0, fmt.Errorf("redis rate counter: %w", err)
	}

	remaining := ttl.Val()
	if remaining < 0 {
		remaining = win
	}
	return incr.Val(), remaining, nil
}
