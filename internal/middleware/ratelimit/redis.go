package ratelimit

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisCounter keeps one expiring key per client and window in Redis, so
// every API process sharing the server sees the same counts.
type RedisCounter struct {
	client redis.Cmdable
	prefix string
}

func NewRedisCounter(client redis.Cmdable) *RedisCounter {
	return &RedisCounter{client: client, prefix: "paytrack:ratelimit:"}
}

// Hit increments the key's counter. A counter without an expiry is starting
// a window and gets one; the expiry ends the window.
func (c *RedisCounter) Hit(ctx context.Context, key string) (int64, error) {
	k := c.prefix + key

	var (
		incr *redis.IntCmd
		ttl  *redis.DurationCmd
	)
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, k)
		ttl = pipe.TTL(ctx, k)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", k, err)
	}

	if ttl.Val() < 0 {
		if err := c.client.Expire(ctx, k, Window).Err(); err != nil {
			return incr.Val(), fmt.Errorf("expire %s: %w", k, err)
		}
	}
	return incr.Val(), nil
}
