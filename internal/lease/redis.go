package lease

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"

	"paytrack/internal/core"
)

const redisKeyPrefix = "series-lease:"

// RedisLocker shares leases between processes through Redis. A lease that is
// not released expires after ttl.
type RedisLocker struct {
	locker *redislock.Client
	ttl    time.Duration
	retry  RetryPolicy
}

func NewRedisLocker(rdb *redis.Client, ttl time.Duration, retry RetryPolicy) *RedisLocker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisLocker{
		locker: redislock.New(rdb),
		ttl:    ttl,
		retry:  retry.normalized(),
	}
}

func (r *RedisLocker) Acquire(ctx context.Context, key string) (Lease, error) {
	strategy := redislock.LimitRetry(
		redislock.ExponentialBackoff(r.retry.Backoff, r.retry.MaxBackoff),
		r.retry.Attempts-1,
	)

	lock, err := r.locker.Obtain(ctx, redisKeyPrefix+key, r.ttl, &redislock.Options{RetryStrategy: strategy})
	if errors.Is(err, redislock.ErrNotObtained) {
		slog.WarnContext(ctx, "Series lease contended, giving up",
			"series_id", key,
			"attempts", r.retry.Attempts)
		return nil, fmt.Errorf("%w: series %s is locked", core.ErrConcurrentModification, key)
	}
	if err != nil {
		return nil, fmt.Errorf("obtain series lease: %w", err)
	}
	return &redisLease{lock: lock, key: key}, nil
}

type redisLease struct {
	lock *redislock.Lock
	key  string
	once sync.Once
	err  error
}

func (l *redisLease) Release(ctx context.Context) error {
	l.once.Do(func() {
		err := l.lock.Release(ctx)
		if errors.Is(err, redislock.ErrLockNotHeld) {
			// Expired before release; another holder may already own it.
			slog.WarnContext(ctx, "Series lease expired before release", "series_id", l.key)
			return
		}
		if err != nil {
			l.err = fmt.Errorf("release series lease: %w", err)
		}
	})
	return l.err
}
