package lease

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"paytrack/internal/core"
)

// KeyedMutex is an in-process lock table. Entries exist only while held.
type KeyedMutex struct {
	mu    sync.Mutex
	held  map[string]struct{}
	retry RetryPolicy
}

func NewKeyedMutex(retry RetryPolicy) *KeyedMutex {
	return &KeyedMutex{
		held:  make(map[string]struct{}),
		retry: retry.normalized(),
	}
}

func (k *KeyedMutex) Acquire(ctx context.Context, key string) (Lease, error) {
	for attempt := 0; ; attempt++ {
		if k.tryLock(key) {
			return &keyedLease{owner: k, key: key}, nil
		}
		if attempt+1 >= k.retry.Attempts {
			slog.WarnContext(ctx, "Series lease contended, giving up",
				"series_id", key,
				"attempts", attempt+1)
			return nil, fmt.Errorf("%w: series %s is locked", core.ErrConcurrentModification, key)
		}

		timer := time.NewTimer(k.retry.delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

// Held reports whether key is currently leased.
func (k *KeyedMutex) Held(key string) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	_, ok := k.held[key]
	return ok
}

func (k *KeyedMutex) tryLock(key string) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	if _, busy := k.held[key]; busy {
		return false
	}
	k.held[key] = struct{}{}
	return true
}

func (k *KeyedMutex) unlock(key string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.held, key)
}

type keyedLease struct {
	owner *KeyedMutex
	key   string
	once  sync.Once
}

func (l *keyedLease) Release(context.Context) error {
	l.once.Do(func() { l.owner.unlock(l.key) })
	return nil
}
