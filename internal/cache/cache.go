// Package cache holds in-memory caches for immutable registry records.
package cache

import (
	"context"
	"log/slog"
	"time"

	"paytrack/internal/log"
)

// Expirer is a cache whose entries age out.
type Expirer interface {
	// RemoveExpired drops aged entries and returns how many it dropped.
	RemoveExpired() int
}

// Sweep removes expired entries from caches every interval until ctx ends.
func Sweep(ctx context.Context, interval time.Duration, caches ...Expirer) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed := 0
			for _, c := range caches {
				removed += c.RemoveExpired()
			}
			if removed > 0 {
				slog.DebugContext(ctx, "Evicted expired cache entries", log.FieldComponent, log.ComponentCache, log.FieldCount, removed)
			}
		}
	}
}
