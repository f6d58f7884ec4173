// Package ratelimit bounds requests per client over fixed one-minute windows.
// The window counters live behind Counter so several API processes can share
// them through Redis.
package ratelimit

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"
)

// Window is the length of one counting window.
const Window = time.Minute

// Counter counts hits per key in the current window.
type Counter interface {
	// Hit records one request for key and returns the number of requests the
	// key has made in the current window, this one included.
	Hit(ctx context.Context, key string) (int64, error)
}

// Limiter rejects a client's requests once its window count passes the limit.
type Limiter struct {
	counter Counter
	limit   int64

	rejected atomic.Int64
	failures atomic.Int64
}

// Stats are the limiter's counters since start.
type Stats struct {
	Rejected int64
	// CounterErrors are hits the counter could not record. Those requests
	// were let through.
	CounterErrors int64
}

// NewLimiter allows perMinute requests per key and window.
func NewLimiter(counter Counter, perMinute int) *Limiter {
	if perMinute < 1 {
		perMinute = 1
	}
	return &Limiter{counter: counter, limit: int64(perMinute)}
}

// Allow records a request for key and reports whether it is within the limit.
// A counter failure lets the request through.
func (l *Limiter) Allow(ctx context.Context, key string) bool {
	n, err := l.counter.Hit(ctx, key)
	if err != nil {
		l.failures.Add(1)
		slog.WarnContext(ctx, "Rate limit counter unavailable, allowing request", "key", key, "error", err)
		return true
	}
	if n > l.limit {
		l.rejected.Add(1)
		return false
	}
	return true
}

func (l *Limiter) Stats() Stats {
	return Stats{Rejected: l.rejected.Load(), CounterErrors: l.failures.Load()}
}

// Middleware limits requests whose method is in methods; an empty list limits
// every request. onLimit writes the rejection.
func (l *Limiter) Middleware(clientKey func(*http.Request) string, onLimit http.HandlerFunc, methods ...string) func(http.Handler) http.Handler {
	limited := make(map[string]bool, len(methods))
	for _, m := range methods {
		limited[m] = true
	}
	if onLimit == nil {
		onLimit = func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
		}
	}
	retryAfter := strconv.Itoa(int(Window / time.Second))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(limited) > 0 && !limited[r.Method] {
				next.ServeHTTP(w, r)
				return
			}
			if !l.Allow(r.Context(), clientKey(r)) {
				w.Header().Set("Retry-After", retryAfter)
				onLimit(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
