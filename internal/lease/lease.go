// Package lease serializes operations per series id.
//
// Every read-modify-write cycle on a series runs under an exclusive lease
// keyed by the series id. Different keys never contend. Acquisition retries
// with exponential backoff and gives up with core.ErrConcurrentModification.
package lease

import (
	"context"
	"time"
)

// Lease is a held exclusive lock. Release is safe to call more than once.
type Lease interface {
	Release(ctx context.Context) error
}

// Locker hands out leases keyed by series id.
type Locker interface {
	Acquire(ctx context.Context, key string) (Lease, error)
}

// RetryPolicy bounds lease acquisition.
type RetryPolicy struct {
	Attempts   int
	Backoff    time.Duration
	MaxBackoff time.Duration
}

// DefaultRetryPolicy returns sensible defaults
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Attempts:   5,
		Backoff:    50 * time.Millisecond,
		MaxBackoff: time.Second,
	}
}

func (p RetryPolicy) normalized() RetryPolicy {
	def := DefaultRetryPolicy()
	if p.Attempts < 1 {
		p.Attempts = def.Attempts
	}
	if p.Backoff <= 0 {
		p.Backoff = def.Backoff
	}
	if p.MaxBackoff < p.Backoff {
		p.MaxBackoff = p.Backoff
	}
	return p
}

// delay returns the wait before retry number attempt (0-based), doubling from
// Backoff and capped at MaxBackoff.
func (p RetryPolicy) delay(attempt int) time.Duration {
	d := p.Backoff
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	return d
}
