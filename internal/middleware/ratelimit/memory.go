package ratelimit

import (
	"context"
	"sync"
	"time"
)

// idleAfter is how long a key may stay silent before its window is forgotten.
const idleAfter = 10 * time.Minute

type window struct {
	start time.Time
	last  time.Time
	hits  int64
}

// MemoryCounter keeps windows in process memory. Call Stop to end its sweep
// goroutine.
type MemoryCounter struct {
	mu      sync.Mutex
	windows map[string]*window
	now     func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

// NewMemoryCounter starts a counter that forgets idle keys every sweep.
func NewMemoryCounter(sweep time.Duration) *MemoryCounter {
	if sweep <= 0 {
		sweep = 5 * time.Minute
	}
	c := &MemoryCounter{
		windows: make(map[string]*window),
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	go c.sweepEvery(sweep)
	return c
}

func (c *MemoryCounter) Hit(_ context.Context, key string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	w, ok := c.windows[key]
	if !ok || now.Sub(w.start) >= Window {
		w = &window{start: now}
		c.windows[key] = w
	}
	w.hits++
	w.last = now
	return w.hits, nil
}

// Keys returns how many keys currently hold a window.
func (c *MemoryCounter) Keys() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.windows)
}

func (c *MemoryCounter) sweepEvery(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.forgetIdle()
		case <-c.stop:
			return
		}
	}
}

func (c *MemoryCounter) forgetIdle() {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := c.now().Add(-idleAfter)
	for key, w := range c.windows {
		if w.last.Before(cutoff) {
			delete(c.windows, key)
		}
	}
}

// Stop ends the sweep goroutine. It is safe to call more than once.
func (c *MemoryCounter) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
}
