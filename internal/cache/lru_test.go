package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func newClockedLRU(capacity int, ttl time.Duration) (*LRU[int], *time.Time) {
	c := NewLRU[int](capacity, ttl)
	now := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	return c, &now
}

func TestLRU_EvictsLeastRecentlyRead(t *testing.T) {
	c, _ := newClockedLRU(2, time.Minute)
	c.Set("a", 1)
	c.Set("b", 2)
	c.Get("a")
	c.Set("c", 3)

	if _, ok := c.Get("b"); ok {
		t.Error("Get(b) hit, want evicted")
	}
	if v, ok := c.Get("a"); !ok || v != 1 {
		t.Errorf("Get(a) = %v, %v, want 1, true", v, ok)
	}
	if c.Len() != 2 {
		t.Errorf("Len() = %d, want 2", c.Len())
	}
}

func TestLRU_Expiry(t *testing.T) {
	c, now := newClockedLRU(10, time.Minute)
	c.Set("k", 1)
	*now = now.Add(2 * time.Minute)
	if _, ok := c.Get("k"); ok {
		t.Error("Get() hit an expired entry")
	}

	c.Set("k1", 1)
	c.Set("k2", 2)
	*now = now.Add(30 * time.Second)
	c.Set("k3", 3)
	*now = now.Add(45 * time.Second)

	if n := c.RemoveExpired(); n != 2 {
		t.Errorf("RemoveExpired() = %d, want 2", n)
	}
	if _, ok := c.Get("k3"); !ok {
		t.Error("live entry removed")
	}
}

func TestLRU_GetOrLoad(t *testing.T) {
	c, _ := newClockedLRU(10, time.Minute)
	calls := 0
	load := func() (int, error) {
		calls++
		return 7, nil
	}

	for i := 0; i < 3; i++ {
		v, err := c.GetOrLoad("k", load)
		if err != nil || v != 7 {
			t.Fatalf("GetOrLoad() = %v, %v, want 7, nil", v, err)
		}
	}
	if calls != 1 {
		t.Errorf("load called %d times, want 1", calls)
	}

	boom := errors.New("boom")
	if _, err := c.GetOrLoad("bad", func() (int, error) { return 0, boom }); !errors.Is(err, boom) {
		t.Errorf("GetOrLoad() error = %v, want boom", err)
	}
	if _, ok := c.Get("bad"); ok {
		t.Error("failed load was cached")
	}
	if st := c.Stats(); st.Hits != 2 {
		t.Errorf("Stats().Hits = %d, want 2", st.Hits)
	}
}

func TestLRU_ConcurrentMissesShareLoad(t *testing.T) {
	c := NewLRU[int](10, time.Minute)
	release := make(chan struct{})
	var calls atomic.Int32
	load := func() (int, error) {
		calls.Add(1)
		<-release
		return 42, nil
	}

	var wg sync.WaitGroup
	results := make([]int, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = c.GetOrLoad("v1", load)
		}(i)
	}
	// Give the goroutines time to queue behind the first load.
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if n := calls.Load(); n != 1 {
		t.Errorf("load ran %d times, want 1", n)
	}
	for i, v := range results {
		if v != 42 {
			t.Errorf("result %d = %d, want 42", i, v)
		}
	}
}

func TestSweep_StopsWithContext(t *testing.T) {
	c := NewLRU[int](10, time.Millisecond)
	c.Set("k", 1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		Sweep(ctx, 2*time.Millisecond, c)
		close(done)
	}()

	deadline := time.Now().Add(time.Second)
	for c.Len() > 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	cancel()
	<-done

	if c.Len() != 0 {
		t.Errorf("Len() = %d after sweeping, want 0", c.Len())
	}
}
