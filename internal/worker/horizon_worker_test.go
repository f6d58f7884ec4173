package worker

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paytrack/internal/amqp"
	"paytrack/internal/core"
	"paytrack/internal/lease"
	"paytrack/internal/services"
	"paytrack/internal/storage"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type fixture struct {
	clock    *clock
	locker   *lease.KeyedMutex
	registry *services.SeriesRegistry
	worker   *HorizonWorker
	series   core.Series
}

// newFixture creates a monthly series anchored on 2024-01-15 that keeps three
// occurrences materialized, so it starts with a horizon of 2024-03-15.
func newFixture(t *testing.T) *fixture {
	t.Helper()

	repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "worker.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	c := &clock{now: time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)}
	locker := lease.NewKeyedMutex(lease.RetryPolicy{Attempts: 1, Backoff: time.Millisecond})
	registry := services.NewSeriesRegistry(repo, locker, nil, services.Options{
		HorizonInstances: 3,
		Now:              c.Now,
	})

	series, err := registry.CreateSeries(context.Background(),
		core.RecurrenceRule{Pattern: core.Monthly, AnchorDate: core.NewDate(2024, 1, 15)},
		core.Attributes{Amount: decimal.NewFromInt(100), CategoryID: "housing", Description: "Rent"})
	require.NoError(t, err)
	require.Equal(t, "2024-03-15", series.Horizon.String())

	return &fixture{
		clock:    c,
		locker:   locker,
		registry: registry,
		worker:   NewHorizonWorker(registry, services.NewHorizonSweeper(registry, 2)),
		series:   series,
	}
}

func (f *fixture) horizon(t *testing.T) string {
	t.Helper()
	s, err := f.registry.GetSeries(context.Background(), f.series.ID)
	require.NoError(t, err)
	return s.Horizon.String()
}

func TestHandleHorizonRequest(t *testing.T) {
	tests := []struct {
		name        string
		horizon     string
		wantHorizon string
	}{
		{"policy target", "", "2024-05-15"},
		{"explicit horizon", "2024-07-15", "2024-07-15"},
		{"malformed horizon is dropped", "next month", "2024-03-15"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.clock.Set(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))

			err := f.worker.HandleHorizonRequest(context.Background(), amqp.NewHorizonRequest(f.series.ID, tt.horizon))
			require.NoError(t, err)
			assert.Equal(t, tt.wantHorizon, f.horizon(t))
		})
	}
}

func TestHandleHorizonRequestUnknownSeriesIsDropped(t *testing.T) {
	f := newFixture(t)
	err := f.worker.HandleHorizonRequest(context.Background(), amqp.NewHorizonRequest("missing", ""))
	assert.NoError(t, err)
}

func TestHandleHorizonRequestBusySeriesIsRetried(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	held, err := f.locker.Acquire(ctx, f.series.ID)
	require.NoError(t, err)
	defer held.Release(ctx)

	err = f.worker.HandleHorizonRequest(ctx, amqp.NewHorizonRequest(f.series.ID, "2024-06-15"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrConcurrentModification), "got %v", err)
	assert.Equal(t, "2024-03-15", f.horizon(t))
}

func TestRunSweepsUntilCancelled(t *testing.T) {
	f := newFixture(t)
	f.clock.Set(time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.worker.Run(ctx, 10*time.Millisecond) }()

	// From 2024-04-01 the next three occurrences end on 2024-06-15.
	require.Eventually(t, func() bool {
		s, err := f.registry.GetSeries(context.Background(), f.series.ID)
		return err == nil && s.Horizon.String() == "2024-06-15"
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestRunRejectsNonPositiveInterval(t *testing.T) {
	f := newFixture(t)
	assert.Error(t, f.worker.Run(context.Background(), 0))
}
