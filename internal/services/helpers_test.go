package services

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"paytrack/internal/amqp"
	"paytrack/internal/core"
	"paytrack/internal/lease"
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

type recordingPublisher struct {
	mu     sync.Mutex
	events []amqp.SeriesEvent
}

func (p *recordingPublisher) PublishSeriesEvent(_ context.Context, ev *amqp.SeriesEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, *ev)
	return nil
}

func (p *recordingPublisher) operations() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	ops := make([]string, len(p.events))
	for i, ev := range p.events {
		ops[i] = ev.Operation
	}
	return ops
}

type fixture struct {
	dbPath    string
	repo      *storage.SQLiteRepository
	locker    *lease.KeyedMutex
	clock     *clock
	events    *recordingPublisher
	registry  *SeriesRegistry
	mutator   *ScopeMutator
	lifecycle *StatusLifecycle
	payments  *PaymentService
	sweeper   *HorizonSweeper
}

func newFixture(t *testing.T, instances int) *fixture {
	t.Helper()
	return newFixtureWithRetry(t, instances, lease.RetryPolicy{Attempts: 2, Backoff: time.Millisecond, MaxBackoff: time.Millisecond})
}

func newFixtureWithRetry(t *testing.T, instances int, retry lease.RetryPolicy) *fixture {
	t.Helper()
	return newFixtureWithOptions(t, retry, Options{HorizonInstances: instances, ExtendOnRead: true})
}

func newFixtureWithOptions(t *testing.T, retry lease.RetryPolicy, opts Options) *fixture {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "paytrack.db")
	repo, err := storage.NewSQLiteRepository(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	var seq atomic.Int64
	f := &fixture{
		dbPath: dbPath,
		repo:   repo,
		locker: lease.NewKeyedMutex(retry),
		clock:  &clock{now: time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)},
		events: &recordingPublisher{},
	}
	opts.Now = f.clock.Now
	opts.NewID = func() string { return fmt.Sprintf("id-%03d", seq.Add(1)) }
	f.registry = NewSeriesRegistry(repo, f.locker, f.events, opts)
	f.mutator = NewScopeMutator(f.registry)
	f.lifecycle = NewStatusLifecycle(f.registry)
	f.payments = NewPaymentService(f.registry)
	f.sweeper = NewHorizonSweeper(f.registry, 2)
	return f
}

// execSQL runs a statement on a separate connection to the fixture's
// database, for tests that need to tamper with the schema.
func (f *fixture) execSQL(t *testing.T, stmt string) {
	t.Helper()
	db, err := sql.Open("sqlite", "file:"+f.dbPath+"?_pragma=busy_timeout(5000)")
	require.NoError(t, err)
	defer db.Close()
	_, err = db.Exec(stmt)
	require.NoError(t, err)
}

var rent = core.Attributes{Amount: decimal.NewFromInt(100), CategoryID: "housing", Description: "Rent"}

func monthlyFrom(d core.Date) core.RecurrenceRule {
	return core.RecurrenceRule{Pattern: core.Monthly, AnchorDate: d}
}

func (f *fixture) createMonthly(t *testing.T) core.Series {
	t.Helper()
	s, err := f.registry.CreateSeries(context.Background(), monthlyFrom(core.NewDate(2024, 1, 15)), rent)
	require.NoError(t, err)
	return s
}

func (f *fixture) roster(t *testing.T, seriesID string) []core.Occurrence {
	t.Helper()
	occs, err := f.registry.ListOccurrences(context.Background(), seriesID, ListOptions{})
	require.NoError(t, err)
	return occs
}

func (f *fixture) fullRoster(t *testing.T, seriesID string) []core.Occurrence {
	t.Helper()
	occs, err := f.registry.ListOccurrences(context.Background(), seriesID, ListOptions{IncludeSuperseded: true})
	require.NoError(t, err)
	return occs
}

// snapshot captures everything a mutation could touch.
func (f *fixture) snapshot(t *testing.T, seriesID string) (core.Series, []core.Occurrence, []core.RuleVersion) {
	t.Helper()
	ctx := context.Background()
	s, err := f.registry.GetSeries(ctx, seriesID)
	require.NoError(t, err)
	versions, err := f.registry.RuleVersions(ctx, seriesID)
	require.NoError(t, err)
	return s, f.fullRoster(t, seriesID), versions
}

func byDate(occs []core.Occurrence, date string) (core.Occurrence, bool) {
	for _, o := range occs {
		if o.Date.String() == date {
			return o, true
		}
	}
	return core.Occurrence{}, false
}

func mustByDate(t *testing.T, occs []core.Occurrence, date string) core.Occurrence {
	t.Helper()
	o, ok := byDate(occs, date)
	require.True(t, ok, "no occurrence on %s", date)
	return o
}

func datesOfRoster(occs []core.Occurrence) []string {
	out := make([]string, len(occs))
	for i, o := range occs {
		out[i] = o.Date.String()
	}
	return out
}

func amountPtr(v int64) *decimal.Decimal {
	d := decimal.NewFromInt(v)
	return &d
}

func strPtr(s string) *string { return &s }

func datePtr(d core.Date) *core.Date { return &d }

func patternPtr(p core.Pattern) *core.Pattern { return &p }
