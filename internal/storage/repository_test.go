package storage

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"paytrack/internal/core"
)

func newTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	repo, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "data", "test.db"))
	if err != nil {
		t.Fatalf("NewSQLiteRepository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

var (
	testNow  = time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC)
	testAttr = core.Attributes{Amount: decimal.NewFromInt(100), CategoryID: "rent", Description: "Flat"}
)

func seedSeries(t *testing.T, repo *SQLiteRepository, id string) core.Series {
	t.Helper()
	s := core.Series{
		ID:          id,
		CurrentRule: core.RecurrenceRule{Pattern: core.Monthly, AnchorDate: core.NewDate(2024, 1, 15)},
		RuleVersion: 1,
		Template:    testAttr,
		Horizon:     core.NewDate(2024, 3, 15),
		CreatedAt:   testNow,
		UpdatedAt:   testNow,
	}
	err := repo.WithTx(context.Background(), func(q *Queries) error {
		if err := q.InsertSeries(context.Background(), s); err != nil {
			return err
		}
		return q.InsertRuleVersion(context.Background(), core.RuleVersion{
			SeriesID: id, Version: 1, Rule: s.CurrentRule, Template: s.Template, CreatedAt: testNow,
		})
	})
	if err != nil {
		t.Fatalf("seed series: %v", err)
	}
	return s
}

func occurrence(id, seriesID string, d core.Date) core.Occurrence {
	return core.Occurrence{
		ID: id, SeriesID: seriesID, Date: d, Status: core.Scheduled, Attributes: testAttr,
		RuleVersion: 1, CreatedAt: testNow, UpdatedAt: testNow,
	}
}

func TestSeriesRoundTrip(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	want := seedSeries(t, repo, "s1")

	got, err := repo.Queries().GetSeries(ctx, "s1")
	if err != nil {
		t.Fatalf("GetSeries: %v", err)
	}
	if got.ID != want.ID || got.CurrentRule.Pattern != core.Monthly || !got.Horizon.Equal(want.Horizon) ||
		!got.Template.Amount.Equal(want.Template.Amount) || got.CurrentRule.EndDate != nil || !got.CreatedAt.Equal(testNow) {
		t.Fatalf("GetSeries() = %+v, want %+v", got, want)
	}

	if _, err := repo.Queries().GetSeries(ctx, "missing"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	ids, err := repo.Queries().ListActiveSeriesIDs(ctx)
	if err != nil || len(ids) != 1 || ids[0] != "s1" {
		t.Fatalf("ListActiveSeriesIDs() = %v, %v", ids, err)
	}
}

func TestOccurrencesOrderedAndUniquePerSeriesDate(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	seedSeries(t, repo, "s1")

	q := repo.Queries()
	for _, o := range []core.Occurrence{
		occurrence("o3", "s1", core.NewDate(2024, 3, 15)),
		occurrence("o1", "s1", core.NewDate(2024, 1, 15)),
		occurrence("o2", "s1", core.NewDate(2024, 2, 15)),
	} {
		if err := q.InsertOccurrence(ctx, o); err != nil {
			t.Fatalf("InsertOccurrence(%s): %v", o.ID, err)
		}
	}

	if err := q.InsertOccurrence(ctx, occurrence("dup", "s1", core.NewDate(2024, 2, 15))); err == nil {
		t.Fatalf("expected unique violation for duplicate live (series, date)")
	}

	occs, err := q.ListSeriesOccurrences(ctx, "s1", false)
	if err != nil {
		t.Fatalf("ListSeriesOccurrences: %v", err)
	}
	for i, id := range []string{"o1", "o2", "o3"} {
		if occs[i].ID != id {
			t.Fatalf("occurrence %d = %s, want %s", i, occs[i].ID, id)
		}
	}

	// A superseded row releases its date.
	o2 := occs[1]
	o2.Status = core.Deleted
	o2.SupersededBy = 2
	if err := q.UpdateOccurrence(ctx, o2); err != nil {
		t.Fatalf("UpdateOccurrence: %v", err)
	}
	if err := q.InsertOccurrence(ctx, occurrence("o2b", "s1", core.NewDate(2024, 2, 15))); err != nil {
		t.Fatalf("insert over superseded date: %v", err)
	}

	live, _ := q.ListSeriesOccurrences(ctx, "s1", false)
	all, _ := q.ListSeriesOccurrences(ctx, "s1", true)
	if len(live) != 3 || len(all) != 4 {
		t.Fatalf("live=%d all=%d, want 3 and 4", len(live), len(all))
	}
}

func TestTerminalOccurrenceIsFrozen(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	q := repo.Queries()

	o := occurrence("one-off", "", core.NewDate(2024, 1, 20))
	if err := q.InsertOccurrence(ctx, o); err != nil {
		t.Fatalf("InsertOccurrence: %v", err)
	}
	o.Status = core.Completed
	if err := q.UpdateOccurrence(ctx, o); err != nil {
		t.Fatalf("complete: %v", err)
	}

	o.Amount = decimal.NewFromInt(1)
	if err := q.UpdateOccurrence(ctx, o); err == nil {
		t.Fatalf("expected frozen occurrence update to abort")
	}

	got, err := q.GetOccurrence(ctx, "one-off")
	if err != nil {
		t.Fatalf("GetOccurrence: %v", err)
	}
	if got.SeriesID != "" || got.Status != core.Completed || !got.Amount.Equal(testAttr.Amount) {
		t.Fatalf("frozen occurrence changed: %+v", got)
	}
}

func TestMovedOccurrenceKeepsSlot(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	seedSeries(t, repo, "s1")
	q := repo.Queries()

	for _, o := range []core.Occurrence{
		occurrence("o1", "s1", core.NewDate(2024, 1, 15)),
		occurrence("o2", "s1", core.NewDate(2024, 2, 15)),
		occurrence("o3", "s1", core.NewDate(2024, 3, 15)),
	} {
		if err := q.InsertOccurrence(ctx, o); err != nil {
			t.Fatalf("InsertOccurrence(%s): %v", o.ID, err)
		}
	}

	moved, err := q.GetOccurrence(ctx, "o3")
	if err != nil {
		t.Fatalf("GetOccurrence: %v", err)
	}
	moved.Date = core.NewDate(2024, 2, 1)
	moved.Overridden = true
	if err := q.UpdateOccurrence(ctx, moved); err != nil {
		t.Fatalf("UpdateOccurrence: %v", err)
	}

	got, _ := q.GetOccurrence(ctx, "o3")
	if got.Date.String() != "2024-02-01" || got.SlotDate.String() != "2024-03-15" {
		t.Fatalf("moved occurrence date=%s slot=%s, want 2024-02-01 and 2024-03-15", got.Date, got.SlotDate)
	}

	holding, err := q.ListLiveOccurrencesHolding(ctx, "s1", core.NewDate(2024, 2, 15))
	if err != nil {
		t.Fatalf("ListLiveOccurrencesHolding: %v", err)
	}
	var ids []string
	for _, o := range holding {
		ids = append(ids, o.ID)
	}
	if strings.Join(ids, ",") != "o3,o2" {
		t.Fatalf("holding = %v, want [o3 o2]", ids)
	}
}

func TestWithTxRollsBack(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := repo.WithTx(ctx, func(q *Queries) error {
		if err := q.InsertOccurrence(ctx, occurrence("o1", "", core.NewDate(2024, 1, 1))); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("WithTx() error = %v, want boom", err)
	}
	if _, err := repo.Queries().GetOccurrence(ctx, "o1"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected rolled back insert, got %v", err)
	}
}

func TestRuleVersionsAppendOnly(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	seedSeries(t, repo, "s1")

	end := core.NewDate(2024, 2, 14)
	v2 := core.RuleVersion{
		SeriesID: "s1", Version: 2,
		Rule:     core.RecurrenceRule{Pattern: core.Monthly, AnchorDate: core.NewDate(2024, 1, 15), EndDate: &end},
		Template: testAttr, CreatedAt: testNow,
	}
	if err := repo.Queries().InsertRuleVersion(ctx, v2); err != nil {
		t.Fatalf("InsertRuleVersion: %v", err)
	}
	if err := repo.Queries().InsertRuleVersion(ctx, v2); err == nil {
		t.Fatalf("expected duplicate version to fail")
	}

	versions, err := repo.Queries().ListRuleVersions(ctx, "s1")
	if err != nil || len(versions) != 2 {
		t.Fatalf("ListRuleVersions() = %v, %v", versions, err)
	}
	if versions[1].Rule.EndDate == nil || !versions[1].Rule.EndDate.Equal(end) {
		t.Fatalf("version 2 end date = %v", versions[1].Rule.EndDate)
	}

	got, err := repo.Queries().GetRuleVersion(ctx, "s1", 1)
	if err != nil || got.Version != 1 {
		t.Fatalf("GetRuleVersion() = %+v, %v", got, err)
	}
	if _, err := repo.Queries().GetRuleVersion(ctx, "s1", 9); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
