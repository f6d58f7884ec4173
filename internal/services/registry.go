package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"paytrack/internal/amqp"
	"paytrack/internal/cache"
	"paytrack/internal/core"
	"paytrack/internal/lease"
	"paytrack/internal/recurrence"
	"paytrack/internal/storage"
)

// ListOptions filters a series roster.
type ListOptions struct {
	// IncludeSuperseded also returns occurrences discarded by a series rewrite.
	IncludeSuperseded bool
}

// SeriesRegistry owns series, their rule version log and their occurrence
// roster. Every write to a series runs under that series' lease and inside a
// single transaction.
type SeriesRegistry struct {
	repo         *storage.SQLiteRepository
	locker       lease.Locker
	events       EventPublisher
	materializer recurrence.Materializer
	versions     *cache.LRU[core.RuleVersion]
	opts         Options
}

func NewSeriesRegistry(repo *storage.SQLiteRepository, locker lease.Locker, events EventPublisher, opts Options) *SeriesRegistry {
	return &SeriesRegistry{
		repo:         repo,
		locker:       locker,
		events:       events,
		materializer: recurrence.NewMaterializer(),
		versions:     cache.NewLRU[core.RuleVersion](1024, time.Hour),
		opts:         opts.withDefaults(),
	}
}

// VersionCache exposes the rule-version cache so cache.Sweep can evict it.
func (r *SeriesRegistry) VersionCache() *cache.LRU[core.RuleVersion] {
	return r.versions
}

// CreateSeries persists a new series with rule version 1 and materializes it
// up to the horizon policy target.
func (r *SeriesRegistry) CreateSeries(ctx context.Context, rule core.RecurrenceRule, tmpl core.Attributes) (core.Series, error) {
	if err := rule.Validate(); err != nil {
		return core.Series{}, err
	}
	if !rule.IsRecurring() {
		return core.Series{}, fmt.Errorf("%w: a series needs a pattern", core.ErrInvalidRule)
	}
	if err := tmpl.Validate(); err != nil {
		return core.Series{}, fmt.Errorf("invalid template: %w", err)
	}

	now := r.opts.Now().UTC()
	series := core.Series{
		ID:          r.opts.NewID(),
		CurrentRule: rule,
		RuleVersion: 1,
		Template:    tmpl,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	series.Horizon = r.TargetHorizon(series, now)

	var created []core.Occurrence
	err := r.withLease(ctx, series.ID, func() error {
		return r.repo.WithTx(ctx, func(q *storage.Queries) error {
			if err := q.InsertSeries(ctx, series); err != nil {
				return fmt.Errorf("insert series: %w", err)
			}
			if err := q.InsertRuleVersion(ctx, versionOf(series, now)); err != nil {
				return fmt.Errorf("insert rule version: %w", err)
			}
			var (
				reached core.Date
				err     error
			)
			created, reached, err = r.materialize(ctx, q, series, recurrence.Bounds{Horizon: series.Horizon}, nil, now)
			if err != nil || reached.IsZero() {
				return err
			}
			series.Horizon = reached
			return q.UpdateSeries(ctx, series)
		})
	})
	if err != nil {
		return core.Series{}, err
	}

	slog.InfoContext(ctx, "Series created",
		"series_id", series.ID,
		"pattern", series.CurrentRule.Pattern,
		"anchor_date", series.CurrentRule.AnchorDate.String(),
		"horizon", series.Horizon.String(),
		"count", len(created))

	ev := amqp.NewSeriesEvent(series.ID, amqp.OperationCreate, series.RuleVersion)
	ev.Affected = ids(created)
	publish(ctx, r.events, ev)

	return series, nil
}

// ExtendHorizon materializes occurrences of the current rule between the
// stored horizon and newHorizon. Dates and slots already held by a live
// occurrence are never regenerated. A single call materializes at most
// Options.MaxBatch occurrences and then stops the horizon at the last one. It
// returns the number of occurrences created.
func (r *SeriesRegistry) ExtendHorizon(ctx context.Context, seriesID string, newHorizon core.Date) (int, error) {
	var (
		series  core.Series
		created []core.Occurrence
	)
	err := r.withLease(ctx, seriesID, func() error {
		return r.repo.WithTx(ctx, func(q *storage.Queries) error {
			var err error
			series, err = q.GetSeries(ctx, seriesID)
			if err != nil {
				return err
			}
			if !series.IsActive() || !newHorizon.After(series.Horizon) {
				return nil
			}

			target := capAtEnd(newHorizon, series.CurrentRule)
			now := r.opts.Now().UTC()

			live, err := q.ListLiveOccurrencesFrom(ctx, seriesID, series.Horizon.AddDays(1))
			if err != nil {
				return fmt.Errorf("list live occurrences: %w", err)
			}
			bounds := recurrence.Bounds{After: series.Horizon, Horizon: target}
			var reached core.Date
			created, reached, err = r.materialize(ctx, q, series, bounds, datesOf(live), now)
			if err != nil {
				return err
			}
			if !reached.IsZero() {
				target = reached
			}

			series.Horizon = target
			series.UpdatedAt = now
			return q.UpdateSeries(ctx, series)
		})
	})
	if err != nil {
		return 0, err
	}
	if len(created) == 0 {
		return 0, nil
	}

	slog.InfoContext(ctx, "Series horizon extended",
		"series_id", seriesID,
		"horizon", series.Horizon.String(),
		"count", len(created))

	ev := amqp.NewSeriesEvent(seriesID, amqp.OperationExtend, series.RuleVersion)
	ev.Affected = ids(created)
	publish(ctx, r.events, ev)

	return len(created), nil
}

// TargetHorizon is the horizon policy: the date of the HorizonInstances-th
// occurrence on or after now, capped at the rule's end date.
func (r *SeriesRegistry) TargetHorizon(s core.Series, now time.Time) core.Date {
	rule := s.CurrentRule
	if !rule.IsRecurring() {
		return rule.AnchorDate
	}

	first, err := recurrence.FirstOnOrAfter(rule, core.DateOf(now))
	if err != nil {
		return rule.AnchorDate
	}

	target, err := recurrence.NthDate(rule, first+r.opts.HorizonInstances-1)
	if err != nil {
		return rule.AnchorDate
	}
	return capAtEnd(target, rule)
}

// Now is the registry clock.
func (r *SeriesRegistry) Now() time.Time {
	return r.opts.Now()
}

func (r *SeriesRegistry) GetSeries(ctx context.Context, seriesID string) (core.Series, error) {
	return r.repo.Queries().GetSeries(ctx, seriesID)
}

// ListOccurrences returns the roster of seriesID ordered by date.
func (r *SeriesRegistry) ListOccurrences(ctx context.Context, seriesID string, opts ListOptions) ([]core.Occurrence, error) {
	q := r.repo.Queries()
	if _, err := q.GetSeries(ctx, seriesID); err != nil {
		return nil, err
	}
	return q.ListSeriesOccurrences(ctx, seriesID, opts.IncludeSuperseded)
}

// RuleVersions returns the full rule log of a series, oldest first.
func (r *SeriesRegistry) RuleVersions(ctx context.Context, seriesID string) ([]core.RuleVersion, error) {
	q := r.repo.Queries()
	if _, err := q.GetSeries(ctx, seriesID); err != nil {
		return nil, err
	}
	return q.ListRuleVersions(ctx, seriesID)
}

// RuleVersion returns one entry of the rule log. Entries never change once
// written, so they are served from cache.
func (r *SeriesRegistry) RuleVersion(ctx context.Context, seriesID string, version int) (core.RuleVersion, error) {
	key := fmt.Sprintf("%s#%d", seriesID, version)
	return r.versions.GetOrLoad(key, func() (core.RuleVersion, error) {
		return r.repo.Queries().GetRuleVersion(ctx, seriesID, version)
	})
}

// withLease runs fn holding the lease of seriesID. The lease is released on
// every exit path, even when ctx is already cancelled.
func (r *SeriesRegistry) withLease(ctx context.Context, seriesID string, fn func() error) error {
	l, err := r.locker.Acquire(ctx, seriesID)
	if err != nil {
		return err
	}
	defer func() {
		if err := l.Release(context.WithoutCancel(ctx)); err != nil {
			slog.WarnContext(ctx, "Failed to release series lease", "series_id", seriesID, "error", err)
		}
	}()
	return fn()
}

// materialize persists the drafts of the series' current rule within bounds,
// skipping dates in taken. It keeps at most MaxBatch drafts; when that cap cuts
// the expansion short, reached is the date of the last kept draft and the
// caller must stop the horizon there. Otherwise reached is zero.
func (r *SeriesRegistry) materialize(ctx context.Context, q *storage.Queries, s core.Series, b recurrence.Bounds, taken map[string]bool, now time.Time) (created []core.Occurrence, reached core.Date, err error) {
	b.Limit = r.opts.MaxBatch + 1
	seq, err := r.materializer.Expand(s.CurrentRule, s.Template, s.RuleVersion, b)
	if err != nil {
		return nil, core.Date{}, err
	}

	kept := 0
	var last core.Date
	for d := range seq.All() {
		if kept == r.opts.MaxBatch {
			slog.WarnContext(ctx, "Materialization capped",
				"series_id", s.ID,
				"max_batch", r.opts.MaxBatch,
				"reached", last.String())
			return created, last, nil
		}
		kept++
		last = d.Date
		if taken[d.Date.String()] {
			continue
		}
		o := core.Occurrence{
			ID:          r.opts.NewID(),
			SeriesID:    s.ID,
			Date:        d.Date,
			SlotDate:    d.Date,
			Status:      core.Scheduled,
			Attributes:  d.Attributes,
			RuleVersion: d.RuleVersion,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := q.InsertOccurrence(ctx, o); err != nil {
			return nil, core.Date{}, fmt.Errorf("insert occurrence %s: %w", o.Date, err)
		}
		created = append(created, o)
	}
	return created, core.Date{}, nil
}

func versionOf(s core.Series, now time.Time) core.RuleVersion {
	return core.RuleVersion{
		SeriesID:   s.ID,
		Version:    s.RuleVersion,
		Rule:       s.CurrentRule,
		Template:   s.Template,
		Terminated: s.Terminated,
		CreatedAt:  now,
	}
}

func capAtEnd(d core.Date, rule core.RecurrenceRule) core.Date {
	if rule.EndDate != nil && d.After(*rule.EndDate) {
		return *rule.EndDate
	}
	return d
}

// datesOf collects the dates and slots held by occs.
func datesOf(occs []core.Occurrence) map[string]bool {
	taken := make(map[string]bool, 2*len(occs))
	for _, o := range occs {
		taken[o.Date.String()] = true
		taken[o.SlotDate.String()] = true
	}
	return taken
}

func ids(occs []core.Occurrence) []string {
	out := make([]string, len(occs))
	for i, o := range occs {
		out[i] = o.ID
	}
	return out
}
