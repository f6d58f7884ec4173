package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"paytrack/internal/amqp"
	"paytrack/internal/core"
	"paytrack/internal/recurrence"
	"paytrack/internal/storage"
)

// MutationResult describes what a scope mutation changed.
type MutationResult struct {
	Scope core.Scope
	// Series is the series after the mutation, nil for one-off payments.
	Series *core.Series
	// Updated holds occurrences changed in place: the single-scope target, or
	// the explicitly deleted target of a series delete.
	Updated []core.Occurrence
	// Discarded holds scheduled occurrences superseded by a series rewrite.
	Discarded []core.Occurrence
	// Created holds occurrences materialized from the new rule version.
	Created []core.Occurrence
}

// ScopeMutator applies single and series scoped edits and deletes.
//
// A single-scope change touches only the target and marks it overridden so
// later series edits leave it alone. It may move the date but keeps the slot
// the rule generated, and the occurrence goes on standing in for that slot. A
// series-scope change discards every scheduled occurrence dated on or after
// the target (an edit spares the overridden ones), appends a new rule version
// and re-materializes from it. Occurrences dated before the target are never
// touched.
type ScopeMutator struct {
	registry *SeriesRegistry
}

func NewScopeMutator(registry *SeriesRegistry) *ScopeMutator {
	return &ScopeMutator{registry: registry}
}

func (m *ScopeMutator) ApplyEdit(ctx context.Context, occurrenceID string, scope core.Scope, changes core.Changes) (MutationResult, error) {
	switch scope {
	case core.ScopeSingle:
		return m.editSingle(ctx, occurrenceID, changes)
	case core.ScopeSeries:
		return m.rewriteSeries(ctx, occurrenceID, scope, &changes)
	}
	return MutationResult{}, fmt.Errorf("%w: %q", core.ErrInvalidScope, scope)
}

func (m *ScopeMutator) ApplyDelete(ctx context.Context, occurrenceID string, scope core.Scope) (MutationResult, error) {
	switch scope {
	case core.ScopeSingle:
		return m.deleteSingle(ctx, occurrenceID)
	case core.ScopeSeries:
		return m.rewriteSeries(ctx, occurrenceID, scope, nil)
	}
	return MutationResult{}, fmt.Errorf("%w: %q", core.ErrInvalidScope, scope)
}

func (m *ScopeMutator) editSingle(ctx context.Context, occurrenceID string, changes core.Changes) (MutationResult, error) {
	if changes.Pattern != nil || changes.EndDate != nil || changes.ClearEndDate {
		return MutationResult{}, fmt.Errorf("%w: recurrence changes need series scope", core.ErrInvalidScope)
	}

	return m.single(ctx, occurrenceID, amqp.OperationEdit, func(q *storage.Queries, o *core.Occurrence) error {
		attrs := changes.Apply(o.Attributes)
		if err := attrs.Validate(); err != nil {
			return fmt.Errorf("invalid changes: %w", err)
		}
		if changes.Date != nil && !changes.Date.Equal(o.Date) {
			if err := ensureDateFree(ctx, q, *o, *changes.Date); err != nil {
				return err
			}
			o.Date = *changes.Date
		}
		o.Attributes = attrs
		o.Overridden = o.IsSeries()
		return nil
	})
}

func (m *ScopeMutator) deleteSingle(ctx context.Context, occurrenceID string) (MutationResult, error) {
	return m.single(ctx, occurrenceID, amqp.OperationDelete, func(_ *storage.Queries, o *core.Occurrence) error {
		return core.Transition(o, core.Deleted, m.registry.opts.Now().UTC())
	})
}

// single runs mutate on one scheduled occurrence and persists it. Series
// occurrences are mutated under their series' lease.
func (m *ScopeMutator) single(ctx context.Context, occurrenceID, op string, mutate func(*storage.Queries, *core.Occurrence) error) (MutationResult, error) {
	r := m.registry
	peek, err := r.repo.Queries().GetOccurrence(ctx, occurrenceID)
	if err != nil {
		return MutationResult{}, err
	}
	if peek.IsTerminal() {
		return MutationResult{}, immutable(peek)
	}

	var updated core.Occurrence
	apply := func() error {
		return r.repo.WithTx(ctx, func(q *storage.Queries) error {
			o, err := q.GetOccurrence(ctx, occurrenceID)
			if err != nil {
				return err
			}
			if o.IsTerminal() {
				return immutable(o)
			}
			if err := mutate(q, &o); err != nil {
				return err
			}
			o.UpdatedAt = r.opts.Now().UTC()
			if err := q.UpdateOccurrence(ctx, o); err != nil {
				return fmt.Errorf("update occurrence: %w", err)
			}
			updated = o
			return nil
		})
	}

	if peek.IsSeries() {
		err = r.withLease(ctx, peek.SeriesID, apply)
	} else {
		err = apply()
	}
	if err != nil {
		return MutationResult{}, err
	}

	slog.InfoContext(ctx, "Occurrence mutated",
		"occurrence_id", updated.ID,
		"series_id", updated.SeriesID,
		"scope", core.ScopeSingle,
		"operation", op,
		"status", updated.Status,
		"date", updated.Date.String())

	ev := amqp.NewSeriesEvent(updated.SeriesID, op, updated.RuleVersion)
	ev.OccurrenceID = updated.ID
	ev.Scope = string(core.ScopeSingle)
	ev.Affected = []string{updated.ID}
	publish(ctx, r.events, ev)

	return MutationResult{Scope: core.ScopeSingle, Updated: []core.Occurrence{updated}}, nil
}

// rewriteSeries implements both series-scope operations. changes is nil for a
// delete.
func (m *ScopeMutator) rewriteSeries(ctx context.Context, occurrenceID string, scope core.Scope, changes *core.Changes) (MutationResult, error) {
	r := m.registry
	peek, err := r.repo.Queries().GetOccurrence(ctx, occurrenceID)
	if err != nil {
		return MutationResult{}, err
	}
	if peek.IsTerminal() {
		return MutationResult{}, immutable(peek)
	}
	if !peek.IsSeries() {
		return MutationResult{}, fmt.Errorf("%w: occurrence %s is a one-off payment", core.ErrInvalidScope, peek.ID)
	}

	op := amqp.OperationEdit
	if changes == nil {
		op = amqp.OperationDelete
	}

	var res MutationResult
	err = r.withLease(ctx, peek.SeriesID, func() error {
		return r.repo.WithTx(ctx, func(q *storage.Queries) error {
			target, err := q.GetOccurrence(ctx, occurrenceID)
			if err != nil {
				return err
			}
			if target.IsTerminal() {
				return immutable(target)
			}
			series, err := q.GetSeries(ctx, target.SeriesID)
			if err != nil {
				return err
			}
			if series.Terminated || !series.CurrentRule.Covers(target.Date) {
				return fmt.Errorf("%w: series %s ended before %s", core.ErrInvalidScope, series.ID, target.Date)
			}

			now := r.opts.Now().UTC()
			if changes == nil {
				res, err = m.terminate(ctx, q, series, target, now)
			} else {
				res, err = m.rewrite(ctx, q, series, target, *changes, now)
			}
			return err
		})
	})
	if err != nil {
		return MutationResult{}, err
	}
	res.Scope = scope

	slog.InfoContext(ctx, "Series rewritten",
		"series_id", res.Series.ID,
		"occurrence_id", occurrenceID,
		"scope", scope,
		"operation", op,
		"rule_version", res.Series.RuleVersion,
		"discarded", len(res.Discarded),
		"created", len(res.Created))

	ev := amqp.NewSeriesEvent(res.Series.ID, op, res.Series.RuleVersion)
	ev.OccurrenceID = occurrenceID
	ev.Scope = string(scope)
	for _, group := range [][]core.Occurrence{res.Updated, res.Discarded, res.Created} {
		ev.Affected = append(ev.Affected, ids(group)...)
	}
	publish(ctx, r.events, ev)

	return res, nil
}

// rewrite replaces the series from target onwards with a new rule version.
// The new rule starts at the target, or at the moved date.
func (m *ScopeMutator) rewrite(ctx context.Context, q *storage.Queries, series core.Series, target core.Occurrence, changes core.Changes, now time.Time) (MutationResult, error) {
	from := target.Date
	if changes.Date != nil {
		if changes.Date.Before(target.Date) {
			return MutationResult{}, fmt.Errorf("%w: new anchor %s precedes %s", core.ErrInvalidRule, changes.Date, target.Date)
		}
		from = *changes.Date
	}
	anchor := anchorFor(series.CurrentRule, target, changes)

	rule := changes.ApplyRule(series.CurrentRule, anchor)
	if err := rule.Validate(); err != nil {
		return MutationResult{}, err
	}
	if !rule.Covers(from) {
		return MutationResult{}, fmt.Errorf("%w: end date %s is before %s", core.ErrInvalidRule, rule.EndDate, from)
	}
	tmpl := changes.Apply(series.Template)
	if err := tmpl.Validate(); err != nil {
		return MutationResult{}, fmt.Errorf("invalid changes: %w", err)
	}

	series.RuleVersion++
	discarded, taken, err := discardFrom(ctx, q, target, series.RuleVersion, now, true)
	if err != nil {
		return MutationResult{}, err
	}

	horizon := series.Horizon
	if from.After(horizon) {
		horizon = from
	}
	if !rule.IsRecurring() {
		horizon = anchor
	}
	series.CurrentRule = rule
	series.Template = tmpl
	series.Horizon = capAtEnd(horizon, rule)
	series.UpdatedAt = now

	if err := q.InsertRuleVersion(ctx, versionOf(series, now)); err != nil {
		return MutationResult{}, fmt.Errorf("insert rule version: %w", err)
	}
	bounds := recurrence.Bounds{After: from.AddDays(-1), Horizon: series.Horizon}
	created, reached, err := m.registry.materialize(ctx, q, series, bounds, taken, now)
	if err != nil {
		return MutationResult{}, err
	}
	if !reached.IsZero() {
		series.Horizon = reached
	}
	if err := q.UpdateSeries(ctx, series); err != nil {
		return MutationResult{}, fmt.Errorf("update series: %w", err)
	}

	return MutationResult{Series: &series, Discarded: discarded, Created: created}, nil
}

// terminate ends the series the day before target. A target on or before the
// anchor leaves nothing to keep, so the series is marked terminated instead.
func (m *ScopeMutator) terminate(ctx context.Context, q *storage.Queries, series core.Series, target core.Occurrence, now time.Time) (MutationResult, error) {
	series.RuleVersion++

	if err := core.Transition(&target, core.Deleted, now); err != nil {
		return MutationResult{}, err
	}
	if err := q.UpdateOccurrence(ctx, target); err != nil {
		return MutationResult{}, fmt.Errorf("delete target: %w", err)
	}

	discarded, _, err := discardFrom(ctx, q, target, series.RuleVersion, now, false)
	if err != nil {
		return MutationResult{}, err
	}

	if target.Date.After(series.CurrentRule.AnchorDate) {
		end := target.Date.AddDays(-1)
		series.CurrentRule.EndDate = &end
		series.Horizon = capAtEnd(series.Horizon, series.CurrentRule)
	} else {
		series.Terminated = true
	}
	series.UpdatedAt = now

	if err := q.InsertRuleVersion(ctx, versionOf(series, now)); err != nil {
		return MutationResult{}, fmt.Errorf("insert rule version: %w", err)
	}
	if err := q.UpdateSeries(ctx, series); err != nil {
		return MutationResult{}, fmt.Errorf("update series: %w", err)
	}

	return MutationResult{Series: &series, Updated: []core.Occurrence{target}, Discarded: discarded}, nil
}

// anchorFor picks the anchor of a rewritten rule: the moved date, or the
// target. A target that the current monthly or yearly rule clamped to a month
// end keeps the current anchor, so later dates return to the original day.
func anchorFor(current core.RecurrenceRule, target core.Occurrence, changes core.Changes) core.Date {
	switch {
	case changes.Date != nil:
		return *changes.Date
	case changes.Pattern != nil && *changes.Pattern != current.Pattern:
		return target.Date
	case current.Pattern != core.Monthly && current.Pattern != core.Yearly:
		return target.Date
	case target.Date.Day() == current.AnchorDate.Day():
		return target.Date
	case !target.Date.Equal(target.SlotDate) || !recurrence.Generates(current, target.Date):
		return target.Date
	}
	return current.AnchorDate
}

// discardFrom supersedes the scheduled occurrences dated on or after target.
// With keepOverrides, individually overridden occurrences other than the
// target survive; a delete passes false and discards them too. It returns the
// dates and slots still held by live occurrences, including ones moved before
// target from a later slot, so a new rule does not generate them again.
func discardFrom(ctx context.Context, q *storage.Queries, target core.Occurrence, version int, now time.Time, keepOverrides bool) ([]core.Occurrence, map[string]bool, error) {
	live, err := q.ListLiveOccurrencesHolding(ctx, target.SeriesID, target.Date)
	if err != nil {
		return nil, nil, fmt.Errorf("list live occurrences: %w", err)
	}

	var discarded []core.Occurrence
	taken := make(map[string]bool)
	for _, o := range live {
		keep := o.Status != core.Scheduled ||
			o.Date.Before(target.Date) ||
			(keepOverrides && o.Overridden && o.ID != target.ID)
		if keep {
			taken[o.Date.String()] = true
			taken[o.SlotDate.String()] = true
			continue
		}
		if err := core.Transition(&o, core.Deleted, now); err != nil {
			return nil, nil, err
		}
		o.SupersededBy = version
		if err := q.UpdateOccurrence(ctx, o); err != nil {
			return nil, nil, fmt.Errorf("discard occurrence %s: %w", o.ID, err)
		}
		discarded = append(discarded, o)
	}
	return discarded, taken, nil
}

// ensureDateFree rejects moving o onto a date another live occurrence of the
// same series already holds.
func ensureDateFree(ctx context.Context, q *storage.Queries, o core.Occurrence, date core.Date) error {
	if !o.IsSeries() {
		return nil
	}
	live, err := q.ListLiveOccurrencesFrom(ctx, o.SeriesID, date)
	if err != nil {
		return fmt.Errorf("list live occurrences: %w", err)
	}
	if len(live) > 0 && live[0].Date.Equal(date) {
		return fmt.Errorf("%w: series %s already has an occurrence on %s", core.ErrDuplicateDate, o.SeriesID, date)
	}
	return nil
}

func immutable(o core.Occurrence) error {
	return fmt.Errorf("%w: occurrence %s is %s", core.ErrImmutableOccurrence, o.ID, o.Status)
}
