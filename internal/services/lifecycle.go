package services

import (
	"context"
	"log/slog"

	"paytrack/internal/amqp"
	"paytrack/internal/core"
	"paytrack/internal/storage"
)

// StatusLifecycle applies explicit user transitions to one occurrence.
// Unlike a scoped mutation, a repeated call on a terminal occurrence fails
// with core.ErrInvalidTransition and changes nothing, so callers may retry.
type StatusLifecycle struct {
	registry *SeriesRegistry
}

func NewStatusLifecycle(registry *SeriesRegistry) *StatusLifecycle {
	return &StatusLifecycle{registry: registry}
}

// MarkPaid completes a scheduled occurrence.
func (l *StatusLifecycle) MarkPaid(ctx context.Context, occurrenceID string) (core.Occurrence, error) {
	return l.transition(ctx, occurrenceID, core.Completed, amqp.OperationComplete)
}

// Delete moves a scheduled occurrence to deleted. The row is kept.
func (l *StatusLifecycle) Delete(ctx context.Context, occurrenceID string) (core.Occurrence, error) {
	return l.transition(ctx, occurrenceID, core.Deleted, amqp.OperationDelete)
}

func (l *StatusLifecycle) transition(ctx context.Context, occurrenceID string, to core.Status, op string) (core.Occurrence, error) {
	r := l.registry
	peek, err := r.repo.Queries().GetOccurrence(ctx, occurrenceID)
	if err != nil {
		return core.Occurrence{}, err
	}
	if !peek.Status.CanTransition(to) {
		return core.Occurrence{}, core.Transition(&peek, to, r.opts.Now())
	}

	var updated core.Occurrence
	apply := func() error {
		return r.repo.WithTx(ctx, func(q *storage.Queries) error {
			o, err := q.GetOccurrence(ctx, occurrenceID)
			if err != nil {
				return err
			}
			if err := core.Transition(&o, to, r.opts.Now().UTC()); err != nil {
				return err
			}
			if err := q.UpdateOccurrence(ctx, o); err != nil {
				return err
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
		return core.Occurrence{}, err
	}

	slog.InfoContext(ctx, "Occurrence status changed",
		"occurrence_id", updated.ID,
		"series_id", updated.SeriesID,
		"status", updated.Status)

	ev := amqp.NewSeriesEvent(updated.SeriesID, op, updated.RuleVersion)
	ev.OccurrenceID = updated.ID
	ev.Affected = []string{updated.ID}
	publish(ctx, r.events, ev)

	return updated, nil
}
