package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"paytrack/internal/amqp"
)

// DefaultHorizonInstances is how many future occurrences a series keeps
// materialized when no other horizon is configured.
const DefaultHorizonInstances = 12

// DefaultMaxBatch bounds the occurrences a single write materializes.
const DefaultMaxBatch = 1000

// Options tunes the horizon policy and injects clock and id sources.
type Options struct {
	// HorizonInstances is the number of occurrences kept materialized from
	// today onwards (or up to the end date).
	HorizonInstances int
	// MaxBatch caps the occurrences one creation, extension or rewrite
	// materializes. A capped write stops its horizon at the last date it
	// reached and later extensions continue from there.
	MaxBatch int
	// ExtendOnRead lets reads extend a series whose horizon is behind the
	// policy target.
	ExtendOnRead bool

	Now   func() time.Time
	NewID func() string
}

func (o Options) withDefaults() Options {
	if o.HorizonInstances < 1 {
		o.HorizonInstances = DefaultHorizonInstances
	}
	if o.MaxBatch < 1 {
		o.MaxBatch = DefaultMaxBatch
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.NewID == nil {
		o.NewID = uuid.NewString
	}
	return o
}

// EventPublisher receives an event after every committed change.
// *amqp.Client satisfies it.
type EventPublisher interface {
	PublishSeriesEvent(ctx context.Context, ev *amqp.SeriesEvent) error
}

// publish never fails the caller: the change is already committed.
func publish(ctx context.Context, events EventPublisher, ev *amqp.SeriesEvent) {
	if events == nil {
		slog.DebugContext(ctx, "No event publisher, skipping series event", "operation", ev.Operation)
		return
	}
	if err := events.PublishSeriesEvent(ctx, ev); err != nil {
		slog.ErrorContext(ctx, "Failed to publish series event",
			"series_id", ev.SeriesID,
			"operation", ev.Operation,
			"error", err)
	}
}
