package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"paytrack/internal/amqp"
	"paytrack/internal/core"
	"paytrack/internal/storage"
)

// PaymentService is the read side of the payment list and detail surfaces,
// plus direct creation of one-off payments.
type PaymentService struct {
	registry *SeriesRegistry
}

func NewPaymentService(registry *SeriesRegistry) *PaymentService {
	return &PaymentService{registry: registry}
}

// CreatePayment stores a one-off payment outside of any series.
func (s *PaymentService) CreatePayment(ctx context.Context, date core.Date, attrs core.Attributes) (core.Occurrence, error) {
	if date.IsZero() {
		return core.Occurrence{}, fmt.Errorf("%w: date is required", core.ErrInvalidRule)
	}
	if err := attrs.Validate(); err != nil {
		return core.Occurrence{}, fmt.Errorf("invalid payment: %w", err)
	}

	r := s.registry
	now := r.opts.Now().UTC()
	o := core.Occurrence{
		ID:         r.opts.NewID(),
		Date:       date,
		SlotDate:   date,
		Status:     core.Scheduled,
		Attributes: attrs,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	err := r.repo.WithTx(ctx, func(q *storage.Queries) error {
		return q.InsertOccurrence(ctx, o)
	})
	if err != nil {
		return core.Occurrence{}, fmt.Errorf("save payment: %w", err)
	}

	slog.InfoContext(ctx, "Payment created",
		"occurrence_id", o.ID,
		"date", o.Date.String(),
		"amount", o.Amount.StringFixed(2))

	ev := amqp.NewSeriesEvent("", amqp.OperationCreate, 0)
	ev.OccurrenceID = o.ID
	publish(ctx, r.events, ev)

	return o, nil
}

func (s *PaymentService) GetPayment(ctx context.Context, id string) (core.Occurrence, error) {
	return s.registry.repo.Queries().GetOccurrence(ctx, id)
}

// ListPayments returns live one-off and series occurrences dated in [from, to]
// with their totals.
func (s *PaymentService) ListPayments(ctx context.Context, from, to core.Date) ([]core.Occurrence, core.Summary, error) {
	if to.Before(from) {
		return nil, core.Summary{}, fmt.Errorf("%w: range ends before it starts", core.ErrInvalidRule)
	}
	occs, err := s.registry.repo.Queries().ListOccurrencesBetween(ctx, from, to)
	if err != nil {
		return nil, core.Summary{}, fmt.Errorf("list payments: %w", err)
	}
	return occs, core.Summarize(occs), nil
}

// ListSeriesOccurrences lists a series roster. When extend-on-read is enabled
// and the stored horizon is behind the policy target, the series is extended
// first. A contended lease only skips the extension.
func (s *PaymentService) ListSeriesOccurrences(ctx context.Context, seriesID string, opts ListOptions) ([]core.Occurrence, error) {
	r := s.registry
	if r.opts.ExtendOnRead {
		series, err := r.GetSeries(ctx, seriesID)
		if err != nil {
			return nil, err
		}
		if target := r.TargetHorizon(series, r.opts.Now()); series.IsActive() && target.After(series.Horizon) {
			_, err := r.ExtendHorizon(ctx, seriesID, target)
			switch {
			case errors.Is(err, core.ErrConcurrentModification):
				slog.WarnContext(ctx, "Skipping extend-on-read, series is busy", "series_id", seriesID)
			case err != nil:
				return nil, err
			}
		}
	}
	return r.ListOccurrences(ctx, seriesID, opts)
}
