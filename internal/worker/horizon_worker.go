package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"paytrack/internal/amqp"
	"paytrack/internal/core"
	"paytrack/internal/services"
)

// HorizonWorker keeps series materialized ahead of time: it sweeps every
// active series on a fixed interval and serves explicit horizon requests
// arriving over AMQP.
type HorizonWorker struct {
	registry *services.SeriesRegistry
	sweeper  *services.HorizonSweeper
	now      func() time.Time
}

func NewHorizonWorker(registry *services.SeriesRegistry, sweeper *services.HorizonSweeper) *HorizonWorker {
	return &HorizonWorker{
		registry: registry,
		sweeper:  sweeper,
		now:      registry.Now,
	}
}

// HandleHorizonRequest processes a single horizon request from AMQP. Requests
// for unknown series or with a malformed horizon are dropped; a busy series is
// returned as an error so the broker redelivers it.
func (w *HorizonWorker) HandleHorizonRequest(ctx context.Context, req *amqp.HorizonRequest) error {
	slog.InfoContext(ctx, "Processing horizon request",
		"series_id", req.SeriesID,
		"horizon", req.Horizon)

	var (
		created int
		err     error
	)
	if req.Horizon == "" {
		created, err = w.sweeper.ExtendToTarget(ctx, req.SeriesID, w.now())
	} else {
		horizon, perr := core.ParseDate(req.Horizon)
		if perr != nil {
			slog.WarnContext(ctx, "Dropping horizon request with malformed horizon",
				"series_id", req.SeriesID,
				"horizon", req.Horizon,
				"error", perr)
			return nil
		}
		created, err = w.registry.ExtendHorizon(ctx, req.SeriesID, horizon)
	}

	switch {
	case errors.Is(err, core.ErrNotFound):
		slog.WarnContext(ctx, "Dropping horizon request for unknown series", "series_id", req.SeriesID)
		return nil
	case err != nil:
		return fmt.Errorf("extend series %s: %w", req.SeriesID, err)
	}

	slog.InfoContext(ctx, "Horizon request completed",
		"series_id", req.SeriesID,
		"count", created)
	return nil
}

// SweepOnce runs a single sweep. A sweep that fails outright is logged and
// reported; per-series failures only show up in the report.
func (w *HorizonWorker) SweepOnce(ctx context.Context) (services.SweepReport, error) {
	report, err := w.sweeper.Sweep(ctx, w.now())
	if err != nil {
		slog.ErrorContext(ctx, "Horizon sweep failed", "error", err)
		return report, err
	}
	return report, nil
}

// Run sweeps once at startup and then every interval until ctx is done.
func (w *HorizonWorker) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("sweep interval must be positive, got %s", interval)
	}

	slog.InfoContext(ctx, "Running initial horizon sweep...")
	_, _ = w.SweepOnce(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if report, err := w.SweepOnce(ctx); err == nil {
				slog.InfoContext(ctx, "Periodic sweep complete",
					"created", report.Created,
					"next_check", w.now().Add(interval).Format(time.RFC3339))
			}
		}
	}
}
