package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"paytrack/internal/core"
)

// SweepReport summarizes one horizon sweep.
type SweepReport struct {
	Checked  int
	Extended int
	Created  int
	Busy     int
	Failed   int
}

// HorizonSweeper keeps every active series materialized up to the horizon
// policy target. Series are extended in parallel, each under its own lease.
type HorizonSweeper struct {
	registry    *SeriesRegistry
	concurrency int
}

func NewHorizonSweeper(registry *SeriesRegistry, concurrency int) *HorizonSweeper {
	if concurrency < 1 {
		concurrency = 1
	}
	return &HorizonSweeper{registry: registry, concurrency: concurrency}
}

// Sweep extends every active series whose horizon is behind the target for
// now. A failure on one series is logged and counted; it does not stop the
// others. Only listing the series or a cancelled ctx fails the sweep.
func (s *HorizonSweeper) Sweep(ctx context.Context, now time.Time) (SweepReport, error) {
	seriesIDs, err := s.registry.repo.Queries().ListActiveSeriesIDs(ctx)
	if err != nil {
		return SweepReport{}, fmt.Errorf("list active series: %w", err)
	}

	var extended, created, busy, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for _, id := range seriesIDs {
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			n, err := s.ExtendToTarget(gctx, id, now)
			switch {
			case errors.Is(err, core.ErrConcurrentModification):
				busy.Add(1)
			case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
				return err
			case err != nil:
				failed.Add(1)
				slog.ErrorContext(gctx, "Failed to extend series horizon", "series_id", id, "error", err)
			case n > 0:
				extended.Add(1)
				created.Add(int64(n))
			}
			return nil
		})
	}

	err = g.Wait()
	report := SweepReport{
		Checked:  len(seriesIDs),
		Extended: int(extended.Load()),
		Created:  int(created.Load()),
		Busy:     int(busy.Load()),
		Failed:   int(failed.Load()),
	}
	if err != nil {
		return report, fmt.Errorf("sweep interrupted: %w", err)
	}

	slog.InfoContext(ctx, "Horizon sweep complete",
		"checked", report.Checked,
		"extended", report.Extended,
		"created", report.Created,
		"busy", report.Busy,
		"failed", report.Failed)

	return report, nil
}

// ExtendToTarget extends one series to the policy target for now.
func (s *HorizonSweeper) ExtendToTarget(ctx context.Context, seriesID string, now time.Time) (int, error) {
	series, err := s.registry.GetSeries(ctx, seriesID)
	if err != nil {
		return 0, err
	}
	target := s.registry.TargetHorizon(series, now)
	if !series.IsActive() || !target.After(series.Horizon) {
		return 0, nil
	}
	return s.registry.ExtendHorizon(ctx, seriesID, target)
}
