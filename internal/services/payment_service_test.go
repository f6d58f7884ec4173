package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paytrack/internal/core"
)

func TestPaymentService_CreateAndList(t *testing.T) {
	f := newFixture(t, 6)
	ctx := context.Background()
	s := f.createMonthly(t)

	p, err := f.payments.CreatePayment(ctx, core.NewDate(2024, 2, 1), rent)
	require.NoError(t, err)
	assert.Empty(t, p.SeriesID)
	assert.Equal(t, core.Scheduled, p.Status)

	got, err := f.payments.GetPayment(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)
	assert.True(t, got.Amount.Equal(rent.Amount))

	_, err = f.lifecycle.MarkPaid(ctx, f.roster(t, s.ID)[0].ID)
	require.NoError(t, err)

	list, summary, err := f.payments.ListPayments(ctx, core.NewDate(2024, 1, 1), core.NewDate(2024, 2, 29))
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-01-15", "2024-02-01", "2024-02-15"}, datesOfRoster(list))
	assert.True(t, summary.Completed.Equal(*amountPtr(100)))
	assert.True(t, summary.Scheduled.Equal(*amountPtr(200)))
	assert.Equal(t, 1, summary.Count[core.Completed])
	assert.Equal(t, 2, summary.Count[core.Scheduled])
}

func TestPaymentService_CreatePaymentRejects(t *testing.T) {
	f := newFixture(t, 6)
	ctx := context.Background()

	_, err := f.payments.CreatePayment(ctx, core.Date{}, rent)
	assert.ErrorIs(t, err, core.ErrInvalidRule)

	noCategory := rent
	noCategory.CategoryID = ""
	_, err = f.payments.CreatePayment(ctx, core.NewDate(2024, 2, 1), noCategory)
	assert.ErrorIs(t, err, core.ErrEmptyCategory)

	_, _, err = f.payments.ListPayments(ctx, core.NewDate(2024, 2, 1), core.NewDate(2024, 1, 1))
	assert.ErrorIs(t, err, core.ErrInvalidRule)

	_, err = f.payments.GetPayment(ctx, "missing")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestPaymentService_ExtendOnRead(t *testing.T) {
	f := newFixture(t, 6)
	ctx := context.Background()
	s := f.createMonthly(t)

	f.clock.Set(time.Date(2024, 4, 1, 12, 0, 0, 0, time.UTC))

	f.registry.opts.ExtendOnRead = false
	occs, err := f.payments.ListSeriesOccurrences(ctx, s.ID, ListOptions{})
	require.NoError(t, err)
	assert.Len(t, occs, 6)

	f.registry.opts.ExtendOnRead = true
	occs, err = f.payments.ListSeriesOccurrences(ctx, s.ID, ListOptions{})
	require.NoError(t, err)
	require.Len(t, occs, 9)
	assert.Equal(t, "2024-09-15", occs[8].Date.String())

	held, err := f.locker.Acquire(ctx, s.ID)
	require.NoError(t, err)
	defer held.Release(ctx)

	f.clock.Set(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
	occs, err = f.payments.ListSeriesOccurrences(ctx, s.ID, ListOptions{})
	require.NoError(t, err, "a busy series is still readable")
	assert.Len(t, occs, 9)

	_, err = f.payments.ListSeriesOccurrences(ctx, "missing", ListOptions{})
	assert.ErrorIs(t, err, core.ErrNotFound)
}
