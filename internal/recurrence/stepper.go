// Package recurrence expands recurrence rules into dated payment drafts.
//
// This file implements the Strategy Pattern for calendar stepping. Each pattern
// (daily, weekly, monthly, yearly) has its own stepper that computes the n-th
// date of a series from its anchor.
package recurrence

import (
	"fmt"
	"time"

	"paytrack/internal/core"
)

// Stepper is the strategy interface for computing occurrence dates.
type Stepper interface {
	// Step returns the date n steps after anchor. It is always computed from
	// the anchor, never from the previous step, so month-end clamping does not
	// drift (Jan 31 -> Feb 29 -> Mar 31).
	Step(anchor core.Date, n int) core.Date
}

// DailyStepper implements Stepper for daily series.
type DailyStepper struct{}

func (DailyStepper) Step(anchor core.Date, n int) core.Date {
	return anchor.AddDays(n)
}

// WeeklyStepper implements Stepper for weekly series.
type WeeklyStepper struct{}

func (WeeklyStepper) Step(anchor core.Date, n int) core.Date {
	return anchor.AddDays(7 * n)
}

// MonthlyStepper implements Stepper for monthly series.
type MonthlyStepper struct{}

// Step clamps to the last day of the target month when the anchor day does not exist.
func (MonthlyStepper) Step(anchor core.Date, n int) core.Date {
	return addMonthsClamped(anchor, n)
}

// YearlyStepper implements Stepper for yearly series.
type YearlyStepper struct{}

// Step clamps Feb 29 anchors to Feb 28 in non-leap years.
func (YearlyStepper) Step(anchor core.Date, n int) core.Date {
	return addMonthsClamped(anchor, 12*n)
}

func addMonthsClamped(anchor core.Date, months int) core.Date {
	y, m, d := anchor.Time.Date()
	first := time.Date(y, m+time.Month(months), 1, 0, 0, 0, 0, time.UTC)
	lastDay := first.AddDate(0, 1, -1).Day()
	if d > lastDay {
		d = lastDay
	}
	return core.NewDate(first.Year(), int(first.Month()), d)
}

// steppers maps patterns to their stepping strategy.
var steppers = map[core.Pattern]Stepper{
	core.Daily:   DailyStepper{},
	core.Weekly:  WeeklyStepper{},
	core.Monthly: MonthlyStepper{},
	core.Yearly:  YearlyStepper{},
}

// GetStepper returns the stepper for a recurring pattern.
func GetStepper(p core.Pattern) (Stepper, error) {
	s, ok := steppers[p]
	if !ok {
		return nil, fmt.Errorf("%w: no stepper for pattern %q", core.ErrInvalidRule, p)
	}
	return s, nil
}
