package core

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	ScopeSingle Scope = "single"
	ScopeSeries Scope = "series"
)

// Scope is the breadth of an edit or delete request.
type Scope string

func ParseScope(s string) (Scope, error) {
	switch Scope(strings.ToLower(strings.TrimSpace(s))) {
	case ScopeSingle, "":
		return ScopeSingle, nil
	case ScopeSeries:
		return ScopeSeries, nil
	}
	return "", fmt.Errorf("%w: unknown scope %q", ErrInvalidScope, s)
}

// Changes is a partial update. Nil fields keep their current value.
type Changes struct {
	Amount      *decimal.Decimal
	CategoryID  *string
	Description *string
	Date        *Date

	// Rule fields, only meaningful for series scope.
	Pattern      *Pattern
	EndDate      *Date
	ClearEndDate bool
}

// Apply returns a with the attribute changes applied.
func (c Changes) Apply(a Attributes) Attributes {
	if c.Amount != nil {
		a.Amount = *c.Amount
	}
	if c.CategoryID != nil {
		a.CategoryID = strings.TrimSpace(*c.CategoryID)
	}
	if c.Description != nil {
		a.Description = strings.TrimSpace(*c.Description)
	}
	return a
}

// TouchesRule reports whether the changes alter the recurrence itself.
func (c Changes) TouchesRule() bool {
	return c.Pattern != nil || c.EndDate != nil || c.ClearEndDate || c.Date != nil
}

// ApplyRule derives the rule for a series rewrite starting at anchor.
// A cleared pattern also clears the end date.
func (c Changes) ApplyRule(current RecurrenceRule, anchor Date) RecurrenceRule {
	next := RecurrenceRule{
		Pattern:    current.Pattern,
		AnchorDate: anchor,
		EndDate:    current.EndDate,
	}
	if c.Pattern != nil {
		next.Pattern = *c.Pattern
	}
	switch {
	case c.ClearEndDate || next.Pattern == None:
		next.EndDate = nil
	case c.EndDate != nil:
		end := *c.EndDate
		next.EndDate = &end
	}
	return next
}
