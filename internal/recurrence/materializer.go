package recurrence

import (
	"fmt"
	"iter"

	"paytrack/internal/core"
)

// Draft is a not-yet-persisted occurrence produced by the Materializer.
type Draft struct {
	Date        core.Date
	Attributes  core.Attributes
	RuleVersion int
}

// Bounds limits an expansion. Zero values mean "no limit".
type Bounds struct {
	// Horizon is the inclusive last date to emit.
	Horizon core.Date
	// After skips drafts dated on or before it. Skipped drafts do not count
	// against Limit.
	After core.Date
	// Limit caps the number of emitted drafts.
	Limit int
}

// Materializer expands recurrence rules. It has no side effects; persisting
// drafts is the registry's job.
type Materializer struct{}

func NewMaterializer() Materializer {
	return Materializer{}
}

// Expand validates rule and returns a lazy sequence of drafts tagged with version.
func (Materializer) Expand(rule core.RecurrenceRule, tmpl core.Attributes, version int, b Bounds) (*Sequence, error) {
	if err := rule.Validate(); err != nil {
		return nil, err
	}
	seq := &Sequence{rule: rule, tmpl: tmpl, version: version, bounds: b}
	if rule.IsRecurring() {
		stepper, err := GetStepper(rule.Pattern)
		if err != nil {
			return nil, err
		}
		seq.stepper = stepper
	}
	return seq, nil
}

// Collect expands rule eagerly. With an open-ended rule the bounds must set
// Horizon or Limit.
func (m Materializer) Collect(rule core.RecurrenceRule, tmpl core.Attributes, version int, b Bounds) ([]Draft, error) {
	if rule.IsRecurring() && rule.EndDate == nil && b.Horizon.IsZero() && b.Limit == 0 {
		return nil, fmt.Errorf("%w: open-ended rule needs a horizon or limit", core.ErrInvalidRule)
	}
	seq, err := m.Expand(rule, tmpl, version, b)
	if err != nil {
		return nil, err
	}
	var drafts []Draft
	for d := range seq.All() {
		drafts = append(drafts, d)
	}
	return drafts, nil
}

// Sequence is a restartable cursor over the drafts of one rule.
type Sequence struct {
	rule    core.RecurrenceRule
	tmpl    core.Attributes
	version int
	bounds  Bounds
	stepper Stepper

	n       int
	emitted int
	done    bool
}

// Next returns the next draft, or false once the sequence is exhausted.
// Generation stops at the end date, the horizon, the limit, or after the anchor
// for a rule without a pattern.
func (s *Sequence) Next() (Draft, bool) {
	for !s.done {
		if s.bounds.Limit > 0 && s.emitted >= s.bounds.Limit {
			s.done = true
			break
		}

		var date core.Date
		if s.stepper == nil {
			if s.n > 0 {
				s.done = true
				break
			}
			date = s.rule.AnchorDate
		} else {
			date = s.stepper.Step(s.rule.AnchorDate, s.n)
		}
		s.n++

		if !s.rule.Covers(date) || (!s.bounds.Horizon.IsZero() && date.After(s.bounds.Horizon)) {
			s.done = true
			break
		}
		if !s.bounds.After.IsZero() && !date.After(s.bounds.After) {
			continue
		}

		s.emitted++
		return Draft{Date: date, Attributes: s.tmpl, RuleVersion: s.version}, true
	}
	return Draft{}, false
}

// Reset rewinds the sequence to the anchor.
func (s *Sequence) Reset() {
	s.n = 0
	s.emitted = 0
	s.done = false
}

// All yields the remaining drafts.
func (s *Sequence) All() iter.Seq[Draft] {
	return func(yield func(Draft) bool) {
		for {
			d, ok := s.Next()
			if !ok || !yield(d) {
				return
			}
		}
	}
}

// NthDate returns the date of the n-th (0-based) occurrence of rule, ignoring
// its end date. A rule without a pattern only has n == 0.
func NthDate(rule core.RecurrenceRule, n int) (core.Date, error) {
	if !rule.IsRecurring() {
		if n != 0 {
			return core.Date{}, fmt.Errorf("%w: non-recurring rule has a single occurrence", core.ErrInvalidRule)
		}
		return rule.AnchorDate, nil
	}
	stepper, err := GetStepper(rule.Pattern)
	if err != nil {
		return core.Date{}, err
	}
	return stepper.Step(rule.AnchorDate, n), nil
}

// FirstOnOrAfter returns the index of the first occurrence of rule dated on
// or after d, ignoring its end date. Dates grow with the index, so the index
// is found by search rather than by walking from the anchor.
func FirstOnOrAfter(rule core.RecurrenceRule, d core.Date) (int, error) {
	if !rule.IsRecurring() {
		if rule.AnchorDate.Before(d) {
			return 1, nil
		}
		return 0, nil
	}
	stepper, err := GetStepper(rule.Pattern)
	if err != nil {
		return 0, err
	}
	before := func(n int) bool { return stepper.Step(rule.AnchorDate, n).Before(d) }
	if !before(0) {
		return 0, nil
	}

	// before(lo) holds and before(hi) does not.
	lo, hi := 0, 1
	for before(hi) {
		lo, hi = hi, hi*2
	}
	for hi-lo > 1 {
		mid := lo + (hi-lo)/2
		if before(mid) {
			lo = mid
		} else {
			hi = mid
		}
	}
	return hi, nil
}

// Generates reports whether d is one of the dates rule produces.
func Generates(rule core.RecurrenceRule, d core.Date) bool {
	if !rule.Covers(d) {
		return false
	}
	n, err := FirstOnOrAfter(rule, d)
	if err != nil {
		return false
	}
	got, err := NthDate(rule, n)
	return err == nil && got.Equal(d)
}
