package core

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

const (
	None    Pattern = ""
	Daily   Pattern = "daily"
	Weekly  Pattern = "weekly"
	Monthly Pattern = "monthly"
	Yearly  Pattern = "yearly"
)

const dateLayout = "2006-01-02"

// MaxDescriptionLength is counted in characters, not bytes.
const MaxDescriptionLength = 200

type (
	// Pattern is the recurrence cadence of a series. None marks a one-off payment.
	Pattern string

	Date struct {
		time.Time
	}

	// RecurrenceRule is a pure value: pattern, anchor and optional inclusive end.
	RecurrenceRule struct {
		Pattern    Pattern
		AnchorDate Date
		EndDate    *Date
	}

	// Attributes are the payment fields a series template hands down to its
	// occurrences. Each occurrence may override them individually.
	Attributes struct {
		Amount      decimal.Decimal
		CategoryID  string
		Description string
	}

	Series struct {
		ID          string
		CurrentRule RecurrenceRule
		RuleVersion int
		Template    Attributes
		// Horizon is the furthest date materialized so far.
		Horizon    Date
		Terminated bool
		CreatedAt  time.Time
		UpdatedAt  time.Time
	}

	// RuleVersion is one entry of a series' append-only rule log.
	RuleVersion struct {
		SeriesID   string
		Version    int
		Rule       RecurrenceRule
		Template   Attributes
		Terminated bool
		CreatedAt  time.Time
	}

	Occurrence struct {
		ID       string
		SeriesID string // empty for one-off payments
		Date     Date
		// SlotDate is the date the rule generated. A single-scope move changes
		// Date and keeps SlotDate, so the occurrence still holds its slot.
		SlotDate Date
		Status   Status
		Attributes
		RuleVersion int
		// Overridden is set by a single-scope edit; series-scope rewrites skip it.
		Overridden bool
		// SupersededBy is the rule version that discarded this occurrence, 0 if live.
		SupersededBy int
		CreatedAt    time.Time
		UpdatedAt    time.Time
	}
)

var (
	ErrEmptyDescription   = errors.New("empty description")
	ErrDescriptionTooLong = errors.New("description too long")
	ErrEmptyCategory      = errors.New("empty category")
	ErrInvalidAmount      = errors.New("invalid amount")
)

// NewDate creates a new Date from year, month, day
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates t to its calendar day in UTC.
func DateOf(t time.Time) Date {
	t = t.UTC()
	return NewDate(t.Year(), int(t.Month()), t.Day())
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return Date{Time: t}, nil
}

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Format(dateLayout)
}

func (d Date) Before(o Date) bool { return d.Time.Before(o.Time) }
func (d Date) After(o Date) bool  { return d.Time.After(o.Time) }
func (d Date) Equal(o Date) bool  { return d.Time.Equal(o.Time) }

// AddDays returns the date n calendar days away.
func (d Date) AddDays(n int) Date {
	return Date{Time: d.AddDate(0, 0, n)}
}

func (d Date) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Date) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// MarshalJSON shadows the promoted time.Time encoder so dates stay YYYY-MM-DD.
func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return []byte(`"` + d.String() + `"`), nil
}

func (d *Date) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "null" {
		s = ""
	}
	return d.UnmarshalText([]byte(s))
}

// ParsePattern reads a pattern name; "none" and "" both mean no recurrence.
func ParsePattern(s string) (Pattern, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "none" {
		return None, nil
	}
	p := Pattern(s)
	if !p.Valid() {
		return "", fmt.Errorf("%w: unknown pattern %q", ErrInvalidRule, s)
	}
	return p, nil
}

func (p Pattern) Valid() bool {
	switch p {
	case None, Daily, Weekly, Monthly, Yearly:
		return true
	}
	return false
}

// IsRecurring reports whether the rule expands past its anchor.
func (r RecurrenceRule) IsRecurring() bool {
	return r.Pattern != None
}

func (r RecurrenceRule) Validate() error {
	if r.AnchorDate.IsZero() {
		return fmt.Errorf("%w: anchor date is required", ErrInvalidRule)
	}
	if !r.Pattern.Valid() {
		return fmt.Errorf("%w: unknown pattern %q", ErrInvalidRule, r.Pattern)
	}
	if r.EndDate != nil && r.EndDate.Before(r.AnchorDate) {
		return fmt.Errorf("%w: end date %s is before anchor date %s", ErrInvalidRule, r.EndDate, r.AnchorDate)
	}
	return nil
}

// Covers reports whether d is within the rule's inclusive end date.
func (r RecurrenceRule) Covers(d Date) bool {
	return r.EndDate == nil || !d.After(*r.EndDate)
}

func (a Attributes) Validate() error {
	if !a.Amount.IsPositive() {
		return ErrInvalidAmount
	}
	if len(strings.TrimSpace(a.Description)) == 0 {
		return ErrEmptyDescription
	}
	if utf8.RuneCountInString(a.Description) > MaxDescriptionLength {
		return fmt.Errorf("%w (max %d characters)", ErrDescriptionTooLong, MaxDescriptionLength)
	}
	if strings.TrimSpace(a.CategoryID) == "" {
		return ErrEmptyCategory
	}
	return nil
}

func (o Occurrence) IsSeries() bool {
	return o.SeriesID != ""
}

func (o Occurrence) IsTerminal() bool {
	return o.Status.IsTerminal()
}

// IsLive reports whether the occurrence still belongs to the series roster.
func (o Occurrence) IsLive() bool {
	return o.SupersededBy == 0
}

// IsActive reports whether a series can still grow past its horizon.
func (s Series) IsActive() bool {
	if s.Terminated || !s.CurrentRule.IsRecurring() {
		return false
	}
	return s.CurrentRule.EndDate == nil || s.Horizon.Before(*s.CurrentRule.EndDate)
}
