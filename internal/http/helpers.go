package http

import (
	"strconv"
	"strings"
	"time"

	"paytrack/internal/core"
	"paytrack/internal/services"
)

// parseDateParam parses an optional YYYY-MM-DD query value, returning def
// when the value is absent.
func parseDateParam(v string, def core.Date) (core.Date, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return def, nil
	}
	d, err := core.ParseDate(v)
	if err != nil {
		return core.Date{}, badRequest("%v", err)
	}
	return d, nil
}

// monthOf returns the first and last day of the month containing now.
func monthOf(now time.Time) (core.Date, core.Date) {
	first := core.NewDate(now.Year(), int(now.Month()), 1)
	return first, core.Date{Time: first.AddDate(0, 1, -1)}
}

func parseBool(v string) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	return err == nil && b
}

type attributesView struct {
	Amount      string `json:"amount"`
	CategoryID  string `json:"categoryId"`
	Description string `json:"description"`
}

func attributesOf(a core.Attributes) attributesView {
	return attributesView{
		Amount:      a.Amount.StringFixed(2),
		CategoryID:  a.CategoryID,
		Description: a.Description,
	}
}

type occurrenceView struct {
	ID       string      `json:"id"`
	SeriesID string      `json:"seriesId,omitempty"`
	Date     core.Date   `json:"date"`
	SlotDate core.Date   `json:"slotDate"`
	Status   core.Status `json:"status"`
	attributesView
	RuleVersion  int       `json:"ruleVersion,omitempty"`
	Overridden   bool      `json:"overridden,omitempty"`
	SupersededBy int       `json:"supersededBy,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

func occurrenceOf(o core.Occurrence) occurrenceView {
	return occurrenceView{
		ID:             o.ID,
		SeriesID:       o.SeriesID,
		Date:           o.Date,
		SlotDate:       o.SlotDate,
		Status:         o.Status,
		attributesView: attributesOf(o.Attributes),
		RuleVersion:    o.RuleVersion,
		Overridden:     o.Overridden,
		SupersededBy:   o.SupersededBy,
		CreatedAt:      o.CreatedAt,
		UpdatedAt:      o.UpdatedAt,
	}
}

func occurrencesOf(occs []core.Occurrence) []occurrenceView {
	out := make([]occurrenceView, len(occs))
	for i, o := range occs {
		out[i] = occurrenceOf(o)
	}
	return out
}

type ruleView struct {
	Pattern    core.Pattern `json:"pattern"`
	AnchorDate core.Date    `json:"anchorDate"`
	EndDate    *core.Date   `json:"endDate,omitempty"`
}

func ruleOf(r core.RecurrenceRule) ruleView {
	return ruleView{Pattern: r.Pattern, AnchorDate: r.AnchorDate, EndDate: r.EndDate}
}

type seriesView struct {
	ID string `json:"id"`
	ruleView
	RuleVersion int            `json:"ruleVersion"`
	Template    attributesView `json:"template"`
	Horizon     core.Date      `json:"horizon"`
	Terminated  bool           `json:"terminated"`
	Active      bool           `json:"active"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
}

func seriesOf(s core.Series) seriesView {
	return seriesView{
		ID:          s.ID,
		ruleView:    ruleOf(s.CurrentRule),
		RuleVersion: s.RuleVersion,
		Template:    attributesOf(s.Template),
		Horizon:     s.Horizon,
		Terminated:  s.Terminated,
		Active:      s.IsActive(),
		CreatedAt:   s.CreatedAt,
		UpdatedAt:   s.UpdatedAt,
	}
}

type ruleVersionView struct {
	Version int `json:"version"`
	ruleView
	Template   attributesView `json:"template"`
	Terminated bool           `json:"terminated"`
	CreatedAt  time.Time      `json:"createdAt"`
}

func ruleVersionOf(v core.RuleVersion) ruleVersionView {
	return ruleVersionView{
		Version:    v.Version,
		ruleView:   ruleOf(v.Rule),
		Template:   attributesOf(v.Template),
		Terminated: v.Terminated,
		CreatedAt:  v.CreatedAt,
	}
}

type mutationView struct {
	Scope     core.Scope       `json:"scope"`
	Series    *seriesView      `json:"series,omitempty"`
	Updated   []occurrenceView `json:"updated"`
	Discarded []occurrenceView `json:"discarded"`
	Created   []occurrenceView `json:"created"`
}

func mutationOf(res services.MutationResult) mutationView {
	v := mutationView{
		Scope:     res.Scope,
		Updated:   occurrencesOf(res.Updated),
		Discarded: occurrencesOf(res.Discarded),
		Created:   occurrencesOf(res.Created),
	}
	if res.Series != nil {
		sv := seriesOf(*res.Series)
		v.Series = &sv
	}
	return v
}

type summaryView struct {
	Scheduled string              `json:"scheduled"`
	Completed string              `json:"completed"`
	Count     map[core.Status]int `json:"count"`
}

func summaryOf(s core.Summary) summaryView {
	return summaryView{
		Scheduled: s.Scheduled.StringFixed(2),
		Completed: s.Completed.StringFixed(2),
		Count:     s.Count,
	}
}
