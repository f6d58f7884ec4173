package core

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
)

func datePtr(d Date) *Date { return &d }

func TestRecurrenceRuleValidate(t *testing.T) {
	cases := []struct {
		name string
		rule RecurrenceRule
		ok   bool
	}{
		{"one-off", RecurrenceRule{AnchorDate: NewDate(2024, 1, 15)}, true},
		{"open ended monthly", RecurrenceRule{Pattern: Monthly, AnchorDate: NewDate(2024, 1, 15)}, true},
		{"end equals anchor", RecurrenceRule{Pattern: Daily, AnchorDate: NewDate(2024, 1, 15), EndDate: datePtr(NewDate(2024, 1, 15))}, true},
		{"end before anchor", RecurrenceRule{Pattern: Weekly, AnchorDate: NewDate(2024, 1, 15), EndDate: datePtr(NewDate(2024, 1, 14))}, false},
		{"zero anchor", RecurrenceRule{Pattern: Yearly}, false},
		{"unknown pattern", RecurrenceRule{Pattern: "hourly", AnchorDate: NewDate(2024, 1, 15)}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.rule.Validate()
			if tc.ok && err != nil {
				t.Fatalf("expected ok, got %v", err)
			}
			if !tc.ok && !errors.Is(err, ErrInvalidRule) {
				t.Fatalf("expected ErrInvalidRule, got %v", err)
			}
		})
	}
}

func TestParsePattern(t *testing.T) {
	cases := map[string]Pattern{"monthly": Monthly, " Weekly ": Weekly, "none": None, "": None}
	for in, want := range cases {
		got, err := ParsePattern(in)
		if err != nil || got != want {
			t.Fatalf("ParsePattern(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := ParsePattern("fortnightly"); !errors.Is(err, ErrInvalidRule) {
		t.Fatalf("expected ErrInvalidRule, got %v", err)
	}
}

func TestAttributesValidate(t *testing.T) {
	good := Attributes{Amount: decimal.NewFromInt(100), CategoryID: "rent", Description: "Flat"}
	if err := good.Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}

	bads := []Attributes{
		{Amount: decimal.Zero, CategoryID: "rent", Description: "Flat"},
		{Amount: decimal.NewFromInt(-5), CategoryID: "rent", Description: "Flat"},
		{Amount: decimal.NewFromInt(1), CategoryID: "", Description: "Flat"},
		{Amount: decimal.NewFromInt(1), CategoryID: "rent", Description: "   "},
		{Amount: decimal.NewFromInt(1), CategoryID: "rent", Description: strings.Repeat("x", 201)},
	}
	for i, a := range bads {
		if err := a.Validate(); err == nil {
			t.Fatalf("case %d expected error", i)
		}
	}
}

func TestAttributesValidateCountsCharacters(t *testing.T) {
	a := Attributes{Amount: decimal.NewFromInt(1), CategoryID: "rent", Description: strings.Repeat("é", MaxDescriptionLength)}
	if err := a.Validate(); err != nil {
		t.Fatalf("%d two-byte characters: %v", MaxDescriptionLength, err)
	}

	a.Description += "é"
	if err := a.Validate(); !errors.Is(err, ErrDescriptionTooLong) {
		t.Fatalf("Validate() = %v, want ErrDescriptionTooLong", err)
	}
}

func TestDateJSON(t *testing.T) {
	type payload struct {
		Date Date  `json:"date"`
		End  *Date `json:"end,omitempty"`
	}
	in := payload{Date: NewDate(2024, 2, 29)}
	b, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(b) != `{"date":"2024-02-29"}` {
		t.Fatalf("marshal = %s", b)
	}

	var out payload
	if err := json.Unmarshal([]byte(`{"date":"2024-03-31","end":"2024-12-31"}`), &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !out.Date.Equal(NewDate(2024, 3, 31)) || out.End == nil || !out.End.Equal(NewDate(2024, 12, 31)) {
		t.Fatalf("unmarshal = %+v", out)
	}

	if err := json.Unmarshal([]byte(`{"date":"31/03/2024"}`), &out); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestSeriesIsActive(t *testing.T) {
	end := NewDate(2024, 6, 15)
	cases := []struct {
		name   string
		series Series
		want   bool
	}{
		{"open ended", Series{CurrentRule: RecurrenceRule{Pattern: Monthly, AnchorDate: NewDate(2024, 1, 15)}, Horizon: NewDate(2024, 6, 15)}, true},
		{"horizon reached end", Series{CurrentRule: RecurrenceRule{Pattern: Monthly, AnchorDate: NewDate(2024, 1, 15), EndDate: &end}, Horizon: end}, false},
		{"terminated", Series{CurrentRule: RecurrenceRule{Pattern: Monthly, AnchorDate: NewDate(2024, 1, 15)}, Terminated: true}, false},
		{"pattern cleared", Series{CurrentRule: RecurrenceRule{AnchorDate: NewDate(2024, 1, 15)}}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.series.IsActive(); got != tc.want {
				t.Errorf("IsActive() = %v, want %v", got, tc.want)
			}
		})
	}
}
