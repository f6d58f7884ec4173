package core

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func TestParseScope(t *testing.T) {
	cases := []struct {
		in   string
		want Scope
		ok   bool
	}{
		{"single", ScopeSingle, true},
		{"", ScopeSingle, true},
		{" Series ", ScopeSeries, true},
		{"all", "", false},
	}
	for _, tc := range cases {
		got, err := ParseScope(tc.in)
		if tc.ok && (err != nil || got != tc.want) {
			t.Errorf("ParseScope(%q) = %v, %v, want %v", tc.in, got, err, tc.want)
		}
		if !tc.ok && !errors.Is(err, ErrInvalidScope) {
			t.Errorf("ParseScope(%q) error = %v, want ErrInvalidScope", tc.in, err)
		}
	}
}

func TestChangesApply(t *testing.T) {
	base := Attributes{Amount: decimal.NewFromInt(100), CategoryID: "rent", Description: "Flat"}
	amount := decimal.NewFromInt(150)
	desc := "  Flat + parking "

	got := Changes{Amount: &amount, Description: &desc}.Apply(base)
	if !got.Amount.Equal(amount) || got.Description != "Flat + parking" || got.CategoryID != "rent" {
		t.Fatalf("Apply() = %+v", got)
	}
	if !base.Amount.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("Apply mutated its input")
	}
}

func TestChangesApplyRule(t *testing.T) {
	end := NewDate(2024, 12, 31)
	current := RecurrenceRule{Pattern: Monthly, AnchorDate: NewDate(2024, 1, 15), EndDate: &end}
	anchor := NewDate(2024, 3, 15)

	got := Changes{}.ApplyRule(current, anchor)
	if got.Pattern != Monthly || !got.AnchorDate.Equal(anchor) || got.EndDate == nil || !got.EndDate.Equal(end) {
		t.Fatalf("unchanged rule = %+v", got)
	}

	none := None
	got = Changes{Pattern: &none}.ApplyRule(current, anchor)
	if got.Pattern != None || got.EndDate != nil {
		t.Fatalf("cleared pattern should clear end date: %+v", got)
	}

	weekly := Weekly
	newEnd := NewDate(2024, 6, 30)
	got = Changes{Pattern: &weekly, EndDate: &newEnd}.ApplyRule(current, anchor)
	if got.Pattern != Weekly || !got.EndDate.Equal(newEnd) {
		t.Fatalf("rule changes not applied: %+v", got)
	}

	got = Changes{ClearEndDate: true}.ApplyRule(current, anchor)
	if got.EndDate != nil {
		t.Fatalf("end date not cleared: %+v", got)
	}
}
