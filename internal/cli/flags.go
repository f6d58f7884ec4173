package cli

import (
	"strings"

	"github.com/spf13/cobra"

	"paytrack/internal/core"
)

// attributeFlags are the payment fields shared by create commands.
type attributeFlags struct {
	amount      string
	category    string
	description string
}

func (f *attributeFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.amount, "amount", "", "Amount, e.g. 12.50")
	cmd.Flags().StringVar(&f.category, "category", "", "Category id")
	cmd.Flags().StringVar(&f.description, "description", "", "Description")
}

func (f *attributeFlags) require(cmd *cobra.Command) {
	for _, name := range []string{"amount", "category", "description"} {
		_ = cmd.MarkFlagRequired(name)
	}
}

func (f *attributeFlags) attributes() (core.Attributes, error) {
	amount, err := core.ParseAmount(f.amount)
	if err != nil {
		return core.Attributes{}, err
	}
	a := core.Attributes{
		Amount:      amount,
		CategoryID:  strings.TrimSpace(f.category),
		Description: strings.TrimSpace(f.description),
	}
	return a, a.Validate()
}

// changeFlags build a partial update from the flags the user actually set.
type changeFlags struct {
	attributeFlags
	date     string
	pattern  string
	end      string
	clearEnd bool
}

func (f *changeFlags) register(cmd *cobra.Command) {
	f.attributeFlags.register(cmd)
	cmd.Flags().StringVar(&f.date, "date", "", "Move to this date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&f.pattern, "pattern", "", "New recurrence (series scope); none ends the recurrence")
	cmd.Flags().StringVar(&f.end, "end", "", "New inclusive end date (series scope)")
	cmd.Flags().BoolVar(&f.clearEnd, "clear-end", false, "Remove the end date (series scope)")
}

func (f *changeFlags) changes(cmd *cobra.Command) (core.Changes, error) {
	set := cmd.Flags().Changed
	c := core.Changes{ClearEndDate: f.clearEnd}

	if set("amount") {
		a, err := core.ParseAmount(f.amount)
		if err != nil {
			return core.Changes{}, err
		}
		c.Amount = &a
	}
	if set("category") {
		c.CategoryID = &f.category
	}
	if set("description") {
		c.Description = &f.description
	}
	if set("date") {
		d, err := core.ParseDate(f.date)
		if err != nil {
			return core.Changes{}, err
		}
		c.Date = &d
	}
	if set("pattern") {
		p, err := core.ParsePattern(f.pattern)
		if err != nil {
			return core.Changes{}, err
		}
		c.Pattern = &p
	}
	if set("end") {
		d, err := core.ParseDate(f.end)
		if err != nil {
			return core.Changes{}, err
		}
		c.EndDate = &d
	}
	return c, nil
}
