package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"paytrack/internal/core"
	"paytrack/internal/services"
)

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

func printSeries(w io.Writer, s core.Series) {
	end := "-"
	if s.CurrentRule.EndDate != nil {
		end = s.CurrentRule.EndDate.String()
	}
	tw := newTable(w)
	fmt.Fprintf(tw, "ID:\t%s\n", s.ID)
	fmt.Fprintf(tw, "Pattern:\t%s\n", patternName(s.CurrentRule.Pattern))
	fmt.Fprintf(tw, "Anchor:\t%s\n", s.CurrentRule.AnchorDate)
	fmt.Fprintf(tw, "End:\t%s\n", end)
	fmt.Fprintf(tw, "Rule version:\t%d\n", s.RuleVersion)
	fmt.Fprintf(tw, "Template:\t%s %s %q\n", s.Template.Amount.StringFixed(2), s.Template.CategoryID, s.Template.Description)
	fmt.Fprintf(tw, "Horizon:\t%s\n", s.Horizon)
	fmt.Fprintf(tw, "Active:\t%t\n", s.IsActive())
	tw.Flush()
}

func printOccurrences(w io.Writer, occs []core.Occurrence) {
	if len(occs) == 0 {
		fmt.Fprintln(w, "No occurrences.")
		return
	}
	tw := newTable(w)
	fmt.Fprintln(tw, "DATE\tSTATUS\tAMOUNT\tCATEGORY\tDESCRIPTION\tVERSION\tFLAGS\tID")
	for _, o := range occs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			o.Date, o.Status, o.Amount.StringFixed(2), o.CategoryID, o.Description,
			o.RuleVersion, flagsOf(o), o.ID)
	}
	tw.Flush()
}

func flagsOf(o core.Occurrence) string {
	switch {
	case o.SupersededBy > 0:
		return fmt.Sprintf("superseded@v%d", o.SupersededBy)
	case o.Overridden:
		return "overridden"
	case o.SeriesID == "":
		return "one-off"
	}
	return "-"
}

func printRuleVersions(w io.Writer, versions []core.RuleVersion) {
	tw := newTable(w)
	fmt.Fprintln(tw, "VERSION\tPATTERN\tANCHOR\tEND\tAMOUNT\tTERMINATED\tCREATED")
	for _, v := range versions {
		end := "-"
		if v.Rule.EndDate != nil {
			end = v.Rule.EndDate.String()
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%t\t%s\n",
			v.Version, patternName(v.Rule.Pattern), v.Rule.AnchorDate, end,
			v.Template.Amount.StringFixed(2), v.Terminated, v.CreatedAt.Format("2006-01-02 15:04"))
	}
	tw.Flush()
}

func printMutation(w io.Writer, res services.MutationResult) {
	fmt.Fprintf(w, "Scope %s: %d updated, %d discarded, %d created\n",
		res.Scope, len(res.Updated), len(res.Discarded), len(res.Created))
	if res.Series != nil {
		fmt.Fprintf(w, "Series %s at rule version %d, horizon %s\n",
			res.Series.ID, res.Series.RuleVersion, res.Series.Horizon)
	}
	if len(res.Updated) > 0 {
		fmt.Fprintln(w)
		printOccurrences(w, res.Updated)
	}
	if len(res.Created) > 0 {
		fmt.Fprintln(w)
		printOccurrences(w, res.Created)
	}
}

func printSummary(w io.Writer, s core.Summary) {
	tw := newTable(w)
	fmt.Fprintf(tw, "Scheduled:\t%s\t(%d)\n", s.Scheduled.StringFixed(2), s.Count[core.Scheduled])
	fmt.Fprintf(tw, "Completed:\t%s\t(%d)\n", s.Completed.StringFixed(2), s.Count[core.Completed])
	tw.Flush()
}

func printSweep(w io.Writer, r services.SweepReport) {
	fmt.Fprintf(w, "Checked %d series: %d extended, %d occurrence(s) created, %d busy, %d failed\n",
		r.Checked, r.Extended, r.Created, r.Busy, r.Failed)
}

func patternName(p core.Pattern) string {
	if p == core.None {
		return "none"
	}
	return string(p)
}
