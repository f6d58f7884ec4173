package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"paytrack/internal/app"
	"paytrack/internal/core"
	"paytrack/internal/services"
)

func newSeriesCommand(rt *runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "series",
		Short: "Create and inspect recurring series",
	}
	cmd.AddCommand(newSeriesCreateCommand(rt))
	cmd.AddCommand(newSeriesShowCommand(rt))
	cmd.AddCommand(newSeriesVersionsCommand(rt))
	cmd.AddCommand(newSeriesExtendCommand(rt))
	return cmd
}

func newSeriesCreateCommand(rt *runtime) *cobra.Command {
	var (
		pattern, anchor, end string
		attrs                attributeFlags
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a series and materialize its first occurrences",
		Example: `  seriesctl series create --pattern monthly --anchor 2024-01-31 \
    --amount 950 --category rent --description "Flat rent"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := core.ParsePattern(pattern)
			if err != nil {
				return err
			}
			rule := core.RecurrenceRule{Pattern: p}
			if rule.AnchorDate, err = core.ParseDate(anchor); err != nil {
				return fmt.Errorf("--anchor: %w", err)
			}
			if end != "" {
				d, err := core.ParseDate(end)
				if err != nil {
					return fmt.Errorf("--end: %w", err)
				}
				rule.EndDate = &d
			}
			tmpl, err := attrs.attributes()
			if err != nil {
				return err
			}

			return rt.withApp(cmd, func(a *app.App) error {
				series, err := a.Registry.CreateSeries(cmd.Context(), rule, tmpl)
				if err != nil {
					return err
				}
				occs, err := a.Registry.ListOccurrences(cmd.Context(), series.ID, services.ListOptions{})
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Created series %s\n\n", series.ID)
				printSeries(out, series)
				fmt.Fprintln(out)
				printOccurrences(out, occs)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&pattern, "pattern", "", "Recurrence: daily, weekly, monthly or yearly")
	cmd.Flags().StringVar(&anchor, "anchor", "", "First occurrence date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&end, "end", "", "Inclusive end date (YYYY-MM-DD)")
	attrs.register(cmd)
	_ = cmd.MarkFlagRequired("pattern")
	_ = cmd.MarkFlagRequired("anchor")
	attrs.require(cmd)

	return cmd
}

func newSeriesShowCommand(rt *runtime) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "show <series-id>",
		Short: "Show a series and its occurrence roster",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return rt.withApp(cmd, func(a *app.App) error {
				series, err := a.Registry.GetSeries(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				occs, err := a.Payments.ListSeriesOccurrences(cmd.Context(), args[0], services.ListOptions{IncludeSuperseded: all})
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				printSeries(out, series)
				fmt.Fprintln(out)
				printOccurrences(out, occs)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Include occurrences discarded by series rewrites")
	return cmd
}

func newSeriesVersionsCommand(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "versions <series-id> [version]",
		Short: "Show the rule version log of a series",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return rt.withApp(cmd, func(a *app.App) error {
				if len(args) == 2 {
					n, err := strconv.Atoi(args[1])
					if err != nil || n < 1 {
						return fmt.Errorf("version must be a positive integer, got %q", args[1])
					}
					v, err := a.Registry.RuleVersion(cmd.Context(), args[0], n)
					if err != nil {
						return err
					}
					printRuleVersions(cmd.OutOrStdout(), []core.RuleVersion{v})
					return nil
				}
				versions, err := a.Registry.RuleVersions(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				printRuleVersions(cmd.OutOrStdout(), versions)
				return nil
			})
		},
	}
}

func newSeriesExtendCommand(rt *runtime) *cobra.Command {
	var horizon string

	cmd := &cobra.Command{
		Use:   "extend <series-id>",
		Short: "Materialize occurrences up to a horizon",
		Long: `Materialize occurrences of the current rule up to --horizon, or up to the
configured horizon policy target when --horizon is omitted.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return rt.withApp(cmd, func(a *app.App) error {
				var (
					created int
					err     error
				)
				if horizon != "" {
					h, perr := core.ParseDate(horizon)
					if perr != nil {
						return fmt.Errorf("--horizon: %w", perr)
					}
					created, err = a.Registry.ExtendHorizon(cmd.Context(), args[0], h)
				} else {
					created, err = a.Sweeper.ExtendToTarget(cmd.Context(), args[0], a.Registry.Now())
				}
				if err != nil {
					return err
				}
				series, err := a.Registry.GetSeries(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Created %d occurrence(s), horizon now %s\n", created, series.Horizon)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&horizon, "horizon", "", "Target horizon (YYYY-MM-DD)")
	return cmd
}
