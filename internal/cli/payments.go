package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"paytrack/internal/app"
	"paytrack/internal/core"
)

func newPaymentsCommand(rt *runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "payments",
		Aliases: []string{"payment", "pay"},
		Short:   "Work with individual payments and series occurrences",
	}
	cmd.AddCommand(newPaymentsAddCommand(rt))
	cmd.AddCommand(newPaymentsListCommand(rt))
	cmd.AddCommand(newPaymentsShowCommand(rt))
	cmd.AddCommand(newPaymentsEditCommand(rt))
	cmd.AddCommand(newPaymentsDeleteCommand(rt))
	cmd.AddCommand(newPaymentsCompleteCommand(rt))
	return cmd
}

func newPaymentsAddCommand(rt *runtime) *cobra.Command {
	var (
		date  string
		attrs attributeFlags
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Record a one-off payment",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			d, err := core.ParseDate(date)
			if err != nil {
				return fmt.Errorf("--date: %w", err)
			}
			attributes, err := attrs.attributes()
			if err != nil {
				return err
			}
			return rt.withApp(cmd, func(a *app.App) error {
				o, err := a.Payments.CreatePayment(cmd.Context(), d, attributes)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Created payment %s\n", o.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "Payment date (YYYY-MM-DD)")
	attrs.register(cmd)
	_ = cmd.MarkFlagRequired("date")
	attrs.require(cmd)
	return cmd
}

func newPaymentsListCommand(rt *runtime) *cobra.Command {
	var from, to string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List live payments in a date range (default: current month)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			now := time.Now()
			start := core.NewDate(now.Year(), int(now.Month()), 1)
			end := core.Date{Time: start.AddDate(0, 1, -1)}

			var err error
			if from != "" {
				if start, err = core.ParseDate(from); err != nil {
					return fmt.Errorf("--from: %w", err)
				}
			}
			if to != "" {
				if end, err = core.ParseDate(to); err != nil {
					return fmt.Errorf("--to: %w", err)
				}
			}

			return rt.withApp(cmd, func(a *app.App) error {
				occs, summary, err := a.Payments.ListPayments(cmd.Context(), start, end)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Payments %s .. %s\n\n", start, end)
				printOccurrences(out, occs)
				fmt.Fprintln(out)
				printSummary(out, summary)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "First date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&to, "to", "", "Last date (YYYY-MM-DD)")
	return cmd
}

func newPaymentsShowCommand(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "show <payment-id>",
		Short: "Show one payment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return rt.withApp(cmd, func(a *app.App) error {
				o, err := a.Payments.GetPayment(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				printOccurrences(cmd.OutOrStdout(), []core.Occurrence{o})
				return nil
			})
		},
	}
}

func newPaymentsEditCommand(rt *runtime) *cobra.Command {
	var (
		scope   string
		changes changeFlags
	)

	cmd := &cobra.Command{
		Use:   "edit <payment-id>",
		Short: "Edit one occurrence, or it and every later one in its series",
		Example: `  seriesctl payments edit 3f1c... --amount 150
  seriesctl payments edit 3f1c... --scope series --amount 150 --pattern weekly`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sc, err := core.ParseScope(scope)
			if err != nil {
				return err
			}
			c, err := changes.changes(cmd)
			if err != nil {
				return err
			}
			return rt.withApp(cmd, func(a *app.App) error {
				res, err := a.Mutator.ApplyEdit(cmd.Context(), args[0], sc, c)
				if err != nil {
					return err
				}
				printMutation(cmd.OutOrStdout(), res)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&scope, "scope", string(core.ScopeSingle), "single or series")
	changes.register(cmd)
	return cmd
}

func newPaymentsDeleteCommand(rt *runtime) *cobra.Command {
	var scope string

	cmd := &cobra.Command{
		Use:   "delete <payment-id>",
		Short: "Delete one occurrence, or end its series from that occurrence on",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sc, err := core.ParseScope(scope)
			if err != nil {
				return err
			}
			return rt.withApp(cmd, func(a *app.App) error {
				res, err := a.Mutator.ApplyDelete(cmd.Context(), args[0], sc)
				if err != nil {
					return err
				}
				printMutation(cmd.OutOrStdout(), res)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&scope, "scope", string(core.ScopeSingle), "single or series")
	return cmd
}

func newPaymentsCompleteCommand(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:     "complete <payment-id>",
		Aliases: []string{"paid"},
		Short:   "Mark a scheduled payment as paid",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return rt.withApp(cmd, func(a *app.App) error {
				o, err := a.Lifecycle.MarkPaid(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Payment %s is %s\n", o.ID, o.Status)
				return nil
			})
		},
	}
}

func newSweepCommand(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Extend every active series to the horizon policy target once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return rt.withApp(cmd, func(a *app.App) error {
				report, err := a.Sweeper.Sweep(cmd.Context(), a.Registry.Now())
				if err != nil {
					return err
				}
				printSweep(cmd.OutOrStdout(), report)
				return nil
			})
		},
	}
}
