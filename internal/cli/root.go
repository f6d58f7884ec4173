// Package cli implements seriesctl, an operator tool that runs series and
// payment operations directly against the paytrack database.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"paytrack/internal/app"
	"paytrack/internal/config"
	"paytrack/internal/log"
)

// runtime carries flags and lazily opened services shared by every command.
type runtime struct {
	dbPath   string
	noEvents bool
	verbose  bool

	cfg    *config.Config
	logger *log.Logger
}

// NewRootCommand builds the seriesctl command tree.
func NewRootCommand() *cobra.Command {
	rt := &runtime{}

	root := &cobra.Command{
		Use:   "seriesctl",
		Short: "Manage recurring payment series",
		Long: `seriesctl creates and edits recurring payment series and their occurrences.

It opens the same SQLite database as the paytrack server. Configuration is read
from the environment (and a .env file when present).`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: rt.load,
	}

	root.PersistentFlags().StringVar(&rt.dbPath, "db", "", "SQLite database path (overrides SQLITE_DB_PATH)")
	root.PersistentFlags().BoolVar(&rt.noEvents, "no-events", false, "Do not publish series events to AMQP")
	root.PersistentFlags().BoolVarP(&rt.verbose, "verbose", "v", false, "Enable verbose output")

	root.AddCommand(newSeriesCommand(rt))
	root.AddCommand(newPaymentsCommand(rt))
	root.AddCommand(newSweepCommand(rt))

	return root
}

// Execute runs seriesctl with the process arguments.
func Execute(ctx context.Context, stdout, stderr io.Writer) error {
	root := NewRootCommand()
	root.SetOut(stdout)
	root.SetErr(stderr)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(stderr, "Error:", err)
		return err
	}
	return nil
}

func (rt *runtime) load(cmd *cobra.Command, _ []string) error {
	// Load .env file for local development (ignore errors when absent)
	_ = godotenv.Load()

	cfg := config.Load()
	if rt.dbPath != "" {
		cfg.SQLiteDBPath = rt.dbPath
	}
	if rt.noEvents {
		cfg.AMQPURL = ""
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	level := slog.LevelWarn
	if rt.verbose {
		level = slog.LevelDebug
	}
	rt.logger = log.New(log.Config{
		Level:     level,
		Component: log.ComponentCLI,
		Format:    cfg.LogFormat,
		Output:    cmd.ErrOrStderr(),
	})
	log.SetDefault(rt.logger)

	rt.cfg = cfg
	return nil
}

// withApp opens the services for the duration of fn.
func (rt *runtime) withApp(cmd *cobra.Command, fn func(a *app.App) error) error {
	a, err := app.Open(cmd.Context(), rt.cfg, rt.logger)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}
