/*
main.go - Application entry point

PURPOSE:
  The budget-engine binary. Runs the HTTP server and a few operator
  commands against the same configuration and database.

COMMANDS:
  serve     Start the HTTP API (and the variance scheduler if enabled)
  migrate   Open the database, apply the schema, exit
  refresh   Re-classify one budget's variances and print the result
  check     Run the spend gate for a proposed amount, print JSON

CONFIGURATION:
  --config   TOML file (default budget.toml, optional)
  BUDGET_*   environment overrides (see config/config.go)
  flags      --db, --driver, --log-level on every command; --port on serve

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the scheduler (waits for a running pass)
  2. Stop accepting new connections, drain active requests
  3. Close the database

EXAMPLES:
  budget-engine serve --db ./data/budget.db --port 3000
  budget-engine serve --driver postgres --db "postgres://budget@db/budget?sslmode=disable"
  budget-engine refresh --tenant acme --budget 5c1f...
  budget-engine check --tenant acme --budget 5c1f... --line 9ab2... --amount 1250.00

SEE ALSO:
  - api/server.go: Router configuration
  - config/config.go: configuration layers
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/warp/budget-engine/budget"
	"github.com/warp/budget-engine/config"
	"github.com/warp/budget-engine/logging"
	"github.com/warp/budget-engine/notify"
	"github.com/warp/budget-engine/store/sqlite"
)

var (
	flagConfig   string
	flagDB       string
	flagDriver   string
	flagLogLevel string
)

var rootCmd = &cobra.Command{
	Use:           "budget-engine",
	Short:         "Budget enforcement and variance engine",
	Long:          "Track spend against budgets, classify variances and gate postings that would overrun.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", "budget.toml", "Path to TOML config file")
	rootCmd.PersistentFlags().StringVar(&flagDB, "db", "", "Database DSN (file path for sqlite, URL for postgres)")
	rootCmd.PersistentFlags().StringVar(&flagDriver, "driver", "", "Database driver: sqlite3, sqlite or postgres")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Log level: debug, info, warn, error")

	rootCmd.AddCommand(serveCmd, migrateCmd, refreshCmd, checkCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// =============================================================================
// SHARED SETUP
// =============================================================================

// loadConfig reads the config file and applies the persistent flags.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return cfg, err
	}
	flags := cmd.Flags()
	if flags.Changed("db") {
		cfg.Database.DSN = flagDB
	}
	if flags.Changed("driver") {
		cfg.Database.Driver = flagDriver
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = flagLogLevel
	}
	return cfg, cfg.Validate()
}

func newLogger(cfg config.Config) zerolog.Logger {
	return logging.New(logging.Options{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Writer: os.Stderr,
	})
}

func openDB(cfg config.Config, log zerolog.Logger) (*sqlite.DB, error) {
	db, err := sqlite.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	log.Info().
		Str("driver", db.Driver()).
		Msg("database ready")
	return db, nil
}

// serviceOptions builds the per-service options shared by the API,
// the scheduler and the CLI commands.
func serviceOptions(cfg config.Config, log zerolog.Logger) ([]budget.Option, error) {
	th, err := cfg.Thresholds()
	if err != nil {
		return nil, err
	}
	return []budget.Option{
		budget.WithThresholds(th),
		budget.WithConcurrency(cfg.Variance.Concurrency),
		budget.WithNotifier(notify.FromConfig(cfg.Notify, log)),
		budget.WithLogger(log),
	}, nil
}
