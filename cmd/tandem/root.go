package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tandem-dev/tandem/internal/config"
	"github.com/tandem-dev/tandem/internal/state"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "tandem",
	Short: "Parallel task orchestration with agent-to-agent delegation",
	Long: `Tandem schedules a dependency graph of tasks for parallel execution
and delegates individual tasks to external agents over the A2A protocol.

Core capabilities:
- Builds a DAG from task dependencies and rejects cycles up front
- Runs independent tasks concurrently under a worker ceiling
- Skips descendants of failed tasks instead of running them on stale inputs
- Detects concurrent writes to the same output target and applies a
  conflict policy
- Delegates tasks to registered agents, gated by per-user consents, with
  every protocol step recorded in an append-only audit log`,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (default: XDG config path)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(agentsCmd)
	rootCmd.AddCommand(consentCmd)
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig loads configuration from the --config path or the default
// search locations.
func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.LoadFromPath(configPath)
	}
	return config.Load()
}

// openStore opens the SQLite store and applies pending migrations.
func openStore(cfg *config.Config) (*state.DB, error) {
	path := cfg.DB.Path
	if path == "" {
		path = state.DefaultDBPath()
	}
	db, err := state.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating database: %w", err)
	}
	return db, nil
}
