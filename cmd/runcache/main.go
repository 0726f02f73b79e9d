package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/qubitlab/runcache/internal/config"
	"github.com/qubitlab/runcache/internal/storage"
)

var (
	version = "0.1.0-dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "runcache",
		Short: "Incremental cache and export for measurement runs",
		Long: `runcache keeps an in-memory, shape-aware copy of measurement run data
in sync with an append-only SQLite store.

It loads newly written rows incrementally without re-reading data, follows
live runs until completion, and exports parameter trees as CSV or Arrow
files.`,
	}

	// Global flags
	rootCmd.PersistentFlags().Bool("json", false, "Output as JSON")
	rootCmd.PersistentFlags().String("db", "", "Path to the run database (overrides config)")

	// Add subcommands
	rootCmd.AddCommand(
		newVersionCmd(),
		newInitCmd(),
		newRunsCmd(),
		newInfoCmd(),
		newWatchCmd(),
		newExportCmd(),
		newSeedCmd(),
		newArchiveCmd(),
		newRestoreCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig loads the configuration and applies the --db flag override.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if db, _ := cmd.Flags().GetString("db"); db != "" {
		cfg.Database = db
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// openStore loads the configuration and opens the run database.
func openStore(cmd *cobra.Command) (*storage.SQLiteRunStore, *config.Config, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	store, err := storage.OpenSQLite(cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("opening run database: %w", err)
	}
	return store, cfg, nil
}
