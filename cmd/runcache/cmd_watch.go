package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/qubitlab/runcache/internal/cache"
	"github.com/qubitlab/runcache/internal/logging"
)

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch [run-id]",
		Short: "Follow a live run, loading new rows incrementally",
		Long: `Poll the run database at the configured interval, merging newly
written rows into the cache and printing per-tree progress. Stops when
the run completes or on interrupt.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			interval, _ := cmd.Flags().GetDuration("interval")

			runID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid run id %q", args[0])
			}

			store, cfg, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			if interval <= 0 {
				interval = cfg.Watch.Interval
			}

			log := logging.NewLogger(cfg.Logging.Level, os.Stderr)
			tracer := logging.NewLoadTracer(filepath.Dir(cfg.Database), cfg.Logging.Level)
			defer tracer.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			desc, err := store.Describe(ctx, runID)
			if err != nil {
				return err
			}
			c, err := cache.New(store, runID, desc, log)
			if err != nil {
				return err
			}

			ticker := time.NewTicker(interval)
			defer ticker.Stop()

			for {
				progress, err := c.Progress(ctx)
				if err != nil {
					return err
				}
				tracer.Log(map[string]any{
					"event":    "load",
					"run_id":   runID,
					"progress": progress,
				})
				printProgress(jsonOut, runID, progress, c.Completed())

				if c.Completed() {
					return nil
				}
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
				}
			}
		},
	}
	cmd.Flags().Duration("interval", 0, "Polling interval (overrides config)")
	return cmd
}

func printProgress(jsonOut bool, runID int64, progress map[string]int, completed bool) {
	if jsonOut {
		json.NewEncoder(os.Stdout).Encode(map[string]any{
			"run_id":    runID,
			"progress":  progress,
			"completed": completed,
		})
		return
	}
	trees := make([]string, 0, len(progress))
	for tree := range progress {
		trees = append(trees, tree)
	}
	sort.Strings(trees)

	fmt.Printf("run %d:", runID)
	for _, tree := range trees {
		fmt.Printf(" %s=%d", tree, progress[tree])
	}
	if completed {
		fmt.Print(" (completed)")
	}
	fmt.Println()
}
