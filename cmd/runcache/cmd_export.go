package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/qubitlab/runcache/internal/cache"
	"github.com/qubitlab/runcache/internal/export"
	"github.com/qubitlab/runcache/internal/logging"
)

func newExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export [run-id]",
		Short: "Export a run's parameter trees to CSV or Arrow files",
		Long: `Load a run into the cache and write one file per parameter tree.
Columns are setpoint axes first, the dependent parameter last; complex
parameters are split into .real and .imag columns.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			format, _ := cmd.Flags().GetString("format")
			outDir, _ := cmd.Flags().GetString("out")

			runID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid run id %q", args[0])
			}

			store, cfg, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			if format == "" {
				format = cfg.Export.Format
			}
			if format != "csv" && format != "arrow" {
				return fmt.Errorf("unsupported export format %q (use csv or arrow)", format)
			}
			if outDir == "" {
				outDir = cfg.Export.Dir
			}
			if err := os.MkdirAll(outDir, 0755); err != nil {
				return fmt.Errorf("creating export directory: %w", err)
			}

			log := logging.NewLogger(cfg.Logging.Level, os.Stderr)
			desc, err := store.Describe(cmd.Context(), runID)
			if err != nil {
				return err
			}
			c, err := cache.New(store, runID, desc, log)
			if err != nil {
				return err
			}

			records, err := c.Records(cmd.Context())
			if err != nil {
				return err
			}
			if records == nil {
				return fmt.Errorf("run %d has no data to export", runID)
			}
			defer func() {
				for _, rec := range records {
					rec.Release()
				}
			}()

			var written []string
			for tree, rec := range records {
				path := filepath.Join(outDir, exportFileName(runID, tree, format))
				f, err := os.Create(path)
				if err != nil {
					return fmt.Errorf("creating %s: %w", path, err)
				}
				if format == "csv" {
					err = export.WriteCSV(f, rec)
				} else {
					err = export.WriteIPC(f, rec)
				}
				if cerr := f.Close(); err == nil {
					err = cerr
				}
				if err != nil {
					return fmt.Errorf("writing %s: %w", path, err)
				}
				written = append(written, path)
			}

			if jsonOut {
				return json.NewEncoder(os.Stdout).Encode(map[string]any{
					"run_id": runID,
					"format": format,
					"files":  written,
				})
			}
			for _, path := range written {
				fmt.Println(path)
			}
			return nil
		},
	}
	cmd.Flags().String("format", "", "Export format: csv or arrow (overrides config)")
	cmd.Flags().String("out", "", "Output directory (overrides config)")
	return cmd
}

// exportFileName builds the per-tree output file name for a run.
func exportFileName(runID int64, tree, format string) string {
	ext := "csv"
	if format == "arrow" {
		ext = "arrow"
	}
	return fmt.Sprintf("run_%d_%s.%s", runID, tree, ext)
}
