package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/qubitlab/runcache/internal/archive"
)

func newArchiveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "archive [run-id...]",
		Short: "Snapshot runs to a portable archive file",
		Long: `Write the given runs (or all runs, if none are given) to a
compressed, checksummed archive file. Optionally prune old archives
afterwards with --keep and --keep-for.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			outDir, _ := cmd.Flags().GetString("out")
			keep, _ := cmd.Flags().GetInt("keep")
			keepFor, _ := cmd.Flags().GetString("keep-for")

			runIDs := make([]int64, 0, len(args))
			for _, arg := range args {
				id, err := strconv.ParseInt(arg, 10, 64)
				if err != nil {
					return fmt.Errorf("invalid run id %q", arg)
				}
				runIDs = append(runIDs, id)
			}

			store, _, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			if outDir == "" {
				outDir, err = archive.DefaultDir()
				if err != nil {
					return err
				}
			}

			a, err := archive.Snapshot(cmd.Context(), store, runIDs...)
			if err != nil {
				return err
			}
			path := filepath.Join(outDir, archive.FileName(time.Now()))
			if err := archive.Write(path, a); err != nil {
				return err
			}

			deleted, err := pruneArchives(outDir, keep, keepFor)
			if err != nil {
				return err
			}

			if jsonOut {
				return json.NewEncoder(os.Stdout).Encode(map[string]any{
					"path":   path,
					"runs":   len(a.Runs),
					"pruned": len(deleted),
				})
			}
			fmt.Printf("Archived %d run(s) to %s\n", len(a.Runs), path)
			if len(deleted) > 0 {
				fmt.Printf("Pruned %d old archive(s)\n", len(deleted))
			}
			return nil
		},
	}
	cmd.Flags().String("out", "", "Archive directory (default ~/.runcache/archives)")
	cmd.Flags().Int("keep", 0, "After archiving, keep only the N newest archives")
	cmd.Flags().String("keep-for", "", "After archiving, keep archives newer than this age (e.g. 30d, 2w)")
	return cmd
}

// pruneArchives applies the retention flags. Zero values mean no pruning;
// when both are set an archive survives if either rule keeps it.
func pruneArchives(dir string, keep int, keepFor string) ([]string, error) {
	var policies []archive.RetentionPolicy
	if keep > 0 {
		policies = append(policies, &archive.CountPolicy{MaxCount: keep})
	}
	if keepFor != "" {
		age, err := archive.ParseAge(keepFor)
		if err != nil {
			return nil, fmt.Errorf("invalid --keep-for: %w", err)
		}
		policies = append(policies, &archive.AgePolicy{MaxAge: age})
	}
	if len(policies) == 0 {
		return nil, nil
	}
	return archive.ApplyRetention(dir, &archive.CompositePolicy{Policies: policies})
}

func newRestoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restore [archive-file]",
		Short: "Restore archived runs into the run database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")

			if err := archive.Verify(args[0]); err != nil {
				return fmt.Errorf("archive failed verification: %w", err)
			}
			a, err := archive.Read(args[0])
			if err != nil {
				return err
			}

			store, _, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			ids, err := archive.Restore(cmd.Context(), store, a)
			if err != nil {
				return err
			}

			if jsonOut {
				return json.NewEncoder(os.Stdout).Encode(map[string]any{
					"restored": len(ids),
					"run_ids":  ids,
				})
			}
			fmt.Printf("Restored %d run(s):", len(ids))
			for _, id := range ids {
				fmt.Printf(" %d", id)
			}
			fmt.Println()
			return nil
		},
	}
}
