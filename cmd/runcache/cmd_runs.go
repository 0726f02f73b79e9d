package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newRunsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "runs",
		Short: "List stored runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")

			store, _, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			infos, err := store.Runs(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to list runs: %w", err)
			}

			if jsonOut {
				type runJSON struct {
					ID        int64  `json:"id"`
					Name      string `json:"name"`
					Rows      int    `json:"rows"`
					Completed bool   `json:"completed"`
					StartedAt string `json:"started_at,omitempty"`
				}
				out := make([]runJSON, 0, len(infos))
				for _, info := range infos {
					r := runJSON{ID: info.ID, Name: info.Name, Rows: info.Rows, Completed: info.Completed}
					if !info.StartedAt.IsZero() {
						r.StartedAt = info.StartedAt.Format("2006-01-02 15:04:05")
					}
					out = append(out, r)
				}
				return json.NewEncoder(os.Stdout).Encode(out)
			}

			if len(infos) == 0 {
				fmt.Println("No runs stored.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tROWS\tSTATUS\tSTARTED")
			for _, info := range infos {
				status := "running"
				if info.Completed {
					status = "completed"
				}
				started := ""
				if !info.StartedAt.IsZero() {
					started = info.StartedAt.Format("2006-01-02 15:04:05")
				}
				fmt.Fprintf(w, "%d\t%s\t%d\t%s\t%s\n", info.ID, info.Name, info.Rows, status, started)
			}
			return w.Flush()
		},
	}
}
