package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
)

func newInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info [run-id]",
		Short: "Show details of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")

			runID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid run id %q", args[0])
			}

			store, _, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			info, err := store.GetRun(cmd.Context(), runID)
			if err != nil {
				return err
			}
			desc, err := store.Describe(cmd.Context(), runID)
			if err != nil {
				return err
			}

			if jsonOut {
				return json.NewEncoder(os.Stdout).Encode(map[string]any{
					"id":          info.ID,
					"name":        info.Name,
					"rows":        info.Rows,
					"completed":   info.Completed,
					"description": desc,
				})
			}

			status := "running"
			if info.Completed {
				status = "completed"
			}
			fmt.Printf("Run: %d\n", info.ID)
			fmt.Printf("Name: %s\n", info.Name)
			fmt.Printf("Rows: %d\n", info.Rows)
			fmt.Printf("Status: %s\n", status)
			fmt.Println()

			fmt.Println("Trees:")
			for _, param := range desc.TopLevel() {
				fmt.Printf("  %s", param)
				if axes := desc.Interdeps.Dependencies[param]; len(axes) > 0 {
					fmt.Printf(" (vs %v)", axes)
				}
				if shape := desc.Shape(param); shape != nil {
					fmt.Printf(" shape %v", shape)
				}
				fmt.Println()
			}

			fmt.Println()
			fmt.Println("Parameters:")
			for _, p := range desc.Params {
				fmt.Printf("  %s: %s", p.Name, string(p.Type))
				if p.Unit != "" {
					fmt.Printf(" [%s]", p.Unit)
				}
				if p.Label != "" {
					fmt.Printf(" %q", p.Label)
				}
				fmt.Println()
			}
			return nil
		},
	}
}
