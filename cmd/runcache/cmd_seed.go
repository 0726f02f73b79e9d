package main

import (
	"encoding/json"
	"fmt"
	"math"
	"os"

	"github.com/spf13/cobra"

	"github.com/qubitlab/runcache/internal/descriptions"
	"github.com/qubitlab/runcache/internal/storage"
)

func newSeedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Write a synthetic measurement run for testing",
		Long: `Create a run with a 2-D voltage sweep and a 1-D current sweep,
append the rows and mark the run completed. Useful for trying out
watch and export against a known dataset.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			nx, _ := cmd.Flags().GetInt("nx")
			ny, _ := cmd.Flags().GetInt("ny")
			name, _ := cmd.Flags().GetString("name")
			open, _ := cmd.Flags().GetBool("open")

			if nx <= 0 || ny <= 0 {
				return fmt.Errorf("sweep dimensions must be positive, got %dx%d", nx, ny)
			}

			store, _, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			desc := seedDescription(nx, ny)
			runID, err := store.CreateRun(cmd.Context(), name, desc)
			if err != nil {
				return fmt.Errorf("creating run: %w", err)
			}
			rows := seedRows(nx, ny)
			if err := store.Append(cmd.Context(), runID, rows); err != nil {
				return fmt.Errorf("appending rows: %w", err)
			}
			if !open {
				if err := store.MarkCompleted(cmd.Context(), runID); err != nil {
					return fmt.Errorf("completing run: %w", err)
				}
			}

			if jsonOut {
				return json.NewEncoder(os.Stdout).Encode(map[string]any{
					"run_id":    runID,
					"name":      name,
					"rows":      len(rows),
					"completed": !open,
				})
			}
			fmt.Printf("Seeded run %d (%q) with %d rows\n", runID, name, len(rows))
			return nil
		},
	}
	cmd.Flags().Int("nx", 10, "Outer sweep length")
	cmd.Flags().Int("ny", 10, "Inner sweep length")
	cmd.Flags().String("name", "synthetic sweep", "Run name")
	cmd.Flags().Bool("open", false, "Leave the run uncompleted (for watch testing)")
	return cmd
}

// seedDescription builds the synthetic run's description: a shaped 2-D
// voltage map over (x, y) and a 1-D current trace over x.
func seedDescription(nx, ny int) *descriptions.RunDescriber {
	return &descriptions.RunDescriber{
		Params: []descriptions.ParamSpec{
			{Name: "x", Type: descriptions.Numeric, Label: "X position", Unit: "um"},
			{Name: "y", Type: descriptions.Numeric, Label: "Y position", Unit: "um"},
			{Name: "voltage", Type: descriptions.Numeric, Label: "Voltage", Unit: "V"},
			{Name: "current", Type: descriptions.Numeric, Label: "Current", Unit: "A"},
		},
		Interdeps: descriptions.InterDependencies{
			Dependencies: map[string][]string{
				"voltage": {"x", "y"},
				"current": {"x"},
			},
		},
		Shapes: map[string][]int{
			"voltage": {nx, ny},
			"current": {nx},
		},
	}
}

// seedRows generates the sweep rows. The voltage surface is a smooth
// function of (x, y) so exported data is easy to eyeball; current rows
// carry only the x axis and advance the current tree once per outer step.
func seedRows(nx, ny int) []storage.Row {
	rows := make([]storage.Row, 0, nx*ny+nx)
	for i := 0; i < nx; i++ {
		x := float64(i)
		rows = append(rows, storage.Row{
			"x":       x,
			"current": 1e-6 * math.Exp(-x/float64(nx)),
		})
		for j := 0; j < ny; j++ {
			y := float64(j)
			rows = append(rows, storage.Row{
				"x":       x,
				"y":       y,
				"voltage": math.Sin(x/2) * math.Cos(y/3),
			})
		}
	}
	return rows
}
