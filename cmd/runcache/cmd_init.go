package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the run database",
		Long: `Create the run database file and initialize its schema.

Safe to run against an existing database: the schema is created only if
missing and the database is integrity checked.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")

			store, cfg, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			if jsonOut {
				json.NewEncoder(os.Stdout).Encode(map[string]any{
					"database": cfg.Database,
					"status":   "ready",
				})
				return nil
			}
			fmt.Printf("Run database ready at %s\n", cfg.Database)
			return nil
		},
	}
}
