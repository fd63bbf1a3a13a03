package main

import (
	"database/sql"
	"fmt"
	"os"

	"github.com/metalagman/nl2sql/internal/db"
	"github.com/spf13/cobra"
)

func schemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:          "schema",
		Short:        "Print the schema description sent with every prompt",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			workDir, err := os.Getwd()
			if err != nil {
				return err
			}
			cfg, err := loadConfig(workDir)
			if err != nil {
				return err
			}

			var conn *sql.DB
			stop, err := startApp(cmd.Context(), cfg, &conn)
			if err != nil {
				return err
			}
			defer stop()

			schema, err := db.DescribeSchema(cmd.Context(), conn, cfg.Database.Driver, cfg.Database.Schema)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), schema)
			return nil
		},
	}
}
