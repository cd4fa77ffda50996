package cmd

import (
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"ibstudy-server/db"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		pool, err := db.InitDB(cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("unable to connect to database: %w", err)
		}
		defer pool.Close()

		if err := db.CreateSchema(pool); err != nil {
			return fmt.Errorf("error creating database schema: %w", err)
		}
		log.Println("Schema is up to date.")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
