package cmd

import (
	"context"
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"ibstudy-server/db"
	"ibstudy-server/ingestion"
)

var seedFile string

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load the subject catalogue, seed questions and decks from YAML",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := seedFile
		if path == "" {
			path = cfg.CataloguePath
		}
		pool, err := db.InitDB(cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("unable to connect to database: %w", err)
		}
		defer pool.Close()

		if err := db.CreateSchema(pool); err != nil {
			return fmt.Errorf("error creating database schema: %w", err)
		}
		if err := ingestion.ProcessCatalogue(context.Background(), pool, path); err != nil {
			db.LogAdminEvent(pool, "cli", "ingestion_failed", path, fmt.Sprintf("Error: %v", err))
			return err
		}
		db.LogAdminEvent(pool, "cli", "ingestion_success", path, "Catalogue loaded from the command line.")
		log.Printf("Catalogue %s loaded.", path)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(seedCmd)
	seedCmd.Flags().StringVarP(&seedFile, "file", "f", "", "catalogue YAML (defaults to CATALOGUE_PATH)")
}
