package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"ibstudy-server/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "ibstudy",
	Short: "IB study server and tools",
	Long: `ibstudy runs the IB exam-preparation server and the tools around it:
schema migration, catalogue seeding, question generation from the terminal
and the offline flashcard review queue.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.LoadConfig()
		if err != nil {
			return fmt.Errorf("error loading configuration: %w", err)
		}
		return nil
	},
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
