package cmd

import (
	"github.com/spf13/cobra"

	"github.com/wharfside/imagecat/internal/catalog"
	"github.com/wharfside/imagecat/internal/logging"
	"github.com/wharfside/imagecat/internal/store"
	"github.com/wharfside/imagecat/pkg/model"
)

// migrateCmd represents the migrate command
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Initializes the catalog buckets and applies pending migrations, then exits.",
	Run: func(cmd *cobra.Command, args []string) {
		currentConfig := cmd.Context().Value("config").(*model.Config)
		logger := logging.NewLogger(currentConfig.Log.Level, "component", "migrate")

		st, err := store.Open(&currentConfig.Database, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to open store")
		}
		if _, err := catalog.New(cmd.Context(), st, logger); err != nil {
			logger.Fatal().Err(err).Msg("Migration failed; bucket state is indeterminate")
		}
		logger.Info().Msg("Buckets initialized and migrated")
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
