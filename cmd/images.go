package cmd

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/wharfside/imagecat/internal/catalog"
	"github.com/wharfside/imagecat/internal/logging"
	"github.com/wharfside/imagecat/internal/store"
	"github.com/wharfside/imagecat/internal/utils"
	"github.com/wharfside/imagecat/pkg/model"
)

var imagesOwner string
var imagesIndex string

// imagesCmd represents the images command
var imagesCmd = &cobra.Command{
	Use:   "images",
	Short: "Lists image records from the catalog.",
	Run: func(cmd *cobra.Command, args []string) {
		currentConfig := cmd.Context().Value("config").(*model.Config)
		logger := logging.NewLogger(currentConfig.Log.Level, "component", "images")

		st, err := store.Open(&currentConfig.Database, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to open store")
		}
		cat, err := catalog.New(cmd.Context(), st, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to initialize catalog")
		}

		eq := map[string]any{}
		if imagesOwner != "" {
			eq["owner_uuid"] = imagesOwner
		}
		if imagesIndex != "" {
			eq["index_name"] = imagesIndex
		}
		imgs, err := cat.ListImages(cmd.Context(), store.Filter{Eq: eq})
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to list images")
		}

		fmt.Printf("%-22s %-12s %-14s %-10s %-8s %s\n", "DOCKER ID", "INDEX", "CREATED", "SIZE", "HEADS", "OWNER")
		for _, img := range imgs {
			fmt.Printf("%-22s %-12s %-14s %-10s %-8d %s\n",
				utils.ShortDigest(img.DockerID()),
				img.IndexName(),
				humanize.Time(time.UnixMilli(img.Created())),
				humanize.Bytes(uint64(img.Size())),
				img.Refcount(),
				img.OwnerUUID(),
			)
		}
	},
}

func init() {
	rootCmd.AddCommand(imagesCmd)
	imagesCmd.Flags().StringVar(&imagesOwner, "owner", "", "Restrict to one owner UUID")
	imagesCmd.Flags().StringVar(&imagesIndex, "index", "", "Restrict to one registry index")
}
