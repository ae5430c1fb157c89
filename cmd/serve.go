package cmd

import (
	"fmt"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/wharfside/imagecat/internal/catalog"
	"github.com/wharfside/imagecat/internal/controllers"
	"github.com/wharfside/imagecat/internal/logging"
	"github.com/wharfside/imagecat/internal/store"
	"github.com/wharfside/imagecat/pkg/model"
)

var servePort int

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Starts the catalog API server.",
	Long: `Initializes the catalog buckets, applies any pending schema migrations,
and then serves the operator API. Migrations always complete before the first
request is accepted.`,
	Run: func(cmd *cobra.Command, args []string) {
		currentConfig := cmd.Context().Value("config").(*model.Config)
		logger := logging.NewLogger(currentConfig.Log.Level, "component", "serve")

		st, err := store.Open(&currentConfig.Database, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to open store")
		}
		// Bucket init and migrations run to completion before the router
		// starts accepting requests.
		cat, err := catalog.New(cmd.Context(), st, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to initialize catalog")
		}

		router := chi.NewMux()
		apiConfig := huma.DefaultConfig("Image Catalog API", "1.0.0")
		apiConfig.OpenAPIPath = "/openapi"
		api := humachi.New(router, apiConfig)
		api.UseMiddleware(controllers.CatalogMiddleware(cat))

		controllers.NewImageController(&api, currentConfig).AddRoutes()
		controllers.NewLinkController(&api, currentConfig).AddRoutes()
		router.Handle("/metrics", promhttp.Handler())

		port := servePort
		if port == 0 {
			port = currentConfig.Server.Port
		}
		serverAddr := fmt.Sprintf(":%d", port)
		logger.Info().Str("address", serverAddr).Msg("Starting HTTP server")
		if err := http.ListenAndServe(serverAddr, router); err != nil {
			logger.Fatal().Err(err).Msg("Failed to start HTTP server")
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Port for the HTTP server (overrides config)")
}
