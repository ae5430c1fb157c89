package cmd

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/wharfside/imagecat/pkg/model"
)

var cfgFile string
var config *model.Config = &model.Config{}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "imagecat",
	Short: "Tenant image catalog",
	Long:  `Tracks container images and their layer ancestry per tenant, and answers whether a layer is safe to reclaim.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		ctx := context.WithValue(cmd.Context(), "config", config)
		cmd.SetContext(ctx)
	},
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("Run a subcommand: serve, migrate, images, config")
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func initConfig() {
	viper.AutomaticEnv() // read in environment variables that match

	viper.SetDefault("database.driver", "sqlite")
	viper.SetDefault("database.dsn", "imagecat.db")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("log.level", "info")

	cfgFilePath := cfgFile
	if cfgFilePath == "" {
		cfgFilePath = "./.imagecat.yaml"
	}
	viper.SetConfigType("yaml")

	// Open config file for ENV variables substitution
	file, err := os.Open(cfgFilePath)
	if err == nil {
		defer file.Close()
		content, err := io.ReadAll(file)
		if err != nil {
			log.Fatal("Error reading config file ", err)
		}
		expandedContent := os.ExpandEnv(string(content))
		if err := viper.ReadConfig(strings.NewReader(expandedContent)); err != nil {
			log.Fatal("Error loading config ", err)
		}
	} else if cfgFile != "" {
		// An explicitly named config file must exist.
		log.Fatal("No config file found ", err)
	}

	err = viper.Unmarshal(&config)
	if err != nil {
		log.Fatal("Unable to decode config into struct ", err)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./.imagecat.yaml)")
}
