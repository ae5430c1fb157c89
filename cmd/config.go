package cmd

import (
	"fmt"
	"log"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Prints the effective configuration as YAML.",
	Run: func(cmd *cobra.Command, args []string) {
		out, err := yaml.Marshal(config)
		if err != nil {
			log.Fatal("Unable to render config ", err)
		}
		fmt.Print(string(out))
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
}
