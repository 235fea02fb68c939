package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

// rootCmd is the lidora entry point
var rootCmd = &cobra.Command{
	Use:   "lidora",
	Short: "Order engine for a chef marketplace",
	Long: `lidora keeps customer carts, charges placed orders through the
payment processor and announces them to downstream consumers.

Available subcommands:
  serve    - Run the HTTP API
  migrate  - Apply PostgreSQL migrations
  notifier - Print order notifications from RabbitMQ`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to the YAML config file")
	rootCmd.AddCommand(serveCmd, migrateCmd, notifierCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
