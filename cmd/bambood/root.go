package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "bambood",
	Short: "bambood runs a Bamboo log storage and replication node",
	Long: `bambood stores, validates, and materializes append-only Bamboo logs
of signed entries, replicates them with peers, and exposes the result
through a GraphQL API whose schema is derived from the application
schemas installed on the node.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config.yaml (optional; defaults and env vars apply regardless)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
