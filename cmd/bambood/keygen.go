package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/p2panda-go/bamboo-node/internal/config"
	"github.com/p2panda-go/bamboo-node/internal/identity"
)

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Print the node's public key, generating a key pair if one doesn't exist yet",
	Long: `keygen loads the node's key pair from its data directory (creating one
on first run, the same key serve would use) and prints the public key as
hex, without starting the node.`,
	RunE: runKeygen,
}

func init() {
	rootCmd.AddCommand(keygenCmd)
}

func runKeygen(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	id, err := identity.LoadOrCreate(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("loading identity: %w", err)
	}

	fmt.Println(id.Public.String())
	return nil
}
