package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/p2panda-go/bamboo-node/internal/config"
	"github.com/p2panda-go/bamboo-node/internal/identity"
	"github.com/p2panda-go/bamboo-node/internal/node"
	"github.com/p2panda-go/bamboo-node/internal/transport"
	"github.com/p2panda-go/bamboo-node/internal/transport/loopback"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the node (store, replication engine, GraphQL and blob HTTP servers)",
	Long: `Start loads the node's configuration and signing key, brings up the
store, task pool, materializer workers, replication engine, and the
GraphQL and blob HTTP servers, and runs until interrupted.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := log.New(os.Stdout, "[bambood] ", log.LstdFlags|log.Lmsgprefix)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	id, err := identity.LoadOrCreate(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("loading identity: %w", err)
	}

	// A libp2p-backed Transport is deliberately not wired here (swarm
	// bootstrapping, NAT traversal, and peer discovery are out of scope);
	// each process gets its own single-peer loopback network so the
	// replication engine has something to run against until a real
	// transport is dropped in.
	network := loopback.NewNetwork()
	tr := network.Join(transport.PeerID(hex.EncodeToString(id.Public[:])))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Printf("received signal %v, shutting down", sig)
		cancel()
	}()

	n, err := node.New(ctx, cfg, id, tr)
	if err != nil {
		return fmt.Errorf("assembling node: %w", err)
	}

	logger.Printf("starting bambood (data_dir=%s, http_port=%d, peer=%s)",
		cfg.DataDir, cfg.HTTPPort, id.Public)

	startErr := n.Start(ctx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := n.Shutdown(shutdownCtx); err != nil {
		logger.Printf("shutdown error: %v", err)
	}

	if startErr != nil {
		return fmt.Errorf("node stopped: %w", startErr)
	}
	logger.Printf("bambood stopped")
	return nil
}
