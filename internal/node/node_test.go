package node_test

import (
	"context"
	"crypto/ed25519"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/p2panda-go/bamboo-node/internal/config"
	"github.com/p2panda-go/bamboo-node/internal/identity"
	"github.com/p2panda-go/bamboo-node/internal/node"
	"github.com/p2panda-go/bamboo-node/internal/transport/loopback"
	"github.com/p2panda-go/bamboo-node/internal/types"
)

func TestNodeServesGraphQLAndShutsDownCleanly(t *testing.T) {
	dir := t.TempDir()
	cfg := &config.Config{
		DataDir:        dir,
		DatabaseURL:    filepath.Join(dir, "node.db"),
		BlobDir:        filepath.Join(dir, "blobs"),
		HTTPPort:       0,
		WorkerPoolSize: 2,
	}

	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	var pk types.PublicKey
	copy(pk[:], pub)
	id := &identity.Identity{Private: priv, Public: pk}

	network := loopback.NewNetwork()
	tr := network.Join("test-node")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	n, err := node.New(ctx, cfg, id, tr)
	require.NoError(t, err)

	startErr := make(chan error, 1)
	go func() { startErr <- n.Start(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-startErr:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("node.Start did not return after context cancellation")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Second)
	defer shutdownCancel()
	require.NoError(t, n.Shutdown(shutdownCtx))
}



func TestNodeRejectsInvalidDatabasePath(t *testing.T) {
	cfg := &config.Config{
		DatabaseURL: string([]byte{0}),
		BlobDir:     t.TempDir(),
	}
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	var pk types.PublicKey
	copy(pk[:], pub)
	id := &identity.Identity{Private: priv, Public: pk}

	network := loopback.NewNetwork()
	tr := network.Join("bad-node")

	_, err = node.New(context.Background(), cfg, id, tr)
	require.Error(t, err)
}
