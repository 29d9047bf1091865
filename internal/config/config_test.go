package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 2020, cfg.HTTPPort)
	require.Equal(t, 4, cfg.WorkerPoolSize)
	require.Equal(t, ".bamboo-node/node.db", cfg.DatabaseURL)
	require.Equal(t, ".bamboo-node/blobs", cfg.BlobDir)
}

func TestLoadReadsConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("http_port: 9090\ndata_dir: /var/bamboo\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 9090, cfg.HTTPPort)
	require.Equal(t, "/var/bamboo/node.db", cfg.DatabaseURL)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("http_port: 9090\n"), 0o644))

	t.Setenv("BAMBOOD_HTTP_PORT", "4040")
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 4040, cfg.HTTPPort)
}

func TestLoadMissingFileIsNotAnError(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	require.Equal(t, 2020, cfg.HTTPPort)
}
