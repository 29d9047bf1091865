package identity_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/p2panda-go/bamboo-node/internal/identity"
)

func TestLoadOrCreateGeneratesAndPersistsAKey(t *testing.T) {
	dir := t.TempDir()

	id, err := identity.LoadOrCreate(dir)
	require.NoError(t, err)
	require.NotEmpty(t, id.Public)

	info, err := os.Stat(filepath.Join(dir, "private-key"))
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestLoadOrCreateReloadsTheSameKey(t *testing.T) {
	dir := t.TempDir()

	first, err := identity.LoadOrCreate(dir)
	require.NoError(t, err)

	second, err := identity.LoadOrCreate(dir)
	require.NoError(t, err)

	require.Equal(t, first.Public, second.Public)
	require.Equal(t, first.Private, second.Private)
}
