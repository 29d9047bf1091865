// Package identity manages the node's Ed25519 key pair file (spec.md §6
// "Key pair file"): a hex-encoded 32-byte private key at
// <data_dir>/private-key with 0600 permissions, generated on first start.
// Grounded on the teacher's internal/export/manifest.go, which writes a
// sensitive file then tightens its permissions with a follow-up os.Chmod.
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/p2panda-go/bamboo-node/internal/types"
)

const fileName = "private-key"

// Identity holds the node's signing key pair.
type Identity struct {
	Private ed25519.PrivateKey
	Public  types.PublicKey
}

// LoadOrCreate reads <dataDir>/private-key, generating and persisting a
// fresh key if it does not exist.
func LoadOrCreate(dataDir string) (*Identity, error) {
	path := filepath.Join(dataDir, fileName)

	data, err := os.ReadFile(path) // #nosec G304 - path is the node's own data directory
	if err == nil {
		return parse(data)
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("identity: reading %s: %w", path, err)
	}

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("identity: generating key pair: %w", err)
	}

	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("identity: creating data dir: %w", err)
	}
	encoded := []byte(hex.EncodeToString(priv.Seed()))
	if err := os.WriteFile(path, encoded, 0o600); err != nil {
		return nil, fmt.Errorf("identity: writing %s: %w", path, err)
	}
	// os.WriteFile's mode is subject to umask; tighten explicitly since this
	// file holds the node's only signing key.
	if err := os.Chmod(path, 0o600); err != nil {
		return nil, fmt.Errorf("identity: setting permissions on %s: %w", path, err)
	}

	id := &Identity{Private: priv}
	copy(id.Public[:], pub)
	return id, nil
}

func parse(data []byte) (*Identity, error) {
	seed, err := hex.DecodeString(string(trimNewline(data)))
	if err != nil {
		return nil, fmt.Errorf("identity: decoding key file: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("identity: key file has %d bytes, want %d", len(seed), ed25519.SeedSize)
	}
	priv := ed25519.NewKeyFromSeed(seed)
	id := &Identity{Private: priv}
	copy(id.Public[:], priv.Public().(ed25519.PublicKey))
	return id, nil
}

func trimNewline(b []byte) []byte {
	for len(b) > 0 && (b[len(b)-1] == '\n' || b[len(b)-1] == '\r') {
		b = b[:len(b)-1]
	}
	return b
}
