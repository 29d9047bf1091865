// Package config loads the node's startup settings (spec.md §6) from
// environment variables, an optional config.yaml, and built-in defaults,
// in that order of precedence — the same viper layering the teacher uses
// for its own settings.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix env vars are bound under, e.g. BAMBOOD_HTTP_PORT.
const EnvPrefix = "BAMBOOD"

// Config holds every setting spec.md §6 names for the node process.
type Config struct {
	DataDir                string   `mapstructure:"data_dir"`
	DatabaseURL            string   `mapstructure:"database_url"`
	DatabaseMaxConnections int      `mapstructure:"database_max_connections"`
	HTTPPort               int      `mapstructure:"http_port"`
	WorkerPoolSize         int      `mapstructure:"worker_pool_size"`
	SupportedSchemaIDs     []string `mapstructure:"supported_schema_ids"`
	BlobDir                string   `mapstructure:"blob_dir"`

	Network struct {
		ListenAddr     string   `mapstructure:"listen_addr"`
		BootstrapPeers []string `mapstructure:"bootstrap_peers"`
	} `mapstructure:"network"`
}

// Load builds a Config from defaults, an optional config file at path (if
// non-empty and present), and BAMBOOD_*-prefixed environment variables —
// each source overriding the one before it.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("config: reading %s: %w", path, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshaling: %w", err)
	}
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = cfg.DataDir + "/node.db"
	}
	if cfg.BlobDir == "" {
		cfg.BlobDir = cfg.DataDir + "/blobs"
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", ".bamboo-node")
	v.SetDefault("database_max_connections", 8)
	v.SetDefault("http_port", 2020)
	v.SetDefault("worker_pool_size", 4)
	v.SetDefault("supported_schema_ids", []string{})
	v.SetDefault("network.listen_addr", "/ip4/0.0.0.0/tcp/2022")
	v.SetDefault("network.bootstrap_peers", []string{})
}
