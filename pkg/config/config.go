// Package config loads the stockd configuration from an optional YAML file
// with environment variable overrides (prefix STOCKD_).
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DatastoreConfig selects the backing database.
type DatastoreConfig struct {
	// Type is one of "sqlite", "postgres", "mysql".
	Type string `mapstructure:"type"`
	// DSN is the driver connection string. For sqlite this is a file path
	// or ":memory:".
	DSN string `mapstructure:"dsn"`
}

// BlobConfig controls the local disk blob store.
type BlobConfig struct {
	// RootDir is the directory files are stored under.
	RootDir string `mapstructure:"root_dir"`
	// MaxImageWidth and MaxImageHeight cap stored image dimensions.
	// Larger images are downscaled preserving aspect ratio. Zero disables
	// the cap.
	MaxImageWidth  int `mapstructure:"max_image_width"`
	MaxImageHeight int `mapstructure:"max_image_height"`
}

// SnapshotConfig controls the snapshot worker pool.
type SnapshotConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Concurrency   int           `mapstructure:"concurrency"`
	MaxRetries    int           `mapstructure:"max_retries"`
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	ClaimTimeout  time.Duration `mapstructure:"claim_timeout"`
	RetentionDays int           `mapstructure:"retention_days"`
}

// Config is the root stockd configuration.
type Config struct {
	Datastore DatastoreConfig `mapstructure:"datastore"`
	Blob      BlobConfig      `mapstructure:"blob"`
	Snapshots SnapshotConfig  `mapstructure:"snapshots"`
}

// Default returns the configuration used when no file and no env overrides
// are present.
func Default() *Config {
	return &Config{
		Datastore: DatastoreConfig{Type: "sqlite", DSN: "stockd.db"},
		Blob:      BlobConfig{RootDir: "blobs", MaxImageWidth: 1920, MaxImageHeight: 1920},
		Snapshots: SnapshotConfig{
			Enabled:       true,
			Concurrency:   3,
			MaxRetries:    3,
			PollInterval:  5 * time.Second,
			ClaimTimeout:  10 * time.Minute,
			RetentionDays: 7,
		},
	}
}

// Load reads the configuration. path may be empty, in which case only
// defaults and environment variables apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	def := Default()

	v.SetDefault("datastore.type", def.Datastore.Type)
	v.SetDefault("datastore.dsn", def.Datastore.DSN)
	v.SetDefault("blob.root_dir", def.Blob.RootDir)
	v.SetDefault("blob.max_image_width", def.Blob.MaxImageWidth)
	v.SetDefault("blob.max_image_height", def.Blob.MaxImageHeight)
	v.SetDefault("snapshots.enabled", def.Snapshots.Enabled)
	v.SetDefault("snapshots.concurrency", def.Snapshots.Concurrency)
	v.SetDefault("snapshots.max_retries", def.Snapshots.MaxRetries)
	v.SetDefault("snapshots.poll_interval", def.Snapshots.PollInterval)
	v.SetDefault("snapshots.claim_timeout", def.Snapshots.ClaimTimeout)
	v.SetDefault("snapshots.retention_days", def.Snapshots.RetentionDays)

	v.SetEnvPrefix("STOCKD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}
