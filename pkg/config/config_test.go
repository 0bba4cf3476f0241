package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Datastore.Type)
	assert.Equal(t, "stockd.db", cfg.Datastore.DSN)
	assert.Equal(t, 1920, cfg.Blob.MaxImageWidth)
	assert.True(t, cfg.Snapshots.Enabled)
	assert.Equal(t, 3, cfg.Snapshots.Concurrency)
	assert.Equal(t, 5*time.Second, cfg.Snapshots.PollInterval)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stockd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
datastore:
  type: postgres
  dsn: host=localhost user=stockd dbname=stockd
blob:
  root_dir: /var/lib/stockd/blobs
snapshots:
  concurrency: 8
  poll_interval: 250ms
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.Datastore.Type)
	assert.Equal(t, "/var/lib/stockd/blobs", cfg.Blob.RootDir)
	assert.Equal(t, 8, cfg.Snapshots.Concurrency)
	assert.Equal(t, 250*time.Millisecond, cfg.Snapshots.PollInterval)
	// Untouched keys keep their defaults.
	assert.Equal(t, 1920, cfg.Blob.MaxImageHeight)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("STOCKD_DATASTORE_TYPE", "mysql")
	t.Setenv("STOCKD_SNAPSHOTS_MAX_RETRIES", "9")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "mysql", cfg.Datastore.Type)
	assert.Equal(t, 9, cfg.Snapshots.MaxRetries)
}

func TestLoadMissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
