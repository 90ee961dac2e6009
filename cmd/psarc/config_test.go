package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	_, err := loadConfig(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err, "explicit missing path should fail")

	cfg := defaultConfig()
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 4, cfg.Batch.Workers)
	assert.True(t, cfg.Batch.SkipExisting)
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[log]
level = "debug"
format = "json"

[batch]
workers = 8
skip_existing = false

[pack]
block_size = 32768
seal = true

[read]
cache_size_mib = 256
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := loadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8, cfg.Batch.Workers)
	assert.False(t, cfg.Batch.SkipExisting)
	assert.Equal(t, uint32(32768), cfg.Pack.BlockSize)
	assert.True(t, cfg.Pack.Seal)
	assert.Equal(t, int64(256<<20), cfg.Read.CacheSize())
}

func TestLoadConfigRejectsBadTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("log = {"), 0644))

	_, err := loadConfig(path)
	assert.Error(t, err)
}

func TestCacheSizeDisable(t *testing.T) {
	assert.Equal(t, int64(-1), ReadConfig{CacheSizeMiB: -1}.CacheSize())
	assert.Equal(t, int64(0), ReadConfig{}.CacheSize())
}
