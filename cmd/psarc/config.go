package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
)

// Config is the optional TOML configuration for the CLI. Every field
// has a working default so no config file is required.
type Config struct {
	Log   LogConfig   `toml:"log"`
	Pack  PackConfig  `toml:"pack"`
	Batch BatchConfig `toml:"batch"`
	Read  ReadConfig  `toml:"read"`
}

// LogConfig controls log output.
type LogConfig struct {
	Level  string `toml:"level"`  // debug, info, warn, error, disabled
	Format string `toml:"format"` // auto, console, json
}

// PackConfig controls archive creation.
type PackConfig struct {
	BlockSize uint32 `toml:"block_size"`
	PlainTOC  bool   `toml:"plain_toc"`
	Seal      bool   `toml:"seal"`
}

// BatchConfig controls multi-archive extraction.
type BatchConfig struct {
	Workers      int  `toml:"workers"`
	SkipExisting bool `toml:"skip_existing"`
}

// ReadConfig controls archive reading.
type ReadConfig struct {
	CacheSizeMiB int64 `toml:"cache_size_mib"`
}

func defaultConfig() Config {
	return Config{
		Log:   LogConfig{Level: "info", Format: "auto"},
		Batch: BatchConfig{Workers: 4, SkipExisting: true},
	}
}

// loadConfig reads the config at path, or the default location when
// path is empty. A missing file at the default location is not an
// error; a missing explicit path is.
func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()

	explicit := path != ""
	if !explicit {
		path = defaultConfigPath()
		if path == "" {
			return cfg, nil
		}
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) && !explicit {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

func defaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "psarc", "config.toml")
}

// CacheSize converts the configured cache budget to bytes for the
// reader options, keeping zero as "use the default".
func (c ReadConfig) CacheSize() int64 {
	if c.CacheSizeMiB == 0 {
		return 0
	}
	if c.CacheSizeMiB < 0 {
		return -1
	}
	return c.CacheSizeMiB << 20
}
