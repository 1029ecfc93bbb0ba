// Package config loads the engine's YAML configuration with viper,
// the way internal/config.go's NovaSqlConfig does for the teacher's
// server.
package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// Config holds every tunable spec.md's external interface table
// names, plus the ambient additions (compress_pages, data_dir) this
// repository carries beyond the core subsystems.
type Config struct {
	PoolSize          int    `mapstructure:"pool_size" yaml:"pool_size"`
	ReplacerK         int    `mapstructure:"replacer_k" yaml:"replacer_k"`
	DiskWorkerCount   int    `mapstructure:"disk_worker_count" yaml:"disk_worker_count"`
	PageSizeBytes     int    `mapstructure:"page_size_bytes" yaml:"page_size_bytes"`
	HeaderMaxDepth    uint32 `mapstructure:"header_max_depth" yaml:"header_max_depth"`
	DirectoryMaxDepth uint32 `mapstructure:"directory_max_depth" yaml:"directory_max_depth"`
	BucketMaxSize     int    `mapstructure:"bucket_max_size" yaml:"bucket_max_size"`

	CompressPages bool   `mapstructure:"compress_pages" yaml:"compress_pages"`
	DataDir       string `mapstructure:"data_dir" yaml:"data_dir"`
}

// Default returns the configuration the demo CLI and tests fall back
// to when no file is given.
func Default() *Config {
	return &Config{
		PoolSize:          64,
		ReplacerK:         4,
		DiskWorkerCount:   4,
		PageSizeBytes:     4096,
		HeaderMaxDepth:    9,
		DirectoryMaxDepth: 9,
		BucketMaxSize:     64,
		CompressPages:     false,
		DataDir:           "./data",
	}
}

// Load reads a YAML config file at path, falling back to Default()
// for any field the file omits.
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the invariants spec.md's configuration table implies
// (positive sizes, depths that fit in the directory's bit width).
func (c *Config) Validate() error {
	switch {
	case c.PoolSize <= 0:
		return fmt.Errorf("config: pool_size must be positive, got %d", c.PoolSize)
	case c.ReplacerK <= 0:
		return fmt.Errorf("config: replacer_k must be positive, got %d", c.ReplacerK)
	case c.DiskWorkerCount <= 0:
		return fmt.Errorf("config: disk_worker_count must be positive, got %d", c.DiskWorkerCount)
	case c.PageSizeBytes <= 0:
		return fmt.Errorf("config: page_size_bytes must be positive, got %d", c.PageSizeBytes)
	case c.BucketMaxSize <= 0:
		return fmt.Errorf("config: bucket_max_size must be positive, got %d", c.BucketMaxSize)
	case c.HeaderMaxDepth > 31:
		return fmt.Errorf("config: header_max_depth %d too large for a 32-bit hash", c.HeaderMaxDepth)
	case c.DirectoryMaxDepth > 31:
		return fmt.Errorf("config: directory_max_depth %d too large for a 32-bit hash", c.DirectoryMaxDepth)
	}
	return nil
}
