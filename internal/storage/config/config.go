package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	defaults "github.com/xtxerr/biostream/config"
)

// Config represents the complete storage configuration.
type Config struct {
	// DataDir is the root directory for containers and exports.
	DataDir string `yaml:"data_dir"`

	// Dataset configures the durable container write path.
	Dataset DatasetConfig `yaml:"dataset"`

	// Parquet configures the columnar snapshot.
	Parquet ParquetConfig `yaml:"parquet"`

	// Query configures the analytics engine.
	Query QueryConfig `yaml:"query"`
}

// DatasetConfig configures how container appends reach the disk.
type DatasetConfig struct {
	// SyncMode: "async", "sync", or "fsync".
	SyncMode string `yaml:"sync_mode"`

	// SyncInterval is the flush period in async mode.
	SyncInterval time.Duration `yaml:"sync_interval"`

	// BufferSize is the write buffer size in bytes.
	BufferSize int `yaml:"buffer_size"`
}

// ParquetConfig configures the columnar snapshot.
type ParquetConfig struct {
	// Enabled writes a parquet snapshot next to each CSV export.
	Enabled bool `yaml:"enabled"`

	// Compression algorithm: none, snappy, zstd, lz4, gzip.
	Compression string `yaml:"compression"`

	// RowGroupSize is the maximum number of rows per row group.
	RowGroupSize int64 `yaml:"row_group_size"`
}

// QueryConfig configures DuckDB.
type QueryConfig struct {
	// MemoryLimit caps DuckDB memory, e.g. "512MB". Empty keeps the default.
	MemoryLimit string `yaml:"memory_limit"`

	// Timeout bounds a single query.
	Timeout time.Duration `yaml:"timeout"`

	// MaxRows caps the rows returned by ad-hoc SQL.
	MaxRows int `yaml:"max_rows"`
}

// Load loads a storage configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return config, nil
}

// DefaultConfig returns a configuration with default values.
func DefaultConfig() *Config {
	return &Config{
		DataDir: defaults.DefaultDataDir,
		Dataset: DatasetConfig{
			SyncMode:     defaults.DefaultSyncMode,
			SyncInterval: defaults.DefaultSyncInterval,
			BufferSize:   defaults.DefaultBufferSize,
		},
		Parquet: ParquetConfig{
			Enabled:      true,
			Compression:  "zstd",
			RowGroupSize: 100000,
		},
		Query: QueryConfig{
			MemoryLimit: "512MB",
			Timeout:     30 * time.Second,
			MaxRows:     100000,
		},
	}
}
