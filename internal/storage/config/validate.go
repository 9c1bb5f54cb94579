package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	defaults "github.com/xtxerr/biostream/config"
)

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.DataDir == "" {
		errs = append(errs, errors.New("data_dir is required"))
	}

	if err := c.Dataset.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("dataset: %w", err))
	}

	if err := c.Parquet.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("parquet: %w", err))
	}

	if err := c.Query.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("query: %w", err))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks the dataset configuration.
func (c *DatasetConfig) Validate() error {
	var errs []error

	switch c.SyncMode {
	case "async", "sync", "fsync":
	default:
		errs = append(errs, fmt.Errorf("invalid sync_mode: %s (must be async, sync, or fsync)", c.SyncMode))
	}

	if c.SyncMode == "async" && c.SyncInterval <= 0 {
		errs = append(errs, errors.New("sync_interval must be positive for async mode"))
	}

	if c.BufferSize < 0 {
		errs = append(errs, errors.New("buffer_size must not be negative"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks the parquet configuration.
func (c *ParquetConfig) Validate() error {
	var errs []error

	switch c.Compression {
	case "none", "snappy", "zstd", "lz4", "gzip", "":
	default:
		errs = append(errs, fmt.Errorf("invalid compression: %s", c.Compression))
	}

	if c.RowGroupSize < 0 {
		errs = append(errs, errors.New("row_group_size must not be negative"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks the query configuration.
func (c *QueryConfig) Validate() error {
	var errs []error

	if c.Timeout <= 0 {
		errs = append(errs, errors.New("timeout must be positive"))
	}

	if c.MaxRows <= 0 {
		errs = append(errs, errors.New("max_rows must be positive"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// EnsureDirectories creates the data directory.
func (c *Config) EnsureDirectories() error {
	if err := os.MkdirAll(c.DataDir, 0755); err != nil {
		return fmt.Errorf("create directory %s: %w", c.DataDir, err)
	}
	return nil
}

// SensorDir returns the directory holding one subject's containers for a
// sensor.
func (c *Config) SensorDir(subject, sensor string) string {
	return filepath.Join(c.DataDir, subject, sensor)
}

// ContainerPath returns the container for subject and sensor on the day of t.
// One container exists per subject per sensor per recording day.
func (c *Config) ContainerPath(subject, sensor string, t time.Time) string {
	name := fmt.Sprintf("%s_%s_%s%s", t.Format("2006-01-02"), subject, sensor, defaults.DefaultContainerExt)
	return filepath.Join(c.SensorDir(subject, sensor), name)
}
