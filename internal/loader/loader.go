// Package loader handles configuration file loading, validation, and
// conversion into the component configurations.
//
// This package is responsible for:
//   - Loading YAML configuration files
//   - Expanding environment variables
//   - Validating every field, reporting all problems at once
//   - Converting the file layout into session, catalog and upload configs
package loader

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/xtxerr/biostream/config"
	"github.com/xtxerr/biostream/internal/baseline"
	"github.com/xtxerr/biostream/internal/catalog"
	"github.com/xtxerr/biostream/internal/derived"
	"github.com/xtxerr/biostream/internal/errors"
	"github.com/xtxerr/biostream/internal/export"
	"github.com/xtxerr/biostream/internal/session"
	"github.com/xtxerr/biostream/internal/source"
	storageconfig "github.com/xtxerr/biostream/internal/storage/config"
	"github.com/xtxerr/biostream/internal/storage/parquet"
	"github.com/xtxerr/biostream/internal/storage/types"
	"github.com/xtxerr/biostream/internal/upload"
	"github.com/xtxerr/biostream/internal/validation"
)

// =============================================================================
// Load
// =============================================================================

// Load loads configuration from a YAML file. Unset fields keep their
// defaults. The result is not validated; call Validate.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	// Start with defaults
	cfg := DefaultConfig()

	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.Normalize()
	return cfg, nil
}

// Normalize propagates data_dir into the storage section.
func (c *Config) Normalize() {
	if c.DataDir != "" {
		c.Storage.DataDir = c.DataDir
	}
	c.DataDir = c.Storage.DataDir
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() *Config {
	resp := derived.DefaultRespirationConfig()
	forceResp := resp
	forceResp.SampleRate = config.DefaultForceSampleRate

	return &Config{
		DataDir: config.DefaultDataDir,
		Log:     LogConfig{Level: "info"},

		EmotiBit: EmotiBitConfig{
			Enabled:     true,
			Listen:      config.DefaultOSCListen,
			Namespace:   config.DefaultOSCNamespace,
			ReadTimeout: Duration(config.DefaultReadTimeout),
			WindowSize:  config.DefaultWindowSize,
			HRV: HRVConfig{
				MinSamples: config.DefaultHRVMinSamples,
				OutlierK:   config.DefaultHRVOutlierK,
			},
			Respiration: respirationFile(resp),
		},

		Force: ForceConfig{
			PollPeriod:  Duration(config.DefaultPollPeriod),
			WindowSize:  config.DefaultWindowSize,
			Respiration: respirationFile(forceResp),
		},

		Tags: TagsConfig{
			EventMarker:    config.DefaultEventMarker,
			Condition:      config.DefaultCondition,
			BaselineMarker: config.DefaultBaselineMarker,
		},

		Storage: *storageconfig.DefaultConfig(),

		Export:   ExportConfig{ChunkRows: config.DefaultChunkRows},
		Compare:  CompareConfig{Lookback: Duration(config.DefaultLookback)},
		Shutdown: ShutdownConfig{JoinTimeout: Duration(config.DefaultJoinTimeout)},
		Catalog:  CatalogConfig{Enabled: true, Path: config.DefaultCatalogPath},
		Metrics:  MetricsConfig{Listen: config.DefaultMetricsListen},
		Upload:   UploadConfig{Region: config.DefaultUploadRegion},
	}
}

func respirationFile(r derived.RespirationConfig) RespirationConfig {
	return RespirationConfig{
		MinSamples: r.MinSamples,
		LowHz:      r.LowHz,
		HighHz:     r.HighHz,
		SampleRate: r.SampleRate,
		Order:      r.Order,
		Method:     r.Method,
	}
}

// =============================================================================
// Validate
// =============================================================================

// Validate validates the configuration.
func Validate(cfg *Config) error {
	errs := errors.NewValidationErrors()

	if cfg.Subject == "" {
		errs.AddMissing("subject")
	} else if err := validation.ValidateSubject(cfg.Subject); err != nil {
		errs.AddField("subject", err.Error())
	}

	switch strings.ToLower(cfg.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs.AddField("log.level", fmt.Sprintf("unknown level %q", cfg.Log.Level))
	}

	if !cfg.EmotiBit.Enabled && !cfg.Force.Enabled {
		errs.AddField("emotibit.enabled", "at least one sensor must be enabled")
	}

	if cfg.EmotiBit.Enabled {
		if cfg.EmotiBit.Listen == "" {
			errs.AddMissing("emotibit.listen")
		}
		if cfg.EmotiBit.Namespace == "" {
			errs.AddMissing("emotibit.namespace")
		}
		if cfg.EmotiBit.WindowSize < cfg.EmotiBit.HRV.MinSamples {
			errs.AddField("emotibit.window_size", "smaller than emotibit.hrv.min_samples")
		}
		if cfg.EmotiBit.WindowSize < cfg.EmotiBit.Respiration.MinSamples {
			errs.AddField("emotibit.window_size", "smaller than emotibit.respiration.min_samples")
		}
		if cfg.EmotiBit.HRV.OutlierK < 0 {
			errs.AddField("emotibit.hrv.outlier_k", "cannot be negative")
		}
		if err := cfg.EmotiBit.Respiration.toDerived().Validate(); err != nil {
			errs.AddField("emotibit.respiration", err.Error())
		}
	}

	if cfg.Force.Enabled {
		if cfg.Force.Device == "" {
			errs.AddMissing("force.device")
		}
		if cfg.Force.PollPeriod <= 0 {
			errs.AddField("force.poll_period", "must be positive")
		}
		if cfg.Force.WindowSize < cfg.Force.Respiration.MinSamples {
			errs.AddField("force.window_size", "smaller than force.respiration.min_samples")
		}
		if err := cfg.Force.Respiration.toDerived().Validate(); err != nil {
			errs.AddField("force.respiration", err.Error())
		}
	}

	if cfg.Tags.BaselineMarker == "" {
		errs.AddMissing("tags.baseline_marker")
	}
	for field, tag := range map[string]string{
		"tags.event_marker":    cfg.Tags.EventMarker,
		"tags.condition":       cfg.Tags.Condition,
		"tags.baseline_marker": cfg.Tags.BaselineMarker,
	} {
		if err := validation.ValidateTag(tag); err != nil {
			errs.AddField(field, err.Error())
		}
	}

	if err := cfg.Storage.Validate(); err != nil {
		errs.Add(err)
	}

	if cfg.Export.ChunkRows <= 0 {
		errs.AddField("export.chunk_rows", "must be positive")
	}
	if cfg.Compare.Lookback < 0 {
		errs.AddField("compare.lookback", "cannot be negative")
	}
	if cfg.Shutdown.JoinTimeout <= 0 {
		errs.AddField("shutdown.join_timeout", "must be positive")
	}
	if cfg.Catalog.Enabled && cfg.Catalog.Path == "" {
		errs.AddField("catalog.path", "cannot be empty when enabled")
	}
	if cfg.Upload.Enabled && cfg.Upload.Bucket == "" {
		errs.AddField("upload.bucket", "cannot be empty when enabled")
	}

	return errs.Err()
}

// =============================================================================
// Conversion: Config → component configs
// =============================================================================

func (r RespirationConfig) toDerived() derived.RespirationConfig {
	return derived.RespirationConfig{
		MinSamples: r.MinSamples,
		LowHz:      r.LowHz,
		HighHz:     r.HighHz,
		SampleRate: r.SampleRate,
		Order:      r.Order,
		Method:     r.Method,
	}
}

// SessionConfig converts the file layout into a session configuration.
func (c *Config) SessionConfig() session.Config {
	osc := source.DefaultOSCConfig()
	osc.Listen = c.EmotiBit.Listen
	osc.Namespace = c.EmotiBit.Namespace
	osc.ReadTimeout = c.EmotiBit.ReadTimeout.Duration()

	wearable := derived.DefaultTrackerConfig()
	wearable.WindowSize = c.EmotiBit.WindowSize
	wearable.HRV = derived.HRVConfig{
		MinSamples: c.EmotiBit.HRV.MinSamples,
		OutlierK:   c.EmotiBit.HRV.OutlierK,
	}
	wearable.Respiration = c.EmotiBit.Respiration.toDerived()

	// The force belt carries respiration only.
	belt := derived.TrackerConfig{
		WindowSize:         c.Force.WindowSize,
		RespirationChannel: types.ChannelForce,
		Respiration:        c.Force.Respiration.toDerived(),
	}

	exp := export.DefaultOptions()
	exp.ChunkRows = c.Export.ChunkRows
	exp.Dir = c.Export.Dir
	exp.Parquet = c.Storage.Parquet.Enabled
	exp.ParquetOptions = parquet.Options{
		Compression:  parquet.ParseCompressionType(c.Storage.Parquet.Compression),
		RowGroupSize: c.Storage.Parquet.RowGroupSize,
	}

	return session.Config{
		Subject:  c.Subject,
		EmotiBit: session.EmotiBitConfig{Enabled: c.EmotiBit.Enabled, OSC: osc, Tracker: wearable},
		Force: session.ForceConfig{
			Enabled: c.Force.Enabled,
			Device:  c.Force.Device,
			Poller:  source.PollerConfig{Channel: types.ChannelForce, Period: c.Force.PollPeriod.Duration()},
			Tracker: belt,
		},
		Storage: c.Storage,
		Export:  exp,
		Compare: baseline.Options{
			BaselineMarker: c.Tags.BaselineMarker,
			LiveMarker:     c.Compare.LiveMarker,
			LiveCondition:  c.Compare.LiveCondition,
			Lookback:       c.Compare.Lookback.Duration(),
		},
		JoinTimeout: c.Shutdown.JoinTimeout.Duration(),
		EventMarker: c.Tags.EventMarker,
		Condition:   c.Tags.Condition,
	}
}

// CatalogConfig returns the catalog configuration with the path resolved
// against data_dir.
func (c *Config) CatalogConfig() catalog.Config {
	cc := catalog.DefaultConfig()
	cc.Path = c.Catalog.Path
	if cc.Path != ":memory:" && !filepath.IsAbs(cc.Path) {
		cc.Path = filepath.Join(c.Storage.DataDir, cc.Path)
	}
	return cc
}

// UploadConfig returns the uploader configuration.
func (c *Config) UploadConfig() upload.Config {
	return upload.Config{
		Bucket:    c.Upload.Bucket,
		Region:    c.Upload.Region,
		Endpoint:  c.Upload.Endpoint,
		PathStyle: c.Upload.PathStyle,
		Prefix:    c.Upload.Prefix,
	}
}
