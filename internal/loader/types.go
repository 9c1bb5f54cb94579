// Package loader - Configuration Types
//
// Defines the YAML configuration structure for biostreamd.
//
//	data_dir, subject   where containers live and whose they are
//	log:                level and format
//	emotibit:           OSC listener and wearable derived metrics
//	force:              polled force sensor
//	tags:               initial event marker / condition, baseline marker
//	storage:            container sync mode, parquet snapshot, DuckDB
//	export, compare:    CSV chunking, baseline lookback
//	shutdown:           bounded join
//	catalog, metrics:   SQLite session index, Prometheus endpoint
//	upload:             S3 target for session artifacts
package loader

import (
	"fmt"
	"strconv"
	"time"

	storageconfig "github.com/xtxerr/biostream/internal/storage/config"
)

// =============================================================================
// Root Configuration
// =============================================================================

// Config is the root configuration structure for biostreamd.
type Config struct {
	// DataDir is the root of all containers, exports and the catalog.
	// It overrides storage.data_dir.
	DataDir string `yaml:"data_dir"`

	// Subject is the participant identifier used in container names.
	Subject string `yaml:"subject"`

	Log      LogConfig      `yaml:"log"`
	EmotiBit EmotiBitConfig `yaml:"emotibit"`
	Force    ForceConfig    `yaml:"force"`
	Tags     TagsConfig     `yaml:"tags"`

	Storage storageconfig.Config `yaml:"storage"`

	Export   ExportConfig   `yaml:"export"`
	Compare  CompareConfig  `yaml:"compare"`
	Shutdown ShutdownConfig `yaml:"shutdown"`
	Catalog  CatalogConfig  `yaml:"catalog"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Upload   UploadConfig   `yaml:"upload"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level: debug, info, warn, error.
	Level string `yaml:"level"`

	// JSON switches to JSON output.
	JSON bool `yaml:"json"`
}

// =============================================================================
// Sensors
// =============================================================================

// EmotiBitConfig configures the wearable stream.
type EmotiBitConfig struct {
	Enabled bool `yaml:"enabled"`

	// Listen is the UDP address, "host:port".
	Listen string `yaml:"listen"`

	// Namespace is the OSC address prefix.
	Namespace string `yaml:"namespace"`

	ReadTimeout Duration `yaml:"read_timeout"`

	// WindowSize is the capacity of each derived-metric window.
	WindowSize int `yaml:"window_size"`

	HRV         HRVConfig         `yaml:"hrv"`
	Respiration RespirationConfig `yaml:"respiration"`
}

// HRVConfig configures RMSSD.
type HRVConfig struct {
	MinSamples int     `yaml:"min_samples"`
	OutlierK   float64 `yaml:"outlier_k"`
}

// RespirationConfig configures a respiration estimator.
type RespirationConfig struct {
	MinSamples int     `yaml:"min_samples"`
	LowHz      float64 `yaml:"low_hz"`
	HighHz     float64 `yaml:"high_hz"`
	SampleRate float64 `yaml:"sample_rate"`
	Order      int     `yaml:"order"`

	// Method: intensity or envelope.
	Method string `yaml:"method"`
}

// ForceConfig configures the polled force sensor.
type ForceConfig struct {
	Enabled bool `yaml:"enabled"`

	// Device is a character device or file with one value per line.
	Device string `yaml:"device"`

	PollPeriod  Duration          `yaml:"poll_period"`
	WindowSize  int               `yaml:"window_size"`
	Respiration RespirationConfig `yaml:"respiration"`
}

// TagsConfig holds the initial tags.
type TagsConfig struct {
	EventMarker    string `yaml:"event_marker"`
	Condition      string `yaml:"condition"`
	BaselineMarker string `yaml:"baseline_marker"`
}

// =============================================================================
// Ancillary
// =============================================================================

// ExportConfig configures exports.
type ExportConfig struct {
	ChunkRows int `yaml:"chunk_rows"`

	// Dir overrides the export directory. Empty writes next to the container.
	Dir string `yaml:"dir"`
}

// CompareConfig configures baseline comparisons.
type CompareConfig struct {
	// Lookback is the live window. 0 disables it.
	Lookback Duration `yaml:"lookback"`

	LiveMarker    string `yaml:"live_marker"`
	LiveCondition string `yaml:"live_condition"`
}

// ShutdownConfig configures shutdown.
type ShutdownConfig struct {
	JoinTimeout Duration `yaml:"join_timeout"`
}

// CatalogConfig configures the session catalog.
type CatalogConfig struct {
	Enabled bool `yaml:"enabled"`

	// Path is relative to data_dir unless absolute.
	Path string `yaml:"path"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	// Listen is the HTTP address serving /metrics. Empty disables it.
	Listen string `yaml:"listen"`
}

// UploadConfig configures the S3 uploader.
type UploadConfig struct {
	Enabled bool `yaml:"enabled"`

	// OnStop uploads containers and exports after every stop.
	OnStop bool `yaml:"on_stop"`

	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	PathStyle bool   `yaml:"path_style"`
	Prefix    string `yaml:"prefix"`
}

// =============================================================================
// Helper Types
// =============================================================================

// Duration is a time.Duration that can be unmarshaled from YAML.
// Accepts "500ms", "2m", or plain seconds.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		*d = Duration(time.Duration(secs * float64(time.Second)))
		return nil
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(dur)
	return nil
}

// Duration returns the time.Duration value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}
