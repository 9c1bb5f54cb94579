// Package config provides configuration defaults for the biostream daemon.
//
// Every value here can be overridden in config.yaml; the override path is
// noted on each constant.
package config

import "time"

// =============================================================================
// Tag Defaults
// =============================================================================

const (
	// DefaultEventMarker is the event marker stamped on samples until the
	// orchestrator sets one.
	// Override via config: tags.event_marker
	DefaultEventMarker = "startup"

	// DefaultCondition is the experimental condition stamped on samples until
	// the orchestrator sets one.
	// Override via config: tags.condition
	DefaultCondition = "none"

	// DefaultBaselineMarker is the event marker that designates the baseline
	// partition for comparisons.
	// Override via config: tags.baseline_marker
	DefaultBaselineMarker = "baseline"
)

// =============================================================================
// EmotiBit (OSC over UDP) Defaults
// =============================================================================

const (
	// DefaultOSCListen is the UDP address the OSC listener binds.
	// Override via config: emotibit.listen
	DefaultOSCListen = "127.0.0.1:12345"

	// DefaultOSCNamespace is the address prefix sent by the EmotiBit
	// oscilloscope: /<namespace>/0/<channel>.
	// Override via config: emotibit.namespace
	DefaultOSCNamespace = "EmotiBit"

	// DefaultReadTimeout bounds each blocking socket read so the serve loop can
	// observe the shutdown signal.
	// Override via config: emotibit.read_timeout
	DefaultReadTimeout = 200 * time.Millisecond

	// DefaultMaxPacketSize is the receive buffer for a single datagram.
	DefaultMaxPacketSize = 65535
)

// =============================================================================
// Derived Metric Defaults
// =============================================================================

const (
	// DefaultWindowSize is the capacity of each per-channel sliding window.
	// Override via config: emotibit.window_size
	DefaultWindowSize = 500

	// DefaultHRVMinSamples is the minimum number of beat intervals before
	// RMSSD is reported.
	// Override via config: emotibit.hrv.min_samples
	DefaultHRVMinSamples = 30

	// DefaultHRVOutlierK rejects beat intervals further than k standard
	// deviations from the window mean. Zero disables rejection.
	// Override via config: emotibit.hrv.outlier_k
	DefaultHRVOutlierK = 3.0

	// DefaultRespMinSamples is the minimum number of samples before a
	// respiration rate is reported.
	// Override via config: emotibit.respiration.min_samples
	DefaultRespMinSamples = 100

	// DefaultRespLowHz and DefaultRespHighHz bound the respiratory band.
	// Override via config: emotibit.respiration.low_hz / high_hz
	DefaultRespLowHz  = 0.1
	DefaultRespHighHz = 0.5

	// DefaultPPGSampleRate is the assumed PPG sampling rate in Hz.
	// Override via config: emotibit.respiration.sample_rate
	DefaultPPGSampleRate = 25.0

	// DefaultFilterOrder is the Butterworth prototype order.
	// Override via config: emotibit.respiration.order
	DefaultFilterOrder = 4

	// DefaultRespMethod selects the spectral source for respiration rate.
	// Override via config: emotibit.respiration.method
	DefaultRespMethod = "intensity"
)

// =============================================================================
// Force Sensor (polled) Defaults
// =============================================================================

const (
	// DefaultPollPeriod is the read period of the polled force sensor.
	// Override via config: force.poll_period
	DefaultPollPeriod = 100 * time.Millisecond

	// DefaultForceSampleRate is the sampling rate implied by DefaultPollPeriod.
	DefaultForceSampleRate = 10.0
)

// =============================================================================
// Storage Defaults
// =============================================================================

const (
	// DefaultDataDir is the root directory for containers and exports.
	// Override via config: data_dir
	DefaultDataDir = "data"

	// DefaultSyncMode controls how dataset appends reach the disk.
	// "async" - buffered, flushed on SyncInterval
	// "sync"  - flushed to the OS after every row
	// "fsync" - flushed and fsynced after every row
	// Override via config: storage.sync_mode
	DefaultSyncMode = "sync"

	// DefaultSyncInterval is the flush period for async mode.
	// Override via config: storage.sync_interval
	DefaultSyncInterval = time.Second

	// DefaultBufferSize is the dataset write buffer size.
	DefaultBufferSize = 64 * 1024

	// DefaultContainerExt is the file extension of dataset containers.
	DefaultContainerExt = ".bsd"
)

// =============================================================================
// Export / Compare Defaults
// =============================================================================

const (
	// DefaultChunkRows is the number of CSV rows buffered before a flush.
	// Override via config: export.chunk_rows
	DefaultChunkRows = 4096

	// DefaultLookback is the live window used by baseline comparisons.
	// Override via config: compare.lookback
	DefaultLookback = 2 * time.Minute
)

// =============================================================================
// Shutdown Defaults
// =============================================================================

const (
	// DefaultJoinTimeout bounds how long Stop waits for the serve goroutine.
	// After this timeout resources are released best-effort.
	// Override via config: shutdown.join_timeout
	DefaultJoinTimeout = 5 * time.Second
)

// =============================================================================
// Ancillary Defaults
// =============================================================================

const (
	// DefaultCatalogPath is the SQLite session catalog, relative to data_dir.
	// Override via config: catalog.path
	DefaultCatalogPath = "sessions.db"

	// DefaultMetricsListen is the Prometheus endpoint. Empty disables it.
	// Override via config: metrics.listen
	DefaultMetricsListen = ""

	// DefaultUploadRegion is the S3 region used when none is configured.
	// Override via config: upload.region
	DefaultUploadRegion = "us-east-1"
)
