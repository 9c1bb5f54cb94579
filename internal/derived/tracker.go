package derived

import (
	"sync"
	"time"

	"github.com/xtxerr/biostream/config"
	"github.com/xtxerr/biostream/internal/errors"
	"github.com/xtxerr/biostream/internal/logging"
	"github.com/xtxerr/biostream/internal/storage/buffer"
	"github.com/xtxerr/biostream/internal/storage/types"
)

var log = logging.Component("derived")

// Metric is the latest value of a derived metric. Valid is false while the
// metric is not available; Value is meaningless then and must be treated as
// null by consumers.
type Metric struct {
	Value float64
	Valid bool
	At    time.Time
}

// Snapshot holds the latest derived metrics of one streamer.
type Snapshot struct {
	// HRV is RMSSD in seconds.
	HRV Metric
	// Respiration is in breaths per minute.
	Respiration Metric
}

// TrackerConfig configures a Tracker. A channel left as ChannelUnknown
// disables the corresponding metric.
type TrackerConfig struct {
	WindowSize         int
	HRVChannel         types.Channel
	RespirationChannel types.Channel
	HRV                HRVConfig
	Respiration        RespirationConfig
}

// DefaultTrackerConfig returns the wearable configuration: HRV from BI and
// respiration from PG.
func DefaultTrackerConfig() TrackerConfig {
	return TrackerConfig{
		WindowSize:         config.DefaultWindowSize,
		HRVChannel:         types.ChannelBI,
		RespirationChannel: types.ChannelPG,
		HRV:                DefaultHRVConfig(),
		Respiration:        DefaultRespirationConfig(),
	}
}

// Tracker keeps the sliding windows feeding the derived metrics and
// re-evaluates a metric whenever its channel receives a value. Observe is
// called from the ingestion goroutine; Latest may be called concurrently.
type Tracker struct {
	cfg TrackerConfig

	hrvWindow  *buffer.Window
	respWindow *buffer.Window
	resp       *Respiration

	mu     sync.RWMutex
	latest Snapshot
}

// NewTracker creates a tracker. The respiration filter is designed up front
// so a bad band fails here rather than on every sample.
func NewTracker(cfg TrackerConfig) (*Tracker, error) {
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = config.DefaultWindowSize
	}
	t := &Tracker{cfg: cfg}

	if cfg.HRVChannel != types.ChannelUnknown {
		t.hrvWindow = buffer.NewWindow(cfg.WindowSize)
	}
	if cfg.RespirationChannel != types.ChannelUnknown {
		r, err := NewRespiration(cfg.Respiration)
		if err != nil {
			return nil, errors.Wrap(err, "respiration estimator")
		}
		t.resp = r
		t.respWindow = buffer.NewWindow(cfg.WindowSize)
	}
	return t, nil
}

// Observe feeds one channel value. It reports whether a metric was
// re-evaluated.
func (t *Tracker) Observe(c types.Channel, v float64, at time.Time) bool {
	switch {
	case t.hrvWindow != nil && c == t.cfg.HRVChannel:
		if !t.hrvWindow.Add(v) {
			return false
		}
		val, err := RMSSD(t.hrvWindow.Values(), t.cfg.HRV)
		t.set(&t.latest.HRV, val, err, at, "hrv")
		return true

	case t.respWindow != nil && c == t.cfg.RespirationChannel:
		if !t.respWindow.Add(v) {
			return false
		}
		val, err := t.resp.Rate(t.respWindow.Values())
		t.set(&t.latest.Respiration, val, err, at, "respiration")
		return true
	}
	return false
}

func (t *Tracker) set(m *Metric, val float64, err error, at time.Time, name string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err != nil {
		if !errors.Is(err, errors.ErrNotAvailable) {
			log.Debug("metric evaluation failed", "metric", name, "error", err)
		}
		*m = Metric{At: at}
		return
	}
	*m = Metric{Value: val, Valid: true, At: at}
}

// Latest returns the most recent metric values.
func (t *Tracker) Latest() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.latest
}

// Reset clears the windows and metrics, e.g. between sessions.
func (t *Tracker) Reset() {
	if t.hrvWindow != nil {
		t.hrvWindow.Clear()
	}
	if t.respWindow != nil {
		t.respWindow.Clear()
	}
	t.mu.Lock()
	t.latest = Snapshot{}
	t.mu.Unlock()
}
