package derived

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/xtxerr/biostream/config"
	"github.com/xtxerr/biostream/internal/errors"
)

// HRVConfig configures the RMSSD computation.
type HRVConfig struct {
	// MinSamples is the smallest window that yields a value.
	MinSamples int
	// OutlierK rejects intervals more than K standard deviations from the
	// window mean. Zero disables rejection.
	OutlierK float64
}

// DefaultHRVConfig returns the default HRV configuration.
func DefaultHRVConfig() HRVConfig {
	return HRVConfig{
		MinSamples: config.DefaultHRVMinSamples,
		OutlierK:   config.DefaultHRVOutlierK,
	}
}

// RMSSD returns the root mean square of successive differences of the beat
// intervals, in seconds. Intervals are given in milliseconds.
func RMSSD(intervalsMs []float64, cfg HRVConfig) (float64, error) {
	minSamples := max(cfg.MinSamples, 2)
	if len(intervalsMs) < minSamples {
		return 0, fmt.Errorf("rmssd: %d intervals, need %d: %w", len(intervalsMs), minSamples, errors.ErrNotAvailable)
	}

	kept := intervalsMs
	if cfg.OutlierK > 0 {
		kept = rejectOutliers(intervalsMs, cfg.OutlierK)
		if len(kept) < 2 {
			return 0, fmt.Errorf("rmssd: %d intervals left after outlier rejection: %w", len(kept), errors.ErrNotAvailable)
		}
	}

	var sum float64
	prev := kept[0] / 1000
	for _, ms := range kept[1:] {
		s := ms / 1000
		d := s - prev
		sum += d * d
		prev = s
	}
	return math.Sqrt(sum / float64(len(kept)-1)), nil
}

// rejectOutliers drops values more than k standard deviations from the
// mean. A window with zero spread is returned unchanged.
func rejectOutliers(x []float64, k float64) []float64 {
	mean, std := stat.MeanStdDev(x, nil)
	if std == 0 || math.IsNaN(std) {
		return x
	}
	out := make([]float64, 0, len(x))
	for _, v := range x {
		if math.Abs(v-mean) <= k*std {
			out = append(out, v)
		}
	}
	return out
}
