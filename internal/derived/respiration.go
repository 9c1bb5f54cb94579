package derived

import (
	"fmt"
	"math"

	"github.com/xtxerr/biostream/config"
	"github.com/xtxerr/biostream/internal/errors"
)

// Respiration estimation methods.
const (
	// MethodIntensity takes the dominant in-band frequency of the
	// band-limited waveform. A breathing-modulated baseline (PPG intensity
	// or belt force) oscillates at the respiration rate itself.
	MethodIntensity = "intensity"
	// MethodEnvelope takes the dominant frequency of the Hilbert envelope of
	// the band-limited waveform, for a respiration-modulated carrier.
	MethodEnvelope = "envelope"
)

// RespirationConfig configures the respiration estimator.
type RespirationConfig struct {
	MinSamples int
	LowHz      float64
	HighHz     float64
	SampleRate float64
	Order      int
	Method     string
}

// DefaultRespirationConfig returns the configuration for the wearable PPG
// channel. It selects MethodIntensity, which reads the breathing rate from
// the band-limited signal itself, so a pure in-band sinusoid at f Hz yields
// f*60. MethodEnvelope is the Hilbert-envelope-then-DFT pipeline of the
// original streamer; it suits PPG carriers whose amplitude is modulated by
// breathing.
func DefaultRespirationConfig() RespirationConfig {
	return RespirationConfig{
		MinSamples: config.DefaultRespMinSamples,
		LowHz:      config.DefaultRespLowHz,
		HighHz:     config.DefaultRespHighHz,
		SampleRate: config.DefaultPPGSampleRate,
		Order:      config.DefaultFilterOrder,
		Method:     config.DefaultRespMethod,
	}
}

// Validate checks the configuration.
func (c RespirationConfig) Validate() error {
	if c.Method != MethodIntensity && c.Method != MethodEnvelope {
		return errors.NewValidation("respiration.method", fmt.Sprintf("unknown method %q", c.Method))
	}
	if c.MinSamples < 1 {
		return errors.NewValidation("respiration.min_samples", "must be positive")
	}
	_, err := DesignBandpass(c.Order, c.LowHz, c.HighHz, c.SampleRate)
	return err
}

// Respiration estimates breathing rate from a waveform window. The filter is
// designed once; Rate can be called repeatedly as the window slides.
type Respiration struct {
	cfg    RespirationConfig
	filter *Bandpass
}

// NewRespiration designs the band-pass filter for cfg.
func NewRespiration(cfg RespirationConfig) (*Respiration, error) {
	if cfg.Method == "" {
		cfg.Method = MethodIntensity
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	f, err := DesignBandpass(cfg.Order, cfg.LowHz, cfg.HighHz, cfg.SampleRate)
	if err != nil {
		return nil, err
	}
	return &Respiration{cfg: cfg, filter: f}, nil
}

// Config returns the estimator configuration.
func (r *Respiration) Config() RespirationConfig { return r.cfg }

// Rate returns the respiration rate in breaths per minute.
func (r *Respiration) Rate(window []float64) (float64, error) {
	need := max(r.cfg.MinSamples, r.filter.MinLength())
	if len(window) < need {
		return 0, fmt.Errorf("respiration: %d samples, need %d: %w", len(window), need, errors.ErrNotAvailable)
	}

	filtered, err := r.filter.FiltFilt(window)
	if err != nil {
		return 0, err
	}
	if negligible(filtered, window) {
		return 0, fmt.Errorf("respiration: no in-band component: %w", errors.ErrNotAvailable)
	}

	var hz float64
	var ok bool
	switch r.cfg.Method {
	case MethodEnvelope:
		sp := magnitudeSpectrum(Envelope(filtered), r.cfg.SampleRate)
		hz, ok = sp.peak(0, r.cfg.SampleRate/2)
	default:
		sp := magnitudeSpectrum(filtered, r.cfg.SampleRate)
		hz, ok = sp.peak(r.cfg.LowHz, r.cfg.HighHz)
	}
	if !ok {
		return 0, fmt.Errorf("respiration: no dominant frequency: %w", errors.ErrNotAvailable)
	}
	return hz * 60, nil
}

// negligible reports whether the band-limited signal carries no energy
// relative to the scale of the raw window.
func negligible(filtered, window []float64) bool {
	var in, out float64
	for _, v := range window {
		in = math.Max(in, math.Abs(v))
	}
	for _, v := range filtered {
		out = math.Max(out, math.Abs(v))
	}
	return out <= 1e-9*math.Max(in, 1)
}
