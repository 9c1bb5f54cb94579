// Package derived computes physiological metrics over bounded sliding
// windows: heart-rate variability (RMSSD) from beat intervals and
// respiration rate from a pulse or force waveform.
//
// The metric functions are pure. Insufficient data is reported as an error
// wrapping errors.ErrNotAvailable, never as a zero value; Tracker keeps the
// windows and latest results for a streamer.
package derived
