// Package clock provides the shared timestamp authority and experiment tags.
//
// A single Clock instance is injected into every subsystem that stamps
// samples, so timestamps from the biometric streamers and from sibling
// subsystems (audio, transcription) are directly comparable.
package clock

import (
	"sync"
	"time"
)

// ISO8601 is the textual timestamp layout stored in every row. Microsecond
// precision with an explicit zone offset.
const ISO8601 = "2006-01-02T15:04:05.000000Z07:00"

// Clock is a source of timestamps.
type Clock interface {
	Now() time.Time
}

// Format renders t with the ISO8601 layout.
func Format(t time.Time) string {
	return t.Format(ISO8601)
}

// Unix returns t as fractional seconds since the epoch.
func Unix(t time.Time) float64 {
	return float64(t.Unix()) + float64(t.Nanosecond())/1e9
}

// System is the wall clock.
type System struct{}

// Now returns the current local time.
func (System) Now() time.Time { return time.Now() }

// Stepped is a deterministic clock for tests. Every call to Now returns the
// current instant and then advances it by the step.
type Stepped struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

// NewStepped creates a Stepped clock starting at start.
func NewStepped(start time.Time, step time.Duration) *Stepped {
	return &Stepped{now: start, step: step}
}

// Now returns the current instant and advances the clock by one step.
func (s *Stepped) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.now
	s.now = s.now.Add(s.step)
	return t
}

// Advance moves the clock forward by d without consuming a step.
func (s *Stepped) Advance(d time.Duration) {
	s.mu.Lock()
	s.now = s.now.Add(d)
	s.mu.Unlock()
}

// Set moves the clock to t.
func (s *Stepped) Set(t time.Time) {
	s.mu.Lock()
	s.now = t
	s.mu.Unlock()
}

// Peek returns the current instant without advancing.
func (s *Stepped) Peek() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}
