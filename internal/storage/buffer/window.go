package buffer

import (
	"math"
	"sync/atomic"
)

// Window is a fixed-capacity sliding window of channel values. Non-finite
// values are never admitted.
type Window struct {
	*RingBuffer[float64]

	rejected atomic.Int64
}

// NewWindow creates a sliding window holding the newest size values.
func NewWindow(size int) *Window {
	return &Window{RingBuffer: New[float64](size)}
}

// Add appends v and reports whether it was admitted.
func (w *Window) Add(v float64) bool {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		w.rejected.Add(1)
		return false
	}
	w.Push(v)
	return true
}

// Values returns the window contents, oldest first.
func (w *Window) Values() []float64 {
	return w.Snapshot()
}

// Rejected returns the number of non-finite values refused by Add.
func (w *Window) Rejected() int64 {
	return w.rejected.Load()
}
