package clock

import "sync/atomic"

// Tags holds the current event marker and experimental condition.
//
// The orchestrator writes them at phase boundaries and the ingestion path
// reads them once per sample. The two values are independent atomics, not a
// consistent pair: a sample may carry a marker that changed moments before
// it was read, and nothing is rewritten retroactively.
type Tags struct {
	marker    atomic.Pointer[string]
	condition atomic.Pointer[string]
}

// NewTags creates Tags with the given initial values.
func NewTags(marker, condition string) *Tags {
	t := &Tags{}
	t.SetEventMarker(marker)
	t.SetCondition(condition)
	return t
}

// SetEventMarker replaces the event marker for all subsequent samples.
func (t *Tags) SetEventMarker(marker string) {
	t.marker.Store(&marker)
}

// SetCondition replaces the condition for all subsequent samples.
func (t *Tags) SetCondition(condition string) {
	t.condition.Store(&condition)
}

// EventMarker returns the current event marker.
func (t *Tags) EventMarker() string {
	if p := t.marker.Load(); p != nil {
		return *p
	}
	return ""
}

// Condition returns the current condition.
func (t *Tags) Condition() string {
	if p := t.condition.Load(); p != nil {
		return *p
	}
	return ""
}

// Snapshot returns both tags as read at one point of the ingestion path.
func (t *Tags) Snapshot() (marker, condition string) {
	return t.EventMarker(), t.Condition()
}
