// Package aggregate maintains streaming per-channel statistics: count, mean,
// min and max exactly, and quantiles approximately via DDSketch.
package aggregate

import (
	"math"
	"sync"

	"github.com/DataDog/sketches-go/ddsketch"
)

// DefaultAccuracy is the relative accuracy of quantile estimates.
const DefaultAccuracy = 0.01

// Result is a point-in-time view of a StreamingAggregate. Mean, Min, Max
// and the quantiles are only meaningful when Count > 0.
type Result struct {
	Count   int64
	Sum     float64
	Mean    float64
	Min     float64
	Max     float64
	FirstTs float64 // unix seconds
	LastTs  float64 // unix seconds

	HasQuantiles bool
	P50          float64
	P90          float64
	P99          float64
}

// Empty reports whether no values were aggregated.
func (r Result) Empty() bool { return r.Count == 0 }

// StreamingAggregate maintains running statistics for one channel
// partition. It supports optional quantile calculation using DDSketch.
type StreamingAggregate struct {
	mu sync.Mutex

	count   int64
	sum     float64
	min     float64
	max     float64
	firstTs float64
	lastTs  float64

	accuracy float64
	// DDSketch for quantiles (nil if disabled)
	sketch *ddsketch.DDSketch
}

// New creates an aggregate. Quantiles are tracked when withQuantiles is set.
func New(withQuantiles bool) *StreamingAggregate {
	if !withQuantiles {
		return newAggregate(0)
	}
	return newAggregate(DefaultAccuracy)
}

func newAggregate(accuracy float64) *StreamingAggregate {
	a := &StreamingAggregate{accuracy: accuracy}
	a.resetUnlocked()
	return a
}

// Add adds a value observed at unix time ts. NaN values are ignored.
func (a *StreamingAggregate) Add(value, ts float64) {
	if math.IsNaN(value) {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.count++
	a.sum += value

	if value < a.min {
		a.min = value
	}
	if value > a.max {
		a.max = value
	}

	if a.count == 1 || ts < a.firstTs {
		a.firstTs = ts
	}
	if ts > a.lastTs {
		a.lastTs = ts
	}

	if a.sketch != nil {
		// Negative values are supported by the default sketch; an error
		// only signals a value outside the indexable range.
		_ = a.sketch.Add(value)
	}
}

// Count returns the number of values added.
func (a *StreamingAggregate) Count() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.count
}

// IsEmpty returns true if no values have been added.
func (a *StreamingAggregate) IsEmpty() bool {
	return a.Count() == 0
}

// Result returns the aggregation result.
func (a *StreamingAggregate) Result() Result {
	a.mu.Lock()
	defer a.mu.Unlock()

	r := Result{
		Count:   a.count,
		Sum:     a.sum,
		FirstTs: a.firstTs,
		LastTs:  a.lastTs,
	}
	if a.count == 0 {
		return r
	}

	r.Mean = a.sum / float64(a.count)
	r.Min = a.min
	r.Max = a.max

	if a.sketch != nil && !a.sketch.IsEmpty() {
		qs, err := a.sketch.GetValuesAtQuantiles([]float64{0.50, 0.90, 0.99})
		if err == nil {
			r.HasQuantiles = true
			r.P50, r.P90, r.P99 = qs[0], qs[1], qs[2]
		}
	}
	return r
}

// Reset clears the aggregate.
func (a *StreamingAggregate) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.resetUnlocked()
}

func (a *StreamingAggregate) resetUnlocked() {
	a.count = 0
	a.sum = 0
	a.min = math.MaxFloat64
	a.max = -math.MaxFloat64
	a.firstTs = 0
	a.lastTs = 0
	a.sketch = nil

	if a.accuracy > 0 {
		// DDSketch doesn't have a Clear method
		if sketch, err := ddsketch.NewDefaultDDSketch(a.accuracy); err == nil {
			a.sketch = sketch
		}
	}
}

// Merge combines another aggregate into this one.
func (a *StreamingAggregate) Merge(other *StreamingAggregate) {
	if other == nil || other == a {
		return
	}

	other.mu.Lock()
	o := Result{Count: other.count, Sum: other.sum, Min: other.min, Max: other.max,
		FirstTs: other.firstTs, LastTs: other.lastTs}
	var sketch *ddsketch.DDSketch
	if other.sketch != nil {
		sketch = other.sketch.Copy()
	}
	other.mu.Unlock()

	if o.Count == 0 {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.count == 0 || o.FirstTs < a.firstTs {
		a.firstTs = o.FirstTs
	}
	if o.LastTs > a.lastTs {
		a.lastTs = o.LastTs
	}
	a.count += o.Count
	a.sum += o.Sum
	if o.Min < a.min {
		a.min = o.Min
	}
	if o.Max > a.max {
		a.max = o.Max
	}

	if a.sketch != nil && sketch != nil {
		_ = a.sketch.MergeWith(sketch)
	}
}
