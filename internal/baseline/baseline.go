// Package baseline compares a subject's resting partition against live data.
//
// The baseline partition is every row whose event marker equals the
// configured baseline marker. The live partition is every other row, narrowed
// by an optional event marker and condition, within a lookback window ending
// at the current clock time. Means ignore absent values. A side with no
// values yields a nil mean and the "No data" status; comparison never fails
// for lack of data.
package baseline

import (
	"fmt"
	"time"

	"github.com/xtxerr/biostream/config"
	"github.com/xtxerr/biostream/internal/clock"
	"github.com/xtxerr/biostream/internal/errors"
	"github.com/xtxerr/biostream/internal/logging"
	"github.com/xtxerr/biostream/internal/storage/aggregate"
	"github.com/xtxerr/biostream/internal/storage/types"
)

var log = logging.Component("baseline")

// Status classifies live data relative to the baseline.
type Status string

const (
	StatusElevated Status = "Elevated"
	StatusLowered  Status = "Lowered"
	StatusEqual    Status = "Equal"
	StatusNoData   Status = "No data"
)

// Source is a scannable row container.
type Source interface {
	Scan(fn func(types.Row) error) error
	Schema() types.Schema
}

// Options configures a Comparator.
type Options struct {
	// BaselineMarker designates the baseline partition.
	BaselineMarker string

	// LiveMarker and LiveCondition narrow the live partition when set.
	LiveMarker    string
	LiveCondition string

	// Lookback is the live window ending at Clock.Now. Zero disables it.
	Lookback time.Duration
}

// DefaultOptions returns default comparison options.
func DefaultOptions() Options {
	return Options{
		BaselineMarker: config.DefaultBaselineMarker,
		Lookback:       config.DefaultLookback,
	}
}

// Result is the comparison of one channel.
type Result struct {
	Channel types.Channel

	BaselineMean *float64
	LiveMean     *float64

	BaselineMedian *float64
	LiveMedian     *float64

	BaselineCount int64
	LiveCount     int64

	Status Status

	// Elevated is true iff Status is StatusElevated.
	Elevated bool
}

// Classify returns the status of live relative to baseline.
func Classify(baseline, live *float64) Status {
	switch {
	case baseline == nil || live == nil:
		return StatusNoData
	case *live > *baseline:
		return StatusElevated
	case *live < *baseline:
		return StatusLowered
	default:
		return StatusEqual
	}
}

// Comparator runs comparisons over a container.
type Comparator struct {
	src   Source
	clock clock.Clock
	opts  Options
}

// New creates a comparator. A nil clock uses the system clock.
func New(src Source, clk clock.Clock, opts Options) *Comparator {
	if clk == nil {
		clk = clock.System{}
	}
	if opts.BaselineMarker == "" {
		opts.BaselineMarker = config.DefaultBaselineMarker
	}
	return &Comparator{src: src, clock: clk, opts: opts}
}

// Options returns the comparator options.
func (c *Comparator) Options() Options { return c.opts }

// Compare compares channel ch. The channel must belong to the container's
// schema.
func (c *Comparator) Compare(ch types.Channel) (Result, error) {
	if !c.src.Schema().Has(ch) {
		return Result{Channel: ch, Status: StatusNoData},
			fmt.Errorf("%s not in schema %s: %w", ch, c.src.Schema().Name, errors.ErrUnknownChannel)
	}
	results, err := c.compare([]types.Channel{ch})
	if err != nil {
		return Result{Channel: ch, Status: StatusNoData}, err
	}
	return results[0], nil
}

// CompareAll compares every channel of the schema, in schema order.
func (c *Comparator) CompareAll() ([]Result, error) {
	return c.compare(c.src.Schema().Channels)
}

type sides struct {
	baseline *aggregate.StreamingAggregate
	live     *aggregate.StreamingAggregate
}

func (c *Comparator) compare(channels []types.Channel) ([]Result, error) {
	schema := c.src.Schema()

	slots := make(map[int]*sides, len(channels))
	for _, ch := range channels {
		slots[schema.Index(ch)] = &sides{
			baseline: aggregate.New(true),
			live:     aggregate.New(true),
		}
	}

	var since float64
	if c.opts.Lookback > 0 {
		since = clock.Unix(c.clock.Now().Add(-c.opts.Lookback))
	}

	err := c.src.Scan(func(r types.Row) error {
		isBaseline := r.EventMarker == c.opts.BaselineMarker
		if !isBaseline && !c.live(r, since) {
			return nil
		}
		for i, s := range slots {
			v, ok := r.Value(i)
			if !ok {
				continue
			}
			if isBaseline {
				s.baseline.Add(float64(v), r.TimestampUnix)
			} else {
				s.live.Add(float64(v), r.TimestampUnix)
			}
		}
		return nil
	})
	switch {
	case errors.Is(err, errors.ErrNotOpen):
		// Nothing recorded yet.
		log.Debug("no container to compare", "error", err)
	case err != nil:
		return nil, fmt.Errorf("scan: %w", err)
	}

	results := make([]Result, len(channels))
	for i, ch := range channels {
		s := slots[schema.Index(ch)]
		results[i] = result(ch, s.baseline.Result(), s.live.Result())
	}
	return results, nil
}

func (c *Comparator) live(r types.Row, since float64) bool {
	if c.opts.LiveMarker != "" && r.EventMarker != c.opts.LiveMarker {
		return false
	}
	if c.opts.LiveCondition != "" && r.Condition != c.opts.LiveCondition {
		return false
	}
	return since == 0 || r.TimestampUnix >= since
}

func result(ch types.Channel, base, live aggregate.Result) Result {
	res := Result{
		Channel:       ch,
		BaselineCount: base.Count,
		LiveCount:     live.Count,
	}
	if !base.Empty() {
		res.BaselineMean = ptr(base.Mean)
		res.BaselineMedian = ptr(base.P50)
	}
	if !live.Empty() {
		res.LiveMean = ptr(live.Mean)
		res.LiveMedian = ptr(live.P50)
	}
	res.Status = Classify(res.BaselineMean, res.LiveMean)
	res.Elevated = res.Status == StatusElevated
	return res
}

func ptr(v float64) *float64 { return &v }
