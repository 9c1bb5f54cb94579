package aggregate

import (
	"sort"
	"sync"

	"github.com/xtxerr/biostream/internal/storage/types"
)

// Key identifies one partition of a channel: the channel plus the tags the
// rows carried.
type Key struct {
	Channel     types.Channel
	EventMarker string
	Condition   string
}

// GroupResult is the result for one key.
type GroupResult struct {
	Key
	Result
}

// Group maintains one aggregate per (channel, event marker, condition).
type Group struct {
	mu sync.Mutex

	schema    types.Schema
	quantiles bool

	aggregates map[Key]*StreamingAggregate

	rows int64
}

// NewGroup creates a group for rows of schema.
func NewGroup(schema types.Schema, withQuantiles bool) *Group {
	return &Group{
		schema:     schema,
		quantiles:  withQuantiles,
		aggregates: make(map[Key]*StreamingAggregate),
	}
}

// AddRow adds every populated channel value of r.
func (g *Group) AddRow(r types.Row) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.rows++
	for i, c := range g.schema.Channels {
		v, ok := r.Value(i)
		if !ok {
			continue
		}
		key := Key{Channel: c, EventMarker: r.EventMarker, Condition: r.Condition}
		agg, exists := g.aggregates[key]
		if !exists {
			agg = New(g.quantiles)
			g.aggregates[key] = agg
		}
		agg.Add(float64(v), r.TimestampUnix)
	}
}

// Rows returns the number of rows added.
func (g *Group) Rows() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rows
}

// Results returns one result per key, ordered by schema channel order, then
// event marker, then condition.
func (g *Group) Results() []GroupResult {
	g.mu.Lock()
	defer g.mu.Unlock()

	order := make(map[types.Channel]int, len(g.schema.Channels))
	for i, c := range g.schema.Channels {
		order[c] = i
	}

	out := make([]GroupResult, 0, len(g.aggregates))
	for k, agg := range g.aggregates {
		out = append(out, GroupResult{Key: k, Result: agg.Result()})
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Key, out[j].Key
		if a.Channel != b.Channel {
			return order[a.Channel] < order[b.Channel]
		}
		if a.EventMarker != b.EventMarker {
			return a.EventMarker < b.EventMarker
		}
		return a.Condition < b.Condition
	})
	return out
}

// Channel merges all partitions of channel c into one result.
func (g *Group) Channel(c types.Channel) Result {
	g.mu.Lock()
	defer g.mu.Unlock()

	merged := New(g.quantiles)
	for k, agg := range g.aggregates {
		if k.Channel == c {
			merged.Merge(agg)
		}
	}
	return merged.Result()
}
