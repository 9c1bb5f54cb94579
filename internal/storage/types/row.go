package types

import (
	"math"
	"time"
)

// Reading is one inbound sensor value. It is transient: the ingestion path
// turns it into a Row and discards it.
type Reading struct {
	Channel Channel
	Value   float64
	At      time.Time
}

// Row is one persisted record. Values holds one slot per schema channel;
// unset slots are NaN. Rows are sparse-wide: exactly one slot is populated
// for every row produced by ingestion.
type Row struct {
	TimestampUnix float64
	Timestamp     string
	Values        []float32
	EventMarker   string
	Condition     string
}

// Null is the in-memory representation of an absent channel value.
var Null = float32(math.NaN())

// IsNull reports whether v represents an absent value.
func IsNull(v float32) bool { return v != v }

// NewRow builds a row for schema with only channel c set to v. It returns
// false if c does not belong to the schema.
func NewRow(s Schema, c Channel, v float64, unix float64, ts, marker, condition string) (Row, bool) {
	idx := s.Index(c)
	if idx < 0 {
		return Row{}, false
	}
	values := make([]float32, len(s.Channels))
	for i := range values {
		values[i] = Null
	}
	values[idx] = float32(v)
	return Row{
		TimestampUnix: unix,
		Timestamp:     ts,
		Values:        values,
		EventMarker:   marker,
		Condition:     condition,
	}, true
}

// Value returns the value in channel slot i and whether it is set.
func (r Row) Value(i int) (float32, bool) {
	if i < 0 || i >= len(r.Values) || IsNull(r.Values[i]) {
		return 0, false
	}
	return r.Values[i], true
}

// Populated returns the number of non-null channel slots.
func (r Row) Populated() int {
	n := 0
	for _, v := range r.Values {
		if !IsNull(v) {
			n++
		}
	}
	return n
}

// Time returns the row timestamp as a time.Time.
func (r Row) Time() time.Time {
	sec, frac := math.Modf(r.TimestampUnix)
	return time.Unix(int64(sec), int64(frac*1e9))
}
