package types

import (
	"fmt"
	"strings"
)

// ColumnType is the on-disk type of a column.
type ColumnType uint8

const (
	ColumnFloat64 ColumnType = iota + 1
	ColumnString
	ColumnFloat32
)

// String returns the type name.
func (t ColumnType) String() string {
	switch t {
	case ColumnFloat64:
		return "float64"
	case ColumnString:
		return "string"
	case ColumnFloat32:
		return "float32"
	default:
		return "invalid"
	}
}

// Column is one named, typed column of a schema.
type Column struct {
	Name string
	Type ColumnType
}

// Fixed column names surrounding the channel columns.
const (
	ColTimestampUnix = "timestamp_unix"
	ColTimestamp     = "timestamp"
	ColEventMarker   = "event_marker"
	ColCondition     = "condition"
)

// Schema describes the row layout of one container: two leading timestamp
// columns, one float32 column per channel, then the two tag columns.
type Schema struct {
	Name     string
	Channels []Channel
}

// EmotiBitSchema is the wearable's 8-column layout.
var EmotiBitSchema = Schema{
	Name:     "emotibit",
	Channels: []Channel{ChannelEDA, ChannelHR, ChannelBI, ChannelPG},
}

// ForceSchema is the respiration belt's 5-column layout.
var ForceSchema = Schema{
	Name:     "force",
	Channels: []Channel{ChannelForce},
}

// Columns returns the full ordered column list.
func (s Schema) Columns() []Column {
	cols := make([]Column, 0, len(s.Channels)+4)
	cols = append(cols,
		Column{Name: ColTimestampUnix, Type: ColumnFloat64},
		Column{Name: ColTimestamp, Type: ColumnString},
	)
	for _, c := range s.Channels {
		cols = append(cols, Column{Name: c.String(), Type: ColumnFloat32})
	}
	cols = append(cols,
		Column{Name: ColEventMarker, Type: ColumnString},
		Column{Name: ColCondition, Type: ColumnString},
	)
	return cols
}

// Header returns the column names in order, as written to a CSV header.
func (s Schema) Header() []string {
	cols := s.Columns()
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	return names
}

// Index returns the position of c among the channel columns, or -1.
func (s Schema) Index(c Channel) int {
	for i, ch := range s.Channels {
		if ch == c {
			return i
		}
	}
	return -1
}

// Has reports whether c is one of the schema's channels.
func (s Schema) Has(c Channel) bool { return s.Index(c) >= 0 }

// Equal reports whether two schemas have the same channel columns in order.
func (s Schema) Equal(o Schema) bool {
	if len(s.Channels) != len(o.Channels) {
		return false
	}
	for i := range s.Channels {
		if s.Channels[i] != o.Channels[i] {
			return false
		}
	}
	return true
}

// String renders the column list, e.g. "timestamp_unix,timestamp,EDA,...".
func (s Schema) String() string {
	return strings.Join(s.Header(), ",")
}

// ParseColumns rebuilds a schema from a stored column list. The fixed
// columns must be in place and every channel column must be known.
func ParseColumns(name string, cols []Column) (Schema, error) {
	if len(cols) < 5 {
		return Schema{}, fmt.Errorf("schema %q: %d columns, need at least 5", name, len(cols))
	}
	fixed := []struct {
		idx int
		col Column
	}{
		{0, Column{ColTimestampUnix, ColumnFloat64}},
		{1, Column{ColTimestamp, ColumnString}},
		{len(cols) - 2, Column{ColEventMarker, ColumnString}},
		{len(cols) - 1, Column{ColCondition, ColumnString}},
	}
	for _, f := range fixed {
		if cols[f.idx] != f.col {
			return Schema{}, fmt.Errorf("schema %q: column %d is %s %s, want %s %s",
				name, f.idx, cols[f.idx].Name, cols[f.idx].Type, f.col.Name, f.col.Type)
		}
	}

	s := Schema{Name: name}
	for _, col := range cols[2 : len(cols)-2] {
		c, ok := ParseChannel(col.Name)
		if !ok {
			return Schema{}, fmt.Errorf("schema %q: unknown channel column %q", name, col.Name)
		}
		if col.Type != ColumnFloat32 {
			return Schema{}, fmt.Errorf("schema %q: channel %s has type %s", name, col.Name, col.Type)
		}
		s.Channels = append(s.Channels, c)
	}
	return s, nil
}
