package dataset

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/xtxerr/biostream/internal/storage/types"
)

// Container format (binary, little-endian):
//
//	File header:  8 bytes magic + 4 bytes version
//	Schema record: [4 bytes length][4 bytes crc32][schema payload]
//	Row records:   [4 bytes length][4 bytes crc32][row payload] ...
//
// Schema payload:
//   - Schema name length (2 bytes) + name
//   - Column count (2 bytes)
//   - Per column: name length (2 bytes) + name, type (1 byte)
//
// Row payload:
//   - timestamp_unix (8 bytes, float64)
//   - timestamp length (2 bytes) + ISO-8601 string
//   - One 4-byte float32 per channel column, NaN for null
//   - event_marker length (2 bytes) + string
//   - condition length (2 bytes) + string

const (
	containerMagic   = 0x4253445345540001 // "BSDSET" + version 1
	containerVersion = 1
	headerSize       = 12 // 8 bytes magic + 4 bytes version
	recordHeaderSize = 8  // 4 bytes length + 4 bytes crc

	// maxRecordSize bounds a single record so a corrupt length field cannot
	// trigger a huge allocation.
	maxRecordSize = 1 << 20
	maxStringLen  = math.MaxUint16
)

func encodeSchema(s types.Schema) []byte {
	cols := s.Columns()
	buf := make([]byte, 0, 16+len(cols)*16)
	buf = appendString(buf, s.Name)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(cols)))
	for _, c := range cols {
		buf = appendString(buf, c.Name)
		buf = append(buf, byte(c.Type))
	}
	return buf
}

func decodeSchema(data []byte) (types.Schema, error) {
	name, offset, err := readString(data, 0)
	if err != nil {
		return types.Schema{}, fmt.Errorf("schema name: %w", err)
	}
	if offset+2 > len(data) {
		return types.Schema{}, fmt.Errorf("data too short for column count")
	}
	count := int(binary.LittleEndian.Uint16(data[offset:]))
	offset += 2

	cols := make([]types.Column, count)
	for i := range cols {
		cols[i].Name, offset, err = readString(data, offset)
		if err != nil {
			return types.Schema{}, fmt.Errorf("column %d name: %w", i, err)
		}
		if offset+1 > len(data) {
			return types.Schema{}, fmt.Errorf("column %d: data too short for type", i)
		}
		cols[i].Type = types.ColumnType(data[offset])
		offset++
	}
	return types.ParseColumns(name, cols)
}

// rowSize returns the encoded payload size of r.
func rowSize(r types.Row) int {
	return 8 + 2 + len(r.Timestamp) + 4*len(r.Values) + 2 + len(r.EventMarker) + 2 + len(r.Condition)
}

// encodeRow appends the payload of r to buf.
func encodeRow(buf []byte, r types.Row) []byte {
	buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(r.TimestampUnix))
	buf = appendString(buf, r.Timestamp)
	for _, v := range r.Values {
		buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(v))
	}
	buf = appendString(buf, r.EventMarker)
	buf = appendString(buf, r.Condition)
	return buf
}

// decodeRow decodes a row payload with numChannels channel columns.
func decodeRow(data []byte, numChannels int) (types.Row, error) {
	var r types.Row
	var err error

	if len(data) < 8 {
		return r, fmt.Errorf("data too short for timestamp_unix")
	}
	r.TimestampUnix = math.Float64frombits(binary.LittleEndian.Uint64(data))
	offset := 8

	r.Timestamp, offset, err = readString(data, offset)
	if err != nil {
		return r, fmt.Errorf("timestamp: %w", err)
	}

	if offset+4*numChannels > len(data) {
		return r, fmt.Errorf("data too short for %d channels", numChannels)
	}
	r.Values = make([]float32, numChannels)
	for i := range r.Values {
		r.Values[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[offset:]))
		offset += 4
	}

	r.EventMarker, offset, err = readString(data, offset)
	if err != nil {
		return r, fmt.Errorf("event_marker: %w", err)
	}
	r.Condition, offset, err = readString(data, offset)
	if err != nil {
		return r, fmt.Errorf("condition: %w", err)
	}
	if offset != len(data) {
		return r, fmt.Errorf("%d trailing bytes", len(data)-offset)
	}
	return r, nil
}

// appendString appends a length-prefixed string to the buffer.
func appendString(buf []byte, s string) []byte {
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(s)))
	return append(buf, s...)
}

// readString reads a length-prefixed string from the buffer.
func readString(data []byte, offset int) (string, int, error) {
	if offset+2 > len(data) {
		return "", offset, fmt.Errorf("data too short for string length")
	}

	length := int(binary.LittleEndian.Uint16(data[offset:]))
	offset += 2

	if offset+length > len(data) {
		return "", offset, fmt.Errorf("data too short for string content")
	}

	return string(data[offset : offset+length]), offset + length, nil
}
