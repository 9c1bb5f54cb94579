package dataset

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"

	"github.com/xtxerr/biostream/internal/errors"
	"github.com/xtxerr/biostream/internal/storage/types"
)

// Reader reads rows from a container file. It never takes the writer's
// lock; readers concurrent with an open Dataset go through Dataset.Scan,
// which bounds the read to the committed offset.
type Reader struct {
	path   string
	file   *os.File
	r      *bufio.Reader
	schema types.Schema

	offset int64 // end of the last intact record
	limit  int64 // read bound, <0 for the whole file

	// Statistics
	stats ReaderStats
}

// ReaderStats holds reader statistics.
type ReaderStats struct {
	RowsRead  int64
	BytesRead int64
}

// NewReader opens path and validates its header and schema record.
func NewReader(path string) (*Reader, error) {
	return newReader(path, -1)
}

func newReader(path string, limit int64) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open container: %w", err)
	}

	rd := &Reader{
		path:  path,
		file:  f,
		r:     bufio.NewReaderSize(f, 64*1024),
		limit: limit,
	}
	if err := rd.readHeader(); err != nil {
		f.Close()
		return nil, err
	}
	return rd, nil
}

func (rd *Reader) readHeader() error {
	var header [headerSize]byte
	if _, err := io.ReadFull(rd.r, header[:]); err != nil {
		return fmt.Errorf("read header: %v: %w", err, errors.ErrInvalidHeader)
	}

	magic := binary.LittleEndian.Uint64(header[0:8])
	if magic != containerMagic {
		return fmt.Errorf("invalid magic: expected %x, got %x: %w", uint64(containerMagic), magic, errors.ErrInvalidHeader)
	}

	version := binary.LittleEndian.Uint32(header[8:12])
	if version != containerVersion {
		return fmt.Errorf("unsupported version %d: %w", version, errors.ErrInvalidHeader)
	}
	rd.offset = headerSize

	payload, err := rd.readRecord()
	if err != nil {
		return fmt.Errorf("read schema record: %v: %w", err, errors.ErrInvalidHeader)
	}
	schema, err := decodeSchema(payload)
	if err != nil {
		return fmt.Errorf("decode schema: %v: %w", err, errors.ErrInvalidHeader)
	}
	rd.schema = schema
	return nil
}

// readRecord reads and verifies the next framed record.
// Returns io.EOF at a clean end of data.
func (rd *Reader) readRecord() ([]byte, error) {
	if rd.limit >= 0 && rd.offset >= rd.limit {
		return nil, io.EOF
	}

	var header [recordHeaderSize]byte
	if _, err := io.ReadFull(rd.r, header[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("read record header: %v: %w", err, errors.ErrCorruptRecord)
	}

	length := binary.LittleEndian.Uint32(header[0:4])
	expectedCRC := binary.LittleEndian.Uint32(header[4:8])

	if length > maxRecordSize {
		return nil, fmt.Errorf("record too large: %d bytes: %w", length, errors.ErrCorruptRecord)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(rd.r, payload); err != nil {
		return nil, fmt.Errorf("read payload: %v: %w", err, errors.ErrCorruptRecord)
	}

	if actualCRC := crc32.ChecksumIEEE(payload); actualCRC != expectedCRC {
		return nil, fmt.Errorf("CRC mismatch: expected %x, got %x: %w", expectedCRC, actualCRC, errors.ErrCorruptRecord)
	}

	n := int64(recordHeaderSize) + int64(length)
	rd.offset += n
	rd.stats.BytesRead += n
	return payload, nil
}

// Next returns the next row. Returns io.EOF when there are no more rows and
// an error wrapping ErrCorruptRecord at a torn or damaged record.
func (rd *Reader) Next() (types.Row, error) {
	payload, err := rd.readRecord()
	if err != nil {
		return types.Row{}, err
	}
	row, err := decodeRow(payload, len(rd.schema.Channels))
	if err != nil {
		return types.Row{}, fmt.Errorf("decode row: %v: %w", err, errors.ErrCorruptRecord)
	}
	rd.stats.RowsRead++
	return row, nil
}

// Each calls fn for every intact row in order. A damaged tail ends the
// iteration without error; the number of rows read is available in Stats.
func (rd *Reader) Each(fn func(types.Row) error) error {
	for {
		row, err := rd.Next()
		if err == io.EOF {
			return nil
		}
		if errors.Is(err, errors.ErrCorruptRecord) {
			log.Warn("container has a damaged tail; stopping read",
				"path", rd.path, "offset", rd.offset, "error", err)
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(row); err != nil {
			return err
		}
	}
}

// ReadAll reads every intact row.
func (rd *Reader) ReadAll() ([]types.Row, error) {
	var rows []types.Row
	err := rd.Each(func(r types.Row) error {
		rows = append(rows, r)
		return nil
	})
	return rows, err
}

// Schema returns the schema stored in the container header.
func (rd *Reader) Schema() types.Schema { return rd.schema }

// Offset returns the file offset just past the last intact record read.
func (rd *Reader) Offset() int64 { return rd.offset }

// Stats returns reader statistics.
func (rd *Reader) Stats() ReaderStats { return rd.stats }

// Path returns the container path.
func (rd *Reader) Path() string { return rd.path }

// Close closes the reader.
func (rd *Reader) Close() error {
	if rd.file != nil {
		return rd.file.Close()
	}
	return nil
}

// ReadFile is a convenience function to read every row of a container.
func ReadFile(path string) (types.Schema, []types.Row, error) {
	rd, err := NewReader(path)
	if err != nil {
		return types.Schema{}, nil, err
	}
	defer rd.Close()

	rows, err := rd.ReadAll()
	return rd.schema, rows, err
}
