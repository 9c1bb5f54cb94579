package parquet

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress"

	"github.com/xtxerr/biostream/internal/storage/aggregate"
	"github.com/xtxerr/biostream/internal/storage/types"
)

// Options configures the snapshot writers.
type Options struct {
	Compression CompressionType

	// RowGroupSize caps the rows per row group. Zero leaves the
	// library default.
	RowGroupSize int64
}

// CompressionType selects the page codec.
type CompressionType int

const (
	CompressionNone CompressionType = iota
	CompressionSnappy
	CompressionZstd
	CompressionLZ4
	CompressionGzip
)

var codecs = [...]struct {
	name  string
	codec compress.Codec
}{
	CompressionNone:   {"none", &parquet.Uncompressed},
	CompressionSnappy: {"snappy", &parquet.Snappy},
	CompressionZstd:   {"zstd", &parquet.Zstd},
	CompressionLZ4:    {"lz4", &parquet.Lz4Raw},
	CompressionGzip:   {"gzip", &parquet.Gzip},
}

// DefaultOptions returns zstd pages in row groups of 100k readings.
func DefaultOptions() Options {
	return Options{
		Compression:  CompressionZstd,
		RowGroupSize: 100000,
	}
}

// ParseCompressionType maps a codec name to its type. The empty string
// means none; an unrecognized name falls back to zstd, since storage
// config validation has already rejected it on the configured path.
func ParseCompressionType(s string) CompressionType {
	if s == "" {
		return CompressionNone
	}
	for ct, c := range codecs {
		if c.name == s {
			return CompressionType(ct)
		}
	}
	return CompressionZstd
}

func (ct CompressionType) String() string {
	if ct < 0 || int(ct) >= len(codecs) {
		return fmt.Sprintf("CompressionType(%d)", int(ct))
	}
	return codecs[ct].name
}

func (ct CompressionType) codec() compress.Codec {
	if ct < 0 || int(ct) >= len(codecs) {
		return &parquet.Uncompressed
	}
	return codecs[ct].codec
}

// ReadingRow is one channel value in long format. A sparse-wide container
// row becomes exactly one ReadingRow.
type ReadingRow struct {
	TimestampUnix float64 `parquet:"timestamp_unix"`
	Timestamp     string  `parquet:"timestamp"`
	Channel       string  `parquet:"channel,dict"`
	Value         float32 `parquet:"value"`
	EventMarker   string  `parquet:"event_marker,dict"`
	Condition     string  `parquet:"condition,dict"`
}

// SummaryRow is the statistics of one (channel, event marker, condition)
// partition.
type SummaryRow struct {
	Channel     string  `parquet:"channel,dict"`
	EventMarker string  `parquet:"event_marker,dict"`
	Condition   string  `parquet:"condition,dict"`
	Count       int64   `parquet:"count"`
	Mean        float64 `parquet:"mean"`
	Min         float64 `parquet:"min"`
	Max         float64 `parquet:"max"`
	P50         float64 `parquet:"p50,optional"`
	P90         float64 `parquet:"p90,optional"`
	P99         float64 `parquet:"p99,optional"`
	FirstTs     float64 `parquet:"first_ts"`
	LastTs      float64 `parquet:"last_ts"`
}

// ReadingRows converts a container row to long format, one entry per
// populated channel.
func ReadingRows(schema types.Schema, r types.Row) []ReadingRow {
	out := make([]ReadingRow, 0, 1)
	for i, c := range schema.Channels {
		v, ok := r.Value(i)
		if !ok {
			continue
		}
		out = append(out, ReadingRow{
			TimestampUnix: r.TimestampUnix,
			Timestamp:     r.Timestamp,
			Channel:       c.String(),
			Value:         v,
			EventMarker:   r.EventMarker,
			Condition:     r.Condition,
		})
	}
	return out
}

// SummaryToRow converts a grouped aggregate result.
func SummaryToRow(g aggregate.GroupResult) SummaryRow {
	row := SummaryRow{
		Channel:     g.Channel.String(),
		EventMarker: g.EventMarker,
		Condition:   g.Condition,
		Count:       g.Count,
		Mean:        g.Mean,
		Min:         g.Min,
		Max:         g.Max,
		FirstTs:     g.FirstTs,
		LastTs:      g.LastTs,
	}
	if g.HasQuantiles {
		row.P50, row.P90, row.P99 = g.P50, g.P90, g.P99
	}
	return row
}

// writer is the shared implementation of the typed writers.
type writer[T any] struct {
	mu       sync.Mutex
	path     string
	file     *os.File
	writer   *parquet.GenericWriter[T]
	rowCount int64
	closed   bool
}

func newWriter[T any](path string, opts Options) (*writer[T], error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("parquet: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("parquet: %w", err)
	}

	writerOpts := []parquet.WriterOption{
		parquet.Compression(opts.Compression.codec()),
	}
	if opts.RowGroupSize > 0 {
		writerOpts = append(writerOpts, parquet.MaxRowsPerRowGroup(opts.RowGroupSize))
	}

	return &writer[T]{
		path:   path,
		file:   f,
		writer: parquet.NewGenericWriter[T](f, writerOpts...),
	}, nil
}

func (w *writer[T]) write(rows []T) error {
	if len(rows) == 0 {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrWriterClosed
	}

	n, err := w.writer.Write(rows)
	w.rowCount += int64(n)
	if err != nil {
		return fmt.Errorf("parquet %s: %w", filepath.Base(w.path), err)
	}
	return nil
}

// Close flushes the footer and closes the file.
func (w *writer[T]) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	// The footer is written by the writer; the file must be closed either way.
	werr := w.writer.Close()
	ferr := w.file.Close()
	if werr != nil {
		return fmt.Errorf("parquet %s: %w", filepath.Base(w.path), werr)
	}
	return ferr
}

// RowCount returns the number of rows written.
func (w *writer[T]) RowCount() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rowCount
}

// Path returns the file path.
func (w *writer[T]) Path() string {
	return w.path
}

// ReadingWriter writes the long-format row snapshot.
type ReadingWriter struct {
	*writer[ReadingRow]
	schema types.Schema
}

// NewReadingWriter creates a snapshot writer for rows of schema.
func NewReadingWriter(path string, schema types.Schema, opts Options) (*ReadingWriter, error) {
	w, err := newWriter[ReadingRow](path, opts)
	if err != nil {
		return nil, err
	}
	return &ReadingWriter{writer: w, schema: schema}, nil
}

// Write converts and writes container rows.
func (w *ReadingWriter) Write(rows []types.Row) error {
	out := make([]ReadingRow, 0, len(rows))
	for _, r := range rows {
		out = append(out, ReadingRows(w.schema, r)...)
	}
	return w.write(out)
}

// SummaryWriter writes partition statistics.
type SummaryWriter struct {
	*writer[SummaryRow]
}

// NewSummaryWriter creates a summary writer.
func NewSummaryWriter(path string, opts Options) (*SummaryWriter, error) {
	w, err := newWriter[SummaryRow](path, opts)
	if err != nil {
		return nil, err
	}
	return &SummaryWriter{writer: w}, nil
}

// Write writes grouped aggregate results.
func (w *SummaryWriter) Write(results []aggregate.GroupResult) error {
	rows := make([]SummaryRow, len(results))
	for i := range results {
		rows[i] = SummaryToRow(results[i])
	}
	return w.write(rows)
}

// ErrWriterClosed is returned by writes after Close.
var ErrWriterClosed = errors.New("parquet: writer closed")
