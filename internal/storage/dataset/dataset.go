// Package dataset implements the durable, append-only row container.
//
// One container holds one subject's recording for one day. It is a single
// file: a fixed header, a schema record describing the column list, then one
// CRC-framed record per row. Reopening a container resumes it; a torn or
// damaged tail left by a crash is truncated back to the last intact row.
//
// A Dataset has a single writer. Readers (export, baseline comparison) call
// Scan, which flushes pending bytes and reads up to the committed offset, so
// no reader ever observes a partially written row.
package dataset

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/xtxerr/biostream/config"
	"github.com/xtxerr/biostream/internal/errors"
	"github.com/xtxerr/biostream/internal/logging"
	"github.com/xtxerr/biostream/internal/storage/types"
)

var log = logging.Component("dataset")

// Options configures a Dataset.
type Options struct {
	// SyncMode controls how writes reach the disk.
	// "async" - buffered, flushed on interval
	// "sync" - flushed to the OS after each row
	// "fsync" - flushed and fsynced after each row
	// Close always flushes and fsyncs regardless of mode.
	SyncMode string

	// SyncInterval is the flush interval for async mode.
	// Default: 1s
	SyncInterval time.Duration

	// BufferSize is the size of the write buffer.
	// Default: 64KB
	BufferSize int
}

// DefaultOptions returns default dataset options.
func DefaultOptions() Options {
	return Options{
		SyncMode:     config.DefaultSyncMode,
		SyncInterval: config.DefaultSyncInterval,
		BufferSize:   config.DefaultBufferSize,
	}
}

// Stats holds dataset statistics.
type Stats struct {
	RowsWritten    int64
	RowsRecovered  int64
	RowsRejected   int64
	BytesWritten   int64
	BytesTruncated int64
	SyncsPerformed int64
	Errors         int64
	RowsDropped    int64 // refused because the container failed
}

// Dataset is a durable append-only table bound to one path and schema.
type Dataset struct {
	mu sync.Mutex

	path   string
	schema types.Schema
	opts   Options

	file   *os.File
	writer *bufio.Writer
	size   int64 // logical end of data, including buffered bytes
	rows   int64
	buf    []byte

	// failed is the first write or flush error. bufio errors are sticky, so
	// nothing more can be appended until the container is closed and
	// reopened, which truncates the partial tail.
	failed error

	stopSync chan struct{}
	syncDone chan struct{}

	stats Stats
}

// New creates a Dataset for path. Nothing is touched on disk until Open.
func New(path string, schema types.Schema, opts Options) *Dataset {
	def := DefaultOptions()
	if opts.BufferSize <= 0 {
		opts.BufferSize = def.BufferSize
	}
	if opts.SyncInterval <= 0 {
		opts.SyncInterval = def.SyncInterval
	}
	if opts.SyncMode == "" {
		opts.SyncMode = def.SyncMode
	}
	return &Dataset{
		path:   path,
		schema: schema,
		opts:   opts,
	}
}

// Open creates the container if absent or resumes an existing one. Calling
// Open on an already open Dataset is a no-op.
func (d *Dataset) Open() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.file != nil {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(d.path), 0755); err != nil {
		return fmt.Errorf("create container dir: %w", err)
	}

	f, err := os.OpenFile(d.path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return fmt.Errorf("open container %s: %w", d.path, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat container: %w", err)
	}

	if info.Size() == 0 {
		err = d.create(f)
	} else {
		err = d.resume(f, info.Size())
	}
	if err != nil {
		f.Close()
		return err
	}

	d.file = f
	d.writer = bufio.NewWriterSize(f, d.opts.BufferSize)

	if d.opts.SyncMode == "async" {
		d.stopSync = make(chan struct{})
		d.syncDone = make(chan struct{})
		go d.syncLoop(d.stopSync, d.syncDone)
	}

	log.Info("container open",
		"path", d.path,
		"schema", d.schema.Name,
		"rows", d.rows,
		"sync_mode", d.opts.SyncMode)
	return nil
}

// create writes the header and schema record to an empty file.
func (d *Dataset) create(f *os.File) error {
	var header [headerSize]byte
	binary.LittleEndian.PutUint64(header[0:8], containerMagic)
	binary.LittleEndian.PutUint32(header[8:12], containerVersion)

	buf := appendRecord(header[:], encodeSchema(d.schema))

	if _, err := f.Write(buf); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync header: %w", err)
	}
	d.size = int64(len(buf))
	d.rows = 0
	return nil
}

// resume validates an existing container, counts its rows and truncates a
// damaged tail.
func (d *Dataset) resume(f *os.File, fileSize int64) error {
	rd, err := NewReader(d.path)
	if errors.Is(err, errors.ErrInvalidHeader) && fileSize < minContainerSize(d.schema) {
		// Crashed while the header was being written.
		log.Warn("recreating container with torn header", "path", d.path, "bytes", fileSize)
		if err := f.Truncate(0); err != nil {
			return fmt.Errorf("truncate torn header: %w", err)
		}
		d.stats.BytesTruncated += fileSize
		return d.create(f)
	}
	if err != nil {
		return err
	}
	defer rd.Close()

	if !rd.Schema().Equal(d.schema) {
		return fmt.Errorf("container %s has columns %s, want %s: %w",
			d.path, rd.Schema(), d.schema, errors.ErrSchemaMismatch)
	}

	var rows int64
	for {
		_, err := rd.Next()
		if err == io.EOF || errors.Is(err, errors.ErrCorruptRecord) {
			break
		}
		if err != nil {
			return fmt.Errorf("scan container: %w", err)
		}
		rows++
	}

	good := rd.Offset()
	if good < fileSize {
		if err := f.Truncate(good); err != nil {
			return fmt.Errorf("truncate damaged tail: %w", err)
		}
		d.stats.BytesTruncated += fileSize - good
		log.Warn("truncated damaged container tail",
			"path", d.path,
			"offset", good,
			"bytes", fileSize-good)
	}
	if _, err := f.Seek(good, io.SeekStart); err != nil {
		return fmt.Errorf("seek container end: %w", err)
	}

	d.size = good
	d.rows = rows
	d.stats.RowsRecovered = rows
	return nil
}

// Write appends exactly one row. It is a no-op returning ErrNotOpen when the
// container is not open, and returns an error wrapping ErrWriteRejected for a
// row that does not fit the schema. Both cases are logged; callers are free
// to ignore the error.
func (d *Dataset) Write(row types.Row) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.file == nil {
		log.Warn("write before container open; row dropped", "path", d.path)
		return errors.ErrNotOpen
	}
	if d.failed != nil {
		d.stats.RowsDropped++
		return fmt.Errorf("%s: %w", d.path, errors.ErrContainerFailed)
	}

	if err := d.validate(row); err != nil {
		d.stats.RowsRejected++
		log.Warn("row rejected", "path", d.path, "error", err)
		return err
	}

	payload := encodeRow(d.buf[:0], row)
	d.buf = payload

	if err := d.writeRecord(payload); err != nil {
		return d.fail("write row", err)
	}

	d.rows++
	d.stats.RowsWritten++

	if d.opts.SyncMode == "sync" || d.opts.SyncMode == "fsync" {
		if err := d.syncUnlocked(d.opts.SyncMode == "fsync"); err != nil {
			return d.fail("sync", err)
		}
	}
	return nil
}

// fail records the first write or flush error and logs it once. The row
// being written and any buffered rows may be lost.
func (d *Dataset) fail(op string, err error) error {
	d.stats.Errors++
	if d.failed == nil {
		d.failed = err
		log.Error("container failed; rows are dropped until it is reopened",
			"path", d.path, "op", op, "rows", d.rows, "error", err)
	}
	return fmt.Errorf("%s %s: %w", op, d.path, errors.Join(errors.ErrContainerFailed, err))
}

// Failed returns the error that stopped appends, or nil.
func (d *Dataset) Failed() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.failed
}

func (d *Dataset) validate(row types.Row) error {
	if len(row.Values) != len(d.schema.Channels) {
		return errors.NewRejected("row has %d channel values, schema %s has %d",
			len(row.Values), d.schema.Name, len(d.schema.Channels))
	}
	if n := row.Populated(); n != 1 {
		return errors.NewRejected("row has %d populated channels, want exactly 1", n)
	}
	if math.IsNaN(row.TimestampUnix) || math.IsInf(row.TimestampUnix, 0) {
		return errors.NewRejected("invalid timestamp_unix %v", row.TimestampUnix)
	}
	for _, f := range [...]struct{ name, val string }{
		{types.ColTimestamp, row.Timestamp},
		{types.ColEventMarker, row.EventMarker},
		{types.ColCondition, row.Condition},
	} {
		if len(f.val) > maxStringLen {
			return errors.NewRejected("%s is %d bytes, limit %d", f.name, len(f.val), maxStringLen)
		}
	}
	if rowSize(row)+recordHeaderSize > maxRecordSize {
		return errors.NewRejected("row exceeds %d bytes", maxRecordSize)
	}
	return nil
}

func (d *Dataset) writeRecord(payload []byte) error {
	var header [recordHeaderSize]byte
	binary.LittleEndian.PutUint32(header[0:4], uint32(len(payload)))
	binary.LittleEndian.PutUint32(header[4:8], crc32.ChecksumIEEE(payload))

	if _, err := d.writer.Write(header[:]); err != nil {
		return err
	}
	if _, err := d.writer.Write(payload); err != nil {
		return err
	}

	n := int64(recordHeaderSize + len(payload))
	d.size += n
	d.stats.BytesWritten += n
	return nil
}

// minContainerSize is the size of a freshly created container for schema.
func minContainerSize(schema types.Schema) int64 {
	return int64(headerSize + recordHeaderSize + len(encodeSchema(schema)))
}

// appendRecord frames payload as a record and appends it to buf.
func appendRecord(buf, payload []byte) []byte {
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(payload)))
	buf = binary.LittleEndian.AppendUint32(buf, crc32.ChecksumIEEE(payload))
	return append(buf, payload...)
}

// Sync flushes buffered rows and fsyncs the file.
func (d *Dataset) Sync() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.syncUnlocked(true)
}

func (d *Dataset) syncUnlocked(fsync bool) error {
	if d.writer == nil {
		return nil
	}
	if err := d.writer.Flush(); err != nil {
		return err
	}
	if fsync {
		if err := d.file.Sync(); err != nil {
			return err
		}
	}
	d.stats.SyncsPerformed++
	return nil
}

func (d *Dataset) syncLoop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(d.opts.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			d.mu.Lock()
			if d.failed == nil {
				if err := d.syncUnlocked(false); err != nil {
					d.fail("periodic flush", err)
				}
			}
			d.mu.Unlock()
		}
	}
}

// Close flushes, fsyncs and releases the file. Safe to call multiple times.
func (d *Dataset) Close() error {
	d.mu.Lock()
	stop, done := d.stopSync, d.syncDone
	d.stopSync, d.syncDone = nil, nil
	d.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.file == nil {
		return nil
	}

	err := d.failed
	if err == nil {
		err = d.syncUnlocked(true)
	}
	if cerr := d.file.Close(); err == nil {
		err = cerr
	}
	d.file = nil
	d.writer = nil
	d.failed = nil

	if err != nil {
		d.stats.Errors++
		log.Error("close container", "path", d.path, "error", err)
		return fmt.Errorf("close container: %w", err)
	}
	log.Info("container closed", "path", d.path, "rows", d.rows)
	return nil
}

// Scan calls fn for every row committed so far, in append order. While the
// container is open, pending bytes are flushed under the write lock and the
// read stops at the offset committed at that moment; rows appended during
// the scan are not seen. A closed or failed container is read directly from
// its path, up to the last intact row.
func (d *Dataset) Scan(fn func(types.Row) error) error {
	limit := int64(-1)

	d.mu.Lock()
	if d.file != nil && d.failed == nil {
		if err := d.syncUnlocked(false); err != nil {
			d.mu.Unlock()
			return fmt.Errorf("flush before scan: %w", err)
		}
		limit = d.size
	}
	d.mu.Unlock()

	if limit < 0 {
		if _, err := os.Stat(d.path); os.IsNotExist(err) {
			return fmt.Errorf("%s: %w", d.path, errors.ErrNotOpen)
		}
	}

	rd, err := newReader(d.path, limit)
	if err != nil {
		return err
	}
	defer rd.Close()

	if !rd.Schema().Equal(d.schema) {
		return fmt.Errorf("container %s has columns %s: %w", d.path, rd.Schema(), errors.ErrSchemaMismatch)
	}
	return rd.Each(fn)
}

// Snapshot returns every committed row. Intended for small containers and
// tests; Scan streams.
func (d *Dataset) Snapshot() ([]types.Row, error) {
	var rows []types.Row
	err := d.Scan(func(r types.Row) error {
		rows = append(rows, r)
		return nil
	})
	return rows, err
}

// Len returns the number of rows in the container.
func (d *Dataset) Len() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.rows
}

// IsOpen reports whether the container is open for writing.
func (d *Dataset) IsOpen() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.file != nil
}

// Path returns the container path.
func (d *Dataset) Path() string { return d.path }

// Schema returns the container schema.
func (d *Dataset) Schema() types.Schema { return d.schema }

// Stats returns dataset statistics.
func (d *Dataset) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}
