package parquet

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/parquet-go/parquet-go"
)

const readBufferSize = 1 << 20

// reader is the shared implementation of the typed readers.
type reader[T any] struct {
	file   *os.File
	reader *parquet.GenericReader[T]
	path   string
}

func newReader[T any](path string) (*reader[T], error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("parquet: %w", err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("parquet: %w", err)
	}

	// The generic reader panics on a malformed footer, so the file is
	// opened and checked first.
	pf, err := parquet.OpenFile(f, st.Size(), parquet.ReadBufferSize(readBufferSize))
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("parquet %s: %w", filepath.Base(path), err)
	}

	return &reader[T]{
		file:   f,
		reader: parquet.NewGenericReader[T](pf),
		path:   path,
	}, nil
}

// Read reads up to n rows. Returns io.EOF once the file is exhausted.
func (r *reader[T]) Read(n int) ([]T, error) {
	rows := make([]T, n)
	count, err := r.reader.Read(rows)
	if count > 0 && errors.Is(err, io.EOF) {
		err = nil
	}
	return rows[:count], err
}

// ReadAll reads all rows from the file.
func (r *reader[T]) ReadAll() ([]T, error) {
	rows := make([]T, r.reader.NumRows())
	if len(rows) == 0 {
		return nil, nil
	}

	n, err := r.reader.Read(rows)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return rows[:n], nil
}

// NumRows returns the total number of rows in the file.
func (r *reader[T]) NumRows() int64 {
	return r.reader.NumRows()
}

// Close closes the reader.
func (r *reader[T]) Close() error {
	if err := r.reader.Close(); err != nil {
		r.file.Close()
		return err
	}
	return r.file.Close()
}

// Path returns the file path.
func (r *reader[T]) Path() string {
	return r.path
}

// ReadingReader reads a long-format snapshot.
type ReadingReader struct {
	*reader[ReadingRow]
}

// NewReadingReader opens a snapshot for reading.
func NewReadingReader(path string) (*ReadingReader, error) {
	r, err := newReader[ReadingRow](path)
	if err != nil {
		return nil, err
	}
	return &ReadingReader{reader: r}, nil
}

// SummaryReader reads partition statistics.
type SummaryReader struct {
	*reader[SummaryRow]
}

// NewSummaryReader opens a summary file for reading.
func NewSummaryReader(path string) (*SummaryReader, error) {
	r, err := newReader[SummaryRow](path)
	if err != nil {
		return nil, err
	}
	return &SummaryReader{reader: r}, nil
}

// FileInfo holds information about a Parquet file.
type FileInfo struct {
	Path    string
	Size    int64
	NumRows int64
	NumCols int
}

// GetFileInfo returns information about a Parquet file.
func GetFileInfo(path string) (*FileInfo, error) {
	stat, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	pf, err := parquet.OpenFile(f, stat.Size())
	if err != nil {
		return nil, fmt.Errorf("open parquet file: %w", err)
	}

	return &FileInfo{
		Path:    path,
		Size:    stat.Size(),
		NumRows: pf.NumRows(),
		NumCols: len(pf.Schema().Fields()),
	}, nil
}
