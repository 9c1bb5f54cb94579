// Package export converts a durable container into flat snapshots.
//
// The CSV snapshot has one line per stored row with the container's column
// order. It is streamed from the container and flushed every ChunkRows rows,
// so the dataset is never held in memory. An optional parquet snapshot in
// long format is written concurrently from a second scan; the same scan
// feeds a per-partition summary written next to it.
//
// Both files are written to a temporary name in the target directory and
// renamed into place once complete, so a reader never sees a partial export.
package export

import (
	"bufio"
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/xtxerr/biostream/config"
	"github.com/xtxerr/biostream/internal/logging"
	"github.com/xtxerr/biostream/internal/storage/aggregate"
	"github.com/xtxerr/biostream/internal/storage/parquet"
	"github.com/xtxerr/biostream/internal/storage/types"
)

var log = logging.Component("export")

// Source is a scannable row container.
type Source interface {
	Scan(fn func(types.Row) error) error
	Schema() types.Schema
	Path() string
}

// Options configures an Exporter.
type Options struct {
	// ChunkRows is the number of rows buffered between flushes.
	ChunkRows int

	// Parquet enables the long-format parquet snapshot.
	Parquet bool

	// ParquetOptions configures the parquet writer.
	ParquetOptions parquet.Options

	// Dir overrides the output directory. Empty writes next to the container.
	Dir string
}

// DefaultOptions returns default export options.
func DefaultOptions() Options {
	return Options{
		ChunkRows:      config.DefaultChunkRows,
		ParquetOptions: parquet.DefaultOptions(),
	}
}

// Result describes a finished export.
type Result struct {
	CSVPath     string
	ParquetPath string
	SummaryPath string
	Rows        int64
	Readings    int64
	Partitions  int
	Duration    time.Duration
}

// Files returns the paths written, in CSV, parquet, summary order.
func (r *Result) Files() []string {
	files := []string{r.CSVPath}
	if r.ParquetPath != "" {
		files = append(files, r.ParquetPath, r.SummaryPath)
	}
	return files
}

// Exporter writes snapshots of a container.
type Exporter struct {
	opts Options
}

// New creates an exporter.
func New(opts Options) *Exporter {
	if opts.ChunkRows <= 0 {
		opts.ChunkRows = config.DefaultChunkRows
	}
	return &Exporter{opts: opts}
}

// Export writes the CSV snapshot, and the parquet snapshot when enabled.
func (e *Exporter) Export(ctx context.Context, src Source) (*Result, error) {
	start := time.Now()
	res := &Result{CSVPath: e.outputPath(src.Path(), ".csv")}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		n, err := WriteCSV(gctx, src, res.CSVPath, e.opts.ChunkRows)
		res.Rows = n
		return err
	})

	if e.opts.Parquet {
		res.ParquetPath = e.outputPath(src.Path(), ".parquet")
		res.SummaryPath = e.outputPath(src.Path(), ".summary.parquet")
		g.Go(func() error {
			parts := aggregate.NewGroup(src.Schema(), true)
			n, err := WriteParquet(gctx, src, res.ParquetPath, e.opts.ChunkRows, e.opts.ParquetOptions, parts.AddRow)
			if err != nil {
				return err
			}
			res.Readings = n

			results := parts.Results()
			res.Partitions = len(results)
			return WriteSummary(res.SummaryPath, results, e.opts.ParquetOptions)
		})
	}

	if err := g.Wait(); err != nil {
		log.Error("export failed", "container", src.Path(), "error", err)
		return nil, err
	}

	res.Duration = time.Since(start)
	log.Info("export complete",
		"container", src.Path(),
		"csv", res.CSVPath,
		"parquet", res.ParquetPath,
		"rows", res.Rows,
		"partitions", res.Partitions,
		"duration", res.Duration,
	)
	return res, nil
}

func (e *Exporter) outputPath(container, ext string) string {
	name := strings.TrimSuffix(filepath.Base(container), filepath.Ext(container)) + ext
	dir := e.opts.Dir
	if dir == "" {
		dir = filepath.Dir(container)
	}
	return filepath.Join(dir, name)
}

// WriteCSV streams src to a CSV file at path and returns the number of rows
// written.
func WriteCSV(ctx context.Context, src Source, path string, chunkRows int) (int64, error) {
	if chunkRows <= 0 {
		chunkRows = config.DefaultChunkRows
	}
	schema := src.Schema()

	var rows int64
	err := atomicWrite(path, func(f *os.File) error {
		bw := bufio.NewWriter(f)
		w := csv.NewWriter(bw)

		if err := w.Write(schema.Header()); err != nil {
			return err
		}

		record := make([]string, len(schema.Channels)+4)
		err := src.Scan(func(r types.Row) error {
			FormatRow(record, r)
			if err := w.Write(record); err != nil {
				return err
			}
			rows++
			if rows%int64(chunkRows) == 0 {
				w.Flush()
				if err := w.Error(); err != nil {
					return err
				}
				return ctx.Err()
			}
			return nil
		})
		if err != nil {
			return err
		}

		w.Flush()
		if err := w.Error(); err != nil {
			return err
		}
		return bw.Flush()
	})
	if err != nil {
		return 0, fmt.Errorf("write csv %s: %w", path, err)
	}
	return rows, nil
}

// FormatRow renders r into record, which must have one slot per column.
// Channel values use the shortest representation that round-trips through
// float32; absent values are empty fields.
func FormatRow(record []string, r types.Row) {
	record[0] = strconv.FormatFloat(r.TimestampUnix, 'f', -1, 64)
	record[1] = r.Timestamp
	for i, v := range r.Values {
		if types.IsNull(v) {
			record[2+i] = ""
			continue
		}
		record[2+i] = strconv.FormatFloat(float64(v), 'g', -1, 32)
	}
	n := len(r.Values)
	record[2+n] = r.EventMarker
	record[3+n] = r.Condition
}

// WriteParquet writes src to a long-format parquet file at path and returns
// the number of readings written. observe, when non-nil, sees every row
// scanned.
func WriteParquet(ctx context.Context, src Source, path string, chunkRows int, opts parquet.Options, observe func(types.Row)) (int64, error) {
	if chunkRows <= 0 {
		chunkRows = config.DefaultChunkRows
	}

	tmp := tempName(path)
	w, err := parquet.NewReadingWriter(tmp, src.Schema(), opts)
	if err != nil {
		return 0, fmt.Errorf("write parquet %s: %w", path, err)
	}

	chunk := make([]types.Row, 0, chunkRows)
	flush := func() error {
		if err := w.Write(chunk); err != nil {
			return err
		}
		chunk = chunk[:0]
		return ctx.Err()
	}

	err = src.Scan(func(r types.Row) error {
		if observe != nil {
			observe(r)
		}
		chunk = append(chunk, r)
		if len(chunk) == chunkRows {
			return flush()
		}
		return nil
	})
	if err == nil {
		err = flush()
	}
	if cerr := w.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(tmp, path)
	}
	if err != nil {
		os.Remove(tmp)
		return 0, fmt.Errorf("write parquet %s: %w", path, err)
	}
	return w.RowCount(), nil
}

// WriteSummary writes one parquet row per (channel, event marker, condition)
// partition to path.
func WriteSummary(path string, results []aggregate.GroupResult, opts parquet.Options) error {
	tmp := tempName(path)
	w, err := parquet.NewSummaryWriter(tmp, opts)
	if err != nil {
		return fmt.Errorf("write summary %s: %w", path, err)
	}
	err = w.Write(results)
	if cerr := w.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(tmp, path)
	}
	if err != nil {
		os.Remove(tmp)
		return fmt.Errorf("write summary %s: %w", path, err)
	}
	return nil
}

// atomicWrite creates a temporary file next to path, calls fn, fsyncs, and
// renames it over path. The temporary file is removed on any error.
func atomicWrite(path string, fn func(*os.File) error) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	f, err := os.Create(tempName(path))
	if err != nil {
		return err
	}
	tmp := f.Name()

	err = fn(f)
	if err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(tmp, path)
	}
	if err != nil {
		os.Remove(tmp)
	}
	return err
}

func tempName(path string) string {
	return filepath.Join(filepath.Dir(path), "."+filepath.Base(path)+".tmp")
}
