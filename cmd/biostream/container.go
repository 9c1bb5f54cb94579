package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/xtxerr/biostream/internal/baseline"
	"github.com/xtxerr/biostream/internal/clock"
	"github.com/xtxerr/biostream/internal/export"
	"github.com/xtxerr/biostream/internal/storage/dataset"
	"github.com/xtxerr/biostream/internal/storage/parquet"
	"github.com/xtxerr/biostream/internal/storage/types"
)

// =============================================================================
// inspect
// =============================================================================

type inspection struct {
	schema   types.Schema
	rows     int64
	channels []int64
	tags     map[string]int64 // "marker/condition" -> rows
	first    float64
	last     float64
	size     int64
	intact   int64
}

func inspectContainer(path string) (*inspection, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	rd, err := dataset.NewReader(path)
	if err != nil {
		return nil, err
	}
	defer rd.Close()

	in := &inspection{
		schema:   rd.Schema(),
		channels: make([]int64, len(rd.Schema().Channels)),
		tags:     make(map[string]int64),
		size:     fi.Size(),
	}
	err = rd.Each(func(r types.Row) error {
		if in.rows == 0 {
			in.first = r.TimestampUnix
		}
		in.last = r.TimestampUnix
		in.rows++
		for i := range in.channels {
			if _, ok := r.Value(i); ok {
				in.channels[i]++
			}
		}
		in.tags[r.EventMarker+"/"+r.Condition]++
		return nil
	})
	in.intact = rd.Offset()
	return in, err
}

// summarySuffix names the partition summary written next to a snapshot.
const summarySuffix = ".summary.parquet"

// inspectParquet describes an exported snapshot. A summary file also has its
// partitions listed.
func inspectParquet(cmd *cobra.Command, path string) error {
	info, err := parquet.GetFileInfo(path)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "parquet  %s\n", info.Path)
	fmt.Fprintf(out, "rows     %d\n", info.NumRows)
	fmt.Fprintf(out, "columns  %d\n", info.NumCols)
	fmt.Fprintf(out, "size     %d bytes\n", info.Size)

	if !strings.HasSuffix(path, summarySuffix) {
		return inspectReadings(cmd, path)
	}
	r, err := parquet.NewSummaryReader(path)
	if err != nil {
		return err
	}
	defer r.Close()
	rows, err := r.ReadAll()
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "\nCHANNEL\tEVENT_MARKER\tCONDITION\tCOUNT\tMEAN\tP50")
	for _, s := range rows {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%.4g\t%.4g\n",
			s.Channel, s.EventMarker, s.Condition, s.Count, s.Mean, s.P50)
	}
	return w.Flush()
}

// inspectReadings counts the readings per channel of a long-format snapshot.
func inspectReadings(cmd *cobra.Command, path string) error {
	r, err := parquet.NewReadingReader(path)
	if err != nil {
		return err
	}
	defer r.Close()

	counts := make(map[string]int64)
	var order []string
	for {
		batch, err := r.Read(4096)
		for _, rd := range batch {
			if counts[rd.Channel] == 0 {
				order = append(order, rd.Channel)
			}
			counts[rd.Channel]++
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			break
		}
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "\nCHANNEL\tREADINGS")
	for _, c := range order {
		fmt.Fprintf(w, "%s\t%d\n", c, counts[c])
	}
	return w.Flush()
}

func newInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <container|snapshot.parquet>",
		Short: "Show schema, row counts and tag partitions of a container or snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.HasSuffix(args[0], ".parquet") {
				return inspectParquet(cmd, args[0])
			}
			in, err := inspectContainer(args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "schema   %s %s\n", in.schema.Name, in.schema)
			fmt.Fprintf(out, "rows     %d\n", in.rows)
			if in.rows > 0 {
				first := time.Unix(0, int64(in.first*1e9))
				last := time.Unix(0, int64(in.last*1e9))
				fmt.Fprintf(out, "span     %s .. %s (%s)\n", clock.Format(first), clock.Format(last), last.Sub(first).Round(time.Millisecond))
			}
			fmt.Fprintf(out, "size     %d bytes", in.size)
			if tail := in.size - in.intact; tail > 0 {
				fmt.Fprintf(out, " (%d trailing bytes not intact)", tail)
			}
			fmt.Fprintln(out)

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "\nCHANNEL\tROWS")
			for i, c := range in.schema.Channels {
				fmt.Fprintf(w, "%s\t%d\n", c, in.channels[i])
			}
			fmt.Fprintln(w, "\nEVENT_MARKER/CONDITION\tROWS")
			keys := make([]string, 0, len(in.tags))
			for k := range in.tags {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Fprintf(w, "%s\t%d\n", k, in.tags[k])
			}
			return w.Flush()
		},
	}
}

// =============================================================================
// export
// =============================================================================

// openClosed returns a handle on a container that is not being written.
// Scan on an unopened Dataset reads the file directly.
func openClosed(path string) (*dataset.Dataset, error) {
	rd, err := dataset.NewReader(path)
	if err != nil {
		return nil, err
	}
	schema := rd.Schema()
	rd.Close()
	return dataset.New(path, schema, dataset.DefaultOptions()), nil
}

func newExportCmd() *cobra.Command {
	opts := export.DefaultOptions()
	var compression string

	cmd := &cobra.Command{
		Use:   "export <container>...",
		Short: "Export containers to CSV and optionally parquet",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ParquetOptions.Compression = parquet.ParseCompressionType(compression)
			exp := export.New(opts)

			for _, path := range args {
				ds, err := openClosed(path)
				if err != nil {
					return err
				}
				res, err := exp.Export(cmd.Context(), ds)
				if err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %d rows -> %s", path, res.Rows, res.CSVPath)
				if res.ParquetPath != "" {
					fmt.Fprintf(cmd.OutOrStdout(), ", %s (%d readings), %s (%d partitions)",
						res.ParquetPath, res.Readings, res.SummaryPath, res.Partitions)
				}
				fmt.Fprintln(cmd.OutOrStdout())
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.Dir, "dir", "", "output directory (default: next to the container)")
	f.IntVar(&opts.ChunkRows, "chunk-rows", opts.ChunkRows, "rows buffered between flushes")
	f.BoolVar(&opts.Parquet, "parquet", false, "also write the long-format parquet snapshot")
	f.StringVar(&compression, "compression", "zstd", "parquet compression (none, snappy, gzip, zstd, lz4)")
	return cmd
}

// =============================================================================
// compare
// =============================================================================

// lastRowTime returns the timestamp of the last row, the reference point for
// the live lookback window of a finished recording.
func lastRowTime(ds *dataset.Dataset) (time.Time, error) {
	var last types.Row
	err := ds.Scan(func(r types.Row) error {
		last = r
		return nil
	})
	if err != nil {
		return time.Time{}, err
	}
	return last.Time(), nil
}

func newCompareCmd() *cobra.Command {
	opts := baseline.DefaultOptions()
	var channel string

	cmd := &cobra.Command{
		Use:   "compare <container>",
		Short: "Compare live partitions against the baseline partition",
		Long: "Compare live partitions against the baseline partition. The lookback\n" +
			"window ends at the last recorded row; --lookback 0 uses every live row.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ds, err := openClosed(args[0])
			if err != nil {
				return err
			}
			end, err := lastRowTime(ds)
			if err != nil {
				return err
			}
			cmp := baseline.New(ds, clock.NewStepped(end, 0), opts)

			var results []baseline.Result
			if channel != "" {
				ch, ok := types.ParseChannelFold(channel)
				if !ok {
					return fmt.Errorf("unknown channel %q", channel)
				}
				r, err := cmp.Compare(ch)
				if err != nil {
					return err
				}
				results = append(results, r)
			} else {
				results, err = cmp.CompareAll()
				if err != nil {
					return err
				}
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "CHANNEL\tBASELINE\tLIVE\tBASELINE_P50\tLIVE_P50\tSTATUS")
			for _, r := range results {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", r.Channel,
					stat(r.BaselineMean, r.BaselineCount), stat(r.LiveMean, r.LiveCount),
					stat(r.BaselineMedian, -1), stat(r.LiveMedian, -1), r.Status)
			}
			return w.Flush()
		},
	}

	f := cmd.Flags()
	f.StringVar(&channel, "channel", "", "compare one channel (default: all)")
	f.StringVar(&opts.BaselineMarker, "baseline-marker", opts.BaselineMarker, "event marker of the baseline partition")
	f.StringVar(&opts.LiveMarker, "live-marker", "", "restrict the live partition to this event marker")
	f.StringVar(&opts.LiveCondition, "live-condition", "", "restrict the live partition to this condition")
	f.DurationVar(&opts.Lookback, "lookback", opts.Lookback, "live window ending at the last row")
	return cmd
}

func stat(v *float64, n int64) string {
	if v == nil {
		return "-"
	}
	if n < 0 {
		return fmt.Sprintf("%.4g", *v)
	}
	return fmt.Sprintf("%.4g (n=%d)", *v, n)
}
