package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/xtxerr/biostream/internal/catalog"
	storageconfig "github.com/xtxerr/biostream/internal/storage/config"
	"github.com/xtxerr/biostream/internal/storage/query"
)

func queryFlags(cmd *cobra.Command, cfg *storageconfig.QueryConfig) {
	f := cmd.Flags()
	f.StringVar(&cfg.MemoryLimit, "memory-limit", cfg.MemoryLimit, "DuckDB memory limit")
	f.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "per-query timeout")
	f.IntVar(&cfg.MaxRows, "max-rows", cfg.MaxRows, "maximum rows returned by sql")
}

// =============================================================================
// summary
// =============================================================================

func newSummaryCmd() *cobra.Command {
	cfg := storageconfig.DefaultConfig().Query
	var f query.Filter

	cmd := &cobra.Command{
		Use:   "summary <snapshot.parquet>",
		Short: "Per channel, event marker and condition statistics of a parquet snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := query.New(cfg)
			if err != nil {
				return err
			}
			defer svc.Close()

			rows, err := svc.Summary(cmd.Context(), args[0], f)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "CHANNEL\tEVENT_MARKER\tCONDITION\tCOUNT\tMEAN\tMIN\tMAX\tP50\tP90\tP99")
			for _, r := range rows {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%.4g\t%.4g\t%.4g\t%.4g\t%.4g\t%.4g\n",
					r.Channel, r.EventMarker, r.Condition, r.Count,
					r.Mean, r.Min, r.Max, r.P50, r.P90, r.P99)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&f.Channel, "channel", "", "only this channel")
	cmd.Flags().StringVar(&f.EventMarker, "marker", "", "only this event marker")
	cmd.Flags().StringVar(&f.Condition, "condition", "", "only this condition")
	queryFlags(cmd, &cfg)
	return cmd
}

// =============================================================================
// readings
// =============================================================================

func newReadingsCmd() *cobra.Command {
	cfg := storageconfig.DefaultConfig().Query
	f := query.Filter{Limit: 100}

	cmd := &cobra.Command{
		Use:   "readings <snapshot.parquet>",
		Short: "List readings of a parquet snapshot in timestamp order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := query.New(cfg)
			if err != nil {
				return err
			}
			defer svc.Close()

			rows, err := svc.Readings(cmd.Context(), args[0], f)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TIMESTAMP\tCHANNEL\tVALUE\tEVENT_MARKER\tCONDITION")
			for _, r := range rows {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					r.Timestamp, r.Channel, cell(r.Value), r.EventMarker, r.Condition)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "(%d readings)\n", len(rows))
			return nil
		},
	}

	fl := cmd.Flags()
	fl.StringVar(&f.Channel, "channel", "", "only this channel")
	fl.StringVar(&f.EventMarker, "marker", "", "only this event marker")
	fl.StringVar(&f.Condition, "condition", "", "only this condition")
	fl.Float64Var(&f.Since, "since", 0, "only readings at or after this unix time")
	fl.Float64Var(&f.Until, "until", 0, "only readings at or before this unix time")
	fl.IntVar(&f.Limit, "limit", f.Limit, "maximum readings listed, 0 for all")
	queryFlags(cmd, &cfg)
	return cmd
}

// =============================================================================
// sql
// =============================================================================

// readingsView is the view name a snapshot is registered under.
const readingsView = "readings"

func newSQLCmd() *cobra.Command {
	cfg := storageconfig.DefaultConfig().Query

	cmd := &cobra.Command{
		Use:   "sql <snapshot.parquet> <query>",
		Short: "Run SQL against a parquet snapshot, exposed as the view " + readingsView,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := query.New(cfg)
			if err != nil {
				return err
			}
			defer svc.Close()

			ctx := cmd.Context()
			if err := svc.Register(ctx, readingsView, args[0]); err != nil {
				return err
			}
			cols, err := svc.Columns(ctx, args[1])
			if err != nil {
				return err
			}
			rows, err := svc.ExecuteSQL(ctx, args[1])
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			for i, c := range cols {
				if i > 0 {
					fmt.Fprint(w, "\t")
				}
				fmt.Fprint(w, c)
			}
			fmt.Fprintln(w)
			for _, row := range rows {
				for i, c := range cols {
					if i > 0 {
						fmt.Fprint(w, "\t")
					}
					fmt.Fprint(w, cell(row[c]))
				}
				fmt.Fprintln(w)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "(%d rows)\n", len(rows))
			return nil
		},
	}
	queryFlags(cmd, &cfg)
	return cmd
}

func cell(v interface{}) string {
	switch v := v.(type) {
	case nil:
		return "NULL"
	case float32:
		return fmt.Sprintf("%.6g", v)
	case float64:
		return fmt.Sprintf("%.6g", v)
	case []byte:
		return string(v)
	case time.Time:
		return v.Format(time.RFC3339Nano)
	default:
		return fmt.Sprint(v)
	}
}

// =============================================================================
// sessions
// =============================================================================

func newSessionsCmd() *cobra.Command {
	cfg := catalog.DefaultConfig()
	var filter catalog.Filter
	var status string

	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List recording sessions from the catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.Path == "" {
				return fmt.Errorf("--catalog is required")
			}
			cat, err := catalog.Open(cfg)
			if err != nil {
				return err
			}
			defer cat.Close()

			filter.Status = catalog.Status(status)
			list, err := cat.List(cmd.Context(), filter)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSUBJECT\tSENSOR\tSTARTED\tDURATION\tSTATUS\tROWS\tCONTAINER")
			for _, s := range list {
				dur := "-"
				if !s.StoppedAt.IsZero() {
					dur = s.StoppedAt.Sub(s.StartedAt).Round(time.Second).String()
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
					s.ID, s.Subject, s.Sensor, s.StartedAt.Format(time.DateTime),
					dur, s.Status, s.Rows, s.Path)
			}
			return w.Flush()
		},
	}

	f := cmd.Flags()
	f.StringVar(&cfg.Path, "catalog", "", "catalog database path")
	f.StringVar(&filter.Subject, "subject", "", "only this subject")
	f.StringVar(&filter.Sensor, "sensor", "", "only this sensor")
	f.StringVar(&status, "status", "", "only this status (recording, stopped, interrupted)")
	f.IntVar(&filter.Limit, "limit", 20, "maximum sessions listed")
	return cmd
}
