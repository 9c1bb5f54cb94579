// biostream inspects, exports and analyses recorded containers offline.
//
//	biostream inspect  data/S01/emotibit/2026-10-14_S01_emotibit.bsd
//	biostream inspect  data/S01/emotibit/2026-10-14_S01_emotibit.summary.parquet
//	biostream export   --parquet data/S01/emotibit/2026-10-14_S01_emotibit.bsd
//	biostream compare  --channel HR data/S01/emotibit/2026-10-14_S01_emotibit.bsd
//	biostream summary  data/S01/emotibit/2026-10-14_S01_emotibit.parquet
//	biostream readings --marker task --limit 50 data/S01/emotibit/2026-10-14_S01_emotibit.parquet
//	biostream sql      data/S01/emotibit/2026-10-14_S01_emotibit.parquet "SELECT ..."
//	biostream sessions --catalog data/sessions.db
//	biostream simulate --addr 127.0.0.1:12345 --duration 1m
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/xtxerr/biostream/internal/logging"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var level string

	root := &cobra.Command{
		Use:           "biostream",
		Short:         "Offline tooling for biostream containers",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logging.InitWriter(cmd.ErrOrStderr(), logging.ParseLevel(level), false)
		},
	}
	root.PersistentFlags().StringVar(&level, "log-level", "warn", "log level (debug, info, warn, error)")

	root.AddCommand(
		newInspectCmd(),
		newExportCmd(),
		newCompareCmd(),
		newSummaryCmd(),
		newReadingsCmd(),
		newSQLCmd(),
		newSessionsCmd(),
		newSimulateCmd(),
	)
	return root
}
