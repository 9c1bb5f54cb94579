// biostreamd records physiological sensor streams for one subject.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/term"

	"github.com/xtxerr/biostream/internal/catalog"
	"github.com/xtxerr/biostream/internal/clock"
	"github.com/xtxerr/biostream/internal/instrument"
	"github.com/xtxerr/biostream/internal/loader"
	"github.com/xtxerr/biostream/internal/logging"
	"github.com/xtxerr/biostream/internal/session"
	"github.com/xtxerr/biostream/internal/upload"
)

// Version is set at build time via ldflags
var Version = "dev"

var log = logging.Component("biostreamd")

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "biostreamd:", err)
		os.Exit(1)
	}
}

func run() error {
	// CLI flags
	cfgPath := flag.String("config", "config.yaml", "config file path")
	subject := flag.String("subject", "", "subject id (overrides config)")
	dataDir := flag.String("data-dir", "", "data directory (overrides config)")
	listen := flag.String("listen", "", "EmotiBit OSC listen address (overrides config)")
	metricsListen := flag.String("metrics", "", "metrics listen address (overrides config)")
	autostart := flag.Bool("start", false, "start recording immediately")
	noConsole := flag.Bool("no-console", false, "disable the interactive console")
	flag.Parse()

	// Load config
	cfg, err := loader.Load(*cfgPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = loader.DefaultConfig()
	}

	// CLI overrides
	if *subject != "" {
		cfg.Subject = *subject
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}
	if *listen != "" {
		cfg.EmotiBit.Listen = *listen
	}
	if *metricsListen != "" {
		cfg.Metrics.Listen = *metricsListen
	}
	cfg.Normalize()

	if err := loader.Validate(cfg); err != nil {
		return err
	}

	if err := cfg.Storage.EnsureDirectories(); err != nil {
		return err
	}

	// The console owns the terminal; logs go to a file beside the data.
	console := !*noConsole && term.IsTerminal(int(os.Stdin.Fd()))
	if console {
		logPath := filepath.Join(cfg.DataDir, "biostreamd.log")
		f, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		defer f.Close()
		logging.InitWriter(f, logging.ParseLevel(cfg.Log.Level), cfg.Log.JSON)
		fmt.Printf("biostreamd %s: logging to %s, type help for commands\n", Version, logPath)
	} else {
		logging.Init(logging.ParseLevel(cfg.Log.Level), cfg.Log.JSON)
	}
	log.Info("starting", "version", Version, "subject", cfg.Subject, "data_dir", cfg.DataDir)

	// =========================================================================
	// Session catalog
	// =========================================================================

	var cat *catalog.Catalog
	if cfg.Catalog.Enabled {
		cat, err = catalog.Open(cfg.CatalogConfig())
		if err != nil {
			return fmt.Errorf("open catalog: %w", err)
		}
		defer cat.Close()

		// Sessions left recording belong to a process that did not stop
		// cleanly.
		if n, err := cat.MarkInterrupted(context.Background(), time.Now()); err != nil {
			log.Warn("mark interrupted sessions", "error", err)
		} else if n > 0 {
			log.Warn("previous sessions were interrupted", "count", n)
		}
	}

	// =========================================================================
	// Metrics
	// =========================================================================

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := instrument.New(reg)

	var metricsSrv *http.Server
	if cfg.Metrics.Listen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", instrument.Handler(reg))
		metricsSrv = &http.Server{Addr: cfg.Metrics.Listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server", "error", err)
			}
		}()
		log.Info("metrics listening", "address", cfg.Metrics.Listen)
	}

	// =========================================================================
	// Uploader
	// =========================================================================

	var up *upload.Uploader
	if cfg.Upload.Enabled {
		up, err = upload.New(context.Background(), cfg.UploadConfig())
		if err != nil {
			return fmt.Errorf("create uploader: %w", err)
		}
	}

	// =========================================================================
	// Session
	// =========================================================================

	sess, err := session.New(cfg.SessionConfig(), session.Deps{
		Clock:   clock.System{},
		Catalog: cat,
		Metrics: metrics,
	})
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}

	ctl := &controller{
		session:  sess,
		catalog:  cat,
		uploader: up,
		onStop:   cfg.Upload.OnStop,
	}
	defer ctl.shutdown()

	if *autostart {
		if err := ctl.start(); err != nil {
			return err
		}
	}

	// =========================================================================
	// Run
	// =========================================================================

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if console {
		runConsole(ctx, ctl)
	} else {
		log.Info("running without console; send SIGINT or SIGTERM to stop")
		<-ctx.Done()
	}

	log.Info("shutting down")
	if metricsSrv != nil {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		metricsSrv.Shutdown(sctx)
	}
	return nil
}
