// Package engine implements the lifecycle controller of one sensor stream.
//
// A Streamer owns one Source and one durable container. Start opens the
// container for the current subject and day and starts the source; every
// reading is stamped with the shared Tags and appended as exactly one row.
// Stop joins the source with a bounded wait, closes the container and runs
// the exporter, so once Stop returns every accepted reading is on disk and
// present in the CSV export.
//
// The control surface (SetEventMarker, SetCondition, ExportCSV,
// CompareBaseline) is safe to call from any goroutine.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/xtxerr/biostream/config"
	"github.com/xtxerr/biostream/internal/baseline"
	"github.com/xtxerr/biostream/internal/catalog"
	"github.com/xtxerr/biostream/internal/clock"
	"github.com/xtxerr/biostream/internal/derived"
	"github.com/xtxerr/biostream/internal/errors"
	"github.com/xtxerr/biostream/internal/export"
	"github.com/xtxerr/biostream/internal/instrument"
	"github.com/xtxerr/biostream/internal/logging"
	"github.com/xtxerr/biostream/internal/source"
	storageconfig "github.com/xtxerr/biostream/internal/storage/config"
	"github.com/xtxerr/biostream/internal/storage/dataset"
	"github.com/xtxerr/biostream/internal/storage/types"
	"github.com/xtxerr/biostream/internal/validation"
)

var log = logging.Component("engine")

// Config configures a Streamer.
type Config struct {
	// Sensor names the stream; it is part of the container path.
	Sensor string

	// Subject is the participant identifier.
	Subject string

	// Schema is the container column layout.
	Schema types.Schema

	Storage storageconfig.Config
	Export  export.Options
	Compare baseline.Options
	Tracker derived.TrackerConfig

	// JoinTimeout bounds how long Stop waits for the source goroutine.
	JoinTimeout time.Duration
}

// Deps are the collaborators shared with other streamers. Catalog and
// Metrics are optional.
type Deps struct {
	Clock   clock.Clock
	Tags    *clock.Tags
	Catalog *catalog.Catalog
	Metrics *instrument.Metrics
}

// Stats is a point-in-time view of a Streamer.
type Stats struct {
	State     State
	Path      string
	Rows      int64
	SessionID string
	Dataset   dataset.Stats
	Source    source.Stats
}

// Streamer is the lifecycle controller of one sensor.
type Streamer struct {
	cfg     Config
	src     source.Source
	clock   clock.Clock
	tags    *clock.Tags
	catalog *catalog.Catalog
	metrics *instrument.Metrics
	log     *slog.Logger

	tracker  *derived.Tracker
	exporter *export.Exporter

	// mu serializes lifecycle transitions.
	mu        sync.Mutex
	state     State
	ds        *dataset.Dataset
	sessionID string

	// exportMu serializes exports of the container; flight collapses
	// concurrent ExportCSV calls into one.
	exportMu   sync.Mutex
	flight     singleflight.Group
	lastExport *export.Result
}

// New creates a stopped Streamer.
func New(cfg Config, src source.Source, deps Deps) (*Streamer, error) {
	if cfg.Sensor == "" {
		return nil, errors.NewMissingField("sensor")
	}
	if cfg.Subject == "" {
		return nil, errors.NewMissingField("subject")
	}
	if err := validation.ValidateSensor(cfg.Sensor); err != nil {
		return nil, errors.NewValidation("sensor", err.Error())
	}
	if err := validation.ValidateSubject(cfg.Subject); err != nil {
		return nil, errors.NewValidation("subject", err.Error())
	}
	if len(cfg.Schema.Channels) == 0 {
		return nil, errors.NewValidation("schema", "no channels")
	}
	if cfg.JoinTimeout <= 0 {
		cfg.JoinTimeout = config.DefaultJoinTimeout
	}
	if deps.Clock == nil {
		deps.Clock = clock.System{}
	}
	if deps.Tags == nil {
		deps.Tags = clock.NewTags(config.DefaultEventMarker, config.DefaultCondition)
	}

	tracker, err := derived.NewTracker(cfg.Tracker)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", cfg.Sensor, err)
	}

	s := &Streamer{
		cfg:      cfg,
		src:      src,
		clock:    deps.Clock,
		tags:     deps.Tags,
		catalog:  deps.Catalog,
		metrics:  deps.Metrics,
		log:      log.With("sensor", cfg.Sensor),
		tracker:  tracker,
		exporter: export.New(cfg.Export),
		state:    StateStopped,
	}
	s.metrics.State(cfg.Sensor, string(StateStopped), allStates)
	return s, nil
}

// Sensor returns the stream name.
func (s *Streamer) Sensor() string { return s.cfg.Sensor }

// Subject returns the participant identifier.
func (s *Streamer) Subject() string { return s.cfg.Subject }

func (s *Streamer) setState(st State) {
	s.state = st
	s.metrics.State(s.cfg.Sensor, string(st), allStates)
	s.log.Info("state changed", "state", st)
}

func (s *Streamer) datasetOptions() dataset.Options {
	d := s.cfg.Storage.Dataset
	return dataset.Options{
		SyncMode:     d.SyncMode,
		SyncInterval: d.SyncInterval,
		BufferSize:   d.BufferSize,
	}
}

// Start opens the container and starts the source. It is a no-op when the
// streamer is not stopped. A failure to open the container or to start the
// source (a bind failure wraps errors.ErrBind) is returned and leaves the
// streamer stopped.
func (s *Streamer) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateStopped {
		s.log.Debug("start ignored", "state", s.state)
		return nil
	}
	s.setState(StateStarting)

	now := s.clock.Now()
	path := s.cfg.Storage.ContainerPath(s.cfg.Subject, s.cfg.Sensor, now)
	ds := dataset.New(path, s.cfg.Schema, s.datasetOptions())
	if err := ds.Open(); err != nil {
		s.setState(StateStopped)
		return fmt.Errorf("%s: open container: %w", s.cfg.Sensor, err)
	}

	s.tracker.Reset()
	if err := s.src.Start(s.handler(ds)); err != nil {
		if cerr := ds.Close(); cerr != nil {
			s.log.Warn("close container after failed start", "error", cerr)
		}
		s.setState(StateStopped)
		return fmt.Errorf("%s: start source: %w", s.cfg.Sensor, err)
	}
	s.ds = ds

	s.sessionID = ""
	if s.catalog != nil {
		id, err := s.catalog.Begin(context.Background(), s.cfg.Sensor, s.cfg.Subject, path, now)
		if err != nil {
			s.log.Warn("catalog begin failed", "error", err)
		} else {
			s.sessionID = id
		}
	}

	s.setState(StateRunning)
	s.log.Info("recording", "path", path, "rows", ds.Len(), "session", s.sessionID)
	return nil
}

// Stop stops the source, waits up to JoinTimeout for it, closes the
// container and exports it. It is a no-op unless running. Failures are
// logged, never returned; when the join times out resources are released
// anyway.
func (s *Streamer) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateRunning {
		s.log.Debug("stop ignored", "state", s.state)
		return
	}
	s.setState(StateStopping)

	s.src.Stop()
	select {
	case <-s.src.Done():
	case <-time.After(s.cfg.JoinTimeout):
		s.log.Warn("source did not stop in time; releasing resources",
			"timeout", s.cfg.JoinTimeout, "error", errors.ErrShutdownTimeout)
	}

	ds := s.ds
	if err := ds.Close(); err != nil {
		s.log.Error("close container", "error", err)
	}

	var csvPath string
	if res, err := s.export(context.Background(), ds); err != nil {
		s.log.Error("export on stop", "error", err)
	} else {
		csvPath = res.CSVPath
	}

	if s.catalog != nil && s.sessionID != "" {
		err := s.catalog.Finish(context.Background(), s.sessionID, s.clock.Now(), ds.Len(), csvPath, catalog.StatusStopped)
		if err != nil {
			s.log.Warn("catalog finish failed", "session", s.sessionID, "error", err)
		}
	}

	s.setState(StateStopped)
}

// handler returns the reading callback for one open container. It runs on
// the source goroutine.
func (s *Streamer) handler(ds *dataset.Dataset) source.Handler {
	sensor := s.cfg.Sensor
	return func(r types.Reading) {
		marker, condition := s.tags.Snapshot()
		row, ok := types.NewRow(s.cfg.Schema, r.Channel, r.Value,
			clock.Unix(r.At), clock.Format(r.At), marker, condition)
		if !ok {
			s.metrics.Dropped(sensor, instrument.ReasonUnknownChannel)
			s.log.Warn("reading for channel outside schema dropped", "channel", r.Channel)
			return
		}
		s.metrics.Reading(sensor, r.Channel)

		if err := ds.Write(row); err != nil {
			s.metrics.Dropped(sensor, dropReason(err))
			return
		}
		s.metrics.RowWritten(sensor)

		if s.tracker.Observe(r.Channel, r.Value, r.At) {
			latest := s.tracker.Latest()
			s.metrics.Derived(sensor, "hrv", latest.HRV)
			s.metrics.Derived(sensor, "respiration", latest.Respiration)
		}
	}
}

func dropReason(err error) string {
	switch {
	case errors.Is(err, errors.ErrNotOpen):
		return instrument.ReasonNotOpen
	case errors.Is(err, errors.ErrWriteRejected):
		return instrument.ReasonRejected
	case errors.Is(err, errors.ErrContainerFailed):
		return instrument.ReasonFailed
	default:
		return instrument.ReasonWriteError
	}
}

// container returns the active container, or an unopened handle on
// today's container when the streamer has not recorded yet.
func (s *Streamer) container() *dataset.Dataset {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ds != nil {
		return s.ds
	}
	path := s.cfg.Storage.ContainerPath(s.cfg.Subject, s.cfg.Sensor, s.clock.Now())
	return dataset.New(path, s.cfg.Schema, s.datasetOptions())
}

func (s *Streamer) export(ctx context.Context, ds *dataset.Dataset) (*export.Result, error) {
	s.exportMu.Lock()
	defer s.exportMu.Unlock()

	start := time.Now()
	res, err := s.exporter.Export(ctx, ds)
	s.metrics.Export(s.cfg.Sensor, time.Since(start), err)
	if err != nil {
		return nil, err
	}
	s.lastExport = res
	return res, nil
}

// ExportCSV exports the container without stopping. Concurrent calls share
// one export.
func (s *Streamer) ExportCSV(ctx context.Context) (*export.Result, error) {
	ds := s.container()
	v, err, _ := s.flight.Do(ds.Path(), func() (interface{}, error) {
		return s.export(ctx, ds)
	})
	if err != nil {
		return nil, err
	}
	return v.(*export.Result), nil
}

// LastExport returns the most recent successful export.
func (s *Streamer) LastExport() (export.Result, bool) {
	s.exportMu.Lock()
	defer s.exportMu.Unlock()
	if s.lastExport == nil {
		return export.Result{}, false
	}
	return *s.lastExport, true
}

func (s *Streamer) comparator() *baseline.Comparator {
	return baseline.New(s.container(), s.clock, s.cfg.Compare)
}

// CompareBaseline compares the live partition of channel against the
// baseline partition.
func (s *Streamer) CompareBaseline(ch types.Channel) (baseline.Result, error) {
	return s.comparator().Compare(ch)
}

// CompareAll compares every channel of the schema.
func (s *Streamer) CompareAll() ([]baseline.Result, error) {
	return s.comparator().CompareAll()
}

// SetEventMarker changes the event marker stamped on subsequent readings.
func (s *Streamer) SetEventMarker(marker string) {
	s.tags.SetEventMarker(marker)
	s.log.Info("event marker set", "event_marker", marker)
}

// SetCondition changes the condition stamped on subsequent readings.
func (s *Streamer) SetCondition(condition string) {
	s.tags.SetCondition(condition)
	s.log.Info("condition set", "condition", condition)
}

// Derived returns the latest derived metrics.
func (s *Streamer) Derived() derived.Snapshot {
	return s.tracker.Latest()
}

// State returns the lifecycle state.
func (s *Streamer) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Stats returns a snapshot of the streamer.
func (s *Streamer) Stats() Stats {
	s.mu.Lock()
	st := Stats{State: s.state, SessionID: s.sessionID}
	ds := s.ds
	s.mu.Unlock()

	st.Source = s.src.Stats()
	if ds != nil {
		st.Path = ds.Path()
		st.Rows = ds.Len()
		st.Dataset = ds.Stats()
	}
	return st
}
