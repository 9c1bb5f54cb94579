// Package session runs the streamers of one recording session.
//
// A session pairs the EmotiBit wearable (OSC over UDP) with an optional
// polled force sensor. Both streamers share one Clock and one Tags object,
// so rows from either container line up in time and carry the same event
// marker and condition.
package session

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/xtxerr/biostream/internal/baseline"
	"github.com/xtxerr/biostream/internal/catalog"
	"github.com/xtxerr/biostream/internal/clock"
	"github.com/xtxerr/biostream/internal/derived"
	"github.com/xtxerr/biostream/internal/engine"
	"github.com/xtxerr/biostream/internal/errors"
	"github.com/xtxerr/biostream/internal/export"
	"github.com/xtxerr/biostream/internal/instrument"
	"github.com/xtxerr/biostream/internal/logging"
	"github.com/xtxerr/biostream/internal/source"
	storageconfig "github.com/xtxerr/biostream/internal/storage/config"
	"github.com/xtxerr/biostream/internal/storage/types"
)

var log = logging.Component("session")

// Sensor names.
const (
	SensorEmotiBit = "emotibit"
	SensorForce    = "force"
)

// EmotiBitConfig configures the wearable stream.
type EmotiBitConfig struct {
	Enabled bool
	OSC     source.OSCConfig
	Tracker derived.TrackerConfig
}

// ForceConfig configures the polled force sensor.
type ForceConfig struct {
	Enabled bool

	// Device is a path yielding one numeric value per line.
	Device  string
	Poller  source.PollerConfig
	Tracker derived.TrackerConfig
}

// Config configures a Session.
type Config struct {
	Subject  string
	EmotiBit EmotiBitConfig
	Force    ForceConfig

	Storage     storageconfig.Config
	Export      export.Options
	Compare     baseline.Options
	JoinTimeout time.Duration

	// EventMarker and Condition are the initial tags.
	EventMarker string
	Condition   string
}

// Deps are process-wide collaborators. Nil Clock uses the system clock;
// Catalog and Metrics are optional.
type Deps struct {
	Clock   clock.Clock
	Catalog *catalog.Catalog
	Metrics *instrument.Metrics

	// OpenDevice opens the force sensor. Defaults to source.OpenDevice.
	OpenDevice func(path string) (source.Device, io.Closer, error)
}

// Session owns the streamers of one subject.
type Session struct {
	subject   string
	tags      *clock.Tags
	streamers []*engine.Streamer
	closers   []io.Closer

	mu      sync.Mutex
	running bool
}

func defaultOpenDevice(path string) (source.Device, io.Closer, error) {
	d, err := source.OpenDevice(path)
	if err != nil {
		return nil, nil, err
	}
	return d, d, nil
}

// New builds the enabled streamers. No socket or container is touched
// until Start; the force device is opened here.
func New(cfg Config, deps Deps) (*Session, error) {
	if cfg.Subject == "" {
		return nil, errors.NewMissingField("subject")
	}
	if !cfg.EmotiBit.Enabled && !cfg.Force.Enabled {
		return nil, errors.NewValidation("session", "no sensor enabled")
	}
	if deps.Clock == nil {
		deps.Clock = clock.System{}
	}
	if deps.OpenDevice == nil {
		deps.OpenDevice = defaultOpenDevice
	}

	s := &Session{
		subject: cfg.Subject,
		tags:    clock.NewTags(cfg.EventMarker, cfg.Condition),
	}
	engineDeps := engine.Deps{
		Clock:   deps.Clock,
		Tags:    s.tags,
		Catalog: deps.Catalog,
		Metrics: deps.Metrics,
	}

	if cfg.EmotiBit.Enabled {
		osc := cfg.EmotiBit.OSC
		if len(osc.Schema.Channels) == 0 {
			osc.Schema = types.EmotiBitSchema
		}
		src := source.NewOSCListener(osc, deps.Clock)
		st, err := engine.New(cfg.streamerConfig(SensorEmotiBit, osc.Schema, cfg.EmotiBit.Tracker), src, engineDeps)
		if err != nil {
			return nil, err
		}
		s.streamers = append(s.streamers, st)
	}

	if cfg.Force.Enabled {
		if cfg.Force.Device == "" {
			return nil, errors.NewMissingField("force.device")
		}
		dev, closer, err := deps.OpenDevice(cfg.Force.Device)
		if err != nil {
			return nil, fmt.Errorf("open force device: %w", err)
		}
		s.closers = append(s.closers, closer)

		pc := cfg.Force.Poller
		if pc.Channel == types.ChannelUnknown {
			pc.Channel = types.ChannelForce
		}
		src := source.NewPoller(dev, pc, deps.Clock)
		st, err := engine.New(cfg.streamerConfig(SensorForce, types.ForceSchema, cfg.Force.Tracker), src, engineDeps)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.streamers = append(s.streamers, st)
	}

	return s, nil
}

func (c Config) streamerConfig(sensor string, schema types.Schema, tracker derived.TrackerConfig) engine.Config {
	return engine.Config{
		Sensor:      sensor,
		Subject:     c.Subject,
		Schema:      schema,
		Storage:     c.Storage,
		Export:      c.Export,
		Compare:     c.Compare,
		Tracker:     tracker,
		JoinTimeout: c.JoinTimeout,
	}
}

// Start starts every streamer. When one fails the ones already started are
// stopped again and the error is returned.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, st := range s.streamers {
		if err := st.Start(); err != nil {
			for _, started := range s.streamers[:i] {
				started.Stop()
			}
			return err
		}
	}
	s.running = true
	log.Info("session started", "subject", s.subject, "streamers", len(s.streamers))
	return nil
}

// Stop stops every streamer concurrently and waits for all exports.
func (s *Session) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	var wg sync.WaitGroup
	for _, st := range s.streamers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			st.Stop()
		}()
	}
	wg.Wait()

	if s.running {
		log.Info("session stopped", "subject", s.subject)
	}
	s.running = false
}

// Close stops the session and releases the devices.
func (s *Session) Close() error {
	s.Stop()
	var errs []error
	for _, c := range s.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

// Subject returns the participant identifier.
func (s *Session) Subject() string { return s.subject }

// Tags returns the shared tags.
func (s *Session) Tags() *clock.Tags { return s.tags }

// SetEventMarker sets the event marker for all streamers.
func (s *Session) SetEventMarker(marker string) {
	s.tags.SetEventMarker(marker)
	log.Info("event marker set", "event_marker", marker)
}

// SetCondition sets the condition for all streamers.
func (s *Session) SetCondition(condition string) {
	s.tags.SetCondition(condition)
	log.Info("condition set", "condition", condition)
}

// Streamers returns the streamers in start order.
func (s *Session) Streamers() []*engine.Streamer { return s.streamers }

// Streamer returns the streamer of sensor.
func (s *Session) Streamer(sensor string) (*engine.Streamer, bool) {
	for _, st := range s.streamers {
		if st.Sensor() == sensor {
			return st, true
		}
	}
	return nil, false
}

// ExportAll exports every streamer's container.
func (s *Session) ExportAll(ctx context.Context) ([]*export.Result, error) {
	var out []*export.Result
	var errs []error
	for _, st := range s.streamers {
		res, err := st.ExportCSV(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", st.Sensor(), err))
			continue
		}
		out = append(out, res)
	}
	return out, errors.Join(errs...)
}

// Artifacts lists the containers and latest exports, for upload.
func (s *Session) Artifacts() []string {
	var files []string
	for _, st := range s.streamers {
		if p := st.Stats().Path; p != "" {
			files = append(files, p)
		}
		if res, ok := st.LastExport(); ok {
			files = append(files, res.Files()...)
		}
	}
	return files
}
