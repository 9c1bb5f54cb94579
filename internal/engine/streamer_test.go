package engine

import (
	"context"
	"encoding/csv"
	"errors"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hypebeast/go-osc/osc"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/xtxerr/biostream/internal/baseline"
	"github.com/xtxerr/biostream/internal/catalog"
	"github.com/xtxerr/biostream/internal/clock"
	"github.com/xtxerr/biostream/internal/derived"
	bserrors "github.com/xtxerr/biostream/internal/errors"
	"github.com/xtxerr/biostream/internal/export"
	"github.com/xtxerr/biostream/internal/instrument"
	"github.com/xtxerr/biostream/internal/source"
	storageconfig "github.com/xtxerr/biostream/internal/storage/config"
	"github.com/xtxerr/biostream/internal/storage/dataset"
	"github.com/xtxerr/biostream/internal/storage/types"
	"github.com/xtxerr/biostream/internal/testutil"
)

var t0 = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func testConfig(t *testing.T) Config {
	t.Helper()
	storage := storageconfig.DefaultConfig()
	storage.DataDir = t.TempDir()
	return Config{
		Sensor:      "emotibit",
		Subject:     "S01",
		Schema:      types.EmotiBitSchema,
		Storage:     *storage,
		Export:      export.DefaultOptions(),
		Compare:     baseline.DefaultOptions(),
		Tracker:     derived.DefaultTrackerConfig(),
		JoinTimeout: time.Second,
	}
}

func oscListener(listen string, clk clock.Clock) *source.OSCListener {
	cfg := source.DefaultOSCConfig()
	cfg.Listen = listen
	cfg.ReadTimeout = 20 * time.Millisecond
	return source.NewOSCListener(cfg, clk)
}

func waitRows(t *testing.T, s *Streamer, n int64) {
	t.Helper()
	testutil.Eventually(t, testutil.DefaultTimeout, 5*time.Millisecond,
		func() bool { return s.Stats().Rows >= n },
		"waiting for %d rows", n)
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open csv: %v", err)
	}
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	return records
}

func TestStreamer_EndToEnd(t *testing.T) {
	cfg := testConfig(t)
	clk := clock.NewStepped(t0, 10*time.Millisecond)
	tags := clock.NewTags("baseline", "rest")

	cat, err := catalog.Open(catalog.Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	defer cat.Close()

	reg := prometheus.NewRegistry()
	lst := oscListener("127.0.0.1:0", clk)
	s, err := New(cfg, lst, Deps{Clock: clk, Tags: tags, Catalog: cat, Metrics: instrument.New(reg)})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if s.State() != StateRunning {
		t.Fatalf("state = %s, want running", s.State())
	}

	// A fresh container exists with the schema and no rows.
	path := s.Stats().Path
	schema, rows, err := dataset.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !schema.Equal(types.EmotiBitSchema) || len(rows) != 0 {
		t.Fatalf("fresh container: schema %s, %d rows", schema, len(rows))
	}

	client := osc.NewClient("127.0.0.1", lst.LocalAddr().(*net.UDPAddr).Port)
	values := []float32{0.10, 0.12, 0.15}
	for i, v := range values {
		if err := client.Send(osc.NewMessage("/EmotiBit/0/EDA", v)); err != nil {
			t.Fatalf("Send: %v", err)
		}
		waitRows(t, s, int64(i+1))
	}

	s.Stop()
	if s.State() != StateStopped {
		t.Fatalf("state = %s, want stopped", s.State())
	}

	res, ok := s.LastExport()
	if !ok {
		t.Fatal("no export after Stop")
	}
	if res.Rows != 3 {
		t.Errorf("exported %d rows, want 3", res.Rows)
	}

	records := readCSV(t, res.CSVPath)
	if len(records) != 4 {
		t.Fatalf("csv has %d lines, want header + 3", len(records))
	}
	header := records[0]
	want := []string{"timestamp_unix", "timestamp", "EDA", "HR", "BI", "PG", "event_marker", "condition"}
	for i := range want {
		if header[i] != want[i] {
			t.Fatalf("header = %v", header)
		}
	}
	for i, rec := range records[1:] {
		if rec[2] != []string{"0.1", "0.12", "0.15"}[i] {
			t.Errorf("row %d EDA = %q", i, rec[2])
		}
		if rec[3] != "" || rec[4] != "" || rec[5] != "" {
			t.Errorf("row %d other channels = %v", i, rec[3:6])
		}
		if rec[6] != "baseline" || rec[7] != "rest" {
			t.Errorf("row %d tags = %s/%s", i, rec[6], rec[7])
		}
	}

	sessions, err := cat.List(context.Background(), catalog.Filter{Subject: "S01"})
	if err != nil || len(sessions) != 1 {
		t.Fatalf("sessions = %v, %v", sessions, err)
	}
	if sessions[0].Status != catalog.StatusStopped || sessions[0].Rows != 3 || sessions[0].CSVPath != res.CSVPath {
		t.Errorf("session = %+v", sessions[0])
	}
}

func TestStreamer_TagsAndCompare(t *testing.T) {
	cfg := testConfig(t)
	cfg.Compare.Lookback = 0
	clk := clock.NewStepped(t0, 10*time.Millisecond)
	tags := clock.NewTags("baseline", "rest")

	lst := oscListener("127.0.0.1:0", clk)
	s, err := New(cfg, lst, Deps{Clock: clk, Tags: tags})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// Nothing recorded yet.
	res, err := s.CompareBaseline(types.ChannelHR)
	if err != nil {
		t.Fatalf("CompareBaseline before start: %v", err)
	}
	if res.Status != baseline.StatusNoData {
		t.Errorf("status before start = %s, want no data", res.Status)
	}

	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	client := osc.NewClient("127.0.0.1", lst.LocalAddr().(*net.UDPAddr).Port)
	n := int64(0)
	send := func(v float32) {
		t.Helper()
		if err := client.Send(osc.NewMessage("/EmotiBit/0/HR", v)); err != nil {
			t.Fatalf("Send: %v", err)
		}
		n++
		waitRows(t, s, n)
	}

	send(60)
	send(62)
	s.SetEventMarker("task")
	s.SetCondition("stress")
	send(80)
	send(84)

	res, err = s.CompareBaseline(types.ChannelHR)
	if err != nil {
		t.Fatalf("CompareBaseline: %v", err)
	}
	if res.Status != baseline.StatusElevated || !res.Elevated {
		t.Errorf("status = %s, want elevated", res.Status)
	}
	if *res.BaselineMean != 61 || *res.LiveMean != 82 {
		t.Errorf("means = %v / %v", *res.BaselineMean, *res.LiveMean)
	}

	all, err := s.CompareAll()
	if err != nil {
		t.Fatalf("CompareAll: %v", err)
	}
	if len(all) != 4 || all[0].Status != baseline.StatusNoData {
		t.Errorf("CompareAll = %+v", all)
	}

	exp, err := s.ExportCSV(context.Background())
	if err != nil {
		t.Fatalf("ExportCSV: %v", err)
	}
	records := readCSV(t, exp.CSVPath)
	if got := records[len(records)-1]; got[6] != "task" || got[7] != "stress" {
		t.Errorf("last row tags = %v", got[6:])
	}
}

type countingSource struct {
	starts atomic.Int32
	stops  atomic.Int32
	done   chan struct{}
	err    error
	mu     sync.Mutex
	h      source.Handler
	stuck  bool
}

func newCountingSource() *countingSource {
	return &countingSource{done: make(chan struct{})}
}

func (c *countingSource) Start(h source.Handler) error {
	if c.err != nil {
		return c.err
	}
	c.starts.Add(1)
	c.mu.Lock()
	c.h = h
	c.done = make(chan struct{})
	c.mu.Unlock()
	return nil
}

func (c *countingSource) Stop() {
	c.stops.Add(1)
	if !c.stuck {
		c.mu.Lock()
		close(c.done)
		c.mu.Unlock()
	}
}

func (c *countingSource) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

func (c *countingSource) Stats() source.Stats { return source.Stats{} }

func (c *countingSource) emit(r types.Reading) {
	c.mu.Lock()
	h := c.h
	c.mu.Unlock()
	h(r)
}

func TestStreamer_Idempotent(t *testing.T) {
	src := newCountingSource()
	s, err := New(testConfig(t), src, Deps{Clock: clock.NewStepped(t0, time.Millisecond)})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// Stop before any Start is a no-op.
	s.Stop()
	if src.stops.Load() != 0 {
		t.Error("Stop on a never-started streamer stopped the source")
	}
	if _, ok := s.LastExport(); ok {
		t.Error("export ran for a never-started streamer")
	}

	for i := 0; i < 2; i++ {
		if err := s.Start(); err != nil {
			t.Fatalf("Start %d: %v", i, err)
		}
	}
	if n := src.starts.Load(); n != 1 {
		t.Errorf("source started %d times, want 1", n)
	}

	s.Stop()
	s.Stop()
	if n := src.stops.Load(); n != 1 {
		t.Errorf("source stopped %d times, want 1", n)
	}

	// A stopped streamer can record again, resuming the same container.
	if err := s.Start(); err != nil {
		t.Fatalf("restart: %v", err)
	}
	s.Stop()
	if n := src.starts.Load(); n != 2 {
		t.Errorf("source started %d times, want 2", n)
	}
}

func TestStreamer_ShutdownTimeout(t *testing.T) {
	cfg := testConfig(t)
	cfg.JoinTimeout = 50 * time.Millisecond

	src := newCountingSource()
	src.stuck = true
	s, err := New(cfg, src, Deps{Clock: clock.NewStepped(t0, time.Millisecond)})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	src.emit(types.Reading{Channel: types.ChannelEDA, Value: 0.2, At: t0})

	start := time.Now()
	s.Stop()
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Stop took %v with a stuck source", elapsed)
	}
	if s.State() != StateStopped {
		t.Errorf("state = %s, want stopped", s.State())
	}

	// The accepted row is still exported.
	res, ok := s.LastExport()
	if !ok || res.Rows != 1 {
		t.Errorf("export = %+v, %v; want 1 row", res, ok)
	}

	// A late reading from the stuck source is dropped, not a crash.
	src.emit(types.Reading{Channel: types.ChannelEDA, Value: 0.3, At: t0})
	if s.Stats().Rows != 1 {
		t.Errorf("rows = %d after late reading, want 1", s.Stats().Rows)
	}
}

func TestStreamer_BindError(t *testing.T) {
	busy, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("ListenPacket: %v", err)
	}
	defer busy.Close()

	clk := clock.NewStepped(t0, time.Millisecond)
	s, err := New(testConfig(t), oscListener(busy.LocalAddr().String(), clk), Deps{Clock: clk})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	err = s.Start()
	if !errors.Is(err, bserrors.ErrBind) {
		t.Fatalf("Start = %v, want ErrBind", err)
	}
	if s.State() != StateStopped {
		t.Errorf("state = %s after bind failure, want stopped", s.State())
	}
	s.Stop()
}

func TestStreamer_OpenError(t *testing.T) {
	cfg := testConfig(t)
	// A regular file where the subject directory should be.
	blocker := cfg.Storage.DataDir + "/S01"
	if err := os.WriteFile(blocker, []byte("x"), 0644); err != nil {
		t.Fatalf("write blocker: %v", err)
	}

	src := newCountingSource()
	s, err := New(cfg, src, Deps{Clock: clock.NewStepped(t0, time.Millisecond)})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.Start(); err == nil {
		t.Fatal("Start succeeded without a writable container")
	}
	if src.starts.Load() != 0 {
		t.Error("source started although the container failed to open")
	}
	if s.State() != StateStopped {
		t.Errorf("state = %s, want stopped", s.State())
	}
}

func TestStreamer_RejectsOutsideSchema(t *testing.T) {
	src := newCountingSource()
	s, err := New(testConfig(t), src, Deps{Clock: clock.NewStepped(t0, time.Millisecond)})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	src.emit(types.Reading{Channel: types.ChannelForce, Value: 3, At: t0})
	src.emit(types.Reading{Channel: types.ChannelHR, Value: 70, At: t0})
	if rows := s.Stats().Rows; rows != 1 {
		t.Errorf("rows = %d, want 1", rows)
	}
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no sensor", func(c *Config) { c.Sensor = "" }},
		{"no subject", func(c *Config) { c.Subject = "" }},
		{"subject escapes data dir", func(c *Config) { c.Subject = "../S01" }},
		{"sensor with separator", func(c *Config) { c.Sensor = "a/b" }},
		{"no schema", func(c *Config) { c.Schema = types.Schema{} }},
		{"bad band", func(c *Config) { c.Tracker.Respiration.LowHz = 5 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			tt.mutate(&cfg)
			if _, err := New(cfg, newCountingSource(), Deps{}); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestDropReason(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{bserrors.ErrNotOpen, instrument.ReasonNotOpen},
		{bserrors.NewRejected("two channels"), instrument.ReasonRejected},
		{bserrors.Join(bserrors.ErrContainerFailed, os.ErrClosed), instrument.ReasonFailed},
		{os.ErrClosed, instrument.ReasonWriteError},
	}
	for _, tt := range tests {
		if got := dropReason(tt.err); got != tt.want {
			t.Errorf("dropReason(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
