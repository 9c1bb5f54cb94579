package loader

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/xtxerr/biostream/internal/storage/parquet"
	"github.com/xtxerr/biostream/internal/storage/types"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	t.Setenv("BIOSTREAM_BUCKET", "lab-recordings")

	path := writeConfig(t, `
data_dir: /srv/biostream
subject: S07
log:
  level: debug
emotibit:
  listen: 0.0.0.0:12346
  read_timeout: 100ms
  respiration:
    method: envelope
force:
  enabled: true
  device: /dev/ttyACM0
  poll_period: 0.05
tags:
  event_marker: start_up
storage:
  dataset:
    sync_mode: fsync
  parquet:
    enabled: true
    compression: snappy
compare:
  lookback: 90s
  live_condition: stress
upload:
  enabled: true
  bucket: ${BIOSTREAM_BUCKET}
  prefix: pilot
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	if cfg.Storage.DataDir != "/srv/biostream" {
		t.Errorf("storage.data_dir = %s", cfg.Storage.DataDir)
	}
	if cfg.Upload.Bucket != "lab-recordings" {
		t.Errorf("bucket = %q, want env expansion", cfg.Upload.Bucket)
	}
	if got := cfg.Force.PollPeriod.Duration(); got != 50*time.Millisecond {
		t.Errorf("poll_period = %v, want plain seconds 0.05", got)
	}

	s := cfg.SessionConfig()
	if s.Subject != "S07" || s.EventMarker != "start_up" || s.Condition != "none" {
		t.Errorf("session tags = %s/%s/%s", s.Subject, s.EventMarker, s.Condition)
	}
	if s.EmotiBit.OSC.Listen != "0.0.0.0:12346" || s.EmotiBit.OSC.ReadTimeout != 100*time.Millisecond {
		t.Errorf("osc = %+v", s.EmotiBit.OSC)
	}
	if s.EmotiBit.Tracker.Respiration.Method != "envelope" {
		t.Errorf("respiration method = %s", s.EmotiBit.Tracker.Respiration.Method)
	}
	if s.Force.Tracker.RespirationChannel != types.ChannelForce || s.Force.Tracker.HRVChannel != types.ChannelUnknown {
		t.Errorf("force tracker = %+v", s.Force.Tracker)
	}
	if s.Force.Tracker.Respiration.SampleRate != 10 {
		t.Errorf("force sample rate = %v", s.Force.Tracker.Respiration.SampleRate)
	}
	if !s.Export.Parquet || s.Export.ParquetOptions.Compression != parquet.CompressionSnappy {
		t.Errorf("export = %+v", s.Export)
	}
	if s.Compare.Lookback != 90*time.Second || s.Compare.LiveCondition != "stress" || s.Compare.BaselineMarker != "baseline" {
		t.Errorf("compare = %+v", s.Compare)
	}
	if s.Storage.Dataset.SyncMode != "fsync" {
		t.Errorf("sync_mode = %s", s.Storage.Dataset.SyncMode)
	}

	if got := cfg.CatalogConfig().Path; got != "/srv/biostream/sessions.db" {
		t.Errorf("catalog path = %s", got)
	}
	if u := cfg.UploadConfig(); u.Prefix != "pilot" || u.Region != "us-east-1" {
		t.Errorf("upload = %+v", u)
	}
}

func TestLoad_Errors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
	if _, err := Load(writeConfig(t, "subject: [unclosed")); err == nil {
		t.Error("expected error for invalid yaml")
	}
	if _, err := Load(writeConfig(t, "shutdown:\n  join_timeout: soon\n")); err == nil {
		t.Error("expected error for invalid duration")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"valid", func(c *Config) {}, ""},
		{"no subject", func(c *Config) { c.Subject = "" }, "subject"},
		{"subject with slash", func(c *Config) { c.Subject = "a/b" }, "subject"},
		{"hidden subject", func(c *Config) { c.Subject = ".S01" }, "subject"},
		{"multi-line marker", func(c *Config) { c.Tags.EventMarker = "a\nb" }, "tags.event_marker"},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
		{"no sensors", func(c *Config) { c.EmotiBit.Enabled = false }, "emotibit.enabled"},
		{"small window", func(c *Config) { c.EmotiBit.WindowSize = 10 }, "emotibit.window_size"},
		{"bad band", func(c *Config) { c.EmotiBit.Respiration.HighHz = 50 }, "emotibit.respiration"},
		{"force without device", func(c *Config) { c.Force.Enabled = true }, "force.device"},
		{"bad sync mode", func(c *Config) { c.Storage.Dataset.SyncMode = "sometimes" }, "sync_mode"},
		{"chunk rows", func(c *Config) { c.Export.ChunkRows = 0 }, "export.chunk_rows"},
		{"join timeout", func(c *Config) { c.Shutdown.JoinTimeout = 0 }, "shutdown.join_timeout"},
		{"upload without bucket", func(c *Config) { c.Upload.Enabled = true }, "upload.bucket"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Subject = "S01"
			tt.mutate(cfg)

			err := Validate(cfg)
			if tt.field == "" {
				if err != nil {
					t.Fatalf("Validate: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error mentioning %s", tt.field)
			}
			if !strings.Contains(err.Error(), tt.field) {
				t.Errorf("error %q does not mention %s", err, tt.field)
			}
		})
	}
}

func TestDuration_Unmarshal(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"join_timeout: 5s", 5 * time.Second},
		{"join_timeout: 250ms", 250 * time.Millisecond},
		{"join_timeout: 3", 3 * time.Second},
	}
	for _, tt := range tests {
		cfg, err := Load(writeConfig(t, "shutdown:\n  "+tt.in+"\n"))
		if err != nil {
			t.Fatalf("Load(%q): %v", tt.in, err)
		}
		if got := cfg.Shutdown.JoinTimeout.Duration(); got != tt.want {
			t.Errorf("%q = %v, want %v", tt.in, got, tt.want)
		}
	}
}
