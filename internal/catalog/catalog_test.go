package catalog

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func openCatalog(t *testing.T) *Catalog {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Path = filepath.Join(t.TempDir(), "db", "sessions.db")
	c, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestCatalog_BeginFinish(t *testing.T) {
	c := openCatalog(t)
	ctx := context.Background()
	start := time.Date(2024, 3, 1, 10, 0, 0, 123, time.UTC)

	id, err := c.Begin(ctx, "emotibit", "S01", "/data/S01/emotibit/x.bsd", start)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if len(id) != 36 {
		t.Errorf("id = %q, want a uuid", id)
	}

	s, err := c.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if s.Status != StatusRecording || !s.StoppedAt.IsZero() || !s.StartedAt.Equal(start) {
		t.Errorf("session = %+v", s)
	}

	stop := start.Add(time.Minute)
	if err := c.Finish(ctx, id, stop, 42, "/data/x.csv", StatusStopped); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	s, err = c.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if s.Status != StatusStopped || s.Rows != 42 || s.CSVPath != "/data/x.csv" || !s.StoppedAt.Equal(stop) {
		t.Errorf("finished session = %+v", s)
	}
}

func TestCatalog_NotFound(t *testing.T) {
	c := openCatalog(t)
	ctx := context.Background()

	if _, err := c.Get(ctx, "missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Get = %v, want ErrSessionNotFound", err)
	}
	if err := c.Finish(ctx, "missing", time.Now(), 0, "", StatusStopped); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Finish = %v, want ErrSessionNotFound", err)
	}
}

func TestCatalog_ListAndInterrupted(t *testing.T) {
	c := openCatalog(t)
	ctx := context.Background()
	t0 := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	a, _ := c.Begin(ctx, "emotibit", "S01", "a", t0)
	c.Begin(ctx, "force", "S01", "b", t0.Add(time.Second))
	c.Begin(ctx, "emotibit", "S02", "c", t0.Add(2*time.Second))
	c.Finish(ctx, a, t0.Add(time.Minute), 10, "a.csv", StatusStopped)

	tests := []struct {
		name   string
		filter Filter
		want   []string
	}{
		{"all newest first", Filter{}, []string{"c", "b", "a"}},
		{"subject", Filter{Subject: "S01"}, []string{"b", "a"}},
		{"sensor", Filter{Sensor: "emotibit"}, []string{"c", "a"}},
		{"status", Filter{Status: StatusRecording}, []string{"c", "b"}},
		{"limit", Filter{Limit: 1}, []string{"c"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := c.List(ctx, tt.filter)
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %d sessions, want %d", len(got), len(tt.want))
			}
			for i, s := range got {
				if s.Path != tt.want[i] {
					t.Errorf("session %d path = %s, want %s", i, s.Path, tt.want[i])
				}
			}
		})
	}

	n, err := c.MarkInterrupted(ctx, t0.Add(time.Hour))
	if err != nil {
		t.Fatalf("MarkInterrupted: %v", err)
	}
	if n != 2 {
		t.Errorf("MarkInterrupted changed %d, want 2", n)
	}
	left, _ := c.List(ctx, Filter{Status: StatusRecording})
	if len(left) != 0 {
		t.Errorf("%d sessions still recording", len(left))
	}
}

func TestCatalog_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.db")
	cfg := DefaultConfig()
	cfg.Path = path

	c, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	id, _ := c.Begin(context.Background(), "emotibit", "S01", "a", time.Now())
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}

	c, err = Open(cfg)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer c.Close()
	if _, err := c.Get(context.Background(), id); err != nil {
		t.Errorf("session lost across reopen: %v", err)
	}
}

func TestCatalog_MissingPath(t *testing.T) {
	if _, err := Open(Config{}); err == nil {
		t.Error("expected error for empty path")
	}
}
