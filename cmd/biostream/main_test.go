package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/xtxerr/biostream/internal/storage/dataset"
	"github.com/xtxerr/biostream/internal/storage/types"
)

// writeContainer records HR 60, 62 under baseline and HR 80, 84 under task.
func writeContainer(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "2026-10-14_S01_emotibit.bsd")
	ds := dataset.New(path, types.EmotiBitSchema, dataset.DefaultOptions())
	if err := ds.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}

	samples := []struct {
		v      float64
		marker string
	}{
		{60, "baseline"}, {62, "baseline"}, {80, "task"}, {84, "task"},
	}
	for i, s := range samples {
		row, ok := types.NewRow(types.EmotiBitSchema, types.ChannelHR, s.v,
			1791972000+float64(i),
			fmt.Sprintf("2026-10-14T10:00:%02d.000000Z", i),
			s.marker, "rest")
		if !ok {
			t.Fatal("NewRow rejected HR")
		}
		if err := ds.Write(row); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	if err := ds.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestInspect(t *testing.T) {
	path := writeContainer(t)

	out, err := run(t, "inspect", path)
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	for _, want := range []string{"rows     4", "baseline/rest", "task/rest", "HR"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "not intact") {
		t.Errorf("clean container reported damage:\n%s", out)
	}
}

func TestInspect_DamagedTail(t *testing.T) {
	path := writeContainer(t)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0)
	if err != nil {
		t.Fatal(err)
	}
	f.Write([]byte{0x01, 0x02, 0x03})
	f.Close()

	out, err := run(t, "inspect", path)
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	if !strings.Contains(out, "rows     4") || !strings.Contains(out, "3 trailing bytes not intact") {
		t.Errorf("output:\n%s", out)
	}
}

func TestExport(t *testing.T) {
	path := writeContainer(t)
	dir := t.TempDir()

	out, err := run(t, "export", "--dir", dir, "--parquet", "--compression", "snappy", path)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if !strings.Contains(out, "4 rows") || !strings.Contains(out, "4 readings") {
		t.Errorf("output: %s", out)
	}

	data, err := os.ReadFile(filepath.Join(dir, "2026-10-14_S01_emotibit.csv"))
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 5 {
		t.Fatalf("csv has %d lines, want header + 4", len(lines))
	}
	if lines[0] != "timestamp_unix,timestamp,EDA,HR,BI,PG,event_marker,condition" {
		t.Errorf("header = %s", lines[0])
	}
	if !strings.Contains(out, "2 partitions") {
		t.Errorf("output missing partition count: %s", out)
	}

	snapshot := filepath.Join(dir, "2026-10-14_S01_emotibit.parquet")
	out, err = run(t, "inspect", snapshot)
	if err != nil {
		t.Fatalf("inspect snapshot: %v", err)
	}
	if !strings.Contains(out, "rows     4") || !strings.Contains(out, "columns  6") {
		t.Errorf("inspect snapshot:\n%s", out)
	}
	lines = strings.Split(strings.TrimSpace(out), "\n")
	if last := strings.Fields(lines[len(lines)-1]); len(last) != 2 || last[0] != "HR" || last[1] != "4" {
		t.Errorf("channel counts:\n%s", out)
	}

	out, err = run(t, "inspect", filepath.Join(dir, "2026-10-14_S01_emotibit.summary.parquet"))
	if err != nil {
		t.Fatalf("inspect summary: %v", err)
	}
	for _, want := range []string{"rows     2", "EVENT_MARKER", "baseline", "task", "61", "82"} {
		if !strings.Contains(out, want) {
			t.Errorf("inspect summary missing %q:\n%s", want, out)
		}
	}
}

func TestReadings(t *testing.T) {
	path := writeContainer(t)
	dir := t.TempDir()
	if _, err := run(t, "export", "--dir", dir, "--parquet", path); err != nil {
		t.Fatalf("export: %v", err)
	}
	snapshot := filepath.Join(dir, "2026-10-14_S01_emotibit.parquet")

	tests := []struct {
		name  string
		args  []string
		lines int
		want  string
	}{
		{"all", nil, 5, "60"},
		{"task only", []string{"--marker", "task"}, 3, "84"},
		{"limited", []string{"--limit", "1"}, 2, "baseline"},
		{"no match", []string{"--condition", "stress"}, 1, "TIMESTAMP"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"readings"}, tt.args...)
			out, err := run(t, append(args, snapshot)...)
			if err != nil {
				t.Fatalf("readings: %v", err)
			}
			lines := strings.Split(strings.TrimSpace(out), "\n")
			if len(lines) != tt.lines || !strings.Contains(out, tt.want) {
				t.Errorf("got %d lines, want %d containing %q:\n%s", len(lines), tt.lines, tt.want, out)
			}
		})
	}

	if _, err := run(t, "readings", filepath.Join(dir, "missing.parquet")); err == nil {
		t.Error("expected error for a missing snapshot")
	}
}

func TestCompare(t *testing.T) {
	path := writeContainer(t)

	out, err := run(t, "compare", "--channel", "hr", "--lookback", "0", path)
	if err != nil {
		t.Fatalf("compare: %v", err)
	}
	for _, want := range []string{"61 (n=2)", "82 (n=2)", "Elevated"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	out, err = run(t, "compare", path)
	if err != nil {
		t.Fatalf("compare all: %v", err)
	}
	// Lookback ends at the last row; two minutes covers the whole recording.
	if !strings.Contains(out, "Elevated") || !strings.Contains(out, "No data") {
		t.Errorf("output:\n%s", out)
	}

	if _, err := run(t, "compare", "--channel", "force", path); err == nil {
		t.Error("expected error for channel outside the schema")
	}
	if _, err := run(t, "compare", "--channel", "nope", path); err == nil {
		t.Error("expected error for unknown channel")
	}
}

func TestSessions_RequiresCatalog(t *testing.T) {
	if _, err := run(t, "sessions"); err == nil {
		t.Error("expected error without --catalog")
	}
}

func TestSimulator(t *testing.T) {
	sim := newSimulator(waveform{Rate: 25, HeartRate: 60, Respiration: 15, EDA: 0.1, Seed: 7}, "EmotiBit")

	first := sim.at(0)
	var addrs []string
	for _, m := range first {
		addrs = append(addrs, m.Address)
	}
	want := "/EmotiBit/0/PG /EmotiBit/0/BI /EmotiBit/0/EDA /EmotiBit/0/HR"
	if got := strings.Join(addrs, " "); got != want {
		t.Errorf("first tick = %s, want %s", got, want)
	}

	if next := sim.at(0.04); len(next) != 1 || next[0].Address != "/EmotiBit/0/PG" {
		t.Errorf("second tick sent %d messages", len(next))
	}

	counts := map[string]int{}
	for i := 2; i <= 250; i++ {
		for _, m := range sim.at(float64(i) / 25) {
			counts[m.Address]++
		}
	}
	// Ten seconds at 60 bpm: about one beat and one HR per second.
	if n := counts["/EmotiBit/0/HR"]; n != 10 {
		t.Errorf("HR messages = %d, want 10", n)
	}
	if n := counts["/EmotiBit/0/BI"]; n < 8 || n > 12 {
		t.Errorf("BI messages = %d, want about 10", n)
	}
	if n := counts["/EmotiBit/0/PG"]; n != 249 {
		t.Errorf("PG messages = %d, want 249", n)
	}
}

func TestSimulate_BadAddr(t *testing.T) {
	if _, err := run(t, "simulate", "--addr", "nowhere", "--duration", "10ms"); err == nil {
		t.Error("expected error for address without port")
	}
}
