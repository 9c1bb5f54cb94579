package baseline

import (
	"errors"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/xtxerr/biostream/config"
	"github.com/xtxerr/biostream/internal/clock"
	bserrors "github.com/xtxerr/biostream/internal/errors"
	"github.com/xtxerr/biostream/internal/storage/dataset"
	"github.com/xtxerr/biostream/internal/storage/types"
)

var t0 = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

type memSource struct {
	rows []types.Row
	err  error
}

func (m *memSource) Scan(fn func(types.Row) error) error {
	if m.err != nil {
		return m.err
	}
	for _, r := range m.rows {
		if err := fn(r); err != nil {
			return err
		}
	}
	return nil
}

func (m *memSource) Schema() types.Schema { return types.EmotiBitSchema }

func (m *memSource) add(t *testing.T, c types.Channel, v float64, at time.Time, marker, cond string) {
	t.Helper()
	r, ok := types.NewRow(types.EmotiBitSchema, c, v, clock.Unix(at), clock.Format(at), marker, cond)
	if !ok {
		t.Fatalf("NewRow(%v)", c)
	}
	m.rows = append(m.rows, r)
}

func TestClassify(t *testing.T) {
	one, two := 1.0, 2.0
	tests := []struct {
		name     string
		baseline *float64
		live     *float64
		want     Status
	}{
		{"elevated", &one, &two, StatusElevated},
		{"lowered", &two, &one, StatusLowered},
		{"equal", &one, &one, StatusEqual},
		{"no baseline", nil, &one, StatusNoData},
		{"no live", &one, nil, StatusNoData},
		{"neither", nil, nil, StatusNoData},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.baseline, tt.live); got != tt.want {
				t.Errorf("Classify = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCompare(t *testing.T) {
	tests := []struct {
		name         string
		baseline     []float64
		live         []float64
		wantStatus   Status
		wantBaseline float64
		wantLive     float64
	}{
		{"elevated", []float64{0.1, 0.2, 0.3}, []float64{0.5, 0.7}, StatusElevated, 0.2, 0.6},
		{"lowered", []float64{80, 90}, []float64{60}, StatusLowered, 85, 60},
		{"equal", []float64{2, 4}, []float64{3, 3}, StatusEqual, 3, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := &memSource{}
			at := t0
			for _, v := range tt.baseline {
				src.add(t, types.ChannelEDA, v, at, "baseline", "none")
				at = at.Add(time.Second)
			}
			// Unrelated channel rows must not leak into EDA means.
			src.add(t, types.ChannelHR, 500, at, "task", "vr")
			for _, v := range tt.live {
				src.add(t, types.ChannelEDA, v, at, "task", "vr")
				at = at.Add(time.Second)
			}

			clk := clock.NewStepped(at, 0)
			res, err := New(src, clk, DefaultOptions()).Compare(types.ChannelEDA)
			if err != nil {
				t.Fatalf("Compare: %v", err)
			}
			if res.Status != tt.wantStatus {
				t.Errorf("Status = %q, want %q", res.Status, tt.wantStatus)
			}
			if res.Elevated != (tt.wantStatus == StatusElevated) {
				t.Errorf("Elevated = %v", res.Elevated)
			}
			if res.BaselineMean == nil || math.Abs(*res.BaselineMean-tt.wantBaseline) > 1e-6 {
				t.Errorf("BaselineMean = %v, want %v", res.BaselineMean, tt.wantBaseline)
			}
			if res.LiveMean == nil || math.Abs(*res.LiveMean-tt.wantLive) > 1e-6 {
				t.Errorf("LiveMean = %v, want %v", res.LiveMean, tt.wantLive)
			}
			if res.BaselineCount != int64(len(tt.baseline)) || res.LiveCount != int64(len(tt.live)) {
				t.Errorf("counts = %d/%d", res.BaselineCount, res.LiveCount)
			}
		})
	}
}

func TestCompare_NoData(t *testing.T) {
	src := &memSource{}
	src.add(t, types.ChannelEDA, 0.1, t0, "baseline", "none")

	res, err := New(src, clock.NewStepped(t0, 0), DefaultOptions()).Compare(types.ChannelEDA)
	if err != nil {
		t.Fatalf("Compare: %v", err)
	}
	if res.Status != StatusNoData || res.Elevated {
		t.Errorf("Status = %q", res.Status)
	}
	if res.BaselineMean == nil || res.LiveMean != nil {
		t.Errorf("means = %v/%v, want baseline only", res.BaselineMean, res.LiveMean)
	}

	res, err = New(&memSource{}, nil, DefaultOptions()).Compare(types.ChannelPG)
	if err != nil {
		t.Fatalf("Compare empty: %v", err)
	}
	if res.Status != StatusNoData || res.BaselineMean != nil || res.LiveMean != nil {
		t.Errorf("empty result = %+v", res)
	}
}

func TestCompare_Lookback(t *testing.T) {
	src := &memSource{}
	src.add(t, types.ChannelHR, 60, t0, "baseline", "none")
	// Outside the 2 minute window.
	src.add(t, types.ChannelHR, 200, t0.Add(time.Minute), "task", "vr")
	src.add(t, types.ChannelHR, 70, t0.Add(5*time.Minute), "task", "vr")
	src.add(t, types.ChannelHR, 80, t0.Add(6*time.Minute), "task", "vr")

	clk := clock.NewStepped(t0.Add(6*time.Minute), 0)

	res, err := New(src, clk, DefaultOptions()).Compare(types.ChannelHR)
	if err != nil {
		t.Fatalf("Compare: %v", err)
	}
	if res.LiveCount != 2 || *res.LiveMean != 75 {
		t.Errorf("live = %d/%v, want 2/75", res.LiveCount, *res.LiveMean)
	}

	opts := DefaultOptions()
	opts.Lookback = 0
	res, _ = New(src, clk, opts).Compare(types.ChannelHR)
	if res.LiveCount != 3 {
		t.Errorf("without lookback LiveCount = %d, want 3", res.LiveCount)
	}

	// The baseline partition is never windowed.
	if res.BaselineCount != 1 {
		t.Errorf("BaselineCount = %d", res.BaselineCount)
	}
}

func TestCompare_LiveFilters(t *testing.T) {
	src := &memSource{}
	src.add(t, types.ChannelBI, 800, t0, "baseline", "none")
	src.add(t, types.ChannelBI, 700, t0, "task1", "vr")
	src.add(t, types.ChannelBI, 900, t0, "task2", "vr")
	src.add(t, types.ChannelBI, 600, t0, "task2", "desktop")

	clk := clock.NewStepped(t0, 0)
	tests := []struct {
		marker, cond string
		want         float64
		status       Status
	}{
		{"task1", "", 700, StatusLowered},
		{"task2", "vr", 900, StatusElevated},
		{"", "desktop", 600, StatusLowered},
		{"task3", "", 0, StatusNoData},
	}
	for _, tt := range tests {
		opts := DefaultOptions()
		opts.LiveMarker, opts.LiveCondition = tt.marker, tt.cond

		res, err := New(src, clk, opts).Compare(types.ChannelBI)
		if err != nil {
			t.Fatalf("Compare: %v", err)
		}
		if res.Status != tt.status {
			t.Errorf("%s/%s: Status = %q, want %q", tt.marker, tt.cond, res.Status, tt.status)
		}
		if tt.status != StatusNoData && *res.LiveMean != tt.want {
			t.Errorf("%s/%s: LiveMean = %v, want %v", tt.marker, tt.cond, *res.LiveMean, tt.want)
		}
	}
}

func TestCompare_UnknownChannel(t *testing.T) {
	_, err := New(&memSource{}, nil, DefaultOptions()).Compare(types.ChannelForce)
	if !errors.Is(err, bserrors.ErrUnknownChannel) {
		t.Errorf("error = %v, want ErrUnknownChannel", err)
	}
}

func TestCompare_ScanError(t *testing.T) {
	boom := errors.New("boom")
	if _, err := New(&memSource{err: boom}, nil, DefaultOptions()).CompareAll(); !errors.Is(err, boom) {
		t.Errorf("error = %v, want boom", err)
	}
}

func TestCompareAll_Dataset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.bsd")
	ds := dataset.New(path, types.EmotiBitSchema, dataset.DefaultOptions())

	clk := clock.NewStepped(t0, 0)

	// Never opened and no file: every channel reports no data.
	results, err := New(ds, clk, DefaultOptions()).CompareAll()
	if err != nil {
		t.Fatalf("CompareAll on missing container: %v", err)
	}
	if len(results) != 4 {
		t.Fatalf("results = %d", len(results))
	}
	for _, r := range results {
		if r.Status != StatusNoData {
			t.Errorf("%v: Status = %q", r.Channel, r.Status)
		}
	}

	if err := ds.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer ds.Close()

	write := func(c types.Channel, v float64, marker string) {
		r, _ := types.NewRow(types.EmotiBitSchema, c, v, clock.Unix(t0), clock.Format(t0), marker, config.DefaultCondition)
		if err := ds.Write(r); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	write(types.ChannelEDA, 0.1, "baseline")
	write(types.ChannelEDA, 0.3, "task")
	write(types.ChannelHR, 70, "baseline")
	write(types.ChannelHR, 65, "task")

	results, err = New(ds, clk, DefaultOptions()).CompareAll()
	if err != nil {
		t.Fatalf("CompareAll: %v", err)
	}
	want := []Status{StatusElevated, StatusLowered, StatusNoData, StatusNoData}
	for i, r := range results {
		if r.Channel != types.EmotiBitSchema.Channels[i] {
			t.Errorf("result %d channel = %v", i, r.Channel)
		}
		if r.Status != want[i] {
			t.Errorf("%v: Status = %q, want %q", r.Channel, r.Status, want[i])
		}
	}
	if results[0].BaselineMedian == nil || math.Abs(*results[0].BaselineMedian-0.1) > 0.01 {
		t.Errorf("EDA baseline median = %v", results[0].BaselineMedian)
	}
}
