// Package instrument exposes streamer counters and derived metrics to
// Prometheus.
//
// A nil *Metrics is valid and records nothing, so components take one
// unconditionally.
package instrument

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/xtxerr/biostream/internal/derived"
	"github.com/xtxerr/biostream/internal/storage/types"
)

const namespace = "biostream"

// Drop reasons.
const (
	ReasonUnknownChannel = "unknown_channel"
	ReasonRejected       = "rejected"
	ReasonNotOpen        = "not_open"
	ReasonWriteError     = "write_error"
	ReasonFailed         = "container_failed"
)

// Metrics holds the collectors of one process.
type Metrics struct {
	readings      *prometheus.CounterVec
	dropped       *prometheus.CounterVec
	rowsWritten   *prometheus.CounterVec
	derived       *prometheus.GaugeVec
	state         *prometheus.GaugeVec
	exports       *prometheus.CounterVec
	exportSeconds *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		readings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "readings_total",
			Help:      "Sensor readings received, by channel.",
		}, []string{"sensor", "channel"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "readings_dropped_total",
			Help:      "Readings that did not produce a stored row.",
		}, []string{"sensor", "reason"}),
		rowsWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_written_total",
			Help:      "Rows appended to the durable container.",
		}, []string{"sensor"}),
		derived: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "derived_value",
			Help:      "Latest derived metric (hrv in seconds, respiration in breaths per minute). Absent while not available.",
		}, []string{"sensor", "metric"}),
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "streamer_state",
			Help:      "1 for the current lifecycle state of a streamer.",
		}, []string{"sensor", "state"}),
		exports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "exports_total",
			Help:      "Container exports, by result.",
		}, []string{"sensor", "result"}),
		exportSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "export_duration_seconds",
			Help:      "Export duration.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}, []string{"sensor"}),
	}

	reg.MustRegister(m.readings, m.dropped, m.rowsWritten, m.derived, m.state, m.exports, m.exportSeconds)
	return m
}

// Reading counts a received reading.
func (m *Metrics) Reading(sensor string, c types.Channel) {
	if m == nil {
		return
	}
	m.readings.WithLabelValues(sensor, c.String()).Inc()
}

// Dropped counts a reading that produced no row.
func (m *Metrics) Dropped(sensor, reason string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(sensor, reason).Inc()
}

// RowWritten counts an appended row.
func (m *Metrics) RowWritten(sensor string) {
	if m == nil {
		return
	}
	m.rowsWritten.WithLabelValues(sensor).Inc()
}

// Derived publishes a derived metric. A metric that is not available removes
// the series rather than reporting zero.
func (m *Metrics) Derived(sensor, name string, v derived.Metric) {
	if m == nil {
		return
	}
	if !v.Valid {
		m.derived.DeleteLabelValues(sensor, name)
		return
	}
	m.derived.WithLabelValues(sensor, name).Set(v.Value)
}

// State marks current as the lifecycle state of sensor among all.
func (m *Metrics) State(sensor, current string, all []string) {
	if m == nil {
		return
	}
	for _, s := range all {
		v := 0.0
		if s == current {
			v = 1
		}
		m.state.WithLabelValues(sensor, s).Set(v)
	}
}

// Export records a finished export.
func (m *Metrics) Export(sensor string, d time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.exports.WithLabelValues(sensor, result).Inc()
	m.exportSeconds.WithLabelValues(sensor).Observe(d.Seconds())
}

// Handler serves the metrics of g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
