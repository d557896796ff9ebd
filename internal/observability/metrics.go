package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Check-in outcomes
const (
	ResultCheckedIn = "checked_in"
	ResultConflict  = "conflict"
	ResultNotFound  = "not_found"
	ResultError     = "error"
)

// Import row outcomes
const (
	OutcomeWritten = "written"
	OutcomeSkipped = "skipped"
)

// Metrics holds all Prometheus metrics for the application
type Metrics struct {
	registry *prometheus.Registry

	CheckIns          *prometheus.CounterVec
	Resets            *prometheus.CounterVec
	ImportRows        *prometheus.CounterVec
	ExportRows        prometheus.Counter
	ActiveSubscribers prometheus.Gauge
	ChangeEvents      prometheus.Counter
}

// NewMetrics creates all metrics on a fresh registry, so tests and
// multiple instances never collide on registration
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		CheckIns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "roster_checkins_total",
			Help: "Check-in attempts by result",
		}, []string{"result"}),
		Resets: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "roster_resets_total",
			Help: "Participants returned to not checked in, by reset scope",
		}, []string{"scope"}),
		ImportRows: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "roster_import_rows_total",
			Help: "Imported CSV rows by outcome",
		}, []string{"outcome"}),
		ExportRows: factory.NewCounter(prometheus.CounterOpts{
			Name: "roster_export_rows_total",
			Help: "Rows written by CSV exports",
		}),
		ActiveSubscribers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "roster_active_subscribers",
			Help: "Live update sessions currently subscribed",
		}),
		ChangeEvents: factory.NewCounter(prometheus.CounterOpts{
			Name: "roster_change_events_total",
			Help: "Change events delivered to subscribers",
		}),
	}
}

// RecordCheckIn counts a check-in attempt. A nil receiver is a no-op.
func (m *Metrics) RecordCheckIn(result string) {
	if m == nil {
		return
	}
	m.CheckIns.WithLabelValues(result).Inc()
}

// RecordReset counts participants reset in scope "one" or "all"
func (m *Metrics) RecordReset(scope string, n int64) {
	if m == nil {
		return
	}
	m.Resets.WithLabelValues(scope).Add(float64(n))
}

// RecordImport counts written and skipped import rows
func (m *Metrics) RecordImport(written, skipped int) {
	if m == nil {
		return
	}
	m.ImportRows.WithLabelValues(OutcomeWritten).Add(float64(written))
	m.ImportRows.WithLabelValues(OutcomeSkipped).Add(float64(skipped))
}

// RecordExport counts exported rows
func (m *Metrics) RecordExport(rows int) {
	if m == nil {
		return
	}
	m.ExportRows.Add(float64(rows))
}

// SubscriberOpened tracks a new live session
func (m *Metrics) SubscriberOpened() {
	if m == nil {
		return
	}
	m.ActiveSubscribers.Inc()
}

// SubscriberClosed tracks a finished live session
func (m *Metrics) SubscriberClosed() {
	if m == nil {
		return
	}
	m.ActiveSubscribers.Dec()
}

// RecordChangeEvent counts one delivered change event
func (m *Metrics) RecordChangeEvent() {
	if m == nil {
		return
	}
	m.ChangeEvents.Inc()
}

// Registry exposes the underlying registry, e.g. for testutil gathering
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
