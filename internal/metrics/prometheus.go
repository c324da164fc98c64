// Package metrics provides Prometheus instrumentation for target checks,
// alert activity, and registry state.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for watchpost
type Metrics struct {
	// Counters
	ChecksTotal *prometheus.CounterVec
	AlertsTotal *prometheus.CounterVec

	// Gauges
	TargetStatus        *prometheus.GaugeVec
	ConsecutiveFailures *prometheus.GaugeVec
	TargetsConfigured   *prometheus.GaugeVec
	ChecksInFlight      prometheus.Gauge

	// Histograms
	CheckDuration *prometheus.HistogramVec
}

// statusValue maps a target status to a numeric gauge value.
// 0=pending 1=ok 2=warning 3=critical 4=error
func statusValue(status string) float64 {
	switch status {
	case "ok":
		return 1
	case "warning":
		return 2
	case "critical":
		return 3
	case "error":
		return 4
	}
	return 0
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry prometheus.Registerer) *Metrics {
	return &Metrics{
		ChecksTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "watchpost_checks_total",
				Help: "Total number of target checks performed",
			},
			[]string{"target", "kind", "status"},
		),

		AlertsTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "watchpost_alerts_total",
				Help: "Total number of alert and recovery notifications",
			},
			[]string{"target", "kind", "type"},
		),

		TargetStatus: promauto.With(registry).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "watchpost_target_status",
				Help: "Current target status (0=pending 1=ok 2=warning 3=critical 4=error)",
			},
			[]string{"target", "kind", "group"},
		),

		ConsecutiveFailures: promauto.With(registry).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "watchpost_consecutive_failures",
				Help: "Consecutive non-OK check results per target",
			},
			[]string{"target", "kind"},
		),

		TargetsConfigured: promauto.With(registry).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "watchpost_targets_configured",
				Help: "Number of registered targets by kind",
			},
			[]string{"kind"},
		),

		ChecksInFlight: promauto.With(registry).NewGauge(
			prometheus.GaugeOpts{
				Name: "watchpost_checks_in_flight",
				Help: "Number of currently executing target checks",
			},
		),

		CheckDuration: promauto.With(registry).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "watchpost_check_duration_seconds",
				Help:    "Duration of target checks in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"target", "kind"},
		),
	}
}

// RecordCheck records one completed check
func (m *Metrics) RecordCheck(target, kind, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.ChecksTotal.WithLabelValues(target, kind, status).Inc()
	m.CheckDuration.WithLabelValues(target, kind).Observe(duration.Seconds())
}

// SetTargetState updates the status and failure gauges for a target
func (m *Metrics) SetTargetState(target, kind, group, status string, failures int) {
	if m == nil {
		return
	}
	m.TargetStatus.WithLabelValues(target, kind, group).Set(statusValue(status))
	m.ConsecutiveFailures.WithLabelValues(target, kind).Set(float64(failures))
}

// RecordAlert records an alert or recovery notification. notificationType
// is "alert" or "recovery".
func (m *Metrics) RecordAlert(target, kind, notificationType string) {
	if m == nil {
		return
	}
	m.AlertsTotal.WithLabelValues(target, kind, notificationType).Inc()
}

// UpdateTargetCounts refreshes the per-kind registry size gauge
func (m *Metrics) UpdateTargetCounts(counts map[string]int) {
	if m == nil {
		return
	}
	m.TargetsConfigured.Reset()
	for kind, count := range counts {
		m.TargetsConfigured.WithLabelValues(kind).Set(float64(count))
	}
}

// IncInFlight marks a check as started
func (m *Metrics) IncInFlight() {
	if m == nil {
		return
	}
	m.ChecksInFlight.Inc()
}

// DecInFlight marks a check as finished
func (m *Metrics) DecInFlight() {
	if m == nil {
		return
	}
	m.ChecksInFlight.Dec()
}
