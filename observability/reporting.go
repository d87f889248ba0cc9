package observability

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ReportingMetrics wraps collectors for snapshot persistence and file exports.
type ReportingMetrics struct {
	snapshots *prometheus.CounterVec
	exports   *prometheus.CounterVec
	duration  *prometheus.HistogramVec
}

var (
	reportingMetricsOnce sync.Once
	reportingRegistry    *ReportingMetrics
)

// Reporting returns the metrics registry for the reporting pipeline.
func Reporting() *ReportingMetrics {
	reportingMetricsOnce.Do(func() {
		reportingRegistry = &ReportingMetrics{
			snapshots: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "tranchor",
				Subsystem: "reporting",
				Name:      "snapshots_total",
				Help:      "Count of persisted portfolio snapshots segmented by pool and outcome.",
			}, []string{"pool", "outcome"}),
			exports: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "tranchor",
				Subsystem: "reporting",
				Name:      "exports_total",
				Help:      "Count of report exports segmented by format and outcome.",
			}, []string{"format", "outcome"}),
			duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "tranchor",
				Subsystem: "reporting",
				Name:      "export_duration_seconds",
				Help:      "Latency distribution for report exports per format.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"format"}),
		}
		prometheus.MustRegister(
			reportingRegistry.snapshots,
			reportingRegistry.exports,
			reportingRegistry.duration,
		)
	})
	return reportingRegistry
}

// RecordSnapshot counts one snapshot persistence attempt.
func (m *ReportingMetrics) RecordSnapshot(pool string, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.snapshots.WithLabelValues(labelPool(pool), outcome).Inc()
}

// ObserveExport counts one export attempt and records its latency.
func (m *ReportingMetrics) ObserveExport(format string, d time.Duration, err error) {
	if m == nil {
		return
	}
	if format = strings.TrimSpace(format); format == "" {
		format = "unknown"
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.exports.WithLabelValues(format, outcome).Inc()
	m.duration.WithLabelValues(format).Observe(d.Seconds())
}
