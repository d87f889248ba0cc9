package observability

import (
	"context"
	"fmt"
	"math"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// EngineMetrics wraps collectors tracking loan lifecycle activity and the
// valuation pipeline. Counts are exported to Prometheus and mirrored onto
// the OTel meter so both pipelines see the same activity.
type EngineMetrics struct {
	operations   *prometheus.CounterVec
	writeOffs    *prometheus.CounterVec
	valuations   *prometheus.HistogramVec
	portfolioNAV *prometheus.GaugeVec

	meter             metric.Meter
	operationCounter  metric.Int64Counter
	valuationDuration metric.Float64Histogram
}

// ServiceMetrics wraps collectors recording HTTP handler activity.
type ServiceMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

// OracleMetrics wraps collectors for price feed ingestion and freshness.
type OracleMetrics struct {
	updates   *prometheus.CounterVec
	freshness *prometheus.GaugeVec
}

var (
	engineMetricsOnce sync.Once
	engineRegistry    *EngineMetrics

	serviceMetricsOnce sync.Once
	serviceRegistry    *ServiceMetrics

	oracleMetricsOnce sync.Once
	oracleRegistry    *OracleMetrics
)

// Engine returns the lazily-initialised registry for loan engine activity.
func Engine() *EngineMetrics {
	engineMetricsOnce.Do(func() {
		engineRegistry = &EngineMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "tranchor",
				Subsystem: "loans",
				Name:      "operations_total",
				Help:      "Count of loan lifecycle operations segmented by pool, operation and outcome.",
			}, []string{"pool", "operation", "outcome"}),
			writeOffs: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "tranchor",
				Subsystem: "loans",
				Name:      "write_offs_total",
				Help:      "Count of write-off applications segmented by pool and source.",
			}, []string{"pool", "source"}),
			valuations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "tranchor",
				Subsystem: "loans",
				Name:      "valuation_duration_seconds",
				Help:      "Latency distribution for loan and portfolio valuations.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"scope"}),
			portfolioNAV: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "tranchor",
				Subsystem: "loans",
				Name:      "portfolio_value",
				Help:      "Last computed portfolio value per pool in integer pool-currency units.",
			}, []string{"pool"}),
		}
		prometheus.MustRegister(
			engineRegistry.operations,
			engineRegistry.writeOffs,
			engineRegistry.valuations,
			engineRegistry.portfolioNAV,
		)
		engineRegistry.initMeter()
	})
	return engineRegistry
}

func (m *EngineMetrics) initMeter() {
	meter := otel.GetMeterProvider().Meter("tranchor/loans")
	counter, err := meter.Int64Counter("tranchor.loans.operations")
	if err != nil {
		fallback := noop.NewMeterProvider().Meter("tranchor/loans")
		counter, _ = fallback.Int64Counter("tranchor.loans.operations")
		meter = fallback
	}
	duration, err := meter.Float64Histogram("tranchor.loans.valuation_seconds")
	if err != nil {
		fallback := noop.NewMeterProvider().Meter("tranchor/loans")
		duration, _ = fallback.Float64Histogram("tranchor.loans.valuation_seconds")
		meter = fallback
	}
	m.meter = meter
	m.operationCounter = counter
	m.valuationDuration = duration
}

// ObserveOperation records the outcome of a lifecycle operation.
func (m *EngineMetrics) ObserveOperation(pool, operation string, err error) {
	if m == nil {
		return
	}
	if operation = strings.TrimSpace(operation); operation == "" {
		operation = "unknown"
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.operations.WithLabelValues(labelPool(pool), operation, outcome).Inc()
	if m.operationCounter != nil {
		m.operationCounter.Add(context.Background(), 1, metric.WithAttributes(
			attribute.String("pool", labelPool(pool)),
			attribute.String("operation", operation),
			attribute.String("outcome", outcome),
		))
	}
}

// RecordWriteOff increments the write-off counter. Source should be "policy"
// for rule driven markdowns and "admin" for operator overrides.
func (m *EngineMetrics) RecordWriteOff(pool, source string) {
	if m == nil {
		return
	}
	if source = strings.TrimSpace(source); source == "" {
		source = "policy"
	}
	m.writeOffs.WithLabelValues(labelPool(pool), source).Inc()
}

// ObserveValuation records the latency of a valuation pass.
func (m *EngineMetrics) ObserveValuation(scope string, d time.Duration) {
	if m == nil {
		return
	}
	if scope = strings.TrimSpace(scope); scope == "" {
		scope = "loan"
	}
	m.valuations.WithLabelValues(scope).Observe(d.Seconds())
	if m.valuationDuration != nil {
		m.valuationDuration.Record(context.Background(), d.Seconds(),
			metric.WithAttributes(attribute.String("scope", scope)))
	}
}

// RecordPortfolioValue updates the NAV gauge for a pool.
func (m *EngineMetrics) RecordPortfolioValue(pool string, total *big.Int) {
	if m == nil {
		return
	}
	m.portfolioNAV.WithLabelValues(labelPool(pool)).Set(bigToFloat(total))
}

// Service returns the registry used to record HTTP handler activity.
func Service() *ServiceMetrics {
	serviceMetricsOnce.Do(func() {
		serviceRegistry = &ServiceMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "tranchor",
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total HTTP requests segmented by route and outcome.",
			}, []string{"route", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "tranchor",
				Subsystem: "http",
				Name:      "errors_total",
				Help:      "Total HTTP errors segmented by route and status code.",
			}, []string{"route", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "tranchor",
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for HTTP handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"route"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "tranchor",
				Subsystem: "http",
				Name:      "throttles_total",
				Help:      "Count of requests rejected by throttling policies.",
			}, []string{"reason"}),
		}
		prometheus.MustRegister(
			serviceRegistry.requests,
			serviceRegistry.errors,
			serviceRegistry.latency,
			serviceRegistry.throttles,
		)
	})
	return serviceRegistry
}

// Observe records the outcome of an HTTP request. The status code should be
// the one ultimately written to the response writer.
func (m *ServiceMetrics) Observe(route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if route = strings.TrimSpace(route); route == "" {
		route = "unknown"
	}
	outcome := "success"
	if status >= 400 {
		outcome = "error"
	}
	m.requests.WithLabelValues(route, outcome).Inc()
	if status >= 400 {
		m.errors.WithLabelValues(route, fmt.Sprintf("%d", status)).Inc()
	}
	m.latency.WithLabelValues(route).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter. Reasons should be stable
// strings such as "rate_limit" or "body_too_large" so dashboards stay
// consistent.
func (m *ServiceMetrics) RecordThrottle(reason string) {
	if m == nil {
		return
	}
	if reason = strings.TrimSpace(reason); reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(reason).Inc()
}

// Oracle returns the registry for price feed instrumentation.
func Oracle() *OracleMetrics {
	oracleMetricsOnce.Do(func() {
		oracleRegistry = &OracleMetrics{
			updates: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "tranchor",
				Subsystem: "oracle",
				Name:      "price_updates_total",
				Help:      "Count of accepted price observations segmented by source.",
			}, []string{"source"}),
			freshness: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "tranchor",
				Subsystem: "oracle",
				Name:      "price_age_seconds",
				Help:      "Age in seconds of the latest observation per price id.",
			}, []string{"price_id"}),
		}
		prometheus.MustRegister(oracleRegistry.updates, oracleRegistry.freshness)
	})
	return oracleRegistry
}

// RecordUpdate increments the observation counter for a source.
func (m *OracleMetrics) RecordUpdate(source string) {
	if m == nil {
		return
	}
	if source = strings.TrimSpace(source); source == "" {
		source = "unknown"
	}
	m.updates.WithLabelValues(source).Inc()
}

// RecordFreshness records the age of the latest observation for a price id.
func (m *OracleMetrics) RecordFreshness(priceID string, age time.Duration) {
	if m == nil {
		return
	}
	if priceID = strings.TrimSpace(priceID); priceID == "" {
		priceID = "unknown"
	}
	seconds := age.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.freshness.WithLabelValues(priceID).Set(seconds)
}

func labelPool(pool string) string {
	trimmed := strings.TrimSpace(pool)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}

func bigToFloat(value *big.Int) float64 {
	if value == nil {
		return 0
	}
	floatVal, acc := new(big.Float).SetInt(value).Float64()
	if acc != big.Exact {
		// Values beyond float range gauge as zero, not Inf.
		if math.IsNaN(floatVal) || math.IsInf(floatVal, 0) {
			return 0
		}
	}
	return floatVal
}
