package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation for the API and the
// billing ledger.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	chargesCreated  *prometheus.CounterVec
	paymentsTotal   prometheus.Counter
	lateFeeRefresh  prometheus.Counter
	reportDuration  prometheus.Observer
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	chargesCreated := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "billing_charges_created_total",
		Help: "Total charges created, by origin (plan or manual)",
	}, []string{"origin"})

	paymentsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "billing_payments_registered_total",
		Help: "Total payments registered against open charges",
	})

	lateFeeRefresh := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "billing_late_fee_refreshes_total",
		Help: "Total late fee recomputations persisted on read",
	})

	reportDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "billing_delinquency_report_seconds",
		Help:    "Time spent building the delinquency report",
		Buckets: prometheus.DefBuckets,
	})

	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_hits_total",
		Help: "Total cache hits",
	})

	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_misses_total",
		Help: "Total cache misses",
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, chargesCreated, paymentsTotal,
		lateFeeRefresh, reportDuration, cacheHits, cacheMisses, goroutines)

	return &MetricsService{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		chargesCreated:  chargesCreated,
		paymentsTotal:   paymentsTotal,
		lateFeeRefresh:  lateFeeRefresh,
		reportDuration:  reportDuration,
		cacheHits:       cacheHits,
		cacheMisses:     cacheMisses,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// RecordChargeCreated counts a created charge by origin.
func (m *MetricsService) RecordChargeCreated(origin string) {
	if m == nil {
		return
	}
	m.chargesCreated.WithLabelValues(origin).Inc()
}

// RecordPayment counts a registered payment.
func (m *MetricsService) RecordPayment() {
	if m == nil {
		return
	}
	m.paymentsTotal.Inc()
}

// RecordLateFeeRefresh counts a persisted late fee recomputation.
func (m *MetricsService) RecordLateFeeRefresh() {
	if m == nil {
		return
	}
	m.lateFeeRefresh.Inc()
}

// ObserveReportBuild times a delinquency report build.
func (m *MetricsService) ObserveReportBuild(duration time.Duration) {
	if m == nil {
		return
	}
	m.reportDuration.Observe(duration.Seconds())
}

// RecordCacheOperation records a cache hit or miss.
func (m *MetricsService) RecordCacheOperation(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.cacheHits.Inc()
	} else {
		m.cacheMisses.Inc()
	}
}
