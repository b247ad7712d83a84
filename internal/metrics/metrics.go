package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	globalMetrics *Metrics
	globalMu      sync.RWMutex
)

// Metrics holds all Prometheus metrics for pickup
type Metrics struct {
	// Pipeline
	RunsTotal             *prometheus.CounterVec
	RunDurationSeconds    prometheus.Histogram
	LastRunTimestamp      prometheus.Gauge
	OrdersFetched         prometheus.Gauge
	NotificationsTotal    *prometheus.CounterVec
	DeliveryFailuresTotal *prometheus.CounterVec

	// Order source
	ShopifyRequestsTotal *prometheus.CounterVec

	// API metrics
	APIRequestsTotal          *prometheus.CounterVec
	APIRequestDurationSeconds *prometheus.HistogramVec
	APIErrorsTotal            *prometheus.CounterVec

	// System metrics
	UptimeSeconds    prometheus.Gauge
	Goroutines       prometheus.Gauge
	LedgerRecords    prometheus.Gauge
	StorageUsedBytes prometheus.Gauge

	registry *prometheus.Registry
}

// New creates a new Metrics instance with all metrics registered
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		RunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pickup_runs_total",
				Help: "Total number of notification runs by result",
			},
			[]string{"result"},
		),
		RunDurationSeconds: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "pickup_run_duration_seconds",
				Help:    "Duration of notification runs in seconds",
				Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
		),
		LastRunTimestamp: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "pickup_last_run_timestamp_seconds",
				Help: "Unix time of the last completed run",
			},
		),
		OrdersFetched: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "pickup_orders_fetched",
				Help: "Number of candidate orders returned by the last run",
			},
		),
		NotificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pickup_notifications_total",
				Help: "Total number of processed orders by outcome",
			},
			[]string{"status"},
		),
		DeliveryFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pickup_delivery_failures_total",
				Help: "Total number of failed deliveries by error type",
			},
			[]string{"error_type"},
		),

		ShopifyRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pickup_shopify_requests_total",
				Help: "Total number of Shopify Admin API requests",
			},
			[]string{"status"},
		),

		APIRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pickup_api_requests_total",
				Help: "Total number of API requests",
			},
			[]string{"method", "path", "status"},
		),
		APIRequestDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pickup_api_request_duration_seconds",
				Help:    "API request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"method", "path"},
		),
		APIErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pickup_api_errors_total",
				Help: "Total number of API errors",
			},
			[]string{"error_type"},
		),

		UptimeSeconds: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "pickup_uptime_seconds",
				Help: "Process uptime in seconds",
			},
		),
		Goroutines: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "pickup_goroutines",
				Help: "Number of active goroutines",
			},
		),
		LedgerRecords: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "pickup_ledger_records",
				Help: "Number of records in the dispatch ledger",
			},
		),
		StorageUsedBytes: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "pickup_storage_used_bytes",
				Help: "BoltDB file size in bytes",
			},
		),

		registry: reg,
	}

	reg.MustRegister(
		m.RunsTotal,
		m.RunDurationSeconds,
		m.LastRunTimestamp,
		m.OrdersFetched,
		m.NotificationsTotal,
		m.DeliveryFailuresTotal,
		m.ShopifyRequestsTotal,
		m.APIRequestsTotal,
		m.APIRequestDurationSeconds,
		m.APIErrorsTotal,
		m.UptimeSeconds,
		m.Goroutines,
		m.LedgerRecords,
		m.StorageUsedBytes,
	)

	return m
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// SetGlobal sets the global metrics instance
func SetGlobal(m *Metrics) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalMetrics = m
}

// Global returns the global metrics instance
func Global() *Metrics {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalMetrics
}

// ObserveRun records a finished run. result is ok, failed or busy.
func ObserveRun(result string, duration time.Duration, fetched int) {
	m := Global()
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(result).Inc()
	m.RunDurationSeconds.Observe(duration.Seconds())
	m.LastRunTimestamp.SetToCurrentTime()
	if fetched >= 0 {
		m.OrdersFetched.Set(float64(fetched))
	}
}

// IncNotifications increments the per-order outcome counter
func IncNotifications(status string) {
	m := Global()
	if m != nil {
		m.NotificationsTotal.WithLabelValues(status).Inc()
	}
}

// IncDeliveryFailures increments the delivery failure counter
func IncDeliveryFailures(errorType string) {
	m := Global()
	if m != nil {
		m.DeliveryFailuresTotal.WithLabelValues(errorType).Inc()
	}
}

// IncShopifyRequests increments the Shopify request counter
func IncShopifyRequests(status string) {
	m := Global()
	if m != nil {
		m.ShopifyRequestsTotal.WithLabelValues(status).Inc()
	}
}

// IncAPIErrors increments API error counter
func IncAPIErrors(errorType string) {
	m := Global()
	if m != nil {
		m.APIErrorsTotal.WithLabelValues(errorType).Inc()
	}
}
