package telemetry

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for the run-metadata store.
type Metrics struct {
	config MetricsConfig

	// Storage operation metrics
	runsAdded     *prometheus.CounterVec
	duplicateRuns *prometheus.CounterVec
	storeErrors   *prometheus.CounterVec
	opDuration    *prometheus.HistogramVec
	wipes         *prometheus.CounterVec

	// State metrics
	runsStored *prometheus.GaugeVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// Return a no-op metrics instance
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		runsAdded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_added_total",
				Help:      "Total number of run records added",
			},
			[]string{"pipeline", "backend"},
		),
		duplicateRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "duplicate_runs_total",
				Help:      "Total number of inserts rejected for a duplicate run id",
			},
			[]string{"backend"},
		),
		storeErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "store_errors_total",
				Help:      "Total number of storage operation failures",
			},
			[]string{"operation", "backend"},
		),
		opDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "store_op_duration_seconds",
				Help:      "Duration of storage operations in seconds",
				Buckets:   buckets,
			},
			[]string{"operation", "backend"},
		),
		wipes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "wipes_total",
				Help:      "Total number of store wipes",
			},
			[]string{"backend"},
		),
		runsStored: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "runs_stored",
				Help:      "Current number of stored run records",
			},
			[]string{"backend"},
		),
	}

	registry.MustRegister(
		m.runsAdded,
		m.duplicateRuns,
		m.storeErrors,
		m.opDuration,
		m.wipes,
		m.runsStored,
	)

	return m, nil
}

// RecordRunAdded increments the counter for added runs.
func (m *Metrics) RecordRunAdded(pipeline, backend string) {
	if m.runsAdded == nil {
		return
	}
	m.runsAdded.WithLabelValues(pipeline, backend).Inc()
	m.runsStored.WithLabelValues(backend).Inc()
}

// RecordDuplicateRun increments the counter for rejected duplicate inserts.
func (m *Metrics) RecordDuplicateRun(backend string) {
	if m.duplicateRuns == nil {
		return
	}
	m.duplicateRuns.WithLabelValues(backend).Inc()
}

// RecordStoreError records a storage operation failure.
func (m *Metrics) RecordStoreError(operation, backend string) {
	if m.storeErrors == nil {
		return
	}
	m.storeErrors.WithLabelValues(operation, backend).Inc()
}

// ObserveOperation records the duration of a storage operation.
func (m *Metrics) ObserveOperation(operation, backend string, duration time.Duration) {
	if m.opDuration == nil {
		return
	}
	m.opDuration.WithLabelValues(operation, backend).Observe(duration.Seconds())
}

// RecordWipe records a store wipe and resets the stored-runs gauge.
func (m *Metrics) RecordWipe(backend string) {
	if m.wipes == nil {
		return
	}
	m.wipes.WithLabelValues(backend).Inc()
	m.runsStored.WithLabelValues(backend).Set(0)
}

// SetRunsStored sets the current count of stored runs.
func (m *Metrics) SetRunsStored(backend string, count float64) {
	if m.runsStored == nil {
		return
	}
	m.runsStored.WithLabelValues(backend).Set(count)
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer starts an HTTP server to expose metrics.
func (m *Metrics) StartMetricsServer() error {
	if !m.config.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(m.config.Path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Printf("metrics server error: %v\n", err)
		}
	}()

	return nil
}
