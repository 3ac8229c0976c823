package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics. It implements cache.Observer and
// orchestrator.Observer.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Compilation metrics
	CompilationTotal    *prometheus.CounterVec
	CompilationDuration *prometheus.HistogramVec
	BatchSize           *prometheus.HistogramVec
	LockWaitDuration    prometheus.Histogram
	RecycleRequests     *prometheus.CounterVec

	// Cache metrics
	CacheHitsTotal      *prometheus.CounterVec
	CacheMissesTotal    *prometheus.CounterVec
	CacheEvictionsTotal *prometheus.CounterVec
	CacheEntries        *prometheus.GaugeVec

	// Maintenance metrics
	SweepRemovedTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webcompile_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "webcompile_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		CompilationTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webcompile_compilation_total",
				Help: "Total number of compiler invocations",
			},
			[]string{"language", "status"},
		),
		CompilationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "webcompile_compilation_duration_seconds",
				Help:    "Compiler invocation duration in seconds",
				Buckets: []float64{.1, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"language"},
		),
		BatchSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "webcompile_batch_units",
				Help:    "Number of units compiled into one assembly",
				Buckets: prometheus.ExponentialBuckets(1, 2, 10),
			},
			[]string{"language"},
		),
		LockWaitDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "webcompile_lock_wait_seconds",
				Help:    "Time spent waiting for the compilation lock",
				Buckets: []float64{.001, .01, .1, .5, 1, 5, 30},
			},
		),
		RecycleRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webcompile_recycle_requests_total",
				Help: "Total number of process recycle requests",
			},
			[]string{"reason"},
		),

		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webcompile_cache_hits_total",
				Help: "Total number of build result cache hits",
			},
			[]string{"tier"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webcompile_cache_misses_total",
				Help: "Total number of build result cache misses",
			},
			[]string{"tier"},
		),
		CacheEvictionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webcompile_cache_evictions_total",
				Help: "Total number of build result cache evictions",
			},
			[]string{"tier", "reason"},
		),
		CacheEntries: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "webcompile_cache_entries",
				Help: "Current number of in-memory build results",
			},
			[]string{"class"},
		),

		SweepRemovedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webcompile_sweep_removed_total",
				Help: "Total number of codegen files removed by maintenance sweeps",
			},
			[]string{"job"},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.CompilationTotal,
		m.CompilationDuration,
		m.BatchSize,
		m.LockWaitDuration,
		m.RecycleRequests,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.CacheEvictionsTotal,
		m.CacheEntries,
		m.SweepRemovedTotal,
	)

	return m
}

// CacheHit implements cache.Observer
func (m *Metrics) CacheHit(tier string) {
	m.CacheHitsTotal.WithLabelValues(tier).Inc()
}

// CacheMiss implements cache.Observer
func (m *Metrics) CacheMiss(tier string) {
	m.CacheMissesTotal.WithLabelValues(tier).Inc()
}

// CacheEviction implements cache.Observer
func (m *Metrics) CacheEviction(tier, reason string) {
	m.CacheEvictionsTotal.WithLabelValues(tier, reason).Inc()
}

// CompileFinished implements orchestrator.Observer
func (m *Metrics) CompileFinished(language string, units int, success bool, duration time.Duration) {
	status := "success"
	if !success {
		status = "failure"
	}
	m.CompilationTotal.WithLabelValues(language, status).Inc()
	m.CompilationDuration.WithLabelValues(language).Observe(duration.Seconds())
	m.BatchSize.WithLabelValues(language).Observe(float64(units))
}

// LockWait implements orchestrator.Observer
func (m *Metrics) LockWait(wait time.Duration) {
	m.LockWaitDuration.Observe(wait.Seconds())
}

// RecycleRequested implements orchestrator.Observer
func (m *Metrics) RecycleRequested(reason string) {
	m.RecycleRequests.WithLabelValues(reason).Inc()
}

// SweepFinished records files removed by a maintenance job
func (m *Metrics) SweepFinished(job string, removed int) {
	m.SweepRemovedTotal.WithLabelValues(job).Add(float64(removed))
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics.
// Requests routed by gorilla/mux are labelled with their route template.
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			path := r.URL.Path
			if route := mux.CurrentRoute(r); route != nil {
				if tmpl, err := route.GetPathTemplate(); err == nil {
					path = tmpl
				}
			}
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		})
	}
}

// MetricsHandler serves the registry in the Prometheus exposition format
func MetricsHandler(registry prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
