package api

import (
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/platinummonkey/webcompile/pkg/compilation/cache"
	"github.com/platinummonkey/webcompile/pkg/httputil"
	"github.com/platinummonkey/webcompile/pkg/middleware"
	"github.com/platinummonkey/webcompile/pkg/observability"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// DefaultMaxBodyBytes bounds JSON request bodies
const DefaultMaxBodyBytes = 1 << 20

// Options configures the API server
type Options struct {
	Builder Builder

	// History enables the build listing and history statistics. Optional.
	History BuildHistory

	// CacheStats reports memory tier statistics. Optional.
	CacheStats func() cache.Stats

	Health   *observability.HealthChecker
	Metrics  *observability.Metrics
	Gatherer prometheus.Gatherer
	Logger   *logrus.Logger

	// RateLimiter throttles the endpoints that compile. Optional.
	RateLimiter middleware.Limiter

	MaxBodyBytes int64
}

// Server represents our API server
type Server struct {
	opts    Options
	router  *mux.Router
	handler http.Handler
	logger  *logrus.Logger
}

// NewServer creates a new API server
func NewServer(opts Options) (*Server, error) {
	if opts.Builder == nil {
		return nil, fmt.Errorf("builder is required")
	}
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}

	s := &Server{
		opts:   opts,
		router: mux.NewRouter(),
		logger: opts.Logger,
	}
	s.setupRoutes()

	s.handler = otelhttp.NewHandler(httputil.Chain(
		httputil.RequestIDMiddleware,
		httputil.RecoveryMiddleware(s.logger),
		httputil.LoggingMiddleware(s.logger),
		httputil.MaxBytesMiddleware(opts.MaxBodyBytes),
	)(s.router), "webcompile-api")
	return s, nil
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes() {
	if s.opts.Metrics != nil {
		s.router.Use(observability.HTTPMetricsMiddleware(s.opts.Metrics))
	}

	v1 := s.router.PathPrefix("/api/v1").Subrouter()
	v1.Handle("/results/{path:.*}", s.limited(s.getResult)).Methods(http.MethodGet)
	v1.Handle("/batches", s.limited(s.batchDirectory)).Methods(http.MethodPost)
	v1.HandleFunc("/invalidations", s.invalidate).Methods(http.MethodPost)
	v1.HandleFunc("/builds", s.listBuilds).Methods(http.MethodGet)
	v1.HandleFunc("/stats", s.getStats).Methods(http.MethodGet)
	v1.HandleFunc("/recycle", s.getRecycle).Methods(http.MethodGet)
	v1.HandleFunc("/recycle", s.requestRecycle).Methods(http.MethodPost)

	if s.opts.Health != nil {
		s.router.HandleFunc("/health/live", s.opts.Health.Liveness).Methods(http.MethodGet)
		s.router.HandleFunc("/health/ready", s.opts.Health.Readiness).Methods(http.MethodGet)
	}
	if s.opts.Gatherer != nil {
		s.router.Handle("/metrics", observability.MetricsHandler(s.opts.Gatherer)).Methods(http.MethodGet)
	}
}

// limited applies the rate limiter, if any, to h
func (s *Server) limited(h http.HandlerFunc) http.Handler {
	if s.opts.RateLimiter == nil {
		return h
	}
	return middleware.RateLimit(s.opts.RateLimiter, s.logger)(h)
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Router returns the underlying router for additional routes
func (s *Server) Router() *mux.Router {
	return s.router
}
