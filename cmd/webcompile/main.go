package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"

	"github.com/platinummonkey/webcompile/pkg/api"
	"github.com/platinummonkey/webcompile/pkg/app"
	"github.com/platinummonkey/webcompile/pkg/config"
	"github.com/platinummonkey/webcompile/pkg/observability"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
)

var version = "dev"

func main() {
	configPath := flag.String("config", getEnv("WEBCOMPILE_CONFIG", "webcompile.yaml"), "Path to the YAML configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "webcompile: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, err := observability.NewLogger(
		observability.ParseLevel(cfg.Observability.LogLevel),
		cfg.Observability.LogFormat,
		os.Stdout,
	)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	defer observability.RecoverPanic(logger, "main")

	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	var (
		metrics  *observability.Metrics
		gatherer prometheus.Gatherer
	)
	if cfg.Observability.MetricsEnabled {
		registry := prometheus.NewRegistry()
		registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		metrics = observability.NewMetrics(registry)
		gatherer = registry
	}

	a, err := app.New(ctx, cfg, app.Options{Logger: logger, Metrics: metrics})
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.Start(ctx); err != nil {
		return err
	}

	server, err := api.NewServer(api.Options{
		Builder:    a.Manager,
		History:    historyOrNil(a),
		CacheStats: a.Chain.Memory().Stats,
		Health:     a.HealthChecker(version),
		Metrics:    metrics,
		Gatherer:   gatherer,
		Logger:     logger,

		RateLimiter: a.RateLimiter(ctx),
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      server,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := observability.NewShutdownManager(logger, httpServer, cfg.Server.ShutdownTimeout)
	shutdown.RegisterShutdownFunc(func(context.Context) error {
		cancel()
		return nil
	})
	if providers != nil {
		shutdown.RegisterShutdownFunc(providers.Shutdown)
	}

	if cfg.Maintenance.Enabled {
		scheduler, err := a.Scheduler()
		if err != nil {
			return fmt.Errorf("failed to schedule maintenance: %w", err)
		}
		scheduler.Start()
		shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
			select {
			case <-scheduler.Stop().Done():
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	}

	go func() {
		defer observability.RecoverPanic(logger, "http-server")
		logger.WithFields(logrus.Fields{
			"addr":        httpServer.Addr,
			"site":        a.Site.Root(),
			"codegen":     a.Codegen.Dir(),
			"precompiled": a.Manager.IsPrecompiled(),
		}).Info("Starting webcompile server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("HTTP server failed")
			a.Manager.RequestRecycle("http server failed")
		}
	}()

	// A recycle request ends the process; the supervisor starts a fresh one
	// that reloads the cache from disk.
	err = shutdown.WaitForShutdown(a.Manager.Recycle())
	if reason := a.Manager.RecycleReason(); reason != "" {
		logger.WithField("reason", reason).Info("Process recycled")
	}
	return err
}

// historyOrNil keeps a nil *history.Store out of the api.BuildHistory interface
func historyOrNil(a *app.App) api.BuildHistory {
	if a.History == nil {
		return nil
	}
	return a.History
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
