// Package observability provides structured logging, Prometheus metrics, and OpenTelemetry tracing.
//
// # Structured Logging
//
// Create the process logger:
//
//	logger, err := observability.NewLogger(logrus.InfoLevel, observability.FormatJSON, os.Stdout)
//	logger.WithField("codegen", dir).Info("Build manager ready")
//
// Attach the active trace to an entry:
//
//	observability.WithTraceContext(ctx, logger.WithField("vpath", vpath)).Debug("Cache miss")
//
// # Prometheus Metrics
//
// Metrics implements both cache.Observer and orchestrator.Observer, so one
// instance is handed to the cache chain and the build manager:
//
//	metrics := observability.NewMetrics(registry)
//	chain := cache.NewChain(cache.ChainConfig{Observer: metrics}, tiers...)
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(db, redisClient, codegenDir, version)
//	status := checker.Check(ctx)
//
// # OpenTelemetry
//
//	providers, err := observability.InitOTel(ctx, cfg, logger)
//	defer providers.Shutdown(ctx)
package observability
