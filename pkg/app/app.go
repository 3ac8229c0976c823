package app

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-redis/redis/v8"
	"github.com/platinummonkey/webcompile/pkg/compilation"
	"github.com/platinummonkey/webcompile/pkg/compilation/cache"
	"github.com/platinummonkey/webcompile/pkg/compilation/compiler"
	compconfig "github.com/platinummonkey/webcompile/pkg/compilation/config"
	"github.com/platinummonkey/webcompile/pkg/compilation/host"
	"github.com/platinummonkey/webcompile/pkg/compilation/orchestrator"
	"github.com/platinummonkey/webcompile/pkg/config"
	"github.com/platinummonkey/webcompile/pkg/history"
	"github.com/platinummonkey/webcompile/pkg/maintenance"
	"github.com/platinummonkey/webcompile/pkg/middleware"
	"github.com/platinummonkey/webcompile/pkg/observability"
	"github.com/platinummonkey/webcompile/pkg/watch"
	"github.com/sirupsen/logrus"
)

// Options adjusts how an App is assembled
type Options struct {
	Logger  *logrus.Logger
	Metrics *observability.Metrics

	// Compiler replaces the backend selected by the configuration
	Compiler compilation.CompilerService

	// PrecompileTarget assembles a precompiler writing to this directory:
	// no watcher, no precompiled tier, and a writable tier at <target>/bin
	// between memory and codegen
	PrecompileTarget string
}

// App holds every long-lived component of a compilation host
type App struct {
	Config   *config.Config
	Site     *host.Site
	Registry *compiler.Registry
	Chain    *cache.Chain
	Codegen  *cache.DiskTier
	Target   *cache.DiskTier
	Redis    *cache.RedisTier
	History  *history.Store
	Watcher  *watch.Watcher
	Manager  *orchestrator.BuildManager

	logger  *logrus.Logger
	metrics *observability.Metrics
	closers []func() error
}

// New assembles the site host, compiler backend, cache tiers, history store
// and build manager described by cfg. Close releases everything New opened,
// including on error.
func New(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	a := &App{
		Config:   cfg,
		Registry: compiler.NewDefaultRegistry(),
		logger:   opts.Logger,
		metrics:  opts.Metrics,
	}
	if err := a.build(ctx, opts); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context, opts Options) error {
	cfg := a.Config
	var err error
	if a.Site, err = host.NewSite(cfg.Site.Root); err != nil {
		return err
	}
	if err = os.MkdirAll(cfg.Site.CodegenDir, 0755); err != nil {
		return fmt.Errorf("failed to create codegen directory: %w", err)
	}

	backend := opts.Compiler
	if backend == nil {
		if backend, err = a.newCompiler(); err != nil {
			return err
		}
	}

	tiers, err := a.newTiers(opts)
	if err != nil {
		return err
	}
	chainCfg := cache.ChainConfig{
		Source:                a.Site,
		UpToDateCheckInterval: cfg.Cache.UpToDateCheckInterval,
		Logger:                a.logger,
	}
	if a.metrics != nil {
		chainCfg.Observer = a.metrics
	}
	a.Chain = cache.NewChain(chainCfg, tiers...)

	if cfg.History.Driver != "" {
		if a.History, err = history.Open(ctx, history.Dialect(cfg.History.Driver), cfg.History.DSN); err != nil {
			return err
		}
		a.closers = append(a.closers, a.History.Close)
	}

	if cfg.Site.Watch && opts.PrecompileTarget == "" {
		if a.Watcher, err = watch.New(a.Site, a.logger); err != nil {
			return err
		}
		a.closers = append(a.closers, a.Watcher.Close)
	}

	orchCfg := cfg.Orchestrator()
	deps := orchestrator.Deps{
		Resolver: host.NewResolver(host.ResolverConfig{
			Site:            a.Site,
			Registry:        a.Registry,
			DefaultLanguage: orchCfg.DefaultLanguage,
			CodeDirectories: orchCfg.CodeDirectories,
			GlobalFile:      orchCfg.GlobalFile,
			Logger:          a.logger,
		}),
		Directories: a.Site,
		Source:      a.Site,
		Compiler:    backend,
		Cache:       a.Chain,
		Codegen:     a.Codegen,
		PathMapper:  a.Site,
		Logger:      a.logger,
	}
	if a.metrics != nil {
		deps.Observer = a.metrics
	}
	if a.History != nil {
		deps.History = a.History
	}
	if a.Watcher != nil {
		deps.Watcher = a.Watcher
	}
	a.Manager, err = orchestrator.New(orchCfg, deps)
	return err
}

func (a *App) newCompiler() (compilation.CompilerService, error) {
	cc := a.Config.Compiler
	switch cc.Backend {
	case "", "exec":
		return compiler.NewExecCompiler(a.Registry, cc.Timeout, a.logger), nil
	case "docker":
		dc := compiler.DefaultDockerConfig()
		if cc.Timeout > 0 {
			dc.Timeout = cc.Timeout
		}
		if cc.MemoryLimit > 0 {
			dc.MemoryLimit = cc.MemoryLimit
		}
		if cc.CPULimit > 0 {
			dc.CPULimit = cc.CPULimit
		}
		d, err := compiler.NewDockerCompiler(a.Registry, dc, a.logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, d.Close)
		return d, nil
	default:
		return nil, fmt.Errorf("unknown compiler backend: %s", cc.Backend)
	}
}

// newTiers lays the tiers out as memory, precompiled bin (when deployed
// precompiled) or target bin (when precompiling), codegen and, when
// configured, redis
func (a *App) newTiers(opts Options) ([]cache.Tier, error) {
	cfg := a.Config
	tiers := []cache.Tier{cache.NewMemoryTier(&cache.MemoryConfig{
		ErrorTTL:            cfg.Cache.ErrorTTL,
		NoCompileTTL:        cfg.Cache.NoCompileTTL,
		MaxTransientEntries: cfg.Cache.MaxTransientEntries,
	})}

	if opts.PrecompileTarget != "" {
		target, err := filepath.Abs(opts.PrecompileTarget)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve precompilation target: %w", err)
		}
		if a.Target, err = cache.NewDiskTier(cache.DiskConfig{
			Name:   cache.TargetTierName,
			Dir:    filepath.Join(target, compconfig.BinDirectory),
			Logger: a.logger,
		}); err != nil {
			return nil, err
		}
		tiers = append(tiers, a.Target)
	} else {
		dir := cfg.Cache.PrecompiledDir
		if dir == "" && a.Site.IsPrecompiled() {
			dir = filepath.Join(a.Site.Root(), compconfig.BinDirectory)
		}
		if dir != "" {
			pre, err := cache.NewDiskTier(cache.DiskConfig{
				Dir:         dir,
				ReadOnly:    true,
				Precompiled: true,
				Logger:      a.logger,
			})
			if err != nil {
				return nil, err
			}
			tiers = append(tiers, pre)
		}
	}

	var err error
	if a.Codegen, err = cache.NewDiskTier(cache.DiskConfig{Dir: cfg.Site.CodegenDir, Logger: a.logger}); err != nil {
		return nil, err
	}
	tiers = append(tiers, a.Codegen)

	if cfg.Cache.RedisURL != "" {
		if a.Redis, err = cache.NewRedisTier(cache.RedisConfig{
			URL:         cfg.Cache.RedisURL,
			Password:    cfg.Cache.RedisPassword,
			DB:          cfg.Cache.RedisDB,
			MaxRetries:  cfg.Cache.RedisMaxRetries,
			PoolSize:    cfg.Cache.RedisPoolSize,
			TTL:         cfg.Cache.RedisTTL,
			AssemblyDir: cfg.Site.CodegenDir,
			Logger:      a.logger,
		}); err != nil {
			return nil, err
		}
		a.closers = append(a.closers, a.Redis.Close)
		tiers = append(tiers, a.Redis)
	}
	return tiers, nil
}

// Start initializes the build manager and, when watching, subscribes to the
// codegen hash file and dispatches change events until ctx is done
func (a *App) Start(ctx context.Context) error {
	if err := a.Manager.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize build manager: %w", err)
	}
	if a.Watcher == nil {
		return nil
	}
	if err := a.Watcher.WatchCodegen(a.Codegen.Dir()); err != nil {
		a.logger.WithError(err).Warn("Failed to watch codegen hash directory")
	}
	go func() {
		if err := a.Watcher.Run(ctx, a.Manager); err != nil {
			a.logger.WithError(err).Error("Dependency watcher stopped")
		}
	}()
	return nil
}

// Scheduler creates the maintenance jobs for the codegen directory and the
// build history
func (a *App) Scheduler() (*maintenance.Scheduler, error) {
	var reporter maintenance.Reporter
	if a.metrics != nil {
		reporter = a.metrics
	}
	s := maintenance.New(a.logger, reporter)

	mc := a.Config.Maintenance
	if err := s.Add("sweep-delete-markers", mc.SweepSchedule, maintenance.SweepDeleteMarkers(a.Codegen)); err != nil {
		return nil, err
	}
	if err := s.Add("remove-temp-files", mc.TempCleanupSchedule,
		maintenance.RemoveTempFiles(a.Codegen, a.Config.Compilation.TempFileMaxAge)); err != nil {
		return nil, err
	}
	if a.History != nil && mc.HistoryPruneSchedule != "" && mc.HistoryRetention > 0 {
		if err := s.Add("prune-history", mc.HistoryPruneSchedule,
			maintenance.PruneHistory(a.History, mc.HistoryRetention)); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// RateLimiter returns the limiter for compile requests, or nil when rate
// limiting is disabled. The in-process limiter's cleanup stops with ctx.
func (a *App) RateLimiter(ctx context.Context) middleware.Limiter {
	rl := a.Config.Server.RateLimit
	if rl.Requests <= 0 {
		return nil
	}
	limits := &middleware.RateLimitConfig{
		RequestsPerWindow: rl.Requests,
		WindowDuration:    rl.Window,
		BurstSize:         rl.Burst,
	}
	if rl.Distributed && a.Redis != nil {
		return middleware.NewDistributedRateLimiter(a.Redis.Client(), limits, "")
	}
	limiter := middleware.NewRateLimiter(limits)
	limiter.StartCleanup(ctx)
	return limiter
}

// HealthChecker reports on the codegen directory, history database and redis
func (a *App) HealthChecker(version string) *observability.HealthChecker {
	var db *sql.DB
	if a.History != nil {
		db = a.History.DB()
	}
	var rdb *redis.Client
	if a.Redis != nil {
		rdb = a.Redis.Client()
	}
	return observability.NewHealthChecker(db, rdb, a.Codegen.Dir(), version)
}

// Close releases resources in reverse order of acquisition
func (a *App) Close() error {
	var errs compilation.ErrorList
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs.Add(a.closers[i]())
	}
	a.closers = nil
	return errs.Err()
}
