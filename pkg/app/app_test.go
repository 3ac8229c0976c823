package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/platinummonkey/webcompile/pkg/compilation"
	"github.com/platinummonkey/webcompile/pkg/compilation/buildresult"
	"github.com/platinummonkey/webcompile/pkg/compilation/cache"
	compconfig "github.com/platinummonkey/webcompile/pkg/compilation/config"
	"github.com/platinummonkey/webcompile/pkg/config"
	"github.com/platinummonkey/webcompile/pkg/history"
	"github.com/platinummonkey/webcompile/pkg/middleware"
	"github.com/platinummonkey/webcompile/pkg/observability"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubCompiler struct{}

func (stubCompiler) Compile(_ context.Context, req *compilation.CompileRequest) (*compilation.CompileResponse, error) {
	if err := os.WriteFile(req.OutputPath, []byte("MZ"), 0644); err != nil {
		return nil, err
	}
	return &compilation.CompileResponse{AssemblyPath: req.OutputPath}, nil
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func testConfig(t *testing.T, files map[string]string) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Site.Root = t.TempDir()
	cfg.Site.CodegenDir = filepath.Join(t.TempDir(), "codegen")
	cfg.Cache.UpToDateCheckInterval = 0
	for rel, content := range files {
		path := filepath.Join(cfg.Site.Root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	}
	return cfg
}

func tierNames(c *cache.Chain) []string {
	var names []string
	for _, t := range c.Tiers() {
		names = append(names, t.Name())
	}
	return names
}

func TestNew_BuildsAndRecordsHistory(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := testConfig(t, map[string]string{"a.aspx": `<%@ Page Language="C#" %>`})
	cfg.History.Driver = string(history.SQLite)
	cfg.History.DSN = filepath.Join(t.TempDir(), "history.db")

	a, err := New(ctx, cfg, Options{Logger: quietLogger(), Compiler: stubCompiler{}})
	require.NoError(t, err)
	defer a.Close()

	assert.Equal(t, []string{cache.MemoryTierName, cache.DiskTierName}, tierNames(a.Chain))
	require.NotNil(t, a.Watcher)
	require.NoError(t, a.Start(ctx))
	assert.DirExists(t, cfg.Site.CodegenDir)

	r, err := a.Manager.GetOrBuild(ctx, nil, "~/a.aspx")
	require.NoError(t, err)
	assert.Equal(t, buildresult.KindCompiledType, r.Kind())

	records, err := a.History.Search(ctx, history.Filter{})
	require.NoError(t, err)
	require.NotEmpty(t, records)
	for _, rec := range records {
		assert.True(t, rec.Success)
	}

	status := a.HealthChecker("test").Check(ctx)
	assert.Equal(t, observability.StatusHealthy, status.Status)
	assert.Contains(t, status.Dependencies, "history")
}

func TestNew_PrecompiledSite(t *testing.T) {
	cfg := testConfig(t, map[string]string{
		compconfig.PrecompiledMarkerFile:             "version: 1\n",
		compconfig.BinDirectory + "/App_Web_root.dll": "MZ",
	})
	cfg.Site.Watch = false

	a, err := New(context.Background(), cfg, Options{Logger: quietLogger(), Compiler: stubCompiler{}})
	require.NoError(t, err)
	defer a.Close()

	assert.Equal(t, []string{cache.MemoryTierName, cache.PrecompiledTierName, cache.DiskTierName}, tierNames(a.Chain))
	assert.Nil(t, a.Watcher)

	require.NoError(t, a.Start(context.Background()))
	assert.True(t, a.Manager.IsPrecompiled())
}

func TestNew_PrecompilingUsesTargetTier(t *testing.T) {
	cfg := testConfig(t, map[string]string{compconfig.PrecompiledMarkerFile: "version: 1\n"})
	out := filepath.Join(t.TempDir(), "out")

	a, err := New(context.Background(), cfg, Options{Logger: quietLogger(), Compiler: stubCompiler{}, PrecompileTarget: out})
	require.NoError(t, err)
	defer a.Close()

	assert.Nil(t, a.Watcher)
	assert.Equal(t, []string{cache.MemoryTierName, cache.TargetTierName, cache.DiskTierName}, tierNames(a.Chain))
	require.NotNil(t, a.Target)
	assert.Equal(t, filepath.Join(out, compconfig.BinDirectory), a.Target.Dir())
	assert.False(t, a.Target.ReadOnly())
}

func TestNew_Errors(t *testing.T) {
	t.Run("unknown backend", func(t *testing.T) {
		cfg := testConfig(t, nil)
		cfg.Compiler.Backend = "wasm"
		_, err := New(context.Background(), cfg, Options{Logger: quietLogger()})
		assert.ErrorContains(t, err, "unknown compiler backend")
	})

	t.Run("missing site", func(t *testing.T) {
		cfg := testConfig(t, nil)
		cfg.Site.Root = filepath.Join(cfg.Site.Root, "missing")
		_, err := New(context.Background(), cfg, Options{Logger: quietLogger(), Compiler: stubCompiler{}})
		assert.Error(t, err)
	})

	t.Run("unsupported history driver", func(t *testing.T) {
		cfg := testConfig(t, nil)
		cfg.History.Driver = "mysql"
		cfg.History.DSN = "root@/builds"
		_, err := New(context.Background(), cfg, Options{Logger: quietLogger(), Compiler: stubCompiler{}})
		assert.Error(t, err)
	})
}

func TestScheduler(t *testing.T) {
	cfg := testConfig(t, nil)
	cfg.Site.Watch = false

	a, err := New(context.Background(), cfg, Options{Logger: quietLogger(), Compiler: stubCompiler{}})
	require.NoError(t, err)
	defer a.Close()

	s, err := a.Scheduler()
	require.NoError(t, err)
	assert.Equal(t, []string{"remove-temp-files", "sweep-delete-markers"}, s.Jobs())

	removed, err := s.RunNow(context.Background(), "sweep-delete-markers")
	require.NoError(t, err)
	assert.Zero(t, removed)

	cfg.History.Driver = string(history.SQLite)
	cfg.History.DSN = filepath.Join(t.TempDir(), "history.db")
	withHistory, err := New(context.Background(), cfg, Options{Logger: quietLogger(), Compiler: stubCompiler{}})
	require.NoError(t, err)
	defer withHistory.Close()

	s, err = withHistory.Scheduler()
	require.NoError(t, err)
	assert.Contains(t, s.Jobs(), "prune-history")
}

func TestRateLimiter(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := testConfig(t, nil)
	cfg.Site.Watch = false
	a, err := New(ctx, cfg, Options{Logger: quietLogger(), Compiler: stubCompiler{}})
	require.NoError(t, err)
	defer a.Close()
	assert.Nil(t, a.RateLimiter(ctx))

	cfg.Server.RateLimit.Requests = 5
	assert.IsType(t, &middleware.RateLimiter{}, a.RateLimiter(ctx))

	mr := miniredis.RunT(t)
	cfg.Cache.RedisURL = "redis://" + mr.Addr()
	cfg.Server.RateLimit.Distributed = true
	shared, err := New(ctx, cfg, Options{Logger: quietLogger(), Compiler: stubCompiler{}})
	require.NoError(t, err)
	defer shared.Close()

	limiter := shared.RateLimiter(ctx)
	require.IsType(t, &middleware.DistributedRateLimiter{}, limiter)
	d, err := limiter.Allow(ctx, "ip:10.0.0.1")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, []string{"memory", "disk", "redis"}, tierNames(shared.Chain))
}
