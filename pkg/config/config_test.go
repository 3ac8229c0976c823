package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/platinummonkey/webcompile/pkg/compilation/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetEnv(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue string
		envValue     string
		want         string
	}{
		{"returns env value when set", "WEBCOMPILE_TEST_VAR", "default", "custom", "custom"},
		{"returns default when env not set", "WEBCOMPILE_TEST_VAR_NOT_SET", "default", "", "default"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				t.Setenv(tt.key, tt.envValue)
			}
			assert.Equal(t, tt.want, getEnv(tt.key, tt.defaultValue))
		})
	}
}

func TestGetEnvTyped(t *testing.T) {
	t.Setenv("WEBCOMPILE_TEST_BOOL", "1")
	t.Setenv("WEBCOMPILE_TEST_BOOL_FALSE", "no")
	t.Setenv("WEBCOMPILE_TEST_INT", "42")
	t.Setenv("WEBCOMPILE_TEST_INT_BAD", "forty")
	t.Setenv("WEBCOMPILE_TEST_DURATION", "3s")
	t.Setenv("WEBCOMPILE_TEST_DURATION_BAD", "soon")

	assert.True(t, getEnvBool("WEBCOMPILE_TEST_BOOL", false))
	assert.False(t, getEnvBool("WEBCOMPILE_TEST_BOOL_FALSE", true))
	assert.True(t, getEnvBool("WEBCOMPILE_TEST_BOOL_UNSET", true))
	assert.Equal(t, 42, getEnvInt("WEBCOMPILE_TEST_INT", 1))
	assert.Equal(t, 1, getEnvInt("WEBCOMPILE_TEST_INT_BAD", 1))
	assert.Equal(t, 3*time.Second, getEnvDuration("WEBCOMPILE_TEST_DURATION", time.Second))
	assert.Equal(t, time.Second, getEnvDuration("WEBCOMPILE_TEST_DURATION_BAD", time.Second))
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "exec", cfg.Compiler.Backend)
	assert.Equal(t, config.DefaultUpToDateCheckInterval, cfg.Cache.UpToDateCheckInterval)
	assert.Equal(t, config.DefaultSweepSchedule, cfg.Maintenance.SweepSchedule)
	assert.True(t, cfg.Compilation.Batch)
	assert.Equal(t, []string{"~/App_Code"}, cfg.Compilation.CodeDirectories)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "webcompile.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: "9090"
site:
  root: /srv/www
  codegen_dir: /var/lib/webcompile
compilation:
  batch: false
  max_batch_size: 50
  code_directories: ["~/App_Code", "~/App_Code/Shared"]
compiler:
  backend: docker
  timeout: 30s
cache:
  up_to_date_check_interval: 0s
history:
  driver: sqlite3
  dsn: /tmp/history.db
`), 0o644))

	t.Setenv("WEBCOMPILE_PORT", "7070")
	t.Setenv("WEBCOMPILE_REFERENCES", "/lib/a.dll, /lib/b.dll,")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "7070", cfg.Server.Port)
	assert.Equal(t, "/srv/www", cfg.Site.Root)
	assert.False(t, cfg.Compilation.Batch)
	assert.Equal(t, 50, cfg.Compilation.MaxBatchSize)
	assert.Equal(t, "docker", cfg.Compiler.Backend)
	assert.Equal(t, 30*time.Second, cfg.Compiler.Timeout)
	assert.Zero(t, cfg.Cache.UpToDateCheckInterval)
	assert.Equal(t, []string{"/lib/a.dll", "/lib/b.dll"}, cfg.Compilation.References)

	oc := cfg.Orchestrator()
	assert.Equal(t, "/var/lib/webcompile", oc.CodegenDir)
	assert.False(t, oc.Batch)
	assert.Equal(t, 50, oc.MaxBatchSize)
	assert.Equal(t, []string{"~/App_Code", "~/App_Code/Shared"}, oc.CodeDirectories)
	assert.Equal(t, []string{"/lib/a.dll", "/lib/b.dll"}, oc.References)
	assert.Equal(t, 4, oc.CompilerOptions.WarningLevel)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: ["), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults are valid", func(*Config) {}, ""},
		{"missing port", func(c *Config) { c.Server.Port = "" }, "server port is required"},
		{"missing site root", func(c *Config) { c.Site.Root = "" }, "site root is required"},
		{"missing codegen", func(c *Config) { c.Site.CodegenDir = "" }, "codegen directory is required"},
		{"bad backend", func(c *Config) { c.Compiler.Backend = "wasm" }, "invalid compiler backend"},
		{"negative batch size", func(c *Config) { c.Compilation.MaxBatchSize = -1 }, "max batch size"},
		{"negative check interval", func(c *Config) { c.Cache.UpToDateCheckInterval = -time.Second }, "check interval"},
		{"bad history driver", func(c *Config) { c.History.Driver = "mongo" }, "invalid history driver"},
		{"history without dsn", func(c *Config) { c.History.Driver = "postgres" }, "history DSN is required"},
		{"negative rate limit", func(c *Config) { c.Server.RateLimit.Requests = -1 }, "must not be negative"},
		{"rate limit without window", func(c *Config) {
			c.Server.RateLimit.Requests = 10
			c.Server.RateLimit.Window = 0
		}, "window must be positive"},
		{"distributed rate limit without redis", func(c *Config) {
			c.Server.RateLimit.Requests = 10
			c.Server.RateLimit.Distributed = true
		}, "requires the Redis cache"},
		{"otel without endpoint", func(c *Config) {
			c.Observability.OTelEnabled = true
			c.Observability.OTelEndpoint = ""
		}, "endpoint is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
