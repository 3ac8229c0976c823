package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/webcompile/pkg/compilation"
	"github.com/platinummonkey/webcompile/pkg/compilation/config"
	"github.com/platinummonkey/webcompile/pkg/compilation/orchestrator"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Site          SiteConfig          `yaml:"site"`
	Compilation   CompilationConfig   `yaml:"compilation"`
	Compiler      CompilerConfig      `yaml:"compiler"`
	Cache         CacheConfig         `yaml:"cache"`
	History       HistoryConfig       `yaml:"history"`
	Deploy        DeployConfig        `yaml:"deploy"`
	Maintenance   MaintenanceConfig   `yaml:"maintenance"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig throttles compile requests per client. Zero requests
// disables it; Distributed shares the limit through the Redis cache.
type RateLimitConfig struct {
	Requests    int           `yaml:"requests"`
	Window      time.Duration `yaml:"window"`
	Burst       int           `yaml:"burst"`
	Distributed bool          `yaml:"distributed"`
}

// SiteConfig locates the application and its generated files
type SiteConfig struct {
	Root       string `yaml:"root"`
	CodegenDir string `yaml:"codegen_dir"`
	// Watch enables file change notifications
	Watch bool `yaml:"watch"`
}

// CompilationConfig mirrors the build manager settings
type CompilationConfig struct {
	CodeDirectories           []string      `yaml:"code_directories"`
	GlobalFile                string        `yaml:"global_file"`
	ConfigFiles               []string      `yaml:"config_files"`
	References                []string      `yaml:"references"`
	Batch                     bool          `yaml:"batch"`
	MaxBatchSize              int           `yaml:"max_batch_size"`
	MaxBatchGeneratedFileSize int64         `yaml:"max_batch_generated_file_size"`
	DefaultLanguage           string        `yaml:"default_language"`
	MaxConcurrency            int           `yaml:"max_concurrency"`
	MaxLockedOutputRetries    int           `yaml:"max_locked_output_retries"`
	MaxRecompilations         int           `yaml:"max_recompilations"`
	TempFileMaxAge            time.Duration `yaml:"temp_file_max_age"`
	DelayLoadTypes            bool          `yaml:"delay_load_types"`
	Debug                     bool          `yaml:"debug"`
	WarningLevel              int           `yaml:"warning_level"`
	CompilerFlags             []string      `yaml:"compiler_flags"`
	KeepGeneratedFiles        bool          `yaml:"keep_generated_files"`
}

// CompilerConfig selects how compilers are run
type CompilerConfig struct {
	// Backend is "exec" (host binaries) or "docker"
	Backend     string        `yaml:"backend"`
	Timeout     time.Duration `yaml:"timeout"`
	MemoryLimit int64         `yaml:"memory_limit"`
	CPULimit    float64       `yaml:"cpu_limit"`
}

// CacheConfig holds build result cache settings
type CacheConfig struct {
	UpToDateCheckInterval time.Duration `yaml:"up_to_date_check_interval"`
	ErrorTTL              time.Duration `yaml:"error_ttl"`
	NoCompileTTL          time.Duration `yaml:"no_compile_ttl"`
	MaxTransientEntries   int           `yaml:"max_transient_entries"`

	// PrecompiledDir holds records of a precompiled deployment, usually <root>/bin
	PrecompiledDir string `yaml:"precompiled_dir"`

	RedisURL        string        `yaml:"redis_url"`
	RedisPassword   string        `yaml:"redis_password"`
	RedisDB         int           `yaml:"redis_db"`
	RedisMaxRetries int           `yaml:"redis_max_retries"`
	RedisPoolSize   int           `yaml:"redis_pool_size"`
	RedisTTL        time.Duration `yaml:"redis_ttl"`
}

// HistoryConfig holds build history storage settings
type HistoryConfig struct {
	// Driver is "postgres" or "sqlite3"; empty disables history
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// DeployConfig holds precompiled site publishing settings
type DeployConfig struct {
	S3Bucket       string `yaml:"s3_bucket"`
	S3Prefix       string `yaml:"s3_prefix"`
	S3Region       string `yaml:"s3_region"`
	S3Endpoint     string `yaml:"s3_endpoint"`
	S3AccessKey    string `yaml:"s3_access_key"`
	S3SecretKey    string `yaml:"s3_secret_key"`
	S3UsePathStyle bool   `yaml:"s3_use_path_style"`
}

// MaintenanceConfig holds cron schedules for codegen housekeeping
type MaintenanceConfig struct {
	Enabled             bool   `yaml:"enabled"`
	SweepSchedule       string `yaml:"sweep_schedule"`
	TempCleanupSchedule string `yaml:"temp_cleanup_schedule"`

	// HistoryPruneSchedule removes build records older than HistoryRetention
	HistoryPruneSchedule string        `yaml:"history_prune_schedule"`
	HistoryRetention     time.Duration `yaml:"history_retention"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	MetricsEnabled bool `yaml:"metrics_enabled"`

	OTelEnabled        bool   `yaml:"otel_enabled"`
	OTelEndpoint       string `yaml:"otel_endpoint"`
	OTelServiceName    string `yaml:"otel_service_name"`
	OTelServiceVersion string `yaml:"otel_service_version"`
	OTelInsecure       bool   `yaml:"otel_insecure"`
}

// Default returns the default configuration
func Default() *Config {
	defaults := orchestrator.DefaultConfig()
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            "8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    5 * time.Minute,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			RateLimit: RateLimitConfig{
				Window: time.Minute,
			},
		},
		Site: SiteConfig{
			Root:       ".",
			CodegenDir: defaults.CodegenDir,
			Watch:      true,
		},
		Compilation: CompilationConfig{
			CodeDirectories:           defaults.CodeDirectories,
			GlobalFile:                defaults.GlobalFile,
			ConfigFiles:               defaults.ConfigFiles,
			Batch:                     defaults.Batch,
			MaxBatchSize:              defaults.MaxBatchSize,
			MaxBatchGeneratedFileSize: defaults.MaxBatchGeneratedFileSize,
			DefaultLanguage:           defaults.DefaultLanguage,
			MaxConcurrency:            defaults.MaxConcurrency,
			MaxLockedOutputRetries:    defaults.MaxLockedOutputRetries,
			MaxRecompilations:         defaults.MaxRecompilations,
			TempFileMaxAge:            defaults.TempFileMaxAge,
			DelayLoadTypes:            defaults.DelayLoadTypes,
			WarningLevel:              4,
		},
		Compiler: CompilerConfig{
			Backend:     "exec",
			Timeout:     config.DefaultCompilationTimeout,
			MemoryLimit: config.DefaultDockerMemoryLimit,
			CPULimit:    config.DefaultDockerCPULimit,
		},
		Cache: CacheConfig{
			UpToDateCheckInterval: config.DefaultUpToDateCheckInterval,
			ErrorTTL:              config.DefaultErrorResultTTL,
			NoCompileTTL:          config.DefaultNoCompileTTL,
			MaxTransientEntries:   config.DefaultMaxTransientEntries,
			RedisTTL:              config.DefaultRedisTTL,
		},
		Maintenance: MaintenanceConfig{
			Enabled:              true,
			SweepSchedule:        config.DefaultSweepSchedule,
			TempCleanupSchedule:  config.DefaultTempCleanupSchedule,
			HistoryPruneSchedule: "30 3 * * *",
			HistoryRetention:     30 * 24 * time.Hour,
		},
		Observability: ObservabilityConfig{
			LogLevel:           "info",
			LogFormat:          "json",
			MetricsEnabled:     true,
			OTelEndpoint:       "localhost:4317",
			OTelServiceName:    "webcompile",
			OTelServiceVersion: "1.0.0",
			OTelInsecure:       true,
		},
	}
}

// Load reads the YAML file at path when it exists, applies WEBCOMPILE_*
// environment overrides and validates the result. An empty path skips the
// file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse %s: %w", path, err)
			}
		case errors.Is(err, fs.ErrNotExist):
		default:
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// applyEnv overrides settings from the environment
func (c *Config) applyEnv() {
	c.Server.Host = getEnv("WEBCOMPILE_HOST", c.Server.Host)
	c.Server.Port = getEnv("WEBCOMPILE_PORT", c.Server.Port)
	c.Server.ReadTimeout = getEnvDuration("WEBCOMPILE_READ_TIMEOUT", c.Server.ReadTimeout)
	c.Server.WriteTimeout = getEnvDuration("WEBCOMPILE_WRITE_TIMEOUT", c.Server.WriteTimeout)
	c.Server.ShutdownTimeout = getEnvDuration("WEBCOMPILE_SHUTDOWN_TIMEOUT", c.Server.ShutdownTimeout)
	c.Server.RateLimit.Requests = getEnvInt("WEBCOMPILE_RATE_LIMIT_REQUESTS", c.Server.RateLimit.Requests)
	c.Server.RateLimit.Window = getEnvDuration("WEBCOMPILE_RATE_LIMIT_WINDOW", c.Server.RateLimit.Window)
	c.Server.RateLimit.Burst = getEnvInt("WEBCOMPILE_RATE_LIMIT_BURST", c.Server.RateLimit.Burst)
	c.Server.RateLimit.Distributed = getEnvBool("WEBCOMPILE_RATE_LIMIT_DISTRIBUTED", c.Server.RateLimit.Distributed)

	c.Site.Root = getEnv("WEBCOMPILE_SITE_ROOT", c.Site.Root)
	c.Site.CodegenDir = getEnv("WEBCOMPILE_CODEGEN_DIR", c.Site.CodegenDir)
	c.Site.Watch = getEnvBool("WEBCOMPILE_WATCH", c.Site.Watch)

	c.Compilation.Batch = getEnvBool("WEBCOMPILE_BATCH", c.Compilation.Batch)
	c.Compilation.MaxBatchSize = getEnvInt("WEBCOMPILE_MAX_BATCH_SIZE", c.Compilation.MaxBatchSize)
	c.Compilation.MaxConcurrency = getEnvInt("WEBCOMPILE_MAX_CONCURRENCY", c.Compilation.MaxConcurrency)
	c.Compilation.MaxRecompilations = getEnvInt("WEBCOMPILE_MAX_RECOMPILATIONS", c.Compilation.MaxRecompilations)
	c.Compilation.DefaultLanguage = getEnv("WEBCOMPILE_DEFAULT_LANGUAGE", c.Compilation.DefaultLanguage)
	c.Compilation.Debug = getEnvBool("WEBCOMPILE_DEBUG", c.Compilation.Debug)
	if refs := getEnv("WEBCOMPILE_REFERENCES", ""); refs != "" {
		c.Compilation.References = splitList(refs)
	}

	c.Compiler.Backend = getEnv("WEBCOMPILE_COMPILER_BACKEND", c.Compiler.Backend)
	c.Compiler.Timeout = getEnvDuration("WEBCOMPILE_COMPILER_TIMEOUT", c.Compiler.Timeout)

	c.Cache.UpToDateCheckInterval = getEnvDuration("WEBCOMPILE_UP_TO_DATE_CHECK_INTERVAL", c.Cache.UpToDateCheckInterval)
	c.Cache.PrecompiledDir = getEnv("WEBCOMPILE_PRECOMPILED_DIR", c.Cache.PrecompiledDir)
	c.Cache.RedisURL = getEnv("WEBCOMPILE_REDIS_URL", c.Cache.RedisURL)
	c.Cache.RedisPassword = getEnv("WEBCOMPILE_REDIS_PASSWORD", c.Cache.RedisPassword)
	c.Cache.RedisDB = getEnvInt("WEBCOMPILE_REDIS_DB", c.Cache.RedisDB)
	c.Cache.RedisPoolSize = getEnvInt("WEBCOMPILE_REDIS_POOL_SIZE", c.Cache.RedisPoolSize)
	c.Cache.RedisTTL = getEnvDuration("WEBCOMPILE_REDIS_TTL", c.Cache.RedisTTL)

	c.History.Driver = getEnv("WEBCOMPILE_HISTORY_DRIVER", c.History.Driver)
	c.History.DSN = getEnv("WEBCOMPILE_HISTORY_DSN", c.History.DSN)

	c.Deploy.S3Bucket = getEnv("WEBCOMPILE_S3_BUCKET", c.Deploy.S3Bucket)
	c.Deploy.S3Prefix = getEnv("WEBCOMPILE_S3_PREFIX", c.Deploy.S3Prefix)
	c.Deploy.S3Region = getEnv("WEBCOMPILE_S3_REGION", c.Deploy.S3Region)
	c.Deploy.S3Endpoint = getEnv("WEBCOMPILE_S3_ENDPOINT", c.Deploy.S3Endpoint)
	c.Deploy.S3AccessKey = getEnv("WEBCOMPILE_S3_ACCESS_KEY", c.Deploy.S3AccessKey)
	c.Deploy.S3SecretKey = getEnv("WEBCOMPILE_S3_SECRET_KEY", c.Deploy.S3SecretKey)
	c.Deploy.S3UsePathStyle = getEnvBool("WEBCOMPILE_S3_USE_PATH_STYLE", c.Deploy.S3UsePathStyle)

	c.Maintenance.Enabled = getEnvBool("WEBCOMPILE_MAINTENANCE_ENABLED", c.Maintenance.Enabled)

	c.Observability.LogLevel = getEnv("WEBCOMPILE_LOG_LEVEL", c.Observability.LogLevel)
	c.Observability.LogFormat = getEnv("WEBCOMPILE_LOG_FORMAT", c.Observability.LogFormat)
	c.Observability.MetricsEnabled = getEnvBool("WEBCOMPILE_METRICS_ENABLED", c.Observability.MetricsEnabled)
	c.Observability.OTelEnabled = getEnvBool("WEBCOMPILE_OTEL_ENABLED", c.Observability.OTelEnabled)
	c.Observability.OTelEndpoint = getEnv("WEBCOMPILE_OTEL_ENDPOINT", c.Observability.OTelEndpoint)
	c.Observability.OTelServiceName = getEnv("WEBCOMPILE_OTEL_SERVICE_NAME", c.Observability.OTelServiceName)
	c.Observability.OTelInsecure = getEnvBool("WEBCOMPILE_OTEL_INSECURE", c.Observability.OTelInsecure)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.RateLimit.Requests < 0 || c.Server.RateLimit.Burst < 0 {
		return fmt.Errorf("rate limit requests and burst must not be negative")
	}
	if c.Server.RateLimit.Requests > 0 {
		if c.Server.RateLimit.Window <= 0 {
			return fmt.Errorf("rate limit window must be positive")
		}
		if c.Server.RateLimit.Distributed && c.Cache.RedisURL == "" {
			return fmt.Errorf("distributed rate limiting requires the Redis cache")
		}
	}
	if c.Site.Root == "" {
		return fmt.Errorf("site root is required")
	}
	if c.Site.CodegenDir == "" {
		return fmt.Errorf("codegen directory is required")
	}

	switch c.Compiler.Backend {
	case "exec", "docker":
	default:
		return fmt.Errorf("invalid compiler backend: %s (must be exec or docker)", c.Compiler.Backend)
	}

	if c.Compilation.MaxBatchSize < 0 {
		return fmt.Errorf("max batch size must not be negative")
	}
	if c.Compilation.MaxLockedOutputRetries < 0 {
		return fmt.Errorf("max locked output retries must not be negative")
	}
	if c.Cache.UpToDateCheckInterval < 0 {
		return fmt.Errorf("up-to-date check interval must not be negative")
	}

	switch c.History.Driver {
	case "":
	case "postgres", "sqlite3":
		if c.History.DSN == "" {
			return fmt.Errorf("history DSN is required for driver %s", c.History.Driver)
		}
	default:
		return fmt.Errorf("invalid history driver: %s (must be postgres or sqlite3)", c.History.Driver)
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}
	return nil
}

// Orchestrator converts the configuration to build manager settings
func (c *Config) Orchestrator() orchestrator.Config {
	cc := c.Compilation
	return orchestrator.Config{
		CodegenDir:                c.Site.CodegenDir,
		CodeDirectories:           cc.CodeDirectories,
		GlobalFile:                cc.GlobalFile,
		ConfigFiles:               cc.ConfigFiles,
		References:                cc.References,
		Batch:                     cc.Batch,
		MaxBatchSize:              cc.MaxBatchSize,
		MaxBatchGeneratedFileSize: cc.MaxBatchGeneratedFileSize,
		DefaultLanguage:           cc.DefaultLanguage,
		MaxConcurrency:            cc.MaxConcurrency,
		MaxLockedOutputRetries:    cc.MaxLockedOutputRetries,
		MaxRecompilations:         cc.MaxRecompilations,
		TempFileMaxAge:            cc.TempFileMaxAge,
		DelayLoadTypes:            cc.DelayLoadTypes,
		CompilerOptions: compilation.CompilerOptions{
			Debug:        cc.Debug,
			WarningLevel: cc.WarningLevel,
			Flags:        cc.CompilerFlags,
		},
		KeepGeneratedFiles: cc.KeepGeneratedFiles,
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
