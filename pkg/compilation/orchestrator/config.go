package orchestrator

import (
	"context"
	"time"

	"github.com/platinummonkey/webcompile/pkg/compilation"
	"github.com/platinummonkey/webcompile/pkg/compilation/buildresult"
	"github.com/platinummonkey/webcompile/pkg/compilation/cache"
	"github.com/platinummonkey/webcompile/pkg/compilation/config"
	"github.com/platinummonkey/webcompile/pkg/compilation/fingerprint"
	"github.com/sirupsen/logrus"
)

// Config holds build manager configuration
type Config struct {
	// CodegenDir receives generated sources and compiled assemblies
	CodegenDir string

	// CodeDirectories are compiled into one assembly each before anything else
	CodeDirectories []string

	// GlobalFile is the application file compiled after the code directories
	GlobalFile string

	// ConfigFiles contribute to the special files hash
	ConfigFiles []string

	// References are assembly paths every build compiles against
	References []string

	// Batch enables directory batching on a cache miss
	Batch bool

	MaxBatchSize              int
	MaxBatchGeneratedFileSize int64
	DefaultLanguage           string
	MaxConcurrency            int
	MaxLockedOutputRetries    int
	MaxRecompilations         int

	// TempFileMaxAge bounds leftover generated sources when the special
	// files hash did not change
	TempFileMaxAge time.Duration

	// DelayLoadTypes marks batch compiled types as delay-load placeholders
	DelayLoadTypes bool

	CompilerOptions    compilation.CompilerOptions
	KeepGeneratedFiles bool
}

// DefaultConfig returns the default build manager configuration
func DefaultConfig() Config {
	return Config{
		CodegenDir:                "codegen",
		CodeDirectories:           []string{"~/App_Code"},
		GlobalFile:                "~/global.asax",
		ConfigFiles:               []string{"~/web.config"},
		Batch:                     true,
		MaxBatchSize:              config.DefaultMaxBatchSize,
		MaxBatchGeneratedFileSize: config.DefaultMaxBatchGeneratedFileSize,
		DefaultLanguage:           config.DefaultLanguage,
		MaxConcurrency:            config.DefaultMaxConcurrency,
		MaxLockedOutputRetries:    config.DefaultMaxLockedOutputRetries,
		MaxRecompilations:         config.DefaultMaxRecompilations,
		TempFileMaxAge:            config.DefaultTempFileMaxAge,
		DelayLoadTypes:            true,
	}
}

// Deps are the collaborators of a build manager
type Deps struct {
	Resolver    compilation.UnitResolver
	Directories compilation.DirectoryEnumerator
	Source      fingerprint.Source
	Compiler    compilation.CompilerService
	Cache       *cache.Chain

	// Codegen is the writable disk tier, used for the special files hash and
	// codegen directory cleanup. Optional.
	Codegen *cache.DiskTier

	// PathMapper excludes the precompilation target from the site walk. Optional.
	PathMapper compilation.PathMapper

	Observer Observer
	History  Recorder
	Watcher  Watcher
	Logger   *logrus.Logger
}

// Observer receives compilation events, typically to feed metrics
type Observer interface {
	CompileFinished(language string, units int, success bool, duration time.Duration)
	LockWait(wait time.Duration)
	RecycleRequested(reason string)
}

type noopObserver struct{}

func (noopObserver) CompileFinished(string, int, bool, time.Duration) {}
func (noopObserver) LockWait(time.Duration)                           {}
func (noopObserver) RecycleRequested(string)                          {}

// BuildRecord describes one compiler invocation
type BuildRecord struct {
	ID          string                   `json:"id"`
	Assembly    string                   `json:"assembly"`
	Language    string                   `json:"language"`
	Culture     string                   `json:"culture,omitempty"`
	Units       []string                 `json:"units"`
	Success     bool                     `json:"success"`
	Errors      int                      `json:"errors"`
	Diagnostics []compilation.Diagnostic `json:"diagnostics,omitempty"`
	Precompile  bool                     `json:"precompile"`
	StartedAt   time.Time                `json:"started_at"`
	Duration    time.Duration            `json:"duration"`
}

// Recorder persists build records
type Recorder interface {
	RecordBuild(ctx context.Context, rec *BuildRecord) error
}

// Watcher is told about every result placed in the memory tier so it can
// watch its dependencies. Watch reports whether every dependency is watched.
type Watcher interface {
	Watch(key string, result *buildresult.Result) bool
}

// PrecompileOptions configures a precompilation run
type PrecompileOptions struct {
	// Target is the physical output directory
	Target string

	// ForDeployment keeps assembly names stable
	ForDeployment bool

	// Excluded lists additional top-level directories to skip
	Excluded []string
}
