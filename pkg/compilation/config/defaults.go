// Package config provides default configuration values for the compilation system
//
// CENTRALIZED DEFAULTS: All magic constants should be defined here
//
// This file is the single source of truth for default values across the
// compilation packages. Keeping them together:
// 1. Makes defaults discoverable and easy to adjust
// 2. Documents the rationale for each default value
// 3. Prevents drift when defaults are duplicated across files
package config

import (
	"runtime"
	"time"
)

// Batch Compilation Defaults
const (
	// DefaultMaxBatchSize is the maximum number of units compiled into one assembly
	// Default: 1000
	//
	// Rationale: Fewer, larger assemblies load faster, but a single compile
	// error invalidates the whole batch. 1000 keeps typical directories in
	// one batch while bounding compiler memory on very large sites.
	DefaultMaxBatchSize = 1000

	// DefaultMaxBatchGeneratedFileSize is the cumulative generated source size
	// after which a batch is considered full
	// Default: 1000KB
	//
	// Rationale: Compiler time grows super-linearly on huge inputs. 1MB of
	// generated source compiles in a few seconds on modern hardware.
	DefaultMaxBatchGeneratedFileSize = int64(1000 * 1024)

	// DefaultLanguage is used for language-free units
	// Default: "csharp"
	DefaultLanguage = "csharp"

	// DefaultMaxLockedOutputRetries bounds retries under a fresh assembly name
	// when the compiler output is locked
	// Default: 3
	//
	// Rationale: A fresh random name almost always succeeds on the first
	// retry. Repeated failures point at accumulated lock state which the
	// recycle counter handles.
	DefaultMaxLockedOutputRetries = 3
)

// DefaultMaxConcurrency is the number of batches compiled in parallel
//
// Rationale: Compilers are CPU bound and mostly single threaded, so one
// compilation per processor saturates the machine without oversubscribing.
var DefaultMaxConcurrency = runtime.NumCPU()

// Cache Configuration Defaults
const (
	// DefaultErrorResultTTL is how long a compile error stays cached in memory
	// Default: 10 seconds
	//
	// Rationale: Repeated requests for a broken page must not recompile on
	// every hit, yet transient failures (locked files, compiler crashes)
	// should be retried automatically soon after.
	DefaultErrorResultTTL = 10 * time.Second

	// DefaultNoCompileTTL is how long interpreted (no-compile) results stay cached
	// Default: 5 minutes
	DefaultNoCompileTTL = 5 * time.Minute

	// DefaultMaxTransientEntries bounds each transient memory LRU
	// Default: 4096
	DefaultMaxTransientEntries = 4096

	// DefaultUpToDateCheckInterval is the minimum time between two fingerprint
	// revalidations of the same cached entry
	// Default: 2 seconds
	//
	// Rationale: Recomputing a fingerprint touches every dependency file.
	// Bounding the frequency keeps hot pages cheap while still noticing
	// edits within a couple of seconds.
	DefaultUpToDateCheckInterval = 2 * time.Second

	// DefaultCacheKeyMemoSize is the number of memoized virtual path to key conversions
	// Default: 1024
	DefaultCacheKeyMemoSize = 1024

	// DefaultRedisTTL is the lifetime of records in the shared redis tier
	// Default: 24 hours
	DefaultRedisTTL = 24 * time.Hour
)

// Recycling Defaults
const (
	// DefaultMaxRecompilations is the number of recompilations (locked output
	// recoveries and invalidations of loaded assemblies) after which a
	// process recycle is requested
	// Default: 15
	//
	// Rationale: Every recompilation leaves an assembly loaded that cannot be
	// unloaded. After a handful of them the process accumulates enough dead
	// code and lock state that a restart is the safe recovery.
	DefaultMaxRecompilations = 15
)

// Disk Layout Defaults
const (
	// DefaultTempFileMaxAge is the age after which leftover generated sources are removed
	// Default: 1 hour
	DefaultTempFileMaxAge = time.Hour

	// CompiledRecordExtension is the extension of persisted cache records
	CompiledRecordExtension = ".compiled"

	// DeleteMarkerExtension marks artifacts that are logically removed
	DeleteMarkerExtension = ".delete"

	// HashDirectory holds the special files hash
	HashDirectory = "hash"

	// HashFileName is the special files hash file name
	HashFileName = "hash.web"

	// PrecompiledMarkerFile marks a precompiled application root
	PrecompiledMarkerFile = "precompiledapp.yaml"

	// BinDirectory holds precompiled assemblies
	BinDirectory = "bin"
)

// Compiler Execution Defaults
const (
	// DefaultCompilationTimeout is the maximum time allowed for one compiler invocation
	// Default: 5 minutes
	DefaultCompilationTimeout = 5 * time.Minute

	// DefaultDockerMemoryLimit is the memory limit for sandboxed compilers
	// Default: 1GB
	//
	// Rationale: mcs and vbnc hold the full syntax tree of a batch in memory.
	DefaultDockerMemoryLimit = int64(1024 * 1024 * 1024)

	// DefaultDockerCPULimit is the CPU limit for sandboxed compilers
	// Default: 1.0
	DefaultDockerCPULimit = 1.0
)

// Maintenance Defaults
const (
	// DefaultSweepSchedule runs the delete marker sweep
	// Default: every 10 minutes
	DefaultSweepSchedule = "*/10 * * * *"

	// DefaultTempCleanupSchedule runs the stale generated source cleanup
	// Default: hourly
	DefaultTempCleanupSchedule = "0 * * * *"
)
