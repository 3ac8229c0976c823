package api

import (
	"context"
	"time"

	"github.com/platinummonkey/webcompile/pkg/compilation/buildresult"
	"github.com/platinummonkey/webcompile/pkg/compilation/cache"
	"github.com/platinummonkey/webcompile/pkg/compilation/guard"
	"github.com/platinummonkey/webcompile/pkg/compilation/orchestrator"
	"github.com/platinummonkey/webcompile/pkg/history"
)

// Builder is the build manager surface exposed over HTTP
type Builder interface {
	GetOrBuild(ctx context.Context, sess *guard.Session, vpath string) (*buildresult.Result, error)
	Peek(ctx context.Context, vpath string) (*buildresult.Result, bool)
	BatchCompileDirectory(ctx context.Context, sess *guard.Session, dir string, ignoreErrors bool) (bool, error)
	InvalidateDependency(ctx context.Context, vpath string) []string
	InvalidateAssembly(ctx context.Context, name string) []string
	RequestRecycle(reason string)
	Recycle() <-chan struct{}
	RecycleReason() string
	Recompilations() int64
	IsPrecompiled() bool
}

// BuildHistory queries recorded builds
type BuildHistory interface {
	Search(ctx context.Context, filter history.Filter) ([]*orchestrator.BuildRecord, error)
	Stats(ctx context.Context, since *time.Time) (*history.Stats, error)
}

// ResultView is the JSON form of a build result
type ResultView struct {
	Kind         string   `json:"kind"`
	VirtualPath  string   `json:"virtual_path"`
	Assembly     string   `json:"assembly,omitempty"`
	AssemblyPath string   `json:"assembly_path,omitempty"`
	TypeName     string   `json:"type_name,omitempty"`
	CustomString string   `json:"custom_string,omitempty"`
	Dependencies []string `json:"dependencies,omitempty"`
	References   []string `json:"references,omitempty"`
	Watched      bool     `json:"watched,omitempty"`
	Precompiled  bool     `json:"precompiled,omitempty"`
}

// NewResultView converts a build result
func NewResultView(r *buildresult.Result) ResultView {
	asm := r.Assembly()
	return ResultView{
		Kind:         r.Kind().String(),
		VirtualPath:  r.VirtualPath(),
		Assembly:     asm.Name,
		AssemblyPath: asm.Path,
		TypeName:     r.TypeName(),
		CustomString: r.CustomString(),
		Dependencies: r.Dependencies(),
		References:   r.References(),
		Watched:      r.HasFlag(buildresult.FlagWatched),
		Precompiled:  r.HasFlag(buildresult.FlagPrecompiled),
	}
}

// BatchRequest asks for a directory to be batch compiled
type BatchRequest struct {
	Directory    string `json:"directory"`
	IgnoreErrors bool   `json:"ignore_errors"`
}

// BatchResponse reports whether the directory was compiled
type BatchResponse struct {
	Directory string `json:"directory"`
	Compiled  bool   `json:"compiled"`
}

// InvalidateRequest names either a changed file or a removed assembly
type InvalidateRequest struct {
	Path     string `json:"path,omitempty"`
	Assembly string `json:"assembly,omitempty"`
}

// InvalidateResponse lists the evicted cache keys
type InvalidateResponse struct {
	Removed []string `json:"removed"`
}

// RecycleRequest asks for a process recycle
type RecycleRequest struct {
	Reason string `json:"reason"`
}

// RecycleStatus reports whether a recycle is pending
type RecycleStatus struct {
	Requested      bool   `json:"requested"`
	Reason         string `json:"reason,omitempty"`
	Recompilations int64  `json:"recompilations"`
}

// StatsResponse summarizes cache and build activity
type StatsResponse struct {
	Precompiled bool           `json:"precompiled"`
	Cache       *cache.Stats   `json:"cache,omitempty"`
	History     *history.Stats `json:"history,omitempty"`
	Recycle     RecycleStatus  `json:"recycle"`
}
