package api

import (
	"net/http"
	"strings"

	"github.com/platinummonkey/webcompile/pkg/compilation"
	"github.com/platinummonkey/webcompile/pkg/history"
	"github.com/platinummonkey/webcompile/pkg/httputil"
	"github.com/platinummonkey/webcompile/pkg/observability"
)

// getResult returns the build result for a site relative path. With
// compile=false only a cached result is returned.
func (s *Server) getResult(w http.ResponseWriter, r *http.Request) {
	vpath := httputil.VirtualPathVar(r, "path")
	compile, err := httputil.ParseQueryBool(r, "compile", true)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	if !compile {
		result, ok := s.opts.Builder.Peek(r.Context(), vpath)
		if !ok {
			httputil.WriteNotFoundError(w, "no cached result for "+vpath)
			return
		}
		_ = httputil.WriteSuccess(w, NewResultView(result))
		return
	}

	result, err := s.opts.Builder.GetOrBuild(r.Context(), nil, vpath)
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).WithField("vpath", vpath).Debug("Build failed")
		httputil.WriteError(w, err)
		return
	}
	_ = httputil.WriteSuccess(w, NewResultView(result))
}

// batchDirectory compiles every unit of a directory
func (s *Server) batchDirectory(w http.ResponseWriter, r *http.Request) {
	var req BatchRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Directory == "" {
		httputil.WriteBadRequest(w, "directory is required")
		return
	}

	dir := compilation.CleanPath(req.Directory)
	compiled, err := s.opts.Builder.BatchCompileDirectory(r.Context(), nil, dir, req.IgnoreErrors)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	_ = httputil.WriteSuccess(w, BatchResponse{Directory: dir, Compiled: compiled})
}

// invalidate evicts results depending on a changed file or a removed assembly
func (s *Server) invalidate(w http.ResponseWriter, r *http.Request) {
	var req InvalidateRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if (req.Path == "") == (req.Assembly == "") {
		httputil.WriteBadRequest(w, "exactly one of path or assembly is required")
		return
	}

	var removed []string
	if req.Path != "" {
		removed = s.opts.Builder.InvalidateDependency(r.Context(), req.Path)
	} else {
		removed = s.opts.Builder.InvalidateAssembly(r.Context(), req.Assembly)
	}
	if removed == nil {
		removed = []string{}
	}
	_ = httputil.WriteSuccess(w, InvalidateResponse{Removed: removed})
}

// listBuilds returns recent builds, newest first
func (s *Server) listBuilds(w http.ResponseWriter, r *http.Request) {
	if s.opts.History == nil {
		httputil.WriteNotFoundError(w, "build history is not enabled")
		return
	}

	limit, err := httputil.ParseQueryInt(r, "limit", 50)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	filter := history.Filter{
		Assembly: r.URL.Query().Get("assembly"),
		Language: strings.ToLower(r.URL.Query().Get("language")),
		Limit:    limit,
	}
	if r.URL.Query().Has("failed") {
		failed, err := httputil.ParseQueryBool(r, "failed", false)
		if err != nil {
			httputil.WriteBadRequest(w, err.Error())
			return
		}
		success := !failed
		filter.Success = &success
	}

	records, err := s.opts.History.Search(r.Context(), filter)
	if err != nil {
		httputil.WriteErrorMessage(w, http.StatusInternalServerError, err.Error())
		return
	}
	_ = httputil.WriteSuccess(w, records)
}

// getStats summarizes cache, history and recycle state
func (s *Server) getStats(w http.ResponseWriter, r *http.Request) {
	resp := StatsResponse{
		Precompiled: s.opts.Builder.IsPrecompiled(),
		Recycle:     s.recycleStatus(),
	}
	if s.opts.CacheStats != nil {
		stats := s.opts.CacheStats()
		resp.Cache = &stats
	}
	if s.opts.History != nil {
		stats, err := s.opts.History.Stats(r.Context(), nil)
		if err != nil {
			observability.FromContext(r.Context()).WithError(err).Warn("Failed to read build history stats")
		} else {
			resp.History = stats
		}
	}
	_ = httputil.WriteSuccess(w, resp)
}

func (s *Server) getRecycle(w http.ResponseWriter, r *http.Request) {
	_ = httputil.WriteSuccess(w, s.recycleStatus())
}

func (s *Server) requestRecycle(w http.ResponseWriter, r *http.Request) {
	var req RecycleRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Reason == "" {
		req.Reason = "requested over HTTP"
	}
	s.opts.Builder.RequestRecycle(req.Reason)
	_ = httputil.WriteJSON(w, http.StatusAccepted, s.recycleStatus())
}

func (s *Server) recycleStatus() RecycleStatus {
	status := RecycleStatus{Recompilations: s.opts.Builder.Recompilations()}
	select {
	case <-s.opts.Builder.Recycle():
		status.Requested = true
		status.Reason = s.opts.Builder.RecycleReason()
	default:
	}
	return status
}
