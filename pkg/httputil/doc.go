// Package httputil provides HTTP utilities for standardized request/response handling.
//
// # Response Helpers
//
//	httputil.WriteJSON(w, http.StatusOK, data)
//	httputil.WriteBadRequest(w, "directory is required")
//
// Build errors are mapped to a status code and carry their diagnostics:
//
//	result, err := manager.GetOrBuild(ctx, nil, vpath)
//	if err != nil {
//		httputil.WriteError(w, err) // 422 with diagnostics for a compile error
//		return
//	}
//
// # Request Parsing
//
//	vpath := httputil.VirtualPathVar(r, "path") // "admin/list.aspx" -> "~/admin/list.aspx"
//	limit, err := httputil.ParseQueryInt(r, "limit", 50)
//
// # Middleware
//
//	httputil.Chain(
//		httputil.RequestIDMiddleware,
//		httputil.RecoveryMiddleware(logger),
//		httputil.LoggingMiddleware(logger),
//		httputil.MaxBytesMiddleware(1<<20),
//	)
package httputil
