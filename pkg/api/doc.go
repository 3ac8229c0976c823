// Package api exposes the build manager over HTTP.
//
// # Endpoints
//
//	GET  /api/v1/results/{path}     build or fetch the result for a site path (?compile=false peeks)
//	POST /api/v1/batches            batch compile a directory
//	POST /api/v1/invalidations      evict results for a changed file or removed assembly
//	GET  /api/v1/builds             recent builds from the history store
//	GET  /api/v1/stats              cache, history and recycle summary
//	GET  /api/v1/recycle            pending recycle status
//	POST /api/v1/recycle            request a recycle
//	GET  /health/live, /health/ready
//	GET  /metrics
//
// Compile failures are returned as 422 with the compiler diagnostics. Unknown
// paths are 404 and circular references are 409. With Options.RateLimiter set,
// results and batches answer 429 once a client exceeds its limit.
//
//	server, err := api.NewServer(api.Options{
//		Builder:    manager,
//		History:    store,
//		CacheStats: chain.Memory().Stats,
//		Logger:     logger,
//	})
//	http.ListenAndServe(":8080", server)
package api
