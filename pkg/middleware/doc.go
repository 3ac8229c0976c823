// Package middleware provides rate limiting for the compile endpoints of the
// HTTP API.
//
// RateLimiter keeps a token bucket per client in process memory.
// DistributedRateLimiter counts requests per fixed window in Redis so several
// instances behind a load balancer share one limit.
//
//	limiter := middleware.NewDistributedRateLimiter(redisClient, &middleware.RateLimitConfig{
//		RequestsPerWindow: 60,
//		WindowDuration:    time.Minute,
//		BurstSize:         10,
//	}, "")
//	router.Handle("/api/v1/batches", middleware.RateLimit(limiter, logger)(handler))
//
// Clients are keyed by the first X-Forwarded-For hop, X-Real-IP or the remote
// address. When the limiter fails the request is allowed.
package middleware
