// Package middleware provides HTTP middleware for staff authentication and
// ingest rate limiting.
//
// # Staff authentication
//
// StaffAuthMiddleware reads the raw session token from the nnn_staff_session
// cookie or an "Authorization: Bearer" header, resolves it through the
// session store and attaches an auth.AuthContext to the request:
//
//	staff := router.PathPrefix("/api/staff").Subrouter()
//	staff.Use(middleware.NewStaffAuthMiddleware(sessions, logger).Handler)
//
// Missing, unknown and expired sessions get 401; users without a staff role
// get 403.
//
// # Rate limiting
//
// RateLimitMiddleware keys requests by client IP. Two limiters are
// available:
//
//	RateLimiter             in-process token bucket (default 120/min, burst 30)
//	DistributedRateLimiter  fixed window counter in Redis, shared by instances
//
// Both support SetConfig so limits can be reloaded without a restart. Limiter
// errors fail open by default.
package middleware
