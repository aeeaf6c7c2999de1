// Package httputil provides HTTP utilities for standardized request/response handling.
//
// # Response Helpers
//
//	httputil.WriteJSON(w, http.StatusOK, data)
//	httputil.WriteBadRequest(w, "invalid days")
//	httputil.WriteUnauthorized(w, "authentication required")
//	httputil.WriteInternalError(w)
//
// # Request Parsing
//
//	var req ingestPayload
//	if err := httputil.ParseJSON(r, &req); err != nil { ... }
//
//	days, err := httputil.ParseQueryIntInRange(r, "days", 14, 1, 365)
//	ip := httputil.ClientIP(r)
//
// # Middleware
//
//	httputil.Chain(
//		httputil.RequestIDMiddleware,
//		httputil.LoggingMiddleware(logger),
//		httputil.RecoveryMiddleware(logger),
//		httputil.MaxBytesMiddleware(16*1024),
//	)
//
// # Related Packages
//
//   - pkg/middleware: Staff authentication and rate limiting
package httputil
