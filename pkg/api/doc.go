// Package api provides the newswire HTTP API.
//
// # Routes
//
//	POST /metrics/view                  record a page view
//	POST /metrics/engagement            record a LINK_CLICK or TIME_ON_PAGE signal
//	GET  /api/staff/analytics/summary   staff analytics summary (?days=1..365)
//
// The metrics endpoints accept application/json and text/plain bodies, the
// latter because navigator.sendBeacon cannot set a JSON content type. They
// answer 200 {"ok":true,"recorded":bool,"reason":...} whenever the payload is
// well formed, 400 {"ok":false,"error":"invalid_payload"} otherwise, and 500
// {"ok":false,"error":"internal_error"} when persistence fails. A visitor
// cookie (nn2_anon_sid) is issued on the first successful call.
//
// The staff routes sit behind middleware.StaffAuthMiddleware.
//
// # Usage
//
//	server := api.NewServer(api.Dependencies{
//		Recorder:  recorder,
//		Summaries: summaries,
//		Sessions:  sessionStore,
//		Limiter:   limiter,
//		Metrics:   metrics,
//		Logger:    logger,
//	}, api.Options{DefaultWindowDays: 14, SecureCookies: true})
//	http.ListenAndServe(":8080", server)
package api
