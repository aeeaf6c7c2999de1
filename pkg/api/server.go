package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/newswire/pkg/httputil"
	"github.com/platinummonkey/newswire/pkg/middleware"
	"github.com/platinummonkey/newswire/pkg/observability"
)

// DefaultMaxBodyBytes caps metrics request bodies
const DefaultMaxBodyBytes = 16 << 10

// Dependencies are the collaborators the server routes to
type Dependencies struct {
	Recorder  EventRecorder
	Summaries SummaryProvider
	Sessions  middleware.SessionAuthenticator

	// Limiter throttles the metrics endpoints per client IP; nil disables
	Limiter middleware.Limiter

	Metrics *observability.Metrics
	Logger  *observability.Logger
}

// Options tune the HTTP surface
type Options struct {
	DefaultWindowDays int
	MaxBodyBytes      int64
	CORSOrigins       []string
	SecureCookies     bool
	Tracing           bool
	// RateLimitFailClosed rejects ingest when the limiter errors
	RateLimitFailClosed bool
}

// Server is the newswire HTTP API
type Server struct {
	router  *mux.Router
	handler http.Handler
	ingest  *IngestHandlers
	summary *SummaryHandlers
}

// NewServer wires routes and middleware
func NewServer(deps Dependencies, opts Options) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}

	s := &Server{
		router:  mux.NewRouter(),
		ingest:  NewIngestHandlers(deps.Recorder, logger, opts.SecureCookies),
		summary: NewSummaryHandlers(deps.Summaries, opts.DefaultWindowDays, logger),
	}

	s.router.Use(httputil.RequestIDMiddleware, httputil.LoggingMiddleware(logger), httputil.RecoveryMiddleware(logger))
	if deps.Metrics != nil {
		s.router.Use(observability.HTTPMetricsMiddleware(deps.Metrics))
	}
	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteErrorMessage(w, http.StatusNotFound, "not found")
	})
	s.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteErrorMessage(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	ingest := s.router.PathPrefix("/metrics").Subrouter()
	ingest.Use(httputil.CORSMiddleware(opts.CORSOrigins))
	if deps.Limiter != nil {
		rl := middleware.NewRateLimitMiddleware(deps.Limiter, func(err error) {
			logger.WithError(err).WithField("fail_closed", opts.RateLimitFailClosed).Warn("Rate limiter unavailable")
		})
		rl.SetFailOpen(!opts.RateLimitFailClosed)
		ingest.Use(rl.Handler)
	}
	ingest.Use(
		httputil.ContentTypeMiddleware("application/json", "text/plain"),
		httputil.MaxBytesMiddleware(opts.MaxBodyBytes),
	)
	s.ingest.RegisterRoutes(ingest)

	staff := s.router.PathPrefix("/api/staff").Subrouter()
	staff.Use(middleware.NewStaffAuthMiddleware(deps.Sessions, logger).StaffOnly())
	s.summary.RegisterRoutes(staff)

	s.handler = s.router
	if opts.Tracing {
		s.handler = otelhttp.NewHandler(s.router, "newswire",
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				return r.Method + " " + r.URL.Path
			}),
		)
	}
	return s
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Router exposes the underlying router for extra routes
func (s *Server) Router() *mux.Router {
	return s.router
}
