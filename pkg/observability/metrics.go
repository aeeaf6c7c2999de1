package observability

import (
	"database/sql"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// Analytics ingest metrics
	EventsTotal          *prometheus.CounterVec
	RecordDuration       *prometheus.HistogramVec
	DedupFastPathTotal   *prometheus.CounterVec
	VisibilityCacheTotal *prometheus.CounterVec

	// Dashboard metrics
	SummaryDuration prometheus.Histogram
	SummaryErrors   prometheus.Counter

	// Jobs
	PostsPromotedTotal prometheus.Counter
	EventsPurgedTotal  *prometheus.CounterVec
	JobRunsTotal       *prometheus.CounterVec

	// Database metrics
	DBConnectionsOpen  prometheus.Gauge
	DBConnectionsInUse prometheus.Gauge
	DBConnectionsIdle  prometheus.Gauge
	DBWaitCount        prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "newswire_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "newswire_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		HTTPResponseSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "newswire_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(64, 4, 8),
			},
			[]string{"method", "route"},
		),

		EventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "newswire_analytics_events_total",
				Help: "Analytics submissions by kind and outcome (recorded or the skip reason)",
			},
			[]string{"kind", "outcome"},
		),
		RecordDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "newswire_analytics_record_duration_seconds",
				Help:    "Time spent recording a single analytics submission",
				Buckets: []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"kind"},
		),
		DedupFastPathTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "newswire_analytics_dedup_fastpath_total",
				Help: "Dedup marker lookups by result (hit, miss, error)",
			},
			[]string{"result"},
		),
		VisibilityCacheTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "newswire_post_visibility_cache_total",
				Help: "Post visibility cache lookups by result (hit, miss)",
			},
			[]string{"result"},
		),

		SummaryDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "newswire_staff_summary_duration_seconds",
				Help:    "Time spent building the staff analytics summary",
				Buckets: prometheus.DefBuckets,
			},
		),
		SummaryErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "newswire_staff_summary_errors_total",
				Help: "Failed staff analytics summary builds",
			},
		),

		PostsPromotedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "newswire_posts_promoted_total",
				Help: "Scheduled posts promoted to published",
			},
		),
		EventsPurgedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "newswire_analytics_events_purged_total",
				Help: "Raw analytics events removed by the retention job",
			},
			[]string{"table"},
		),
		JobRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "newswire_job_runs_total",
				Help: "Scheduled job runs by job and status",
			},
			[]string{"job", "status"},
		),

		DBConnectionsOpen: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "newswire_db_connections_open",
				Help: "Number of open database connections",
			},
		),
		DBConnectionsInUse: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "newswire_db_connections_in_use",
				Help: "Number of database connections in use",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "newswire_db_connections_idle",
				Help: "Number of idle database connections",
			},
		),
		DBWaitCount: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "newswire_db_connections_wait_count",
				Help: "Total number of connections waited for",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPResponseSize,
		m.EventsTotal,
		m.RecordDuration,
		m.DedupFastPathTotal,
		m.VisibilityCacheTotal,
		m.SummaryDuration,
		m.SummaryErrors,
		m.PostsPromotedTotal,
		m.EventsPurgedTotal,
		m.JobRunsTotal,
		m.DBConnectionsOpen,
		m.DBConnectionsInUse,
		m.DBConnectionsIdle,
		m.DBWaitCount,
	)

	return m
}

// ObserveEvent counts one analytics submission. A nil receiver is a no-op so
// components can run without metrics in tests.
func (m *Metrics) ObserveEvent(kind, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.EventsTotal.WithLabelValues(kind, outcome).Inc()
	m.RecordDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
}

// ObserveDedupFastPath counts a dedup marker lookup
func (m *Metrics) ObserveDedupFastPath(result string) {
	if m == nil {
		return
	}
	m.DedupFastPathTotal.WithLabelValues(result).Inc()
}

// ObserveVisibilityCache counts a visibility cache lookup
func (m *Metrics) ObserveVisibilityCache(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.VisibilityCacheTotal.WithLabelValues(result).Inc()
}

// ObserveJob counts a scheduled job run
func (m *Metrics) ObserveJob(job string, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.JobRunsTotal.WithLabelValues(job, status).Inc()
}

// RecordDBStats copies connection pool statistics into gauges
func (m *Metrics) RecordDBStats(stats sql.DBStats) {
	if m == nil {
		return
	}
	m.DBConnectionsOpen.Set(float64(stats.OpenConnections))
	m.DBConnectionsInUse.Set(float64(stats.InUse))
	m.DBConnectionsIdle.Set(float64(stats.Idle))
	m.DBWaitCount.Set(float64(stats.WaitCount))
}

// responseWriter wraps http.ResponseWriter to capture status code and size
type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += n
	return n, err
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics.
// Requests are labelled by mux route template so that path parameters do not
// explode label cardinality.
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rw, r)

			route := routeLabel(r)
			status := strconv.Itoa(rw.statusCode)

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, status).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
			metrics.HTTPResponseSize.WithLabelValues(r.Method, route).Observe(float64(rw.bytesWritten))
		})
	}
}

func routeLabel(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(mux *http.ServeMux, registry *prometheus.Registry) {
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}
