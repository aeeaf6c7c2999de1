package api

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/newswire/pkg/analytics"
	"github.com/platinummonkey/newswire/pkg/httputil"
	"github.com/platinummonkey/newswire/pkg/observability"
)

// SummaryProvider builds staff summaries. *analytics.Service satisfies it.
type SummaryProvider interface {
	Summary(ctx context.Context, windowDays int) (*analytics.Summary, error)
}

// SummaryHandlers serves the staff analytics API
type SummaryHandlers struct {
	service     SummaryProvider
	defaultDays int
	logger      *observability.Logger
}

// NewSummaryHandlers creates the staff analytics handlers
func NewSummaryHandlers(service SummaryProvider, defaultDays int, logger *observability.Logger) *SummaryHandlers {
	if defaultDays < 1 || defaultDays > analytics.MaxWindowDays {
		defaultDays = analytics.DefaultWindowDays
	}
	return &SummaryHandlers{service: service, defaultDays: defaultDays, logger: logger}
}

// RegisterRoutes registers routes on a router that already enforces staff
// authentication
func (h *SummaryHandlers) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/analytics/summary", h.getSummary).Methods(http.MethodGet)
}

// getSummary handles GET /api/staff/analytics/summary
// Query params:
//   - days: trailing window including today (1-365), default 14
func (h *SummaryHandlers) getSummary(w http.ResponseWriter, r *http.Request) {
	days, err := httputil.ParseQueryIntInRange(r, "days", h.defaultDays, 1, analytics.MaxWindowDays)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	summary, err := h.service.Summary(r.Context(), days)
	if err != nil {
		if h.logger != nil {
			h.logger.WithError(err).WithField("days", days).Error("Failed to build analytics summary")
		}
		httputil.WriteErrorMessage(w, http.StatusInternalServerError, "failed to load analytics summary")
		return
	}

	_ = httputil.WriteSuccess(w, summary)
}
