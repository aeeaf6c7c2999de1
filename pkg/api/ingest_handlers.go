package api

import (
	"context"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"

	"github.com/platinummonkey/newswire/pkg/analytics"
	"github.com/platinummonkey/newswire/pkg/httputil"
	"github.com/platinummonkey/newswire/pkg/observability"
)

// EventRecorder records analytics submissions. *analytics.Recorder
// satisfies it.
type EventRecorder interface {
	RecordView(ctx context.Context, in analytics.ViewInput) (analytics.Result, error)
	RecordEngagement(ctx context.Context, in analytics.EngagementInput) (analytics.Result, error)
}

// IngestHandlers serves the public metrics endpoints
type IngestHandlers struct {
	recorder      EventRecorder
	validate      *validator.Validate
	logger        *observability.Logger
	secureCookies bool
	newSessionID  func() string
}

// NewIngestHandlers creates the metrics handlers. secureCookies marks the
// visitor cookie Secure and should be set in production.
func NewIngestHandlers(recorder EventRecorder, logger *observability.Logger, secureCookies bool) *IngestHandlers {
	return &IngestHandlers{
		recorder:      recorder,
		validate:      newValidator(),
		logger:        logger,
		secureCookies: secureCookies,
		newSessionID:  analytics.NewSessionID,
	}
}

// RegisterRoutes registers the metrics routes on a router mounted at
// /metrics. OPTIONS is routed so CORS preflights reach the middleware.
func (h *IngestHandlers) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/view", h.recordView).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/engagement", h.recordEngagement).Methods(http.MethodPost, http.MethodOptions)
}

// recordView handles POST /metrics/view
func (h *IngestHandlers) recordView(w http.ResponseWriter, r *http.Request) {
	var payload ViewPayload
	if err := httputil.ParseJSON(r, &payload); err != nil {
		h.invalid(w, r, err)
		return
	}
	if err := h.validate.Struct(&payload); err != nil {
		h.invalid(w, r, err)
		return
	}

	sessionID, fresh := h.sessionID(r)
	result, err := h.recorder.RecordView(r.Context(), analytics.ViewInput{
		PostID:    payload.PostID,
		SessionID: sessionID,
		Path:      payload.Path,
		UserAgent: r.UserAgent(),
		Referrer:  r.Referer(),
	})
	if err != nil {
		h.failed(w, r, err)
		return
	}
	h.respond(w, sessionID, fresh, result)
}

// recordEngagement handles POST /metrics/engagement
func (h *IngestHandlers) recordEngagement(w http.ResponseWriter, r *http.Request) {
	var payload EngagementPayload
	if err := httputil.ParseJSON(r, &payload); err != nil {
		h.invalid(w, r, err)
		return
	}
	if err := payload.validate(h.validate); err != nil {
		h.invalid(w, r, err)
		return
	}

	in := analytics.EngagementInput{
		PostID:    payload.PostID,
		Path:      payload.Path,
		Type:      analytics.EngagementType(payload.Type),
		UserAgent: r.UserAgent(),
		Referrer:  r.Referer(),
	}
	if in.Type == analytics.EngagementLinkClick {
		in.TargetURL = *payload.TargetURL
	} else {
		in.SecondsOnPage = payload.SecondsOnPage
	}

	sessionID, fresh := h.sessionID(r)
	in.SessionID = sessionID
	result, err := h.recorder.RecordEngagement(r.Context(), in)
	if err != nil {
		h.failed(w, r, err)
		return
	}
	h.respond(w, sessionID, fresh, result)
}

// sessionID returns the visitor cookie value, minting one when absent
func (h *IngestHandlers) sessionID(r *http.Request) (string, bool) {
	if c, err := r.Cookie(analytics.SessionCookieName); err == nil && c.Value != "" {
		return c.Value, false
	}
	return h.newSessionID(), true
}

func (h *IngestHandlers) respond(w http.ResponseWriter, sessionID string, fresh bool, result analytics.Result) {
	if fresh {
		http.SetCookie(w, &http.Cookie{
			Name:     analytics.SessionCookieName,
			Value:    sessionID,
			Path:     "/",
			MaxAge:   int(analytics.SessionCookieMaxAge.Seconds()),
			HttpOnly: true,
			Secure:   h.secureCookies,
			SameSite: http.SameSiteLaxMode,
		})
	}
	_ = httputil.WriteJSON(w, http.StatusOK, IngestResponse{OK: true, Recorded: result.Recorded, Reason: result.Reason})
}

func (h *IngestHandlers) invalid(w http.ResponseWriter, r *http.Request, err error) {
	if h.logger != nil {
		h.logger.WithError(err).WithField("path", r.URL.Path).Debug("Rejected metrics payload")
	}
	_ = httputil.WriteJSON(w, http.StatusBadRequest, IngestError{Error: errInvalidPayload})
}

func (h *IngestHandlers) failed(w http.ResponseWriter, r *http.Request, err error) {
	if h.logger != nil {
		h.logger.WithError(err).WithField("path", r.URL.Path).Error("Failed to record metrics event")
	}
	_ = httputil.WriteJSON(w, http.StatusInternalServerError, IngestError{Error: errInternal})
}
