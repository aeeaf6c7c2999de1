package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/newswire/pkg/analytics"
	"github.com/platinummonkey/newswire/pkg/auth"
	"github.com/platinummonkey/newswire/pkg/observability"
)

type mockSummaries struct {
	err  error
	days []int
}

func (m *mockSummaries) Summary(_ context.Context, windowDays int) (*analytics.Summary, error) {
	m.days = append(m.days, windowDays)
	if m.err != nil {
		return nil, m.err
	}
	return &analytics.Summary{
		WindowDays:        windowDays,
		GeneratedAt:       time.Date(2026, 4, 14, 15, 0, 0, 0, time.UTC),
		Totals:            analytics.Totals{Views: 3, UniqueViews: 2},
		TopPosts:          []analytics.PostSummary{{PostID: "p1", Title: "Alpha", Slug: "alpha", PostMetrics: analytics.PostMetrics{Views: 3, UniqueViews: 2}}},
		PostLifetimeViews: map[string]int{"p1": 40},
	}, nil
}

// mockSessions accepts "staff" and "reader" tokens
type mockSessions struct{}

func (mockSessions) Authenticate(_ context.Context, token string, _ time.Time) (*auth.User, *auth.Session, error) {
	switch token {
	case "staff":
		return &auth.User{ID: "u1", Role: auth.RoleStaff}, &auth.Session{ID: "s1"}, nil
	case "reader":
		return &auth.User{ID: "u2", Role: auth.RoleReader}, &auth.Session{ID: "s2"}, nil
	}
	return nil, nil, auth.ErrSessionNotFound
}

func getSummary(t *testing.T, h http.Handler, query, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/api/staff/analytics/summary"+query, nil)
	if token != "" {
		req.AddCookie(&http.Cookie{Name: auth.StaffSessionCookie, Value: token})
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestGetSummary(t *testing.T) {
	summaries := &mockSummaries{}
	srv := NewServer(Dependencies{Recorder: &mockRecorder{}, Summaries: summaries, Sessions: mockSessions{}}, Options{DefaultWindowDays: 14})

	w := getSummary(t, srv, "", "staff")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, float64(14), body["windowDays"])
	assert.Equal(t, "2026-04-14T15:00:00Z", body["generatedAt"])
	top := body["topPosts"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, "p1", top["postId"])
	assert.Equal(t, float64(3), top["views"])
	assert.Equal(t, map[string]interface{}{"p1": float64(40)}, body["postLifetimeViews"])

	w = getSummary(t, srv, "?days=7", "staff")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []int{14, 7}, summaries.days)
}

func TestGetSummary_BadDays(t *testing.T) {
	summaries := &mockSummaries{}
	srv := NewServer(Dependencies{Recorder: &mockRecorder{}, Summaries: summaries, Sessions: mockSessions{}}, Options{})

	for _, q := range []string{"?days=0", "?days=366", "?days=week"} {
		w := getSummary(t, srv, q, "staff")
		assert.Equal(t, http.StatusBadRequest, w.Code, q)
	}
	assert.Empty(t, summaries.days)
}

func TestGetSummary_Auth(t *testing.T) {
	summaries := &mockSummaries{}
	srv := NewServer(Dependencies{Recorder: &mockRecorder{}, Summaries: summaries, Sessions: mockSessions{}}, Options{})

	assert.Equal(t, http.StatusUnauthorized, getSummary(t, srv, "", "").Code)
	assert.Equal(t, http.StatusUnauthorized, getSummary(t, srv, "", "forged").Code)
	assert.Equal(t, http.StatusForbidden, getSummary(t, srv, "", "reader").Code)
	assert.Empty(t, summaries.days)

	req := httptest.NewRequest(http.MethodGet, "/api/staff/analytics/summary", nil)
	req.Header.Set("Authorization", "Bearer staff")
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestGetSummary_ServiceError(t *testing.T) {
	srv := NewServer(Dependencies{Recorder: &mockRecorder{}, Summaries: &mockSummaries{err: errors.New("replica down")}, Sessions: mockSessions{}}, Options{})

	w := getSummary(t, srv, "", "staff")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "failed to load analytics summary")
	assert.NotContains(t, w.Body.String(), "replica down")
}

func TestServer_HTTPMetricsAndNotFound(t *testing.T) {
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	srv := NewServer(Dependencies{Recorder: &mockRecorder{}, Summaries: &mockSummaries{}, Sessions: mockSessions{}, Metrics: metrics}, Options{Tracing: true})

	getSummary(t, srv, "", "staff")
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.HTTPRequestsTotal.WithLabelValues("GET", "/api/staff/analytics/summary", "200")))

	req := httptest.NewRequest(http.MethodGet, "/nope", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "not found")
}
