package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/newswire/pkg/analytics"
	"github.com/platinummonkey/newswire/pkg/middleware"
)

// mockRecorder captures inputs and returns canned results
type mockRecorder struct {
	result analytics.Result
	err    error

	views      []analytics.ViewInput
	engagement []analytics.EngagementInput
}

func (m *mockRecorder) RecordView(_ context.Context, in analytics.ViewInput) (analytics.Result, error) {
	m.views = append(m.views, in)
	return m.result, m.err
}

func (m *mockRecorder) RecordEngagement(_ context.Context, in analytics.EngagementInput) (analytics.Result, error) {
	m.engagement = append(m.engagement, in)
	return m.result, m.err
}

func newTestServer(rec EventRecorder) *Server {
	return NewServer(Dependencies{Recorder: rec, Summaries: &mockSummaries{}, Sessions: &mockSessions{}}, Options{})
}

func post(t *testing.T, h http.Handler, path, body string, mutate ...func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for _, m := range mutate {
		m(req)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func withCookie(value string) func(*http.Request) {
	return func(r *http.Request) {
		r.AddCookie(&http.Cookie{Name: analytics.SessionCookieName, Value: value})
	}
}

func TestRecordView(t *testing.T) {
	rec := &mockRecorder{result: analytics.Result{Recorded: true}}
	srv := newTestServer(rec)

	w := post(t, srv, "/metrics/view", `{"postId":"p1","path":"/2026/04/story"}`, func(r *http.Request) {
		r.Header.Set("User-Agent", "Mozilla/5.0")
		r.Header.Set("Referer", "https://news.example.com/front")
	})

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, map[string]interface{}{"ok": true, "recorded": true}, decode(t, w))

	require.Len(t, rec.views, 1)
	in := rec.views[0]
	assert.Equal(t, "p1", in.PostID)
	assert.Equal(t, "/2026/04/story", in.Path)
	assert.Equal(t, "Mozilla/5.0", in.UserAgent)
	assert.Equal(t, "https://news.example.com/front", in.Referrer)
	assert.True(t, strings.HasPrefix(in.SessionID, "nn2_"))

	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	c := cookies[0]
	assert.Equal(t, analytics.SessionCookieName, c.Name)
	assert.Equal(t, in.SessionID, c.Value)
	assert.Equal(t, "/", c.Path)
	assert.Equal(t, 365*24*60*60, c.MaxAge)
	assert.True(t, c.HttpOnly)
	assert.False(t, c.Secure)
	assert.Equal(t, http.SameSiteLaxMode, c.SameSite)
}

func TestRecordView_ExistingCookie(t *testing.T) {
	rec := &mockRecorder{result: analytics.Result{Reason: analytics.ReasonDeduped}}
	srv := newTestServer(rec)

	w := post(t, srv, "/metrics/view", `{"postId":"p1","path":"/x"}`, withCookie("nn2_existing"))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, map[string]interface{}{"ok": true, "recorded": false, "reason": "deduped"}, decode(t, w))
	assert.Empty(t, w.Result().Cookies())
	assert.Equal(t, "nn2_existing", rec.views[0].SessionID)
}

func TestRecordView_CookieSetWhenNotRecorded(t *testing.T) {
	rec := &mockRecorder{result: analytics.Result{Reason: analytics.ReasonPostNotVisible}}
	w := post(t, newTestServer(rec), "/metrics/view", `{"postId":"draft","path":"/x"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, w.Result().Cookies(), 1)
}

func TestRecordView_SecureCookieInProduction(t *testing.T) {
	srv := NewServer(Dependencies{Recorder: &mockRecorder{}, Sessions: &mockSessions{}, Summaries: &mockSummaries{}}, Options{SecureCookies: true})
	w := post(t, srv, "/metrics/view", `{"postId":"p1","path":"/x"}`)
	require.Len(t, w.Result().Cookies(), 1)
	assert.True(t, w.Result().Cookies()[0].Secure)
}

func TestRecordView_InvalidPayload(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", `postId=p1`},
		{"empty object", `{}`},
		{"empty post id", `{"postId":"","path":"/x"}`},
		{"missing path", `{"postId":"p1"}`},
		{"path too long", `{"postId":"p1","path":"/` + strings.Repeat("a", 240) + `"}`},
		{"wrong type", `{"postId":7,"path":"/x"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &mockRecorder{}
			w := post(t, newTestServer(rec), "/metrics/view", tt.body)

			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, map[string]interface{}{"ok": false, "error": "invalid_payload"}, decode(t, w))
			assert.Empty(t, rec.views)
			assert.Empty(t, w.Result().Cookies())
		})
	}
}

func TestRecordView_StoreFailure(t *testing.T) {
	rec := &mockRecorder{err: errors.New("connection refused")}
	w := post(t, newTestServer(rec), "/metrics/view", `{"postId":"p1","path":"/x"}`)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, map[string]interface{}{"ok": false, "error": "internal_error"}, decode(t, w))
	assert.NotContains(t, w.Body.String(), "connection refused")
}

func TestRecordView_SendBeaconPlainText(t *testing.T) {
	rec := &mockRecorder{result: analytics.Result{Recorded: true}}
	w := post(t, newTestServer(rec), "/metrics/view", `{"postId":"p1","path":"/x"}`, func(r *http.Request) {
		r.Header.Set("Content-Type", "text/plain;charset=UTF-8")
	})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, rec.views, 1)
}

func TestRecordView_RejectsOtherContentTypes(t *testing.T) {
	w := post(t, newTestServer(&mockRecorder{}), "/metrics/view", `postId=p1`, func(r *http.Request) {
		r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	})
	assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)
}

func TestRecordView_BodyTooLarge(t *testing.T) {
	srv := NewServer(Dependencies{Recorder: &mockRecorder{}, Sessions: &mockSessions{}, Summaries: &mockSummaries{}}, Options{MaxBodyBytes: 64})
	w := post(t, srv, "/metrics/view", `{"postId":"p1","path":"/`+strings.Repeat("a", 100)+`"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRecordView_MethodNotAllowed(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/metrics/view", nil)
	w := httptest.NewRecorder()
	newTestServer(&mockRecorder{}).ServeHTTP(w, req)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestRecordEngagement_TimeOnPage(t *testing.T) {
	rec := &mockRecorder{result: analytics.Result{Recorded: true}}
	w := post(t, newTestServer(rec), "/metrics/engagement",
		`{"type":"TIME_ON_PAGE","postId":"p1","path":"/x","secondsOnPage":45,"targetUrl":"ignored"}`, withCookie("nn2_a"))

	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, rec.engagement, 1)
	in := rec.engagement[0]
	assert.Equal(t, analytics.EngagementTimeOnPage, in.Type)
	require.NotNil(t, in.SecondsOnPage)
	assert.Equal(t, 45.0, *in.SecondsOnPage)
	assert.Empty(t, in.TargetURL)
	assert.Equal(t, "nn2_a", in.SessionID)
}

func TestRecordEngagement_LinkClick(t *testing.T) {
	rec := &mockRecorder{result: analytics.Result{Recorded: true}}
	w := post(t, newTestServer(rec), "/metrics/engagement",
		`{"type":"LINK_CLICK","postId":"p1","path":"/x","targetUrl":"https://example.org/a?b=c"}`)

	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, rec.engagement, 1)
	assert.Equal(t, analytics.EngagementLinkClick, rec.engagement[0].Type)
	assert.Equal(t, "https://example.org/a?b=c", rec.engagement[0].TargetURL)
	assert.Nil(t, rec.engagement[0].SecondsOnPage)
	assert.Len(t, w.Result().Cookies(), 1)
}

func TestRecordEngagement_ReasonPassthrough(t *testing.T) {
	rec := &mockRecorder{result: analytics.Result{Reason: analytics.ReasonTooShort}}
	w := post(t, newTestServer(rec), "/metrics/engagement",
		`{"type":"TIME_ON_PAGE","postId":"p1","path":"/x","secondsOnPage":0}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, map[string]interface{}{"ok": true, "recorded": false, "reason": "too_short"}, decode(t, w))
}

func TestRecordEngagement_InvalidPayload(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unknown type", `{"type":"SCROLL","postId":"p1","path":"/x"}`},
		{"missing type", `{"postId":"p1","path":"/x","secondsOnPage":10}`},
		{"click without target", `{"type":"LINK_CLICK","postId":"p1","path":"/x"}`},
		{"click with bad url", `{"type":"LINK_CLICK","postId":"p1","path":"/x","targetUrl":"not a url"}`},
		{"click url too long", `{"type":"LINK_CLICK","postId":"p1","path":"/x","targetUrl":"https://example.com/` + strings.Repeat("a", 500) + `"}`},
		{"time without seconds", `{"type":"TIME_ON_PAGE","postId":"p1","path":"/x"}`},
		{"fractional seconds", `{"type":"TIME_ON_PAGE","postId":"p1","path":"/x","secondsOnPage":12.5}`},
		{"negative seconds", `{"type":"TIME_ON_PAGE","postId":"p1","path":"/x","secondsOnPage":-1}`},
		{"seconds above max", `{"type":"TIME_ON_PAGE","postId":"p1","path":"/x","secondsOnPage":3601}`},
		{"missing post", `{"type":"TIME_ON_PAGE","path":"/x","secondsOnPage":30}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &mockRecorder{}
			w := post(t, newTestServer(rec), "/metrics/engagement", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, map[string]interface{}{"ok": false, "error": "invalid_payload"}, decode(t, w))
			assert.Empty(t, rec.engagement)
		})
	}
}

func TestRecordEngagement_StoreFailure(t *testing.T) {
	rec := &mockRecorder{err: errors.New("insert failed")}
	w := post(t, newTestServer(rec), "/metrics/engagement",
		`{"type":"TIME_ON_PAGE","postId":"p1","path":"/x","secondsOnPage":30}`)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, map[string]interface{}{"ok": false, "error": "internal_error"}, decode(t, w))
}

func TestIngest_CORSPreflight(t *testing.T) {
	srv := NewServer(Dependencies{Recorder: &mockRecorder{}, Sessions: &mockSessions{}, Summaries: &mockSummaries{}},
		Options{CORSOrigins: []string{"https://www.example.com"}})

	req := httptest.NewRequest(http.MethodOptions, "/metrics/view", nil)
	req.Header.Set("Origin", "https://www.example.com")
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://www.example.com", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestIngest_RateLimited(t *testing.T) {
	limiter := middleware.NewRateLimiter(&middleware.RateLimitConfig{RequestsPerWindow: 1, WindowDuration: time.Minute})
	rec := &mockRecorder{result: analytics.Result{Recorded: true}}
	srv := NewServer(Dependencies{Recorder: rec, Sessions: &mockSessions{}, Summaries: &mockSummaries{}, Limiter: limiter}, Options{})

	fromIP := func(r *http.Request) { r.RemoteAddr = "203.0.113.9:4000" }
	assert.Equal(t, http.StatusOK, post(t, srv, "/metrics/view", `{"postId":"p1","path":"/x"}`, fromIP).Code)
	assert.Equal(t, http.StatusTooManyRequests, post(t, srv, "/metrics/view", `{"postId":"p1","path":"/x"}`, fromIP).Code)
	assert.Len(t, rec.views, 1)

	// staff routes are not throttled
	assert.Equal(t, http.StatusOK, getSummary(t, srv, "", "staff").Code)
}

type brokenLimiter struct{}

func (brokenLimiter) Allow(context.Context, string) (bool, error) {
	return false, errors.New("redis down")
}

func (brokenLimiter) Config() middleware.RateLimitConfig {
	return *middleware.DefaultRateLimitConfig()
}

func TestIngest_LimiterFailure(t *testing.T) {
	for _, tt := range []struct {
		name       string
		failClosed bool
		wantStatus int
	}{
		{name: "fail open", wantStatus: http.StatusOK},
		{name: "fail closed", failClosed: true, wantStatus: http.StatusServiceUnavailable},
	} {
		t.Run(tt.name, func(t *testing.T) {
			rec := &mockRecorder{result: analytics.Result{Recorded: true}}
			srv := NewServer(Dependencies{Recorder: rec, Sessions: &mockSessions{}, Summaries: &mockSummaries{}, Limiter: brokenLimiter{}},
				Options{RateLimitFailClosed: tt.failClosed})

			w := post(t, srv, "/metrics/view", `{"postId":"p1","path":"/x"}`)
			assert.Equal(t, tt.wantStatus, w.Code)
		})
	}
}
