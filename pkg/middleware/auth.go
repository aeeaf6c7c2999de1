package middleware

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/platinummonkey/newswire/pkg/auth"
	"github.com/platinummonkey/newswire/pkg/httputil"
	"github.com/platinummonkey/newswire/pkg/observability"
)

// SessionAuthenticator resolves a raw staff session token.
// *auth.SessionStore satisfies it.
type SessionAuthenticator interface {
	Authenticate(ctx context.Context, token string, now time.Time) (*auth.User, *auth.Session, error)
}

// StaffAuthMiddleware admits requests carrying a live session. Role checks
// are left to RequireRole.
type StaffAuthMiddleware struct {
	sessions SessionAuthenticator
	logger   *observability.Logger
	now      func() time.Time
}

// NewStaffAuthMiddleware creates the staff auth middleware
func NewStaffAuthMiddleware(sessions SessionAuthenticator, logger *observability.Logger) *StaffAuthMiddleware {
	return &StaffAuthMiddleware{sessions: sessions, logger: logger, now: time.Now}
}

// Handler wraps next. The token is read from the staff session cookie,
// falling back to an "Authorization: Bearer" header.
func (m *StaffAuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := sessionToken(r)
		if token == "" {
			httputil.WriteUnauthorized(w, "authentication required")
			return
		}

		user, session, err := m.sessions.Authenticate(r.Context(), token, m.now())
		switch {
		case errors.Is(err, auth.ErrSessionNotFound), errors.Is(err, auth.ErrSessionExpired):
			httputil.WriteUnauthorized(w, "invalid or expired session")
			return
		case err != nil:
			if m.logger != nil {
				m.logger.WithError(err).Error("Failed to authenticate staff session")
			}
			httputil.WriteInternalError(w)
			return
		}

		ctx := auth.WithAuthContext(r.Context(), &auth.AuthContext{User: user, Session: session})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// StaffOnly authenticates the session and then requires the STAFF role
func (m *StaffAuthMiddleware) StaffOnly() func(http.Handler) http.Handler {
	return httputil.Chain(m.Handler, RequireRole(auth.RoleStaff))
}

func sessionToken(r *http.Request) string {
	if c, err := r.Cookie(auth.StaffSessionCookie); err == nil && c.Value != "" {
		return c.Value
	}
	return httputil.BearerToken(r)
}

// RequireRole rejects authenticated requests whose user lacks role.
// ADMIN satisfies every role.
func RequireRole(role auth.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authCtx, ok := auth.FromContext(r.Context())
			if !ok || authCtx.User == nil {
				httputil.WriteUnauthorized(w, "authentication required")
				return
			}
			if authCtx.User.Role != role && authCtx.User.Role != auth.RoleAdmin {
				httputil.WriteForbidden(w, "insufficient role permissions")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
