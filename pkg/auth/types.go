package auth

import (
	"context"
	"time"

	"github.com/platinummonkey/newswire/pkg/contextkeys"
)

// Role is a user's site-wide role
type Role string

const (
	RoleReader Role = "READER"
	RoleStaff  Role = "STAFF"
	RoleAdmin  Role = "ADMIN"
)

// IsStaff reports whether the role may use the staff console
func (r Role) IsStaff() bool {
	return r == RoleStaff || r == RoleAdmin
}

// User is an account that can hold a staff session
type User struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
	Role     Role   `json:"role"`
}

// Session is a stored staff session. The raw token is never stored; Token
// holds its sha256 hex digest.
type Session struct {
	ID        string    `json:"id"`
	Token     string    `json:"-"`
	UserID    string    `json:"userId"`
	ExpiresAt time.Time `json:"expiresAt"`
	CreatedAt time.Time `json:"createdAt"`
}

// AuthContext is attached to authenticated staff requests
type AuthContext struct {
	User    *User
	Session *Session
}

// WithAuthContext stores authCtx on ctx
func WithAuthContext(ctx context.Context, authCtx *AuthContext) context.Context {
	ctx = contextkeys.WithAuth(ctx, authCtx)
	if authCtx != nil && authCtx.User != nil {
		ctx = contextkeys.WithUserID(ctx, authCtx.User.ID)
	}
	return ctx
}

// FromContext returns the AuthContext set by the staff auth middleware
func FromContext(ctx context.Context) (*AuthContext, bool) {
	authCtx, ok := contextkeys.GetAuth(ctx).(*AuthContext)
	return authCtx, ok && authCtx != nil
}
