package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"

	"github.com/platinummonkey/newswire/pkg/observability"
)

// StaffSessionCookie carries the raw staff session token
const StaffSessionCookie = "nnn_staff_session"

// DefaultSessionTTL is how long a newly issued staff session lasts
const DefaultSessionTTL = 14 * 24 * time.Hour

var (
	// ErrSessionNotFound is returned for unknown tokens
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionExpired is returned for tokens past their expiry. The
	// session row is removed when this is detected.
	ErrSessionExpired = errors.New("session expired")
	// ErrUserNotFound is returned when issuing a session for an unknown user
	ErrUserNotFound = errors.New("user not found")
)

// SessionStore persists staff sessions in the sessions table
type SessionStore struct {
	db  *sql.DB
	ttl time.Duration
}

// NewSessionStore creates a session store. A non-positive ttl uses
// DefaultSessionTTL.
func NewSessionStore(db *sql.DB, ttl time.Duration) *SessionStore {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &SessionStore{db: db, ttl: ttl}
}

// Authenticate resolves a raw token to its user and session
func (s *SessionStore) Authenticate(ctx context.Context, token string, now time.Time) (*User, *Session, error) {
	if token == "" {
		return nil, nil, ErrSessionNotFound
	}

	ctx, span := observability.Tracer().Start(ctx, "Sessions.Authenticate")
	defer span.End()

	var (
		u     User
		sess  Session
		email sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT s.id, s.token, s.user_id, s.expires_at, s.created_at,
		       u.id, u.name, u.username, u.email, u.role
		FROM sessions s
		JOIN users u ON u.id = s.user_id
		WHERE s.token = $1`,
		HashToken(token),
	).Scan(
		&sess.ID, &sess.Token, &sess.UserID, &sess.ExpiresAt, &sess.CreatedAt,
		&u.ID, &u.Name, &u.Username, &email, &u.Role,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, ErrSessionNotFound
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "query failed")
		return nil, nil, fmt.Errorf("failed to look up session: %w", err)
	}
	u.Email = email.String

	if !sess.ExpiresAt.After(now) {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = $1`, sess.ID); err != nil {
			return nil, nil, fmt.Errorf("failed to delete expired session: %w", err)
		}
		return nil, nil, ErrSessionExpired
	}

	return &u, &sess, nil
}

// Create issues a session for userID and returns the raw token, which is
// not recoverable afterwards.
func (s *SessionStore) Create(ctx context.Context, userID string, now time.Time) (string, *Session, error) {
	token, tokenHash, err := GenerateToken()
	if err != nil {
		return "", nil, err
	}

	sess := &Session{
		ID:        uuid.NewString(),
		Token:     tokenHash,
		UserID:    userID,
		ExpiresAt: now.Add(s.ttl).UTC(),
		CreatedAt: now.UTC(),
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, token, user_id, expires_at, created_at) VALUES ($1, $2, $3, $4, $5)`,
		sess.ID, sess.Token, sess.UserID, sess.ExpiresAt, sess.CreatedAt,
	)
	if err != nil {
		return "", nil, fmt.Errorf("failed to create session: %w", err)
	}
	return token, sess, nil
}

// CreateForUsername issues a session for the named staff user
func (s *SessionStore) CreateForUsername(ctx context.Context, username string, now time.Time) (string, *User, error) {
	var (
		u     User
		email sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, username, email, role FROM users WHERE username = $1`,
		username,
	).Scan(&u.ID, &u.Name, &u.Username, &email, &u.Role)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil, ErrUserNotFound
	}
	if err != nil {
		return "", nil, fmt.Errorf("failed to look up user: %w", err)
	}
	u.Email = email.String

	if !u.Role.IsStaff() {
		return "", nil, fmt.Errorf("user %s has role %s, staff role required", username, u.Role)
	}

	token, _, err := s.Create(ctx, u.ID, now)
	if err != nil {
		return "", nil, err
	}
	return token, &u, nil
}

// Revoke deletes the session for a raw token
func (s *SessionStore) Revoke(ctx context.Context, token string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE token = $1`, HashToken(token)); err != nil {
		return fmt.Errorf("failed to revoke session: %w", err)
	}
	return nil
}

// CleanupExpired removes sessions that expired at or before now
func (s *SessionStore) CleanupExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at <= $1`, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to clean up sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read cleanup count: %w", err)
	}
	return n, nil
}
