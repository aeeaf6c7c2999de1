package auth

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/newswire/pkg/storage/sqlite"
)

func newSessionDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sqlite.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`INSERT INTO users (id, name, username, email, role) VALUES
		('u-staff', 'Sam Staff', 'sam', 'sam@example.com', 'STAFF'),
		('u-reader', 'Rae Reader', 'rae', NULL, 'READER')`)
	require.NoError(t, err)
	return db
}

func TestSessionStore_CreateAndAuthenticate(t *testing.T) {
	ctx := context.Background()
	db := newSessionDB(t)
	store := NewSessionStore(db, time.Hour)
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

	token, user, err := store.CreateForUsername(ctx, "sam", now)
	require.NoError(t, err)
	assert.Equal(t, "u-staff", user.ID)

	// only the hash is persisted
	var stored string
	require.NoError(t, db.QueryRow(`SELECT token FROM sessions`).Scan(&stored))
	assert.Equal(t, HashToken(token), stored)
	assert.NotEqual(t, token, stored)

	u, sess, err := store.Authenticate(ctx, token, now.Add(30*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, "sam", u.Username)
	assert.Equal(t, RoleStaff, u.Role)
	assert.Equal(t, "sam@example.com", u.Email)
	assert.True(t, sess.ExpiresAt.Equal(now.Add(time.Hour)))
}

func TestSessionStore_Authenticate_Errors(t *testing.T) {
	ctx := context.Background()
	db := newSessionDB(t)
	store := NewSessionStore(db, time.Hour)
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

	_, _, err := store.Authenticate(ctx, "", now)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	_, _, err = store.Authenticate(ctx, "not-a-real-token", now)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	token, _, err := store.Create(ctx, "u-staff", now)
	require.NoError(t, err)

	_, _, err = store.Authenticate(ctx, token, now.Add(2*time.Hour))
	assert.ErrorIs(t, err, ErrSessionExpired)

	// expired session was deleted on access
	_, _, err = store.Authenticate(ctx, token, now)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSessionStore_CreateForUsername_Rejects(t *testing.T) {
	ctx := context.Background()
	store := NewSessionStore(newSessionDB(t), 0)
	now := time.Now()

	_, _, err := store.CreateForUsername(ctx, "nobody", now)
	assert.ErrorIs(t, err, ErrUserNotFound)

	_, _, err = store.CreateForUsername(ctx, "rae", now)
	assert.ErrorContains(t, err, "staff role required")
}

func TestSessionStore_RevokeAndCleanup(t *testing.T) {
	ctx := context.Background()
	db := newSessionDB(t)
	store := NewSessionStore(db, time.Hour)
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

	keep, _, err := store.Create(ctx, "u-staff", now)
	require.NoError(t, err)
	revoked, _, err := store.Create(ctx, "u-staff", now)
	require.NoError(t, err)
	_, _, err = store.Create(ctx, "u-staff", now.Add(-2*time.Hour))
	require.NoError(t, err)

	require.NoError(t, store.Revoke(ctx, revoked))
	_, _, err = store.Authenticate(ctx, revoked, now)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	n, err := store.CleanupExpired(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, _, err = store.Authenticate(ctx, keep, now)
	assert.NoError(t, err)
}

func TestSessionStore_Authenticate_QueryError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("FROM sessions s").
		WithArgs(HashToken("tok")).
		WillReturnError(sql.ErrConnDone)

	_, _, err = NewSessionStore(db, time.Hour).Authenticate(context.Background(), "tok", time.Now())
	assert.ErrorIs(t, err, sql.ErrConnDone)
	assert.NotErrorIs(t, err, ErrSessionNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDefaultSessionTTL(t *testing.T) {
	assert.Equal(t, DefaultSessionTTL, NewSessionStore(nil, 0).ttl)
}
