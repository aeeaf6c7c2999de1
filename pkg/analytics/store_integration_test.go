//go:build integration

package analytics

import (
	"context"
	"database/sql"
	"io"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/platinummonkey/newswire/pkg/observability"
	"github.com/platinummonkey/newswire/pkg/storage/postgres"
)

// setupPostgres starts PostgreSQL and applies the embedded migrations
func setupPostgres(t *testing.T) *sql.DB {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:15-alpine",
		tcpostgres.WithDatabase("newswire_test"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err, "Failed to start PostgreSQL container")
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("Warning: failed to terminate container: %v", err)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := sql.Open("postgres", connStr)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	require.NoError(t, postgres.RunMigrations(ctx, db, logger))

	_, err = db.ExecContext(ctx,
		"INSERT INTO posts (id, title, slug, status, published_at) VALUES ($1, $2, $3, $4, $5)",
		"p1", "Alpha", "alpha", "PUBLISHED", time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	return db
}

func TestSQLStore_Postgres(t *testing.T) {
	db := setupPostgres(t)
	store := NewSQLStore(db, db)
	ctx := context.Background()
	at := time.Date(2026, 4, 14, 10, 0, 0, 0, time.UTC)

	require.NoError(t, store.InsertView(ctx, ViewEvent{
		PostID: "p1", SessionKeyHash: "s1", ReferrerHost: "direct", Path: "/posts/alpha", OccurredAt: at,
	}))

	found, err := store.HasRecentView(ctx, "p1", "s1", at.Add(-ViewDedupWindow))
	require.NoError(t, err)
	assert.True(t, found)

	found, err = store.HasRecentView(ctx, "p1", "s1", at.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, found)

	seconds := 42
	require.NoError(t, store.InsertEngagement(ctx, EngagementEvent{
		PostID: "p1", Type: EngagementTimeOnPage, SessionKeyHash: "s1",
		ReferrerHost: "direct", Path: "/posts/alpha", SecondsOnPage: &seconds, OccurredAt: at,
	}))

	views, err := store.ListViewEvents(ctx, at.Add(-time.Hour), at.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, "Alpha", views[0].PostTitle)
	assert.True(t, views[0].OccurredAt.Equal(at))

	events, err := store.ListEngagementEvents(ctx, at.Add(-time.Hour), at.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.NotNil(t, events[0].SecondsOnPage)
	assert.Equal(t, 42, *events[0].SecondsOnPage)

	counts, err := store.LifetimeViewCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"p1": 1}, counts)

	oldest, ok, err := store.OldestViewEvent(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, at.Equal(oldest), "got %v", oldest)

	n, err := store.DeleteViewEventsBefore(ctx, at.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
