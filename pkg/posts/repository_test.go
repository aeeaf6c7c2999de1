package posts

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/newswire/pkg/observability"
	"github.com/platinummonkey/newswire/pkg/storage/sqlite"
)

func TestPost_VisibleAt(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	tests := []struct {
		name string
		post Post
		want bool
	}{
		{"published in past", Post{Status: StatusPublished, PublishedAt: &past}, true},
		{"published exactly now", Post{Status: StatusPublished, PublishedAt: &now}, true},
		{"published in future", Post{Status: StatusPublished, PublishedAt: &future}, false},
		{"scheduled reached", Post{Status: StatusScheduled, PublishedAt: &past}, true},
		{"scheduled pending", Post{Status: StatusScheduled, PublishedAt: &future}, false},
		{"published without timestamp", Post{Status: StatusPublished}, false},
		{"draft", Post{Status: StatusDraft, PublishedAt: &past}, false},
		{"archived", Post{Status: StatusArchived, PublishedAt: &past}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.post.VisibleAt(now))
		})
	}
}

func TestRepository_IsVisible_Mock(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	repo := NewRepository(db, 0, 0, nil)

	mock.ExpectQuery("SELECT id, title, slug, status, published_at FROM posts").
		WithArgs("p1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "title", "slug", "status", "published_at"}).
			AddRow("p1", "Hello", "hello", "PUBLISHED", now.Add(-time.Minute)))
	mock.ExpectQuery("SELECT id, title, slug, status, published_at FROM posts").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery("SELECT id, title, slug, status, published_at FROM posts").
		WithArgs("broken").
		WillReturnError(errors.New("connection reset"))

	visible, err := repo.IsVisible(context.Background(), "p1", now)
	require.NoError(t, err)
	assert.True(t, visible)

	visible, err = repo.IsVisible(context.Background(), "missing", now)
	require.NoError(t, err)
	assert.False(t, visible)

	_, err = repo.IsVisible(context.Background(), "broken", now)
	assert.ErrorContains(t, err, "connection reset")

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_CacheStoresRowNotVerdict(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	metrics := observability.NewMetrics(prometheus.NewRegistry())
	repo := NewRepository(db, 16, time.Minute, metrics)

	release := time.Date(2026, 3, 10, 13, 0, 0, 0, time.UTC)
	mock.ExpectQuery("SELECT id, title, slug, status, published_at FROM posts").
		WithArgs("p1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "title", "slug", "status", "published_at"}).
			AddRow("p1", "Later", "later", "SCHEDULED", release))

	visible, err := repo.IsVisible(context.Background(), "p1", release.Add(-time.Hour))
	require.NoError(t, err)
	assert.False(t, visible)

	// second lookup is served from cache and flips once the release passes
	visible, err = repo.IsVisible(context.Background(), "p1", release)
	require.NoError(t, err)
	assert.True(t, visible)

	assert.NoError(t, mock.ExpectationsWereMet())
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.VisibilityCacheTotal.WithLabelValues("hit")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.VisibilityCacheTotal.WithLabelValues("miss")))

	repo.Purge("p1")
	mock.ExpectQuery("SELECT id, title, slug, status, published_at FROM posts").
		WithArgs("p1").
		WillReturnError(sql.ErrNoRows)
	_, err = repo.Get(context.Background(), "p1")
	assert.ErrorIs(t, err, ErrPostNotFound)
}

func TestRepository_PromoteScheduled_Mock(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	mock.ExpectExec("UPDATE posts SET status = 'PUBLISHED'").
		WithArgs(now).
		WillReturnResult(sqlmock.NewResult(0, 3))

	metrics := observability.NewMetrics(prometheus.NewRegistry())
	n, err := NewRepository(db, 0, 0, metrics).PromoteScheduled(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.Equal(t, float64(3), testutil.ToFloat64(metrics.PostsPromotedTotal))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_SQLite(t *testing.T) {
	ctx := context.Background()
	db, err := sqlite.Open(ctx, ":memory:")
	require.NoError(t, err)
	defer db.Close()

	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	insert := `INSERT INTO posts (id, title, slug, status, published_at) VALUES ($1, $2, $3, $4, $5)`
	_, err = db.ExecContext(ctx, insert, "live", "Live", "live", "PUBLISHED", now.Add(-time.Hour))
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, insert, "due", "Due", "due", "SCHEDULED", now.Add(-time.Minute))
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, insert, "later", "Later", "later", "SCHEDULED", now.Add(time.Hour))
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, insert, "draft", "Draft", "draft", "DRAFT", nil)
	require.NoError(t, err)

	repo := NewRepository(db, 0, 0, nil)

	for id, want := range map[string]bool{"live": true, "due": true, "later": false, "draft": false, "nope": false} {
		visible, err := repo.IsVisible(ctx, id, now)
		require.NoError(t, err, id)
		assert.Equal(t, want, visible, id)
	}

	n, err := repo.PromoteScheduled(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	p, err := repo.Get(ctx, "due")
	require.NoError(t, err)
	assert.Equal(t, StatusPublished, p.Status)

	p, err = repo.Get(ctx, "later")
	require.NoError(t, err)
	assert.Equal(t, StatusScheduled, p.Status)
}
