package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_AppliesSchema(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, ":memory:")
	require.NoError(t, err)
	defer db.Close()

	for _, table := range []string{"posts", "users", "sessions", "post_view_events", "post_engagement_events"} {
		var name string
		err := db.QueryRowContext(ctx,
			"SELECT name FROM sqlite_master WHERE type = 'table' AND name = $1", table,
		).Scan(&name)
		assert.NoError(t, err, "table %s should exist", table)
	}
}

func TestOpen_FileIsReusable(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "newswire.db")

	db, err := Open(ctx, path)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx,
		"INSERT INTO posts (id, title, slug, status, published_at) VALUES ($1, $2, $3, $4, $5)",
		"p1", "Hello", "hello", "PUBLISHED", time.Now().UTC(),
	)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = Open(ctx, path)
	require.NoError(t, err)
	defer db.Close()

	var count int
	require.NoError(t, db.QueryRowContext(ctx, "SELECT COUNT(*) FROM posts").Scan(&count))
	assert.Equal(t, 1, count)
}

func TestOpen_ForeignKeysEnforced(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, ":memory:")
	require.NoError(t, err)
	defer db.Close()

	_, err = db.ExecContext(ctx,
		"INSERT INTO post_view_events (post_id, session_key_hash, referrer_host, path, occurred_at) VALUES ($1, $2, $3, $4, $5)",
		"missing", "h", "direct", "/", time.Now().UTC(),
	)
	assert.Error(t, err)
}
