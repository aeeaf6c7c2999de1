package posts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/newswire/pkg/observability"
)

// Repository reads posts from the shared database
type Repository struct {
	db      *sql.DB
	cache   *expirable.LRU[string, Post]
	metrics *observability.Metrics
}

// NewRepository creates a repository. When cacheTTL and cacheSize are both
// positive, post rows are kept in an expiring LRU. Only the row is cached;
// visibility is always evaluated against the caller's clock.
func NewRepository(db *sql.DB, cacheSize int, cacheTTL time.Duration, metrics *observability.Metrics) *Repository {
	r := &Repository{db: db, metrics: metrics}
	if cacheSize > 0 && cacheTTL > 0 {
		r.cache = expirable.NewLRU[string, Post](cacheSize, nil, cacheTTL)
	}
	return r
}

// Get returns the post with the given ID
func (r *Repository) Get(ctx context.Context, postID string) (*Post, error) {
	if r.cache != nil {
		if p, ok := r.cache.Get(postID); ok {
			r.metrics.ObserveVisibilityCache(true)
			return &p, nil
		}
		r.metrics.ObserveVisibilityCache(false)
	}

	ctx, span := observability.Tracer().Start(ctx, "Posts.Get",
		trace.WithAttributes(attribute.String("post.id", postID)),
	)
	defer span.End()

	var (
		p           Post
		publishedAt sql.NullTime
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT id, title, slug, status, published_at FROM posts WHERE id = $1`,
		postID,
	).Scan(&p.ID, &p.Title, &p.Slug, &p.Status, &publishedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPostNotFound
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "query failed")
		return nil, fmt.Errorf("failed to get post %s: %w", postID, err)
	}
	if publishedAt.Valid {
		t := publishedAt.Time
		p.PublishedAt = &t
	}

	if r.cache != nil {
		r.cache.Add(postID, p)
	}
	return &p, nil
}

// IsVisible reports whether postID exists and is live at now. A missing
// post is not an error.
func (r *Repository) IsVisible(ctx context.Context, postID string, now time.Time) (bool, error) {
	p, err := r.Get(ctx, postID)
	if errors.Is(err, ErrPostNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return p.VisibleAt(now), nil
}

// PromoteScheduled marks scheduled posts whose release time is at or
// before now as published and returns how many changed.
func (r *Repository) PromoteScheduled(ctx context.Context, now time.Time) (int64, error) {
	ctx, span := observability.Tracer().Start(ctx, "Posts.PromoteScheduled")
	defer span.End()

	res, err := r.db.ExecContext(ctx,
		`UPDATE posts SET status = 'PUBLISHED', updated_at = $1
		 WHERE status = 'SCHEDULED' AND published_at IS NOT NULL AND published_at <= $1`,
		now.UTC(),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "update failed")
		return 0, fmt.Errorf("failed to promote scheduled posts: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read promoted count: %w", err)
	}
	span.SetAttributes(attribute.Int64("posts.promoted", n))
	if r.metrics != nil {
		r.metrics.PostsPromotedTotal.Add(float64(n))
	}
	return n, nil
}

// Purge drops any cached row for postID
func (r *Repository) Purge(postID string) {
	if r.cache != nil {
		r.cache.Remove(postID)
	}
}
