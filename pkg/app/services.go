package app

import (
	"context"
	"time"

	"github.com/platinummonkey/newswire/pkg/analytics"
	"github.com/platinummonkey/newswire/pkg/auth"
	"github.com/platinummonkey/newswire/pkg/config"
	"github.com/platinummonkey/newswire/pkg/middleware"
	"github.com/platinummonkey/newswire/pkg/posts"
)

// ReloadableLimiter is a rate limiter whose budget can change at runtime
type ReloadableLimiter interface {
	middleware.Limiter
	SetConfig(middleware.RateLimitConfig)
}

// RateLimitConfigFrom converts the per-minute ingest settings
func RateLimitConfigFrom(in config.IngestConfig) middleware.RateLimitConfig {
	return middleware.RateLimitConfig{
		RequestsPerWindow: in.RateLimitPerMinute,
		WindowDuration:    time.Minute,
		BurstSize:         in.RateLimitBurst,
	}
}

// Posts returns the post repository with its visibility cache
func (r *Resources) Posts(cfg *config.Config) *posts.Repository {
	return posts.NewRepository(r.DB.Primary(), cfg.Analytics.VisibilityCacheSize, cfg.Analytics.VisibilityCacheTTL, r.Metrics)
}

// EventStore writes to the primary and reads from a replica when one exists
func (r *Resources) EventStore() *analytics.SQLStore {
	return analytics.NewSQLStore(r.DB.Primary(), r.DB.Replica())
}

// Sessions returns the staff session store
func (r *Resources) Sessions(cfg *config.Config) *auth.SessionStore {
	return auth.NewSessionStore(r.DB.Primary(), cfg.Auth.SessionTTL)
}

// Recorder builds the event recorder. Redis dedup markers are used when
// Redis is up and enabled in config.
func (r *Resources) Recorder(cfg *config.Config) *analytics.Recorder {
	opts := []analytics.RecorderOption{
		analytics.WithMetrics(r.Metrics),
		analytics.WithLogger(r.Logger),
	}
	if r.Redis != nil && cfg.Analytics.RedisDedup {
		opts = append(opts, analytics.WithDedupCache(r.Redis))
	}
	return analytics.NewRecorder(r.Posts(cfg), r.EventStore(), analytics.NewHasher(cfg.Analytics.Salt), opts...)
}

// SummaryService builds the dashboard summary service
func (r *Resources) SummaryService(cfg *config.Config) *analytics.Service {
	return analytics.NewService(r.EventStore(), cfg.Analytics.Location, r.Metrics)
}

// Limiter returns the ingest rate limiter, nil when rate limiting is off.
// With Redis the budget is shared by every replica; otherwise each process
// keeps its own buckets, swept until ctx is done.
func (r *Resources) Limiter(ctx context.Context, cfg *config.Config) ReloadableLimiter {
	if cfg.Ingest.RateLimitPerMinute <= 0 {
		return nil
	}
	rl := RateLimitConfigFrom(cfg.Ingest)
	if r.Redis != nil {
		return middleware.NewDistributedRateLimiter(r.Redis, &rl)
	}
	limiter := middleware.NewRateLimiter(&rl)
	limiter.StartCleanup(ctx)
	return limiter
}

// Purger returns the retention purger, nil when retention is disabled
func (r *Resources) Purger(cfg *config.Config) *analytics.Purger {
	if !cfg.Retention.Enabled {
		return nil
	}
	var archive analytics.ArchiveWriter
	if r.Archive != nil {
		archive = r.Archive
	}
	maxAge := time.Duration(cfg.Retention.MaxAgeDays) * 24 * time.Hour
	return analytics.NewPurger(r.EventStore(), archive, maxAge, r.Metrics, r.Logger)
}
