// Package app opens the backends shared by the newswire binaries.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/platinummonkey/newswire/pkg/config"
	"github.com/platinummonkey/newswire/pkg/observability"
	"github.com/platinummonkey/newswire/pkg/storage"
	"github.com/platinummonkey/newswire/pkg/storage/postgres"
	"github.com/platinummonkey/newswire/pkg/storage/sqlite"
)

// Options select optional backends
type Options struct {
	// Archive opens the S3 client when retention archiving is configured
	Archive bool
}

// Resources are the process-wide backends
type Resources struct {
	DB       *postgres.ConnectionManager
	Redis    *postgres.RedisClient // nil when Redis is not configured or unreachable
	Archive  *postgres.S3Client    // nil unless requested and configured
	Registry *prometheus.Registry
	Metrics  *observability.Metrics
	Logger   *observability.Logger
}

// Open connects to the configured database and optional Redis and S3.
// Redis is an optimisation only, so a Redis failure is logged and skipped.
func Open(ctx context.Context, cfg *config.Config, logger *observability.Logger, opts Options) (*Resources, error) {
	registry := prometheus.NewRegistry()
	res := &Resources{
		Registry: registry,
		Metrics:  observability.NewMetrics(registry),
		Logger:   logger,
	}

	switch cfg.Storage.Driver {
	case storage.DriverSQLite:
		db, err := sqlite.Open(ctx, cfg.Storage.SQLitePath)
		if err != nil {
			return nil, err
		}
		res.DB = postgres.NewConnectionManagerFromDB(db, nil, logger)
		logger.WithField("path", cfg.Storage.SQLitePath).Info("Using SQLite database")
	default:
		cm, err := postgres.NewConnectionManager(ctx, postgres.ConnectionConfigFrom(cfg.Storage), logger)
		if err != nil {
			return nil, err
		}
		res.DB = cm
	}

	if cfg.Storage.RedisEnabled() {
		client, err := postgres.NewRedisClient(ctx, cfg.Storage)
		if err != nil {
			logger.WithError(err).Warn("Redis unavailable, continuing without dedup markers and shared rate limits")
		} else {
			res.Redis = client
		}
	}

	if opts.Archive && cfg.Retention.ArchiveToS3 {
		archive, err := postgres.NewS3Client(ctx, cfg.Storage)
		if err != nil {
			res.Close()
			return nil, fmt.Errorf("failed to open archive bucket: %w", err)
		}
		res.Archive = archive
	}

	return res, nil
}

// HealthChecker probes the database (critical) and Redis (optional)
func (r *Resources) HealthChecker(version string) *observability.HealthChecker {
	h := observability.NewHealthChecker(version, nil, nil)
	h.AddCheck("database", true, r.DB.HealthCheck)
	if r.Redis != nil {
		h.AddCheck("redis", false, r.Redis.Ping)
	}
	if r.Archive != nil {
		h.AddCheck("archive", false, r.Archive.HealthCheck)
	}
	return h
}

// Close releases every open backend
func (r *Resources) Close() error {
	var errs []error
	if r.Redis != nil {
		errs = append(errs, r.Redis.Close())
	}
	if r.DB != nil {
		errs = append(errs, r.DB.Close())
	}
	return errors.Join(errs...)
}
