// Package jobs holds the scheduled maintenance work run by newswire-jobs:
// promoting scheduled posts, removing expired staff sessions and purging
// old raw analytics events.
package jobs

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/newswire/pkg/analytics"
	"github.com/platinummonkey/newswire/pkg/config"
	"github.com/platinummonkey/newswire/pkg/observability"
)

// Job names, used for scheduling, metrics and -run-once
const (
	JobPromote   = "promote-scheduled"
	JobSessions  = "session-cleanup"
	JobRetention = "retention-purge"
)

// PostPromoter flips due scheduled posts to published
type PostPromoter interface {
	PromoteScheduled(ctx context.Context, now time.Time) (int64, error)
}

// SessionCleaner deletes expired staff sessions
type SessionCleaner interface {
	CleanupExpired(ctx context.Context, now time.Time) (int64, error)
}

// EventPurger removes old raw analytics events
type EventPurger interface {
	Purge(ctx context.Context, now time.Time) (*analytics.PurgeResult, error)
}

// Runner executes jobs. A nil purger disables the retention job.
type Runner struct {
	posts    PostPromoter
	sessions SessionCleaner
	purger   EventPurger
	metrics  *observability.Metrics
	logger   *observability.Logger
	now      func() time.Time
	timeout  time.Duration
}

// NewRunner creates a job runner
func NewRunner(posts PostPromoter, sessions SessionCleaner, purger EventPurger, metrics *observability.Metrics, logger *observability.Logger) *Runner {
	return &Runner{
		posts:    posts,
		sessions: sessions,
		purger:   purger,
		metrics:  metrics,
		logger:   logger,
		now:      time.Now,
		timeout:  10 * time.Minute,
	}
}

// Names returns the jobs this runner can execute
func (r *Runner) Names() []string {
	names := []string{JobPromote, JobSessions}
	if r.purger != nil {
		names = append(names, JobRetention)
	}
	sort.Strings(names)
	return names
}

// Run executes one job by name. Panics are recovered and returned as errors.
func (r *Runner) Run(ctx context.Context, name string) (err error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	defer func() {
		if rec := recover(); rec != nil {
			err = observability.PanicToError(rec)
			r.logger.WithField("job", name).WithError(err).Error("Job panicked")
		}
		r.metrics.ObserveJob(name, err)
	}()

	log := r.logger.WithField("job", name)
	started := time.Now()

	switch name {
	case JobPromote:
		var n int64
		if n, err = r.posts.PromoteScheduled(ctx, r.now()); err == nil {
			log = log.WithField("promoted", n)
		}
	case JobSessions:
		var n int64
		if n, err = r.sessions.CleanupExpired(ctx, r.now()); err == nil {
			log = log.WithField("deleted", n)
		}
	case JobRetention:
		if r.purger == nil {
			return fmt.Errorf("retention purge is disabled")
		}
		var res *analytics.PurgeResult
		if res, err = r.purger.Purge(ctx, r.now()); err == nil {
			log = log.WithFields(map[string]interface{}{
				"views_deleted":      res.ViewsDeleted,
				"engagement_deleted": res.EngagementDeleted,
				"archived_objects":   len(res.ArchivedKeys),
			})
		}
	default:
		return fmt.Errorf("unknown job %q", name)
	}

	log = log.WithField("duration_ms", time.Since(started).Milliseconds())
	if err != nil {
		log.WithError(err).Error("Job failed")
		return err
	}
	log.Info("Job completed")
	return nil
}

// Schedules maps job names to cron specs
type Schedules map[string]string

// SchedulesFrom maps the configured cron specs onto job names
func SchedulesFrom(cfg config.JobsConfig) Schedules {
	return Schedules{
		JobPromote:   cfg.PromoteSchedule,
		JobSessions:  cfg.SessionCleanupSchedule,
		JobRetention: cfg.RetentionSchedule,
	}
}

// Schedule registers every job that has a spec on c. Jobs scheduled on
// ctx stop receiving a live context once ctx is cancelled.
func (r *Runner) Schedule(ctx context.Context, c *cron.Cron, schedules Schedules) error {
	for _, name := range r.Names() {
		spec, ok := schedules[name]
		if !ok || spec == "" {
			continue
		}
		name := name
		if _, err := c.AddFunc(spec, func() {
			_ = r.Run(ctx, name)
		}); err != nil {
			return fmt.Errorf("failed to schedule %s: %w", name, err)
		}
		r.logger.WithFields(map[string]interface{}{"job": name, "schedule": spec}).Info("Job scheduled")
	}
	return nil
}
