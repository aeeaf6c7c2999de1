package analytics

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/newswire/pkg/observability"
)

// Service builds staff summaries from the event store. Nothing is cached:
// each call reads the window and aggregates it again.
type Service struct {
	reader  EventReader
	loc     *time.Location
	metrics *observability.Metrics
	now     func() time.Time
}

// NewService creates a summary service. Day boundaries use loc; nil means
// the process local zone.
func NewService(reader EventReader, loc *time.Location, metrics *observability.Metrics) *Service {
	if loc == nil {
		loc = time.Local
	}
	return &Service{reader: reader, loc: loc, metrics: metrics, now: time.Now}
}

// Summary returns the staff analytics summary for the trailing windowDays
// calendar days including today.
func (s *Service) Summary(ctx context.Context, windowDays int) (*Summary, error) {
	if windowDays < 1 || windowDays > MaxWindowDays {
		return nil, fmt.Errorf("window must be between 1 and %d days, got %d", MaxWindowDays, windowDays)
	}

	started := time.Now()
	now := s.now()
	start, end := Window(now, windowDays, s.loc)

	var (
		views      []ViewRecord
		engagement []EngagementEvent
		lifetime   map[string]int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		views, err = s.reader.ListViewEvents(gctx, start, end)
		return err
	})
	g.Go(func() error {
		var err error
		engagement, err = s.reader.ListEngagementEvents(gctx, start, end)
		return err
	})
	g.Go(func() error {
		var err error
		lifetime, err = s.reader.LifetimeViewCounts(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		if s.metrics != nil {
			s.metrics.SummaryErrors.Inc()
		}
		return nil, fmt.Errorf("failed to load analytics events: %w", err)
	}

	summary := BuildSummary(windowDays, start, s.loc, now, views, engagement, lifetime)
	if s.metrics != nil {
		s.metrics.SummaryDuration.Observe(time.Since(started).Seconds())
	}
	return summary, nil
}
