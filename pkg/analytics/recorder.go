package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/platinummonkey/newswire/pkg/observability"
)

// VisibilityChecker answers whether a post may receive events at now
type VisibilityChecker interface {
	IsVisible(ctx context.Context, postID string, now time.Time) (bool, error)
}

// DedupCache is an optional fast path in front of the store's dedup lookup.
// It may only short-circuit to "seen"; a miss or an error always falls
// through to the store.
type DedupCache interface {
	SeenRecently(ctx context.Context, key string) (bool, error)
	MarkRecent(ctx context.Context, key string, ttl time.Duration) error
}

// Recorder validates, deduplicates and persists analytics submissions.
// Every call runs visibility, then dedup, then insert. Concurrent calls for
// the same session may both pass dedup; the rare double count is accepted.
type Recorder struct {
	posts   VisibilityChecker
	store   EventWriter
	hasher  *Hasher
	dedup   DedupCache
	metrics *observability.Metrics
	logger  *observability.Logger
	now     func() time.Time
}

// RecorderOption configures a Recorder
type RecorderOption func(*Recorder)

// WithDedupCache enables the dedup fast path
func WithDedupCache(cache DedupCache) RecorderOption {
	return func(r *Recorder) { r.dedup = cache }
}

// WithMetrics records event outcomes
func WithMetrics(m *observability.Metrics) RecorderOption {
	return func(r *Recorder) { r.metrics = m }
}

// WithLogger sets the logger used for fast-path failures
func WithLogger(l *observability.Logger) RecorderOption {
	return func(r *Recorder) { r.logger = l }
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) RecorderOption {
	return func(r *Recorder) { r.now = now }
}

// NewRecorder creates a recorder
func NewRecorder(posts VisibilityChecker, store EventWriter, hasher *Hasher, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		posts:  posts,
		store:  store,
		hasher: hasher,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RecordView records a page view unless the post is not live or the
// session viewed it within ViewDedupWindow.
func (r *Recorder) RecordView(ctx context.Context, in ViewInput) (res Result, err error) {
	started := time.Now()
	defer func() { r.observe("view", res, err, started) }()

	now := r.now()
	visible, err := r.posts.IsVisible(ctx, in.PostID, now)
	if err != nil {
		return Result{}, fmt.Errorf("visibility check failed: %w", err)
	}
	if !visible {
		return skipped(ReasonPostNotVisible), nil
	}

	sessionKey := r.hasher.SessionKey(in.SessionID)
	markerKey := "view:" + in.PostID + ":" + sessionKey

	if r.seenRecently(ctx, markerKey) {
		return skipped(ReasonDeduped), nil
	}
	found, err := r.store.HasRecentView(ctx, in.PostID, sessionKey, now.Add(-ViewDedupWindow))
	if err != nil {
		return Result{}, err
	}
	if found {
		return skipped(ReasonDeduped), nil
	}

	err = r.store.InsertView(ctx, ViewEvent{
		PostID:         in.PostID,
		SessionKeyHash: sessionKey,
		UserAgentHash:  r.hasher.UserAgentHash(in.UserAgent),
		ReferrerHost:   NormalizeReferrerHost(in.Referrer),
		Path:           NormalizePath(in.Path),
		OccurredAt:     now,
	})
	if err != nil {
		return Result{}, err
	}

	r.markRecent(ctx, markerKey, ViewDedupWindow)
	return recorded(), nil
}

// RecordEngagement records a link click or a time-on-page sample
func (r *Recorder) RecordEngagement(ctx context.Context, in EngagementInput) (res Result, err error) {
	started := time.Now()
	kind := "engagement"
	if in.Type.Valid() {
		kind = string(in.Type)
	}
	defer func() { r.observe(kind, res, err, started) }()

	now := r.now()
	visible, err := r.posts.IsVisible(ctx, in.PostID, now)
	if err != nil {
		return Result{}, fmt.Errorf("visibility check failed: %w", err)
	}
	if !visible {
		return skipped(ReasonPostNotVisible), nil
	}

	sessionKey := r.hasher.SessionKey(in.SessionID)
	event := EngagementEvent{
		PostID:         in.PostID,
		Type:           in.Type,
		SessionKeyHash: sessionKey,
		UserAgentHash:  r.hasher.UserAgentHash(in.UserAgent),
		ReferrerHost:   NormalizeReferrerHost(in.Referrer),
		Path:           NormalizePath(in.Path),
		OccurredAt:     now,
	}

	switch in.Type {
	case EngagementTimeOnPage:
		seconds := ClampSeconds(in.SecondsOnPage)
		if seconds < MinSecondsOnPage {
			return skipped(ReasonTooShort), nil
		}

		markerKey := "engagement:" + string(in.Type) + ":" + in.PostID + ":" + sessionKey
		if r.seenRecently(ctx, markerKey) {
			return skipped(ReasonDeduped), nil
		}
		found, err := r.store.HasRecentEngagement(ctx, in.PostID, sessionKey, EngagementTimeOnPage, now.Add(-TimeOnPageDedupWindow))
		if err != nil {
			return Result{}, err
		}
		if found {
			return skipped(ReasonDeduped), nil
		}

		event.SecondsOnPage = &seconds
		if err := r.store.InsertEngagement(ctx, event); err != nil {
			return Result{}, err
		}
		r.markRecent(ctx, markerKey, TimeOnPageDedupWindow)
		return recorded(), nil

	case EngagementLinkClick:
		target, ok := NormalizeURLForStorage(in.TargetURL)
		if !ok {
			return skipped(ReasonMissingTarget), nil
		}
		event.TargetURL = &target
		event.TargetHost = nullString(TargetHost(target))
		if err := r.store.InsertEngagement(ctx, event); err != nil {
			return Result{}, err
		}
		return recorded(), nil

	default:
		return Result{}, fmt.Errorf("%w: %q", ErrUnknownEngagementType, in.Type)
	}
}

func (r *Recorder) seenRecently(ctx context.Context, key string) bool {
	if r.dedup == nil {
		return false
	}
	seen, err := r.dedup.SeenRecently(ctx, key)
	if err != nil {
		r.metrics.ObserveDedupFastPath("error")
		if r.logger != nil {
			r.logger.WithError(err).Warn("Dedup marker lookup failed, using store")
		}
		return false
	}
	if seen {
		r.metrics.ObserveDedupFastPath("hit")
		return true
	}
	r.metrics.ObserveDedupFastPath("miss")
	return false
}

func (r *Recorder) markRecent(ctx context.Context, key string, ttl time.Duration) {
	if r.dedup == nil {
		return
	}
	if err := r.dedup.MarkRecent(ctx, key, ttl); err != nil && r.logger != nil {
		r.logger.WithError(err).Warn("Failed to set dedup marker")
	}
}

func (r *Recorder) observe(kind string, res Result, err error, started time.Time) {
	outcome := res.outcome()
	if err != nil {
		outcome = "error"
	}
	r.metrics.ObserveEvent(kind, outcome, time.Since(started))
}
