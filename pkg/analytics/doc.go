// Package analytics records first-party page views and engagement signals
// and rolls them up into the staff dashboard summary.
//
// # Privacy
//
// Visitor session tokens and user agents are never stored. Hasher derives
// sha256(salt + ":" + value) digests, and the Normalize helpers reduce paths,
// referrers and click targets to bounded, display-safe values. The
// normalizers never fail: bad paths become "/", missing referrers become
// "direct" and unparsable ones "unknown".
//
// # Recording
//
//	rec := analytics.NewRecorder(postsRepo, store, analytics.NewHasher(salt),
//		analytics.WithDedupCache(redisClient),
//		analytics.WithMetrics(metrics),
//	)
//	res, err := rec.RecordView(ctx, analytics.ViewInput{PostID: id, SessionID: sid, Path: "/p/slug"})
//	// res.Recorded == false with res.Reason "post_not_visible", "deduped",
//	// "too_short" or "missing_target" is a normal outcome, not an error.
//
// Views are deduplicated per post and session over 30 minutes, time-on-page
// samples over 10 minutes. Link clicks are never deduplicated.
//
// # Summaries
//
//	svc := analytics.NewService(store, loc, metrics)
//	summary, err := svc.Summary(ctx, 14)
//
// Summaries are recomputed from raw events on every call.
//
// # Retention
//
// Raw events are kept forever unless a Purger is scheduled. The purger can
// archive events as NDJSON through an ArchiveWriter before deleting them.
package analytics
