package analytics

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/newswire/pkg/observability"
)

// EventWriter is the write side of the event store used by the Recorder
type EventWriter interface {
	HasRecentView(ctx context.Context, postID, sessionKeyHash string, since time.Time) (bool, error)
	InsertView(ctx context.Context, event ViewEvent) error
	HasRecentEngagement(ctx context.Context, postID, sessionKeyHash string, eventType EngagementType, since time.Time) (bool, error)
	InsertEngagement(ctx context.Context, event EngagementEvent) error
}

// EventReader is the read side used to build summaries. Ranges are
// half-open: start <= occurred_at < end.
type EventReader interface {
	ListViewEvents(ctx context.Context, start, end time.Time) ([]ViewRecord, error)
	ListEngagementEvents(ctx context.Context, start, end time.Time) ([]EngagementEvent, error)
	LifetimeViewCounts(ctx context.Context) (map[string]int, error)
}

// EventPurger deletes old raw events
type EventPurger interface {
	OldestViewEvent(ctx context.Context) (time.Time, bool, error)
	OldestEngagementEvent(ctx context.Context) (time.Time, bool, error)
	DeleteViewEventsBefore(ctx context.Context, cutoff time.Time) (int64, error)
	DeleteEngagementEventsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// SQLStore implements the event store on database/sql. Writes go to the
// primary; summary reads go to the read handle, which may be a replica.
// Queries use $n placeholders in order of first appearance and UTC time
// arguments so the same SQL runs on Postgres and SQLite.
type SQLStore struct {
	write *sql.DB
	read  *sql.DB
}

// NewSQLStore creates a store. A nil read handle reuses write.
func NewSQLStore(write, read *sql.DB) *SQLStore {
	if read == nil {
		read = write
	}
	return &SQLStore{write: write, read: read}
}

func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return observability.Tracer().Start(ctx, "EventStore."+name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// HasRecentView reports whether a view exists for the pair at or after since
func (s *SQLStore) HasRecentView(ctx context.Context, postID, sessionKeyHash string, since time.Time) (found bool, err error) {
	ctx, span := startSpan(ctx, "HasRecentView", attribute.String("post.id", postID))
	defer func() { endSpan(span, err) }()

	var id int64
	err = s.write.QueryRowContext(ctx, `
		SELECT id FROM post_view_events
		WHERE post_id = $1 AND session_key_hash = $2 AND occurred_at >= $3
		ORDER BY occurred_at DESC
		LIMIT 1`,
		postID, sessionKeyHash, since.UTC(),
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to look up recent view: %w", err)
	}
	return true, nil
}

// InsertView appends a view event
func (s *SQLStore) InsertView(ctx context.Context, event ViewEvent) (err error) {
	ctx, span := startSpan(ctx, "InsertView", attribute.String("post.id", event.PostID))
	defer func() { endSpan(span, err) }()

	_, err = s.write.ExecContext(ctx, `
		INSERT INTO post_view_events (post_id, session_key_hash, user_agent_hash, referrer_host, path, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		event.PostID, event.SessionKeyHash, event.UserAgentHash, event.ReferrerHost, event.Path, event.OccurredAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert view event: %w", err)
	}
	return nil
}

// HasRecentEngagement reports whether an engagement of eventType exists for
// the pair at or after since
func (s *SQLStore) HasRecentEngagement(ctx context.Context, postID, sessionKeyHash string, eventType EngagementType, since time.Time) (found bool, err error) {
	ctx, span := startSpan(ctx, "HasRecentEngagement",
		attribute.String("post.id", postID),
		attribute.String("engagement.type", string(eventType)),
	)
	defer func() { endSpan(span, err) }()

	var id int64
	err = s.write.QueryRowContext(ctx, `
		SELECT id FROM post_engagement_events
		WHERE post_id = $1 AND type = $2 AND session_key_hash = $3 AND occurred_at >= $4
		ORDER BY occurred_at DESC
		LIMIT 1`,
		postID, string(eventType), sessionKeyHash, since.UTC(),
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to look up recent engagement: %w", err)
	}
	return true, nil
}

// InsertEngagement appends an engagement event
func (s *SQLStore) InsertEngagement(ctx context.Context, event EngagementEvent) (err error) {
	ctx, span := startSpan(ctx, "InsertEngagement",
		attribute.String("post.id", event.PostID),
		attribute.String("engagement.type", string(event.Type)),
	)
	defer func() { endSpan(span, err) }()

	_, err = s.write.ExecContext(ctx, `
		INSERT INTO post_engagement_events (
			post_id, type, session_key_hash, user_agent_hash, referrer_host, path,
			target_url, target_host, seconds_on_page, occurred_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		event.PostID, string(event.Type), event.SessionKeyHash, event.UserAgentHash, event.ReferrerHost, event.Path,
		event.TargetURL, event.TargetHost, event.SecondsOnPage, event.OccurredAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert engagement event: %w", err)
	}
	return nil
}

// ListViewEvents returns views in [start, end) joined with post title and
// slug, oldest first
func (s *SQLStore) ListViewEvents(ctx context.Context, start, end time.Time) (records []ViewRecord, err error) {
	ctx, span := startSpan(ctx, "ListViewEvents")
	defer func() { endSpan(span, err) }()

	rows, err := s.read.QueryContext(ctx, `
		SELECT e.id, e.post_id, e.session_key_hash, e.user_agent_hash, e.referrer_host, e.path, e.occurred_at,
		       p.title, p.slug
		FROM post_view_events e
		JOIN posts p ON p.id = e.post_id
		WHERE e.occurred_at >= $1 AND e.occurred_at < $2
		ORDER BY e.occurred_at ASC, e.id ASC`,
		start.UTC(), end.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list view events: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			rec    ViewRecord
			uaHash sql.NullString
		)
		if err := rows.Scan(
			&rec.ID, &rec.PostID, &rec.SessionKeyHash, &uaHash, &rec.ReferrerHost, &rec.Path, &rec.OccurredAt,
			&rec.PostTitle, &rec.PostSlug,
		); err != nil {
			return nil, fmt.Errorf("failed to scan view event: %w", err)
		}
		if uaHash.Valid {
			rec.UserAgentHash = &uaHash.String
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate view events: %w", err)
	}
	span.SetAttributes(attribute.Int("events.count", len(records)))
	return records, nil
}

// ListEngagementEvents returns engagement events in [start, end), oldest first
func (s *SQLStore) ListEngagementEvents(ctx context.Context, start, end time.Time) (events []EngagementEvent, err error) {
	ctx, span := startSpan(ctx, "ListEngagementEvents")
	defer func() { endSpan(span, err) }()

	rows, err := s.read.QueryContext(ctx, `
		SELECT id, post_id, type, session_key_hash, user_agent_hash, referrer_host, path,
		       target_url, target_host, seconds_on_page, occurred_at
		FROM post_engagement_events
		WHERE occurred_at >= $1 AND occurred_at < $2
		ORDER BY occurred_at ASC, id ASC`,
		start.UTC(), end.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list engagement events: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			ev                         EngagementEvent
			uaHash, target, targetHost sql.NullString
			seconds                    sql.NullInt64
		)
		if err := rows.Scan(
			&ev.ID, &ev.PostID, &ev.Type, &ev.SessionKeyHash, &uaHash, &ev.ReferrerHost, &ev.Path,
			&target, &targetHost, &seconds, &ev.OccurredAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan engagement event: %w", err)
		}
		if uaHash.Valid {
			ev.UserAgentHash = &uaHash.String
		}
		if target.Valid {
			ev.TargetURL = &target.String
		}
		if targetHost.Valid {
			ev.TargetHost = &targetHost.String
		}
		if seconds.Valid {
			v := int(seconds.Int64)
			ev.SecondsOnPage = &v
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate engagement events: %w", err)
	}
	span.SetAttributes(attribute.Int("events.count", len(events)))
	return events, nil
}

// LifetimeViewCounts returns the total number of views per post
func (s *SQLStore) LifetimeViewCounts(ctx context.Context) (counts map[string]int, err error) {
	ctx, span := startSpan(ctx, "LifetimeViewCounts")
	defer func() { endSpan(span, err) }()

	rows, err := s.read.QueryContext(ctx, `SELECT post_id, COUNT(*) FROM post_view_events GROUP BY post_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to count lifetime views: %w", err)
	}
	defer rows.Close()

	counts = make(map[string]int)
	for rows.Next() {
		var (
			postID string
			n      int
		)
		if err := rows.Scan(&postID, &n); err != nil {
			return nil, fmt.Errorf("failed to scan lifetime views: %w", err)
		}
		counts[postID] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate lifetime views: %w", err)
	}
	return counts, nil
}

// DeleteViewEventsBefore removes views that occurred before cutoff
func (s *SQLStore) DeleteViewEventsBefore(ctx context.Context, cutoff time.Time) (n int64, err error) {
	return s.deleteBefore(ctx, "post_view_events", cutoff)
}

// DeleteEngagementEventsBefore removes engagement events that occurred
// before cutoff
func (s *SQLStore) DeleteEngagementEventsBefore(ctx context.Context, cutoff time.Time) (n int64, err error) {
	return s.deleteBefore(ctx, "post_engagement_events", cutoff)
}

// OldestViewEvent returns when the oldest stored view occurred. ok is false
// when the table is empty.
func (s *SQLStore) OldestViewEvent(ctx context.Context) (at time.Time, ok bool, err error) {
	return s.oldest(ctx, "post_view_events")
}

// OldestEngagementEvent is OldestViewEvent for engagement events
func (s *SQLStore) OldestEngagementEvent(ctx context.Context) (at time.Time, ok bool, err error) {
	return s.oldest(ctx, "post_engagement_events")
}

func (s *SQLStore) oldest(ctx context.Context, table string) (at time.Time, ok bool, err error) {
	ctx, span := startSpan(ctx, "Oldest", attribute.String("db.table", table))
	defer func() { endSpan(span, err) }()

	err = s.write.QueryRowContext(ctx, `SELECT occurred_at FROM `+table+` ORDER BY occurred_at ASC LIMIT 1`).Scan(&at)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to find oldest row in %s: %w", table, err)
	}
	return at.UTC(), true, nil
}

// deleteBefore is only called with the two fixed event table names
func (s *SQLStore) deleteBefore(ctx context.Context, table string, cutoff time.Time) (n int64, err error) {
	ctx, span := startSpan(ctx, "DeleteBefore", attribute.String("db.table", table))
	defer func() { endSpan(span, err) }()

	res, err := s.write.ExecContext(ctx, `DELETE FROM `+table+` WHERE occurred_at < $1`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to purge %s: %w", table, err)
	}
	n, err = res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read purge count for %s: %w", table, err)
	}
	return n, nil
}
