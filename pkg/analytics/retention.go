package analytics

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/platinummonkey/newswire/pkg/observability"
)

// ArchiveWriter stores an archive object. storage/postgres.S3Client
// satisfies it.
type ArchiveWriter interface {
	PutObject(ctx context.Context, key string, data []byte, contentType string) error
}

// archiveProber is implemented by archives that can report whether a key
// is taken. Purges that share a cutoff date then get distinct keys.
type archiveProber interface {
	ObjectExists(ctx context.Context, key string) (bool, error)
}

// RetentionStore is what the purger needs from the event store
type RetentionStore interface {
	EventReader
	EventPurger
}

// PurgeResult reports one purge run
type PurgeResult struct {
	Cutoff            time.Time `json:"cutoff"`
	ViewsDeleted      int64     `json:"viewsDeleted"`
	EngagementDeleted int64     `json:"engagementDeleted"`
	ArchivedKeys      []string  `json:"archivedKeys,omitempty"`
}

// Purger deletes raw events older than a maximum age, optionally writing
// them to an archive first. Deletion is skipped for a table whose archive
// upload failed.
type Purger struct {
	store   RetentionStore
	archive ArchiveWriter
	maxAge  time.Duration
	metrics *observability.Metrics
	logger  *observability.Logger
}

// NewPurger creates a purger. archive may be nil to delete without
// archiving.
func NewPurger(store RetentionStore, archive ArchiveWriter, maxAge time.Duration, metrics *observability.Metrics, logger *observability.Logger) *Purger {
	return &Purger{store: store, archive: archive, maxAge: maxAge, metrics: metrics, logger: logger}
}

// eventTable is one raw event table as the purger sees it
type eventTable struct {
	dir    string
	name   string
	oldest func(ctx context.Context) (time.Time, bool, error)
	encode func(ctx context.Context, start, end time.Time, enc *json.Encoder) (int, error)
	delete func(ctx context.Context, before time.Time) (int64, error)
}

func (p *Purger) tables() []eventTable {
	return []eventTable{
		{
			dir:    "views",
			name:   "post_view_events",
			oldest: p.store.OldestViewEvent,
			encode: func(ctx context.Context, start, end time.Time, enc *json.Encoder) (int, error) {
				views, err := p.store.ListViewEvents(ctx, start, end)
				if err != nil {
					return 0, err
				}
				for _, v := range views {
					if err := enc.Encode(v.ViewEvent); err != nil {
						return 0, err
					}
				}
				return len(views), nil
			},
			delete: p.store.DeleteViewEventsBefore,
		},
		{
			dir:    "engagement",
			name:   "post_engagement_events",
			oldest: p.store.OldestEngagementEvent,
			encode: func(ctx context.Context, start, end time.Time, enc *json.Encoder) (int, error) {
				events, err := p.store.ListEngagementEvents(ctx, start, end)
				if err != nil {
					return 0, err
				}
				for _, ev := range events {
					if err := enc.Encode(ev); err != nil {
						return 0, err
					}
				}
				return len(events), nil
			},
			delete: p.store.DeleteEngagementEventsBefore,
		},
	}
}

// Purge removes events that occurred before now minus the maximum age.
// With an archive, rows are archived and deleted one UTC day at a time,
// oldest first. A failed upload leaves that day and later ones in place.
func (p *Purger) Purge(ctx context.Context, now time.Time) (*PurgeResult, error) {
	if p.maxAge <= 0 {
		return nil, fmt.Errorf("retention max age must be positive")
	}
	cutoff := now.Add(-p.maxAge).UTC()
	result := &PurgeResult{Cutoff: cutoff}

	for i, t := range p.tables() {
		n, keys, err := p.purgeTable(ctx, t, cutoff)
		result.ArchivedKeys = append(result.ArchivedKeys, keys...)
		if i == 0 {
			result.ViewsDeleted = n
		} else {
			result.EngagementDeleted = n
		}
		if p.metrics != nil {
			p.metrics.EventsPurgedTotal.WithLabelValues(t.name).Add(float64(n))
		}
		if err != nil {
			return result, err
		}
	}

	if p.logger != nil {
		p.logger.WithFields(map[string]interface{}{
			"cutoff":             cutoff.Format(time.RFC3339),
			"views_deleted":      result.ViewsDeleted,
			"engagement_deleted": result.EngagementDeleted,
			"archived":           len(result.ArchivedKeys),
		}).Info("Retention purge complete")
	}
	return result, nil
}

func (p *Purger) purgeTable(ctx context.Context, t eventTable, cutoff time.Time) (deleted int64, keys []string, err error) {
	if p.archive == nil {
		deleted, err = t.delete(ctx, cutoff)
		return deleted, nil, err
	}

	for {
		oldest, ok, err := t.oldest(ctx)
		if err != nil {
			return deleted, keys, err
		}
		if !ok || !oldest.Before(cutoff) {
			return deleted, keys, nil
		}

		start := oldest.Truncate(24 * time.Hour)
		end := start.Add(24 * time.Hour)
		if end.After(cutoff) {
			end = cutoff
		}

		key, err := p.writeArchive(ctx, t, start, end)
		if err != nil {
			return deleted, keys, err
		}
		if key != "" {
			keys = append(keys, key)
		}

		n, err := t.delete(ctx, end)
		if err != nil {
			return deleted, keys, err
		}
		if n == 0 {
			return deleted, keys, fmt.Errorf("purge of %s before %s removed no rows", t.name, end.Format(time.RFC3339))
		}
		deleted += n
	}
}

// writeArchive encodes the rows in [start, end) as NDJSON and uploads them
// under dir/<day>.ndjson, or dir/<day>-N.ndjson when that key is taken.
// Nothing is written for an empty range.
func (p *Purger) writeArchive(ctx context.Context, t eventTable, start, end time.Time) (string, error) {
	var buf bytes.Buffer
	count, err := t.encode(ctx, start, end, json.NewEncoder(&buf))
	if err != nil {
		return "", fmt.Errorf("failed to encode %s archive: %w", t.dir, err)
	}
	if count == 0 {
		return "", nil
	}
	key, err := p.archiveKey(ctx, t.dir, start.Format(dateKeyLayout))
	if err != nil {
		return "", err
	}
	if err := p.archive.PutObject(ctx, key, buf.Bytes(), "application/x-ndjson"); err != nil {
		return "", fmt.Errorf("failed to archive %s: %w", key, err)
	}
	return key, nil
}

func (p *Purger) archiveKey(ctx context.Context, dir, stamp string) (string, error) {
	key := dir + "/" + stamp + ".ndjson"
	prober, ok := p.archive.(archiveProber)
	if !ok {
		return key, nil
	}
	for n := 1; ; n++ {
		exists, err := prober.ObjectExists(ctx, key)
		if err != nil {
			return "", fmt.Errorf("failed to check archive %s: %w", key, err)
		}
		if !exists {
			return key, nil
		}
		key = fmt.Sprintf("%s/%s-%d.ndjson", dir, stamp, n)
	}
}
