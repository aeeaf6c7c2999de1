// Package posts reads post publication state for the analytics pipeline.
//
// Post authoring lives elsewhere; this package only answers whether a post
// may receive analytics events and promotes scheduled posts once their
// release time has passed.
package posts

import (
	"errors"
	"time"
)

// ErrPostNotFound is returned when no post has the requested ID
var ErrPostNotFound = errors.New("post not found")

// Status is the publication state of a post
type Status string

const (
	StatusDraft     Status = "DRAFT"
	StatusScheduled Status = "SCHEDULED"
	StatusPublished Status = "PUBLISHED"
	StatusArchived  Status = "ARCHIVED"
)

// Post holds the publication fields analytics needs
type Post struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Slug        string     `json:"slug"`
	Status      Status     `json:"status"`
	PublishedAt *time.Time `json:"publishedAt,omitempty"`
}

// VisibleAt reports whether the post is live at now. A scheduled post whose
// release time has passed counts as live even before it is promoted.
func (p Post) VisibleAt(now time.Time) bool {
	if p.PublishedAt == nil || p.PublishedAt.After(now) {
		return false
	}
	return p.Status == StatusPublished || p.Status == StatusScheduled
}
