package analytics

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// EngagementType discriminates engagement events
type EngagementType string

const (
	EngagementLinkClick  EngagementType = "LINK_CLICK"
	EngagementTimeOnPage EngagementType = "TIME_ON_PAGE"
)

// Valid reports whether t is a known engagement type
func (t EngagementType) Valid() bool {
	return t == EngagementLinkClick || t == EngagementTimeOnPage
}

// Reason explains why a submission was not recorded
type Reason string

const (
	ReasonPostNotVisible Reason = "post_not_visible"
	ReasonDeduped        Reason = "deduped"
	ReasonTooShort       Reason = "too_short"
	ReasonMissingTarget  Reason = "missing_target"
)

const (
	// ViewDedupWindow suppresses repeat views per post and session
	ViewDedupWindow = 30 * time.Minute
	// TimeOnPageDedupWindow suppresses repeat time-on-page samples
	TimeOnPageDedupWindow = 10 * time.Minute
	// MinSecondsOnPage is the shortest time-on-page sample kept
	MinSecondsOnPage = 3
	// MaxSecondsOnPage caps time-on-page samples
	MaxSecondsOnPage = 3600
)

// ErrUnknownEngagementType is returned for an engagement type other than
// LINK_CLICK or TIME_ON_PAGE
var ErrUnknownEngagementType = errors.New("unknown engagement type")

// SessionCookieName is the anonymous visitor cookie
const SessionCookieName = "nn2_anon_sid"

// SessionCookieMaxAge is the anonymous visitor cookie lifetime
const SessionCookieMaxAge = 365 * 24 * time.Hour

// NewSessionID creates an opaque anonymous visitor token
func NewSessionID() string {
	return "nn2_" + uuid.NewString()
}

// Result is the outcome of a record call. Reason is set only when Recorded
// is false.
type Result struct {
	Recorded bool   `json:"recorded"`
	Reason   Reason `json:"reason,omitempty"`
}

func recorded() Result { return Result{Recorded: true} }

func skipped(reason Reason) Result { return Result{Reason: reason} }

// outcome is the metrics label for a result
func (r Result) outcome() string {
	if r.Recorded {
		return "recorded"
	}
	return string(r.Reason)
}

// ViewInput is a page view as received from a client
type ViewInput struct {
	PostID    string
	SessionID string
	Path      string
	UserAgent string
	Referrer  string
}

// EngagementInput is an engagement signal as received from a client
type EngagementInput struct {
	PostID        string
	SessionID     string
	Path          string
	Type          EngagementType
	UserAgent     string
	Referrer      string
	TargetURL     string
	SecondsOnPage *float64
}

// ViewEvent is a persisted page view
type ViewEvent struct {
	ID             int64     `json:"id,omitempty"`
	PostID         string    `json:"postId"`
	SessionKeyHash string    `json:"sessionKeyHash"`
	UserAgentHash  *string   `json:"userAgentHash,omitempty"`
	ReferrerHost   string    `json:"referrerHost"`
	Path           string    `json:"path"`
	OccurredAt     time.Time `json:"occurredAt"`
}

// ViewRecord is a view event joined with its post for display
type ViewRecord struct {
	ViewEvent
	PostTitle string `json:"postTitle"`
	PostSlug  string `json:"postSlug"`
}

// EngagementEvent is a persisted engagement signal
type EngagementEvent struct {
	ID             int64          `json:"id,omitempty"`
	PostID         string         `json:"postId"`
	Type           EngagementType `json:"type"`
	SessionKeyHash string         `json:"sessionKeyHash"`
	UserAgentHash  *string        `json:"userAgentHash,omitempty"`
	ReferrerHost   string         `json:"referrerHost"`
	Path           string         `json:"path"`
	TargetURL      *string        `json:"targetUrl,omitempty"`
	TargetHost     *string        `json:"targetHost,omitempty"`
	SecondsOnPage  *int           `json:"secondsOnPage,omitempty"`
	OccurredAt     time.Time      `json:"occurredAt"`
}

// ClampSeconds rounds a time-on-page sample and bounds it to
// [0, MaxSecondsOnPage]. A nil sample counts as 0.
func ClampSeconds(seconds *float64) int {
	if seconds == nil {
		return 0
	}
	v := *seconds
	switch {
	case v != v: // NaN
		return 0
	case v <= 0:
		return 0
	case v >= MaxSecondsOnPage:
		return MaxSecondsOnPage
	}
	return int(v + 0.5)
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
