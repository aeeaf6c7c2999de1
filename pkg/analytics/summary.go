package analytics

import (
	"sort"
	"strings"
	"time"
)

const (
	// DefaultWindowDays is the summary window when none is requested
	DefaultWindowDays = 14
	// MaxWindowDays bounds the summary window
	MaxWindowDays = 365
	// TopN is how many posts and referrers a summary ranks
	TopN = 8

	dateKeyLayout = "2006-01-02"
)

// Summary is the staff dashboard read model for a trailing window
type Summary struct {
	WindowDays        int                    `json:"windowDays"`
	GeneratedAt       time.Time              `json:"generatedAt"`
	Totals            Totals                 `json:"totals"`
	Daily             []DailyPoint           `json:"daily"`
	TopPosts          []PostSummary          `json:"topPosts"`
	Referrers         []ReferrerSummary      `json:"referrers"`
	PostWindowMetrics map[string]PostMetrics `json:"postWindowMetrics"`
	PostLifetimeViews map[string]int         `json:"postLifetimeViews"`
}

// Totals are grand totals over the window
type Totals struct {
	Views            int `json:"views"`
	UniqueViews      int `json:"uniqueViews"`
	LinkClicks       int `json:"linkClicks"`
	TimedSessions    int `json:"timedSessions"`
	AvgSecondsOnPage int `json:"avgSecondsOnPage"`
	RepeatVisitRate  int `json:"repeatVisitRate"`
}

// DailyPoint is one calendar day of the series
type DailyPoint struct {
	DateKey          string `json:"dateKey"`
	Label            string `json:"label"`
	Views            int    `json:"views"`
	UniqueViews      int    `json:"uniqueViews"`
	LinkClicks       int    `json:"linkClicks"`
	AvgSecondsOnPage int    `json:"avgSecondsOnPage"`
}

// PostMetrics are per-post window counts
type PostMetrics struct {
	Views            int `json:"views"`
	UniqueViews      int `json:"uniqueViews"`
	LinkClicks       int `json:"linkClicks"`
	AvgSecondsOnPage int `json:"avgSecondsOnPage"`
}

// PostSummary is a ranked post
type PostSummary struct {
	PostID string `json:"postId"`
	Title  string `json:"title"`
	Slug   string `json:"slug"`
	PostMetrics
}

// ReferrerSummary is a ranked referrer host
type ReferrerSummary struct {
	Label       string `json:"label"`
	Views       int    `json:"views"`
	UniqueViews int    `json:"uniqueViews"`
}

// Window returns [start, end) covering days calendar days ending today in
// loc. days below 1 is treated as 1.
func Window(now time.Time, days int, loc *time.Location) (start, end time.Time) {
	if days < 1 {
		days = 1
	}
	local := now.In(loc)
	today := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	return today.AddDate(0, 0, -(days - 1)), today.AddDate(0, 0, 1)
}

// bucket accumulates counts for one day, post or referrer
type bucket struct {
	views        int
	sessions     map[string]struct{}
	linkClicks   int
	totalSeconds int
	samples      int
}

func newBucket() *bucket {
	return &bucket{sessions: make(map[string]struct{})}
}

func (b *bucket) addView(sessionKey string) {
	b.views++
	b.sessions[sessionKey] = struct{}{}
}

func (b *bucket) addEngagement(ev EngagementEvent) {
	switch ev.Type {
	case EngagementLinkClick:
		b.linkClicks++
	case EngagementTimeOnPage:
		if ev.SecondsOnPage != nil {
			b.totalSeconds += *ev.SecondsOnPage
			b.samples++
		}
	}
}

func (b *bucket) metrics() PostMetrics {
	return PostMetrics{
		Views:            b.views,
		UniqueViews:      len(b.sessions),
		LinkClicks:       b.linkClicks,
		AvgSecondsOnPage: roundedAverage(b.totalSeconds, b.samples),
	}
}

type postBucket struct {
	*bucket
	title string
	slug  string
}

// BuildSummary rolls raw events up into a Summary. It is a pure function of
// its inputs; events outside [start, start+days) still count toward post and
// referrer totals but land in no day.
func BuildSummary(days int, start time.Time, loc *time.Location, generatedAt time.Time,
	views []ViewRecord, engagement []EngagementEvent, lifetime map[string]int) *Summary {
	if days < 1 {
		days = 1
	}

	daily := make(map[string]*bucket)
	byPost := make(map[string]*postBucket)
	byReferrer := make(map[string]*bucket)
	total := newBucket()

	dayBucket := func(t time.Time) *bucket {
		key := t.In(loc).Format(dateKeyLayout)
		b, ok := daily[key]
		if !ok {
			b = newBucket()
			daily[key] = b
		}
		return b
	}

	for _, v := range views {
		dayBucket(v.OccurredAt).addView(v.SessionKeyHash)

		p, ok := byPost[v.PostID]
		if !ok {
			p = &postBucket{bucket: newBucket(), title: v.PostTitle, slug: v.PostSlug}
			byPost[v.PostID] = p
		}
		p.addView(v.SessionKeyHash)

		label := v.ReferrerHost
		if label == "" {
			label = referrerDirect
		}
		r, ok := byReferrer[label]
		if !ok {
			r = newBucket()
			byReferrer[label] = r
		}
		r.addView(v.SessionKeyHash)

		total.addView(v.SessionKeyHash)
	}

	for _, ev := range engagement {
		// engagement only counts against posts viewed in the window
		p, ok := byPost[ev.PostID]
		if !ok {
			continue
		}
		p.addEngagement(ev)
		dayBucket(ev.OccurredAt).addEngagement(ev)
		total.addEngagement(ev)
	}

	s := &Summary{
		WindowDays:        days,
		GeneratedAt:       generatedAt,
		Daily:             make([]DailyPoint, 0, days),
		PostWindowMetrics: make(map[string]PostMetrics, len(byPost)),
		PostLifetimeViews: make(map[string]int, len(lifetime)),
	}

	labelLayout := "Mon"
	if days > 10 {
		labelLayout = "Jan 2"
	}
	for i := 0; i < days; i++ {
		day := start.In(loc).AddDate(0, 0, i)
		key := day.Format(dateKeyLayout)
		point := DailyPoint{DateKey: key, Label: day.Format(labelLayout)}
		if b, ok := daily[key]; ok {
			m := b.metrics()
			point.Views = m.Views
			point.UniqueViews = m.UniqueViews
			point.LinkClicks = m.LinkClicks
			point.AvgSecondsOnPage = m.AvgSecondsOnPage
		}
		s.Daily = append(s.Daily, point)
	}

	posts := make([]PostSummary, 0, len(byPost))
	for id, p := range byPost {
		m := p.metrics()
		s.PostWindowMetrics[id] = m
		posts = append(posts, PostSummary{PostID: id, Title: p.title, Slug: p.slug, PostMetrics: m})
	}
	sort.Slice(posts, func(i, j int) bool {
		return ranksBefore(posts[i].Views, posts[i].UniqueViews, posts[i].Title,
			posts[j].Views, posts[j].UniqueViews, posts[j].Title, posts[i].PostID, posts[j].PostID)
	})
	s.TopPosts = topN(posts)

	referrers := make([]ReferrerSummary, 0, len(byReferrer))
	for label, r := range byReferrer {
		referrers = append(referrers, ReferrerSummary{Label: label, Views: r.views, UniqueViews: len(r.sessions)})
	}
	sort.Slice(referrers, func(i, j int) bool {
		return ranksBefore(referrers[i].Views, referrers[i].UniqueViews, referrers[i].Label,
			referrers[j].Views, referrers[j].UniqueViews, referrers[j].Label, "", "")
	})
	s.Referrers = topN(referrers)

	for id, n := range lifetime {
		s.PostLifetimeViews[id] = n
	}

	s.Totals = Totals{
		Views:            total.views,
		UniqueViews:      len(total.sessions),
		LinkClicks:       total.linkClicks,
		TimedSessions:    total.samples,
		AvgSecondsOnPage: roundedAverage(total.totalSeconds, total.samples),
		RepeatVisitRate:  RepeatVisitRate(total.views, len(total.sessions)),
	}
	return s
}

// ranksBefore orders by views desc, unique views desc, then label ascending
// ignoring case. Exact byte order and finally id break remaining ties so the
// output is stable.
func ranksBefore(viewsA, uniqueA int, labelA string, viewsB, uniqueB int, labelB string, idA, idB string) bool {
	if viewsA != viewsB {
		return viewsA > viewsB
	}
	if uniqueA != uniqueB {
		return uniqueA > uniqueB
	}
	la, lb := strings.ToLower(labelA), strings.ToLower(labelB)
	if la != lb {
		return la < lb
	}
	if labelA != labelB {
		return labelA < labelB
	}
	return idA < idB
}

func topN[T any](items []T) []T {
	if len(items) > TopN {
		return items[:TopN]
	}
	return items
}

// roundedAverage is round(total/samples), 0 without samples
func roundedAverage(total, samples int) int {
	if samples == 0 {
		return 0
	}
	return int(float64(total)/float64(samples) + 0.5)
}

// RepeatVisitRate is the share of views from already-counted sessions as a
// rounded percentage
func RepeatVisitRate(views, uniqueViews int) int {
	denom := views
	if denom < 1 {
		denom = 1
	}
	return int(100*float64(views-uniqueViews)/float64(denom) + 0.5)
}
