// Package news holds the item model shared by every ingestion path: the
// normalized item, dedup key derivation, card formatting and the pipeline
// error taxonomy.
package news

import (
	"strings"
	"time"
)

// Origin is the ingestion path an item took.
type Origin int

const (
	OriginRSS Origin = iota
	OriginChatRewrite
	OriginManual
)

func (o Origin) String() string {
	switch o {
	case OriginRSS:
		return "rss"
	case OriginChatRewrite:
		return "chat"
	case OriginManual:
		return "manual"
	default:
		return "unknown"
	}
}

// Timestamps are captured once at normalization time.
type Timestamps struct {
	CapturedAtUTC   time.Time
	CapturedAtLocal time.Time
}

// Item is the canonical representation of a news item before card formatting.
type Item struct {
	Title       string
	Body        string
	SourceLabel string
	Link        string
	ImageURL    string
	Origin      Origin
	Timestamps  Timestamps
}

// Clock stamps items in UTC and in the deployment's local zone.
type Clock struct {
	loc *time.Location
	now func() time.Time
}

// NewClock returns a clock for the given zone. A nil location means UTC.
func NewClock(loc *time.Location) *Clock {
	if loc == nil {
		loc = time.UTC
	}
	return &Clock{loc: loc, now: time.Now}
}

// WithNow replaces the time source, for tests.
func (c *Clock) WithNow(now func() time.Time) *Clock {
	return &Clock{loc: c.loc, now: now}
}

// Stamp returns the current time in both zones.
func (c *Clock) Stamp() Timestamps {
	t := c.now()
	return Timestamps{CapturedAtUTC: t.UTC(), CapturedAtLocal: t.In(c.loc)}
}

// NewItem normalizes raw fields into an Item. Title, label and link are
// trimmed; the body keeps its inner layout.
func (c *Clock) NewItem(origin Origin, title, body, source string) *Item {
	return &Item{
		Title:       strings.TrimSpace(title),
		Body:        strings.TrimSpace(body),
		SourceLabel: strings.TrimSpace(source),
		Origin:      origin,
		Timestamps:  c.Stamp(),
	}
}

// Valid reports whether the item may be published. A title is the only
// required field.
func (i *Item) Valid() bool {
	return i != nil && strings.TrimSpace(i.Title) != ""
}
