package news

import (
	"fmt"
	"strings"
	"time"
)

// Chat platform limits for a single card.
const (
	MaxTitleLength       = 256
	MaxDescriptionLength = 4096
	maxRSSDescription    = 2048
	maxChatTitle         = 250
)

// Card colors per origin.
const (
	ColorRSS    = 0xF1C40F // Gold
	ColorChat   = 0x3498DB // Blue
	ColorManual = 0x3498DB
)

const (
	chatTitleGlyph = "📰 "
	truncateMarker = "..."
)

// Card is the final deliverable representation of an item.
type Card struct {
	Title       string
	Description string
	URL         string
	Author      string
	Footer      string
	ImageURL    string
	Color       int
	Timestamp   time.Time
}

// Formatter turns normalized items into cards.
type Formatter struct {
	// ZoneLabel names the local zone in footers, e.g. "MSK".
	ZoneLabel string
	// FooterNote is appended to chat card footers when set.
	FooterNote string
}

// Format builds the card for an item according to its origin.
func (f *Formatter) Format(item *Item) *Card {
	card := &Card{
		URL:       item.Link,
		ImageURL:  item.ImageURL,
		Timestamp: item.Timestamps.CapturedAtUTC,
	}

	stamp := f.stamp(item.Timestamps)
	switch item.Origin {
	case OriginRSS:
		card.Title = Truncate(item.Title, MaxTitleLength, "")
		card.Description = Truncate(item.Body, maxRSSDescription, "")
		card.Author = item.SourceLabel
		card.Footer = fmt.Sprintf("%s • %s", item.SourceLabel, stamp)
		card.Color = ColorRSS
	case OriginChatRewrite:
		card.Title = chatTitleGlyph + item.Title
		card.Description = item.Body
		footer := fmt.Sprintf("Source: %s • %s", item.SourceLabel, stamp)
		if f.FooterNote != "" {
			footer += " • " + f.FooterNote
		}
		card.Footer = footer
		card.Color = ColorChat
	case OriginManual:
		card.Title = Truncate(item.Title, MaxTitleLength, "")
		card.Description = Truncate(item.Body, MaxDescriptionLength, "")
		card.Footer = fmt.Sprintf("Author: %s • %s", item.SourceLabel, stamp)
		card.Color = ColorManual
	}
	return card
}

func (f *Formatter) stamp(ts Timestamps) string {
	label := f.ZoneLabel
	if label == "" {
		label = ts.CapturedAtLocal.Format("MST")
	}
	return fmt.Sprintf("UTC %s | %s %s",
		ts.CapturedAtUTC.Format("02.01.2006 15:04"),
		label,
		ts.CapturedAtLocal.Format("15:04"))
}

// SplitRewritten splits rewritten chat text into a card title and body: the
// first non-empty line is the title, the remaining lines the body. A single
// line text keeps the whole text as body. Empty input yields the placeholder
// title.
func SplitRewritten(text, placeholder string) (title, body string) {
	var lines []string
	for _, ln := range strings.Split(text, "\n") {
		if ln = strings.TrimSpace(ln); ln != "" {
			lines = append(lines, ln)
		}
	}

	if len(lines) == 0 {
		return placeholder, strings.TrimSpace(text)
	}

	title = Truncate(lines[0], maxChatTitle, "")
	if len(lines) > 1 {
		body = strings.Join(lines[1:], "\n")
	} else {
		body = strings.TrimSpace(text)
	}
	if runeLen(body) > MaxDescriptionLength {
		body = Truncate(body, MaxDescriptionLength-len(truncateMarker)-3, "") + truncateMarker
	}
	return title, body
}

// Truncate caps s at max runes, replacing the tail with marker when cut.
func Truncate(s string, max int, marker string) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	keep := max - len([]rune(marker))
	if keep < 0 {
		keep = 0
	}
	return string(r[:keep]) + marker
}

func runeLen(s string) int {
	return len([]rune(s))
}
