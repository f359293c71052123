// Package chat turns messages from the ingestion channel into rewritten
// news cards.
package chat

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/bwmarrin/discordgo"

	"github.com/newsrelay/newsrelay/internal/filter"
	"github.com/newsrelay/newsrelay/internal/images"
	"github.com/newsrelay/newsrelay/internal/logging"
	"github.com/newsrelay/newsrelay/internal/news"
)

// DefaultSourcePlaceholder attributes items whose author and guild are unknown.
const DefaultSourcePlaceholder = "Unknown source"

// DefaultTitlePlaceholder titles cards whose rewrite has no usable line.
const DefaultTitlePlaceholder = "News"

// Rewriter edits raw text. It never fails.
type Rewriter interface {
	Rewrite(ctx context.Context, text string) string
}

// Publisher is what the handler needs from the publishing side.
type Publisher interface {
	Seen(key string) bool
	Publish(ctx context.Context, channelID string, item *news.Item, key string) error
}

// Auditor mirrors pipeline decisions to an operator channel.
type Auditor interface {
	Audit(ctx context.Context, line string)
}

// Outcome is the result of handling one message.
type Outcome int

const (
	Ignored Outcome = iota
	Rejected
	Duplicate
	Published
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Ignored:
		return "ignored"
	case Rejected:
		return "rejected"
	case Duplicate:
		return "duplicate"
	case Published:
		return "published"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Config configures a Handler.
type Config struct {
	// SourceChannelID is the ingestion channel.
	SourceChannelID string
	// TargetChannelID receives the cards.
	TargetChannelID   string
	SourcePlaceholder string
	TitlePlaceholder  string
}

// Handler runs filter, rewrite, dedup and publish for chat messages.
type Handler struct {
	cfg      Config
	filter   *filter.Filter
	rewriter Rewriter
	pub      Publisher
	clock    *news.Clock
	logger   *logging.Logger
	auditor  Auditor
	selfID   atomic.Value
}

// NewHandler creates a handler.
func NewHandler(cfg Config, f *filter.Filter, rw Rewriter, pub Publisher, clock *news.Clock, logger *logging.Logger) *Handler {
	if cfg.SourcePlaceholder == "" {
		cfg.SourcePlaceholder = DefaultSourcePlaceholder
	}
	if cfg.TitlePlaceholder == "" {
		cfg.TitlePlaceholder = DefaultTitlePlaceholder
	}
	h := &Handler{
		cfg:      cfg,
		filter:   f,
		rewriter: rw,
		pub:      pub,
		clock:    clock,
		logger:   logger,
	}
	h.selfID.Store("")
	return h
}

// SetAuditor enables the audit mirror.
func (h *Handler) SetAuditor(a Auditor) {
	h.auditor = a
}

// SetSelfID records the transport's own user id. Messages from it are ignored.
func (h *Handler) SetSelfID(id string) {
	h.selfID.Store(id)
}

// Handle processes one message. guildName is the hosting guild's name, used
// as a fallback source label.
func (h *Handler) Handle(ctx context.Context, m *discordgo.Message, guildName string) Outcome {
	if m == nil || m.ChannelID != h.cfg.SourceChannelID {
		return Ignored
	}
	if self := h.selfID.Load().(string); m.Author != nil && self != "" && m.Author.ID == self {
		return Ignored
	}

	original := ExtractText(m)
	if reason := h.filter.CheckRaw(original); reason != filter.Accepted {
		h.logger.Info("[chat] dropped message %s before rewrite: %s", m.ID, reason)
		h.audit(ctx, fmt.Sprintf("rejected message %s: %s", m.ID, reason))
		return Rejected
	}

	rewritten := h.rewriter.Rewrite(ctx, original)
	if reason := h.filter.CheckRewritten(rewritten); reason != filter.Accepted {
		h.logger.Info("[chat] dropped message %s after rewrite: %s", m.ID, reason)
		h.audit(ctx, fmt.Sprintf("rejected rewrite of message %s: %s", m.ID, reason))
		return Rejected
	}

	key := news.ChatKey(rewritten)
	if h.pub.Seen(key) {
		h.logger.Info("[chat] message %s already posted, skipping", m.ID)
		return Duplicate
	}

	title, body := news.SplitRewritten(rewritten, h.cfg.TitlePlaceholder)
	source := SourceLabel(m, guildName, h.cfg.SourcePlaceholder)
	item := h.clock.NewItem(news.OriginChatRewrite, title, body, source)
	item.ImageURL = images.ResolveMessage(m)

	if err := h.pub.Publish(ctx, h.cfg.TargetChannelID, item, key); err != nil {
		h.logger.Error("[chat] message %s: %v", m.ID, err)
		return Failed
	}
	h.logger.Info("[chat] posted message %s from %s", m.ID, source)
	h.audit(ctx, fmt.Sprintf("posted %q from %s", item.Title, source))
	return Published
}

func (h *Handler) audit(ctx context.Context, line string) {
	if h.auditor != nil {
		h.auditor.Audit(ctx, "[chat] "+line)
	}
}

// ExtractText joins the message content with the title, description and
// "name: value" field lines of its embeds, separated by blank lines.
func ExtractText(m *discordgo.Message) string {
	var parts []string
	add := func(s string) {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}

	add(m.Content)
	for _, em := range m.Embeds {
		if em == nil {
			continue
		}
		add(em.Title)
		add(em.Description)
		for _, f := range em.Fields {
			if f != nil {
				add(fmt.Sprintf("%s: %s", f.Name, f.Value))
			}
		}
	}
	return strings.Join(parts, "\n\n")
}

// SourceLabel attributes a message to its author's display name, then the
// guild name, then placeholder.
func SourceLabel(m *discordgo.Message, guildName, placeholder string) string {
	if m.Member != nil {
		if nick := strings.TrimSpace(m.Member.Nick); nick != "" {
			return nick
		}
	}
	if m.Author != nil {
		if name := strings.TrimSpace(strings.SplitN(m.Author.Username, "#", 2)[0]); name != "" {
			return name
		}
	}
	if name := strings.TrimSpace(strings.SplitN(guildName, "#", 2)[0]); name != "" {
		return name
	}
	return placeholder
}
