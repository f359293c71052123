// Package publisher formats items into chat embeds, delivers them and
// commits their dedup keys.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/newsrelay/newsrelay/internal/logging"
	"github.com/newsrelay/newsrelay/internal/news"
)

// Sender delivers an embed to a channel.
type Sender interface {
	SendEmbed(ctx context.Context, channelID string, embed *discordgo.MessageEmbed) error
}

// KeyStore is the part of the dedup store the publisher commits to.
type KeyStore interface {
	Contains(key string) bool
	Add(key string)
	Persist() error
}

// Event describes one delivery attempt.
type Event struct {
	Origin    string    `json:"origin"`
	ChannelID string    `json:"channel_id"`
	Title     string    `json:"title"`
	Link      string    `json:"link,omitempty"`
	Delivered bool      `json:"delivered"`
	Error     string    `json:"error,omitempty"`
	At        time.Time `json:"at"`
}

// Observer receives delivery events.
type Observer interface {
	Observe(Event)
}

// Publisher turns items into cards and delivers them.
type Publisher struct {
	sender    Sender
	store     KeyStore
	formatter *news.Formatter
	logger    *logging.Logger
	observers []Observer
}

// New creates a publisher.
func New(sender Sender, store KeyStore, formatter *news.Formatter, logger *logging.Logger) *Publisher {
	return &Publisher{
		sender:    sender,
		store:     store,
		formatter: formatter,
		logger:    logger,
	}
}

// AddObserver registers o for delivery events.
func (p *Publisher) AddObserver(o Observer) {
	p.observers = append(p.observers, o)
}

// Seen reports whether key was already delivered.
func (p *Publisher) Seen(key string) bool {
	return p.store.Contains(key)
}

// Publish formats and delivers item to channelID. When key is set it is
// committed and persisted only after the delivery succeeded. A failed
// persist is logged, not returned: the item is already out.
func (p *Publisher) Publish(ctx context.Context, channelID string, item *news.Item, key string) error {
	if !item.Valid() {
		return news.Errorf(news.KindMalformed, "publish", errors.New("item has no title"))
	}

	card := p.formatter.Format(item)
	err := p.sender.SendEmbed(ctx, channelID, ToEmbed(card))
	p.notify(item, channelID, err)
	if err != nil {
		return news.Errorf(news.KindTransient, "deliver", err)
	}

	if key == "" {
		return nil
	}
	p.store.Add(key)
	if err := p.store.Persist(); err != nil {
		p.logger.Error("[dedup] %v", err)
	}
	return nil
}

func (p *Publisher) notify(item *news.Item, channelID string, err error) {
	ev := Event{
		Origin:    item.Origin.String(),
		ChannelID: channelID,
		Title:     item.Title,
		Link:      item.Link,
		Delivered: err == nil,
		At:        time.Now().UTC(),
	}
	if err != nil {
		ev.Error = err.Error()
	}
	for _, o := range p.observers {
		o.Observe(ev)
	}
}

// ToEmbed converts a card to a chat embed.
func ToEmbed(card *news.Card) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title:       card.Title,
		Description: card.Description,
		URL:         card.URL,
		Color:       card.Color,
	}
	if !card.Timestamp.IsZero() {
		embed.Timestamp = card.Timestamp.Format(time.RFC3339)
	}
	if card.Author != "" {
		embed.Author = &discordgo.MessageEmbedAuthor{Name: card.Author}
	}
	if card.Footer != "" {
		embed.Footer = &discordgo.MessageEmbedFooter{Text: card.Footer}
	}
	if card.ImageURL != "" {
		embed.Image = &discordgo.MessageEmbedImage{URL: card.ImageURL}
	}
	return embed
}

// SessionSender sends embeds through a discordgo session.
type SessionSender struct {
	Session *discordgo.Session
}

// SendEmbed implements Sender.
func (s *SessionSender) SendEmbed(ctx context.Context, channelID string, embed *discordgo.MessageEmbed) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if channelID == "" {
		return fmt.Errorf("no destination channel configured")
	}
	if _, err := s.Session.ChannelMessageSendEmbed(channelID, embed); err != nil {
		return fmt.Errorf("send to channel %s: %w", channelID, err)
	}
	return nil
}
