package bot

import (
	"context"

	"github.com/bwmarrin/discordgo"

	"github.com/newsrelay/newsrelay/internal/chat"
)

// ReplyCapturer takes replies that belong to an open submission dialog.
type ReplyCapturer interface {
	Deliver(m *discordgo.Message) bool
}

// Ingestor runs the chat ingestion pipeline on one message.
type Ingestor interface {
	Handle(ctx context.Context, m *discordgo.Message, guildName string) chat.Outcome
}

// Dispatcher runs text commands.
type Dispatcher interface {
	Dispatch(ctx context.Context, m *discordgo.Message) bool
}

// Router decides which handlers see an inbound message.
type Router struct {
	Replies       ReplyCapturer
	Chat          Ingestor
	Commands      Dispatcher
	NewsChannelID string
	// SelfID returns the transport's own user id, "" until known.
	SelfID func() string
}

// Route hands m to a waiting dialog if one claims it. Otherwise messages in
// the ingestion channel go through the chat pipeline, and every message not
// authored by the bot itself is then offered to command dispatch, whatever
// the pipeline decided.
func (r *Router) Route(ctx context.Context, m *discordgo.Message, guildName string) {
	if m == nil || m.Author == nil {
		return
	}
	if r.Replies != nil && r.Replies.Deliver(m) {
		return
	}

	if m.ChannelID == r.NewsChannelID {
		r.Chat.Handle(ctx, m, guildName)
	}

	if r.SelfID != nil {
		if self := r.SelfID(); self != "" && m.Author.ID == self {
			return
		}
	}
	r.Commands.Dispatch(ctx, m)
}
