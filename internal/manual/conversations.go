// Package manual implements the operator-driven news submission dialog.
package manual

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
)

// ErrBusy is returned when the operator already has an open conversation in
// the channel.
var ErrBusy = errors.New("conversation already in progress")

// ErrTimeout is returned by Next when no reply arrives in time.
var ErrTimeout = errors.New("timed out waiting for reply")

type convKey struct {
	channelID string
	authorID  string
}

// Conversations routes replies to waiting dialogs. There is at most one
// conversation per operator and channel.
type Conversations struct {
	mu     sync.Mutex
	active map[convKey]*Conversation
}

// NewConversations creates an empty hub.
func NewConversations() *Conversations {
	return &Conversations{active: make(map[convKey]*Conversation)}
}

// Conversation receives the replies of one operator in one channel.
type Conversation struct {
	hub     *Conversations
	key     convKey
	replies chan *discordgo.Message
}

// Begin opens a conversation for authorID in channelID.
func (c *Conversations) Begin(channelID, authorID string) (*Conversation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := convKey{channelID: channelID, authorID: authorID}
	if _, ok := c.active[key]; ok {
		return nil, ErrBusy
	}
	conv := &Conversation{
		hub:     c,
		key:     key,
		replies: make(chan *discordgo.Message, 1),
	}
	c.active[key] = conv
	return conv, nil
}

// Deliver hands m to the conversation waiting on its author and channel. It
// reports whether the message was consumed; consumed messages get no other
// handling.
func (c *Conversations) Deliver(m *discordgo.Message) bool {
	if m == nil || m.Author == nil {
		return false
	}

	c.mu.Lock()
	conv, ok := c.active[convKey{channelID: m.ChannelID, authorID: m.Author.ID}]
	c.mu.Unlock()
	if !ok {
		return false
	}

	select {
	case conv.replies <- m:
	default:
		// A reply is already pending; keep the first one.
	}
	return true
}

// Active returns the number of open conversations.
func (c *Conversations) Active() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.active)
}

// Next waits up to timeout for the next reply.
func (conv *Conversation) Next(ctx context.Context, timeout time.Duration) (*discordgo.Message, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case m := <-conv.replies:
		return m, nil
	case <-timer.C:
		return nil, ErrTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// End closes the conversation. Later replies are no longer consumed.
func (conv *Conversation) End() {
	conv.hub.mu.Lock()
	defer conv.hub.mu.Unlock()
	if conv.hub.active[conv.key] == conv {
		delete(conv.hub.active, conv.key)
	}
}
