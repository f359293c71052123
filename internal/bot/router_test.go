package bot

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/newsrelay/newsrelay/internal/chat"
	"github.com/newsrelay/newsrelay/internal/manual"
)

type recordingIngestor struct {
	outcome chat.Outcome
	seen    []string
}

func (r *recordingIngestor) Handle(_ context.Context, m *discordgo.Message, _ string) chat.Outcome {
	r.seen = append(r.seen, m.Content)
	return r.outcome
}

func newRouter(ingestor Ingestor, hub *manual.Conversations) (*Router, *recordingReplier) {
	cmds, _, replier := newCommands(nil)
	return &Router{
		Replies:       hub,
		Chat:          ingestor,
		Commands:      cmds,
		NewsChannelID: "news",
		SelfID:        func() string { return "bot" },
	}, replier
}

func TestRoute_RejectedMessageStillRunsCommand(t *testing.T) {
	ingestor := &recordingIngestor{outcome: chat.Rejected}
	r, replier := newRouter(ingestor, manual.NewConversations())

	m := message("/ping")
	m.ChannelID = "news"
	r.Route(context.Background(), m, "Guild")

	if len(ingestor.seen) != 1 {
		t.Fatalf("ingestion channel message should reach the pipeline, got %v", ingestor.seen)
	}
	if len(replier.lines) != 1 || !strings.HasPrefix(replier.lines[0], "🏓 Pong!") {
		t.Errorf("command should run after a rejection, got %v", replier.lines)
	}
}

func TestRoute_OtherChannelSkipsPipeline(t *testing.T) {
	ingestor := &recordingIngestor{}
	r, replier := newRouter(ingestor, manual.NewConversations())

	r.Route(context.Background(), message("/ping"), "")

	if len(ingestor.seen) != 0 {
		t.Errorf("only the ingestion channel feeds the pipeline, got %v", ingestor.seen)
	}
	if len(replier.lines) != 1 {
		t.Errorf("expected a pong, got %v", replier.lines)
	}
}

func TestRoute_CapturedReplyGoesNowhereElse(t *testing.T) {
	hub := manual.NewConversations()
	conv, err := hub.Begin("news", "u1")
	if err != nil {
		t.Fatal(err)
	}
	defer conv.End()

	ingestor := &recordingIngestor{}
	r, replier := newRouter(ingestor, hub)

	m := message("/ping")
	m.ChannelID = "news"
	r.Route(context.Background(), m, "")

	if len(ingestor.seen) != 0 || len(replier.lines) != 0 {
		t.Errorf("captured reply leaked: pipeline %v, replies %v", ingestor.seen, replier.lines)
	}
	got, err := conv.Next(context.Background(), time.Second)
	if err != nil || got != m {
		t.Errorf("conversation should hold the reply, got %v / %v", got, err)
	}
}

func TestRoute_OwnMessagesSkipCommands(t *testing.T) {
	ingestor := &recordingIngestor{}
	r, replier := newRouter(ingestor, manual.NewConversations())

	m := message("/ping")
	m.ChannelID = "news"
	m.Author.ID = "bot"
	r.Route(context.Background(), m, "")

	if len(ingestor.seen) != 1 {
		t.Errorf("the pipeline does its own loop check, got %v", ingestor.seen)
	}
	if len(replier.lines) != 0 {
		t.Errorf("own messages must not trigger commands, got %v", replier.lines)
	}
}
