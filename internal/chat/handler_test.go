package chat

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/newsrelay/newsrelay/internal/dedup"
	"github.com/newsrelay/newsrelay/internal/filter"
	"github.com/newsrelay/newsrelay/internal/logging"
	"github.com/newsrelay/newsrelay/internal/news"
	"github.com/newsrelay/newsrelay/internal/publisher"
	"github.com/newsrelay/newsrelay/internal/rewrite"
)

type rewriteFunc func(string) string

func (f rewriteFunc) Rewrite(_ context.Context, text string) string { return f(text) }

type fakeSender struct {
	mu     sync.Mutex
	err    error
	embeds []*discordgo.MessageEmbed
}

func (f *fakeSender) SendEmbed(_ context.Context, _ string, embed *discordgo.MessageEmbed) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.embeds = append(f.embeds, embed)
	return nil
}

type auditLog struct{ lines []string }

func (a *auditLog) Audit(_ context.Context, line string) { a.lines = append(a.lines, line) }

type fixture struct {
	handler *Handler
	sender  *fakeSender
	store   *dedup.Store
	audit   *auditLog
}

func testLogger() *logging.Logger {
	return logging.NewWriter(io.Discard, logging.LevelDebug)
}

func newFixture(t *testing.T, rw Rewriter) *fixture {
	t.Helper()
	store := dedup.Load(filepath.Join(t.TempDir(), "keys.json"), testLogger())
	sender := &fakeSender{}
	pub := publisher.New(sender, store, &news.Formatter{ZoneLabel: "MSK", FooterNote: "Send us your news"}, testLogger())
	f := filter.New(filter.Rules{BannedTerms: []string{"casino"}})

	h := NewHandler(Config{SourceChannelID: "news-in", TargetChannelID: "news-out"}, f, rw, pub,
		news.NewClock(time.UTC), testLogger())
	h.SetSelfID("bot-id")
	a := &auditLog{}
	h.SetAuditor(a)
	return &fixture{handler: h, sender: sender, store: store, audit: a}
}

func message(id, content string) *discordgo.Message {
	return &discordgo.Message{
		ID:        id,
		ChannelID: "news-in",
		Content:   content,
		Author:    &discordgo.User{ID: "user-1", Username: "City Desk"},
	}
}

func TestHandle_Publishes(t *testing.T) {
	fx := newFixture(t, rewriteFunc(func(s string) string {
		return "Bridge closed\nThe main bridge is closed for repairs until Friday."
	}))

	msg := message("m1", "@everyone main bridge closed for repairs till friday!!")
	msg.Attachments = []*discordgo.MessageAttachment{{URL: "https://cdn/bridge.jpg", Filename: "bridge.jpg"}}

	if got := fx.handler.Handle(context.Background(), msg, "Guild"); got != Published {
		t.Fatalf("expected published, got %v", got)
	}

	e := fx.sender.embeds[0]
	if e.Title != "📰 Bridge closed" || e.Description != "The main bridge is closed for repairs until Friday." {
		t.Errorf("unexpected card %q / %q", e.Title, e.Description)
	}
	if e.Image == nil || e.Image.URL != "https://cdn/bridge.jpg" {
		t.Error("attachment image not used")
	}
	if !strings.HasPrefix(e.Footer.Text, "Source: City Desk • UTC ") {
		t.Errorf("unexpected footer %q", e.Footer.Text)
	}
	if e.Color != news.ColorChat {
		t.Errorf("unexpected color %x", e.Color)
	}
	if !fx.store.Contains(news.ChatKey("Bridge closed\nThe main bridge is closed for repairs until Friday.")) {
		t.Error("chat key should be committed")
	}
	if len(fx.audit.lines) != 1 || !strings.Contains(fx.audit.lines[0], "posted") {
		t.Errorf("unexpected audit %v", fx.audit.lines)
	}
}

func TestHandle_SameRewriteDeliveredOnce(t *testing.T) {
	fx := newFixture(t, rewriteFunc(func(string) string {
		return "Power outage downtown\nCrews expect to restore power by noon."
	}))

	first := fx.handler.Handle(context.Background(), message("m1", "power is out downtown, fixing by noon"), "")
	second := fx.handler.Handle(context.Background(), message("m2", "Downtown has no power; repair crews say noon"), "")

	if first != Published || second != Duplicate {
		t.Errorf("expected published then duplicate, got %v then %v", first, second)
	}
	if len(fx.sender.embeds) != 1 {
		t.Errorf("expected one delivery, got %d", len(fx.sender.embeds))
	}
}

func TestHandle_Rejections(t *testing.T) {
	calls := 0
	fx := newFixture(t, rewriteFunc(func(s string) string {
		calls++
		return s
	}))

	for _, text := range []string{"ok", "", "Big casino night tonight everyone"} {
		if got := fx.handler.Handle(context.Background(), message("m", text), ""); got != Rejected {
			t.Errorf("%q: expected rejected, got %v", text, got)
		}
	}
	if calls != 0 {
		t.Errorf("rejected texts must not reach the rewriter, got %d calls", calls)
	}
	if len(fx.sender.embeds) != 0 {
		t.Error("nothing should be published")
	}
}

func TestHandle_DegenerateRewriteDropped(t *testing.T) {
	fx := newFixture(t, rewriteFunc(func(string) string {
		return "Sorry, there is not enough information to rewrite this text."
	}))

	got := fx.handler.Handle(context.Background(), message("m1", "Council meets tomorrow to vote on budget"), "")
	if got != Rejected {
		t.Errorf("expected rejected after rewrite, got %v", got)
	}
	if len(fx.sender.embeds) != 0 || fx.store.Len() != 0 {
		t.Error("degenerate rewrite must not be published")
	}
}

func TestHandle_RewriteOutagePublishesOriginal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream unavailable", http.StatusBadGateway)
	}))
	defer srv.Close()

	gw := rewrite.New(rewrite.Config{BaseURL: srv.URL, APIKey: "k", Timeout: time.Second}, testLogger())
	fx := newFixture(t, gw)

	original := "Council meets tomorrow\nThe vote on the budget is scheduled for 10:00."
	if got := fx.handler.Handle(context.Background(), message("m1", original), ""); got != Published {
		t.Fatalf("expected published, got %v", got)
	}
	e := fx.sender.embeds[0]
	if e.Title != "📰 Council meets tomorrow" || e.Description != "The vote on the budget is scheduled for 10:00." {
		t.Errorf("original text should be published unmodified, got %q / %q", e.Title, e.Description)
	}
}

func TestHandle_IgnoresSelfAndOtherChannels(t *testing.T) {
	calls := 0
	fx := newFixture(t, rewriteFunc(func(s string) string { calls++; return s }))

	own := message("m1", "Bridge closed for repairs until Friday")
	own.Author = &discordgo.User{ID: "bot-id", Username: "relay"}
	if got := fx.handler.Handle(context.Background(), own, ""); got != Ignored {
		t.Errorf("own message should be ignored, got %v", got)
	}

	elsewhere := message("m2", "Bridge closed for repairs until Friday")
	elsewhere.ChannelID = "general"
	if got := fx.handler.Handle(context.Background(), elsewhere, ""); got != Ignored {
		t.Errorf("other channel should be ignored, got %v", got)
	}

	webhook := message("m3", "Bridge closed for repairs until Friday")
	webhook.Author = &discordgo.User{ID: "hook", Username: "Partner News", Bot: true}
	if got := fx.handler.Handle(context.Background(), webhook, ""); got != Published {
		t.Errorf("messages from other bots should be processed, got %v", got)
	}
	if calls != 1 {
		t.Errorf("expected one rewrite call, got %d", calls)
	}
}

func TestHandle_DeliveryFailure(t *testing.T) {
	fx := newFixture(t, rewriteFunc(func(s string) string { return s }))
	fx.sender.err = errors.New("missing access")

	if got := fx.handler.Handle(context.Background(), message("m1", "Bridge closed for repairs until Friday"), ""); got != Failed {
		t.Errorf("expected failed, got %v", got)
	}
	if fx.store.Len() != 0 {
		t.Error("failed delivery must not commit the key")
	}
}

func TestExtractText(t *testing.T) {
	m := &discordgo.Message{
		Content: "  Breaking  ",
		Embeds: []*discordgo.MessageEmbed{{
			Title:       "Embed title",
			Description: "Embed body",
			Fields:      []*discordgo.MessageEmbedField{{Name: "Where", Value: "Main St"}},
		}},
	}
	want := "Breaking\n\nEmbed title\n\nEmbed body\n\nWhere: Main St"
	if got := ExtractText(m); got != want {
		t.Errorf("ExtractText() = %q, want %q", got, want)
	}
	if got := ExtractText(&discordgo.Message{}); got != "" {
		t.Errorf("expected empty text, got %q", got)
	}
}

func TestSourceLabel(t *testing.T) {
	tests := []struct {
		name  string
		msg   *discordgo.Message
		guild string
		want  string
	}{
		{"nick", &discordgo.Message{Member: &discordgo.Member{Nick: "Desk"}, Author: &discordgo.User{Username: "user"}}, "G", "Desk"},
		{"username", &discordgo.Message{Author: &discordgo.User{Username: "Wire#0001"}}, "G", "Wire"},
		{"guild", &discordgo.Message{Author: &discordgo.User{}}, "Local News", "Local News"},
		{"placeholder", &discordgo.Message{}, "", "Unknown source"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SourceLabel(tt.msg, tt.guild, DefaultSourcePlaceholder); got != tt.want {
				t.Errorf("SourceLabel() = %q, want %q", got, tt.want)
			}
		})
	}
}
