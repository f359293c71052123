package manual

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/newsrelay/newsrelay/internal/images"
	"github.com/newsrelay/newsrelay/internal/logging"
	"github.com/newsrelay/newsrelay/internal/news"
)

// State is a step of the submission dialog.
type State int

const (
	AwaitTitle State = iota
	AwaitBody
	AwaitSourceLink
	AwaitImage
	Publish
	Aborted
	Done
)

func (s State) String() string {
	switch s {
	case AwaitTitle:
		return "await_title"
	case AwaitBody:
		return "await_body"
	case AwaitSourceLink:
		return "await_source_link"
	case AwaitImage:
		return "await_image"
	case Publish:
		return "publish"
	case Aborted:
		return "aborted"
	case Done:
		return "done"
	default:
		return "unknown"
	}
}

// Operator-facing messages.
const (
	promptTitle     = "✏️ Enter the news title (or '%s' to abort):"
	promptBody      = "📝 Enter the news text (or '%s' to abort):"
	promptLink      = "🔗 Enter the source link, or '%s' if there is none:"
	promptImage     = "🖼 Enter an image URL or attach an image, or '%s' if there is none:"
	noticeEmpty     = "The title must not be empty, try again:"
	noticeBadURL    = "That is not a valid http(s) link, try again:"
	noticeCancelled = "Cancelled."
	noticeTimeout   = "⏳ Timed out waiting for your reply. Please start again."
	noticeBusy      = "You already have a submission in progress here."
	noticeSent      = "✅ News published."
	noticeFailed    = "❌ Could not publish the news: %v"
)

// Prompter talks to the operator.
type Prompter interface {
	Say(ctx context.Context, channelID, text string) error
}

// Publisher delivers the finished item.
type Publisher interface {
	Publish(ctx context.Context, channelID string, item *news.Item, key string) error
}

// Auditor mirrors manual publications to an operator channel.
type Auditor interface {
	Audit(ctx context.Context, line string)
}

// Config configures a Workflow.
type Config struct {
	TargetChannelID string
	ShortTimeout    time.Duration
	BodyTimeout     time.Duration
	CancelTokens    []string
	SkipToken       string
}

// DefaultConfig returns the stock timeouts and tokens.
func DefaultConfig(target string) Config {
	return Config{
		TargetChannelID: target,
		ShortTimeout:    120 * time.Second,
		BodyTimeout:     600 * time.Second,
		CancelTokens:    []string{"отмена", "cancel"},
		SkipToken:       "-",
	}
}

// Request identifies the operator who started the dialog.
type Request struct {
	ChannelID   string
	AuthorID    string
	DisplayName string
}

// Workflow runs submission dialogs.
type Workflow struct {
	cfg      Config
	hub      *Conversations
	prompter Prompter
	pub      Publisher
	clock    *news.Clock
	logger   *logging.Logger
	auditor  Auditor
}

// NewWorkflow creates a workflow routing replies through hub.
func NewWorkflow(cfg Config, hub *Conversations, prompter Prompter, pub Publisher, clock *news.Clock, logger *logging.Logger) *Workflow {
	def := DefaultConfig(cfg.TargetChannelID)
	if cfg.ShortTimeout <= 0 {
		cfg.ShortTimeout = def.ShortTimeout
	}
	if cfg.BodyTimeout <= 0 {
		cfg.BodyTimeout = def.BodyTimeout
	}
	if len(cfg.CancelTokens) == 0 {
		cfg.CancelTokens = def.CancelTokens
	}
	if cfg.SkipToken == "" {
		cfg.SkipToken = def.SkipToken
	}
	return &Workflow{
		cfg:      cfg,
		hub:      hub,
		prompter: prompter,
		pub:      pub,
		clock:    clock,
		logger:   logger,
	}
}

// SetAuditor enables the audit mirror.
func (w *Workflow) SetAuditor(a Auditor) {
	w.auditor = a
}

type draft struct {
	title, body, link, image string
}

// Run walks the operator through title, body, source link and image, then
// publishes the card. Operator content skips filtering and rewriting and is
// never recorded as a dedup key. It returns the final state; an aborted
// dialog also returns an aborted error.
func (w *Workflow) Run(ctx context.Context, req Request) (State, error) {
	conv, err := w.hub.Begin(req.ChannelID, req.AuthorID)
	if err != nil {
		w.say(ctx, req.ChannelID, noticeBusy)
		return Aborted, news.Errorf(news.KindAborted, "manual submission", err)
	}
	defer conv.End()

	var d draft
	state := AwaitTitle
	for state != Publish {
		next, err := w.step(ctx, conv, req, state, &d)
		if err != nil {
			w.logger.Info("[manual] submission by %s aborted at %s: %v", req.AuthorID, state, err)
			return Aborted, news.Errorf(news.KindAborted, "manual submission", err)
		}
		state = next
	}

	item := w.clock.NewItem(news.OriginManual, d.title, d.body, req.DisplayName)
	item.Link = d.link
	item.ImageURL = d.image

	if err := w.pub.Publish(ctx, w.cfg.TargetChannelID, item, ""); err != nil {
		w.logger.Error("[manual] %v", err)
		w.say(ctx, req.ChannelID, fmt.Sprintf(noticeFailed, err))
		return Publish, err
	}

	w.say(ctx, req.ChannelID, noticeSent)
	w.logger.Info("[manual] %s published %q", req.DisplayName, item.Title)
	if w.auditor != nil {
		w.auditor.Audit(ctx, fmt.Sprintf("[manual] %s published %q", req.DisplayName, item.Title))
	}
	return Done, nil
}

func (w *Workflow) step(ctx context.Context, conv *Conversation, req Request, state State, d *draft) (State, error) {
	cancel := w.cfg.CancelTokens[0]
	switch state {
	case AwaitTitle:
		m, err := w.ask(ctx, conv, req.ChannelID, fmt.Sprintf(promptTitle, cancel), w.cfg.ShortTimeout)
		if err != nil {
			return Aborted, err
		}
		if d.title = strings.TrimSpace(m.Content); d.title == "" {
			w.say(ctx, req.ChannelID, noticeEmpty)
			return AwaitTitle, nil
		}
		return AwaitBody, nil

	case AwaitBody:
		m, err := w.ask(ctx, conv, req.ChannelID, fmt.Sprintf(promptBody, cancel), w.cfg.BodyTimeout)
		if err != nil {
			return Aborted, err
		}
		d.body = strings.TrimSpace(m.Content)
		return AwaitSourceLink, nil

	case AwaitSourceLink:
		m, err := w.ask(ctx, conv, req.ChannelID, fmt.Sprintf(promptLink, w.cfg.SkipToken), w.cfg.ShortTimeout)
		if err != nil {
			return Aborted, err
		}
		link, ok := w.optionalURL(m.Content)
		if !ok {
			w.say(ctx, req.ChannelID, noticeBadURL)
			return AwaitSourceLink, nil
		}
		d.link = link
		return AwaitImage, nil

	case AwaitImage:
		m, err := w.ask(ctx, conv, req.ChannelID, fmt.Sprintf(promptImage, w.cfg.SkipToken), w.cfg.ShortTimeout)
		if err != nil {
			return Aborted, err
		}
		if attached := images.ResolveMessage(m); attached != "" && strings.TrimSpace(m.Content) == "" {
			d.image = attached
			return Publish, nil
		}
		img, ok := w.optionalURL(m.Content)
		if !ok {
			w.say(ctx, req.ChannelID, noticeBadURL)
			return AwaitImage, nil
		}
		d.image = img
		return Publish, nil
	}
	return Aborted, fmt.Errorf("unexpected state %s", state)
}

var errCancelled = errors.New("cancelled by operator")

// ask prompts and waits for a reply, handling cancellation and timeouts with
// a notice to the operator.
func (w *Workflow) ask(ctx context.Context, conv *Conversation, channelID, prompt string, timeout time.Duration) (*discordgo.Message, error) {
	w.say(ctx, channelID, prompt)

	m, err := conv.Next(ctx, timeout)
	if err != nil {
		if errors.Is(err, ErrTimeout) {
			w.say(ctx, channelID, noticeTimeout)
		}
		return nil, err
	}
	if w.isCancel(m.Content) {
		w.say(ctx, channelID, noticeCancelled)
		return nil, errCancelled
	}
	return m, nil
}

func (w *Workflow) isCancel(content string) bool {
	content = strings.TrimSpace(content)
	for _, token := range w.cfg.CancelTokens {
		if strings.EqualFold(content, token) {
			return true
		}
	}
	return false
}

// optionalURL accepts the skip token as "no value" and otherwise requires an
// absolute http(s) URL.
func (w *Workflow) optionalURL(content string) (string, bool) {
	content = strings.TrimSpace(content)
	if content == w.cfg.SkipToken {
		return "", true
	}
	u, err := url.ParseRequestURI(content)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", false
	}
	return content, true
}

func (w *Workflow) say(ctx context.Context, channelID, text string) {
	if err := w.prompter.Say(ctx, channelID, text); err != nil {
		w.logger.Warning("[manual] could not reply in %s: %v", channelID, err)
	}
}

// SessionPrompter replies through a discordgo session.
type SessionPrompter struct {
	Session *discordgo.Session
}

// Say implements Prompter.
func (p *SessionPrompter) Say(_ context.Context, channelID, text string) error {
	_, err := p.Session.ChannelMessageSend(channelID, text)
	return err
}
