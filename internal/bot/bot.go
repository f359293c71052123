// Package bot connects the chat transport to the relay pipeline.
package bot

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/robfig/cron/v3"

	"github.com/newsrelay/newsrelay/internal/chat"
	"github.com/newsrelay/newsrelay/internal/config"
	"github.com/newsrelay/newsrelay/internal/dedup"
	"github.com/newsrelay/newsrelay/internal/feeds"
	"github.com/newsrelay/newsrelay/internal/filter"
	"github.com/newsrelay/newsrelay/internal/images"
	"github.com/newsrelay/newsrelay/internal/logging"
	"github.com/newsrelay/newsrelay/internal/manual"
	"github.com/newsrelay/newsrelay/internal/news"
	"github.com/newsrelay/newsrelay/internal/publisher"
	"github.com/newsrelay/newsrelay/internal/rewrite"
	"github.com/newsrelay/newsrelay/internal/status"
)

// Bot represents the running relay
type Bot struct {
	session  *discordgo.Session
	cfg      *config.Config
	logger   *logging.Logger
	store    *dedup.Store
	poller   *feeds.Poller
	chat     *chat.Handler
	convs    *manual.Conversations
	commands *Commands
	router   *Router
	cron     *cron.Cron
	status   *status.Server

	ready     atomic.Bool
	selfID    atomic.Value
	firstPoll sync.Once
	startTime time.Time

	ctx      context.Context
	cancel   context.CancelFunc
	inflight sync.WaitGroup
}

// New builds the pipeline context: store, publisher, ingestion paths,
// scheduler and status server. Nothing connects until Start.
func New(cfg *config.Config, logger *logging.Logger) (*Bot, error) {
	session, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Discord session: %v", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsMessageContent

	loc, err := cfg.Location()
	if err != nil {
		return nil, fmt.Errorf("invalid timezone: %v", err)
	}
	clock := news.NewClock(loc)

	store := dedup.Load(cfg.DedupFile, logger)
	formatter := &news.Formatter{ZoneLabel: cfg.TimezoneLabel, FooterNote: cfg.FooterNote}
	pub := publisher.New(&publisher.SessionSender{Session: session}, store, formatter, logger)

	resolver := images.NewResolver(cfg.ImageFetchTimeout, cfg.UserAgent, logger)
	poller := feeds.NewPoller(feeds.Config{
		Sources:      cfg.Feeds,
		ChannelID:    cfg.AutoNewsChannelID,
		MaxEntries:   cfg.MaxEntriesPerFeed,
		PublishDelay: cfg.PublishDelay,
		FeedTimeout:  cfg.FeedTimeout,
		UserAgent:    cfg.UserAgent,
	}, pub, resolver, clock, logger)

	gateway := rewrite.New(rewrite.Config{
		BaseURL:     cfg.RewriteURL,
		APIKey:      cfg.RewriteAPIKey,
		Model:       cfg.RewriteModel,
		Temperature: float32(cfg.RewriteTemperature),
		Timeout:     cfg.RewriteTimeout,
	}, logger)

	chatHandler := chat.NewHandler(chat.Config{
		SourceChannelID:   cfg.NewsChannelID,
		TargetChannelID:   cfg.TargetChannelID,
		SourcePlaceholder: cfg.SourcePlaceholder,
		TitlePlaceholder:  cfg.TitlePlaceholder,
	}, filter.New(cfg.Filter), gateway, pub, clock, logger)

	convs := manual.NewConversations()
	prompter := &manual.SessionPrompter{Session: session}
	mcfg := manual.DefaultConfig(cfg.TargetChannelID)
	mcfg.CancelTokens = cfg.CancelTokens
	workflow := manual.NewWorkflow(mcfg, convs, prompter, pub, clock, logger)

	if cfg.LogChannelID != "" {
		auditor := &ChannelAuditor{Session: session, ChannelID: cfg.LogChannelID, Logger: logger}
		chatHandler.SetAuditor(auditor)
		workflow.SetAuditor(auditor)
	}

	ctx, cancel := context.WithCancel(context.Background())
	b := &Bot{
		session:   session,
		cfg:       cfg,
		logger:    logger,
		store:     store,
		poller:    poller,
		chat:      chatHandler,
		convs:     convs,
		startTime: time.Now(),
		ctx:       ctx,
		cancel:    cancel,
	}

	b.commands = NewCommands(cfg.CommandPrefix, workflow, prompter, b.permissions, logger)
	b.commands.SetUptime(func() time.Duration { return time.Since(b.startTime) })
	b.router = &Router{
		Replies:       convs,
		Chat:          chatHandler,
		Commands:      b.commands,
		NewsChannelID: cfg.NewsChannelID,
		SelfID:        b.self,
	}

	cronLogger := cron.PrintfLogger(logger)
	b.cron = cron.New(
		cron.WithLogger(cronLogger),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	)
	poller.SetReadyCheck(b.ready.Load)
	if _, err := poller.Schedule(ctx, b.cron, cfg.PollInterval); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to schedule feed polling: %v", err)
	}

	b.status = status.NewServer(status.ProviderFunc(b.snapshot), logger)
	pub.AddObserver(b.status)

	return b, nil
}

// Start opens the transport, the scheduler and the status server.
func (b *Bot) Start() error {
	b.logger.Info("Starting news relay with %d feeds", len(b.cfg.Feeds))

	b.session.AddHandler(b.handleReady)
	b.session.AddHandler(b.handleMessageCreate)

	if b.cfg.HTTPAddr != "" {
		b.status.Start(b.cfg.HTTPAddr)
	}

	if err := b.session.Open(); err != nil {
		return fmt.Errorf("failed to open Discord connection: %v", err)
	}

	b.cron.Start()
	return nil
}

// Stop shuts down in reverse order and makes a final flush attempt of the
// dedup store.
func (b *Bot) Stop(ctx context.Context) {
	b.logger.Info("Stopping bot...")
	b.ready.Store(false)

	cronDone := b.cron.Stop()
	b.cancel()
	select {
	case <-cronDone.Done():
	case <-ctx.Done():
		b.logger.Warning("Timed out waiting for the running poll cycle")
	}

	if err := b.session.Close(); err != nil {
		b.logger.Error("Failed to close Discord connection: %v", err)
	}

	waitDone := make(chan struct{})
	go func() {
		b.inflight.Wait()
		close(waitDone)
	}()
	select {
	case <-waitDone:
	case <-ctx.Done():
		b.logger.Warning("Timed out waiting for message handlers")
	}

	if err := b.status.Shutdown(ctx); err != nil {
		b.logger.Error("Failed to stop status server: %v", err)
	}
	if err := b.store.Flush(); err != nil {
		b.logger.Error("Final dedup flush failed: %v", err)
	}
}

func (b *Bot) handleReady(s *discordgo.Session, r *discordgo.Ready) {
	defer RecoverFromPanic(b.logger, "ready handler")

	b.logger.Info("Bot is ready! Logged in as %s (id=%s)", r.User.Username, r.User.ID)
	b.chat.SetSelfID(r.User.ID)
	b.selfID.Store(r.User.ID)
	b.ready.Store(true)

	// First cycle right away, then on the schedule.
	b.firstPoll.Do(func() {
		go func() {
			defer RecoverFromPanic(b.logger, "initial poll")
			b.poller.Run(b.ctx)
		}()
	})
}

func (b *Bot) handleMessageCreate(_ *discordgo.Session, m *discordgo.MessageCreate) {
	defer RecoverFromPanic(b.logger, "message handler")
	if m.Author == nil || b.ctx.Err() != nil {
		return
	}

	b.inflight.Add(1)
	defer b.inflight.Done()

	b.router.Route(b.ctx, m.Message, b.guildName(m.GuildID))
}

func (b *Bot) self() string {
	id, _ := b.selfID.Load().(string)
	return id
}

func (b *Bot) guildName(guildID string) string {
	if guildID == "" || b.session.State == nil {
		return ""
	}
	g, err := b.session.State.Guild(guildID)
	if err != nil {
		return ""
	}
	return g.Name
}

func (b *Bot) permissions(userID, channelID string) (int64, error) {
	return b.session.UserChannelPermissions(userID, channelID)
}

func (b *Bot) snapshot() status.Snapshot {
	snap := status.Snapshot{
		Ready:               b.ready.Load(),
		DedupKeys:           b.store.Len(),
		ActiveConversations: b.convs.Active(),
	}
	if last, _ := b.poller.LastPoll(); !last.IsZero() {
		snap.LastPoll = &last
	}
	return snap
}

// RecoverFromPanic logs a recovered panic with its stack. Use it deferred.
func RecoverFromPanic(logger *logging.Logger, component string) {
	if r := recover(); r != nil {
		stack := make([]byte, 4096)
		stack = stack[:runtime.Stack(stack, false)]
		logger.Error("Panic in %s: %v\n%s", component, r, strings.TrimSpace(string(stack)))
	}
}
