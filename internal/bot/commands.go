package bot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/newsrelay/newsrelay/internal/logging"
	"github.com/newsrelay/newsrelay/internal/manual"
)

const noticeNoPermission = "⛔ You need the Manage Messages permission to submit news."

// ManualRunner starts a submission dialog.
type ManualRunner interface {
	Run(ctx context.Context, req manual.Request) (manual.State, error)
}

// PermissionFunc returns the permission bits a user holds in a channel.
type PermissionFunc func(userID, channelID string) (int64, error)

// Commands dispatches prefixed text commands.
type Commands struct {
	prefix   string
	manual   ManualRunner
	replier  manual.Prompter
	perms    PermissionFunc
	uptime   func() time.Duration
	logger   *logging.Logger
	handlers map[string]func(ctx context.Context, m *discordgo.Message)
}

// NewCommands creates the command table for prefix.
func NewCommands(prefix string, runner ManualRunner, replier manual.Prompter, perms PermissionFunc, logger *logging.Logger) *Commands {
	c := &Commands{
		prefix:  prefix,
		manual:  runner,
		replier: replier,
		perms:   perms,
		uptime:  func() time.Duration { return 0 },
		logger:  logger,
	}
	c.handlers = map[string]func(ctx context.Context, m *discordgo.Message){
		"ping": c.handlePing,
		"news": c.handleNews,
	}
	return c
}

// SetUptime sets the uptime source shown by ping.
func (c *Commands) SetUptime(f func() time.Duration) {
	c.uptime = f
}

// Parse returns the command name in content, or "" when content is not a
// command.
func (c *Commands) Parse(content string) string {
	content = strings.TrimSpace(content)
	if !strings.HasPrefix(content, c.prefix) {
		return ""
	}
	fields := strings.Fields(strings.TrimPrefix(content, c.prefix))
	if len(fields) == 0 {
		return ""
	}
	return strings.ToLower(fields[0])
}

// Dispatch runs the command in m, if any. It reports whether a known command
// was handled. Long-running commands block until they finish.
func (c *Commands) Dispatch(ctx context.Context, m *discordgo.Message) bool {
	if m.Author == nil || m.Author.Bot {
		return false
	}
	handler, ok := c.handlers[c.Parse(m.Content)]
	if !ok {
		return false
	}
	handler(ctx, m)
	return true
}

func (c *Commands) handlePing(ctx context.Context, m *discordgo.Message) {
	c.reply(ctx, m.ChannelID, fmt.Sprintf("🏓 Pong! Uptime: %s", c.uptime().Round(time.Second)))
}

func (c *Commands) handleNews(ctx context.Context, m *discordgo.Message) {
	if !c.allowed(m) {
		c.reply(ctx, m.ChannelID, noticeNoPermission)
		return
	}

	state, err := c.manual.Run(ctx, manual.Request{
		ChannelID:   m.ChannelID,
		AuthorID:    m.Author.ID,
		DisplayName: displayName(m),
	})
	if err != nil {
		c.logger.Info("[manual] dialog for %s ended in %s: %v", m.Author.ID, state, err)
	}
}

func (c *Commands) allowed(m *discordgo.Message) bool {
	if c.perms == nil {
		return false
	}
	bits, err := c.perms(m.Author.ID, m.ChannelID)
	if err != nil {
		c.logger.Warning("Failed to check permissions for %s: %v", m.Author.ID, err)
		return false
	}
	return bits&discordgo.PermissionManageMessages != 0 || bits&discordgo.PermissionAdministrator != 0
}

func (c *Commands) reply(ctx context.Context, channelID, text string) {
	if err := c.replier.Say(ctx, channelID, text); err != nil {
		c.logger.Warning("Failed to reply in %s: %v", channelID, err)
	}
}

func displayName(m *discordgo.Message) string {
	if m.Member != nil && m.Member.Nick != "" {
		return m.Member.Nick
	}
	return m.Author.Username
}
