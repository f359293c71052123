package bot

import (
	"context"

	"github.com/bwmarrin/discordgo"

	"github.com/newsrelay/newsrelay/internal/logging"
)

// ChannelAuditor posts audit lines to a log channel. Failures are logged and
// never reach the caller.
type ChannelAuditor struct {
	Session   *discordgo.Session
	ChannelID string
	Logger    *logging.Logger
}

// Audit implements chat.Auditor and manual.Auditor.
func (a *ChannelAuditor) Audit(_ context.Context, line string) {
	if a.ChannelID == "" {
		return
	}
	if _, err := a.Session.ChannelMessageSend(a.ChannelID, line); err != nil {
		a.Logger.Warning("Failed to send audit log: %v", err)
	}
}
