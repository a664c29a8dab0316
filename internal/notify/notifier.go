// Package notify delivers localized DMs. Failures are logged and swallowed:
// a closed DM channel must never fail a verification flow.
package notify

import (
	"context"
	"errors"
	"log/slog"

	"vrcverify/internal/locales"
	"vrcverify/internal/storage"
	"vrcverify/pkg/platform/sentinel"
)

// DMSender sends a direct message; discord.Client satisfies it.
type DMSender interface {
	SendDM(ctx context.Context, userID, content string) error
}

// Notifier resolves the guild locale and DMs the user.
type Notifier struct {
	dm     DMSender
	guilds storage.GuildStore
	logger *slog.Logger
}

// New builds a Notifier.
func New(dm DMSender, guilds storage.GuildStore, logger *slog.Logger) *Notifier {
	return &Notifier{dm: dm, guilds: guilds, logger: logger}
}

// Send DMs the localized message for key to the user. Never returns an
// error; delivery problems are logged.
func (n *Notifier) Send(ctx context.Context, discordID, guildID string, key locales.Key) {
	locale := locales.DefaultLocale
	if g, err := n.guilds.Find(ctx, guildID); err == nil && g.Locale != "" {
		locale = g.Locale
	}

	err := n.dm.SendDM(ctx, discordID, locales.T(locale, key))
	switch {
	case err == nil:
	case errors.Is(err, sentinel.ErrForbidden):
		n.logger.Debug("user has DMs disabled", "discord_id", discordID)
	default:
		n.logger.Warn("dm delivery failed", "discord_id", discordID, "error", err)
	}
}
