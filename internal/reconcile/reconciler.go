// Package reconcile applies a verification result to guild membership:
// role add/remove, nickname sync and user notification.
package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"vrcverify/internal/discord"
	"vrcverify/internal/locales"
	"vrcverify/internal/storage"
	"vrcverify/pkg/platform/sentinel"
)

// MemberService resolves guild members; discord.MemberCache satisfies it.
// RefreshMember must bypass any caching.
type MemberService interface {
	Member(ctx context.Context, guildID, userID string) (*discord.Member, error)
	RefreshMember(ctx context.Context, guildID, userID string) (*discord.Member, error)
}

// RoleEditor mutates guild membership; discord.Client satisfies it.
type RoleEditor interface {
	AddRole(ctx context.Context, guildID, userID, roleID string) error
	RemoveRole(ctx context.Context, guildID, userID, roleID string) error
	EditNickname(ctx context.Context, guildID, userID, nick string) error
}

// Notifier DMs the affected user.
type Notifier interface {
	Send(ctx context.Context, discordID, guildID string, key locales.Key)
}

// Reconciler is the only component that touches guild membership. It reads
// guild settings and never writes the relational store.
type Reconciler struct {
	guilds       storage.GuildStore
	members      MemberService
	roles        RoleEditor
	notifier     Notifier
	logger       *slog.Logger
	recheckDelay time.Duration
	afterFunc    func(d time.Duration, fn func()) // injectable for tests
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithRecheckDelay overrides the delayed unverified-role re-check interval.
func WithRecheckDelay(d time.Duration) Option {
	return func(r *Reconciler) { r.recheckDelay = d }
}

// WithAfterFunc replaces the timer primitive, for tests.
func WithAfterFunc(fn func(time.Duration, func())) Option {
	return func(r *Reconciler) { r.afterFunc = fn }
}

// New builds a Reconciler with a 1s delayed re-check by default.
func New(guilds storage.GuildStore, members MemberService, roles RoleEditor, notifier Notifier, logger *slog.Logger, opts ...Option) *Reconciler {
	r := &Reconciler{
		guilds:       guilds,
		members:      members,
		roles:        roles,
		notifier:     notifier,
		logger:       logger,
		recheckDelay: time.Second,
		afterFunc:    func(d time.Duration, fn func()) { time.AfterFunc(d, fn) },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Apply grants or withholds the verified role for one (user, guild) pair.
// Membership races and permission problems degrade to logs and DMs; Apply
// only returns an error for infrastructure failures reading guild config.
func (r *Reconciler) Apply(ctx context.Context, discordID, guildID string, is18Plus bool, displayName string) error {
	cfg, err := r.guilds.Find(ctx, guildID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			r.logger.Warn("no guild config, skipping reconcile", "guild_id", guildID)
			return nil
		}
		return err
	}
	if !cfg.Configured() {
		r.logger.Warn("guild has no verified role", "guild_id", guildID)
		return nil
	}

	member, err := r.members.Member(ctx, guildID, discordID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			// the user left; nothing to reconcile
			return nil
		}
		r.logger.Error("member fetch failed", "guild_id", guildID, "discord_id", discordID, "error", err)
		return nil
	}

	if !is18Plus {
		r.notifier.Send(ctx, discordID, guildID, locales.Not18Plus)
		return nil
	}

	if err := r.roles.AddRole(ctx, guildID, discordID, cfg.VerifiedRoleID); err != nil {
		// permission failures are logged, never retried
		r.logger.Error("add verified role failed", "guild_id", guildID, "discord_id", discordID, "error", err)
	}

	if cfg.UnverifiedRoleID != "" && member.HasRole(cfg.UnverifiedRoleID) {
		r.removeUnverified(ctx, guildID, discordID, cfg.UnverifiedRoleID)
		// another actor may re-add the role concurrently; check once more
		// after a short delay
		unverifiedRole := cfg.UnverifiedRoleID
		r.afterFunc(r.recheckDelay, func() {
			r.recheckUnverified(guildID, discordID, unverifiedRole)
		})
	}

	if cfg.NicknameSync && displayName != "" && member.Nick != displayName {
		if err := r.roles.EditNickname(ctx, guildID, discordID, displayName); err != nil {
			if errors.Is(err, sentinel.ErrForbidden) {
				r.notifier.Send(ctx, discordID, guildID, locales.NicknameForbidden)
			} else {
				r.logger.Error("nickname sync failed", "guild_id", guildID, "discord_id", discordID, "error", err)
			}
		}
	}

	r.notifier.Send(ctx, discordID, guildID, locales.RoleAssigned)
	return nil
}

func (r *Reconciler) removeUnverified(ctx context.Context, guildID, discordID, roleID string) {
	if err := r.roles.RemoveRole(ctx, guildID, discordID, roleID); err != nil {
		r.logger.Error("remove unverified role failed", "guild_id", guildID, "discord_id", discordID, "error", err)
	}
}

// recheckUnverified re-fetches membership and strips the unverified role if
// a concurrent actor put it back after our removal.
func (r *Reconciler) recheckUnverified(guildID, discordID, roleID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	member, err := r.members.RefreshMember(ctx, guildID, discordID)
	if err != nil {
		if !errors.Is(err, sentinel.ErrNotFound) {
			r.logger.Warn("unverified role re-check fetch failed", "guild_id", guildID, "discord_id", discordID, "error", err)
		}
		return
	}
	if member.HasRole(roleID) {
		r.logger.Info("unverified role re-added concurrently, removing again",
			"guild_id", guildID, "discord_id", discordID)
		r.removeUnverified(ctx, guildID, discordID, roleID)
	}
}
