package domain

import "time"

// GuildConfig holds per-guild verification settings. The verification core
// only reads it; the admin surface and the payment webhook write it.
type GuildConfig struct {
	GuildID          string
	OwnerID          string
	VerifiedRoleID   string
	UnverifiedRoleID string // removed on successful verification when set
	NicknameSync     bool
	AutoVerifyOnJoin bool
	Locale           string

	// Subscription bookkeeping, written by the payment webhook.
	SubscriptionActive    bool
	SubscriptionStartedAt *time.Time
	Email                 string
	LastRenewalAt         *time.Time
}

// Configured reports whether verification can run in this guild.
func (g *GuildConfig) Configured() bool {
	return g != nil && g.VerifiedRoleID != ""
}
