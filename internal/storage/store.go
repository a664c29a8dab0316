package storage

import (
	"context"

	"vrcverify/internal/domain"
)

// Error Contract:
// All store methods follow this pattern:
// - Return sentinel.ErrNotFound (wrapped) when the requested entity does not exist
// - Return sentinel.ErrConflict (wrapped) when a uniqueness constraint fails
// - Return wrapped errors with context for infrastructure failures

// UserStore persists Discord-to-VRChat identity mappings.
type UserStore interface {
	FindByDiscordID(ctx context.Context, discordID string) (*domain.UserRecord, error)
	FindByVRChatID(ctx context.Context, vrchatID string) (*domain.UserRecord, error)
	Upsert(ctx context.Context, record *domain.UserRecord) error
}

// PendingStore persists in-flight code challenges. Put is delete-then-insert
// on (discordID, guildID) so the store never holds two live rows for a pair.
// Expiry is the caller's concern; rows are returned as stored.
type PendingStore interface {
	Put(ctx context.Context, pending *domain.PendingVerification) error
	Get(ctx context.Context, discordID, guildID string) (*domain.PendingVerification, error)
	GetByCode(ctx context.Context, discordID, guildID, code string) (*domain.PendingVerification, error)
	Delete(ctx context.Context, discordID, guildID string) error
}

// GuildStore persists per-guild settings.
type GuildStore interface {
	Find(ctx context.Context, guildID string) (*domain.GuildConfig, error)
	Upsert(ctx context.Context, cfg *domain.GuildConfig) error
}

// Store bundles the three key spaces behind one handle so transactional
// scopes can hand out a bound view.
type Store interface {
	Users() UserStore
	Pendings() PendingStore
	Guilds() GuildStore
}

// Tx runs fn against a Store bound to one transaction; fn returning an
// error rolls everything back. The duplicate-external-id check at claim
// commit relies on this scope for its isolation.
type Tx interface {
	RunInTx(ctx context.Context, fn func(Store) error) error
}
