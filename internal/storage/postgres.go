package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"vrcverify/internal/domain"
	"vrcverify/pkg/platform/sentinel"
)

//go:embed schema.sql
var schema string

const uniqueViolation = "23505"

// querier is the subset of database/sql shared by *sql.DB and *sql.Tx, so
// the same statements serve plain calls and transactional scopes.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Postgres implements Store and Tx on a lib/pq connection pool.
type Postgres struct {
	db *sql.DB
	q  querier
}

// Open connects, verifies the connection and applies the schema.
func Open(ctx context.Context, url string) (*Postgres, error) {
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Postgres{db: db, q: db}, nil
}

func (p *Postgres) Close() error { return p.db.Close() }

func (p *Postgres) Users() UserStore       { return (*pgUsers)(p) }
func (p *Postgres) Pendings() PendingStore { return (*pgPendings)(p) }
func (p *Postgres) Guilds() GuildStore     { return (*pgGuilds)(p) }

// RunInTx runs fn against a store bound to a single transaction.
func (p *Postgres) RunInTx(ctx context.Context, fn func(Store) error) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	bound := &Postgres{db: p.db, q: tx}
	if err := fn(bound); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

type pgUsers Postgres

func (s *pgUsers) FindByDiscordID(ctx context.Context, discordID string) (*domain.UserRecord, error) {
	return s.findUser(ctx, `SELECT discord_id, vrc_user_id, verified, last_attempt_at
		FROM users WHERE discord_id = $1`, discordID)
}

func (s *pgUsers) FindByVRChatID(ctx context.Context, vrchatID string) (*domain.UserRecord, error) {
	// FOR UPDATE so the duplicate-claim check inside RunInTx serializes two
	// concurrent claims on the same external id.
	return s.findUser(ctx, `SELECT discord_id, vrc_user_id, verified, last_attempt_at
		FROM users WHERE vrc_user_id = $1 FOR UPDATE`, vrchatID)
}

func (s *pgUsers) findUser(ctx context.Context, query, arg string) (*domain.UserRecord, error) {
	var (
		rec     domain.UserRecord
		vrcID   sql.NullString
		attempt sql.NullTime
	)
	err := s.q.QueryRowContext(ctx, query, arg).Scan(&rec.DiscordID, &vrcID, &rec.Verified, &attempt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user record: %w", sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	rec.VRChatID = vrcID.String
	rec.LastAttemptAt = attempt.Time
	return &rec, nil
}

func (s *pgUsers) Upsert(ctx context.Context, record *domain.UserRecord) error {
	var vrcID any
	if record.VRChatID != "" {
		vrcID = record.VRChatID
	}
	_, err := s.q.ExecContext(ctx, `INSERT INTO users (discord_id, vrc_user_id, verified, last_attempt_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (discord_id) DO UPDATE
		SET vrc_user_id = EXCLUDED.vrc_user_id,
		    verified = EXCLUDED.verified,
		    last_attempt_at = EXCLUDED.last_attempt_at`,
		record.DiscordID, vrcID, record.Verified, record.LastAttemptAt)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return fmt.Errorf("vrchat id already bound: %w", sentinel.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

type pgPendings Postgres

func (s *pgPendings) Put(ctx context.Context, pending *domain.PendingVerification) error {
	// delete-then-insert keeps at most one live challenge per pair
	if err := s.Delete(ctx, pending.DiscordID, pending.GuildID); err != nil {
		return err
	}
	_, err := s.q.ExecContext(ctx, `INSERT INTO pending_verifications
		(discord_id, guild_id, vrc_user_id, code, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		pending.DiscordID, pending.GuildID, pending.VRChatID, pending.Code,
		pending.CreatedAt, pending.ExpiresAt)
	if err != nil {
		return fmt.Errorf("insert pending: %w", err)
	}
	return nil
}

func (s *pgPendings) Get(ctx context.Context, discordID, guildID string) (*domain.PendingVerification, error) {
	return s.find(ctx, `SELECT discord_id, guild_id, vrc_user_id, code, created_at, expires_at
		FROM pending_verifications WHERE discord_id = $1 AND guild_id = $2`, discordID, guildID)
}

func (s *pgPendings) GetByCode(ctx context.Context, discordID, guildID, code string) (*domain.PendingVerification, error) {
	return s.find(ctx, `SELECT discord_id, guild_id, vrc_user_id, code, created_at, expires_at
		FROM pending_verifications WHERE discord_id = $1 AND guild_id = $2 AND code = $3`,
		discordID, guildID, code)
}

func (s *pgPendings) find(ctx context.Context, query string, args ...any) (*domain.PendingVerification, error) {
	var p domain.PendingVerification
	err := s.q.QueryRowContext(ctx, query, args...).Scan(
		&p.DiscordID, &p.GuildID, &p.VRChatID, &p.Code, &p.CreatedAt, &p.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("pending verification: %w", sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find pending: %w", err)
	}
	return &p, nil
}

func (s *pgPendings) Delete(ctx context.Context, discordID, guildID string) error {
	_, err := s.q.ExecContext(ctx,
		`DELETE FROM pending_verifications WHERE discord_id = $1 AND guild_id = $2`,
		discordID, guildID)
	if err != nil {
		return fmt.Errorf("delete pending: %w", err)
	}
	return nil
}

type pgGuilds Postgres

func (s *pgGuilds) Find(ctx context.Context, guildID string) (*domain.GuildConfig, error) {
	var (
		g       domain.GuildConfig
		started sql.NullTime
		renewal sql.NullTime
	)
	err := s.q.QueryRowContext(ctx, `SELECT guild_id, owner_id, verified_role_id, unverified_role_id,
			nickname_sync, auto_verify_on_join, locale,
			subscription_active, subscription_started_at, email, last_renewal_at
		FROM guild_configs WHERE guild_id = $1`, guildID).Scan(
		&g.GuildID, &g.OwnerID, &g.VerifiedRoleID, &g.UnverifiedRoleID,
		&g.NicknameSync, &g.AutoVerifyOnJoin, &g.Locale,
		&g.SubscriptionActive, &started, &g.Email, &renewal)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("guild config: %w", sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find guild config: %w", err)
	}
	if started.Valid {
		g.SubscriptionStartedAt = &started.Time
	}
	if renewal.Valid {
		g.LastRenewalAt = &renewal.Time
	}
	return &g, nil
}

func (s *pgGuilds) Upsert(ctx context.Context, cfg *domain.GuildConfig) error {
	_, err := s.q.ExecContext(ctx, `INSERT INTO guild_configs
		(guild_id, owner_id, verified_role_id, unverified_role_id, nickname_sync,
		 auto_verify_on_join, locale, subscription_active, subscription_started_at,
		 email, last_renewal_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (guild_id) DO UPDATE
		SET owner_id = EXCLUDED.owner_id,
		    verified_role_id = EXCLUDED.verified_role_id,
		    unverified_role_id = EXCLUDED.unverified_role_id,
		    nickname_sync = EXCLUDED.nickname_sync,
		    auto_verify_on_join = EXCLUDED.auto_verify_on_join,
		    locale = EXCLUDED.locale,
		    subscription_active = EXCLUDED.subscription_active,
		    subscription_started_at = EXCLUDED.subscription_started_at,
		    email = EXCLUDED.email,
		    last_renewal_at = EXCLUDED.last_renewal_at`,
		cfg.GuildID, cfg.OwnerID, cfg.VerifiedRoleID, cfg.UnverifiedRoleID,
		cfg.NicknameSync, cfg.AutoVerifyOnJoin, cfg.Locale,
		cfg.SubscriptionActive, cfg.SubscriptionStartedAt, cfg.Email, cfg.LastRenewalAt)
	if err != nil {
		return fmt.Errorf("upsert guild config: %w", err)
	}
	return nil
}
