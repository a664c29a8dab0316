// Package verify drives the pending-verification lifecycle: code issuance,
// expiry, single-winner resolution under duplicate claims, and applying
// checker results exactly once per guild membership.
package verify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"vrcverify/internal/domain"
	"vrcverify/internal/locales"
	"vrcverify/internal/platform/metrics"
	"vrcverify/internal/storage"
	"vrcverify/pkg/platform/sentinel"
)

// Outcome reports which branch RequestVerification took.
type Outcome int

const (
	// OutcomeUnconfigured: the guild has no verified role set up.
	OutcomeUnconfigured Outcome = iota
	// OutcomeAlreadyVerified: roles were re-applied from the existing record.
	OutcomeAlreadyVerified
	// OutcomeRecheckStarted: a no-code recheck request was published.
	OutcomeRecheckStarted
	// OutcomeNeedClaim: the caller must collect a VRChat id and BeginClaim.
	OutcomeNeedClaim
)

// Publisher emits verification requests toward the checker.
type Publisher interface {
	Publish(ctx context.Context, key string, payload any) error
}

// Reconciler applies a result to guild membership.
type Reconciler interface {
	Apply(ctx context.Context, discordID, guildID string, is18Plus bool, displayName string) error
}

// Notifier DMs the affected user.
type Notifier interface {
	Send(ctx context.Context, discordID, guildID string, key locales.Key)
}

// Service is the verification coordinator. It exclusively owns UserRecord
// and PendingVerification writes.
type Service struct {
	store      storage.Store
	tx         storage.Tx
	publisher  Publisher
	reconciler Reconciler
	notifier   Notifier
	logger     *slog.Logger
	metrics    *metrics.Bot
	now        func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithClock replaces the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithMetrics attaches coordinator metrics.
func WithMetrics(m *metrics.Bot) Option {
	return func(s *Service) { s.metrics = m }
}

// New builds the coordinator service.
func New(store storage.Store, tx storage.Tx, publisher Publisher, reconciler Reconciler, notifier Notifier, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		store:      store,
		tx:         tx,
		publisher:  publisher,
		reconciler: reconciler,
		notifier:   notifier,
		logger:     logger,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RequestVerification runs the per-(user, guild) state machine for a
// verification command.
func (s *Service) RequestVerification(ctx context.Context, discordID, guildID string) (Outcome, error) {
	cfg, err := s.store.Guilds().Find(ctx, guildID)
	if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		return OutcomeUnconfigured, fmt.Errorf("load guild config: %w", err)
	}
	if !cfg.Configured() {
		s.notifier.Send(ctx, discordID, guildID, locales.SetupMissing)
		return OutcomeUnconfigured, nil
	}

	user, err := s.store.Users().FindByDiscordID(ctx, discordID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return OutcomeNeedClaim, nil
		}
		return OutcomeUnconfigured, fmt.Errorf("load user record: %w", err)
	}

	if user.Verified {
		if err := s.reconciler.Apply(ctx, discordID, guildID, true, ""); err != nil {
			return OutcomeAlreadyVerified, fmt.Errorf("reconcile verified user: %w", err)
		}
		return OutcomeAlreadyVerified, nil
	}

	// known user, not verified: re-check without a code
	if err := s.publishRequest(ctx, domain.VerificationRequest{
		DiscordID: discordID,
		VRChatID:  user.VRChatID,
		GuildID:   guildID,
	}); err != nil {
		return OutcomeRecheckStarted, err
	}
	return OutcomeRecheckStarted, nil
}

// BeginClaim records a fresh code challenge for the claimed VRChat id and
// returns the code for the user to publish in their bio. Nothing is sent to
// the checker yet; that happens at CommitClaim.
func (s *Service) BeginClaim(ctx context.Context, discordID, guildID, vrchatID string) (string, error) {
	if err := domain.ValidateVRChatID(vrchatID); err != nil {
		return "", err
	}

	pending := domain.NewPendingVerification(discordID, guildID, vrchatID, s.now())
	if err := s.store.Pendings().Put(ctx, pending); err != nil {
		return "", fmt.Errorf("store pending verification: %w", err)
	}
	s.logger.Info("claim started",
		"discord_id", discordID, "guild_id", guildID, "vrc_user_id", vrchatID)
	return pending.Code, nil
}

// CommitClaim publishes the verification request for the live challenge,
// once the user confirms the code is in their bio.
func (s *Service) CommitClaim(ctx context.Context, discordID, guildID string) error {
	pending, err := s.store.Pendings().Get(ctx, discordID, guildID)
	if err != nil {
		return err
	}
	if pending.Expired(s.now()) {
		if err := s.store.Pendings().Delete(ctx, discordID, guildID); err != nil {
			s.logger.Error("delete expired pending failed", "discord_id", discordID, "error", err)
		}
		return fmt.Errorf("verification code: %w", sentinel.ErrExpired)
	}

	code := pending.Code
	return s.publishRequest(ctx, domain.VerificationRequest{
		DiscordID: discordID,
		VRChatID:  pending.VRChatID,
		GuildID:   guildID,
		Code:      &code,
	})
}

// HandleMemberJoin applies auto-verify-on-join: a returning verified user
// gets their role back immediately, a known unverified one gets a recheck.
func (s *Service) HandleMemberJoin(ctx context.Context, discordID, guildID string) error {
	cfg, err := s.store.Guilds().Find(ctx, guildID)
	if err != nil || !cfg.Configured() || !cfg.AutoVerifyOnJoin {
		return nil
	}

	user, err := s.store.Users().FindByDiscordID(ctx, discordID)
	if err != nil {
		return nil // unknown user, nothing to do
	}
	if user.Verified {
		return s.reconciler.Apply(ctx, discordID, guildID, true, "")
	}
	if user.VRChatID != "" {
		return s.publishRequest(ctx, domain.VerificationRequest{
			DiscordID: discordID,
			VRChatID:  user.VRChatID,
			GuildID:   guildID,
		})
	}
	return nil
}

// HandleResult consumes one VerificationResult from the broker. Every path
// is idempotent: redelivery of the same result cannot double-assign roles
// or corrupt state.
func (s *Service) HandleResult(ctx context.Context, res domain.VerificationResult) error {
	if res.Code == nil {
		return s.handleRecheckResult(ctx, res)
	}
	return s.handleClaimResult(ctx, res, *res.Code)
}

// handleRecheckResult is a pure overwrite of the existing record.
func (s *Service) handleRecheckResult(ctx context.Context, res domain.VerificationResult) error {
	user, err := s.store.Users().FindByDiscordID(ctx, res.DiscordID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			// recheck presumes prior enrollment
			s.logger.Warn("recheck result for unknown user, dropping", "discord_id", res.DiscordID)
			s.countResult("recheck_unknown_user")
			return nil
		}
		return fmt.Errorf("load user record: %w", err)
	}

	user.Verified = res.Is18Plus
	if res.VRChatID != "" {
		user.VRChatID = res.VRChatID
	}
	user.LastAttemptAt = s.now()
	if err := s.store.Users().Upsert(ctx, user); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			// the reported VRChat id got bound elsewhere since enrollment
			s.logger.Warn("recheck result conflicts with existing binding, dropping",
				"discord_id", res.DiscordID, "vrc_user_id", res.VRChatID)
			s.countResult("conflict")
			return nil
		}
		return fmt.Errorf("update user record: %w", err)
	}

	s.countResult("recheck")
	return s.reconciler.Apply(ctx, res.DiscordID, res.GuildID, res.Is18Plus, res.DisplayName)
}

func (s *Service) handleClaimResult(ctx context.Context, res domain.VerificationResult, code string) error {
	pending, err := s.store.Pendings().GetByCode(ctx, res.DiscordID, res.GuildID, code)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			// stale or duplicate delivery; the row was already consumed
			s.logger.Info("result without pending row, dropping",
				"discord_id", res.DiscordID, "guild_id", res.GuildID)
			s.countResult("stale")
			return nil
		}
		return fmt.Errorf("load pending verification: %w", err)
	}

	if pending.Expired(s.now()) {
		if err := s.store.Pendings().Delete(ctx, res.DiscordID, res.GuildID); err != nil {
			return fmt.Errorf("delete expired pending: %w", err)
		}
		s.logger.Info("result for expired code, dropping",
			"discord_id", res.DiscordID, "guild_id", res.GuildID)
		s.countResult("expired")
		return nil
	}

	if !res.CodeFound {
		if err := s.store.Pendings().Delete(ctx, res.DiscordID, res.GuildID); err != nil {
			return fmt.Errorf("delete pending after missing code: %w", err)
		}
		s.notifier.Send(ctx, res.DiscordID, res.GuildID, locales.CodeNotFound)
		s.countResult("code_not_found")
		return nil
	}

	// Conflict check, user upsert and pending deletion share one
	// transaction so two concurrent claims on the same VRChat id cannot
	// both win.
	var conflict bool
	err = s.tx.RunInTx(ctx, func(store storage.Store) error {
		existing, err := store.Users().FindByVRChatID(ctx, pending.VRChatID)
		if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
			return fmt.Errorf("check vrchat id binding: %w", err)
		}
		if err == nil && existing.DiscordID != res.DiscordID {
			conflict = true
			return store.Pendings().Delete(ctx, res.DiscordID, res.GuildID)
		}

		user := &domain.UserRecord{DiscordID: res.DiscordID}
		if current, err := store.Users().FindByDiscordID(ctx, res.DiscordID); err == nil {
			user = current
		}
		user.VRChatID = pending.VRChatID
		user.Verified = res.Is18Plus
		user.LastAttemptAt = s.now()
		if err := store.Users().Upsert(ctx, user); err != nil {
			return fmt.Errorf("upsert user record: %w", err)
		}
		return store.Pendings().Delete(ctx, res.DiscordID, res.GuildID)
	})
	if err != nil {
		return err
	}

	if conflict {
		s.logger.Warn("duplicate claim rejected, first claimant wins",
			"discord_id", res.DiscordID, "vrc_user_id", pending.VRChatID)
		s.notifier.Send(ctx, res.DiscordID, res.GuildID, locales.ClaimConflict)
		s.countResult("conflict")
		return nil
	}

	s.countResult("claimed")
	return s.reconciler.Apply(ctx, res.DiscordID, res.GuildID, res.Is18Plus, res.DisplayName)
}

func (s *Service) publishRequest(ctx context.Context, req domain.VerificationRequest) error {
	if err := s.publisher.Publish(ctx, req.PairKey(), req); err != nil {
		return fmt.Errorf("publish verification request: %w", err)
	}
	if s.metrics != nil {
		s.metrics.RequestsPublished.Inc()
	}
	s.logger.Info("verification request published",
		"discord_id", req.DiscordID, "guild_id", req.GuildID, "recheck", req.Code == nil)
	return nil
}

func (s *Service) countResult(outcome string) {
	if s.metrics != nil {
		s.metrics.ResultsHandled.WithLabelValues(outcome).Inc()
	}
}
