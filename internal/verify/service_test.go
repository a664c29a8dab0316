package verify

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"vrcverify/internal/domain"
	"vrcverify/internal/locales"
	"vrcverify/internal/storage"
	"vrcverify/pkg/platform/sentinel"
)

const (
	testGuild  = "guild-1"
	testUser   = "discord-1"
	otherUser  = "discord-2"
	testVRCID  = "usr_a08f0340-2774-4ee0-9f1e-5c06d8404745"
	otherVRCID = "usr_75836826-c607-4f53-a8ac-08115e90701d"
)

type fakePublisher struct {
	mu       sync.Mutex
	requests []domain.VerificationRequest
}

func (f *fakePublisher) Publish(_ context.Context, _ string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, payload.(domain.VerificationRequest))
	return nil
}

type reconcileCall struct {
	discordID, guildID string
	is18Plus           bool
	displayName        string
}

type fakeReconciler struct {
	mu    sync.Mutex
	calls []reconcileCall
}

func (f *fakeReconciler) Apply(_ context.Context, discordID, guildID string, is18Plus bool, displayName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, reconcileCall{discordID, guildID, is18Plus, displayName})
	return nil
}

type notification struct {
	discordID, guildID string
	key                locales.Key
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []notification
}

func (f *fakeNotifier) Send(_ context.Context, discordID, guildID string, key locales.Key) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, notification{discordID, guildID, key})
}

type ServiceSuite struct {
	suite.Suite
	store      *storage.Memory
	publisher  *fakePublisher
	reconciler *fakeReconciler
	notifier   *fakeNotifier
	service    *Service
	clock      time.Time
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.store = storage.NewMemory()
	s.publisher = &fakePublisher{}
	s.reconciler = &fakeReconciler{}
	s.notifier = &fakeNotifier{}
	s.clock = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s.service = New(s.store, s.store, s.publisher, s.reconciler, s.notifier,
		slog.Default(), WithClock(func() time.Time { return s.clock }))

	s.Require().NoError(s.store.Guilds().Upsert(context.Background(), &domain.GuildConfig{
		GuildID:        testGuild,
		VerifiedRoleID: "role-verified",
		Locale:         "en-US",
	}))
}

func (s *ServiceSuite) claimResult(code string, is18, codeFound bool) domain.VerificationResult {
	return domain.VerificationResult{
		DiscordID:   testUser,
		VRChatID:    testVRCID,
		GuildID:     testGuild,
		Is18Plus:    is18,
		Code:        &code,
		CodeFound:   codeFound,
		DisplayName: "Tester",
	}
}

func (s *ServiceSuite) TestRequestVerification() {
	ctx := context.Background()

	s.Run("unconfigured guild reports setup missing", func() {
		outcome, err := s.service.RequestVerification(ctx, testUser, "guild-without-config")
		s.Require().NoError(err)
		s.Equal(OutcomeUnconfigured, outcome)
		s.Require().Len(s.notifier.sent, 1)
		s.Equal(locales.SetupMissing, s.notifier.sent[0].key)
	})

	s.Run("unknown user needs a claim", func() {
		outcome, err := s.service.RequestVerification(ctx, testUser, testGuild)
		s.Require().NoError(err)
		s.Equal(OutcomeNeedClaim, outcome)
		s.Empty(s.publisher.requests)
	})

	s.Run("verified user is reconciled without an external call", func() {
		s.Require().NoError(s.store.Users().Upsert(ctx, &domain.UserRecord{
			DiscordID: testUser, VRChatID: testVRCID, Verified: true,
		}))

		outcome, err := s.service.RequestVerification(ctx, testUser, testGuild)
		s.Require().NoError(err)
		s.Equal(OutcomeAlreadyVerified, outcome)
		s.Empty(s.publisher.requests)
		s.Require().Len(s.reconciler.calls, 1)
		s.True(s.reconciler.calls[0].is18Plus)
	})

	s.Run("known unverified user triggers a codeless recheck", func() {
		s.Require().NoError(s.store.Users().Upsert(ctx, &domain.UserRecord{
			DiscordID: testUser, VRChatID: testVRCID, Verified: false,
		}))

		outcome, err := s.service.RequestVerification(ctx, testUser, testGuild)
		s.Require().NoError(err)
		s.Equal(OutcomeRecheckStarted, outcome)
		s.Require().Len(s.publisher.requests, 1)
		req := s.publisher.requests[0]
		s.Nil(req.Code)
		s.Equal(testVRCID, req.VRChatID)

		// no pending row for a recheck
		_, err = s.store.Pendings().Get(ctx, testUser, testGuild)
		s.Require().ErrorIs(err, sentinel.ErrNotFound)
	})
}

func (s *ServiceSuite) TestBeginClaim() {
	ctx := context.Background()

	s.Run("rejects display names and malformed ids", func() {
		_, err := s.service.BeginClaim(ctx, testUser, testGuild, "CoolDisplayName")
		s.Require().ErrorIs(err, domain.ErrInvalidVRChatID)
		_, err = s.service.BeginClaim(ctx, testUser, testGuild, "usr_not-a-uuid")
		s.Require().ErrorIs(err, domain.ErrInvalidVRChatID)
	})

	s.Run("second claim supersedes the first", func() {
		first, err := s.service.BeginClaim(ctx, testUser, testGuild, testVRCID)
		s.Require().NoError(err)
		second, err := s.service.BeginClaim(ctx, testUser, testGuild, testVRCID)
		s.Require().NoError(err)
		s.NotEqual(first, second)

		pending, err := s.store.Pendings().Get(ctx, testUser, testGuild)
		s.Require().NoError(err)
		s.Equal(second, pending.Code)

		_, err = s.store.Pendings().GetByCode(ctx, testUser, testGuild, first)
		s.Require().ErrorIs(err, sentinel.ErrNotFound)
	})
}

func (s *ServiceSuite) TestCommitClaim() {
	ctx := context.Background()

	s.Run("publishes the pending code", func() {
		code, err := s.service.BeginClaim(ctx, testUser, testGuild, testVRCID)
		s.Require().NoError(err)
		s.Empty(s.publisher.requests, "nothing published before commit")

		s.Require().NoError(s.service.CommitClaim(ctx, testUser, testGuild))
		s.Require().Len(s.publisher.requests, 1)
		req := s.publisher.requests[0]
		s.Require().NotNil(req.Code)
		s.Equal(code, *req.Code)
	})

	s.Run("expired pending is deleted and reported", func() {
		_, err := s.service.BeginClaim(ctx, testUser, testGuild, testVRCID)
		s.Require().NoError(err)

		s.clock = s.clock.Add(domain.PendingTTL + time.Minute)
		s.Require().ErrorIs(s.service.CommitClaim(ctx, testUser, testGuild), sentinel.ErrExpired)

		_, err = s.store.Pendings().Get(ctx, testUser, testGuild)
		s.Require().ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("no pending means not found", func() {
		s.Require().ErrorIs(s.service.CommitClaim(ctx, testUser, testGuild), sentinel.ErrNotFound)
	})
}

func (s *ServiceSuite) TestClaimResultCommitsAndIsIdempotent() {
	ctx := context.Background()
	code, err := s.service.BeginClaim(ctx, testUser, testGuild, testVRCID)
	s.Require().NoError(err)

	res := s.claimResult(code, true, true)
	s.Require().NoError(s.service.HandleResult(ctx, res))

	user, err := s.store.Users().FindByDiscordID(ctx, testUser)
	s.Require().NoError(err)
	s.True(user.Verified)
	s.Equal(testVRCID, user.VRChatID)

	_, err = s.store.Pendings().Get(ctx, testUser, testGuild)
	s.Require().ErrorIs(err, sentinel.ErrNotFound)
	s.Require().Len(s.reconciler.calls, 1)
	s.Equal("Tester", s.reconciler.calls[0].displayName)

	// redelivery finds no pending row and changes nothing
	s.Require().NoError(s.service.HandleResult(ctx, res))
	s.Len(s.reconciler.calls, 1)
}

func (s *ServiceSuite) TestClaimResultAfterExpiryIsDropped() {
	ctx := context.Background()
	code, err := s.service.BeginClaim(ctx, testUser, testGuild, testVRCID)
	s.Require().NoError(err)
	s.clock = s.clock.Add(domain.PendingTTL + time.Second)

	res := s.claimResult(code, true, true)
	s.Require().NoError(s.service.HandleResult(ctx, res))
	_, err = s.store.Pendings().Get(ctx, testUser, testGuild)
	s.Require().ErrorIs(err, sentinel.ErrNotFound)
	_, err = s.store.Users().FindByDiscordID(ctx, testUser)
	s.Require().ErrorIs(err, sentinel.ErrNotFound)

	// redelivery after the deletion is harmless
	s.Require().NoError(s.service.HandleResult(ctx, res))
	s.Empty(s.reconciler.calls)
}

func (s *ServiceSuite) TestClaimResultWithoutCodeInBio() {
	ctx := context.Background()
	code, err := s.service.BeginClaim(ctx, testUser, testGuild, testVRCID)
	s.Require().NoError(err)

	s.Require().NoError(s.service.HandleResult(ctx, s.claimResult(code, true, false)))

	// the user record is never touched
	_, err = s.store.Users().FindByDiscordID(ctx, testUser)
	s.Require().ErrorIs(err, sentinel.ErrNotFound)
	_, err = s.store.Pendings().Get(ctx, testUser, testGuild)
	s.Require().ErrorIs(err, sentinel.ErrNotFound)
	s.Require().Len(s.notifier.sent, 1)
	s.Equal(locales.CodeNotFound, s.notifier.sent[0].key)
	s.Empty(s.reconciler.calls)
}

func (s *ServiceSuite) TestDuplicateClaimLosesToFirstClaimant() {
	ctx := context.Background()
	s.Require().NoError(s.store.Users().Upsert(ctx, &domain.UserRecord{
		DiscordID: otherUser, VRChatID: testVRCID, Verified: true,
	}))

	code, err := s.service.BeginClaim(ctx, testUser, testGuild, testVRCID)
	s.Require().NoError(err)
	s.Require().NoError(s.service.HandleResult(ctx, s.claimResult(code, true, true)))

	// the first claimant's record is untouched
	bound, err := s.store.Users().FindByVRChatID(ctx, testVRCID)
	s.Require().NoError(err)
	s.Equal(otherUser, bound.DiscordID)

	// the loser got no record and their pending row is gone
	_, err = s.store.Users().FindByDiscordID(ctx, testUser)
	s.Require().ErrorIs(err, sentinel.ErrNotFound)
	_, err = s.store.Pendings().Get(ctx, testUser, testGuild)
	s.Require().ErrorIs(err, sentinel.ErrNotFound)

	s.Require().Len(s.notifier.sent, 1)
	s.Equal(locales.ClaimConflict, s.notifier.sent[0].key)
	s.Empty(s.reconciler.calls)
}

func (s *ServiceSuite) TestClaimResultForMinorStillCommitsBinding() {
	ctx := context.Background()
	code, err := s.service.BeginClaim(ctx, testUser, testGuild, testVRCID)
	s.Require().NoError(err)

	s.Require().NoError(s.service.HandleResult(ctx, s.claimResult(code, false, true)))

	user, err := s.store.Users().FindByDiscordID(ctx, testUser)
	s.Require().NoError(err)
	s.False(user.Verified)
	s.Require().Len(s.reconciler.calls, 1)
	s.False(s.reconciler.calls[0].is18Plus)
}

func (s *ServiceSuite) TestHandleRecheckResult() {
	ctx := context.Background()

	s.Run("unknown user drops silently", func() {
		s.Require().NoError(s.service.HandleResult(ctx, domain.VerificationResult{
			DiscordID: testUser, VRChatID: testVRCID, GuildID: testGuild, Is18Plus: true,
		}))
		s.Empty(s.reconciler.calls)
	})

	s.Run("overwrites the flag and reconciles, idempotently", func() {
		s.Require().NoError(s.store.Users().Upsert(ctx, &domain.UserRecord{
			DiscordID: testUser, VRChatID: testVRCID, Verified: false,
		}))

		res := domain.VerificationResult{
			DiscordID: testUser, VRChatID: testVRCID, GuildID: testGuild,
			Is18Plus: true, DisplayName: "Tester",
		}
		s.Require().NoError(s.service.HandleResult(ctx, res))
		s.Require().NoError(s.service.HandleResult(ctx, res))

		user, err := s.store.Users().FindByDiscordID(ctx, testUser)
		s.Require().NoError(err)
		s.True(user.Verified)
		s.Equal(s.clock, user.LastAttemptAt)
		// redelivery re-applies the same end state
		s.Len(s.reconciler.calls, 2)
		for _, call := range s.reconciler.calls {
			s.True(call.is18Plus)
		}
	})
}

func (s *ServiceSuite) TestHandleMemberJoin() {
	ctx := context.Background()

	s.Run("disabled flag does nothing", func() {
		s.Require().NoError(s.store.Users().Upsert(ctx, &domain.UserRecord{
			DiscordID: testUser, VRChatID: testVRCID, Verified: true,
		}))
		s.Require().NoError(s.service.HandleMemberJoin(ctx, testUser, testGuild))
		s.Empty(s.reconciler.calls)
	})

	s.Run("verified returning member gets the role back", func() {
		s.Require().NoError(s.store.Guilds().Upsert(ctx, &domain.GuildConfig{
			GuildID: testGuild, VerifiedRoleID: "role-verified", AutoVerifyOnJoin: true,
		}))
		s.Require().NoError(s.store.Users().Upsert(ctx, &domain.UserRecord{
			DiscordID: testUser, VRChatID: testVRCID, Verified: true,
		}))

		s.Require().NoError(s.service.HandleMemberJoin(ctx, testUser, testGuild))
		s.Require().Len(s.reconciler.calls, 1)
		s.True(s.reconciler.calls[0].is18Plus)
	})

	s.Run("known unverified member triggers a recheck", func() {
		s.Require().NoError(s.store.Guilds().Upsert(ctx, &domain.GuildConfig{
			GuildID: testGuild, VerifiedRoleID: "role-verified", AutoVerifyOnJoin: true,
		}))
		s.Require().NoError(s.store.Users().Upsert(ctx, &domain.UserRecord{
			DiscordID: testUser, VRChatID: testVRCID, Verified: false,
		}))

		s.Require().NoError(s.service.HandleMemberJoin(ctx, testUser, testGuild))
		s.Require().Len(s.publisher.requests, 1)
		s.Nil(s.publisher.requests[0].Code)
	})
}
