package checker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"vrcverify/internal/domain"
	"vrcverify/internal/scheduler"
	"vrcverify/internal/vrchat"
)

const checkedID = "usr_a08f0340-2774-4ee0-9f1e-5c06d8404745"

type fakeSource struct {
	mu       sync.Mutex
	profiles map[string]*vrchat.Profile
	err      error
	calls    int
}

func (f *fakeSource) GetProfile(_ context.Context, vrchatID string) (*vrchat.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if p, ok := f.profiles[vrchatID]; ok {
		return p, nil
	}
	return nil, errors.New("no such profile")
}

type capturedResult struct {
	key string
	res domain.VerificationResult
}

type resultSink struct {
	mu      sync.Mutex
	results []capturedResult
	ch      chan struct{}
}

func newResultSink() *resultSink {
	return &resultSink{ch: make(chan struct{}, 16)}
}

func (s *resultSink) Publish(_ context.Context, key string, payload any) error {
	s.mu.Lock()
	s.results = append(s.results, capturedResult{key, payload.(domain.VerificationResult)})
	s.mu.Unlock()
	s.ch <- struct{}{}
	return nil
}

func (s *resultSink) wait(t *testing.T) capturedResult {
	t.Helper()
	select {
	case <-s.ch:
	case <-time.After(time.Second):
		t.Fatal("no result published")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.results[len(s.results)-1]
}

type CheckerSuite struct {
	suite.Suite
	source *fakeSource
	sink   *resultSink
	sched  *scheduler.Scheduler
	chk    *Checker
}

func TestCheckerSuite(t *testing.T) {
	suite.Run(t, new(CheckerSuite))
}

func (s *CheckerSuite) SetupTest() {
	s.source = &fakeSource{profiles: map[string]*vrchat.Profile{
		checkedID: {
			ID:                    checkedID,
			DisplayName:           "Tester",
			Bio:                   "hello\n  VRC-AB12CD  \nworld",
			AgeVerificationStatus: vrchat.AgeVerified18Plus,
		},
	}}
	s.sink = newResultSink()
	s.sched = scheduler.New(time.Millisecond, slog.Default())
	s.chk = New(s.source, NewMemoryCache(time.Minute, 16), s.sched, s.sink, slog.Default(), nil)
}

func (s *CheckerSuite) TearDownTest() {
	s.sched.Close()
}

func (s *CheckerSuite) request(code *string) []byte {
	payload, err := json.Marshal(domain.VerificationRequest{
		DiscordID: "discord-1",
		VRChatID:  checkedID,
		GuildID:   "guild-1",
		Code:      code,
	})
	s.Require().NoError(err)
	return payload
}

func (s *CheckerSuite) TestClaimRequestFindsCodeLine() {
	code := "VRC-AB12CD"
	s.Require().NoError(s.chk.HandleRequest(context.Background(), s.request(&code)))

	got := s.sink.wait(s.T())
	s.Equal("discord-1:guild-1", got.key)
	s.True(got.res.Is18Plus)
	s.True(got.res.CodeFound)
	s.Equal("Tester", got.res.DisplayName)
	s.Require().NotNil(got.res.Code)
	s.Equal(code, *got.res.Code)
}

func (s *CheckerSuite) TestRecheckRequestCarriesNoCode() {
	s.Require().NoError(s.chk.HandleRequest(context.Background(), s.request(nil)))

	got := s.sink.wait(s.T())
	s.True(got.res.Is18Plus)
	s.False(got.res.CodeFound)
	s.Nil(got.res.Code)
}

func (s *CheckerSuite) TestLookupFailurePublishesNegativeResult() {
	s.source.err = errors.New("upstream down")
	code := "VRC-AB12CD"
	s.Require().NoError(s.chk.HandleRequest(context.Background(), s.request(&code)))

	got := s.sink.wait(s.T())
	s.False(got.res.Is18Plus)
	s.False(got.res.CodeFound)
	s.Empty(got.res.DisplayName)
}

func (s *CheckerSuite) TestMalformedAndIncompleteRequestsAreDropped() {
	s.Require().NoError(s.chk.HandleRequest(context.Background(), []byte("not json")))

	partial, err := json.Marshal(domain.VerificationRequest{DiscordID: "discord-1"})
	s.Require().NoError(err)
	s.Require().NoError(s.chk.HandleRequest(context.Background(), partial))

	select {
	case <-s.sink.ch:
		s.FailNow("dropped request still produced a result")
	case <-time.After(50 * time.Millisecond):
	}
}

func (s *CheckerSuite) TestDuplicateRequestsShareOneLookup() {
	for i := 0; i < 3; i++ {
		s.Require().NoError(s.chk.HandleRequest(context.Background(), s.request(nil)))
	}
	for i := 0; i < 3; i++ {
		s.sink.wait(s.T())
	}

	s.source.mu.Lock()
	defer s.source.mu.Unlock()
	s.Equal(1, s.source.calls)
}

func (s *CheckerSuite) TestBioCodeLineMatching() {
	cases := []struct {
		name string
		bio  string
		code string
		want bool
	}{
		{"exact line among others", "hello\nVRC-AB12CD\nworld", "VRC-AB12CD", true},
		{"line with surrounding whitespace", "  VRC-AB12CD\t", "VRC-AB12CD", true},
		{"substring of a longer token", "xVRC-AB12CDx", "VRC-AB12CD", false},
		{"code sharing a line with text", "my code: VRC-AB12CD", "VRC-AB12CD", false},
		{"empty bio", "", "VRC-AB12CD", false},
		{"empty code never matches", "hello\n\nworld", "", false},
	}
	for _, tc := range cases {
		s.Run(tc.name, func() {
			s.Equal(tc.want, bioHasCodeLine(tc.bio, tc.code))
		})
	}
}

func (s *CheckerSuite) TestMemoryCacheExpiryAndBound() {
	clock := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	cache := NewMemoryCache(time.Minute, 2)
	cache.now = func() time.Time { return clock }

	ctx := context.Background()
	cache.Set(ctx, "usr_a", &vrchat.Profile{ID: "usr_a"})

	got, ok := cache.Get(ctx, "usr_a")
	s.Require().True(ok)
	s.Equal("usr_a", got.ID)

	clock = clock.Add(2 * time.Minute)
	_, ok = cache.Get(ctx, "usr_a")
	s.False(ok, "entry should expire after the ttl")

	cache.Set(ctx, "usr_a", &vrchat.Profile{ID: "usr_a"})
	cache.Set(ctx, "usr_b", &vrchat.Profile{ID: "usr_b"})
	cache.Set(ctx, "usr_c", &vrchat.Profile{ID: "usr_c"})
	s.Len(cache.entries, 2, "cache never exceeds its size cap")
}
