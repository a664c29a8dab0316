package storage

import (
	"context"
	"fmt"
	"sync"

	"vrcverify/internal/domain"
	"vrcverify/pkg/platform/sentinel"
)

// Memory is an in-memory Store/Tx for tests and development. RunInTx
// serializes callers on one mutex rather than providing real isolation,
// which is enough to exercise the transactional code paths.
type Memory struct {
	mu       sync.Mutex
	users    map[string]domain.UserRecord          // by discord id
	pendings map[string]domain.PendingVerification // by discord:guild
	guilds   map[string]domain.GuildConfig
}

// NewMemory constructs an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		users:    make(map[string]domain.UserRecord),
		pendings: make(map[string]domain.PendingVerification),
		guilds:   make(map[string]domain.GuildConfig),
	}
}

func (m *Memory) Users() UserStore       { return (*memUsers)(m) }
func (m *Memory) Pendings() PendingStore { return (*memPendings)(m) }
func (m *Memory) Guilds() GuildStore     { return (*memGuilds)(m) }

func (m *Memory) RunInTx(_ context.Context, fn func(Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(unlockedView{m})
}

// unlockedView hands the already-locked maps to a RunInTx callback.
type unlockedView struct{ m *Memory }

func (v unlockedView) Users() UserStore       { return unlockedUsers{v.m} }
func (v unlockedView) Pendings() PendingStore { return unlockedPendings{v.m} }
func (v unlockedView) Guilds() GuildStore     { return unlockedGuilds{v.m} }

type memUsers Memory

func (s *memUsers) FindByDiscordID(ctx context.Context, discordID string) (*domain.UserRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return unlockedUsers{(*Memory)(s)}.FindByDiscordID(ctx, discordID)
}

func (s *memUsers) FindByVRChatID(ctx context.Context, vrchatID string) (*domain.UserRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return unlockedUsers{(*Memory)(s)}.FindByVRChatID(ctx, vrchatID)
}

func (s *memUsers) Upsert(ctx context.Context, record *domain.UserRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return unlockedUsers{(*Memory)(s)}.Upsert(ctx, record)
}

type unlockedUsers struct{ m *Memory }

func (s unlockedUsers) FindByDiscordID(_ context.Context, discordID string) (*domain.UserRecord, error) {
	if rec, ok := s.m.users[discordID]; ok {
		out := rec
		return &out, nil
	}
	return nil, fmt.Errorf("user record: %w", sentinel.ErrNotFound)
}

func (s unlockedUsers) FindByVRChatID(_ context.Context, vrchatID string) (*domain.UserRecord, error) {
	for _, rec := range s.m.users {
		if rec.VRChatID != "" && rec.VRChatID == vrchatID {
			out := rec
			return &out, nil
		}
	}
	return nil, fmt.Errorf("user record: %w", sentinel.ErrNotFound)
}

func (s unlockedUsers) Upsert(_ context.Context, record *domain.UserRecord) error {
	if record.VRChatID != "" {
		for id, rec := range s.m.users {
			if id != record.DiscordID && rec.VRChatID == record.VRChatID {
				return fmt.Errorf("vrchat id already bound: %w", sentinel.ErrConflict)
			}
		}
	}
	s.m.users[record.DiscordID] = *record
	return nil
}

type memPendings Memory

func (s *memPendings) Put(ctx context.Context, p *domain.PendingVerification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return unlockedPendings{(*Memory)(s)}.Put(ctx, p)
}

func (s *memPendings) Get(ctx context.Context, discordID, guildID string) (*domain.PendingVerification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return unlockedPendings{(*Memory)(s)}.Get(ctx, discordID, guildID)
}

func (s *memPendings) GetByCode(ctx context.Context, discordID, guildID, code string) (*domain.PendingVerification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return unlockedPendings{(*Memory)(s)}.GetByCode(ctx, discordID, guildID, code)
}

func (s *memPendings) Delete(ctx context.Context, discordID, guildID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return unlockedPendings{(*Memory)(s)}.Delete(ctx, discordID, guildID)
}

type unlockedPendings struct{ m *Memory }

func pairKey(discordID, guildID string) string { return discordID + ":" + guildID }

func (s unlockedPendings) Put(_ context.Context, p *domain.PendingVerification) error {
	s.m.pendings[pairKey(p.DiscordID, p.GuildID)] = *p
	return nil
}

func (s unlockedPendings) Get(_ context.Context, discordID, guildID string) (*domain.PendingVerification, error) {
	if p, ok := s.m.pendings[pairKey(discordID, guildID)]; ok {
		out := p
		return &out, nil
	}
	return nil, fmt.Errorf("pending verification: %w", sentinel.ErrNotFound)
}

func (s unlockedPendings) GetByCode(ctx context.Context, discordID, guildID, code string) (*domain.PendingVerification, error) {
	p, err := s.Get(ctx, discordID, guildID)
	if err != nil {
		return nil, err
	}
	if p.Code != code {
		return nil, fmt.Errorf("pending verification: %w", sentinel.ErrNotFound)
	}
	return p, nil
}

func (s unlockedPendings) Delete(_ context.Context, discordID, guildID string) error {
	delete(s.m.pendings, pairKey(discordID, guildID))
	return nil
}

type memGuilds Memory

func (s *memGuilds) Find(ctx context.Context, guildID string) (*domain.GuildConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return unlockedGuilds{(*Memory)(s)}.Find(ctx, guildID)
}

func (s *memGuilds) Upsert(ctx context.Context, cfg *domain.GuildConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return unlockedGuilds{(*Memory)(s)}.Upsert(ctx, cfg)
}

type unlockedGuilds struct{ m *Memory }

func (s unlockedGuilds) Find(_ context.Context, guildID string) (*domain.GuildConfig, error) {
	if g, ok := s.m.guilds[guildID]; ok {
		out := g
		return &out, nil
	}
	return nil, fmt.Errorf("guild config: %w", sentinel.ErrNotFound)
}

func (s unlockedGuilds) Upsert(_ context.Context, cfg *domain.GuildConfig) error {
	s.m.guilds[cfg.GuildID] = *cfg
	return nil
}
