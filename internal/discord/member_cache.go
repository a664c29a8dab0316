package discord

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// MemberSource fetches guild members; *Client satisfies it.
type MemberSource interface {
	GetMember(ctx context.Context, guildID, userID string) (*Member, error)
}

type memberEntry struct {
	member    *Member
	expiresAt time.Time
}

// MemberCache deduplicates member REST fetches behind a short TTL and a
// bounded concurrency semaphore, since Discord's rate limits apply
// per-process.
type MemberCache struct {
	source MemberSource
	ttl    time.Duration
	sem    *semaphore.Weighted
	now    func() time.Time

	mu      sync.Mutex
	entries map[string]memberEntry
}

// NewMemberCache wraps source with a TTL cache allowing at most
// maxConcurrent in-flight fetches.
func NewMemberCache(source MemberSource, ttl time.Duration, maxConcurrent int64) *MemberCache {
	return &MemberCache{
		source:  source,
		ttl:     ttl,
		sem:     semaphore.NewWeighted(maxConcurrent),
		now:     time.Now,
		entries: make(map[string]memberEntry),
	}
}

// Member returns the cached member for (guildID, userID), fetching on miss.
func (c *MemberCache) Member(ctx context.Context, guildID, userID string) (*Member, error) {
	key := guildID + ":" + userID
	c.mu.Lock()
	if e, ok := c.entries[key]; ok && c.now().Before(e.expiresAt) {
		c.mu.Unlock()
		return e.member, nil
	}
	c.mu.Unlock()
	return c.fetch(ctx, guildID, userID)
}

// RefreshMember bypasses the cache, fetches fresh state and re-primes the
// entry. The role reconciler's delayed re-check depends on this seeing
// current membership, not a cached snapshot.
func (c *MemberCache) RefreshMember(ctx context.Context, guildID, userID string) (*Member, error) {
	return c.fetch(ctx, guildID, userID)
}

func (c *MemberCache) fetch(ctx context.Context, guildID, userID string) (*Member, error) {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer c.sem.Release(1)

	member, err := c.source.GetMember(ctx, guildID, userID)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.entries[guildID+":"+userID] = memberEntry{member: member, expiresAt: c.now().Add(c.ttl)}
	c.mu.Unlock()
	return member, nil
}
