package discord

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingSource struct {
	mu     sync.Mutex
	calls  int
	member Member
}

func (s *countingSource) GetMember(_ context.Context, _, _ string) (*Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	out := s.member
	return &out, nil
}

func TestMemberCacheServesFromCacheWithinTTL(t *testing.T) {
	source := &countingSource{member: Member{Nick: "cached"}}
	cache := NewMemberCache(source, time.Minute, 4)

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		m, err := cache.Member(ctx, "g1", "u1")
		require.NoError(t, err)
		assert.Equal(t, "cached", m.Nick)
	}
	assert.Equal(t, 1, source.calls)

	// a different pair is its own entry
	_, err := cache.Member(ctx, "g2", "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, source.calls)
}

func TestMemberCacheExpires(t *testing.T) {
	source := &countingSource{}
	cache := NewMemberCache(source, time.Minute, 4)
	clock := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return clock }

	ctx := context.Background()
	_, err := cache.Member(ctx, "g1", "u1")
	require.NoError(t, err)

	clock = clock.Add(2 * time.Minute)
	_, err = cache.Member(ctx, "g1", "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, source.calls)
}

func TestRefreshMemberBypassesCache(t *testing.T) {
	source := &countingSource{member: Member{Roles: []string{"r1"}}}
	cache := NewMemberCache(source, time.Minute, 4)

	ctx := context.Background()
	_, err := cache.Member(ctx, "g1", "u1")
	require.NoError(t, err)

	source.mu.Lock()
	source.member = Member{} // role removed upstream
	source.mu.Unlock()

	fresh, err := cache.RefreshMember(ctx, "g1", "u1")
	require.NoError(t, err)
	assert.False(t, fresh.HasRole("r1"))
	assert.Equal(t, 2, source.calls)

	// the refresh re-primed the cache
	again, err := cache.Member(ctx, "g1", "u1")
	require.NoError(t, err)
	assert.False(t, again.HasRole("r1"))
	assert.Equal(t, 2, source.calls)
}
