package domain

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewVerificationCode(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		code := NewVerificationCode()
		require.Len(t, code, len("VRC-")+6)
		require.True(t, strings.HasPrefix(code, "VRC-"))
		for _, c := range code[len("VRC-"):] {
			assert.True(t, (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9'),
				"unexpected character %q in %s", c, code)
		}
		seen[code] = true
	}
	assert.Greater(t, len(seen), 1, "codes should not repeat")
}

func TestValidateVRChatID(t *testing.T) {
	cases := []struct {
		name string
		id   string
		ok   bool
	}{
		{"canonical id", "usr_a08f0340-2774-4ee0-9f1e-5c06d8404745", true},
		{"display name", "SomeCoolUser", false},
		{"prefix without uuid", "usr_not-a-uuid", false},
		{"bare uuid", "a08f0340-2774-4ee0-9f1e-5c06d8404745", false},
		{"empty", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateVRChatID(tc.id)
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidVRChatID)
			}
		})
	}
}

func TestPendingVerificationExpiry(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	p := NewPendingVerification("discord-1", "guild-1", "usr_a08f0340-2774-4ee0-9f1e-5c06d8404745", now)

	assert.False(t, p.Expired(now))
	assert.False(t, p.Expired(now.Add(PendingTTL)))
	assert.True(t, p.Expired(now.Add(PendingTTL+time.Second)))
}
