package domain

import (
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// PendingTTL is the window a user has to publish a verification code in
// their VRChat bio before the claim lapses.
const PendingTTL = 5 * time.Minute

const (
	codePrefix   = "VRC-"
	codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	codeLength   = 6
)

// ErrInvalidVRChatID reports a claimed external id that is not a VRChat
// user id. Display names are rejected on purpose: only the usr_<uuid> form
// identifies an account unambiguously.
var ErrInvalidVRChatID = errors.New("invalid vrchat user id")

// UserRecord maps a Discord identity to a VRChat identity and its current
// verification status. Rows are never deleted, only overwritten.
type UserRecord struct {
	DiscordID     string
	VRChatID      string // empty until a claim commits or a recheck supplies one
	Verified      bool
	LastAttemptAt time.Time
}

// PendingVerification is one in-flight code challenge. At most one live row
// exists per (DiscordID, GuildID); Put supersedes.
type PendingVerification struct {
	DiscordID string
	GuildID   string
	VRChatID  string
	Code      string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Expired reports whether the challenge window has passed.
func (p *PendingVerification) Expired(now time.Time) bool {
	return now.After(p.ExpiresAt)
}

// NewPendingVerification builds a challenge with a fresh code and the
// standard expiry window.
func NewPendingVerification(discordID, guildID, vrchatID string, now time.Time) *PendingVerification {
	return &PendingVerification{
		DiscordID: discordID,
		GuildID:   guildID,
		VRChatID:  vrchatID,
		Code:      NewVerificationCode(),
		CreatedAt: now,
		ExpiresAt: now.Add(PendingTTL),
	}
}

// NewVerificationCode returns a code of the form VRC-XXXXXX using uppercase
// letters and digits.
func NewVerificationCode() string {
	buf := make([]byte, codeLength)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand never fails on supported platforms
		panic(fmt.Sprintf("read random: %v", err))
	}
	var b strings.Builder
	b.WriteString(codePrefix)
	for _, c := range buf {
		b.WriteByte(codeAlphabet[int(c)%len(codeAlphabet)])
	}
	return b.String()
}

// ValidateVRChatID checks that the claimed id has the usr_<uuid> form the
// VRChat API uses.
func ValidateVRChatID(id string) error {
	suffix, ok := strings.CutPrefix(id, "usr_")
	if !ok {
		return fmt.Errorf("%w: %q must start with usr_", ErrInvalidVRChatID, id)
	}
	if _, err := uuid.Parse(suffix); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidVRChatID, id)
	}
	return nil
}
