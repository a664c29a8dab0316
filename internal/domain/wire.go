package domain

// Wire records exchanged over the broker. A null verificationCode marks a
// recheck; claims always carry one.

// VerificationRequest travels bot -> checker.
type VerificationRequest struct {
	DiscordID string  `json:"discordID"`
	VRChatID  string  `json:"vrcUserID"`
	GuildID   string  `json:"guildID"`
	Code      *string `json:"verificationCode"`
}

// VerificationResult travels checker -> bot.
type VerificationResult struct {
	DiscordID   string  `json:"discordID"`
	VRChatID    string  `json:"vrcUserID"`
	GuildID     string  `json:"guildID"`
	Is18Plus    bool    `json:"is_18_plus"`
	Code        *string `json:"verificationCode"`
	CodeFound   bool    `json:"code_found"`
	DisplayName string  `json:"displayName,omitempty"`
}

// PairKey is the broker record key. Keying by (user, guild) keeps all
// messages for one pair on one partition, which is what gives the
// coordinator its per-pair delivery order.
func (r VerificationRequest) PairKey() string { return r.DiscordID + ":" + r.GuildID }

// PairKey mirrors VerificationRequest.PairKey for the result direction.
func (r VerificationResult) PairKey() string { return r.DiscordID + ":" + r.GuildID }
