// Package checker evaluates verification requests against live VRChat
// profiles: the 18+ attribute and the bio code challenge.
package checker

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"vrcverify/internal/domain"
	"vrcverify/internal/platform/metrics"
	"vrcverify/internal/scheduler"
	"vrcverify/internal/vrchat"
)

// ProfileSource fetches profiles; vrchat.Client satisfies it.
type ProfileSource interface {
	GetProfile(ctx context.Context, vrchatID string) (*vrchat.Profile, error)
}

// Publisher emits verification results toward the coordinator.
type Publisher interface {
	Publish(ctx context.Context, key string, payload any) error
}

// Evaluation is the outcome of one profile check.
type Evaluation struct {
	Is18Plus    bool
	CodeFound   bool
	DisplayName string
}

// Checker consumes verification requests and publishes results. It keeps no
// durable state; the profile cache is its only memory.
type Checker struct {
	source    ProfileSource
	cache     ProfileCache
	scheduler *scheduler.Scheduler
	publisher Publisher
	logger    *slog.Logger
	metrics   *metrics.Checker
}

// New builds a Checker.
func New(source ProfileSource, cache ProfileCache, sched *scheduler.Scheduler, publisher Publisher, logger *slog.Logger, m *metrics.Checker) *Checker {
	return &Checker{
		source:    source,
		cache:     cache,
		scheduler: sched,
		publisher: publisher,
		logger:    logger,
		metrics:   m,
	}
}

// HandleRequest is the broker consume hook. It decodes and schedules; the
// actual lookup runs later on the scheduler's goroutine so the consume loop
// is never blocked by evaluation latency. Malformed payloads are dropped.
func (c *Checker) HandleRequest(ctx context.Context, payload []byte) error {
	var req domain.VerificationRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		c.logger.Error("malformed verification request, dropping", "error", err)
		return nil
	}
	if req.DiscordID == "" || req.VRChatID == "" || req.GuildID == "" {
		c.logger.Error("incomplete verification request, dropping",
			"discord_id", req.DiscordID, "vrc_user_id", req.VRChatID, "guild_id", req.GuildID)
		return nil
	}

	c.scheduler.Schedule(func() {
		c.process(context.WithoutCancel(ctx), req)
	})
	return nil
}

// process evaluates one request and always publishes a result, so the
// coordinator's pending row never waits on a reply that will not come.
func (c *Checker) process(ctx context.Context, req domain.VerificationRequest) {
	eval := c.Evaluate(ctx, req.VRChatID, req.Code)

	res := domain.VerificationResult{
		DiscordID:   req.DiscordID,
		VRChatID:    req.VRChatID,
		GuildID:     req.GuildID,
		Is18Plus:    eval.Is18Plus,
		Code:        req.Code,
		CodeFound:   eval.CodeFound,
		DisplayName: eval.DisplayName,
	}
	if err := c.publisher.Publish(ctx, res.PairKey(), res); err != nil {
		c.logger.Error("publish verification result failed",
			"discord_id", req.DiscordID, "guild_id", req.GuildID, "error", err)
		return
	}
	if c.metrics != nil {
		c.metrics.ResultsPublished.Inc()
	}
	c.logger.Info("verification result published",
		"discord_id", req.DiscordID, "vrc_user_id", req.VRChatID,
		"is_18_plus", eval.Is18Plus, "code_found", eval.CodeFound)
}

// Evaluate fetches the profile (through the cache) and applies the age
// predicate and the bio code match. Lookup failures degrade to a negative
// evaluation; they are never raised to the caller.
func (c *Checker) Evaluate(ctx context.Context, vrchatID string, code *string) Evaluation {
	profile, ok := c.cache.Get(ctx, vrchatID)
	if ok {
		if c.metrics != nil {
			c.metrics.CacheHits.Inc()
		}
	} else {
		if c.metrics != nil {
			c.metrics.CacheMisses.Inc()
		}
		fetched, err := c.source.GetProfile(ctx, vrchatID)
		if err != nil {
			c.logger.Error("profile lookup failed", "vrc_user_id", vrchatID, "error", err)
			if c.metrics != nil {
				c.metrics.Lookups.WithLabelValues("error").Inc()
			}
			return Evaluation{}
		}
		if c.metrics != nil {
			c.metrics.Lookups.WithLabelValues("ok").Inc()
		}
		c.cache.Set(ctx, vrchatID, fetched)
		profile = fetched
	}

	eval := Evaluation{
		Is18Plus:    profile.AgeVerificationStatus == vrchat.AgeVerified18Plus,
		DisplayName: profile.DisplayName,
	}
	if code != nil {
		eval.CodeFound = bioHasCodeLine(profile.Bio, *code)
	}
	return eval
}

// bioHasCodeLine reports whether some line of the bio, trimmed of
// surrounding whitespace, equals the trimmed code exactly. Substring
// containment is not enough: a short code must not match inside an
// unrelated longer token.
func bioHasCodeLine(bio, code string) bool {
	want := strings.TrimSpace(code)
	if want == "" {
		return false
	}
	for _, line := range strings.Split(bio, "\n") {
		if strings.TrimSpace(line) == want {
			return true
		}
	}
	return false
}
