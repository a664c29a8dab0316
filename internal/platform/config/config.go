package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Broker holds the Kafka settings shared by both processes.
type Broker struct {
	Seeds        []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`
	RequestTopic string   `env:"VERIFY_REQUEST_TOPIC" envDefault:"vrc.verification.requests"`
	ResultTopic  string   `env:"VERIFY_RESULT_TOPIC" envDefault:"vrc.verification.results"`
}

// Bot configures the coordinator process.
type Bot struct {
	Addr          string        `env:"BOT_ADDR" envDefault:":8080"`
	LogLevel      string        `env:"LOG_LEVEL" envDefault:"info"`
	DatabaseURL   string        `env:"DATABASE_URL,required"`
	DiscordToken  string        `env:"DISCORD_BOT_TOKEN,required"`
	ConsumerGroup string        `env:"BOT_CONSUMER_GROUP" envDefault:"vrcverify-bot"`
	MemberTTL     time.Duration `env:"MEMBER_CACHE_TTL" envDefault:"60s"`
	MemberFetches int64         `env:"MEMBER_FETCH_CONCURRENCY" envDefault:"4"`
	RecheckDelay  time.Duration `env:"ROLE_RECHECK_DELAY" envDefault:"1s"`

	Broker Broker
}

// Checker configures the profile checker process.
type Checker struct {
	Addr           string        `env:"CHECKER_ADDR" envDefault:":8081"`
	LogLevel       string        `env:"LOG_LEVEL" envDefault:"info"`
	ConsumerGroup  string        `env:"CHECKER_CONSUMER_GROUP" envDefault:"vrcverify-checker"`
	LookupInterval time.Duration `env:"VRCHAT_LOOKUP_INTERVAL" envDefault:"10s"`
	CacheTTL       time.Duration `env:"PROFILE_CACHE_TTL" envDefault:"180s"`
	CacheSize      int           `env:"PROFILE_CACHE_SIZE" envDefault:"512"`
	RedisURL       string        `env:"REDIS_URL"` // empty = in-memory profile cache

	VRChatBaseURL   string `env:"VRCHAT_BASE_URL" envDefault:"https://api.vrchat.cloud/api/1"`
	VRChatUsername  string `env:"VRCHAT_USERNAME,required"`
	VRChatPassword  string `env:"VRCHAT_PASSWORD,required"`
	VRChatTwoFactor string `env:"VRCHAT_2FA_CODE"`
	VRChatUserAgent string `env:"VRCHAT_USER_AGENT" envDefault:"VRCVerify/1.0 (contact@esattotech.com)"`

	Broker Broker
}

// LoadBot reads bot configuration from the environment, honouring a local
// .env file when present.
func LoadBot() (*Bot, error) {
	_ = godotenv.Load()
	var cfg Bot
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse bot config: %w", err)
	}
	return &cfg, nil
}

// LoadChecker reads checker configuration from the environment.
func LoadChecker() (*Checker, error) {
	_ = godotenv.Load()
	var cfg Checker
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse checker config: %w", err)
	}
	return &cfg, nil
}
