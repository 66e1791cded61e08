package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog/log"
)

type Config struct {
	Port                    int      `env:"PORT" envDefault:"3001"`
	LogLevel                string   `env:"LOG_LEVEL" envDefault:"info"`
	PairCodeTTLSeconds      int      `env:"PAIR_CODE_TTL_SECONDS" envDefault:"60"`
	TrustTokenTTLHours      int      `env:"TRUST_TOKEN_TTL_HOURS" envDefault:"720"`
	SessionTTLHours         int      `env:"SESSION_TTL_HOURS" envDefault:"24"`
	SweepIntervalSeconds    int      `env:"SWEEP_INTERVAL_SECONDS" envDefault:"30"`
	RateLimitIntervalMs     int      `env:"RATE_LIMIT_INTERVAL_MS" envDefault:"200"`
	MaxMessageBytes         int64    `env:"MAX_MESSAGE_BYTES" envDefault:"65536"`
	AllowedOrigins          []string `env:"ALLOWED_ORIGINS" envSeparator:","`
	UpgradeRateLimitPerMin  int      `env:"UPGRADE_RATE_LIMIT_PER_MIN" envDefault:"60"`
	HandshakeFailuresPerMin int      `env:"HANDSHAKE_FAILURES_PER_MIN" envDefault:"10"`
	RedisURL                string   `env:"REDIS_URL"`
	OperatorTokenHash       string   `env:"OPERATOR_TOKEN_HASH"`
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c *Config) PairCodeTTL() time.Duration {
	return time.Duration(c.PairCodeTTLSeconds) * time.Second
}

func (c *Config) TrustTokenTTL() time.Duration {
	return time.Duration(c.TrustTokenTTLHours) * time.Hour
}

func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLHours) * time.Hour
}

func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSeconds) * time.Second
}

func (c *Config) RateLimitInterval() time.Duration {
	return time.Duration(c.RateLimitIntervalMs) * time.Millisecond
}

// OperatorEnabled reports whether the stats and events endpoints are mounted.
func (c *Config) OperatorEnabled() bool {
	return c.OperatorTokenHash != ""
}

func (c *Config) Validate() error {
	positive := []struct {
		name  string
		value int
	}{
		{"PORT", c.Port},
		{"PAIR_CODE_TTL_SECONDS", c.PairCodeTTLSeconds},
		{"TRUST_TOKEN_TTL_HOURS", c.TrustTokenTTLHours},
		{"SESSION_TTL_HOURS", c.SessionTTLHours},
		{"SWEEP_INTERVAL_SECONDS", c.SweepIntervalSeconds},
		{"RATE_LIMIT_INTERVAL_MS", c.RateLimitIntervalMs},
		{"UPGRADE_RATE_LIMIT_PER_MIN", c.UpgradeRateLimitPerMin},
		{"HANDSHAKE_FAILURES_PER_MIN", c.HandshakeFailuresPerMin},
	}
	for _, p := range positive {
		if p.value <= 0 {
			return fmt.Errorf("%s must be positive, got %d", p.name, p.value)
		}
	}

	if c.MaxMessageBytes <= 0 {
		return fmt.Errorf("MAX_MESSAGE_BYTES must be positive, got %d", c.MaxMessageBytes)
	}

	if c.OperatorTokenHash != "" {
		if !strings.HasPrefix(c.OperatorTokenHash, "$2a$") &&
			!strings.HasPrefix(c.OperatorTokenHash, "$2b$") &&
			!strings.HasPrefix(c.OperatorTokenHash, "$2y$") {
			return fmt.Errorf("OPERATOR_TOKEN_HASH must be a bcrypt hash (generate with: go run scripts/hash-token.go <token>)")
		}
	}

	if strings.HasPrefix(c.RedisURL, "redis://") {
		log.Warn().Msg("REDIS_URL uses redis:// (not TLS): consider using rediss://")
	}

	return nil
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
