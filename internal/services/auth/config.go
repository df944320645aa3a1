package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config controls one-time code timing, lockout, and session lifetime.
//
// These values are read at startup so operator-controlled defaults can be tuned
// without changing runtime code paths.
type Config struct {
	CodeLength     int           `env:"COVAULT_AUTH_CODE_LENGTH"     envDefault:"6"`
	CodeTTL        time.Duration `env:"COVAULT_AUTH_CODE_TTL"        envDefault:"5m"`
	ResendCooldown time.Duration `env:"COVAULT_AUTH_RESEND_COOLDOWN" envDefault:"1m"`
	MaxAttempts    int           `env:"COVAULT_AUTH_MAX_ATTEMPTS"    envDefault:"5"`
	LockoutWindow  time.Duration `env:"COVAULT_AUTH_LOCKOUT_WINDOW"  envDefault:"15m"`
	SessionTTL     time.Duration `env:"COVAULT_AUTH_SESSION_TTL"     envDefault:"12h"`
	TokenSecret    string        `env:"COVAULT_AUTH_TOKEN_SECRET"`
}

// LoadConfigFromEnv loads auth configuration and applies defensive defaults.
//
// Defaults are intentionally explicit because login codes are security-sensitive
// and should remain predictable in local and CI environments.
func LoadConfigFromEnv() Config {
	var cfg Config
	_ = env.Parse(&cfg)
	return cfg.withDefaults()
}

func (cfg Config) withDefaults() Config {
	if cfg.CodeLength <= 0 {
		cfg.CodeLength = 6
	}
	if cfg.CodeTTL <= 0 {
		cfg.CodeTTL = 5 * time.Minute
	}
	if cfg.ResendCooldown <= 0 {
		cfg.ResendCooldown = time.Minute
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.LockoutWindow <= 0 {
		cfg.LockoutWindow = 15 * time.Minute
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 12 * time.Hour
	}
	if cfg.TokenSecret == "" {
		cfg.TokenSecret = randomTokenSecret()
	}
	return cfg
}

// randomTokenSecret generates a per-process signing secret so deployments
// without COVAULT_AUTH_TOKEN_SECRET never sign sessions with an empty key.
// Sessions issued under a generated secret do not survive a restart.
func randomTokenSecret() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("auth: generate token secret: %v", err))
	}
	return hex.EncodeToString(buf)
}
