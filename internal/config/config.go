package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/fx"
)

// Config carries process-level settings for the integration gateway.
// Values come from the environment; defaults suit local development.
type Config struct {
	Environment string
	ListenAddr  string
	DatabaseDSN string

	// CredentialSecret derives the AES key protecting stored provider
	// credential bags. Empty disables the encrypted credential store.
	CredentialSecret string

	ProviderTimeout time.Duration

	WebhookRateLimit  int
	WebhookRateWindow time.Duration
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

// Load reads configuration from the environment.
func Load() Config {
	return Config{
		Environment:       getEnv("GATEWAY_ENV", "sandbox"),
		ListenAddr:        getEnv("GATEWAY_LISTEN_ADDR", ":8080"),
		DatabaseDSN:       getEnv("GATEWAY_DATABASE_DSN", "gateway.db"),
		CredentialSecret:  os.Getenv("GATEWAY_CREDENTIAL_SECRET"),
		ProviderTimeout:   getDuration("GATEWAY_PROVIDER_TIMEOUT", 15*time.Second),
		WebhookRateLimit:  getInt("GATEWAY_WEBHOOK_RATE_LIMIT", 120),
		WebhookRateWindow: getDuration("GATEWAY_WEBHOOK_RATE_WINDOW", time.Minute),
	}
}

var Module = fx.Module("config",
	fx.Provide(Load),
)

func getEnv(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func getInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func getDuration(key string, fallback time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}
