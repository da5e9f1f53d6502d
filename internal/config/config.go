// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/avdeyev/gembridge/internal/upstream"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	FrontendURL string
	DBPath      string

	// UpstreamEndpoint is the generative-content endpoint chat and speech
	// requests are proxied to.
	UpstreamEndpoint string

	// CredentialSecret is the server-side secret the at-rest credential
	// encryption key is derived from. It never reaches the browser.
	CredentialSecret string

	// StalenessThreshold is how long a validated credential is presumed
	// fresh before it is locally treated as expired.
	StalenessThreshold time.Duration

	Generation upstream.GenerationConfig
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	gen := upstream.DefaultGenerationConfig()

	cfg := &Config{
		Port:               getEnv("PORT", "8080"),
		FrontendURL:        getEnv("FRONTEND_URL", ""),
		DBPath:             getEnv("DB_PATH", "./data/gembridge.db"),
		UpstreamEndpoint:   getEnv("UPSTREAM_ENDPOINT", upstream.DefaultEndpoint),
		CredentialSecret:   getEnv("CREDENTIAL_SECRET", ""),
		StalenessThreshold: getEnvDuration("CREDENTIAL_STALENESS_THRESHOLD", 12*time.Hour),
		Generation: upstream.GenerationConfig{
			Temperature:     getEnvFloat("GENERATION_TEMPERATURE", gen.Temperature),
			TopP:            getEnvFloat("GENERATION_TOP_P", gen.TopP),
			TopK:            getEnvInt("GENERATION_TOP_K", gen.TopK),
			MaxOutputTokens: getEnvInt("GENERATION_MAX_OUTPUT_TOKENS", gen.MaxOutputTokens),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.UpstreamEndpoint == "" {
		return fmt.Errorf("UPSTREAM_ENDPOINT cannot be empty")
	}
	if c.CredentialSecret == "" {
		return fmt.Errorf("CREDENTIAL_SECRET cannot be empty")
	}
	if c.StalenessThreshold <= 0 {
		return fmt.Errorf("CREDENTIAL_STALENESS_THRESHOLD must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
