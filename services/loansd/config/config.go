package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config captures the runtime settings for the loan service daemon.
type Config struct {
	ListenAddress string            `yaml:"listen"`
	Auth          AuthConfig        `yaml:"auth"`
	RateLimit     RateLimitConfig   `yaml:"rate_limit"`
	Idempotency   IdempotencyConfig `yaml:"idempotency"`
}

// AuthConfig lists the authenticators accepted by the service.
type AuthConfig struct {
	BearerTokens []string  `yaml:"bearer_tokens"`
	JWT          JWTConfig `yaml:"jwt"`
}

// JWTConfig describes HMAC-signed bearer token verification.
type JWTConfig struct {
	HMACSecret string `yaml:"hmac_secret"`
	Issuer     string `yaml:"issuer"`
	Audience   string `yaml:"audience"`
}

// RateLimitConfig bounds per-client request throughput.
type RateLimitConfig struct {
	RequestsPerMinute float64 `yaml:"requests_per_minute"`
	Burst             int     `yaml:"burst"`
}

// IdempotencyConfig locates the replay cache for mutating requests. An
// empty path disables idempotency handling.
type IdempotencyConfig struct {
	Path       string `yaml:"path"`
	TTLSeconds int64  `yaml:"ttl_seconds"`
}

// Load reads the YAML configuration from disk and validates the result.
func Load(path string) (Config, error) {
	cfg := Config{
		ListenAddress: ":8091",
	}
	if path == "" {
		return cfg, fmt.Errorf("config path required")
	}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	if err := decoder.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg *Config) normalize() {
	if cfg == nil {
		return
	}
	cfg.ListenAddress = strings.TrimSpace(cfg.ListenAddress)
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":8091"
	}
	cfg.Auth.normalize()
	cfg.Idempotency.Path = strings.TrimSpace(cfg.Idempotency.Path)
	if cfg.Idempotency.TTLSeconds <= 0 {
		cfg.Idempotency.TTLSeconds = 86_400
	}
}

func (cfg *Config) validate() error {
	if cfg == nil {
		return fmt.Errorf("configuration is missing")
	}
	if err := cfg.Auth.validate(); err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	if err := cfg.RateLimit.validate(); err != nil {
		return fmt.Errorf("rate_limit: %w", err)
	}
	return nil
}

func (cfg *AuthConfig) normalize() {
	if cfg == nil {
		return
	}
	tokens := make([]string, 0, len(cfg.BearerTokens))
	for _, token := range cfg.BearerTokens {
		if trimmed := strings.TrimSpace(token); trimmed != "" {
			tokens = append(tokens, trimmed)
		}
	}
	cfg.BearerTokens = tokens
	cfg.JWT.HMACSecret = strings.TrimSpace(cfg.JWT.HMACSecret)
	cfg.JWT.Issuer = strings.TrimSpace(cfg.JWT.Issuer)
	cfg.JWT.Audience = strings.TrimSpace(cfg.JWT.Audience)
}

func (cfg AuthConfig) validate() error {
	hasTokens := len(cfg.BearerTokens) > 0
	hasJWT := cfg.JWT.HMACSecret != ""
	if !hasTokens && !hasJWT {
		return fmt.Errorf("at least one bearer token or a jwt hmac secret must be configured")
	}
	if (cfg.JWT.Issuer != "" || cfg.JWT.Audience != "") && !hasJWT {
		return fmt.Errorf("jwt issuer/audience require jwt.hmac_secret")
	}
	return nil
}

func (cfg RateLimitConfig) validate() error {
	if cfg.RequestsPerMinute < 0 {
		return fmt.Errorf("requests_per_minute must not be negative")
	}
	if cfg.Burst < 0 {
		return fmt.Errorf("burst must not be negative")
	}
	return nil
}

// Enabled reports whether request throttling is configured.
func (cfg RateLimitConfig) Enabled() bool {
	return cfg.RequestsPerMinute > 0
}
