package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeConfig(t, `
listen: " :7100 "
auth:
  bearer_tokens:
    - " token-one "
    - " "
    - "token-two"
rate_limit:
  requests_per_minute: 120
  burst: 10
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.ListenAddress != ":7100" {
		t.Fatalf("unexpected listen address: %q", cfg.ListenAddress)
	}
	if len(cfg.Auth.BearerTokens) != 2 {
		t.Fatalf("expected 2 trimmed bearer tokens, got %d", len(cfg.Auth.BearerTokens))
	}
	if !cfg.RateLimit.Enabled() {
		t.Fatalf("expected rate limiting to be enabled")
	}
	if cfg.Idempotency.TTLSeconds != 86_400 {
		t.Fatalf("expected default idempotency ttl, got %d", cfg.Idempotency.TTLSeconds)
	}
}

func TestLoadConfigRequiresAuthenticators(t *testing.T) {
	path := writeConfig(t, `
listen: ":8091"
auth: {}
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error when no authenticators are configured")
	}
}

func TestLoadConfigAcceptsJWTOnly(t *testing.T) {
	path := writeConfig(t, `
listen: ":8091"
auth:
  jwt:
    hmac_secret: "shared-secret"
    issuer: "tranchor"
    audience: "loansd"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Auth.JWT.HMACSecret != "shared-secret" {
		t.Fatalf("unexpected jwt secret %q", cfg.Auth.JWT.HMACSecret)
	}
	if cfg.RateLimit.Enabled() {
		t.Fatalf("rate limiting must default to disabled")
	}
}

func TestLoadConfigRejectsIssuerWithoutSecret(t *testing.T) {
	path := writeConfig(t, `
listen: ":8091"
auth:
  bearer_tokens: [token]
  jwt:
    issuer: "tranchor"
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error when jwt issuer is set without a secret")
	}
}

func TestLoadConfigRejectsNegativeRateLimit(t *testing.T) {
	path := writeConfig(t, `
listen: ":8091"
auth:
  bearer_tokens: [token]
rate_limit:
  requests_per_minute: -5
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for negative rate limit")
	}
}
