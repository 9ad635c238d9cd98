package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "8080" || cfg.Auth.Mode != "dev" || cfg.Auth.TenantClaim != "org_id" {
		t.Fatalf("defaults: %+v", cfg)
	}
	w := cfg.Webhooks
	if w.Timeout != 10*time.Second || w.BodyLimit != 500 || w.SecretBytes != 32 || w.MaxConcurrency != 0 {
		t.Fatalf("webhook defaults: %+v", w)
	}
	if w.Redelivery.Enabled || w.Redelivery.MaxAttempts != 5 || w.Redelivery.MaxBackoff != time.Hour {
		t.Fatalf("redelivery defaults: %+v", w.Redelivery)
	}
}

func TestLoadFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yml := `
port: "9000"
logFormat: json
webhooks:
  timeout: 3s
  bodyLimit: 200
  redelivery:
    enabled: true
    maxAttempts: 7
`
	if err := os.WriteFile(path, []byte(yml), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("WEBHOOK_BODY_LIMIT", "300")
	t.Setenv("WEBHOOK_MAX_CONCURRENCY", "4")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "9000" || cfg.LogFormat != "json" {
		t.Fatalf("file values lost: %+v", cfg)
	}
	if cfg.Webhooks.Timeout != 3*time.Second {
		t.Fatalf("file duration: %v", cfg.Webhooks.Timeout)
	}
	if cfg.Webhooks.BodyLimit != 300 || cfg.Webhooks.MaxConcurrency != 4 {
		t.Fatalf("env should override file: %+v", cfg.Webhooks)
	}
	if !cfg.Webhooks.Redelivery.Enabled || cfg.Webhooks.Redelivery.MaxAttempts != 7 || cfg.Webhooks.Redelivery.Batch != 50 {
		t.Fatalf("redelivery merge: %+v", cfg.Webhooks.Redelivery)
	}
}

func TestValidate(t *testing.T) {
	cases := map[string]func(c *Config){
		"hmac without secret": func(c *Config) { c.Auth.Mode = "hmac" },
		"rsa without key":     func(c *Config) { c.Auth.Mode = "rsa" },
		"unknown auth":        func(c *Config) { c.Auth.Mode = "saml" },
		"bad log format":      func(c *Config) { c.LogFormat = "xml" },
		"zero timeout":        func(c *Config) { c.Webhooks.Timeout = 0 },
		"small secret":        func(c *Config) { c.Webhooks.SecretBytes = 8 },
		"negative fan-out":    func(c *Config) { c.Webhooks.MaxConcurrency = -1 },
		"intake w/o redis":    func(c *Config) { c.Webhooks.Intake.Stream = "events" },
		"bad redelivery": func(c *Config) {
			c.Webhooks.Redelivery.Enabled = true
			c.Webhooks.Redelivery.MaxAttempts = 0
		},
	}
	for name, mutate := range cases {
		c := Default()
		mutate(&c)
		if err := c.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
	if err := Default().Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
}

func TestBadEnvValue(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("WEBHOOK_TIMEOUT", "soon")
	if _, err := Load(); err == nil {
		t.Fatalf("want parse error for WEBHOOK_TIMEOUT")
	}
}

func TestPublicHidesSecrets(t *testing.T) {
	c := Default()
	c.Auth.HMACSecret = "topsecret"
	c.DatabaseURL = "postgres://u:p@db/x"
	for k, v := range c.Public() {
		if s, ok := v.(string); ok && (strings.Contains(s, "topsecret") || strings.Contains(s, "u:p@")) {
			t.Fatalf("%s leaks a secret: %s", k, s)
		}
	}
	if c.Public()["store"] != "postgres" {
		t.Fatalf("store kind: %v", c.Public()["store"])
	}
}
