// Package config loads service configuration: defaults, then an optional
// YAML file named by CONFIG_FILE, then environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Port         string `env:"PORT"                        yaml:"port"`
	DatabaseURL  string `env:"DATABASE_URL"                yaml:"databaseUrl"`
	DBMigrate    bool   `env:"DB_MIGRATE"                  yaml:"dbMigrate"`
	RedisURL     string `env:"REDIS_URL"                   yaml:"redisUrl"`
	LogLevel     string `env:"LOG_LEVEL"                   yaml:"logLevel"`
	LogFormat    string `env:"LOG_FORMAT"                  yaml:"logFormat"`
	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT" yaml:"otlpEndpoint"`

	Auth     Auth     `yaml:"auth"`
	Webhooks Webhooks `yaml:"webhooks"`
}

type Auth struct {
	Mode             string `env:"AUTH_MODE"                yaml:"mode"`
	HMACSecret       string `env:"AUTH_HMAC_SECRET"         yaml:"hmacSecret"`
	RSAPublicKeyFile string `env:"AUTH_RSA_PUBLIC_KEY_FILE" yaml:"rsaPublicKeyFile"`
	TenantClaim      string `env:"AUTH_TENANT_CLAIM"        yaml:"tenantClaim"`
	RoleClaim        string `env:"AUTH_ROLE_CLAIM"          yaml:"roleClaim"`
}

type Webhooks struct {
	Timeout        time.Duration `env:"WEBHOOK_TIMEOUT"         yaml:"timeout"`
	BodyLimit      int           `env:"WEBHOOK_BODY_LIMIT"      yaml:"bodyLimit"`
	SecretBytes    int           `env:"WEBHOOK_SECRET_BYTES"    yaml:"secretBytes"`
	MaxConcurrency int           `env:"WEBHOOK_MAX_CONCURRENCY" yaml:"maxConcurrency"`

	Redelivery Redelivery `yaml:"redelivery"`
	Intake     Intake     `yaml:"intake"`
}

type Redelivery struct {
	Enabled     bool          `env:"WEBHOOK_REDELIVERY_ENABLED"      yaml:"enabled"`
	MaxAttempts int           `env:"WEBHOOK_REDELIVERY_MAX_ATTEMPTS" yaml:"maxAttempts"`
	Interval    time.Duration `env:"WEBHOOK_REDELIVERY_INTERVAL"     yaml:"interval"`
	Backoff     time.Duration `env:"WEBHOOK_REDELIVERY_BACKOFF"      yaml:"backoff"`
	MaxBackoff  time.Duration `env:"WEBHOOK_REDELIVERY_MAX_BACKOFF"  yaml:"maxBackoff"`
	Batch       int           `env:"WEBHOOK_REDELIVERY_BATCH"        yaml:"batch"`
	RPS         float64       `env:"WEBHOOK_REDELIVERY_RPS"          yaml:"rps"`
}

type Intake struct {
	Stream   string `env:"WEBHOOK_INTAKE_STREAM"   yaml:"stream"`
	Group    string `env:"WEBHOOK_INTAKE_GROUP"    yaml:"group"`
	Consumer string `env:"WEBHOOK_INTAKE_CONSUMER" yaml:"consumer"`
}

func Default() Config {
	host, _ := os.Hostname()
	if host == "" {
		host = "webhooks-1"
	}
	return Config{
		Port:      "8080",
		LogLevel:  "info",
		LogFormat: "text",
		Auth: Auth{
			Mode:        "dev",
			TenantClaim: "org_id",
			RoleClaim:   "role",
		},
		Webhooks: Webhooks{
			Timeout:     10 * time.Second,
			BodyLimit:   500,
			SecretBytes: 32,
			Redelivery: Redelivery{
				MaxAttempts: 5,
				Interval:    30 * time.Second,
				Backoff:     30 * time.Second,
				MaxBackoff:  time.Hour,
				Batch:       50,
				RPS:         10,
			},
			Intake: Intake{
				Group:    "webhooks",
				Consumer: host,
			},
		},
	}
}

// Load builds the configuration and validates it.
func Load() (Config, error) {
	cfg := Default()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	// Unset variables leave the file/default value in place.
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Port) == "" {
		errs = append(errs, errors.New("PORT is required"))
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("LOG_FORMAT must be text or json, got %q", c.LogFormat))
	}
	switch strings.ToLower(c.Auth.Mode) {
	case "dev":
	case "hmac":
		if c.Auth.HMACSecret == "" {
			errs = append(errs, errors.New("AUTH_HMAC_SECRET is required when AUTH_MODE=hmac"))
		}
	case "rsa":
		if c.Auth.RSAPublicKeyFile == "" {
			errs = append(errs, errors.New("AUTH_RSA_PUBLIC_KEY_FILE is required when AUTH_MODE=rsa"))
		}
	default:
		errs = append(errs, fmt.Errorf("AUTH_MODE must be dev, hmac or rsa, got %q", c.Auth.Mode))
	}
	w := c.Webhooks
	if w.Timeout <= 0 {
		errs = append(errs, errors.New("WEBHOOK_TIMEOUT must be positive"))
	}
	if w.BodyLimit <= 0 {
		errs = append(errs, errors.New("WEBHOOK_BODY_LIMIT must be positive"))
	}
	if w.SecretBytes < 16 {
		errs = append(errs, errors.New("WEBHOOK_SECRET_BYTES must be at least 16"))
	}
	if w.MaxConcurrency < 0 {
		errs = append(errs, errors.New("WEBHOOK_MAX_CONCURRENCY must not be negative"))
	}
	if w.Redelivery.Enabled {
		r := w.Redelivery
		if r.MaxAttempts < 1 || r.Interval <= 0 || r.Backoff <= 0 || r.MaxBackoff < r.Backoff || r.Batch < 1 || r.RPS <= 0 {
			errs = append(errs, errors.New("WEBHOOK_REDELIVERY_* settings are out of range"))
		}
	}
	if w.Intake.Stream != "" && c.RedisURL == "" {
		errs = append(errs, errors.New("WEBHOOK_INTAKE_STREAM requires REDIS_URL"))
	}
	return errors.Join(errs...)
}

// Public is the non-secret view served on /debug/info.
func (c Config) Public() map[string]any {
	backend := "memory"
	switch {
	case strings.HasPrefix(c.DatabaseURL, "postgres"):
		backend = "postgres"
	case c.DatabaseURL != "":
		backend = "sqlite"
	}
	return map[string]any{
		"port":               c.Port,
		"store":              backend,
		"redis":              c.RedisURL != "",
		"logLevel":           c.LogLevel,
		"authMode":           c.Auth.Mode,
		"tracing":            c.OTLPEndpoint != "",
		"webhookTimeout":     c.Webhooks.Timeout.String(),
		"webhookBodyLimit":   c.Webhooks.BodyLimit,
		"maxConcurrency":     c.Webhooks.MaxConcurrency,
		"redeliveryEnabled":  c.Webhooks.Redelivery.Enabled,
		"redeliveryAttempts": c.Webhooks.Redelivery.MaxAttempts,
		"intakeStream":       c.Webhooks.Intake.Stream,
	}
}
