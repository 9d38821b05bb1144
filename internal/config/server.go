// Package config loads registry server and CLI configuration.
package config

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/vibebiz/premium/internal/distribution"
)

// EnvPrefix prefixes every server environment variable.
const EnvPrefix = "VIBEBIZ"

// Environment represents the deployment environment.
type Environment string

const (
	// EnvDevelopment is the default local development environment.
	EnvDevelopment Environment = "development"
	// EnvStaging is the staging/pre-production environment.
	EnvStaging Environment = "staging"
	// EnvProduction is the production environment.
	EnvProduction Environment = "production"
)

// S3Config configures the S3 artifact store.
type S3Config struct {
	Bucket          string `envconfig:"BUCKET"`
	Prefix          string `envconfig:"PREFIX"`
	Region          string `envconfig:"REGION" default:"us-east-1"`
	Endpoint        string `envconfig:"ENDPOINT"`
	AccessKeyID     string `envconfig:"ACCESS_KEY_ID"`
	SecretAccessKey string `envconfig:"SECRET_ACCESS_KEY"`
	UseSSL          bool   `envconfig:"USE_SSL" default:"true"`
}

// ArtifactConfig selects where component archives are stored. The registry
// and the admin CLI read the same VIBEBIZ_ARTIFACT_* and VIBEBIZ_S3_* variables.
type ArtifactConfig struct {
	ArtifactStore string   `envconfig:"ARTIFACT_STORE" default:"fs"`
	ArtifactDir   string   `envconfig:"ARTIFACT_DIR" default:"./artifacts"`
	S3            S3Config `envconfig:"S3"`
}

// LoadArtifactConfig reads only the artifact store settings.
func LoadArtifactConfig() (*ArtifactConfig, error) {
	var cfg ArtifactConfig
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("load artifact config from env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the store kind and its required settings.
func (c *ArtifactConfig) Validate() error {
	switch strings.ToLower(c.ArtifactStore) {
	case "fs":
		return nil
	case "s3":
		if c.S3.Bucket == "" {
			return errors.New("VIBEBIZ_S3_BUCKET is required when VIBEBIZ_ARTIFACT_STORE=s3")
		}
		return nil
	default:
		return fmt.Errorf("VIBEBIZ_ARTIFACT_STORE: unknown store %q (want fs or s3)", c.ArtifactStore)
	}
}

// OpenStore opens the configured artifact store.
func (c *ArtifactConfig) OpenStore(ctx context.Context) (distribution.ArtifactStore, error) {
	if strings.EqualFold(c.ArtifactStore, "s3") {
		return distribution.NewS3Store(ctx, distribution.S3Config{
			Bucket:          c.S3.Bucket,
			Prefix:          c.S3.Prefix,
			Region:          c.S3.Region,
			Endpoint:        c.S3.Endpoint,
			AccessKeyID:     c.S3.AccessKeyID,
			SecretAccessKey: c.S3.SecretAccessKey,
			UseSSL:          c.S3.UseSSL,
		})
	}
	return distribution.NewFSStore(c.ArtifactDir)
}

// ServerConfig holds registry configuration loaded from VIBEBIZ_* variables.
type ServerConfig struct {
	Environment Environment `envconfig:"ENV" default:"development"`
	ListenAddr  string      `envconfig:"LISTEN_ADDR" default:":8080"`
	LogLevel    string      `envconfig:"LOG_LEVEL" default:"info"`

	// Exactly one of DatabaseURL and SQLitePath selects the store.
	DatabaseURL string `envconfig:"DATABASE_URL"`
	SQLitePath  string `envconfig:"SQLITE_PATH"`
	// RedisURL enables the shared grant ledger and rate limit store.
	RedisURL string `envconfig:"REDIS_URL"`

	// SigningKey is the hex Ed25519 private key (seed or full key).
	SigningKey  string        `envconfig:"SIGNING_KEY" required:"true"`
	GrantSecret string        `envconfig:"GRANT_SECRET" required:"true"`
	GrantTTL    time.Duration `envconfig:"GRANT_TTL" default:"5m"`

	// AdminTokenHash is a bcrypt hash of the admin API token.
	AdminTokenHash string   `envconfig:"ADMIN_TOKEN_HASH"`
	AllowedOrigins []string `envconfig:"ALLOWED_ORIGINS"`

	VerifyRateLimit int64  `envconfig:"VERIFY_RATE_LIMIT" default:"60"`
	AdminRateLimit  int64  `envconfig:"ADMIN_RATE_LIMIT" default:"30"`
	RateLimitPeriod string `envconfig:"RATE_LIMIT_PERIOD" default:"1m"`

	ArtifactConfig
	PresignDownloads bool `envconfig:"PRESIGN_DOWNLOADS" default:"false"`

	// UsageRetentionDays disables retention when zero.
	UsageRetentionDays int `envconfig:"USAGE_RETENTION_DAYS" default:"0"`

	MaxBodyBytes    int64         `envconfig:"MAX_BODY_BYTES" default:"1048576"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`
}

// LoadServerConfig reads and validates the server configuration.
func LoadServerConfig() (*ServerConfig, error) {
	var cfg ServerConfig
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("load config from env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints envconfig cannot express.
func (c *ServerConfig) Validate() error {
	var errs []error

	switch c.Environment {
	case EnvDevelopment, EnvStaging, EnvProduction:
	default:
		errs = append(errs, fmt.Errorf("VIBEBIZ_ENV: unknown environment %q", c.Environment))
	}

	if (c.DatabaseURL == "") == (c.SQLitePath == "") {
		errs = append(errs, errors.New("set exactly one of VIBEBIZ_DATABASE_URL and VIBEBIZ_SQLITE_PATH"))
	}
	if len(c.GrantSecret) < 32 {
		errs = append(errs, errors.New("VIBEBIZ_GRANT_SECRET must be at least 32 bytes"))
	}

	if err := c.ArtifactConfig.Validate(); err != nil {
		errs = append(errs, err)
	}

	if c.VerifyRateLimit <= 0 || c.AdminRateLimit <= 0 {
		errs = append(errs, errors.New("rate limits must be positive"))
	}
	if _, err := time.ParseDuration(c.RateLimitPeriod); err != nil {
		errs = append(errs, fmt.Errorf("VIBEBIZ_RATE_LIMIT_PERIOD: %w", err))
	}
	if c.UsageRetentionDays < 0 {
		errs = append(errs, errors.New("VIBEBIZ_USAGE_RETENTION_DAYS must not be negative"))
	}

	if c.Environment == EnvProduction {
		if c.AdminTokenHash == "" {
			errs = append(errs, errors.New("VIBEBIZ_ADMIN_TOKEN_HASH is required in production"))
		}
		if len(c.AllowedOrigins) == 0 {
			errs = append(errs, errors.New("VIBEBIZ_ALLOWED_ORIGINS is required in production"))
		}
	}

	return errors.Join(errs...)
}

// IsProduction reports whether the server runs in production.
func (c *ServerConfig) IsProduction() bool {
	return c.Environment == EnvProduction
}
