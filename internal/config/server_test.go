package config

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("VIBEBIZ_SIGNING_KEY", strings.Repeat("ab", 32))
	t.Setenv("VIBEBIZ_GRANT_SECRET", strings.Repeat("s", 32))
	t.Setenv("VIBEBIZ_SQLITE_PATH", "/tmp/registry.db")
}

func TestLoadServerConfigDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := LoadServerConfig()
	require.NoError(t, err)
	assert.Equal(t, EnvDevelopment, cfg.Environment)
	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, 5*time.Minute, cfg.GrantTTL)
	assert.Equal(t, int64(60), cfg.VerifyRateLimit)
	assert.Equal(t, "fs", cfg.ArtifactStore)
	assert.Equal(t, 0, cfg.UsageRetentionDays)
	assert.Equal(t, "us-east-1", cfg.S3.Region)
	assert.False(t, cfg.IsProduction())
}

func TestLoadServerConfigMissingRequired(t *testing.T) {
	t.Setenv("VIBEBIZ_SQLITE_PATH", "/tmp/registry.db")
	t.Setenv("VIBEBIZ_SIGNING_KEY", "")
	t.Setenv("VIBEBIZ_GRANT_SECRET", "")

	_, err := LoadServerConfig()
	assert.Error(t, err)
}

func TestLoadServerConfigNestedAndLists(t *testing.T) {
	setRequired(t)
	t.Setenv("VIBEBIZ_ARTIFACT_STORE", "s3")
	t.Setenv("VIBEBIZ_S3_BUCKET", "vibebiz-artifacts")
	t.Setenv("VIBEBIZ_S3_ENDPOINT", "minio:9000")
	t.Setenv("VIBEBIZ_ALLOWED_ORIGINS", "https://app.vibebiz.dev,https://admin.vibebiz.dev")
	t.Setenv("VIBEBIZ_USAGE_RETENTION_DAYS", "90")

	cfg, err := LoadServerConfig()
	require.NoError(t, err)
	assert.Equal(t, "vibebiz-artifacts", cfg.S3.Bucket)
	assert.Equal(t, "minio:9000", cfg.S3.Endpoint)
	assert.Equal(t, []string{"https://app.vibebiz.dev", "https://admin.vibebiz.dev"}, cfg.AllowedOrigins)
	assert.Equal(t, 90, cfg.UsageRetentionDays)
}

func TestServerConfigValidate(t *testing.T) {
	valid := func() ServerConfig {
		return ServerConfig{
			Environment:     EnvDevelopment,
			SQLitePath:      "registry.db",
			GrantSecret:     strings.Repeat("s", 32),
			ArtifactConfig:  ArtifactConfig{ArtifactStore: "fs"},
			VerifyRateLimit: 10,
			AdminRateLimit:  10,
			RateLimitPeriod: "1m",
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *ServerConfig)
		wantErr string
	}{
		{name: "valid", mutate: func(*ServerConfig) {}},
		{name: "unknown environment", mutate: func(c *ServerConfig) { c.Environment = "qa" }, wantErr: "unknown environment"},
		{name: "no database", mutate: func(c *ServerConfig) { c.SQLitePath = "" }, wantErr: "exactly one"},
		{name: "two databases", mutate: func(c *ServerConfig) { c.DatabaseURL = "postgres://x" }, wantErr: "exactly one"},
		{name: "short grant secret", mutate: func(c *ServerConfig) { c.GrantSecret = "short" }, wantErr: "GRANT_SECRET"},
		{name: "s3 without bucket", mutate: func(c *ServerConfig) { c.ArtifactStore = "s3" }, wantErr: "S3_BUCKET"},
		{name: "unknown store", mutate: func(c *ServerConfig) { c.ArtifactStore = "gcs" }, wantErr: "unknown store"},
		{name: "bad period", mutate: func(c *ServerConfig) { c.RateLimitPeriod = "often" }, wantErr: "RATE_LIMIT_PERIOD"},
		{name: "negative retention", mutate: func(c *ServerConfig) { c.UsageRetentionDays = -1 }, wantErr: "RETENTION"},
		{name: "production without admin hash", mutate: func(c *ServerConfig) {
			c.Environment = EnvProduction
			c.AllowedOrigins = []string{"https://app.vibebiz.dev"}
		}, wantErr: "ADMIN_TOKEN_HASH"},
		{name: "production without origins", mutate: func(c *ServerConfig) {
			c.Environment = EnvProduction
			c.AdminTokenHash = "$2a$10$abc"
		}, wantErr: "ALLOWED_ORIGINS"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadArtifactConfig(t *testing.T) {
	t.Setenv("VIBEBIZ_ARTIFACT_STORE", "s3")
	t.Setenv("VIBEBIZ_S3_BUCKET", "vibebiz-artifacts")
	t.Setenv("VIBEBIZ_S3_PREFIX", "components")

	cfg, err := LoadArtifactConfig()
	require.NoError(t, err)
	assert.Equal(t, "s3", cfg.ArtifactStore)
	assert.Equal(t, "vibebiz-artifacts", cfg.S3.Bucket)
	assert.Equal(t, "components", cfg.S3.Prefix)
	assert.True(t, cfg.S3.UseSSL)

	t.Setenv("VIBEBIZ_S3_BUCKET", "")
	_, err = LoadArtifactConfig()
	assert.ErrorContains(t, err, "S3_BUCKET")
}

func TestArtifactConfigOpensFSStore(t *testing.T) {
	dir := t.TempDir()
	cfg := ArtifactConfig{ArtifactStore: "fs", ArtifactDir: dir}

	store, err := cfg.OpenStore(context.Background())
	require.NoError(t, err)
	require.NoError(t, store.Put(context.Background(), "auth/1.0.0.tar.gz", strings.NewReader("bundle")))

	rc, err := store.Open(context.Background(), "auth/1.0.0.tar.gz")
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "bundle", string(data))
}
