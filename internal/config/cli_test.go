package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vibebiz/premium/internal/httpclient"
	"github.com/vibebiz/premium/internal/license"
)

const testPublicKey = "5f1c0d2a"

func TestLoadCLIConfigDefaults(t *testing.T) {
	v := viper.New()
	SetCLIDefaults(v, testPublicKey)

	cfg, err := LoadCLIConfig(v, filepath.Join(t.TempDir(), "missing.yml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultRegistryURL, cfg.RegistryURL)
	assert.Equal(t, testPublicKey, cfg.PublicKey)
	assert.Equal(t, license.DefaultProbeTimeout, cfg.ProbeTimeout)
	assert.Equal(t, license.DefaultCheckCacheTTL, cfg.CacheTTL)
}

func TestLoadCLIConfigEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	saved := &CLIConfig{
		RegistryURL:  "https://file.example",
		PublicKey:    "00ff",
		ProbeTimeout: 500 * time.Millisecond,
		Proxy:        httpclient.ProxyConfig{HTTPSProxy: "http://proxy:3128"},
	}
	require.NoError(t, saved.Save(path))

	t.Setenv("VIBEBIZ_REGISTRY_URL", "https://env.example")

	v := viper.New()
	SetCLIDefaults(v, testPublicKey)
	cfg, err := LoadCLIConfig(v, path)
	require.NoError(t, err)

	assert.Equal(t, "https://env.example", cfg.RegistryURL)
	assert.Equal(t, "00ff", cfg.PublicKey)
	assert.Equal(t, 500*time.Millisecond, cfg.ProbeTimeout)
	assert.Equal(t, "http://proxy:3128", cfg.Proxy.HTTPSProxy)
}

func TestCLIConfigValidate(t *testing.T) {
	assert.Error(t, (&CLIConfig{PublicKey: "00"}).Validate())
	assert.Error(t, (&CLIConfig{RegistryURL: "https://x"}).Validate())
	assert.Error(t, (&CLIConfig{RegistryURL: "https://x", PublicKey: "00", ProbeTimeout: -1}).Validate())
	assert.NoError(t, (&CLIConfig{RegistryURL: "https://x", PublicKey: "00"}).Validate())
}
