package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/vibebiz/premium/internal/httpclient"
	"github.com/vibebiz/premium/internal/license"
)

// DefaultRegistryURL is used when no registry is configured.
const DefaultRegistryURL = "https://registry.vibebiz.dev"

// DefaultConfigDir returns the default config directory (~/.vibebiz).
func DefaultConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home directory: %w", err)
	}
	return filepath.Join(home, ".vibebiz"), nil
}

// DefaultConfigPath returns the default config file path (~/.vibebiz/config.yml).
func DefaultConfigPath() (string, error) {
	dir, err := DefaultConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yml"), nil
}

// CLIConfig holds the customer CLI settings. The license key is never part
// of it; it is read from VIBEBIZ_LICENSE_KEY only.
type CLIConfig struct {
	RegistryURL  string                 `mapstructure:"registry_url" yaml:"registry_url,omitempty"`
	PublicKey    string                 `mapstructure:"public_key" yaml:"public_key,omitempty"`
	ProbeTimeout time.Duration          `mapstructure:"probe_timeout" yaml:"probe_timeout,omitempty"`
	CacheTTL     time.Duration          `mapstructure:"cache_ttl" yaml:"cache_ttl,omitempty"`
	WarnWindow   time.Duration          `mapstructure:"warn_window" yaml:"warn_window,omitempty"`
	LogLevel     string                 `mapstructure:"log_level" yaml:"log_level,omitempty"`
	Proxy        httpclient.ProxyConfig `mapstructure:"proxy" yaml:"proxy,omitempty"`
}

// SetCLIDefaults registers defaults and environment bindings on v.
// defaultPublicKey is the key compiled into the binary.
func SetCLIDefaults(v *viper.Viper, defaultPublicKey string) {
	v.SetDefault("registry_url", DefaultRegistryURL)
	v.SetDefault("public_key", defaultPublicKey)
	v.SetDefault("probe_timeout", license.DefaultProbeTimeout)
	v.SetDefault("cache_ttl", license.DefaultCheckCacheTTL)
	v.SetDefault("warn_window", license.DefaultWarnWindow)
	v.SetDefault("log_level", "warn")
	v.SetDefault("proxy.http_proxy", "")
	v.SetDefault("proxy.https_proxy", "")
	v.SetDefault("proxy.no_proxy", "")
	v.SetDefault("proxy.socks5_proxy", "")

	v.SetEnvPrefix("VIBEBIZ")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
}

// LoadCLIConfig reads the optional config file at path into v and decodes
// the merged settings.
func LoadCLIConfig(v *viper.Viper, path string) (*CLIConfig, error) {
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	var cfg CLIConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the settings needed to reach the registry.
func (c *CLIConfig) Validate() error {
	if c.RegistryURL == "" {
		return errors.New("registry_url is required")
	}
	if c.PublicKey == "" {
		return errors.New("public_key is required")
	}
	if c.ProbeTimeout < 0 || c.CacheTTL < 0 {
		return errors.New("timeouts must not be negative")
	}
	return nil
}

// Save writes the configuration to path, creating directories as needed.
func (c *CLIConfig) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}
