// Package main is the entrypoint for the vibebiz customer CLI.
package main

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/vibebiz/premium/internal/client"
	"github.com/vibebiz/premium/internal/config"
	"github.com/vibebiz/premium/internal/installer"
	"github.com/vibebiz/premium/internal/license"
	"github.com/vibebiz/premium/internal/project"
)

// Build-time variables set via ldflags.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
	// DefaultPublicKey is the registry's hex-encoded Ed25519 public key.
	DefaultPublicKey = ""
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// app carries state shared by every subcommand.
type app struct {
	v          *viper.Viper
	configPath string
	projectDir string
	cfg        *config.CLIConfig
	logger     zerolog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{v: viper.New()}

	rootCmd := &cobra.Command{
		Use:   "vibebiz",
		Short: "VibeBiz premium components and stage migrations",
		Long: `vibebiz manages premium components for a VibeBiz project.

Set VIBEBIZ_LICENSE_KEY to your license token before installing
components or running migrations.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" || cmd.Name() == "help" {
				return nil
			}
			return a.load()
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "Config file (default: ~/.vibebiz/config.yml)")
	flags.StringVarP(&a.projectDir, "project", "C", ".", "Project directory")
	flags.String("registry", "", "Registry URL")
	flags.String("log-level", "", "Log level (debug, info, warn, error)")
	_ = a.v.BindPFlag("registry_url", flags.Lookup("registry"))
	_ = a.v.BindPFlag("log_level", flags.Lookup("log-level"))

	rootCmd.AddCommand(
		newVersionCmd(),
		newInitCmd(a),
		newLicenseCmd(a),
		newComponentsCmd(a),
		newFingerprintCmd(a),
		newMigrateCmd(a),
	)

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("vibebiz %s\n", Version)
			fmt.Printf("  Commit:     %s\n", Commit)
			fmt.Printf("  Built:      %s\n", BuildDate)
			fmt.Printf("  Go version: %s\n", runtime.Version())
			fmt.Printf("  OS/Arch:    %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}

func (a *app) load() error {
	path := a.configPath
	if path == "" {
		var err error
		if path, err = config.DefaultConfigPath(); err != nil {
			return err
		}
	}

	config.SetCLIDefaults(a.v, DefaultPublicKey)
	cfg, err := config.LoadCLIConfig(a.v, path)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	a.cfg = cfg

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.WarnLevel
	}
	a.logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(level).With().Timestamp().Logger()
	return nil
}

func (a *app) licenseKey() string {
	return os.Getenv(license.EnvLicenseKey)
}

func (a *app) client() (*client.Client, error) {
	return client.New(client.Options{
		BaseURL: a.cfg.RegistryURL,
		Proxy:   &a.cfg.Proxy,
		Logger:  a.logger,
	})
}

func (a *app) project() (*project.Project, error) {
	return project.Find(a.projectDir)
}

// validator builds the local license validator. The project, when given,
// caches call-home results.
func (a *app) validator(c *client.Client, p *project.Project) (*license.LocalValidator, error) {
	pub, err := license.ParsePublicKey(a.cfg.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}

	cfg := license.LocalValidatorConfig{
		PublicKey:    pub,
		ProbeTimeout: a.cfg.ProbeTimeout,
		CacheTTL:     a.cfg.CacheTTL,
		WarnWindow:   a.cfg.WarnWindow,
		Logger:       a.logger,
	}
	if c != nil {
		cfg.Checker = c
	}
	if p != nil {
		cfg.Cache = p
	}
	return license.NewLocalValidator(cfg)
}

func (a *app) installer(p *project.Project) (*installer.Installer, error) {
	c, err := a.client()
	if err != nil {
		return nil, err
	}
	v, err := a.validator(c, p)
	if err != nil {
		return nil, err
	}
	return installer.New(installer.Config{
		Registry:   c,
		Validator:  v,
		Project:    p,
		LicenseKey: a.licenseKey(),
		Logger:     a.logger,
	}), nil
}
