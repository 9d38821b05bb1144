// Package main is the entrypoint for the vibebiz-admin CLI used by VibeBiz
// operators to manage keys, licenses and the component catalog.
package main

import (
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/vibebiz/premium/internal/client"
	"github.com/vibebiz/premium/internal/config"
)

// Build-time variables set via ldflags.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type app struct {
	v      *viper.Viper
	logger zerolog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{v: viper.New()}
	a.v.SetDefault("registry_url", config.DefaultRegistryURL)
	a.v.SetDefault("log_level", "warn")
	a.v.SetEnvPrefix(config.EnvPrefix)
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.v.AutomaticEnv()

	rootCmd := &cobra.Command{
		Use:   "vibebiz-admin",
		Short: "Operate the VibeBiz license registry",
		Long: `vibebiz-admin issues and revokes licenses, publishes premium components
and imports catalog manifests.

Admin calls authenticate with VIBEBIZ_ADMIN_TOKEN.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level, err := zerolog.ParseLevel(a.v.GetString("log_level"))
			if err != nil {
				level = zerolog.WarnLevel
			}
			a.logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
				Level(level).With().Timestamp().Logger()
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.String("registry", "", "Registry URL (env VIBEBIZ_REGISTRY_URL)")
	flags.String("log-level", "", "Log level (debug, info, warn, error)")
	_ = a.v.BindPFlag("registry_url", flags.Lookup("registry"))
	_ = a.v.BindPFlag("log_level", flags.Lookup("log-level"))

	rootCmd.AddCommand(
		newVersionCmd(),
		newKeysCmd(),
		newLicenseCmd(a),
		newPublishCmd(a),
		newCatalogCmd(a),
	)

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("vibebiz-admin %s\n", Version)
			fmt.Printf("  Commit:     %s\n", Commit)
			fmt.Printf("  Built:      %s\n", BuildDate)
			fmt.Printf("  Go version: %s\n", runtime.Version())
		},
	}
}

// client returns a registry client authenticated with the admin token.
func (a *app) client() (*client.Client, error) {
	token := a.v.GetString("admin_token")
	if token == "" {
		return nil, fmt.Errorf("%s_ADMIN_TOKEN is not set", config.EnvPrefix)
	}
	return client.New(client.Options{
		BaseURL:    a.v.GetString("registry_url"),
		AdminToken: token,
		Logger:     a.logger,
	})
}
