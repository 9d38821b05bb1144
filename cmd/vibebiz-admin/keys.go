package main

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"github.com/vibebiz/premium/internal/license"
)

func newKeysCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Generate signing keys and admin tokens",
	}
	cmd.AddCommand(newKeysGenerateCmd(), newKeysAdminTokenCmd())
	return cmd
}

func newKeysGenerateCmd() *cobra.Command {
	var outDir string

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate an Ed25519 license signing key pair",
		Long: `Generate prints a new key pair. The private key belongs in the registry's
VIBEBIZ_SIGNING_KEY; the public key is compiled into the customer CLI.

With --out, the keys are written to signing.key and signing.pub instead.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			kp, err := license.GenerateKeyPair()
			if err != nil {
				return err
			}

			if outDir == "" {
				fmt.Printf("Public key:  %s\n", kp.PublicKeyHex())
				fmt.Printf("Private key: %s\n", kp.PrivateKeyHex())
				fmt.Fprintln(os.Stderr, "\nStore the private key securely; it signs every license.")
				return nil
			}

			if err := os.MkdirAll(outDir, 0o700); err != nil {
				return fmt.Errorf("create output directory: %w", err)
			}
			privPath := filepath.Join(outDir, "signing.key")
			if _, err := os.Stat(privPath); err == nil {
				return fmt.Errorf("%s already exists", privPath)
			}
			if err := os.WriteFile(privPath, []byte(kp.PrivateKeyHex()+"\n"), 0o600); err != nil {
				return fmt.Errorf("write private key: %w", err)
			}
			pubPath := filepath.Join(outDir, "signing.pub")
			if err := os.WriteFile(pubPath, []byte(kp.PublicKeyHex()+"\n"), 0o644); err != nil {
				return fmt.Errorf("write public key: %w", err)
			}
			fmt.Printf("Wrote %s and %s\n", privPath, pubPath)
			return nil
		},
	}

	cmd.Flags().StringVar(&outDir, "out", "", "Directory to write the key files to")
	return cmd
}

func newKeysAdminTokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "admin-token",
		Short: "Generate an admin API token and its bcrypt hash",
		RunE: func(cmd *cobra.Command, args []string) error {
			raw := make([]byte, 32)
			if _, err := rand.Read(raw); err != nil {
				return fmt.Errorf("generate token: %w", err)
			}
			token := base64.RawURLEncoding.EncodeToString(raw)

			hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
			if err != nil {
				return fmt.Errorf("hash token: %w", err)
			}

			fmt.Printf("VIBEBIZ_ADMIN_TOKEN=%s\n", token)
			fmt.Printf("VIBEBIZ_ADMIN_TOKEN_HASH=%s\n", hash)
			fmt.Fprintln(os.Stderr, "\nConfigure the hash on the registry and keep the token for this CLI.")
			return nil
		},
	}
}
