package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/vibebiz/premium/internal/license"
	"github.com/vibebiz/premium/internal/models"
)

// defaultTTL is one year.
const defaultTTL = 365 * 24 * time.Hour

func newLicenseCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "license",
		Short: "Issue, revoke and renew licenses",
	}
	cmd.AddCommand(
		newLicenseIssueCmd(a),
		newLicenseRevokeCmd(a),
		newLicenseRenewCmd(a),
		newLicenseUsageCmd(a),
		newLicenseListCmd(a),
	)
	return cmd
}

func newLicenseIssueCmd(a *app) *cobra.Command {
	var (
		customer string
		tierFlag string
		ttl      time.Duration
	)

	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Issue a new license token",
		RunE: func(cmd *cobra.Command, args []string) error {
			tier, err := license.ParseTier(tierFlag)
			if err != nil {
				return err
			}
			c, err := a.client()
			if err != nil {
				return err
			}
			token, lic, err := c.IssueLicense(cmd.Context(), customer, tier, ttl)
			if err != nil {
				return err
			}
			printLicense(lic)
			fmt.Printf("\nToken:\n%s\n", token)
			return nil
		},
	}

	cmd.Flags().StringVar(&customer, "customer", "", "Customer ID (required)")
	cmd.Flags().StringVar(&tierFlag, "tier", "", "Tier: DEV, FOUNDATION, GROWTH, FULL or AGENCY (required)")
	cmd.Flags().DurationVar(&ttl, "ttl", defaultTTL, "Validity period")
	_ = cmd.MarkFlagRequired("customer")
	_ = cmd.MarkFlagRequired("tier")

	return cmd
}

func newLicenseRevokeCmd(a *app) *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "revoke <token-id>",
		Short: "Revoke a license",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid token id: %w", err)
			}
			c, err := a.client()
			if err != nil {
				return err
			}
			lic, err := c.RevokeLicense(cmd.Context(), id, reason)
			if err != nil {
				return err
			}
			printLicense(lic)
			return nil
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "", "Revocation reason (required)")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}

func newLicenseRenewCmd(a *app) *cobra.Command {
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "renew <token-id>",
		Short: "Issue a replacement token with a new expiry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid token id: %w", err)
			}
			c, err := a.client()
			if err != nil {
				return err
			}
			token, lic, err := c.RenewLicense(cmd.Context(), id, ttl)
			if err != nil {
				return err
			}
			printLicense(lic)
			fmt.Printf("\nToken:\n%s\n", token)
			return nil
		},
	}

	cmd.Flags().DurationVar(&ttl, "ttl", defaultTTL, "Validity period of the new token")
	return cmd
}

func newLicenseUsageCmd(a *app) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "usage <token-id>",
		Short: "Show the usage log of a license",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid token id: %w", err)
			}
			c, err := a.client()
			if err != nil {
				return err
			}
			entries, err := c.Usage(cmd.Context(), id, limit)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Println("No usage recorded.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tACTION\tTARGET\tOUTCOME\tCALLER")
			for _, e := range entries {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					e.CreatedAt.Format(time.RFC3339), e.Action, e.Target, e.Outcome, e.Caller)
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 100, "Maximum entries to show")
	return cmd
}

func newLicenseListCmd(a *app) *cobra.Command {
	var customer string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the licenses issued to a customer",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.client()
			if err != nil {
				return err
			}
			licenses, err := c.ListLicenses(cmd.Context(), customer)
			if err != nil {
				return err
			}
			if len(licenses) == 0 {
				fmt.Printf("No licenses issued to %s.\n", customer)
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TOKEN ID\tTIER\tISSUED\tEXPIRES\tSTATUS")
			now := time.Now()
			for _, l := range licenses {
				status := "active"
				switch {
				case l.Revoked:
					status = "revoked"
				case l.IsExpired(now):
					status = "expired"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", l.TokenID, l.Tier,
					l.IssuedAt.Format(time.DateOnly), l.ExpiresAt.Format(time.DateOnly), status)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&customer, "customer", "", "Customer ID (required)")
	_ = cmd.MarkFlagRequired("customer")
	return cmd
}

func printLicense(l *models.License) {
	fmt.Printf("Token ID:  %s\n", l.TokenID)
	fmt.Printf("Customer:  %s\n", l.CustomerID)
	fmt.Printf("Tier:      %s\n", l.Tier)
	fmt.Printf("Expires:   %s\n", l.ExpiresAt.Format(time.RFC3339))
	if l.Revoked {
		fmt.Printf("Revoked:   %s", l.RevokedReason)
		if l.RevokedAt != nil {
			fmt.Printf(" (%s)", l.RevokedAt.Format(time.RFC3339))
		}
		fmt.Println()
	}
}
