package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/vibebiz/premium/internal/license"
	"github.com/vibebiz/premium/internal/project"
)

func newLicenseCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "license",
		Short: "Inspect the configured license",
	}
	cmd.AddCommand(newLicenseStatusCmd(a))
	return cmd
}

func newLicenseStatusCmd(a *app) *cobra.Command {
	var (
		tierFlag string
		offline  bool
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Verify the license key and show its claims",
		RunE: func(cmd *cobra.Command, args []string) error {
			required := license.TierDev
			if tierFlag != "" {
				t, err := license.ParseTier(tierFlag)
				if err != nil {
					return err
				}
				required = t
			}

			// A project is optional here; it only caches call-home results.
			p, err := a.project()
			if err != nil && !errors.Is(err, project.ErrNotInitialized) {
				return err
			}

			var v *license.LocalValidator
			if offline {
				v, err = a.validator(nil, p)
			} else {
				c, cerr := a.client()
				if cerr != nil {
					return cerr
				}
				v, err = a.validator(c, p)
			}
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			outcome, err := v.Check(ctx, a.licenseKey(), required)
			if err != nil {
				return explain(err)
			}
			printOutcome(outcome)
			return nil
		},
	}

	cmd.Flags().StringVar(&tierFlag, "tier", "", "Also check that the license grants this tier")
	cmd.Flags().BoolVar(&offline, "offline", false, "Skip the call-home freshness check")

	return cmd
}

func printOutcome(o *license.Outcome) {
	fmt.Printf("License:   %s\n", o.Claims.TokenID)
	fmt.Printf("Customer:  %s\n", o.Claims.CustomerID)
	fmt.Printf("Tier:      %s\n", o.Claims.Tier)
	fmt.Printf("Expires:   %s (%d days)\n", o.Claims.ExpiresAt.Format(time.RFC3339), o.DaysRemaining)
	fmt.Printf("Online:    %s\n", o.Online)
	if o.ExpiringSoon {
		fmt.Println()
		fmt.Println("Warning: the license expires soon. Contact VibeBiz to renew it.")
	}
	if o.Degraded {
		fmt.Println()
		fmt.Println("Note: the registry could not be reached; the license was verified offline.")
	}
}

// explain adds the operator-facing next step to license failures.
func explain(err error) error {
	var (
		expired *license.ExpiredError
		revoked *license.RevokedError
		tier    *license.TierError
	)
	switch {
	case errors.Is(err, license.ErrMissingKey):
		return fmt.Errorf("%w: export %s=<token>", err, license.EnvLicenseKey)
	case errors.As(err, &expired):
		return fmt.Errorf("license expired on %s; renew it to continue: %w",
			expired.ExpiresAt.Format("2006-01-02"), err)
	case errors.As(err, &revoked):
		return fmt.Errorf("license has been revoked; contact VibeBiz support: %w", err)
	case errors.As(err, &tier):
		return fmt.Errorf("this requires the %s tier but your license is %s; upgrade to continue: %w",
			tier.Required, tier.Actual, err)
	case errors.Is(err, license.ErrMalformed), errors.Is(err, license.ErrInvalidSignature):
		return fmt.Errorf("%s does not hold a valid VibeBiz license: %w", license.EnvLicenseKey, err)
	default:
		return err
	}
}
