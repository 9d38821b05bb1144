package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/vibebiz/premium/internal/integrity"
	"github.com/vibebiz/premium/internal/project"
)

func newComponentsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "components",
		Aliases: []string{"component"},
		Short:   "List and install premium components",
	}
	cmd.AddCommand(newComponentsListCmd(a), newComponentsInstallCmd(a))
	return cmd
}

func newComponentsListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the components your license can install",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.client()
			if err != nil {
				return err
			}
			comps, err := c.ListComponents(cmd.Context(), a.licenseKey())
			if err != nil {
				return explain(err)
			}
			if len(comps) == 0 {
				fmt.Println("No components available for this license.")
				return nil
			}

			installed := map[string]string{}
			if p, err := a.project(); err == nil {
				for _, ic := range p.Installed() {
					installed[ic.Slug] = ic.Version
				}
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "SLUG\tVERSION\tTIER\tDEPENDS ON\tINSTALLED")
			for _, comp := range comps {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					comp.Slug, comp.Version, comp.RequiredTier,
					orDash(strings.Join(comp.Dependencies, ",")), orDash(installed[comp.Slug]))
			}
			return w.Flush()
		},
	}
}

func newComponentsInstallCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "install <slug>[@version]...",
		Short: "Download, verify and install components",
		Long: `Install checks the license, requests a short-lived download grant,
verifies the artifact hash and unpacks the component into premium/<slug>.
Components are installed in the order given, so list dependencies first.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := a.project()
			if err != nil {
				return err
			}
			inst, err := a.installer(p)
			if err != nil {
				return err
			}

			for _, arg := range args {
				slug, version, _ := strings.Cut(arg, "@")
				res, err := inst.InstallComponent(cmd.Context(), slug, version)
				if err != nil {
					if integrity.IsMismatch(err) {
						return fmt.Errorf("%s: downloaded artifact failed verification and was discarded: %w", slug, err)
					}
					return fmt.Errorf("%s: %w", slug, explain(err))
				}
				if res.AlreadyInstalled {
					fmt.Printf("%s is already installed\n", res.Component.Ref())
					continue
				}
				fmt.Printf("Installed %s into %s\n", res.Component.Ref(), relTo(p, res.Path))
				if res.Outcome != nil && res.Outcome.ExpiringSoon {
					fmt.Printf("Warning: your license expires in %d days.\n", res.Outcome.DaysRemaining)
				}
			}
			return nil
		},
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func relTo(p *project.Project, path string) string {
	if rel, ok := strings.CutPrefix(path, p.Root()+string(os.PathSeparator)); ok {
		return rel
	}
	return path
}
