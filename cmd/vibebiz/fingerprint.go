package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/vibebiz/premium/internal/divergence"
	"github.com/vibebiz/premium/internal/project"
)

func newFingerprintCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fingerprint",
		Short: "Manage the template fingerprint",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "record",
			Short: "Record the current tree as the template baseline",
			Long: `Record hashes every project file and keeps a copy of each text file so
later migrations can report and diff hand-modified files. The fingerprint
can only be recorded once.`,
			RunE: func(cmd *cobra.Command, args []string) error {
				p, err := a.project()
				if err != nil {
					return err
				}
				fp, err := recordFingerprint(p)
				if err != nil {
					return err
				}
				fmt.Printf("Recorded fingerprint of %d files (%s)\n", len(fp.Files), fp.TemplateHash)
				return nil
			},
		},
		&cobra.Command{
			Use:   "check",
			Short: "Compare the project tree against the template baseline",
			RunE: func(cmd *cobra.Command, args []string) error {
				p, err := a.project()
				if err != nil {
					return err
				}
				report, err := analyzeProject(p)
				if err != nil {
					return err
				}
				printReport(report)
				return nil
			},
		},
	)
	return cmd
}

// manifestOptions skips installed premium components, which are tracked
// separately from the template.
func manifestOptions(p *project.Project) divergence.BuildOptions {
	dirs := append([]string{}, divergence.DefaultIgnoredDirs...)
	dirs = append(dirs, filepath.Base(p.ComponentsDir()))
	return divergence.BuildOptions{IgnoreDirs: dirs, IgnorePatterns: []string{".env", ".env.*"}}
}

func recordFingerprint(p *project.Project) (*project.Fingerprint, error) {
	if _, err := p.Fingerprint(); err == nil {
		return nil, project.ErrFingerprintExists
	}

	files, err := divergence.BuildManifest(p.Root(), manifestOptions(p))
	if err != nil {
		return nil, err
	}
	for _, rel := range files.Paths() {
		data, err := os.ReadFile(filepath.Join(p.Root(), filepath.FromSlash(rel)))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", rel, err)
		}
		if divergence.IsBinary(data) {
			continue
		}
		if err := p.StoreBaseline(rel, data); err != nil {
			return nil, fmt.Errorf("store baseline of %s: %w", rel, err)
		}
	}
	return p.RecordFingerprint(files)
}

func analyzeProject(p *project.Project) (*divergence.Report, error) {
	fp, err := p.Fingerprint()
	if err != nil {
		return nil, err
	}
	current, err := divergence.BuildManifest(p.Root(), manifestOptions(p))
	if err != nil {
		return nil, err
	}
	return divergence.Analyze(fp.Files, current), nil
}

func printReport(r *divergence.Report) {
	fmt.Println(r.Summary())
	printPaths("Modified (review before migrating)", r.Modified)
	printPaths("Deleted", r.Deleted)
	printPaths("Added", r.Added)
}

func printPaths(title string, paths []string) {
	if len(paths) == 0 {
		return
	}
	fmt.Printf("\n%s:\n", title)
	for _, p := range paths {
		fmt.Printf("  %s\n", p)
	}
}
