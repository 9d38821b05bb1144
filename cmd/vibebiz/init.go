package main

import (
	"fmt"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/vibebiz/premium/internal/project"
)

func newInitCmd(a *app) *cobra.Command {
	var (
		projectID string
		stage     string
		noRecord  bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a project for premium components",
		Long: `Initialize creates .vibebiz/project.yaml in the project directory and,
unless --no-fingerprint is given, records the template fingerprint used to
detect hand-modified files before a stage migration.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := filepath.Abs(a.projectDir)
			if err != nil {
				return err
			}
			if projectID == "" {
				projectID = uuid.NewString()
			}

			p, err := project.Init(root, projectID, stage)
			if err != nil {
				return err
			}
			fmt.Printf("Initialized project %s (stage %s)\n", p.ID(), p.Stage())

			if noRecord {
				return nil
			}
			fp, err := recordFingerprint(p)
			if err != nil {
				return err
			}
			fmt.Printf("Recorded fingerprint of %d files (%s)\n", len(fp.Files), fp.TemplateHash)
			return nil
		},
	}

	cmd.Flags().StringVar(&projectID, "id", "", "Project ID (default: random UUID)")
	cmd.Flags().StringVar(&stage, "stage", "mvp", "Current project stage")
	cmd.Flags().BoolVar(&noRecord, "no-fingerprint", false, "Skip recording the template fingerprint")

	return cmd
}
