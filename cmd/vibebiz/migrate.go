package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/vibebiz/premium/internal/divergence"
	"github.com/vibebiz/premium/internal/license"
	"github.com/vibebiz/premium/internal/migration"
	"github.com/vibebiz/premium/internal/project"
)

var errNoActiveMigration = errors.New("no migration in progress (run 'vibebiz migrate plan' first)")

func newMigrateCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Plan and run stage migrations",
		Long: `A stage migration moves through PLANNING, ANALYZED and CONFIRMED before it
executes. Execution snapshots the environment file (and the database when
SQL steps are planned) and rolls everything back if any step fails.

Typical flow:
  vibebiz migrate plan --to growth --step install:billing --step env:STAGE=growth
  vibebiz migrate analyze
  vibebiz migrate confirm --acknowledge
  vibebiz migrate execute`,
	}

	cmd.PersistentFlags().String("database-url", "", "Postgres URL for SQL steps and database snapshots")
	_ = a.v.BindPFlag("database_url", cmd.PersistentFlags().Lookup("database-url"))

	cmd.AddCommand(
		newMigratePlanCmd(a),
		newMigrateAnalyzeCmd(a),
		newMigrateConfirmCmd(a),
		newMigrateExecuteCmd(a),
		newMigrateAbortCmd(a),
		newMigrateStatusCmd(a),
		newMigrateDiffCmd(a),
	)
	return cmd
}

// migrator bundles the project and an engine that has already recovered any
// interrupted migration.
type migrator struct {
	project *project.Project
	engine  *migration.Engine
	factory *migration.StepFactory
}

func (a *app) migrator(ctx context.Context, withInstaller bool) (*migrator, error) {
	p, err := a.project()
	if err != nil {
		return nil, err
	}

	factory := &migration.StepFactory{Root: p.Root(), DatabaseURL: a.v.GetString("database_url")}
	if withInstaller {
		inst, err := a.installer(p)
		if err != nil {
			return nil, err
		}
		factory.Installer = inst
	}

	// Recovery restores whatever the interrupted migrations snapshotted.
	var pending []string
	for _, m := range p.Migrations() {
		if m.State == migration.StateExecuting {
			pending = append(pending, m.Steps...)
		}
	}

	engine := a.newEngine(p, factory.Snapshotters(pending))
	recovered, err := engine.Recover(ctx)
	for _, m := range recovered {
		fmt.Fprintf(os.Stderr, "Rolled back interrupted migration %s (%s -> %s)\n", m.ID, m.FromStage, m.ToStage)
		if m.RollbackIncomplete {
			fmt.Fprintf(os.Stderr, "Warning: rollback was incomplete; snapshots kept in %s\n",
				filepath.Join(p.SnapshotDir(), m.ID))
		}
	}
	if err != nil {
		return nil, fmt.Errorf("recover interrupted migration: %w", err)
	}

	return &migrator{project: p, engine: engine, factory: factory}, nil
}

func (a *app) newEngine(p *project.Project, snaps []migration.Snapshotter) *migration.Engine {
	return migration.NewEngine(migration.EngineConfig{
		Store:        p,
		Lock:         migration.NewProjectLock(p.LockPath()),
		Snapshotters: snaps,
		SnapshotDir:  p.SnapshotDir(),
		Logger:       a.logger,
	})
}

func (m *migrator) active() (*migration.Migration, error) {
	active, ok := m.engine.Active()
	if !ok {
		return nil, errNoActiveMigration
	}
	return active, nil
}

func newMigratePlanCmd(a *app) *cobra.Command {
	var (
		to    string
		steps []string
	)

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Plan a migration to another stage",
		Long: `Plan records a new migration. Steps run in order and take one of the forms:

  install:<slug>[@version]   install a premium component
  env:KEY=VALUE              set a key in the project's .env file
  sql:<file>                 apply a SQL file in one transaction`,
		RunE: func(cmd *cobra.Command, args []string) error {
			specs, err := migration.ParseStepSpecs(steps)
			if err != nil {
				return err
			}
			if len(specs) == 0 {
				return migration.ErrNoSteps
			}

			mg, err := a.migrator(cmd.Context(), false)
			if err != nil {
				return err
			}
			m, err := mg.engine.Plan(mg.project.ID(), mg.project.Stage(), to, specs)
			if err != nil {
				return err
			}

			fmt.Printf("Planned migration %s (%s -> %s)\n", m.ID, m.FromStage, m.ToStage)
			for i, s := range m.Steps {
				fmt.Printf("  %d. %s\n", i+1, s)
			}
			fmt.Println("\nNext: vibebiz migrate analyze")
			return nil
		},
	}

	cmd.Flags().StringVar(&to, "to", "", "Target stage (required)")
	cmd.Flags().StringArrayVar(&steps, "step", nil, "Migration step (repeatable)")
	_ = cmd.MarkFlagRequired("to")

	return cmd
}

func newMigrateAnalyzeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "analyze",
		Short: "Compare the project against its template fingerprint",
		RunE: func(cmd *cobra.Command, args []string) error {
			mg, err := a.migrator(cmd.Context(), false)
			if err != nil {
				return err
			}
			m, err := mg.active()
			if err != nil {
				return err
			}

			report, err := analyzeProject(mg.project)
			if err != nil {
				return err
			}
			if err := mg.engine.Analyze(m, report); err != nil {
				return err
			}

			printReport(report)
			if report.HasModifications() {
				fmt.Println("\nReview the modified files ('vibebiz migrate diff <path>') and confirm with --acknowledge.")
			} else {
				fmt.Println("\nNext: vibebiz migrate confirm")
			}
			return nil
		},
	}
}

func newMigrateConfirmCmd(a *app) *cobra.Command {
	var acknowledge bool

	cmd := &cobra.Command{
		Use:   "confirm",
		Short: "Confirm an analyzed migration",
		RunE: func(cmd *cobra.Command, args []string) error {
			mg, err := a.migrator(cmd.Context(), false)
			if err != nil {
				return err
			}
			m, err := mg.active()
			if err != nil {
				return err
			}
			if err := mg.engine.Confirm(m, acknowledge); err != nil {
				return err
			}
			fmt.Printf("Migration %s confirmed.\n\nNext: vibebiz migrate execute\n", m.ID)
			return nil
		},
	}

	cmd.Flags().BoolVar(&acknowledge, "acknowledge", false, "Acknowledge the modified files listed by analyze")
	return cmd
}

func newMigrateExecuteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "execute",
		Short: "Run a confirmed migration",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			mg, err := a.migrator(ctx, true)
			if err != nil {
				return err
			}
			m, err := mg.active()
			if err != nil {
				return err
			}

			c, err := a.client()
			if err != nil {
				return err
			}
			v, err := a.validator(c, mg.project)
			if err != nil {
				return err
			}
			if _, err := v.Check(ctx, a.licenseKey(), license.TierDev); err != nil {
				return explain(err)
			}

			steps, err := mg.factory.Build(m.Steps)
			if err != nil {
				return err
			}
			engine := a.newEngine(mg.project, mg.factory.Snapshotters(m.Steps))

			fmt.Printf("Executing migration %s (%d steps)...\n", m.ID, len(steps))
			if err := engine.Execute(ctx, m, steps); err != nil {
				var stepErr *migration.StepError
				if errors.As(err, &stepErr) {
					fmt.Fprintf(os.Stderr, "Step %q failed; the project was rolled back.\n", stepErr.Step)
					if stepErr.RollbackErr != nil {
						fmt.Fprintf(os.Stderr, "Warning: rollback was incomplete; snapshots kept in %s\n",
							filepath.Join(mg.project.SnapshotDir(), m.ID))
					}
				}
				return explain(err)
			}

			if err := mg.project.SetStage(m.ToStage); err != nil {
				return fmt.Errorf("migration completed but the stage could not be recorded: %w", err)
			}
			fmt.Printf("Migration completed. Project is now at stage %s.\n", m.ToStage)
			return nil
		},
	}
}

func newMigrateAbortCmd(a *app) *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "abort",
		Short: "Abort a migration that has not been confirmed",
		RunE: func(cmd *cobra.Command, args []string) error {
			mg, err := a.migrator(cmd.Context(), false)
			if err != nil {
				return err
			}
			m, err := mg.active()
			if err != nil {
				return err
			}
			if err := mg.engine.Abort(m, reason); err != nil {
				return err
			}
			fmt.Printf("Migration %s aborted.\n", m.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "", "Reason recorded in the migration history")
	return cmd
}

func newMigrateStatusCmd(a *app) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the current migration",
		RunE: func(cmd *cobra.Command, args []string) error {
			mg, err := a.migrator(cmd.Context(), false)
			if err != nil {
				return err
			}

			fmt.Printf("Project: %s\nStage:   %s\n", mg.project.ID(), mg.project.Stage())
			migrations := mg.project.Migrations()
			if len(migrations) == 0 {
				fmt.Println("\nNo migrations recorded.")
				return nil
			}
			if !all {
				if m, ok := mg.engine.Active(); ok {
					migrations = []*migration.Migration{m}
				} else {
					migrations = migrations[len(migrations)-1:]
				}
			}
			for _, m := range migrations {
				printMigration(m)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "Show every recorded migration")
	return cmd
}

func printMigration(m *migration.Migration) {
	fmt.Printf("\nMigration %s\n", m.ID)
	fmt.Printf("  %s -> %s: %s\n", m.FromStage, m.ToStage, m.State)
	if m.Report != nil {
		fmt.Printf("  Divergence: %s\n", m.Report.Summary())
	}
	if m.FailedStep != "" {
		fmt.Printf("  Failed step: %s\n  Error: %s\n", m.FailedStep, m.Error)
	}
	if m.RollbackIncomplete {
		fmt.Println("  Rollback incomplete: restore the snapshots manually")
	}
	for _, t := range m.History {
		line := fmt.Sprintf("    %s  %s -> %s", t.At.Local().Format(time.DateTime), t.From, t.To)
		if t.Note != "" {
			line += "  (" + t.Note + ")"
		}
		fmt.Println(line)
	}
}

func newMigrateDiffCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "diff <path>...",
		Short: "Show how files differ from the template baseline",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := a.project()
			if err != nil {
				return err
			}
			for _, rel := range args {
				rel = filepath.ToSlash(filepath.Clean(rel))
				d, err := diffFile(p, rel)
				if err != nil {
					return err
				}
				switch {
				case d.IsBinary:
					fmt.Printf("Binary file %s differs\n", rel)
				case d.UnifiedDiff == "":
					fmt.Printf("%s is unchanged\n", rel)
				default:
					fmt.Print(d.UnifiedDiff)
				}
			}
			return nil
		},
	}
}

// diffFile compares rel against its baseline copy. A file missing on
// either side diffs against empty content.
func diffFile(p *project.Project, rel string) (*divergence.FileDiff, error) {
	baseline, err := p.ReadBaseline(rel)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	current, err := os.ReadFile(filepath.Join(p.Root(), filepath.FromSlash(rel)))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	return divergence.Diff(rel, baseline, current)
}
