package migration

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5"
	"github.com/joho/godotenv"
)

// Step is one unit of work in a migration.
type Step interface {
	Name() string
	Run(ctx context.Context) error
}

// FuncStep adapts a function to a Step.
type FuncStep struct {
	StepName string
	Fn       func(ctx context.Context) error
}

// Name implements Step.
func (s FuncStep) Name() string { return s.StepName }

// Run implements Step.
func (s FuncStep) Run(ctx context.Context) error { return s.Fn(ctx) }

// EnvStep sets keys in a dotenv file, creating it if needed.
type EnvStep struct {
	Path string
	Set  map[string]string
}

// Name implements Step.
func (s *EnvStep) Name() string { return "env:" + s.Path }

// Run implements Step.
func (s *EnvStep) Run(_ context.Context) error {
	env, err := godotenv.Read(s.Path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("read %s: %w", s.Path, err)
		}
		env = make(map[string]string)
	}
	for k, v := range s.Set {
		env[k] = v
	}
	if err := godotenv.Write(env, s.Path); err != nil {
		return fmt.Errorf("write %s: %w", s.Path, err)
	}
	return nil
}

// SQLStep applies a SQL file to a database inside one transaction.
type SQLStep struct {
	DatabaseURL string
	File        string
}

// Name implements Step.
func (s *SQLStep) Name() string { return "sql:" + s.File }

// Run implements Step.
func (s *SQLStep) Run(ctx context.Context) error {
	script, err := os.ReadFile(s.File)
	if err != nil {
		return fmt.Errorf("read %s: %w", s.File, err)
	}

	conn, err := pgx.Connect(ctx, s.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer conn.Close(ctx)

	return pgx.BeginFunc(ctx, conn, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, string(script)); err != nil {
			return fmt.Errorf("apply %s: %w", s.File, err)
		}
		return nil
	})
}

// Installer installs a component into the project.
type Installer interface {
	Install(ctx context.Context, slug, version string) error
}

// InstallComponentStep installs one premium component.
type InstallComponentStep struct {
	Installer Installer
	Slug      string
	Version   string
}

// Name implements Step.
func (s *InstallComponentStep) Name() string {
	if s.Version == "" {
		return "install:" + s.Slug
	}
	return "install:" + s.Slug + "@" + s.Version
}

// Run implements Step.
func (s *InstallComponentStep) Run(ctx context.Context) error {
	return s.Installer.Install(ctx, s.Slug, s.Version)
}
