package migration

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// Step kinds accepted in a migration plan.
const (
	KindInstall = "install"
	KindEnv     = "env"
	KindSQL     = "sql"
)

// DefaultEnvFile is the dotenv file env steps write to.
const DefaultEnvFile = ".env"

// ErrDatabaseRequired is returned when a plan has SQL steps but no database URL.
var ErrDatabaseRequired = errors.New("sql steps require a database URL")

// StepSpec is the persisted form of a plan step, e.g. "install:billing@1.2.0",
// "env:FEATURE_BILLING=on" or "sql:migrations/007_billing.sql".
type StepSpec struct {
	Kind string
	Arg  string
}

func (s StepSpec) String() string { return s.Kind + ":" + s.Arg }

// ParseStepSpec parses and validates a single step spec.
func ParseStepSpec(raw string) (StepSpec, error) {
	kind, arg, ok := strings.Cut(strings.TrimSpace(raw), ":")
	if !ok || arg == "" {
		return StepSpec{}, fmt.Errorf("invalid step %q: expected kind:argument", raw)
	}
	spec := StepSpec{Kind: kind, Arg: arg}

	switch kind {
	case KindInstall:
		slug, _, _ := strings.Cut(arg, "@")
		if slug == "" {
			return StepSpec{}, fmt.Errorf("invalid step %q: missing component slug", raw)
		}
	case KindEnv:
		key, _, ok := strings.Cut(arg, "=")
		if !ok || strings.TrimSpace(key) == "" {
			return StepSpec{}, fmt.Errorf("invalid step %q: expected KEY=VALUE", raw)
		}
	case KindSQL:
	default:
		return StepSpec{}, fmt.Errorf("invalid step %q: unknown kind %q", raw, kind)
	}
	return spec, nil
}

// ParseStepSpecs parses every spec, returning their canonical strings.
func ParseStepSpecs(raw []string) ([]string, error) {
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		spec, err := ParseStepSpec(r)
		if err != nil {
			return nil, err
		}
		out = append(out, spec.String())
	}
	return out, nil
}

// StepFactory turns persisted step specs into runnable steps for one project.
type StepFactory struct {
	Root        string
	Installer   Installer
	DatabaseURL string
	// EnvFile is relative to Root; DefaultEnvFile when empty.
	EnvFile string
}

func (f *StepFactory) envFile() string {
	if f.EnvFile == "" {
		return DefaultEnvFile
	}
	return f.EnvFile
}

// Build creates the steps for specs. Consecutive env specs are merged into
// one EnvStep.
func (f *StepFactory) Build(specs []string) ([]Step, error) {
	steps := make([]Step, 0, len(specs))
	var env *EnvStep

	for _, raw := range specs {
		spec, err := ParseStepSpec(raw)
		if err != nil {
			return nil, err
		}
		if spec.Kind != KindEnv {
			env = nil
		}

		switch spec.Kind {
		case KindInstall:
			if f.Installer == nil {
				return nil, errors.New("install steps require an installer")
			}
			slug, version, _ := strings.Cut(spec.Arg, "@")
			steps = append(steps, &InstallComponentStep{Installer: f.Installer, Slug: slug, Version: version})
		case KindEnv:
			key, value, _ := strings.Cut(spec.Arg, "=")
			if env == nil {
				env = &EnvStep{Path: filepath.Join(f.Root, f.envFile()), Set: map[string]string{}}
				steps = append(steps, env)
			}
			env.Set[strings.TrimSpace(key)] = value
		case KindSQL:
			if f.DatabaseURL == "" {
				return nil, ErrDatabaseRequired
			}
			file := spec.Arg
			if !filepath.IsAbs(file) {
				file = filepath.Join(f.Root, file)
			}
			steps = append(steps, &SQLStep{DatabaseURL: f.DatabaseURL, File: file})
		}
	}
	return steps, nil
}

// Snapshotters returns the snapshotters needed to roll back specs: the env
// file is always captured and the database when any SQL step is planned.
func (f *StepFactory) Snapshotters(specs []string) []Snapshotter {
	needDB := false
	for _, raw := range specs {
		spec, err := ParseStepSpec(raw)
		if err != nil {
			continue
		}
		if spec.Kind == KindSQL {
			needDB = true
		}
	}

	snaps := []Snapshotter{&EnvSnapshotter{Root: f.Root, Files: []string{f.envFile()}}}
	if needDB && f.DatabaseURL != "" {
		snaps = append(snaps, &PostgresSnapshotter{DatabaseURL: f.DatabaseURL})
	}
	return snaps
}
