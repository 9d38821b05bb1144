package migration

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Snapshotter captures one part of a project's state before a migration and
// restores it on failure. Snapshots live on disk so a crashed migration can
// still be rolled back by a later process.
type Snapshotter interface {
	Name() string
	Snapshot(ctx context.Context, dir string) error
	Restore(ctx context.Context, dir string) error
}

// EnvSnapshotter copies environment configuration files.
type EnvSnapshotter struct {
	Root  string
	Files []string
}

type envIndex struct {
	Files map[string]bool `json:"files"` // relative path -> existed before migration
}

// Name implements Snapshotter.
func (s *EnvSnapshotter) Name() string { return "env" }

// Snapshot implements Snapshotter.
func (s *EnvSnapshotter) Snapshot(_ context.Context, dir string) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create env snapshot directory: %w", err)
	}

	index := envIndex{Files: make(map[string]bool, len(s.Files))}
	for i, rel := range s.Files {
		data, err := os.ReadFile(filepath.Join(s.Root, rel))
		if errors.Is(err, os.ErrNotExist) {
			index.Files[rel] = false
			continue
		}
		if err != nil {
			return fmt.Errorf("read %s: %w", rel, err)
		}
		if err := os.WriteFile(filepath.Join(dir, fmt.Sprintf("%d.env", i)), data, 0o600); err != nil {
			return fmt.Errorf("snapshot %s: %w", rel, err)
		}
		index.Files[rel] = true
	}

	data, err := json.Marshal(index)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "index.json"), data, 0o600)
}

// Restore implements Snapshotter. Files that did not exist before the
// migration are removed.
func (s *EnvSnapshotter) Restore(_ context.Context, dir string) error {
	raw, err := os.ReadFile(filepath.Join(dir, "index.json"))
	if err != nil {
		return fmt.Errorf("read env snapshot index: %w", err)
	}
	var index envIndex
	if err := json.Unmarshal(raw, &index); err != nil {
		return fmt.Errorf("parse env snapshot index: %w", err)
	}

	var errs []error
	for i, rel := range s.Files {
		existed, ok := index.Files[rel]
		if !ok {
			continue
		}
		target := filepath.Join(s.Root, rel)
		if !existed {
			if err := os.Remove(target); err != nil && !errors.Is(err, os.ErrNotExist) {
				errs = append(errs, fmt.Errorf("remove %s: %w", rel, err))
			}
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, fmt.Sprintf("%d.env", i)))
		if err != nil {
			errs = append(errs, fmt.Errorf("read snapshot of %s: %w", rel, err))
			continue
		}
		if err := os.WriteFile(target, data, 0o600); err != nil {
			errs = append(errs, fmt.Errorf("restore %s: %w", rel, err))
		}
	}
	return errors.Join(errs...)
}

// PostgresSnapshotter dumps and restores a database with pg_dump and psql.
type PostgresSnapshotter struct {
	DatabaseURL string
	// PgDump and Psql override the binaries found on PATH.
	PgDump string
	Psql   string
}

// Name implements Snapshotter.
func (s *PostgresSnapshotter) Name() string { return "database" }

// Snapshot implements Snapshotter.
func (s *PostgresSnapshotter) Snapshot(ctx context.Context, dir string) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create database snapshot directory: %w", err)
	}
	return run(ctx, orDefault(s.PgDump, "pg_dump"),
		"--format=plain",
		"--no-owner",
		"--no-acl",
		"--clean",
		"--if-exists",
		"--file", filepath.Join(dir, "dump.sql"),
		s.DatabaseURL,
	)
}

// Restore implements Snapshotter.
func (s *PostgresSnapshotter) Restore(ctx context.Context, dir string) error {
	return run(ctx, orDefault(s.Psql, "psql"),
		"--no-psqlrc",
		"--set", "ON_ERROR_STOP=1",
		"--single-transaction",
		"--file", filepath.Join(dir, "dump.sql"),
		s.DatabaseURL,
	)
}

func run(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return fmt.Errorf("%s: %s", filepath.Base(name), msg)
	}
	return nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
