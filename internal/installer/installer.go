// Package installer downloads, verifies and unpacks premium components into
// a project.
package installer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Masterminds/semver/v3"
	"github.com/rs/zerolog"

	"github.com/vibebiz/premium/internal/bundle"
	"github.com/vibebiz/premium/internal/catalog"
	"github.com/vibebiz/premium/internal/client"
	"github.com/vibebiz/premium/internal/integrity"
	"github.com/vibebiz/premium/internal/license"
	"github.com/vibebiz/premium/internal/models"
	"github.com/vibebiz/premium/internal/project"
)

// Registry is the registry API the installer talks to.
type Registry interface {
	ComponentVersions(ctx context.Context, token, slug string) ([]*models.Component, error)
	RequestDownload(ctx context.Context, token, slug, version string, installed []string) (*client.Ticket, error)
	Fetch(ctx context.Context, ticket *client.Ticket) (*client.Artifact, error)
}

// Validator checks the license before a privileged operation.
type Validator interface {
	Check(ctx context.Context, key string, required license.Tier) (*license.Outcome, error)
}

// Config holds the installer's collaborators.
type Config struct {
	Registry   Registry
	Validator  Validator
	Project    *project.Project
	LicenseKey string
	Logger     zerolog.Logger
}

// Installer installs components into one project.
type Installer struct {
	registry  Registry
	validator Validator
	project   *project.Project
	key       string
	logger    zerolog.Logger
}

// New creates an Installer.
func New(cfg Config) *Installer {
	return &Installer{
		registry:  cfg.Registry,
		validator: cfg.Validator,
		project:   cfg.Project,
		key:       cfg.LicenseKey,
		logger:    cfg.Logger.With().Str("component", "installer").Logger(),
	}
}

// Result describes a completed install.
type Result struct {
	Component *models.Component
	Path      string
	// AlreadyInstalled is true when the version was present and nothing changed.
	AlreadyInstalled bool
	Outcome          *license.Outcome
}

// Install installs slug at version ("" or "latest" for the newest) and
// implements migration.Installer.
func (i *Installer) Install(ctx context.Context, slug, version string) error {
	_, err := i.InstallComponent(ctx, slug, version)
	return err
}

// InstallComponent runs the full install flow: license check, grant, download,
// hash verification, extraction and recording in the project file. Nothing is
// written into the project unless the artifact hash matches the catalog.
func (i *Installer) InstallComponent(ctx context.Context, slug, version string) (*Result, error) {
	if i.key == "" {
		return nil, license.ErrMissingKey
	}

	comp, err := i.resolve(ctx, slug, version)
	if err != nil {
		return nil, err
	}

	outcome, err := i.validator.Check(ctx, i.key, comp.RequiredTier)
	if err != nil {
		return nil, err
	}

	dest := filepath.Join(i.project.ComponentsDir(), comp.Slug)
	for _, installed := range i.project.Installed() {
		if installed.Slug == comp.Slug && installed.Version == comp.Version && installed.ContentHash == comp.ContentHash {
			if _, err := os.Stat(dest); err == nil {
				return &Result{Component: comp, Path: dest, AlreadyInstalled: true, Outcome: outcome}, nil
			}
		}
	}

	ticket, err := i.registry.RequestDownload(ctx, i.key, comp.Slug, comp.Version, i.project.InstalledSlugs())
	if err != nil {
		return nil, err
	}

	archivePath, err := i.download(ctx, ticket, comp)
	if err != nil {
		return nil, err
	}
	defer os.Remove(archivePath)

	if err := i.extract(ctx, archivePath, dest); err != nil {
		return nil, err
	}

	if err := i.project.RecordInstall(project.InstalledComponent{
		Slug:        comp.Slug,
		Version:     comp.Version,
		ContentHash: comp.ContentHash,
	}); err != nil {
		return nil, fmt.Errorf("record install: %w", err)
	}

	i.logger.Info().
		Str("component", comp.Ref()).
		Str("path", dest).
		Msg("component installed")

	return &Result{Component: comp, Path: dest, Outcome: outcome}, nil
}

func (i *Installer) resolve(ctx context.Context, slug, version string) (*models.Component, error) {
	versions, err := i.registry.ComponentVersions(ctx, i.key, slug)
	if err != nil {
		return nil, err
	}
	if len(versions) == 0 {
		return nil, fmt.Errorf("%w: %s", catalog.ErrComponentNotFound, slug)
	}

	if version == "" || version == catalog.LatestVersion {
		latest := versions[0]
		latestVer, _ := semver.NewVersion(latest.Version)
		for _, c := range versions[1:] {
			v, err := semver.NewVersion(c.Version)
			if err == nil && (latestVer == nil || v.GreaterThan(latestVer)) {
				latest, latestVer = c, v
			}
		}
		return latest, nil
	}

	for _, c := range versions {
		if c.Version == version {
			return c, nil
		}
	}
	// The registry only lists versions the license can see. Asking for a
	// grant surfaces the tier denial for a version that exists above it.
	if _, err := i.registry.RequestDownload(ctx, i.key, slug, version, i.project.InstalledSlugs()); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("%w: %s@%s", catalog.ErrComponentNotFound, slug, version)
}

// download streams the artifact into a temp file while hashing it.
func (i *Installer) download(ctx context.Context, ticket *client.Ticket, comp *models.Component) (string, error) {
	artifact, err := i.registry.Fetch(ctx, ticket)
	if err != nil {
		return "", err
	}
	defer artifact.Body.Close()

	if artifact.ContentHash != "" && artifact.ContentHash != comp.ContentHash {
		i.logger.Warn().
			Str("component", comp.Ref()).
			Str("advertised", artifact.ContentHash).
			Msg("registry advertised a different content hash than the catalog")
	}

	if err := os.MkdirAll(i.project.Dir(), 0o755); err != nil {
		return "", err
	}
	tmp, err := os.CreateTemp(i.project.Dir(), "download-*"+bundle.Extension)
	if err != nil {
		return "", fmt.Errorf("create download file: %w", err)
	}

	_, err = integrity.Copy(tmp, artifact.Body, comp.ContentHash)
	closeErr := tmp.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tmp.Name())
		if integrity.IsMismatch(err) {
			i.logger.Error().Err(err).Str("component", comp.Ref()).Msg("downloaded artifact failed verification")
		}
		var readErr *integrity.ReadError
		if errors.As(err, &readErr) {
			return "", &client.NetworkError{Op: "download component", Err: readErr.Err}
		}
		return "", err
	}
	return tmp.Name(), nil
}

// extract unpacks into a staging directory and swaps it into place, so a
// failed extraction leaves any previous version untouched.
func (i *Installer) extract(ctx context.Context, archivePath, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	staging, err := os.MkdirTemp(filepath.Dir(dest), ".staging-*")
	if err != nil {
		return fmt.Errorf("create staging directory: %w", err)
	}
	defer os.RemoveAll(staging)

	f, err := os.Open(archivePath)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := bundle.Unpack(ctx, f, staging, 1); err != nil {
		return err
	}

	if err := os.RemoveAll(dest); err != nil {
		return fmt.Errorf("remove previous install: %w", err)
	}
	if err := os.Rename(staging, dest); err != nil {
		return fmt.Errorf("move component into place: %w", err)
	}
	return nil
}
