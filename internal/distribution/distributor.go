// Package distribution authorizes component downloads with short-lived,
// single-use grants and serves the artifacts behind them.
package distribution

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/vibebiz/premium/internal/catalog"
	"github.com/vibebiz/premium/internal/license"
	"github.com/vibebiz/premium/internal/models"
	"github.com/vibebiz/premium/internal/registry"
)

// ReasonDependencyMissing is the denial reason for unmet dependencies.
const ReasonDependencyMissing = "dependency_missing"

// ReasonNotFound is the denial reason for unknown components.
const ReasonNotFound = "not_found"

// DependencyError is returned when a component's dependencies are not installed.
type DependencyError struct {
	Component string
	Missing   []string
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("%s requires components that are not installed: %s; install them first",
		e.Component, strings.Join(e.Missing, ", "))
}

// Registry is the license registry view the distributor authorizes against.
type Registry interface {
	Verify(ctx context.Context, req registry.VerifyRequest) (*registry.VerifyResult, error)
	GetLicense(ctx context.Context, tokenID uuid.UUID) (*models.License, error)
	RecordUsage(ctx context.Context, entry *models.UsageEntry) error
}

// Resolver looks up component descriptors.
type Resolver interface {
	Resolve(ctx context.Context, slug, version string) (*models.Component, error)
}

// Recorder receives distribution events for metrics.
type Recorder interface {
	GrantIssued()
	GrantDenied(reason string)
	Download(outcome string)
}

// DownloadRequest asks for a grant to fetch one component version.
type DownloadRequest struct {
	Token   string
	Slug    string
	Version string
	// Installed lists component slugs already present in the caller's project.
	Installed []string
	Caller    string
}

// Redemption is a redeemed grant. Exactly one of Body or URL is set.
type Redemption struct {
	Grant     *Grant
	Component *models.Component
	Body      io.ReadCloser
	URL       string
}

// Config holds the distributor's collaborators.
type Config struct {
	Registry Registry
	Catalog  Resolver
	Signer   *GrantSigner
	Ledger   Ledger
	Store    ArtifactStore
	// Presign redirects downloads to the store when it implements Presigner.
	Presign  bool
	Recorder Recorder
	Logger   zerolog.Logger
}

// Distributor issues and redeems download grants.
type Distributor struct {
	registry Registry
	catalog  Resolver
	signer   *GrantSigner
	ledger   Ledger
	store    ArtifactStore
	presign  bool
	recorder Recorder
	logger   zerolog.Logger
}

// NewDistributor creates a Distributor.
func NewDistributor(cfg Config) *Distributor {
	ledger := cfg.Ledger
	if ledger == nil {
		ledger = NewMemoryLedger()
	}
	return &Distributor{
		registry: cfg.Registry,
		catalog:  cfg.Catalog,
		signer:   cfg.Signer,
		ledger:   ledger,
		store:    cfg.Store,
		presign:  cfg.Presign,
		recorder: cfg.Recorder,
		logger:   cfg.Logger.With().Str("component", "distributor").Logger(),
	}
}

// RequestDownload authorizes a download against the registry's current view
// of the license and returns a grant. Listing a component in the catalog
// does not imply this succeeds.
func (d *Distributor) RequestDownload(ctx context.Context, req DownloadRequest) (*Grant, error) {
	result, err := d.registry.Verify(ctx, registry.VerifyRequest{
		Token:  req.Token,
		Target: "download:" + req.Slug,
		Caller: req.Caller,
	})
	if err != nil {
		return nil, err
	}
	if result.Status != models.LicenseStatusValid {
		d.deny(ctx, result.License, req.Slug, string(license.ReasonOf(result.Err())), req.Caller)
		return nil, result.Err()
	}
	lic := result.License

	comp, err := d.catalog.Resolve(ctx, req.Slug, req.Version)
	if err != nil {
		if errors.Is(err, catalog.ErrComponentNotFound) {
			d.deny(ctx, lic, req.Slug, ReasonNotFound, req.Caller)
		}
		return nil, err
	}

	if err := license.RequireTier(lic.Tier, comp.RequiredTier); err != nil {
		d.deny(ctx, lic, comp.Ref(), string(license.ReasonTierInsufficient), req.Caller)
		return nil, err
	}

	if missing := missingDependencies(comp, req.Installed); len(missing) > 0 {
		d.deny(ctx, lic, comp.Ref(), ReasonDependencyMissing, req.Caller)
		return nil, &DependencyError{Component: comp.Ref(), Missing: missing}
	}

	grant, err := d.signer.Sign(lic.TokenID, comp.Slug, comp.Version)
	if err != nil {
		return nil, err
	}

	d.record(ctx, &lic.ID, comp.Ref(), "granted", req.Caller)
	if d.recorder != nil {
		d.recorder.GrantIssued()
	}
	d.logger.Info().
		Str("grant_id", grant.ID).
		Str("component", comp.Ref()).
		Str("customer_id", lic.CustomerID).
		Time("expires_at", grant.ExpiresAt).
		Msg("download grant issued")

	return grant, nil
}

// Redeem validates a grant reference, opens the artifact and consumes the grant.
func (d *Distributor) Redeem(ctx context.Context, reference, caller string) (*Redemption, error) {
	grant, err := d.signer.Parse(reference)
	if err != nil {
		d.download(outcomeOf(err))
		return nil, err
	}

	lic, err := d.registry.GetLicense(ctx, grant.TokenID)
	if err != nil {
		d.download("invalid")
		return nil, fmt.Errorf("%w: %v", ErrGrantInvalid, err)
	}
	if lic.Revoked {
		d.download("revoked")
		return nil, &license.RevokedError{TokenID: lic.TokenID.String(), Reason: lic.RevokedReason}
	}

	comp, err := d.catalog.Resolve(ctx, grant.Slug, grant.Version)
	if err != nil {
		return nil, err
	}

	// The artifact is opened before the grant is consumed so a storage
	// failure leaves the grant usable for a retry.
	redemption := &Redemption{Grant: grant, Component: comp}
	if presigner, ok := d.store.(Presigner); ok && d.presign {
		redemption.URL, err = presigner.PresignGet(ctx, comp.StorageLocation, d.signer.TTL())
	} else {
		redemption.Body, err = d.store.Open(ctx, comp.StorageLocation)
	}
	if err != nil {
		d.download("error")
		return nil, fmt.Errorf("open artifact %s: %w", comp.Ref(), err)
	}

	if err := d.ledger.Consume(ctx, grant.ID, grant.ExpiresAt); err != nil {
		if redemption.Body != nil {
			redemption.Body.Close()
		}
		if errors.Is(err, ErrGrantConsumed) {
			d.download("consumed")
			d.record(ctx, &lic.ID, comp.Ref(), "replayed", caller)
		}
		return nil, err
	}

	d.record(ctx, &lic.ID, comp.Ref(), "redeemed", caller)
	d.download("served")
	d.logger.Info().
		Str("grant_id", grant.ID).
		Str("component", comp.Ref()).
		Bool("presigned", redemption.URL != "").
		Msg("download grant redeemed")

	return redemption, nil
}

func (d *Distributor) deny(ctx context.Context, lic *models.License, target, reason, caller string) {
	var licenseID *uuid.UUID
	if lic != nil {
		id := lic.ID
		licenseID = &id
	}
	d.record(ctx, licenseID, target, "denied:"+reason, caller)
	if d.recorder != nil {
		d.recorder.GrantDenied(reason)
	}
}

func (d *Distributor) record(ctx context.Context, licenseID *uuid.UUID, target, outcome, caller string) {
	entry := models.NewUsageEntry(licenseID, models.UsageActionDownload, target, outcome, caller)
	if err := d.registry.RecordUsage(ctx, entry); err != nil {
		d.logger.Error().Err(err).Str("target", target).Msg("failed to record download usage")
	}
}

func (d *Distributor) download(outcome string) {
	if d.recorder != nil {
		d.recorder.Download(outcome)
	}
}

func missingDependencies(comp *models.Component, installed []string) []string {
	have := make(map[string]bool, len(installed))
	for _, slug := range installed {
		have[slug] = true
	}
	var missing []string
	for _, dep := range comp.Dependencies {
		if !have[dep] {
			missing = append(missing, dep)
		}
	}
	sort.Strings(missing)
	return missing
}

func outcomeOf(err error) string {
	if errors.Is(err, ErrGrantExpired) {
		return "expired"
	}
	return "invalid"
}
