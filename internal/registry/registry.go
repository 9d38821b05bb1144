// Package registry is the server-side authority for issued licenses. It issues
// and revokes licenses and verifies presented tokens against revocation state.
package registry

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/vibebiz/premium/internal/license"
	"github.com/vibebiz/premium/internal/models"
)

// Store persists licenses and usage log entries.
type Store interface {
	CreateLicense(ctx context.Context, lic *models.License) error
	GetLicenseByTokenID(ctx context.Context, tokenID uuid.UUID) (*models.License, error)
	// RevokeLicense marks the license revoked in a single atomic update and
	// returns the resulting record. Revoking an already revoked license
	// returns it unchanged.
	RevokeLicense(ctx context.Context, tokenID uuid.UUID, reason string, at time.Time) (*models.License, error)
	ListLicensesByCustomer(ctx context.Context, customerID string) ([]*models.License, error)
	AppendUsage(ctx context.Context, entry *models.UsageEntry) error
	ListUsage(ctx context.Context, licenseID uuid.UUID, limit int) ([]*models.UsageEntry, error)
}

// Recorder receives verification outcomes for metrics.
type Recorder interface {
	RecordVerification(status string)
}

var (
	// ErrLicenseNotFound indicates no license exists for the token ID.
	ErrLicenseNotFound = errors.New("license not found")
	// ErrLicenseRevoked is returned when renewing a revoked license.
	ErrLicenseRevoked = errors.New("license is revoked")
	// ErrCustomerRequired is returned when a customer ID is missing.
	ErrCustomerRequired = errors.New("customer id is required")
)

// VerifyRequest is a token presented for verification.
type VerifyRequest struct {
	Token string
	// Target describes what the check is for, e.g. "verify" or "download:auth@1.2.0".
	Target string
	Caller string
}

// VerifyResult is the registry's answer for a presented token.
type VerifyResult struct {
	Status  models.LicenseStatus
	Claims  *license.Claims
	License *models.License
	Message string
	err     error
}

// Err returns the typed license error matching the status, or nil when valid.
func (r *VerifyResult) Err() error {
	return r.err
}

// Service implements the license registry operations.
type Service struct {
	store     Store
	issuer    *license.Issuer
	publicKey ed25519.PublicKey
	recorder  Recorder
	now       func() time.Time
	logger    zerolog.Logger
}

// NewService creates a registry Service. The signer's key both issues and verifies tokens.
func NewService(store Store, signer *license.Signer, logger zerolog.Logger) *Service {
	return &Service{
		store:     store,
		issuer:    license.NewIssuer(signer),
		publicKey: signer.PublicKey(),
		now:       time.Now,
		logger:    logger.With().Str("component", "license_registry").Logger(),
	}
}

// SetRecorder attaches a metrics recorder.
func (s *Service) SetRecorder(r Recorder) {
	s.recorder = r
}

// SetClock overrides the service clock. Intended for tests.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
	s.issuer.WithClock(now)
}

// PublicKey returns the key clients verify tokens with.
func (s *Service) PublicKey() ed25519.PublicKey {
	return s.publicKey
}

// IssueLicense creates a license record and returns the signed token.
func (s *Service) IssueLicense(ctx context.Context, customerID string, tier license.Tier, ttl time.Duration) (string, *models.License, error) {
	token, claims, err := s.issuer.Issue(strings.TrimSpace(customerID), tier, ttl)
	if err != nil {
		return "", nil, err
	}

	lic := models.NewLicense(claims)
	if err := s.store.CreateLicense(ctx, lic); err != nil {
		return "", nil, fmt.Errorf("store license: %w", err)
	}

	s.logger.Info().
		Str("license_id", lic.ID.String()).
		Str("token_id", lic.TokenID.String()).
		Str("customer_id", lic.CustomerID).
		Str("tier", lic.Tier.String()).
		Time("expires_at", lic.ExpiresAt).
		Msg("license issued")

	return token, lic, nil
}

// RenewLicense issues a new token for the same customer and tier. The old
// token stays valid until it expires or is revoked.
func (s *Service) RenewLicense(ctx context.Context, tokenID uuid.UUID, ttl time.Duration) (string, *models.License, error) {
	existing, err := s.GetLicense(ctx, tokenID)
	if err != nil {
		return "", nil, err
	}
	if existing.Revoked {
		return "", nil, ErrLicenseRevoked
	}
	return s.IssueLicense(ctx, existing.CustomerID, existing.Tier, ttl)
}

// RevokeLicense revokes a license. It is idempotent: a second call returns
// the original revocation unchanged.
func (s *Service) RevokeLicense(ctx context.Context, tokenID uuid.UUID, reason string) (*models.License, error) {
	lic, err := s.store.RevokeLicense(ctx, tokenID, strings.TrimSpace(reason), s.now().UTC())
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, ErrLicenseNotFound
		}
		return nil, fmt.Errorf("revoke license: %w", err)
	}

	s.logger.Info().
		Str("token_id", tokenID.String()).
		Str("reason", lic.RevokedReason).
		Msg("license revoked")

	return lic, nil
}

// GetLicense returns the license record for a token ID.
func (s *Service) GetLicense(ctx context.Context, tokenID uuid.UUID) (*models.License, error) {
	lic, err := s.store.GetLicenseByTokenID(ctx, tokenID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, ErrLicenseNotFound
		}
		return nil, fmt.Errorf("get license: %w", err)
	}
	return lic, nil
}

// ListLicenses returns every license issued to a customer, newest first.
func (s *Service) ListLicenses(ctx context.Context, customerID string) ([]*models.License, error) {
	if customerID == "" {
		return nil, ErrCustomerRequired
	}
	licenses, err := s.store.ListLicensesByCustomer(ctx, customerID)
	if err != nil {
		return nil, fmt.Errorf("list licenses: %w", err)
	}
	return licenses, nil
}

// ListUsage returns the most recent usage entries for a license.
func (s *Service) ListUsage(ctx context.Context, tokenID uuid.UUID, limit int) ([]*models.UsageEntry, error) {
	lic, err := s.GetLicense(ctx, tokenID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	return s.store.ListUsage(ctx, lic.ID, limit)
}

// RecordUsage appends a usage entry for a license.
func (s *Service) RecordUsage(ctx context.Context, entry *models.UsageEntry) error {
	if err := s.store.AppendUsage(ctx, entry); err != nil {
		return fmt.Errorf("append usage entry: %w", err)
	}
	return nil
}

// Verify checks a token's signature, revocation state and expiry. Every call
// is recorded as a usage entry, whatever the outcome. The returned error is
// only non-nil for infrastructure failures.
func (s *Service) Verify(ctx context.Context, req VerifyRequest) (*VerifyResult, error) {
	result := s.evaluate(ctx, req.Token)
	if result.Status == "" {
		return nil, result.err
	}

	target := req.Target
	if target == "" {
		target = string(models.UsageActionVerify)
	}
	var licenseID *uuid.UUID
	if result.License != nil {
		id := result.License.ID
		licenseID = &id
	}

	entry := models.NewUsageEntry(licenseID, models.UsageActionVerify, target, string(result.Status), req.Caller)
	if err := s.RecordUsage(ctx, entry); err != nil {
		return nil, err
	}

	if s.recorder != nil {
		s.recorder.RecordVerification(string(result.Status))
	}

	s.logger.Debug().
		Str("status", string(result.Status)).
		Str("target", target).
		Str("caller", req.Caller).
		Msg("license verified")

	return result, nil
}

// evaluate determines the status of a token. A result with an empty status
// carries an infrastructure error.
func (s *Service) evaluate(ctx context.Context, token string) *VerifyResult {
	claims, err := license.ParseToken(token, s.publicKey)
	if err != nil {
		return malformed(err)
	}

	lic, err := s.store.GetLicenseByTokenID(ctx, claims.TokenID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return malformed(fmt.Errorf("%w: license was not issued by this registry", license.ErrMalformed))
		}
		return &VerifyResult{err: fmt.Errorf("look up license: %w", err)}
	}

	if lic.Tier != claims.Tier || lic.CustomerID != claims.CustomerID {
		return malformed(fmt.Errorf("%w: claims do not match issued license", license.ErrMalformed))
	}

	result := &VerifyResult{Claims: claims, License: lic}

	switch {
	case lic.Revoked:
		revokedErr := &license.RevokedError{TokenID: lic.TokenID.String(), Reason: lic.RevokedReason}
		if lic.RevokedAt != nil {
			revokedErr.RevokedAt = *lic.RevokedAt
		}
		result.Status = models.LicenseStatusRevoked
		result.err = revokedErr
	case lic.IsExpired(s.now()):
		result.Status = models.LicenseStatusExpired
		result.err = &license.ExpiredError{TokenID: lic.TokenID.String(), ExpiresAt: lic.ExpiresAt}
	default:
		result.Status = models.LicenseStatusValid
	}

	if result.err != nil {
		result.Message = result.err.Error()
	}
	return result
}

func malformed(err error) *VerifyResult {
	if !errors.Is(err, license.ErrMalformed) && !errors.Is(err, license.ErrInvalidSignature) {
		err = fmt.Errorf("%w: %v", license.ErrMalformed, err)
	}
	return &VerifyResult{
		Status:  models.LicenseStatusMalformed,
		Message: err.Error(),
		err:     err,
	}
}
