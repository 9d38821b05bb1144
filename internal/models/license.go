package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/vibebiz/premium/internal/license"
)

// LicenseStatus is the registry's verdict on a license token.
type LicenseStatus string

const (
	// LicenseStatusValid means the token is signed, issued here, unexpired and not revoked.
	LicenseStatusValid LicenseStatus = "valid"
	// LicenseStatusExpired means the token's expiry has passed.
	LicenseStatusExpired LicenseStatus = "expired"
	// LicenseStatusRevoked means an administrator revoked the license.
	LicenseStatusRevoked LicenseStatus = "revoked"
	// LicenseStatusMalformed means the token could not be parsed, verified or found.
	LicenseStatusMalformed LicenseStatus = "malformed"
)

// License is the registry's authoritative record of an issued license.
// It is mutated only by revocation.
type License struct {
	ID            uuid.UUID    `json:"id"`
	TokenID       uuid.UUID    `json:"token_id"`
	CustomerID    string       `json:"customer_id"`
	Tier          license.Tier `json:"tier"`
	IssuedAt      time.Time    `json:"issued_at"`
	ExpiresAt     time.Time    `json:"expires_at"`
	Revoked       bool         `json:"revoked"`
	RevokedReason string       `json:"revoked_reason,omitempty"`
	RevokedAt     *time.Time   `json:"revoked_at,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
}

// NewLicense creates a License record from freshly issued claims.
func NewLicense(claims *license.Claims) *License {
	return &License{
		ID:         uuid.New(),
		TokenID:    claims.TokenID,
		CustomerID: claims.CustomerID,
		Tier:       claims.Tier,
		IssuedAt:   claims.IssuedAt,
		ExpiresAt:  claims.ExpiresAt,
		CreatedAt:  time.Now().UTC(),
	}
}

// IsExpired reports whether the license has expired at the given time.
func (l *License) IsExpired(now time.Time) bool {
	return !now.Before(l.ExpiresAt)
}
