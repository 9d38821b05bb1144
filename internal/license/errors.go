package license

import (
	"errors"
	"fmt"
	"time"
)

// EnvLicenseKey is the environment variable the CLI reads the license key from.
const EnvLicenseKey = "VIBEBIZ_LICENSE_KEY"

// Reason classifies a license failure for API responses and CLI messages.
type Reason string

const (
	ReasonNone             Reason = ""
	ReasonMissing          Reason = "missing"
	ReasonMalformed        Reason = "malformed"
	ReasonExpired          Reason = "expired"
	ReasonRevoked          Reason = "revoked"
	ReasonTierInsufficient Reason = "tier_insufficient"
	ReasonNetwork          Reason = "network"
)

var (
	// ErrMissingKey indicates no license key was supplied.
	ErrMissingKey = errors.New("no license key found: set the " + EnvLicenseKey + " environment variable")
	// ErrMalformed indicates the license key cannot be parsed.
	ErrMalformed = errors.New("license key is malformed")
	// ErrInvalidSignature indicates the signature does not verify against the public key.
	ErrInvalidSignature = errors.New("license key signature is invalid")
	// ErrExpired matches any *ExpiredError.
	ErrExpired = errors.New("license has expired")
	// ErrRevoked matches any *RevokedError.
	ErrRevoked = errors.New("license has been revoked")
	// ErrTierInsufficient matches any *TierError.
	ErrTierInsufficient = errors.New("license tier is insufficient")
	// ErrInvalidPublicKey indicates the public key has the wrong size or encoding.
	ErrInvalidPublicKey = errors.New("invalid Ed25519 public key")
	// ErrInvalidPrivateKey indicates the private key has the wrong size or encoding.
	ErrInvalidPrivateKey = errors.New("invalid Ed25519 private key")
)

// ExpiredError is returned for a correctly signed token whose expiry has passed.
type ExpiredError struct {
	TokenID   string
	ExpiresAt time.Time
}

func (e *ExpiredError) Error() string {
	return fmt.Sprintf("license expired on %s; renew your license to continue",
		e.ExpiresAt.UTC().Format("2006-01-02"))
}

// Is makes errors.Is(err, ErrExpired) match.
func (e *ExpiredError) Is(target error) bool { return target == ErrExpired }

// RevokedError is returned once the registry reports a license as revoked.
type RevokedError struct {
	TokenID   string
	Reason    string
	RevokedAt time.Time
}

func (e *RevokedError) Error() string {
	msg := "license has been revoked"
	if !e.RevokedAt.IsZero() {
		msg += " on " + e.RevokedAt.UTC().Format("2006-01-02")
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

// Is makes errors.Is(err, ErrRevoked) match.
func (e *RevokedError) Is(target error) bool { return target == ErrRevoked }

// TierError is returned when a license tier is below the tier an operation requires.
type TierError struct {
	Required Tier
	Actual   Tier
}

func (e *TierError) Error() string {
	return fmt.Sprintf("this requires the %s tier, but your license is %s; upgrade your license to continue",
		e.Required, e.Actual)
}

// Is makes errors.Is(err, ErrTierInsufficient) match.
func (e *TierError) Is(target error) bool { return target == ErrTierInsufficient }

// ReasonOf maps an error to its failure class.
func ReasonOf(err error) Reason {
	switch {
	case err == nil:
		return ReasonNone
	case errors.Is(err, ErrMissingKey):
		return ReasonMissing
	case errors.Is(err, ErrExpired):
		return ReasonExpired
	case errors.Is(err, ErrRevoked):
		return ReasonRevoked
	case errors.Is(err, ErrTierInsufficient):
		return ReasonTierInsufficient
	case errors.Is(err, ErrMalformed), errors.Is(err, ErrInvalidSignature):
		return ReasonMalformed
	default:
		return ReasonNone
	}
}
