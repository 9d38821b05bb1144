package license

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultWarnWindow is how long before expiry a valid license is flagged as expiring soon.
const DefaultWarnWindow = 30 * 24 * time.Hour

// VerifyOptions tunes VerifyOffline.
type VerifyOptions struct {
	// Now is the reference time. Zero means time.Now().
	Now time.Time
	// WarnWindow overrides DefaultWarnWindow when positive.
	WarnWindow time.Duration
}

// Verification is the result of a successful offline verification.
type Verification struct {
	Claims        Claims `json:"claims"`
	ExpiringSoon  bool   `json:"expiring_soon"`
	DaysRemaining int    `json:"days_remaining"`
}

// ParseToken decodes a token and verifies its signature. Expiry is not checked.
func ParseToken(token string, publicKey ed25519.PublicKey) (*Claims, error) {
	if len(publicKey) != ed25519.PublicKeySize {
		return nil, ErrInvalidPublicKey
	}

	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrMissingKey
	}

	parts := strings.Split(token, ".")
	if len(parts) != 3 || parts[0] != TokenPrefix+"-"+TokenVersion {
		return nil, ErrMalformed
	}

	payloadBytes, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, fmt.Errorf("%w: decode payload: %v", ErrMalformed, err)
	}

	signature, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return nil, fmt.Errorf("%w: decode signature: %v", ErrMalformed, err)
	}

	if !Verify(payloadBytes, signature, publicKey) {
		return nil, ErrInvalidSignature
	}

	var payload tokenPayload
	if err := json.Unmarshal(payloadBytes, &payload); err != nil {
		return nil, fmt.Errorf("%w: parse payload: %v", ErrMalformed, err)
	}

	tokenID, err := uuid.Parse(payload.TokenID)
	if err != nil {
		return nil, fmt.Errorf("%w: token id: %v", ErrMalformed, err)
	}
	if payload.CustomerID == "" {
		return nil, fmt.Errorf("%w: missing customer id", ErrMalformed)
	}

	return &Claims{
		TokenID:    tokenID,
		CustomerID: payload.CustomerID,
		Tier:       payload.Tier,
		IssuedAt:   time.Unix(payload.IssuedAt, 0).UTC(),
		ExpiresAt:  time.Unix(payload.ExpiresAt, 0).UTC(),
	}, nil
}

// VerifyOffline checks a token's signature and expiry using only the public key.
// An expired token yields *ExpiredError carrying the expiry date.
func VerifyOffline(token string, publicKey ed25519.PublicKey, opts VerifyOptions) (*Verification, error) {
	claims, err := ParseToken(token, publicKey)
	if err != nil {
		return nil, err
	}
	return checkExpiry(claims, opts)
}

func checkExpiry(claims *Claims, opts VerifyOptions) (*Verification, error) {
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}
	window := opts.WarnWindow
	if window <= 0 {
		window = DefaultWarnWindow
	}

	if !now.Before(claims.ExpiresAt) {
		return nil, &ExpiredError{TokenID: claims.TokenID.String(), ExpiresAt: claims.ExpiresAt}
	}

	remaining := claims.ExpiresAt.Sub(now)
	return &Verification{
		Claims:        *claims,
		ExpiringSoon:  remaining <= window,
		DaysRemaining: int(remaining.Hours() / 24),
	}, nil
}
