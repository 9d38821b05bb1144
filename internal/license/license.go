// Package license provides license token issuance, offline verification and
// tier gating for VibeBiz premium components.
package license

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// TokenPrefix is the prefix for all license tokens.
	TokenPrefix = "VBZ"
	// TokenVersion is the current token format version.
	TokenVersion = "1"
)

// Claims is the signed content of a license token.
type Claims struct {
	TokenID    uuid.UUID `json:"token_id"`
	CustomerID string    `json:"customer_id"`
	Tier       Tier      `json:"tier"`
	IssuedAt   time.Time `json:"issued_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// tokenPayload is the JSON structure encoded in a license token.
type tokenPayload struct {
	TokenID    string `json:"tid"`
	CustomerID string `json:"cid"`
	Tier       Tier   `json:"tier"`
	IssuedAt   int64  `json:"iat"`
	ExpiresAt  int64  `json:"exp"`
}

// Issuer creates signed license tokens.
type Issuer struct {
	signer *Signer
	now    func() time.Time
}

// NewIssuer creates an Issuer that signs with the given Signer.
func NewIssuer(signer *Signer) *Issuer {
	return &Issuer{signer: signer, now: time.Now}
}

// WithClock overrides the issuer's clock. Intended for tests.
func (i *Issuer) WithClock(now func() time.Time) *Issuer {
	i.now = now
	return i
}

// Issue constructs, signs and encodes a new license token.
// Every call produces a new token ID.
func (i *Issuer) Issue(customerID string, tier Tier, ttl time.Duration) (string, *Claims, error) {
	if strings.TrimSpace(customerID) == "" {
		return "", nil, errors.New("customer ID is required")
	}
	if !tier.IsValid() {
		return "", nil, fmt.Errorf("invalid license tier: %d", int(tier))
	}
	if ttl <= 0 {
		return "", nil, errors.New("license TTL must be positive")
	}

	issuedAt := i.now().UTC().Truncate(time.Second)
	claims := &Claims{
		TokenID:    uuid.New(),
		CustomerID: customerID,
		Tier:       tier,
		IssuedAt:   issuedAt,
		ExpiresAt:  issuedAt.Add(ttl).Truncate(time.Second),
	}

	token, err := i.Encode(claims)
	if err != nil {
		return "", nil, err
	}
	return token, claims, nil
}

// Encode signs claims and returns the token string.
// Format: PREFIX-VERSION.base64url(payload).base64url(signature)
func (i *Issuer) Encode(claims *Claims) (string, error) {
	payloadBytes, err := json.Marshal(tokenPayload{
		TokenID:    claims.TokenID.String(),
		CustomerID: claims.CustomerID,
		Tier:       claims.Tier,
		IssuedAt:   claims.IssuedAt.Unix(),
		ExpiresAt:  claims.ExpiresAt.Unix(),
	})
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	signature := i.signer.Sign(payloadBytes)

	return fmt.Sprintf("%s-%s.%s.%s",
		TokenPrefix,
		TokenVersion,
		base64.RawURLEncoding.EncodeToString(payloadBytes),
		base64.RawURLEncoding.EncodeToString(signature),
	), nil
}

// MaskToken returns a short prefix of a token suitable for logs.
func MaskToken(token string) string {
	if len(token) <= 12 {
		return "****"
	}
	return token[:12] + "****"
}
