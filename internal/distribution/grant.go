package distribution

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	// DefaultGrantTTL is how long a download grant can be redeemed.
	DefaultGrantTTL = 5 * time.Minute
	// GrantAudience is the audience claim every grant carries.
	GrantAudience = "vibebiz-download"
	// MinGrantSecretLength is the minimum HMAC secret size in bytes.
	MinGrantSecretLength = 32
)

var (
	// ErrGrantInvalid indicates a grant reference that is not one we signed.
	ErrGrantInvalid = errors.New("download grant is invalid")
	// ErrGrantExpired indicates a correctly signed grant past its expiry.
	ErrGrantExpired = errors.New("download grant has expired; request a new download")
	// ErrGrantConsumed indicates a grant that was already redeemed.
	ErrGrantConsumed = errors.New("download grant has already been used")
	// ErrWeakGrantSecret indicates a signing secret shorter than MinGrantSecretLength.
	ErrWeakGrantSecret = errors.New("grant secret must be at least 32 bytes")
)

// Grant is a short-lived capability to fetch one component version.
type Grant struct {
	ID        string    `json:"id"`
	TokenID   uuid.UUID `json:"token_id"`
	Slug      string    `json:"slug"`
	Version   string    `json:"version"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
	// Reference is the signed form handed to the client.
	Reference string `json:"reference"`
}

type grantClaims struct {
	Slug    string `json:"slug"`
	Version string `json:"ver"`
	jwt.RegisteredClaims
}

// GrantSigner signs and parses download grants.
type GrantSigner struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewGrantSigner creates a GrantSigner. A non-positive ttl selects DefaultGrantTTL.
func NewGrantSigner(secret []byte, ttl time.Duration) (*GrantSigner, error) {
	if len(secret) < MinGrantSecretLength {
		return nil, ErrWeakGrantSecret
	}
	if ttl <= 0 {
		ttl = DefaultGrantTTL
	}
	return &GrantSigner{secret: secret, ttl: ttl, now: time.Now}, nil
}

// TTL returns the grant lifetime.
func (s *GrantSigner) TTL() time.Duration {
	return s.ttl
}

// Sign issues a grant for tokenID to fetch slug at version.
func (s *GrantSigner) Sign(tokenID uuid.UUID, slug, version string) (*Grant, error) {
	now := s.now().UTC().Truncate(time.Second)
	grant := &Grant{
		ID:        uuid.NewString(),
		TokenID:   tokenID,
		Slug:      slug,
		Version:   version,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.ttl),
	}

	claims := grantClaims{
		Slug:    slug,
		Version: version,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        grant.ID,
			Subject:   tokenID.String(),
			Audience:  jwt.ClaimStrings{GrantAudience},
			IssuedAt:  jwt.NewNumericDate(grant.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(grant.ExpiresAt),
		},
	}

	ref, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return nil, fmt.Errorf("sign grant: %w", err)
	}
	grant.Reference = ref
	return grant, nil
}

// Parse validates a grant reference's signature, audience and expiry.
func (s *GrantSigner) Parse(reference string) (*Grant, error) {
	var claims grantClaims
	_, err := jwt.ParseWithClaims(reference, &claims,
		func(*jwt.Token) (any, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(GrantAudience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrGrantExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrGrantInvalid, err)
	}

	tokenID, err := uuid.Parse(claims.Subject)
	if err != nil || claims.ID == "" || claims.Slug == "" || claims.Version == "" {
		return nil, fmt.Errorf("%w: incomplete claims", ErrGrantInvalid)
	}

	grant := &Grant{
		ID:        claims.ID,
		TokenID:   tokenID,
		Slug:      claims.Slug,
		Version:   claims.Version,
		ExpiresAt: claims.ExpiresAt.Time.UTC(),
		Reference: reference,
	}
	if claims.IssuedAt != nil {
		grant.IssuedAt = claims.IssuedAt.Time.UTC()
	}
	return grant, nil
}
