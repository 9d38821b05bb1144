package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/vibebiz/premium/internal/catalog"
	"github.com/vibebiz/premium/internal/distribution"
	"github.com/vibebiz/premium/internal/license"
)

var (
	// ErrUnavailable indicates the registry answered with a server error.
	ErrUnavailable = errors.New("license registry is unavailable")
	// ErrRateLimited indicates the registry rejected the call for exceeding its rate limit.
	ErrRateLimited = errors.New("too many requests to the license registry")
	// ErrUnauthorized indicates an admin call without a valid admin token.
	ErrUnauthorized = errors.New("admin token rejected by the license registry")
)

// NetworkError wraps a transport failure talking to the registry.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: cannot reach license registry: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// APIError is a non-2xx registry response. It unwraps to the typed error
// matching its reason, so callers can use errors.Is and errors.As as they
// would against the services directly.
type APIError struct {
	StatusCode int
	Reason     string
	Message    string
	RetryAfter time.Duration
	err        error
}

func (e *APIError) Error() string {
	if e.err != nil {
		return e.err.Error()
	}
	if e.Message != "" {
		return fmt.Sprintf("registry returned %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("registry returned %d", e.StatusCode)
}

func (e *APIError) Unwrap() error { return e.err }

type errorBody struct {
	Error        string     `json:"error"`
	Reason       string     `json:"reason"`
	Missing      []string   `json:"missing"`
	RequiredTier string     `json:"required_tier"`
	Tier         string     `json:"tier"`
	ExpiresAt    *time.Time `json:"expires_at"`
	RevokedAt    *time.Time `json:"revoked_at"`
}

// decodeError builds an APIError from resp. notFound is the sentinel a
// not_found reason maps to for the calling endpoint.
func decodeError(resp *http.Response, notFound error) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var body errorBody
	_ = json.Unmarshal(raw, &body)
	if body.Error == "" {
		body.Error = http.StatusText(resp.StatusCode)
	}

	apiErr := &APIError{StatusCode: resp.StatusCode, Reason: body.Reason, Message: body.Error}

	switch body.Reason {
	case string(license.ReasonMissing):
		apiErr.err = license.ErrMissingKey
	case string(license.ReasonMalformed):
		apiErr.err = fmt.Errorf("%w: %s", license.ErrMalformed, body.Error)
	case string(license.ReasonExpired):
		expired := &license.ExpiredError{}
		if body.ExpiresAt != nil {
			expired.ExpiresAt = *body.ExpiresAt
		}
		apiErr.err = expired
	case string(license.ReasonRevoked):
		revoked := &license.RevokedError{}
		if body.RevokedAt != nil {
			revoked.RevokedAt = *body.RevokedAt
		}
		apiErr.err = revoked
	case string(license.ReasonTierInsufficient):
		tierErr := &license.TierError{}
		tierErr.Required, _ = license.ParseTier(body.RequiredTier)
		tierErr.Actual, _ = license.ParseTier(body.Tier)
		apiErr.err = tierErr
	case distribution.ReasonDependencyMissing:
		apiErr.err = &distribution.DependencyError{Missing: body.Missing}
	case "grant_consumed":
		apiErr.err = distribution.ErrGrantConsumed
	case "grant_expired":
		apiErr.err = distribution.ErrGrantExpired
	case "grant_invalid":
		apiErr.err = distribution.ErrGrantInvalid
	case "version_exists":
		apiErr.err = fmt.Errorf("%w: %s", catalog.ErrVersionExists, body.Error)
	case "not_found":
		if notFound != nil {
			apiErr.err = fmt.Errorf("%w: %s", notFound, body.Error)
		}
	case "rate_limited":
		apiErr.err = ErrRateLimited
		if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil {
			apiErr.RetryAfter = time.Duration(secs) * time.Second
		}
	}

	if apiErr.err == nil {
		switch {
		case resp.StatusCode >= 500:
			apiErr.err = fmt.Errorf("%w: %s", ErrUnavailable, body.Error)
		case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
			apiErr.err = fmt.Errorf("%w: %s", ErrUnauthorized, body.Error)
		}
	}
	return apiErr
}
