package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vibebiz/premium/internal/catalog"
	"github.com/vibebiz/premium/internal/distribution"
	"github.com/vibebiz/premium/internal/license"
	"github.com/vibebiz/premium/internal/registry"
)

// Failure reasons carried in error responses beyond the license reasons.
const (
	ReasonNotFound       = "not_found"
	ReasonVersionExists  = "version_exists"
	ReasonInvalidRequest = "invalid_request"
	ReasonGrantInvalid   = "grant_invalid"
	ReasonGrantExpired   = "grant_expired"
	ReasonGrantConsumed  = "grant_consumed"
)

// ErrorResponse is the body of every non-2xx API response.
type ErrorResponse struct {
	Error        string     `json:"error"`
	Reason       string     `json:"reason,omitempty"`
	Missing      []string   `json:"missing,omitempty"`
	RequiredTier string     `json:"required_tier,omitempty"`
	Tier         string     `json:"tier,omitempty"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	RevokedAt    *time.Time `json:"revoked_at,omitempty"`
}

// errorResponse maps a domain error to its HTTP status and body. ok is
// false for errors that are not part of the API contract.
func errorResponse(err error) (status int, body ErrorResponse, ok bool) {
	body = ErrorResponse{Error: err.Error()}

	var (
		expired *license.ExpiredError
		revoked *license.RevokedError
		tierErr *license.TierError
		depErr  *distribution.DependencyError
	)

	switch {
	case errors.Is(err, license.ErrMissingKey):
		body.Reason = string(license.ReasonMissing)
		return http.StatusUnauthorized, body, true
	case errors.As(err, &expired):
		body.Reason = string(license.ReasonExpired)
		at := expired.ExpiresAt
		body.ExpiresAt = &at
		return http.StatusUnauthorized, body, true
	case errors.As(err, &revoked):
		body.Reason = string(license.ReasonRevoked)
		if !revoked.RevokedAt.IsZero() {
			at := revoked.RevokedAt
			body.RevokedAt = &at
		}
		return http.StatusUnauthorized, body, true
	case errors.As(err, &tierErr):
		body.Reason = string(license.ReasonTierInsufficient)
		body.RequiredTier = tierErr.Required.String()
		body.Tier = tierErr.Actual.String()
		return http.StatusForbidden, body, true
	case errors.Is(err, license.ErrMalformed), errors.Is(err, license.ErrInvalidSignature):
		body.Reason = string(license.ReasonMalformed)
		return http.StatusBadRequest, body, true
	case errors.As(err, &depErr):
		body.Reason = distribution.ReasonDependencyMissing
		body.Missing = depErr.Missing
		return http.StatusConflict, body, true
	case errors.Is(err, distribution.ErrGrantConsumed):
		body.Reason = ReasonGrantConsumed
		return http.StatusConflict, body, true
	case errors.Is(err, distribution.ErrGrantExpired):
		body.Reason = ReasonGrantExpired
		return http.StatusGone, body, true
	case errors.Is(err, distribution.ErrGrantInvalid):
		body.Reason = ReasonGrantInvalid
		return http.StatusForbidden, body, true
	case errors.Is(err, catalog.ErrComponentNotFound), errors.Is(err, registry.ErrLicenseNotFound),
		errors.Is(err, distribution.ErrArtifactNotFound):
		body.Reason = ReasonNotFound
		return http.StatusNotFound, body, true
	case errors.Is(err, catalog.ErrVersionExists):
		body.Reason = ReasonVersionExists
		return http.StatusConflict, body, true
	case errors.Is(err, registry.ErrLicenseRevoked):
		body.Reason = string(license.ReasonRevoked)
		return http.StatusConflict, body, true
	case errors.Is(err, catalog.ErrInvalidComponent), errors.Is(err, registry.ErrCustomerRequired):
		body.Reason = ReasonInvalidRequest
		return http.StatusBadRequest, body, true
	}
	return http.StatusInternalServerError, ErrorResponse{Error: "internal server error"}, false
}

// respondError writes the error response for err, logging unexpected errors.
func respondError(c *gin.Context, logger zerolog.Logger, err error, msg string) {
	status, body, ok := errorResponse(err)
	if !ok {
		logger.Error().Err(err).Str("path", c.FullPath()).Msg(msg)
	}
	c.AbortWithStatusJSON(status, body)
}

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{Error: msg, Reason: ReasonInvalidRequest})
}
