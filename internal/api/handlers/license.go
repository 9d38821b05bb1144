package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vibebiz/premium/internal/license"
	"github.com/vibebiz/premium/internal/models"
	"github.com/vibebiz/premium/internal/registry"
)

// LicenseService is the registry behaviour the license endpoints need.
type LicenseService interface {
	Verify(ctx context.Context, req registry.VerifyRequest) (*registry.VerifyResult, error)
	IssueLicense(ctx context.Context, customerID string, tier license.Tier, ttl time.Duration) (string, *models.License, error)
	RenewLicense(ctx context.Context, tokenID uuid.UUID, ttl time.Duration) (string, *models.License, error)
	RevokeLicense(ctx context.Context, tokenID uuid.UUID, reason string) (*models.License, error)
	ListUsage(ctx context.Context, tokenID uuid.UUID, limit int) ([]*models.UsageEntry, error)
	ListLicenses(ctx context.Context, customerID string) ([]*models.License, error)
}

// LicenseHandler handles license verification and administration.
type LicenseHandler struct {
	service LicenseService
	logger  zerolog.Logger
}

// NewLicenseHandler creates a new LicenseHandler.
func NewLicenseHandler(service LicenseService, logger zerolog.Logger) *LicenseHandler {
	return &LicenseHandler{
		service: service,
		logger:  logger.With().Str("component", "license_handler").Logger(),
	}
}

// RegisterPublicRoutes registers the verification endpoint.
func (h *LicenseHandler) RegisterPublicRoutes(r gin.IRoutes) {
	r.POST("/licenses/verify", h.Verify)
}

// RegisterAdminRoutes registers license administration endpoints.
func (h *LicenseHandler) RegisterAdminRoutes(r *gin.RouterGroup) {
	licenses := r.Group("/licenses")
	{
		licenses.POST("", h.Issue)
		licenses.GET("", h.List)
		licenses.POST("/:id/revoke", h.Revoke)
		licenses.POST("/:id/renew", h.Renew)
		licenses.GET("/:id/usage", h.Usage)
	}
}

// VerifyRequest is the body of a verification call.
type VerifyRequest struct {
	Token string `json:"token"`
}

// VerifyResponse reports the registry's view of a token.
type VerifyResponse struct {
	Status    models.LicenseStatus `json:"status"`
	Claims    *license.Claims      `json:"claims,omitempty"`
	Reason    string               `json:"reason,omitempty"`
	ExpiresAt *time.Time           `json:"expires_at,omitempty"`
	RevokedAt *time.Time           `json:"revoked_at,omitempty"`
}

// Verify reports whether a token is valid, expired, revoked or malformed.
// Every outcome is a 200; only a missing token is a client error.
// POST /api/v1/licenses/verify
func (h *LicenseHandler) Verify(c *gin.Context) {
	var req VerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Token == "" {
		badRequest(c, "token is required")
		return
	}

	result, err := h.service.Verify(c.Request.Context(), registry.VerifyRequest{
		Token:  req.Token,
		Target: string(models.UsageActionVerify),
		Caller: c.ClientIP(),
	})
	if err != nil {
		respondError(c, h.logger, err, "failed to verify license")
		return
	}

	resp := VerifyResponse{Status: result.Status, Reason: result.Message}
	if result.Status != models.LicenseStatusMalformed {
		resp.Claims = result.Claims
	}
	if lic := result.License; lic != nil {
		expires := lic.ExpiresAt
		resp.ExpiresAt = &expires
		if lic.Revoked {
			resp.Reason = lic.RevokedReason
			resp.RevokedAt = lic.RevokedAt
		}
	}
	c.JSON(http.StatusOK, resp)
}

// IssueRequest is the body of a license issuance call.
type IssueRequest struct {
	CustomerID string       `json:"customer_id"`
	Tier       license.Tier `json:"tier"`
	// TTL is a Go duration such as "8760h".
	TTL string `json:"ttl"`
}

// LicenseResponse returns a license record and, on issuance, its token.
type LicenseResponse struct {
	Token   string          `json:"token,omitempty"`
	License *models.License `json:"license"`
}

// Issue creates a new license.
// POST /api/v1/admin/licenses
func (h *LicenseHandler) Issue(c *gin.Context) {
	var req IssueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}
	if req.CustomerID == "" {
		badRequest(c, "customer_id is required")
		return
	}
	ttl, ok := parseTTL(c, req.TTL)
	if !ok {
		return
	}

	token, lic, err := h.service.IssueLicense(c.Request.Context(), req.CustomerID, req.Tier, ttl)
	if err != nil {
		respondError(c, h.logger, err, "failed to issue license")
		return
	}
	c.JSON(http.StatusCreated, LicenseResponse{Token: token, License: lic})
}

// LicensesResponse lists license records.
type LicensesResponse struct {
	Licenses []*models.License `json:"licenses"`
}

// List returns the licenses issued to a customer, newest first.
// GET /api/v1/admin/licenses?customer=ID
func (h *LicenseHandler) List(c *gin.Context) {
	customerID := c.Query("customer")
	if customerID == "" {
		badRequest(c, "customer query parameter is required")
		return
	}

	licenses, err := h.service.ListLicenses(c.Request.Context(), customerID)
	if err != nil {
		respondError(c, h.logger, err, "failed to list licenses")
		return
	}
	if licenses == nil {
		licenses = []*models.License{}
	}
	c.JSON(http.StatusOK, LicensesResponse{Licenses: licenses})
}

// RevokeRequest is the body of a revocation call.
type RevokeRequest struct {
	Reason string `json:"reason"`
}

// Revoke revokes a license. Repeating the call returns the original revocation.
// POST /api/v1/admin/licenses/:id/revoke
func (h *LicenseHandler) Revoke(c *gin.Context) {
	tokenID, ok := tokenIDParam(c)
	if !ok {
		return
	}
	var req RevokeRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid request body: "+err.Error())
			return
		}
	}

	lic, err := h.service.RevokeLicense(c.Request.Context(), tokenID, req.Reason)
	if err != nil {
		respondError(c, h.logger, err, "failed to revoke license")
		return
	}
	c.JSON(http.StatusOK, LicenseResponse{License: lic})
}

// RenewRequest is the body of a renewal call.
type RenewRequest struct {
	TTL string `json:"ttl"`
}

// Renew issues a new token for the same customer and tier.
// POST /api/v1/admin/licenses/:id/renew
func (h *LicenseHandler) Renew(c *gin.Context) {
	tokenID, ok := tokenIDParam(c)
	if !ok {
		return
	}
	var req RenewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}
	ttl, ok := parseTTL(c, req.TTL)
	if !ok {
		return
	}

	token, lic, err := h.service.RenewLicense(c.Request.Context(), tokenID, ttl)
	if err != nil {
		respondError(c, h.logger, err, "failed to renew license")
		return
	}
	c.JSON(http.StatusCreated, LicenseResponse{Token: token, License: lic})
}

// UsageResponse lists usage entries, newest first.
type UsageResponse struct {
	Entries []*models.UsageEntry `json:"entries"`
}

// Usage returns a license's usage log.
// GET /api/v1/admin/licenses/:id/usage?limit=N
func (h *LicenseHandler) Usage(c *gin.Context) {
	tokenID, ok := tokenIDParam(c)
	if !ok {
		return
	}
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			badRequest(c, "limit must be a positive integer")
			return
		}
		limit = n
	}

	entries, err := h.service.ListUsage(c.Request.Context(), tokenID, limit)
	if err != nil {
		respondError(c, h.logger, err, "failed to list usage")
		return
	}
	if entries == nil {
		entries = []*models.UsageEntry{}
	}
	c.JSON(http.StatusOK, UsageResponse{Entries: entries})
}

func tokenIDParam(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		badRequest(c, "license id must be a token UUID")
		return uuid.Nil, false
	}
	return id, true
}

func parseTTL(c *gin.Context, raw string) (time.Duration, bool) {
	ttl, err := time.ParseDuration(raw)
	if err != nil || ttl <= 0 {
		badRequest(c, `ttl must be a positive duration such as "8760h"`)
		return 0, false
	}
	return ttl, true
}
