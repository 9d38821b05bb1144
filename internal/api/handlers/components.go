package handlers

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vibebiz/premium/internal/api/middleware"
	"github.com/vibebiz/premium/internal/catalog"
	"github.com/vibebiz/premium/internal/distribution"
	"github.com/vibebiz/premium/internal/license"
	"github.com/vibebiz/premium/internal/models"
	"github.com/vibebiz/premium/internal/registry"
)

// CatalogService is the catalog behaviour the component endpoints need.
type CatalogService interface {
	Publish(ctx context.Context, comp *models.Component) error
	Visible(ctx context.Context, tier license.Tier) ([]*models.Component, error)
	Versions(ctx context.Context, slug string) ([]*models.Component, error)
	Import(ctx context.Context, m *catalog.Manifest) (*catalog.ImportResult, error)
}

// Verifier checks a license token for listing requests.
type Verifier interface {
	Verify(ctx context.Context, req registry.VerifyRequest) (*registry.VerifyResult, error)
}

// DistributionService issues and redeems download grants.
type DistributionService interface {
	RequestDownload(ctx context.Context, req distribution.DownloadRequest) (*distribution.Grant, error)
	Redeem(ctx context.Context, reference, caller string) (*distribution.Redemption, error)
}

// ComponentsHandler handles catalog listing, publishing and downloads.
type ComponentsHandler struct {
	catalog     CatalogService
	verifier    Verifier
	distributor DistributionService
	logger      zerolog.Logger
}

// NewComponentsHandler creates a new ComponentsHandler.
func NewComponentsHandler(cat CatalogService, verifier Verifier, distributor DistributionService, logger zerolog.Logger) *ComponentsHandler {
	return &ComponentsHandler{
		catalog:     cat,
		verifier:    verifier,
		distributor: distributor,
		logger:      logger.With().Str("component", "components_handler").Logger(),
	}
}

// RegisterPublicRoutes registers licensed catalog and download routes.
func (h *ComponentsHandler) RegisterPublicRoutes(r gin.IRoutes) {
	r.GET("/components", h.List)
	r.GET("/components/:slug/versions", h.Versions)
	r.POST("/components/:slug/downloads", h.RequestDownload)
	r.GET("/downloads/:grant", h.Download)
}

// RegisterAdminRoutes registers publishing routes.
func (h *ComponentsHandler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/components", h.Publish)
	r.POST("/catalog/import", h.Import)
}

// ComponentsResponse lists component descriptors.
type ComponentsResponse struct {
	Components []*models.Component `json:"components"`
}

// List returns the latest version of every component the license tier can see.
// GET /api/v1/components
func (h *ComponentsHandler) List(c *gin.Context) {
	lic, ok := h.requireLicense(c, "list")
	if !ok {
		return
	}

	comps, err := h.catalog.Visible(c.Request.Context(), lic.Tier)
	if err != nil {
		respondError(c, h.logger, err, "failed to list components")
		return
	}
	if comps == nil {
		comps = []*models.Component{}
	}
	c.JSON(http.StatusOK, ComponentsResponse{Components: comps})
}

// Versions returns the published versions of a component that the license
// tier can see, oldest first. A slug with no visible version is reported as
// a tier denial naming the lowest tier that would see it.
// GET /api/v1/components/:slug/versions
func (h *ComponentsHandler) Versions(c *gin.Context) {
	slug := c.Param("slug")
	lic, ok := h.requireLicense(c, "versions:"+slug)
	if !ok {
		return
	}

	comps, err := h.catalog.Versions(c.Request.Context(), slug)
	if err != nil {
		respondError(c, h.logger, err, "failed to list component versions")
		return
	}

	visible := make([]*models.Component, 0, len(comps))
	lowest := license.TierAgency
	for _, comp := range comps {
		if lic.Tier.Satisfies(comp.RequiredTier) {
			visible = append(visible, comp)
		} else if lowest.Satisfies(comp.RequiredTier) {
			lowest = comp.RequiredTier
		}
	}
	if len(visible) == 0 {
		respondError(c, h.logger, &license.TierError{Required: lowest, Actual: lic.Tier}, "")
		return
	}
	c.JSON(http.StatusOK, ComponentsResponse{Components: visible})
}

// PublishRequest describes a new component version. StorageLocation is the
// artifact path in the configured store.
type PublishRequest struct {
	Slug            string       `json:"slug"`
	Name            string       `json:"name"`
	Version         string       `json:"version"`
	RequiredTier    license.Tier `json:"required_tier"`
	Dependencies    []string     `json:"dependency_slugs"`
	ContentHash     string       `json:"content_hash"`
	StorageLocation string       `json:"storage_location"`
}

// Publish adds a component version to the catalog.
// POST /api/v1/admin/components
func (h *ComponentsHandler) Publish(c *gin.Context) {
	var req PublishRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}

	comp := &models.Component{
		Slug:            req.Slug,
		Name:            req.Name,
		Version:         req.Version,
		RequiredTier:    req.RequiredTier,
		Dependencies:    req.Dependencies,
		ContentHash:     req.ContentHash,
		StorageLocation: req.StorageLocation,
	}
	if err := h.catalog.Publish(c.Request.Context(), comp); err != nil {
		respondError(c, h.logger, err, "failed to publish component")
		return
	}
	c.JSON(http.StatusCreated, comp)
}

// ImportResponse summarises a catalog manifest import.
type ImportResponse struct {
	Published []string `json:"published"`
	Skipped   []string `json:"skipped"`
}

// Import publishes every component in a YAML catalog manifest.
// POST /api/v1/admin/catalog/import
func (h *ComponentsHandler) Import(c *gin.Context) {
	manifest, err := catalog.ParseManifest(c.Request.Body)
	if err != nil {
		badRequest(c, err.Error())
		return
	}

	result, err := h.catalog.Import(c.Request.Context(), manifest)
	if err != nil {
		respondError(c, h.logger, err, "failed to import catalog")
		return
	}
	c.JSON(http.StatusOK, ImportResponse{Published: nonNil(result.Published), Skipped: nonNil(result.Skipped)})
}

// DownloadRequest asks for a grant for one component version.
type DownloadRequest struct {
	// Version is a semantic version or "latest"; empty means latest.
	Version   string   `json:"version"`
	Installed []string `json:"installed"`
}

// DownloadResponse returns a grant and the URL that redeems it.
type DownloadResponse struct {
	Grant       *distribution.Grant `json:"grant"`
	DownloadURL string              `json:"download_url"`
}

// RequestDownload authorizes a download and returns a single-use grant.
// POST /api/v1/components/:slug/downloads
func (h *ComponentsHandler) RequestDownload(c *gin.Context) {
	token, ok := middleware.LicenseToken(c)
	if !ok {
		respondError(c, h.logger, license.ErrMissingKey, "missing license")
		return
	}
	var req DownloadRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid request body: "+err.Error())
			return
		}
	}

	grant, err := h.distributor.RequestDownload(c.Request.Context(), distribution.DownloadRequest{
		Token:     token,
		Slug:      c.Param("slug"),
		Version:   req.Version,
		Installed: req.Installed,
		Caller:    c.ClientIP(),
	})
	if err != nil {
		respondError(c, h.logger, err, "failed to authorize download")
		return
	}

	c.JSON(http.StatusCreated, DownloadResponse{
		Grant:       grant,
		DownloadURL: "/api/v1/downloads/" + grant.Reference,
	})
}

// Download redeems a grant. The artifact is streamed, or the client is
// redirected to a presigned store URL.
// GET /api/v1/downloads/:grant
func (h *ComponentsHandler) Download(c *gin.Context) {
	redemption, err := h.distributor.Redeem(c.Request.Context(), c.Param("grant"), c.ClientIP())
	if err != nil {
		respondError(c, h.logger, err, "failed to redeem download grant")
		return
	}

	comp := redemption.Component
	if comp.ContentHash != "" {
		c.Header("X-Content-Hash", comp.ContentHash)
	}
	if redemption.URL != "" {
		c.Redirect(http.StatusTemporaryRedirect, redemption.URL)
		return
	}
	defer redemption.Body.Close()

	length := int64(-1)
	if sized, ok := redemption.Body.(interface{ Size() int64 }); ok {
		length = sized.Size()
	}
	c.DataFromReader(http.StatusOK, length, "application/octet-stream", io.Reader(redemption.Body), map[string]string{
		"Content-Disposition": fmt.Sprintf(`attachment; filename="%s"`, artifactName(comp)),
	})
}

// requireLicense verifies the License header and returns the registry record.
func (h *ComponentsHandler) requireLicense(c *gin.Context, target string) (*models.License, bool) {
	token, ok := middleware.LicenseToken(c)
	if !ok {
		respondError(c, h.logger, license.ErrMissingKey, "missing license")
		return nil, false
	}
	result, err := h.verifier.Verify(c.Request.Context(), registry.VerifyRequest{
		Token:  token,
		Target: target,
		Caller: c.ClientIP(),
	})
	if err != nil {
		respondError(c, h.logger, err, "failed to verify license")
		return nil, false
	}
	if result.Status != models.LicenseStatusValid {
		respondError(c, h.logger, result.Err(), "license rejected")
		return nil, false
	}
	return result.License, true
}

func artifactName(comp *models.Component) string {
	name := comp.Slug + "-" + comp.Version
	if loc := comp.StorageLocation; loc != "" {
		if i := strings.Index(loc, ".tar"); i >= 0 {
			return name + loc[i:]
		}
		if i := strings.LastIndex(loc, "."); i > strings.LastIndex(loc, "/") {
			return name + loc[i:]
		}
	}
	return name
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
