// Package client provides an HTTP client for the license registry API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vibebiz/premium/internal/catalog"
	"github.com/vibebiz/premium/internal/distribution"
	"github.com/vibebiz/premium/internal/httpclient"
	"github.com/vibebiz/premium/internal/license"
	"github.com/vibebiz/premium/internal/models"
	"github.com/vibebiz/premium/internal/registry"
)

const (
	// DefaultTimeout bounds ordinary API calls.
	DefaultTimeout = 30 * time.Second
	// DefaultDownloadTimeout bounds artifact downloads.
	DefaultDownloadTimeout = 10 * time.Minute
)

// Options configures a Client.
type Options struct {
	BaseURL string
	// AdminToken authenticates admin calls.
	AdminToken      string
	Proxy           *httpclient.ProxyConfig
	Timeout         time.Duration
	DownloadTimeout time.Duration
	Logger          zerolog.Logger
}

// Client is an HTTP client for communicating with the license registry.
type Client struct {
	baseURL    string
	adminToken string
	httpClient *http.Client
	download   *http.Client
	logger     zerolog.Logger
}

// New creates a registry API client.
func New(opts Options) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid registry URL %q", opts.BaseURL)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	downloadTimeout := opts.DownloadTimeout
	if downloadTimeout <= 0 {
		downloadTimeout = DefaultDownloadTimeout
	}

	api, err := httpclient.New(httpclient.Options{Timeout: timeout, Proxy: opts.Proxy})
	if err != nil {
		return nil, err
	}
	dl, err := httpclient.New(httpclient.Options{Timeout: downloadTimeout, Proxy: opts.Proxy})
	if err != nil {
		return nil, err
	}

	return &Client{
		baseURL:    base.String(),
		adminToken: opts.AdminToken,
		httpClient: api,
		download:   dl,
		logger:     opts.Logger.With().Str("component", "registry_client").Logger(),
	}, nil
}

// VerifyResponse is the registry's view of a token.
type VerifyResponse struct {
	Status    models.LicenseStatus `json:"status"`
	Claims    *license.Claims      `json:"claims,omitempty"`
	Reason    string               `json:"reason,omitempty"`
	ExpiresAt *time.Time           `json:"expires_at,omitempty"`
	RevokedAt *time.Time           `json:"revoked_at,omitempty"`
}

// Verify asks the registry for the current status of token.
func (c *Client) Verify(ctx context.Context, token string) (*VerifyResponse, error) {
	var resp VerifyResponse
	err := c.do(ctx, request{
		op:     "verify license",
		method: http.MethodPost,
		path:   "/api/v1/licenses/verify",
		body:   map[string]string{"token": token},
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// CheckFreshness implements license.FreshnessChecker.
func (c *Client) CheckFreshness(ctx context.Context, token string) (*license.FreshnessResult, error) {
	resp, err := c.Verify(ctx, token)
	if err != nil {
		return nil, err
	}
	result := &license.FreshnessResult{Status: string(resp.Status)}
	if resp.Status == models.LicenseStatusRevoked {
		result.RevokedReason = resp.Reason
		if resp.RevokedAt != nil {
			result.RevokedAt = *resp.RevokedAt
		}
	}
	return result, nil
}

// ListComponents returns the latest version of each component token can see.
func (c *Client) ListComponents(ctx context.Context, token string) ([]*models.Component, error) {
	var resp struct {
		Components []*models.Component `json:"components"`
	}
	err := c.do(ctx, request{
		op:      "list components",
		method:  http.MethodGet,
		path:    "/api/v1/components",
		license: token,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.Components, nil
}

// ComponentVersions returns every published version of slug.
func (c *Client) ComponentVersions(ctx context.Context, token, slug string) ([]*models.Component, error) {
	var resp struct {
		Components []*models.Component `json:"components"`
	}
	err := c.do(ctx, request{
		op:       "list component versions",
		method:   http.MethodGet,
		path:     "/api/v1/components/" + url.PathEscape(slug) + "/versions",
		license:  token,
		notFound: catalog.ErrComponentNotFound,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.Components, nil
}

// Ticket is an authorized download.
type Ticket struct {
	Grant       *distribution.Grant `json:"grant"`
	DownloadURL string              `json:"download_url"`
}

// RequestDownload asks for a single-use grant for slug at version.
func (c *Client) RequestDownload(ctx context.Context, token, slug, version string, installed []string) (*Ticket, error) {
	var ticket Ticket
	err := c.do(ctx, request{
		op:      "request download",
		method:  http.MethodPost,
		path:    "/api/v1/components/" + url.PathEscape(slug) + "/downloads",
		license: token,
		body: map[string]any{
			"version":   version,
			"installed": installed,
		},
		notFound: catalog.ErrComponentNotFound,
	}, &ticket)
	if err != nil {
		return nil, err
	}
	if ticket.Grant == nil || ticket.DownloadURL == "" {
		return nil, errors.New("request download: registry returned an incomplete grant")
	}
	return &ticket, nil
}

// Artifact is a downloaded component archive. The caller closes Body.
type Artifact struct {
	Body io.ReadCloser
	// ContentHash is the hash the registry advertised, if any.
	ContentHash string
	Size        int64
}

// Fetch redeems a ticket. Redirects to presigned storage URLs are followed.
func (c *Client) Fetch(ctx context.Context, ticket *Ticket) (*Artifact, error) {
	target, err := c.resolve(ticket.DownloadURL)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.download.Do(req)
	if err != nil {
		return nil, &NetworkError{Op: "download component", Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, decodeError(resp, catalog.ErrComponentNotFound)
	}

	return &Artifact{
		Body:        resp.Body,
		ContentHash: resp.Header.Get("X-Content-Hash"),
		Size:        resp.ContentLength,
	}, nil
}

// IssueLicense creates a license. Requires an admin token.
func (c *Client) IssueLicense(ctx context.Context, customerID string, tier license.Tier, ttl time.Duration) (string, *models.License, error) {
	var resp licenseResponse
	err := c.do(ctx, request{
		op:     "issue license",
		method: http.MethodPost,
		path:   "/api/v1/admin/licenses",
		admin:  true,
		body: map[string]any{
			"customer_id": customerID,
			"tier":        tier,
			"ttl":         ttl.String(),
		},
	}, &resp)
	if err != nil {
		return "", nil, err
	}
	return resp.Token, resp.License, nil
}

// RevokeLicense revokes the license with tokenID. Requires an admin token.
func (c *Client) RevokeLicense(ctx context.Context, tokenID uuid.UUID, reason string) (*models.License, error) {
	var resp licenseResponse
	err := c.do(ctx, request{
		op:       "revoke license",
		method:   http.MethodPost,
		path:     "/api/v1/admin/licenses/" + tokenID.String() + "/revoke",
		admin:    true,
		body:     map[string]string{"reason": reason},
		notFound: registry.ErrLicenseNotFound,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.License, nil
}

// RenewLicense issues a new token for an existing license. Requires an admin token.
func (c *Client) RenewLicense(ctx context.Context, tokenID uuid.UUID, ttl time.Duration) (string, *models.License, error) {
	var resp licenseResponse
	err := c.do(ctx, request{
		op:       "renew license",
		method:   http.MethodPost,
		path:     "/api/v1/admin/licenses/" + tokenID.String() + "/renew",
		admin:    true,
		body:     map[string]string{"ttl": ttl.String()},
		notFound: registry.ErrLicenseNotFound,
	}, &resp)
	if err != nil {
		return "", nil, err
	}
	return resp.Token, resp.License, nil
}

// ListLicenses returns the licenses issued to a customer. Requires an admin token.
func (c *Client) ListLicenses(ctx context.Context, customerID string) ([]*models.License, error) {
	var resp struct {
		Licenses []*models.License `json:"licenses"`
	}
	err := c.do(ctx, request{
		op:     "list licenses",
		method: http.MethodGet,
		path:   "/api/v1/admin/licenses?customer=" + url.QueryEscape(customerID),
		admin:  true,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.Licenses, nil
}

// Usage returns a license's most recent usage entries. Requires an admin token.
func (c *Client) Usage(ctx context.Context, tokenID uuid.UUID, limit int) ([]*models.UsageEntry, error) {
	path := "/api/v1/admin/licenses/" + tokenID.String() + "/usage"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var resp struct {
		Entries []*models.UsageEntry `json:"entries"`
	}
	err := c.do(ctx, request{
		op:       "list usage",
		method:   http.MethodGet,
		path:     path,
		admin:    true,
		notFound: registry.ErrLicenseNotFound,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.Entries, nil
}

// Publish adds a component version to the catalog. Requires an admin token.
func (c *Client) Publish(ctx context.Context, comp *models.Component) (*models.Component, error) {
	var published models.Component
	err := c.do(ctx, request{
		op:     "publish component",
		method: http.MethodPost,
		path:   "/api/v1/admin/components",
		admin:  true,
		body: map[string]any{
			"slug":             comp.Slug,
			"name":             comp.Name,
			"version":          comp.Version,
			"required_tier":    comp.RequiredTier,
			"dependency_slugs": comp.Dependencies,
			"content_hash":     comp.ContentHash,
			"storage_location": comp.StorageLocation,
		},
	}, &published)
	if err != nil {
		return nil, err
	}
	return &published, nil
}

// ImportResult summarises a catalog import.
type ImportResult struct {
	Published []string `json:"published"`
	Skipped   []string `json:"skipped"`
}

// ImportCatalog uploads a YAML catalog manifest. Requires an admin token.
func (c *Client) ImportCatalog(ctx context.Context, manifest io.Reader) (*ImportResult, error) {
	var result ImportResult
	err := c.do(ctx, request{
		op:          "import catalog",
		method:      http.MethodPost,
		path:        "/api/v1/admin/catalog/import",
		admin:       true,
		raw:         manifest,
		contentType: "application/yaml",
	}, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

type licenseResponse struct {
	Token   string          `json:"token"`
	License *models.License `json:"license"`
}

type request struct {
	op          string
	method      string
	path        string
	license     string
	admin       bool
	body        any
	raw         io.Reader
	contentType string
	notFound    error
}

func (c *Client) resolve(path string) (string, error) {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path, nil
	}
	if !strings.HasPrefix(path, "/") {
		return "", fmt.Errorf("invalid registry path %q", path)
	}
	return c.baseURL + path, nil
}

func (c *Client) do(ctx context.Context, r request, result any) error {
	target, err := c.resolve(r.path)
	if err != nil {
		return err
	}

	body := r.raw
	contentType := r.contentType
	if r.body != nil {
		data, err := json.Marshal(r.body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
		contentType = "application/json"
	}

	req, err := http.NewRequestWithContext(ctx, r.method, target, body)
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	switch {
	case r.admin:
		if c.adminToken == "" {
			return fmt.Errorf("%s: %w: no admin token configured", r.op, ErrUnauthorized)
		}
		req.Header.Set("Authorization", "Bearer "+c.adminToken)
	case r.license != "":
		req.Header.Set("Authorization", "License "+r.license)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &NetworkError{Op: r.op, Err: err}
	}
	defer resp.Body.Close()

	c.logger.Debug().
		Str("op", r.op).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("registry call")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeError(resp, r.notFound)
	}
	if result == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("%s: decode response: %w", r.op, err)
	}
	return nil
}
