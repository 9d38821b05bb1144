// Package api provides the HTTP API for the license registry.
package api

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/ulule/limiter/v3"

	"github.com/vibebiz/premium/internal/api/handlers"
	"github.com/vibebiz/premium/internal/api/middleware"
)

// Route labels used for rate limiting metrics.
const (
	RouteVerify = "verify"
	RouteAdmin  = "admin"
)

// Config holds configuration for the API router.
type Config struct {
	// AllowedOrigins for CORS. Empty means no cross-origin access.
	AllowedOrigins []string
	// VerifyRateLimit is the per-client request budget for licensed routes.
	VerifyRateLimit int64
	// AdminRateLimit is the per-client request budget for admin routes.
	AdminRateLimit int64
	// RateLimitPeriod is the duration string for rate limiting (e.g. "1m").
	RateLimitPeriod string
	// LimiterStore is shared between replicas when set; nil means in-memory.
	LimiterStore limiter.Store
	// AdminTokenHash is the bcrypt hash of the admin bearer token.
	AdminTokenHash string
	MaxBodyBytes   int64
	// Version information for the version endpoint.
	Version   string
	Commit    string
	BuildDate string
}

// DefaultConfig returns a Config with sensible defaults for development.
func DefaultConfig() Config {
	return Config{
		AllowedOrigins:  []string{},
		VerifyRateLimit: 60,
		AdminRateLimit:  30,
		RateLimitPeriod: "1m",
		MaxBodyBytes:    1 << 20,
		Version:         "dev",
		Commit:          "unknown",
		BuildDate:       "unknown",
	}
}

// Metrics is the registry metrics sink used by the router.
type Metrics interface {
	middleware.RequestObserver
	RecordRateLimited(route string)
}

// Services are the domain services behind the API.
type Services struct {
	Licenses     handlers.LicenseService
	Catalog      handlers.CatalogService
	Distribution handlers.DistributionService
	// Metrics and Gatherer are optional.
	Metrics  Metrics
	Gatherer prometheus.Gatherer
	Health   map[string]handlers.Pinger
}

// Router wraps a Gin engine with configured middleware and routes.
type Router struct {
	Engine *gin.Engine
	logger zerolog.Logger
}

// NewRouter creates a new Router with the given dependencies.
func NewRouter(cfg Config, svc Services, logger zerolog.Logger) (*Router, error) {
	if svc.Licenses == nil || svc.Catalog == nil || svc.Distribution == nil {
		return nil, errors.New("api: licenses, catalog and distribution services are required")
	}

	r := &Router{
		Engine: gin.New(),
		logger: logger.With().Str("component", "router").Logger(),
	}

	// Global middleware
	r.Engine.Use(gin.Recovery())
	r.Engine.Use(middleware.RequestLogger(logger))
	r.Engine.Use(middleware.SecurityHeaders())
	r.Engine.Use(middleware.CORS(cfg.AllowedOrigins, logger))
	if cfg.MaxBodyBytes > 0 {
		r.Engine.Use(middleware.BodyLimit(cfg.MaxBodyBytes))
	}
	if svc.Metrics != nil {
		r.Engine.Use(middleware.RequestMetrics(svc.Metrics))
	}

	// Health, version and metrics endpoints (no auth required)
	handlers.NewHealthHandler(svc.Health, logger).RegisterPublicRoutes(r.Engine)
	handlers.NewVersionHandler(cfg.Version, cfg.Commit, cfg.BuildDate).RegisterPublicRoutes(r.Engine)
	if svc.Gatherer != nil {
		handlers.NewMetricsHandler(svc.Gatherer, logger).RegisterPublicRoutes(r.Engine)
	}

	onLimited := func(string) {}
	if svc.Metrics != nil {
		onLimited = svc.Metrics.RecordRateLimited
	}

	verifyLimiter, err := middleware.NewRateLimiter(cfg.VerifyRateLimit, cfg.RateLimitPeriod, middleware.RateLimitOptions{
		Store:     cfg.LimiterStore,
		Route:     RouteVerify,
		OnLimited: onLimited,
	})
	if err != nil {
		return nil, err
	}
	adminLimiter, err := middleware.NewRateLimiter(cfg.AdminRateLimit, cfg.RateLimitPeriod, middleware.RateLimitOptions{
		Store:     cfg.LimiterStore,
		Route:     RouteAdmin,
		OnLimited: onLimited,
	})
	if err != nil {
		return nil, err
	}

	licenseHandler := handlers.NewLicenseHandler(svc.Licenses, logger)
	componentsHandler := handlers.NewComponentsHandler(svc.Catalog, svc.Licenses, svc.Distribution, logger)

	// Licensed API routes
	apiV1 := r.Engine.Group("/api/v1")
	{
		public := apiV1.Group("", verifyLimiter)
		licenseHandler.RegisterPublicRoutes(public)
		componentsHandler.RegisterPublicRoutes(public)
	}

	// Admin routes (bearer token required)
	admin := apiV1.Group("/admin", adminLimiter, middleware.AdminAuth(cfg.AdminTokenHash, logger))
	{
		licenseHandler.RegisterAdminRoutes(admin)
		componentsHandler.RegisterAdminRoutes(admin)
	}

	return r, nil
}
