// Package main is the entrypoint for the VibeBiz license registry server.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/ulule/limiter/v3"

	"github.com/vibebiz/premium/internal/api"
	"github.com/vibebiz/premium/internal/api/handlers"
	"github.com/vibebiz/premium/internal/api/middleware"
	"github.com/vibebiz/premium/internal/catalog"
	"github.com/vibebiz/premium/internal/config"
	"github.com/vibebiz/premium/internal/db"
	"github.com/vibebiz/premium/internal/db/sqlite"
	"github.com/vibebiz/premium/internal/distribution"
	"github.com/vibebiz/premium/internal/license"
	"github.com/vibebiz/premium/internal/maintenance"
	"github.com/vibebiz/premium/internal/metrics"
	"github.com/vibebiz/premium/internal/registry"
)

// Build information, set via ldflags.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

// store is everything the registry needs from its database.
type store interface {
	registry.Store
	catalog.Store
	maintenance.RetentionStore
	Ping(ctx context.Context) error
}

func main() {
	os.Exit(run())
}

func run() int {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// A local .env is a development convenience; real deployments set the environment.
	if _, err := os.Stat(".env"); err == nil {
		_ = godotenv.Load()
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Str("version", Version).Logger()

	cfg, err := config.LoadServerConfig()
	if err != nil {
		logger.Error().Err(err).Msg("Invalid configuration")
		return 1
	}
	if !cfg.IsProduction() {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		logger = logger.Level(level)
	}

	logger.Info().
		Str("commit", Commit).
		Str("build_date", BuildDate).
		Str("env", string(cfg.Environment)).
		Msg("Starting VibeBiz registry")

	privateKey, err := license.ParsePrivateKey(cfg.SigningKey)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to decode VIBEBIZ_SIGNING_KEY")
		return 1
	}
	signer, err := license.NewSigner(privateKey)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to initialize license signer")
		return 1
	}
	grantSigner, err := distribution.NewGrantSigner([]byte(cfg.GrantSecret), cfg.GrantTTL)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to initialize grant signer")
		return 1
	}

	st, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to open database")
		return 1
	}
	defer closeStore()

	checks := map[string]handlers.Pinger{"database": st}

	var (
		rdb          *redis.Client
		ledger       distribution.Ledger
		limiterStore limiter.Store
	)
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Error().Err(err).Msg("Failed to parse VIBEBIZ_REDIS_URL")
			return 1
		}
		rdb = redis.NewClient(opts)
		defer rdb.Close()

		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Error().Err(err).Msg("Failed to connect to Redis")
			return 1
		}
		ledger = distribution.NewRedisLedger(rdb, "vibebiz:grants")
		limiterStore, err = middleware.NewRedisLimiterStore(rdb, "vibebiz:ratelimit")
		if err != nil {
			logger.Error().Err(err).Msg("Failed to create rate limit store")
			return 1
		}
		checks["redis"] = handlers.PingFunc(func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		})
		logger.Info().Msg("Using Redis for grant ledger and rate limits")
	} else {
		ledger = distribution.NewMemoryLedger()
		logger.Warn().Msg("VIBEBIZ_REDIS_URL not set, grant ledger and rate limits are per process")
	}

	artifacts, err := cfg.ArtifactConfig.OpenStore(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to open artifact store")
		return 1
	}

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m, err := metrics.New(promRegistry)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to register metrics")
		return 1
	}

	registrySvc := registry.NewService(st, signer, logger)
	registrySvc.SetRecorder(m)
	cat := catalog.New(st, logger)
	distributor := distribution.NewDistributor(distribution.Config{
		Registry: registrySvc,
		Catalog:  cat,
		Signer:   grantSigner,
		Ledger:   ledger,
		Store:    artifacts,
		Presign:  cfg.PresignDownloads,
		Recorder: m,
		Logger:   logger,
	})

	routerCfg := api.Config{
		AllowedOrigins:  cfg.AllowedOrigins,
		VerifyRateLimit: cfg.VerifyRateLimit,
		AdminRateLimit:  cfg.AdminRateLimit,
		RateLimitPeriod: cfg.RateLimitPeriod,
		LimiterStore:    limiterStore,
		AdminTokenHash:  cfg.AdminTokenHash,
		MaxBodyBytes:    cfg.MaxBodyBytes,
		Version:         Version,
		Commit:          Commit,
		BuildDate:       BuildDate,
	}
	if cfg.AdminTokenHash == "" {
		logger.Warn().Msg("VIBEBIZ_ADMIN_TOKEN_HASH not set, admin API is disabled")
	}

	router, err := api.NewRouter(routerCfg, api.Services{
		Licenses:     registrySvc,
		Catalog:      cat,
		Distribution: distributor,
		Metrics:      m,
		Gatherer:     promRegistry,
		Health:       checks,
	}, logger)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to initialize router")
		return 1
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router.Engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Streaming downloads can take a while.
		WriteTimeout: 10 * time.Minute,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.ListenAddr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	if cfg.UsageRetentionDays > 0 {
		retention := maintenance.NewRetentionScheduler(st, cfg.UsageRetentionDays, logger)
		retention.SetRecorder(m)
		if err := retention.Start(); err != nil {
			logger.Error().Err(err).Msg("Failed to start retention scheduler")
		} else {
			defer retention.Stop()
		}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info().Str("signal", sig.String()).Msg("Shutting down server")
	case err := <-serverErr:
		logger.Error().Err(err).Msg("HTTP server error")
		return 1
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Server shutdown error")
		return 1
	}

	logger.Info().Msg("Server stopped gracefully")
	return 0
}

func openStore(ctx context.Context, cfg *config.ServerConfig, logger zerolog.Logger) (store, func(), error) {
	if cfg.SQLitePath != "" {
		s, err := sqlite.Open(ctx, cfg.SQLitePath, logger)
		if err != nil {
			return nil, nil, err
		}
		logger.Info().Str("path", cfg.SQLitePath).Msg("Using embedded SQLite store")
		return s, func() { _ = s.Close() }, nil
	}

	database, err := db.New(ctx, db.DefaultConfig(cfg.DatabaseURL), logger)
	if err != nil {
		return nil, nil, err
	}
	if err := database.Migrate(ctx); err != nil {
		database.Close()
		return nil, nil, err
	}
	return database, database.Close, nil
}

