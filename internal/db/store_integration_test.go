//go:build integration

package db

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/vibebiz/premium/internal/license"
	"github.com/vibebiz/premium/internal/models"
)

var testDB *DB

func TestMain(m *testing.M) {
	if !dockerAvailable() {
		fmt.Println("Docker is not available, skipping integration tests")
		os.Exit(0)
	}

	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("vibebiz_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		log.Fatalf("failed to start postgres container: %v", err)
	}

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = pgContainer.Terminate(ctx)
		log.Fatalf("failed to get connection string: %v", err)
	}

	cfg := DefaultConfig(connStr)
	cfg.MaxConns = 10
	cfg.MinConns = 1

	testDB, err = New(ctx, cfg, zerolog.New(zerolog.NewConsoleWriter()))
	if err != nil {
		_ = pgContainer.Terminate(ctx)
		log.Fatalf("failed to connect to database: %v", err)
	}

	if err := testDB.Migrate(ctx); err != nil {
		testDB.Close()
		_ = pgContainer.Terminate(ctx)
		log.Fatalf("failed to run migrations: %v", err)
	}

	code := m.Run()

	testDB.Close()
	_ = pgContainer.Terminate(ctx)

	os.Exit(code)
}

func dockerAvailable() bool {
	return exec.Command("docker", "info").Run() == nil
}

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	_, err := testDB.Pool.Exec(context.Background(),
		`TRUNCATE usage_log, licenses, components, retention_audit`)
	require.NoError(t, err)
	return testDB
}

func createTestLicense(t *testing.T, db *DB, tier license.Tier) *models.License {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Second)
	lic := models.NewLicense(&license.Claims{
		TokenID:    uuid.New(),
		CustomerID: "cust-" + uuid.NewString()[:8],
		Tier:       tier,
		IssuedAt:   now,
		ExpiresAt:  now.Add(24 * time.Hour),
	})
	require.NoError(t, db.CreateLicense(context.Background(), lic))
	return lic
}

func TestLicenseRoundTrip(t *testing.T) {
	db := setupTestDB(t)
	lic := createTestLicense(t, db, license.TierGrowth)

	got, err := db.GetLicenseByTokenID(context.Background(), lic.TokenID)
	require.NoError(t, err)
	assert.Equal(t, lic.ID, got.ID)
	assert.Equal(t, license.TierGrowth, got.Tier)
	assert.False(t, got.Revoked)
	assert.True(t, lic.ExpiresAt.Equal(got.ExpiresAt))

	_, err = db.GetLicenseByTokenID(context.Background(), uuid.New())
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestListLicensesByCustomer(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	lic := createTestLicense(t, db, license.TierGrowth)
	createTestLicense(t, db, license.TierDev)

	licenses, err := db.ListLicensesByCustomer(ctx, lic.CustomerID)
	require.NoError(t, err)
	require.Len(t, licenses, 1)
	assert.Equal(t, lic.TokenID, licenses[0].TokenID)

	none, err := db.ListLicensesByCustomer(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestRevokeLicenseConcurrent(t *testing.T) {
	db := setupTestDB(t)
	lic := createTestLicense(t, db, license.TierFull)
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make(chan *models.License, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got, err := db.RevokeLicense(ctx, lic.TokenID, fmt.Sprintf("reason-%d", i), time.Now().UTC())
			assert.NoError(t, err)
			results <- got
		}(i)
	}
	wg.Wait()
	close(results)

	final, err := db.GetLicenseByTokenID(ctx, lic.TokenID)
	require.NoError(t, err)
	require.True(t, final.Revoked)
	for got := range results {
		assert.Equal(t, final.RevokedReason, got.RevokedReason)
	}

	_, err = db.RevokeLicense(ctx, uuid.New(), "x", time.Now())
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestUsageAndRetention(t *testing.T) {
	db := setupTestDB(t)
	lic := createTestLicense(t, db, license.TierDev)
	ctx := context.Background()

	old := models.NewUsageEntry(&lic.ID, models.UsageActionVerify, "verify", "valid", "10.0.0.1")
	old.CreatedAt = time.Now().UTC().AddDate(0, 0, -100)
	require.NoError(t, db.AppendUsage(ctx, old))
	recent := models.NewUsageEntry(&lic.ID, models.UsageActionDownload, "auth@1.0.0", "granted", "10.0.0.1")
	require.NoError(t, db.AppendUsage(ctx, recent))
	require.NoError(t, db.AppendUsage(ctx, models.NewUsageEntry(nil, models.UsageActionVerify, "verify", "malformed", "")))

	entries, err := db.ListUsage(ctx, lic.ID, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, recent.ID, entries[0].ID)

	run, err := db.PurgeUsageBefore(ctx, time.Now().AddDate(0, 0, -90))
	require.NoError(t, err)
	assert.Equal(t, int64(1), run.DeletedRows)

	runs, err := db.ListRetentionRuns(ctx, 5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, run.ID, runs[0].ID)
}

func TestComponents(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	c := &models.Component{
		Slug:            "billing",
		Name:            "Billing",
		Version:         "1.2.0",
		RequiredTier:    license.TierGrowth,
		Dependencies:    []string{"auth"},
		ContentHash:     "sha256:abc",
		StorageLocation: "billing/1.2.0.tar.gz",
		PublishedAt:     time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, db.CreateComponent(ctx, c))
	assert.ErrorIs(t, db.CreateComponent(ctx, c), models.ErrAlreadyExists)

	got, err := db.GetComponent(ctx, "billing", "1.2.0")
	require.NoError(t, err)
	assert.Equal(t, license.TierGrowth, got.RequiredTier)
	assert.Equal(t, []string{"auth"}, got.Dependencies)

	_, err = db.GetComponent(ctx, "billing", "9.9.9")
	assert.ErrorIs(t, err, models.ErrNotFound)

	all, err := db.ListComponents(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}
