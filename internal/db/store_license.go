package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/vibebiz/premium/internal/license"
	"github.com/vibebiz/premium/internal/models"
)

const licenseColumns = `id, token_id, customer_id, tier, issued_at, expires_at,
	revoked, revoked_reason, revoked_at, created_at`

func scanLicense(row pgx.Row) (*models.License, error) {
	var lic models.License
	var tierStr string
	err := row.Scan(
		&lic.ID, &lic.TokenID, &lic.CustomerID, &tierStr, &lic.IssuedAt, &lic.ExpiresAt,
		&lic.Revoked, &lic.RevokedReason, &lic.RevokedAt, &lic.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	tier, err := license.ParseTier(tierStr)
	if err != nil {
		return nil, fmt.Errorf("license %s: %w", lic.ID, err)
	}
	lic.Tier = tier
	return &lic, nil
}

// CreateLicense inserts a newly issued license.
func (db *DB) CreateLicense(ctx context.Context, lic *models.License) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO licenses (id, token_id, customer_id, tier, issued_at, expires_at,
			revoked, revoked_reason, revoked_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, lic.ID, lic.TokenID, lic.CustomerID, lic.Tier.String(), lic.IssuedAt, lic.ExpiresAt,
		lic.Revoked, lic.RevokedReason, lic.RevokedAt, lic.CreatedAt)
	if err != nil {
		return fmt.Errorf("create license: %w", err)
	}
	return nil
}

// GetLicenseByTokenID returns the license issued with the given token ID.
func (db *DB) GetLicenseByTokenID(ctx context.Context, tokenID uuid.UUID) (*models.License, error) {
	lic, err := scanLicense(db.Pool.QueryRow(ctx,
		`SELECT `+licenseColumns+` FROM licenses WHERE token_id = $1`, tokenID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("get license: %w", err)
	}
	return lic, nil
}

// RevokeLicense marks a license revoked. The conditional update makes
// concurrent revocations settle on whichever committed first; later calls
// read back that original revocation.
func (db *DB) RevokeLicense(ctx context.Context, tokenID uuid.UUID, reason string, at time.Time) (*models.License, error) {
	lic, err := scanLicense(db.Pool.QueryRow(ctx, `
		UPDATE licenses
		SET revoked = TRUE, revoked_reason = $2, revoked_at = $3
		WHERE token_id = $1 AND revoked = FALSE
		RETURNING `+licenseColumns,
		tokenID, reason, at))
	if err == nil {
		return lic, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("revoke license: %w", err)
	}

	// Either already revoked or unknown.
	return db.GetLicenseByTokenID(ctx, tokenID)
}

// ListLicensesByCustomer returns all licenses issued to a customer, newest first.
func (db *DB) ListLicensesByCustomer(ctx context.Context, customerID string) ([]*models.License, error) {
	rows, err := db.Pool.Query(ctx,
		`SELECT `+licenseColumns+` FROM licenses WHERE customer_id = $1 ORDER BY issued_at DESC`,
		customerID)
	if err != nil {
		return nil, fmt.Errorf("list licenses: %w", err)
	}
	defer rows.Close()

	var licenses []*models.License
	for rows.Next() {
		lic, err := scanLicense(rows)
		if err != nil {
			return nil, fmt.Errorf("scan license: %w", err)
		}
		licenses = append(licenses, lic)
	}
	return licenses, rows.Err()
}
