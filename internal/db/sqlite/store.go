package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/vibebiz/premium/internal/license"
	"github.com/vibebiz/premium/internal/models"
)

const licenseColumns = `id, token_id, customer_id, tier, issued_at, expires_at,
	revoked, revoked_reason, revoked_at, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLicense(row rowScanner) (*models.License, error) {
	var lic models.License
	var id, tokenID, tier string
	var issued, expires, created int64
	var revokedAt sql.NullInt64
	err := row.Scan(&id, &tokenID, &lic.CustomerID, &tier, &issued, &expires,
		&lic.Revoked, &lic.RevokedReason, &revokedAt, &created)
	if err != nil {
		return nil, err
	}
	if lic.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parse license id: %w", err)
	}
	if lic.TokenID, err = uuid.Parse(tokenID); err != nil {
		return nil, fmt.Errorf("parse token id: %w", err)
	}
	if lic.Tier, err = license.ParseTier(tier); err != nil {
		return nil, err
	}
	lic.IssuedAt = fromMillis(issued)
	lic.ExpiresAt = fromMillis(expires)
	lic.CreatedAt = fromMillis(created)
	if revokedAt.Valid {
		t := fromMillis(revokedAt.Int64)
		lic.RevokedAt = &t
	}
	return &lic, nil
}

// CreateLicense inserts a newly issued license.
func (s *Store) CreateLicense(ctx context.Context, lic *models.License) error {
	var revokedAt sql.NullInt64
	if lic.RevokedAt != nil {
		revokedAt = sql.NullInt64{Int64: toMillis(*lic.RevokedAt), Valid: true}
	}
	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO licenses (`+licenseColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, lic.ID.String(), lic.TokenID.String(), lic.CustomerID, lic.Tier.String(),
		toMillis(lic.IssuedAt), toMillis(lic.ExpiresAt), lic.Revoked, lic.RevokedReason,
		revokedAt, toMillis(lic.CreatedAt))
	if err != nil {
		if isUniqueConstraintError(err) {
			return models.ErrAlreadyExists
		}
		return fmt.Errorf("create license: %w", err)
	}
	return nil
}

// GetLicenseByTokenID returns the license issued with the given token ID.
func (s *Store) GetLicenseByTokenID(ctx context.Context, tokenID uuid.UUID) (*models.License, error) {
	lic, err := scanLicense(s.conn.QueryRowContext(ctx,
		`SELECT `+licenseColumns+` FROM licenses WHERE token_id = ?`, tokenID.String()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("get license: %w", err)
	}
	return lic, nil
}

// RevokeLicense marks a license revoked if it is not already.
func (s *Store) RevokeLicense(ctx context.Context, tokenID uuid.UUID, reason string, at time.Time) (*models.License, error) {
	lic, err := scanLicense(s.conn.QueryRowContext(ctx, `
		UPDATE licenses
		SET revoked = 1, revoked_reason = ?, revoked_at = ?
		WHERE token_id = ? AND revoked = 0
		RETURNING `+licenseColumns,
		reason, toMillis(at), tokenID.String()))
	if err == nil {
		return lic, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("revoke license: %w", err)
	}
	return s.GetLicenseByTokenID(ctx, tokenID)
}

// ListLicensesByCustomer returns all licenses issued to a customer, newest first.
func (s *Store) ListLicensesByCustomer(ctx context.Context, customerID string) ([]*models.License, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT `+licenseColumns+` FROM licenses WHERE customer_id = ? ORDER BY issued_at DESC`,
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

// AppendUsage writes a usage log entry.
func (s *Store) AppendUsage(ctx context.Context, entry *models.UsageEntry) error {
	var licenseID sql.NullString
	if entry.LicenseID != nil {
		licenseID = sql.NullString{String: entry.LicenseID.String(), Valid: true}
	}
	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO usage_log (id, license_id, action, target, outcome, caller, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, entry.ID.String(), licenseID, string(entry.Action), entry.Target, entry.Outcome,
		entry.Caller, toMillis(entry.CreatedAt))
	if err != nil {
		return fmt.Errorf("append usage entry: %w", err)
	}
	return nil
}

// ListUsage returns the most recent usage entries for a license.
func (s *Store) ListUsage(ctx context.Context, licenseID uuid.UUID, limit int) ([]*models.UsageEntry, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, action, target, outcome, caller, created_at
		FROM usage_log WHERE license_id = ?
		ORDER BY created_at DESC LIMIT ?
	`, licenseID.String(), limit)
	if err != nil {
		return nil, fmt.Errorf("list usage: %w", err)
	}
	defer rows.Close()

	var entries []*models.UsageEntry
	for rows.Next() {
		var e models.UsageEntry
		var id, action string
		var created int64
		if err := rows.Scan(&id, &action, &e.Target, &e.Outcome, &e.Caller, &created); err != nil {
			return nil, fmt.Errorf("scan usage entry: %w", err)
		}
		if e.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("parse usage id: %w", err)
		}
		lid := licenseID
		e.LicenseID = &lid
		e.Action = models.UsageAction(action)
		e.CreatedAt = fromMillis(created)
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// PurgeUsageBefore deletes usage entries older than cutoff and audits the run
// in one transaction.
func (s *Store) PurgeUsageBefore(ctx context.Context, cutoff time.Time) (*models.RetentionRun, error) {
	run := &models.RetentionRun{
		ID:     uuid.New(),
		Cutoff: cutoff.UTC(),
		RanAt:  time.Now().UTC(),
	}
	err := s.execTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM usage_log WHERE created_at < ?`, toMillis(run.Cutoff))
		if err != nil {
			return fmt.Errorf("delete usage entries: %w", err)
		}
		if run.DeletedRows, err = res.RowsAffected(); err != nil {
			return fmt.Errorf("count deleted entries: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO retention_audit (id, cutoff, deleted_rows, ran_at) VALUES (?, ?, ?, ?)
		`, run.ID.String(), toMillis(run.Cutoff), run.DeletedRows, toMillis(run.RanAt))
		if err != nil {
			return fmt.Errorf("record retention run: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return run, nil
}

// ListRetentionRuns returns recorded retention runs, newest first.
func (s *Store) ListRetentionRuns(ctx context.Context, limit int) ([]*models.RetentionRun, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, cutoff, deleted_rows, ran_at FROM retention_audit
		ORDER BY ran_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list retention runs: %w", err)
	}
	defer rows.Close()

	var runs []*models.RetentionRun
	for rows.Next() {
		var r models.RetentionRun
		var id string
		var cutoff, ranAt int64
		if err := rows.Scan(&id, &cutoff, &r.DeletedRows, &ranAt); err != nil {
			return nil, fmt.Errorf("scan retention run: %w", err)
		}
		if r.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("parse retention run id: %w", err)
		}
		r.Cutoff = fromMillis(cutoff)
		r.RanAt = fromMillis(ranAt)
		runs = append(runs, &r)
	}
	return runs, rows.Err()
}

const componentColumns = `slug, version, name, required_tier, dependencies,
	content_hash, storage_location, published_at`

func scanComponent(row rowScanner) (*models.Component, error) {
	var c models.Component
	var tier, deps string
	var published int64
	err := row.Scan(&c.Slug, &c.Version, &c.Name, &tier, &deps, &c.ContentHash, &c.StorageLocation, &published)
	if err != nil {
		return nil, err
	}
	if c.RequiredTier, err = license.ParseTier(tier); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(deps), &c.Dependencies); err != nil {
		return nil, fmt.Errorf("decode dependencies of %s: %w", c.Ref(), err)
	}
	c.PublishedAt = fromMillis(published)
	return &c, nil
}

// CreateComponent publishes a component version.
func (s *Store) CreateComponent(ctx context.Context, c *models.Component) error {
	deps := c.Dependencies
	if deps == nil {
		deps = []string{}
	}
	encoded, err := json.Marshal(deps)
	if err != nil {
		return fmt.Errorf("encode dependencies: %w", err)
	}
	_, err = s.conn.ExecContext(ctx, `
		INSERT INTO components (`+componentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, c.Slug, c.Version, c.Name, c.RequiredTier.String(), string(encoded),
		c.ContentHash, c.StorageLocation, toMillis(c.PublishedAt))
	if err != nil {
		if isUniqueConstraintError(err) {
			return models.ErrAlreadyExists
		}
		return fmt.Errorf("create component: %w", err)
	}
	return nil
}

// GetComponent returns one published component version.
func (s *Store) GetComponent(ctx context.Context, slug, version string) (*models.Component, error) {
	c, err := scanComponent(s.conn.QueryRowContext(ctx,
		`SELECT `+componentColumns+` FROM components WHERE slug = ? AND version = ?`, slug, version))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("get component: %w", err)
	}
	return c, nil
}

// ListComponents returns every published component version.
func (s *Store) ListComponents(ctx context.Context) ([]*models.Component, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT `+componentColumns+` FROM components ORDER BY slug, published_at`)
	if err != nil {
		return nil, fmt.Errorf("list components: %w", err)
	}
	defer rows.Close()

	var components []*models.Component
	for rows.Next() {
		c, err := scanComponent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan component: %w", err)
		}
		components = append(components, c)
	}
	return components, rows.Err()
}
