package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/vibebiz/premium/internal/models"
)

// AppendUsage writes a usage log entry. Entries are never updated.
func (db *DB) AppendUsage(ctx context.Context, entry *models.UsageEntry) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO usage_log (id, license_id, action, target, outcome, caller, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, entry.ID, entry.LicenseID, string(entry.Action), entry.Target, entry.Outcome, entry.Caller, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("append usage entry: %w", err)
	}
	return nil
}

// ListUsage returns the most recent usage entries for a license.
func (db *DB) ListUsage(ctx context.Context, licenseID uuid.UUID, limit int) ([]*models.UsageEntry, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, license_id, action, target, outcome, caller, created_at
		FROM usage_log
		WHERE license_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, licenseID, limit)
	if err != nil {
		return nil, fmt.Errorf("list usage: %w", err)
	}
	defer rows.Close()

	var entries []*models.UsageEntry
	for rows.Next() {
		var e models.UsageEntry
		var action string
		if err := rows.Scan(&e.ID, &e.LicenseID, &action, &e.Target, &e.Outcome, &e.Caller, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan usage entry: %w", err)
		}
		e.Action = models.UsageAction(action)
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// PurgeUsageBefore deletes usage entries created before cutoff and records the
// run in retention_audit within the same transaction.
func (db *DB) PurgeUsageBefore(ctx context.Context, cutoff time.Time) (*models.RetentionRun, error) {
	run := &models.RetentionRun{
		ID:     uuid.New(),
		Cutoff: cutoff.UTC(),
		RanAt:  time.Now().UTC(),
	}

	err := db.ExecTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM usage_log WHERE created_at < $1`, run.Cutoff)
		if err != nil {
			return fmt.Errorf("delete usage entries: %w", err)
		}
		run.DeletedRows = tag.RowsAffected()

		_, err = tx.Exec(ctx, `
			INSERT INTO retention_audit (id, cutoff, deleted_rows, ran_at)
			VALUES ($1, $2, $3, $4)
		`, run.ID, run.Cutoff, run.DeletedRows, run.RanAt)
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
func (db *DB) ListRetentionRuns(ctx context.Context, limit int) ([]*models.RetentionRun, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, cutoff, deleted_rows, ran_at FROM retention_audit
		ORDER BY ran_at DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list retention runs: %w", err)
	}
	defer rows.Close()

	var runs []*models.RetentionRun
	for rows.Next() {
		var r models.RetentionRun
		if err := rows.Scan(&r.ID, &r.Cutoff, &r.DeletedRows, &r.RanAt); err != nil {
			return nil, fmt.Errorf("scan retention run: %w", err)
		}
		runs = append(runs, &r)
	}
	return runs, rows.Err()
}
