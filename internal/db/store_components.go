package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/vibebiz/premium/internal/license"
	"github.com/vibebiz/premium/internal/models"
)

const componentColumns = `slug, version, name, required_tier, dependencies,
	content_hash, storage_location, published_at`

func scanComponent(row pgx.Row) (*models.Component, error) {
	var c models.Component
	var tierStr string
	err := row.Scan(&c.Slug, &c.Version, &c.Name, &tierStr, &c.Dependencies,
		&c.ContentHash, &c.StorageLocation, &c.PublishedAt)
	if err != nil {
		return nil, err
	}
	tier, err := license.ParseTier(tierStr)
	if err != nil {
		return nil, fmt.Errorf("component %s: %w", c.Ref(), err)
	}
	c.RequiredTier = tier
	return &c, nil
}

// CreateComponent publishes a component version. Publishing an existing
// (slug, version) returns models.ErrAlreadyExists.
func (db *DB) CreateComponent(ctx context.Context, c *models.Component) error {
	deps := c.Dependencies
	if deps == nil {
		deps = []string{}
	}
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO components (slug, version, name, required_tier, dependencies,
			content_hash, storage_location, published_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, c.Slug, c.Version, c.Name, c.RequiredTier.String(), deps,
		c.ContentHash, c.StorageLocation, c.PublishedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return models.ErrAlreadyExists
		}
		return fmt.Errorf("create component: %w", err)
	}
	return nil
}

// GetComponent returns one published component version.
func (db *DB) GetComponent(ctx context.Context, slug, version string) (*models.Component, error) {
	c, err := scanComponent(db.Pool.QueryRow(ctx,
		`SELECT `+componentColumns+` FROM components WHERE slug = $1 AND version = $2`,
		slug, version))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("get component: %w", err)
	}
	return c, nil
}

// ListComponents returns every published component version.
func (db *DB) ListComponents(ctx context.Context) ([]*models.Component, error) {
	rows, err := db.Pool.Query(ctx,
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
