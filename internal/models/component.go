package models

import (
	"fmt"
	"time"

	"github.com/vibebiz/premium/internal/license"
)

// Component describes one published version of a distributable component.
// A (Slug, Version) pair is immutable once published.
type Component struct {
	Slug            string       `json:"slug" yaml:"slug"`
	Name            string       `json:"name" yaml:"name"`
	Version         string       `json:"version" yaml:"version"`
	RequiredTier    license.Tier `json:"required_tier" yaml:"required_tier"`
	Dependencies    []string     `json:"dependency_slugs" yaml:"dependencies"`
	ContentHash     string       `json:"content_hash,omitempty" yaml:"content_hash"`
	StorageLocation string       `json:"-" yaml:"storage_location"`
	PublishedAt     time.Time    `json:"published_at" yaml:"-"`
}

// Ref returns the slug@version form used in logs and usage targets.
func (c *Component) Ref() string {
	return fmt.Sprintf("%s@%s", c.Slug, c.Version)
}
