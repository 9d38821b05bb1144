package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/vibebiz/premium/internal/models"
)

// Manifest is the YAML document used to seed a catalog.
//
//	components:
//	  - slug: billing
//	    name: Billing
//	    version: 1.2.0
//	    required_tier: GROWTH
//	    dependencies: [auth]
//	    content_hash: sha256:...
//	    storage_location: billing/1.2.0.tar.gz
type Manifest struct {
	Components []models.Component `yaml:"components"`
}

// ParseManifest decodes and validates a catalog manifest.
func ParseManifest(r io.Reader) (*Manifest, error) {
	var m Manifest
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("decode catalog manifest: %w", err)
	}

	seen := make(map[string]bool)
	for i := range m.Components {
		comp := &m.Components[i]
		if err := Validate(comp); err != nil {
			return nil, fmt.Errorf("component %d: %w", i, err)
		}
		if seen[comp.Ref()] {
			return nil, fmt.Errorf("%w: %s listed twice", ErrInvalidComponent, comp.Ref())
		}
		seen[comp.Ref()] = true
	}
	return &m, nil
}

// ImportResult summarises a manifest import.
type ImportResult struct {
	Published []string
	Skipped   []string
}

// Import publishes every component in the manifest. Versions that already
// exist are skipped, so importing the same manifest twice is harmless.
func (c *Catalog) Import(ctx context.Context, m *Manifest) (*ImportResult, error) {
	result := &ImportResult{}
	for i := range m.Components {
		comp := m.Components[i]
		err := c.Publish(ctx, &comp)
		switch {
		case err == nil:
			result.Published = append(result.Published, comp.Ref())
		case errors.Is(err, ErrVersionExists):
			result.Skipped = append(result.Skipped, comp.Ref())
		default:
			return result, err
		}
	}
	return result, nil
}
