// Package catalog holds the published component descriptors and answers
// which of them a license tier may see.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/rs/zerolog"
	"github.com/vibebiz/premium/internal/license"
	"github.com/vibebiz/premium/internal/models"
)

// LatestVersion resolves to the highest published version.
const LatestVersion = "latest"

var (
	// ErrComponentNotFound indicates no component matches the slug and version.
	ErrComponentNotFound = errors.New("component not found")
	// ErrVersionExists indicates the slug and version are already published.
	ErrVersionExists = errors.New("component version already published")
	// ErrInvalidComponent indicates a descriptor failed validation.
	ErrInvalidComponent = errors.New("invalid component descriptor")
)

var slugPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{0,63}$`)

// Store persists component descriptors.
type Store interface {
	ListComponents(ctx context.Context) ([]*models.Component, error)
	GetComponent(ctx context.Context, slug, version string) (*models.Component, error)
	CreateComponent(ctx context.Context, c *models.Component) error
}

// Catalog serves component descriptors from a Store through a read cache.
type Catalog struct {
	store  Store
	logger zerolog.Logger

	mu     sync.RWMutex
	bySlug map[string][]*models.Component // sorted by ascending semver
	loaded bool
}

// New creates a Catalog.
func New(store Store, logger zerolog.Logger) *Catalog {
	return &Catalog{
		store:  store,
		logger: logger.With().Str("component", "catalog").Logger(),
	}
}

// Validate checks a descriptor before publication.
func Validate(c *models.Component) error {
	if !slugPattern.MatchString(c.Slug) {
		return fmt.Errorf("%w: slug %q must be lower-case letters, digits and dashes", ErrInvalidComponent, c.Slug)
	}
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidComponent)
	}
	if _, err := semver.StrictNewVersion(c.Version); err != nil {
		return fmt.Errorf("%w: version %q: %v", ErrInvalidComponent, c.Version, err)
	}
	if !c.RequiredTier.IsValid() {
		return fmt.Errorf("%w: unknown required tier", ErrInvalidComponent)
	}
	if !strings.HasPrefix(c.ContentHash, "sha256:") {
		return fmt.Errorf("%w: content hash must be sha256:<hex>", ErrInvalidComponent)
	}
	if c.StorageLocation == "" {
		return fmt.Errorf("%w: storage location is required", ErrInvalidComponent)
	}
	for _, dep := range c.Dependencies {
		if dep == c.Slug {
			return fmt.Errorf("%w: component cannot depend on itself", ErrInvalidComponent)
		}
		if !slugPattern.MatchString(dep) {
			return fmt.Errorf("%w: dependency %q is not a valid slug", ErrInvalidComponent, dep)
		}
	}
	return nil
}

// Publish adds a new component version. Published versions are immutable.
func (c *Catalog) Publish(ctx context.Context, comp *models.Component) error {
	if err := Validate(comp); err != nil {
		return err
	}
	if comp.PublishedAt.IsZero() {
		comp.PublishedAt = time.Now().UTC()
	}

	if err := c.store.CreateComponent(ctx, comp); err != nil {
		if errors.Is(err, models.ErrAlreadyExists) {
			return fmt.Errorf("%w: %s", ErrVersionExists, comp.Ref())
		}
		return fmt.Errorf("publish component: %w", err)
	}

	c.invalidate()
	c.logger.Info().
		Str("component", comp.Ref()).
		Str("required_tier", comp.RequiredTier.String()).
		Msg("component published")
	return nil
}

// Resolve returns the descriptor for slug at version. An empty version or
// "latest" selects the highest published version.
func (c *Catalog) Resolve(ctx context.Context, slug, version string) (*models.Component, error) {
	if version != "" && version != LatestVersion {
		comp, err := c.store.GetComponent(ctx, slug, version)
		if err != nil {
			if errors.Is(err, models.ErrNotFound) {
				return nil, fmt.Errorf("%w: %s@%s", ErrComponentNotFound, slug, version)
			}
			return nil, err
		}
		return comp, nil
	}

	index, err := c.index(ctx)
	if err != nil {
		return nil, err
	}
	versions := index[slug]
	if len(versions) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrComponentNotFound, slug)
	}
	return versions[len(versions)-1], nil
}

// Visible returns, for each slug, the highest version the tier may see.
// Results are sorted by slug.
func (c *Catalog) Visible(ctx context.Context, tier license.Tier) ([]*models.Component, error) {
	index, err := c.index(ctx)
	if err != nil {
		return nil, err
	}

	var out []*models.Component
	for _, versions := range index {
		for i := len(versions) - 1; i >= 0; i-- {
			if tier.Satisfies(versions[i].RequiredTier) {
				out = append(out, versions[i])
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return out, nil
}

// Versions returns every published version of slug in ascending order.
func (c *Catalog) Versions(ctx context.Context, slug string) ([]*models.Component, error) {
	index, err := c.index(ctx)
	if err != nil {
		return nil, err
	}
	versions := index[slug]
	if len(versions) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrComponentNotFound, slug)
	}
	return append([]*models.Component(nil), versions...), nil
}

func (c *Catalog) invalidate() {
	c.mu.Lock()
	c.loaded = false
	c.bySlug = nil
	c.mu.Unlock()
}

func (c *Catalog) index(ctx context.Context) (map[string][]*models.Component, error) {
	c.mu.RLock()
	if c.loaded {
		index := c.bySlug
		c.mu.RUnlock()
		return index, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loaded {
		return c.bySlug, nil
	}

	all, err := c.store.ListComponents(ctx)
	if err != nil {
		return nil, fmt.Errorf("list components: %w", err)
	}

	index := make(map[string][]*models.Component)
	for _, comp := range all {
		if _, err := semver.NewVersion(comp.Version); err != nil {
			c.logger.Warn().Str("component", comp.Ref()).Msg("skipping component with unparsable version")
			continue
		}
		index[comp.Slug] = append(index[comp.Slug], comp)
	}
	for _, versions := range index {
		sort.Slice(versions, func(i, j int) bool {
			return semver.MustParse(versions[i].Version).LessThan(semver.MustParse(versions[j].Version))
		})
	}

	c.bySlug = index
	c.loaded = true
	return index, nil
}
