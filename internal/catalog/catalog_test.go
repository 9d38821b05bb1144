package catalog

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vibebiz/premium/internal/license"
	"github.com/vibebiz/premium/internal/models"
)

type memStore struct {
	mu         sync.Mutex
	components map[string]*models.Component
	lists      int
}

func newMemStore() *memStore {
	return &memStore{components: make(map[string]*models.Component)}
}

func (m *memStore) ListComponents(context.Context) ([]*models.Component, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lists++
	out := make([]*models.Component, 0, len(m.components))
	for _, c := range m.components {
		cp := *c
		out = append(out, &cp)
	}
	return out, nil
}

func (m *memStore) GetComponent(_ context.Context, slug, version string) (*models.Component, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.components[slug+"@"+version]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *memStore) CreateComponent(_ context.Context, c *models.Component) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.components[c.Ref()]; ok {
		return models.ErrAlreadyExists
	}
	cp := *c
	m.components[c.Ref()] = &cp
	return nil
}

func component(slug, version string, tier license.Tier, deps ...string) *models.Component {
	return &models.Component{
		Slug:            slug,
		Name:            strings.ToUpper(slug),
		Version:         version,
		RequiredTier:    tier,
		Dependencies:    deps,
		ContentHash:     "sha256:deadbeef",
		StorageLocation: slug + "/" + version + ".tar.gz",
	}
}

func newTestCatalog(t *testing.T, comps ...*models.Component) (*Catalog, *memStore) {
	t.Helper()
	store := newMemStore()
	cat := New(store, zerolog.Nop())
	for _, c := range comps {
		require.NoError(t, cat.Publish(context.Background(), c))
	}
	return cat, store
}

func TestPublishRejectsExistingVersion(t *testing.T) {
	cat, _ := newTestCatalog(t, component("auth", "1.0.0", license.TierFoundation))

	err := cat.Publish(context.Background(), component("auth", "1.0.0", license.TierDev))
	assert.ErrorIs(t, err, ErrVersionExists)

	got, err := cat.Resolve(context.Background(), "auth", "1.0.0")
	require.NoError(t, err)
	assert.Equal(t, license.TierFoundation, got.RequiredTier)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *models.Component)
	}{
		{"bad slug", func(c *models.Component) { c.Slug = "Bad Slug" }},
		{"no name", func(c *models.Component) { c.Name = " " }},
		{"bad version", func(c *models.Component) { c.Version = "v1" }},
		{"bad tier", func(c *models.Component) { c.RequiredTier = license.Tier(42) }},
		{"bad hash", func(c *models.Component) { c.ContentHash = "md5:abc" }},
		{"no location", func(c *models.Component) { c.StorageLocation = "" }},
		{"self dependency", func(c *models.Component) { c.Dependencies = []string{"auth"} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := component("auth", "1.0.0", license.TierDev)
			tt.mutate(c)
			assert.ErrorIs(t, Validate(c), ErrInvalidComponent)
		})
	}
	assert.NoError(t, Validate(component("auth", "1.0.0", license.TierDev, "db")))
}

func TestResolveLatestUsesSemverOrder(t *testing.T) {
	cat, _ := newTestCatalog(t,
		component("auth", "1.9.0", license.TierDev),
		component("auth", "1.10.0", license.TierDev),
		component("auth", "1.2.0", license.TierDev),
	)

	latest, err := cat.Resolve(context.Background(), "auth", "")
	require.NoError(t, err)
	assert.Equal(t, "1.10.0", latest.Version)

	latest, err = cat.Resolve(context.Background(), "auth", LatestVersion)
	require.NoError(t, err)
	assert.Equal(t, "1.10.0", latest.Version)

	old, err := cat.Resolve(context.Background(), "auth", "1.2.0")
	require.NoError(t, err)
	assert.Equal(t, "1.2.0", old.Version)

	_, err = cat.Resolve(context.Background(), "auth", "3.0.0")
	assert.ErrorIs(t, err, ErrComponentNotFound)
	_, err = cat.Resolve(context.Background(), "missing", "")
	assert.ErrorIs(t, err, ErrComponentNotFound)
}

func TestVisibleFiltersByTierRank(t *testing.T) {
	cat, _ := newTestCatalog(t,
		component("auth", "1.0.0", license.TierFoundation),
		component("billing", "1.0.0", license.TierGrowth),
		component("billing", "2.0.0", license.TierFull),
		component("white-label", "1.0.0", license.TierAgency),
	)

	tests := []struct {
		tier license.Tier
		want []string
	}{
		{license.TierDev, nil},
		{license.TierFoundation, []string{"auth@1.0.0"}},
		{license.TierGrowth, []string{"auth@1.0.0", "billing@1.0.0"}},
		{license.TierFull, []string{"auth@1.0.0", "billing@2.0.0"}},
		{license.TierAgency, []string{"auth@1.0.0", "billing@2.0.0", "white-label@1.0.0"}},
	}
	for _, tt := range tests {
		t.Run(tt.tier.String(), func(t *testing.T) {
			visible, err := cat.Visible(context.Background(), tt.tier)
			require.NoError(t, err)
			var refs []string
			for _, c := range visible {
				refs = append(refs, c.Ref())
			}
			assert.Equal(t, tt.want, refs)
		})
	}
}

func TestIndexCachedUntilPublish(t *testing.T) {
	cat, store := newTestCatalog(t, component("auth", "1.0.0", license.TierDev))
	ctx := context.Background()

	_, err := cat.Visible(ctx, license.TierDev)
	require.NoError(t, err)
	_, err = cat.Visible(ctx, license.TierDev)
	require.NoError(t, err)
	assert.Equal(t, 1, store.lists)

	require.NoError(t, cat.Publish(ctx, component("auth", "1.1.0", license.TierDev)))
	latest, err := cat.Resolve(ctx, "auth", "")
	require.NoError(t, err)
	assert.Equal(t, "1.1.0", latest.Version)
	assert.Equal(t, 2, store.lists)
}

func TestVersions(t *testing.T) {
	cat, _ := newTestCatalog(t,
		component("auth", "2.0.0", license.TierDev),
		component("auth", "1.0.0", license.TierDev),
	)
	versions, err := cat.Versions(context.Background(), "auth")
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, "1.0.0", versions[0].Version)
	assert.Equal(t, "2.0.0", versions[1].Version)
}
