package registry

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vibebiz/premium/internal/license"
	"github.com/vibebiz/premium/internal/models"
)

type mockStore struct {
	mu       sync.Mutex
	licenses map[uuid.UUID]models.License
	usage    []*models.UsageEntry
	failGet  error
}

func newMockStore() *mockStore {
	return &mockStore{licenses: make(map[uuid.UUID]models.License)}
}

func (m *mockStore) CreateLicense(_ context.Context, lic *models.License) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.licenses[lic.TokenID] = *lic
	return nil
}

func (m *mockStore) GetLicenseByTokenID(_ context.Context, tokenID uuid.UUID) (*models.License, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failGet != nil {
		return nil, m.failGet
	}
	lic, ok := m.licenses[tokenID]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &lic, nil
}

func (m *mockStore) RevokeLicense(_ context.Context, tokenID uuid.UUID, reason string, at time.Time) (*models.License, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	lic, ok := m.licenses[tokenID]
	if !ok {
		return nil, models.ErrNotFound
	}
	if !lic.Revoked {
		lic.Revoked = true
		lic.RevokedReason = reason
		lic.RevokedAt = &at
		m.licenses[tokenID] = lic
	}
	return &lic, nil
}

func (m *mockStore) ListLicensesByCustomer(_ context.Context, customerID string) ([]*models.License, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.License
	for _, lic := range m.licenses {
		if lic.CustomerID == customerID {
			lic := lic
			out = append(out, &lic)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IssuedAt.After(out[j].IssuedAt) })
	return out, nil
}

func (m *mockStore) AppendUsage(_ context.Context, entry *models.UsageEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.usage = append(m.usage, entry)
	return nil
}

func (m *mockStore) ListUsage(_ context.Context, licenseID uuid.UUID, limit int) ([]*models.UsageEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.UsageEntry
	for _, e := range m.usage {
		if e.LicenseID != nil && *e.LicenseID == licenseID {
			out = append(out, e)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *mockStore) usageCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.usage)
}

func newTestService(t *testing.T) (*Service, *mockStore) {
	t.Helper()
	kp, err := license.GenerateKeyPair()
	require.NoError(t, err)
	signer, err := license.NewSigner(kp.PrivateKey)
	require.NoError(t, err)
	store := newMockStore()
	return NewService(store, signer, zerolog.Nop()), store
}

func TestIssueAndVerify(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	token, lic, err := svc.IssueLicense(ctx, "cust-1", license.TierGrowth, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, "cust-1", lic.CustomerID)
	assert.Equal(t, license.TierGrowth, lic.Tier)

	result, err := svc.Verify(ctx, VerifyRequest{Token: token, Caller: "127.0.0.1"})
	require.NoError(t, err)
	assert.Equal(t, models.LicenseStatusValid, result.Status)
	assert.NoError(t, result.Err())
	assert.Equal(t, lic.TokenID, result.Claims.TokenID)

	require.Equal(t, 1, store.usageCount())
	entry := store.usage[0]
	assert.Equal(t, models.UsageActionVerify, entry.Action)
	assert.Equal(t, "valid", entry.Outcome)
	require.NotNil(t, entry.LicenseID)
	assert.Equal(t, lic.ID, *entry.LicenseID)
}

func TestVerifyMalformedIsLogged(t *testing.T) {
	svc, store := newTestService(t)

	result, err := svc.Verify(context.Background(), VerifyRequest{Token: "garbage"})
	require.NoError(t, err)
	assert.Equal(t, models.LicenseStatusMalformed, result.Status)
	assert.ErrorIs(t, result.Err(), license.ErrMalformed)

	require.Equal(t, 1, store.usageCount())
	assert.Nil(t, store.usage[0].LicenseID)
	assert.Equal(t, "malformed", store.usage[0].Outcome)
}

func TestVerifyForeignKey(t *testing.T) {
	svc, _ := newTestService(t)
	other, _ := newTestService(t)

	token, _, err := other.IssueLicense(context.Background(), "cust", license.TierFull, time.Hour)
	require.NoError(t, err)

	result, err := svc.Verify(context.Background(), VerifyRequest{Token: token})
	require.NoError(t, err)
	assert.Equal(t, models.LicenseStatusMalformed, result.Status)
	assert.Equal(t, license.ReasonMalformed, license.ReasonOf(result.Err()))
}

func TestVerifyUnknownLicense(t *testing.T) {
	svc, store := newTestService(t)
	token, lic, err := svc.IssueLicense(context.Background(), "cust", license.TierFull, time.Hour)
	require.NoError(t, err)
	delete(store.licenses, lic.TokenID)

	result, err := svc.Verify(context.Background(), VerifyRequest{Token: token})
	require.NoError(t, err)
	assert.Equal(t, models.LicenseStatusMalformed, result.Status)
}

func TestVerifyExpired(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	token, lic, err := svc.IssueLicense(ctx, "cust", license.TierDev, time.Hour)
	require.NoError(t, err)

	svc.SetClock(func() time.Time { return time.Now().Add(2 * time.Hour) })
	result, err := svc.Verify(ctx, VerifyRequest{Token: token})
	require.NoError(t, err)
	assert.Equal(t, models.LicenseStatusExpired, result.Status)

	var expired *license.ExpiredError
	require.ErrorAs(t, result.Err(), &expired)
	assert.True(t, lic.ExpiresAt.Equal(expired.ExpiresAt))
}

func TestRevokeThenVerify(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	token, lic, err := svc.IssueLicense(ctx, "cust", license.TierFoundation, time.Hour)
	require.NoError(t, err)

	revoked, err := svc.RevokeLicense(ctx, lic.TokenID, "subscription cancelled")
	require.NoError(t, err)
	assert.True(t, revoked.Revoked)

	result, err := svc.Verify(ctx, VerifyRequest{Token: token})
	require.NoError(t, err)
	assert.Equal(t, models.LicenseStatusRevoked, result.Status)
	assert.ErrorIs(t, result.Err(), license.ErrRevoked)

	// The token still verifies offline: revocation is server-side only.
	_, err = license.VerifyOffline(token, svc.PublicKey(), license.VerifyOptions{})
	assert.NoError(t, err)
}

func TestRevokeIsIdempotent(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, lic, err := svc.IssueLicense(ctx, "cust", license.TierFoundation, time.Hour)
	require.NoError(t, err)

	first, err := svc.RevokeLicense(ctx, lic.TokenID, "fraud")
	require.NoError(t, err)
	second, err := svc.RevokeLicense(ctx, lic.TokenID, "other reason")
	require.NoError(t, err)

	assert.Equal(t, "fraud", second.RevokedReason)
	assert.Equal(t, *first.RevokedAt, *second.RevokedAt)
}

func TestRevokeUnknown(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.RevokeLicense(context.Background(), uuid.New(), "x")
	assert.ErrorIs(t, err, ErrLicenseNotFound)
}

func TestListLicenses(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	_, first, err := svc.IssueLicense(ctx, "cust-7", license.TierFoundation, time.Hour)
	require.NoError(t, err)
	_, _, err = svc.IssueLicense(ctx, "cust-8", license.TierFull, time.Hour)
	require.NoError(t, err)

	licenses, err := svc.ListLicenses(ctx, "cust-7")
	require.NoError(t, err)
	require.Len(t, licenses, 1)
	assert.Equal(t, first.TokenID, licenses[0].TokenID)

	_, err = svc.ListLicenses(ctx, "")
	assert.ErrorIs(t, err, ErrCustomerRequired)
}

func TestRenewLicense(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, lic, err := svc.IssueLicense(ctx, "cust", license.TierFull, time.Hour)
	require.NoError(t, err)

	token, renewed, err := svc.RenewLicense(ctx, lic.TokenID, 24*time.Hour)
	require.NoError(t, err)
	assert.NotEqual(t, lic.TokenID, renewed.TokenID)
	assert.Equal(t, lic.CustomerID, renewed.CustomerID)
	assert.Equal(t, lic.Tier, renewed.Tier)
	assert.NotEmpty(t, token)

	_, err = svc.RevokeLicense(ctx, lic.TokenID, "replaced")
	require.NoError(t, err)
	_, _, err = svc.RenewLicense(ctx, lic.TokenID, time.Hour)
	assert.ErrorIs(t, err, ErrLicenseRevoked)
}

func TestVerifyStoreFailure(t *testing.T) {
	svc, store := newTestService(t)
	token, _, err := svc.IssueLicense(context.Background(), "cust", license.TierFull, time.Hour)
	require.NoError(t, err)

	store.failGet = errors.New("connection reset")
	_, err = svc.Verify(context.Background(), VerifyRequest{Token: token})
	assert.Error(t, err)
}

func TestConcurrentRevokeAndVerify(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	token, lic, err := svc.IssueLicense(ctx, "cust", license.TierFull, time.Hour)
	require.NoError(t, err)

	var wg sync.WaitGroup
	statuses := make(chan models.LicenseStatus, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i == 25 {
				_, err := svc.RevokeLicense(ctx, lic.TokenID, "race")
				assert.NoError(t, err)
				return
			}
			result, err := svc.Verify(ctx, VerifyRequest{Token: token})
			assert.NoError(t, err)
			statuses <- result.Status
		}(i)
	}
	wg.Wait()
	close(statuses)

	for status := range statuses {
		assert.Contains(t, []models.LicenseStatus{models.LicenseStatusValid, models.LicenseStatusRevoked}, status)
	}

	result, err := svc.Verify(ctx, VerifyRequest{Token: token})
	require.NoError(t, err)
	assert.Equal(t, models.LicenseStatusRevoked, result.Status)
}

func TestListUsage(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	token, lic, err := svc.IssueLicense(ctx, "cust", license.TierFull, time.Hour)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := svc.Verify(ctx, VerifyRequest{Token: token})
		require.NoError(t, err)
	}

	entries, err := svc.ListUsage(ctx, lic.TokenID, 2)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}
