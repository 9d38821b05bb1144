package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vibebiz/premium/internal/catalog"
	"github.com/vibebiz/premium/internal/db/sqlite"
	"github.com/vibebiz/premium/internal/distribution"
	"github.com/vibebiz/premium/internal/integrity"
	"github.com/vibebiz/premium/internal/license"
	"github.com/vibebiz/premium/internal/models"
	"github.com/vibebiz/premium/internal/registry"
)

var testGrantSecret = []byte("0123456789abcdef0123456789abcdef")

type testEnv struct {
	router    *gin.Engine
	registry  *registry.Service
	catalog   *catalog.Catalog
	artifacts *distribution.FSStore
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	db, err := sqlite.Open(ctx, filepath.Join(t.TempDir(), "registry.db"), zerolog.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	kp, err := license.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate key pair: %v", err)
	}
	signer, err := license.NewSigner(kp.PrivateKey)
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	grants, err := distribution.NewGrantSigner(testGrantSecret, 0)
	if err != nil {
		t.Fatalf("new grant signer: %v", err)
	}
	artifacts, err := distribution.NewFSStore(filepath.Join(t.TempDir(), "artifacts"))
	if err != nil {
		t.Fatalf("new fs store: %v", err)
	}

	env := &testEnv{
		registry:  registry.NewService(db, signer, zerolog.Nop()),
		catalog:   catalog.New(db, zerolog.Nop()),
		artifacts: artifacts,
	}
	distributor := distribution.NewDistributor(distribution.Config{
		Registry: env.registry,
		Catalog:  env.catalog,
		Signer:   grants,
		Store:    artifacts,
		Logger:   zerolog.Nop(),
	})

	gin.SetMode(gin.TestMode)
	r := gin.New()
	api := r.Group("/api/v1")
	admin := api.Group("/admin")

	licenses := NewLicenseHandler(env.registry, zerolog.Nop())
	licenses.RegisterPublicRoutes(api)
	licenses.RegisterAdminRoutes(admin)

	components := NewComponentsHandler(env.catalog, env.registry, distributor, zerolog.Nop())
	components.RegisterPublicRoutes(api)
	components.RegisterAdminRoutes(admin)

	env.router = r
	return env
}

func (e *testEnv) issue(t *testing.T, tier license.Tier) (string, *models.License) {
	t.Helper()
	token, lic, err := e.registry.IssueLicense(context.Background(), "cust-1", tier, 24*time.Hour)
	if err != nil {
		t.Fatalf("issue license: %v", err)
	}
	return token, lic
}

func (e *testEnv) publish(t *testing.T, slug, version string, tier license.Tier, deps ...string) []byte {
	t.Helper()
	payload := []byte("archive:" + slug + "@" + version)
	location := slug + "/" + version + ".tar.gz"
	if err := e.artifacts.Put(context.Background(), location, bytes.NewReader(payload)); err != nil {
		t.Fatalf("put artifact: %v", err)
	}
	err := e.catalog.Publish(context.Background(), &models.Component{
		Slug:            slug,
		Name:            slug,
		Version:         version,
		RequiredTier:    tier,
		Dependencies:    deps,
		ContentHash:     integrity.Sum(payload),
		StorageLocation: location,
	})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	return payload
}

func (e *testEnv) do(method, path, token string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req, _ := http.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "License "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("failed to unmarshal %q: %v", w.Body.String(), err)
	}
	return v
}
