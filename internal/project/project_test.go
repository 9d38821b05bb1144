package project

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vibebiz/premium/internal/divergence"
	"github.com/vibebiz/premium/internal/license"
	"github.com/vibebiz/premium/internal/migration"
)

func TestInitAndOpen(t *testing.T) {
	root := t.TempDir()

	_, err := Open(root)
	assert.ErrorIs(t, err, ErrNotInitialized)

	p, err := Init(root, "proj-1", "mvp")
	require.NoError(t, err)
	assert.Equal(t, "proj-1", p.ID())
	assert.Equal(t, "mvp", p.Stage())

	_, err = Init(root, "proj-2", "mvp")
	assert.ErrorIs(t, err, ErrAlreadyInitialized)

	require.NoError(t, p.SetStage("production"))

	reopened, err := Open(root)
	require.NoError(t, err)
	assert.Equal(t, "proj-1", reopened.ID())
	assert.Equal(t, "production", reopened.Stage())
}

func TestFind(t *testing.T) {
	root := t.TempDir()
	_, err := Init(root, "proj-1", "mvp")
	require.NoError(t, err)

	nested := filepath.Join(root, "src", "pkg")
	require.NoError(t, os.MkdirAll(nested, 0o755))

	p, err := Find(nested)
	require.NoError(t, err)
	assert.Equal(t, "proj-1", p.ID())

	_, err = Find(t.TempDir())
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestFingerprintIsWriteOnce(t *testing.T) {
	root := t.TempDir()
	p, err := Init(root, "proj-1", "mvp")
	require.NoError(t, err)

	_, err = p.Fingerprint()
	assert.ErrorIs(t, err, ErrNoFingerprint)

	files := divergence.Manifest{"main.go": "sha256:aa", "README.md": "sha256:bb"}
	fp, err := p.RecordFingerprint(files)
	require.NoError(t, err)
	assert.Equal(t, files.Digest(), fp.TemplateHash)

	_, err = p.RecordFingerprint(divergence.Manifest{"other": "sha256:cc"})
	assert.ErrorIs(t, err, ErrFingerprintExists)

	reopened, err := Open(root)
	require.NoError(t, err)
	got, err := reopened.Fingerprint()
	require.NoError(t, err)
	assert.Equal(t, files, got.Files)
	assert.Equal(t, fp.TemplateHash, got.TemplateHash)
}

func TestBaselineFiles(t *testing.T) {
	p, err := Init(t.TempDir(), "proj-1", "mvp")
	require.NoError(t, err)

	require.NoError(t, p.StoreBaseline("src/app.go", []byte("package app\n")))
	data, err := p.ReadBaseline("src/app.go")
	require.NoError(t, err)
	assert.Equal(t, "package app\n", string(data))

	assert.Error(t, p.StoreBaseline("../escape", []byte("x")))
}

func TestRecordInstall(t *testing.T) {
	root := t.TempDir()
	p, err := Init(root, "proj-1", "mvp")
	require.NoError(t, err)

	require.NoError(t, p.RecordInstall(InstalledComponent{Slug: "billing", Version: "1.0.0", ContentHash: "sha256:aa"}))
	require.NoError(t, p.RecordInstall(InstalledComponent{Slug: "auth", Version: "2.0.0", ContentHash: "sha256:bb"}))
	require.NoError(t, p.RecordInstall(InstalledComponent{Slug: "billing", Version: "1.1.0", ContentHash: "sha256:cc"}))

	assert.Equal(t, []string{"auth", "billing"}, p.InstalledSlugs())

	reopened, err := Open(root)
	require.NoError(t, err)
	installed := reopened.Installed()
	require.Len(t, installed, 2)
	assert.Equal(t, "1.1.0", installed[1].Version)
	assert.False(t, installed[1].InstalledAt.IsZero())
}

func TestLicenseCheckCache(t *testing.T) {
	root := t.TempDir()
	p, err := Init(root, "proj-1", "mvp")
	require.NoError(t, err)

	var cache license.CheckCache = p
	_, ok := cache.LoadCheck("tid-1")
	assert.False(t, ok)

	checkedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, cache.StoreCheck(license.CachedCheck{TokenID: "tid-1", Status: "revoked", RevokedReason: "chargeback", CheckedAt: checkedAt}))

	reopened, err := Open(root)
	require.NoError(t, err)
	got, ok := reopened.LoadCheck("tid-1")
	require.True(t, ok)
	assert.Equal(t, "revoked", got.Status)
	assert.Equal(t, "chargeback", got.RevokedReason)
	assert.True(t, checkedAt.Equal(got.CheckedAt))

	_, ok = reopened.LoadCheck("tid-2")
	assert.False(t, ok, "a check for another token is not reused")
}

func TestMigrationsPersist(t *testing.T) {
	root := t.TempDir()
	p, err := Init(root, "proj-1", "mvp")
	require.NoError(t, err)

	var store migration.Store = p
	m := &migration.Migration{
		ID:        "m-1",
		ProjectID: "proj-1",
		FromStage: "mvp",
		ToStage:   "production",
		State:     migration.StateAnalyzed,
		Report:    &divergence.Report{Modified: []string{"src/app.go"}},
	}
	require.NoError(t, store.SaveMigration(m))
	m.State = migration.StateConfirmed
	require.NoError(t, store.SaveMigration(m))

	reopened, err := Open(root)
	require.NoError(t, err)
	migrations := reopened.Migrations()
	require.Len(t, migrations, 1)
	assert.Equal(t, migration.StateConfirmed, migrations[0].State)
	assert.Equal(t, []string{"src/app.go"}, migrations[0].Report.Modified)
}

func newEngine(p *Project) *migration.Engine {
	return migration.NewEngine(migration.EngineConfig{
		Store:       p,
		Lock:        migration.NewProjectLock(p.LockPath()),
		SnapshotDir: p.SnapshotDir(),
		Logger:      zerolog.Nop(),
	})
}

func confirmedMigration(t *testing.T, p *Project) *migration.Migration {
	t.Helper()
	e := newEngine(p)
	m, err := e.Plan(p.ID(), "mvp", "production", []string{"env:STAGE=production"})
	require.NoError(t, err)
	require.NoError(t, e.Analyze(m, &divergence.Report{Unchanged: []string{"main.go"}}))
	require.NoError(t, e.Confirm(m, false))
	return m
}

func TestExecuteFromTwoHandles(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	p, err := Init(root, "proj-1", "mvp")
	require.NoError(t, err)
	m := confirmedMigration(t, p)

	other, err := Open(root)
	require.NoError(t, err)
	stale := other.Migrations()[0]
	require.Equal(t, migration.StateConfirmed, stale.State)

	runs := 0
	step := migration.FuncStep{StepName: "count", Fn: func(context.Context) error {
		runs++
		return nil
	}}

	require.NoError(t, newEngine(p).Execute(ctx, m, []migration.Step{step}))

	err = newEngine(other).Execute(ctx, stale, []migration.Step{step})
	var transitionErr *migration.TransitionError
	require.ErrorAs(t, err, &transitionErr)
	assert.Equal(t, migration.StateCompleted, transitionErr.From)
	assert.Equal(t, 1, runs, "steps run exactly once")
	assert.Equal(t, migration.StateCompleted, stale.State)

	reopened, err := Open(root)
	require.NoError(t, err)
	stored := reopened.Migrations()[0]
	assert.Equal(t, migration.StateCompleted, stored.State)
	assert.Len(t, stored.History, 4)
}

func TestRecoverSkipsMigrationFinishedElsewhere(t *testing.T) {
	root := t.TempDir()
	p, err := Init(root, "proj-1", "mvp")
	require.NoError(t, err)
	m := confirmedMigration(t, p)

	// Another process is executing when this handle is opened.
	m.State = migration.StateExecuting
	require.NoError(t, p.SaveMigration(m))
	other, err := Open(root)
	require.NoError(t, err)

	m.State = migration.StateCompleted
	require.NoError(t, p.SaveMigration(m))

	recovered, err := newEngine(other).Recover(context.Background())
	require.NoError(t, err)
	assert.Empty(t, recovered)

	reopened, err := Open(root)
	require.NoError(t, err)
	assert.Equal(t, migration.StateCompleted, reopened.Migrations()[0].State)
}

func TestReload(t *testing.T) {
	root := t.TempDir()
	p, err := Init(root, "proj-1", "mvp")
	require.NoError(t, err)
	other, err := Open(root)
	require.NoError(t, err)

	require.NoError(t, p.SetStage("production"))
	assert.Equal(t, "mvp", other.Stage())
	require.NoError(t, other.Reload())
	assert.Equal(t, "production", other.Stage())
}

func TestAtomicWriteLeavesNoTempFiles(t *testing.T) {
	root := t.TempDir()
	p, err := Init(root, "proj-1", "mvp")
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		require.NoError(t, p.SetStage("stage"))
	}

	entries, err := os.ReadDir(p.Dir())
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".vibebiz-tmp-")
	}
}
