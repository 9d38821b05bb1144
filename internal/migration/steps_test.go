package migration

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/joho/godotenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvStepMergesKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("KEEP=1\nSTAGE=mvp\n"), 0o600))

	step := &EnvStep{Path: path, Set: map[string]string{"STAGE": "production", "NEW": "x y"}}
	assert.Equal(t, "env:"+path, step.Name())
	require.NoError(t, step.Run(context.Background()))

	env, err := godotenv.Read(path)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"KEEP": "1", "STAGE": "production", "NEW": "x y"}, env)
}

func TestEnvStepCreatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env.production")
	require.NoError(t, (&EnvStep{Path: path, Set: map[string]string{"A": "b"}}).Run(context.Background()))

	env, err := godotenv.Read(path)
	require.NoError(t, err)
	assert.Equal(t, "b", env["A"])
}

type recordingInstaller struct {
	calls []string
	err   error
}

func (r *recordingInstaller) Install(_ context.Context, slug, version string) error {
	r.calls = append(r.calls, slug+"@"+version)
	return r.err
}

func TestInstallComponentStep(t *testing.T) {
	inst := &recordingInstaller{}
	step := &InstallComponentStep{Installer: inst, Slug: "billing"}
	assert.Equal(t, "install:billing", step.Name())
	require.NoError(t, step.Run(context.Background()))

	pinned := &InstallComponentStep{Installer: inst, Slug: "auth", Version: "1.2.0"}
	assert.Equal(t, "install:auth@1.2.0", pinned.Name())
	require.NoError(t, pinned.Run(context.Background()))
	assert.Equal(t, []string{"billing@", "auth@1.2.0"}, inst.calls)

	inst.err = errors.New("tier")
	assert.Error(t, step.Run(context.Background()))
}

func TestEnvSnapshotRoundTrip(t *testing.T) {
	root := t.TempDir()
	snapDir := filepath.Join(t.TempDir(), "env")
	require.NoError(t, os.WriteFile(filepath.Join(root, ".env"), []byte("A=1\n"), 0o600))

	snap := &EnvSnapshotter{Root: root, Files: []string{".env", ".env.local"}}
	require.NoError(t, snap.Snapshot(context.Background(), snapDir))

	require.NoError(t, os.WriteFile(filepath.Join(root, ".env"), []byte("A=2\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".env.local"), []byte("B=1\n"), 0o600))

	require.NoError(t, snap.Restore(context.Background(), snapDir))

	data, err := os.ReadFile(filepath.Join(root, ".env"))
	require.NoError(t, err)
	assert.Equal(t, "A=1\n", string(data))
	_, err = os.Stat(filepath.Join(root, ".env.local"))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}
