package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vibebiz/premium/internal/project"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestFingerprintAnalyzeAndDiff(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "app/page.tsx", "export default function Page() {}\n")
	writeFile(t, root, "README.md", "# app\n")
	writeFile(t, root, ".env", "SECRET=1\n")
	writeFile(t, root, "premium/auth/index.ts", "installed\n")

	p, err := project.Init(root, "proj-1", "mvp")
	require.NoError(t, err)

	fp, err := recordFingerprint(p)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"app/page.tsx", "README.md"}, fp.Files.Paths())

	_, err = recordFingerprint(p)
	assert.ErrorIs(t, err, project.ErrFingerprintExists)

	writeFile(t, root, "app/page.tsx", "export default function Page() { return null }\n")
	require.NoError(t, os.Remove(filepath.Join(root, "README.md")))
	writeFile(t, root, "app/new.tsx", "new\n")
	writeFile(t, root, "premium/billing/index.ts", "installed later\n")

	report, err := analyzeProject(p)
	require.NoError(t, err)
	assert.Equal(t, []string{"app/page.tsx"}, report.Modified)
	assert.Equal(t, []string{"README.md"}, report.Deleted)
	assert.Equal(t, []string{"app/new.tsx"}, report.Added)

	d, err := diffFile(p, "app/page.tsx")
	require.NoError(t, err)
	assert.False(t, d.IsBinary)
	assert.True(t, strings.Contains(d.UnifiedDiff, "+export default function Page() { return null }"))

	d, err = diffFile(p, "README.md")
	require.NoError(t, err)
	assert.Contains(t, d.UnifiedDiff, "-# app")
}

func TestAnalyzeWithoutFingerprint(t *testing.T) {
	p, err := project.Init(t.TempDir(), "proj-1", "mvp")
	require.NoError(t, err)

	_, err = analyzeProject(p)
	assert.ErrorIs(t, err, project.ErrNoFingerprint)
}
