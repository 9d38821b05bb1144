package distribution

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFSStoreRoundTrip(t *testing.T) {
	store, err := NewFSStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "auth/1.0.0.tar.gz", strings.NewReader("v1")))
	require.NoError(t, store.Put(ctx, "auth/1.0.0.tar.gz", strings.NewReader("v1-replaced")))

	rc, err := store.Open(ctx, "auth/1.0.0.tar.gz")
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "v1-replaced", string(data))

	_, err = store.Open(ctx, "auth/2.0.0.tar.gz")
	assert.ErrorIs(t, err, ErrArtifactNotFound)
}

func TestFSStoreRejectsEscapingLocations(t *testing.T) {
	store, err := NewFSStore(t.TempDir())
	require.NoError(t, err)

	for _, location := range []string{"", "/etc/passwd", "../secret", "a/../../b", `a\b`, "."} {
		_, err := store.Open(context.Background(), location)
		assert.Error(t, err, location)
		assert.NotErrorIs(t, err, ErrArtifactNotFound, location)
	}
}

func TestMemoryLedger(t *testing.T) {
	ledger := NewMemoryLedger()
	ctx := context.Background()
	now := time.Now()
	ledger.now = func() time.Time { return now }

	require.NoError(t, ledger.Consume(ctx, "g1", now.Add(time.Minute)))
	assert.ErrorIs(t, ledger.Consume(ctx, "g1", now.Add(time.Minute)), ErrGrantConsumed)
	require.NoError(t, ledger.Consume(ctx, "g2", now.Add(time.Minute)))
	assert.Len(t, ledger.used, 2)

	now = now.Add(2 * time.Minute)
	require.NoError(t, ledger.Consume(ctx, "g3", now.Add(time.Minute)))
	assert.Len(t, ledger.used, 1, "expired grants are swept")
}
