//go:build integration

package distribution

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

func TestRedisLedgerSingleUse(t *testing.T) {
	ctx := context.Background()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	uri, err := container.ConnectionString(ctx)
	require.NoError(t, err)
	opts, err := redis.ParseURL(uri)
	require.NoError(t, err)
	client := redis.NewClient(opts)
	t.Cleanup(func() { _ = client.Close() })

	ledger := NewRedisLedger(client, "test:grant:")
	expires := time.Now().Add(time.Minute)

	var consumed atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := ledger.Consume(ctx, "grant-1", expires); err == nil {
				consumed.Add(1)
			} else {
				assert.ErrorIs(t, err, ErrGrantConsumed)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), consumed.Load())

	ttl, err := client.TTL(ctx, "test:grant:grant-1").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
}
