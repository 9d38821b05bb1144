package distribution

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Ledger records redeemed grants so each can be used once.
type Ledger interface {
	// Consume marks grantID used until expiresAt. It returns ErrGrantConsumed
	// if the grant was already consumed.
	Consume(ctx context.Context, grantID string, expiresAt time.Time) error
}

// MemoryLedger is a process-local Ledger.
type MemoryLedger struct {
	mu   sync.Mutex
	used map[string]time.Time
	now  func() time.Time
}

// NewMemoryLedger creates an empty MemoryLedger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{used: make(map[string]time.Time), now: time.Now}
}

// Consume implements Ledger.
func (l *MemoryLedger) Consume(_ context.Context, grantID string, expiresAt time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for id, exp := range l.used {
		if now.After(exp) {
			delete(l.used, id)
		}
	}

	if _, ok := l.used[grantID]; ok {
		return ErrGrantConsumed
	}
	l.used[grantID] = expiresAt
	return nil
}

// RedisLedger is a Ledger shared by every registry replica.
type RedisLedger struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisLedger creates a RedisLedger. Keys are written under prefix.
func NewRedisLedger(client redis.UniversalClient, prefix string) *RedisLedger {
	if prefix == "" {
		prefix = "vibebiz:grant:"
	}
	return &RedisLedger{client: client, prefix: prefix}
}

// Consume implements Ledger with SET NX, keyed to expire with the grant.
func (l *RedisLedger) Consume(ctx context.Context, grantID string, expiresAt time.Time) error {
	ttl := time.Until(expiresAt)
	if ttl < time.Second {
		ttl = time.Second
	}
	ok, err := l.client.SetNX(ctx, l.prefix+grantID, time.Now().UTC().Unix(), ttl).Result()
	if err != nil {
		return fmt.Errorf("record grant redemption: %w", err)
	}
	if !ok {
		return ErrGrantConsumed
	}
	return nil
}
