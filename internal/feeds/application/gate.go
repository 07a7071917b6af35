package application

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	shared "github.com/ramxx/tminus/internal/shared/domain"
)

// RefreshGate enforces the minimum interval between refreshes of one feed
// across processes. The stored feed_last_refresh_at remains the source of
// truth; the gate closes the window where two processes race it.
type RefreshGate interface {
	// TryAcquire returns false when a refresh ran within the interval.
	TryAcquire(ctx context.Context, accountID shared.ID, interval time.Duration) (bool, error)
}

// RedisRefreshGate implements RefreshGate with SET NX EX.
// Keys are namespaced feeds:refresh:{account_id} and carry no PII.
type RedisRefreshGate struct {
	client *redis.Client
}

// NewRedisRefreshGate creates a redis-backed gate.
func NewRedisRefreshGate(client *redis.Client) *RedisRefreshGate {
	return &RedisRefreshGate{client: client}
}

// TryAcquire attempts to claim the refresh slot.
func (g *RedisRefreshGate) TryAcquire(ctx context.Context, accountID shared.ID, interval time.Duration) (bool, error) {
	key := "feeds:refresh:" + accountID.String()
	return g.client.SetNX(ctx, key, 1, interval).Result()
}

// MemoryRefreshGate is the in-process fallback for local mode and tests.
type MemoryRefreshGate struct {
	mu   sync.Mutex
	last map[shared.ID]time.Time
}

// NewMemoryRefreshGate creates an in-memory gate.
func NewMemoryRefreshGate() *MemoryRefreshGate {
	return &MemoryRefreshGate{last: make(map[shared.ID]time.Time)}
}

// TryAcquire attempts to claim the refresh slot.
func (g *MemoryRefreshGate) TryAcquire(_ context.Context, accountID shared.ID, interval time.Duration) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := time.Now()
	if last, ok := g.last[accountID]; ok && now.Sub(last) < interval {
		return false, nil
	}
	g.last[accountID] = now
	return true, nil
}
