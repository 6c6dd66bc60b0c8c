package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache holds the advisory per-trip issuance lock and backs the rate
// limiter. The lock only smooths contention; seat correctness comes from the
// ledger transaction.
type Cache struct {
	client  *redis.Client
	lockTTL time.Duration
}

func NewCache(client *redis.Client, lockTTL time.Duration) *Cache {
	return &Cache{client: client, lockTTL: lockTTL}
}

func (c *Cache) Client() *redis.Client {
	return c.client
}

func (c *Cache) AcquireIssueLock(ctx context.Context, tripID string) (bool, error) {
	res := c.client.SetNX(ctx, "issue:trip:"+tripID, "1", c.lockTTL)
	return res.Val(), res.Err()
}

func (c *Cache) ReleaseIssueLock(ctx context.Context, tripID string) error {
	return c.client.Del(ctx, "issue:trip:"+tripID).Err()
}
