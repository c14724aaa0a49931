// Package redisx is the optional fast path in front of Postgres: checkout
// idempotency hints, status-only reads and webhook dedup. A nil *Cache
// disables every method, and any Redis error degrades to a miss; the
// database stays the source of truth.
package redisx

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/NAVEED261/Reusable-shop/internal/orders"
)

type Cache struct {
	rdb        *redis.Client
	idemWindow time.Duration
}

// New connects a client with a 2s per-command timeout. idemWindow bounds how
// long a checkout key resolves without touching the database.
func New(addr string, idemWindow time.Duration) *Cache {
	if addr == "" {
		return nil
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	rdb = rdb.WithTimeout(2 * time.Second)
	if idemWindow <= 0 {
		idemWindow = 10 * time.Minute
	}
	return &Cache{rdb: rdb, idemWindow: idemWindow}
}

func (c *Cache) Ping(ctx context.Context) error {
	if c == nil {
		return nil
	}
	return c.rdb.Ping(ctx).Err()
}

func (c *Cache) Close() error {
	if c == nil {
		return nil
	}
	return c.rdb.Close()
}

// --- orders.IdempotencyIndex ---

func (c *Cache) OrderIDForKey(ctx context.Context, key string) (string, bool) {
	if c == nil {
		return "", false
	}
	id, err := c.rdb.Get(ctx, fmt.Sprintf(keyIdemCheckout, key)).Result()
	if err != nil {
		return "", false
	}
	return id, true
}

func (c *Cache) RememberKey(ctx context.Context, key, orderID string) {
	if c == nil {
		return
	}
	c.rdb.Set(ctx, fmt.Sprintf(keyIdemCheckout, key), orderID, c.idemWindow)
}

// --- status cache / orders.Notifier ---

func (c *Cache) OrderStatus(ctx context.Context, orderID string) (orders.StatusSnapshot, bool) {
	var snap orders.StatusSnapshot
	if c == nil {
		return snap, false
	}
	raw, err := c.rdb.Get(ctx, fmt.Sprintf(keyOrderStatus, orderID)).Bytes()
	if err != nil {
		return snap, false
	}
	if err := json.Unmarshal(raw, &snap); err != nil {
		return snap, false
	}
	return snap, true
}

func (c *Cache) Prime(ctx context.Context, o *orders.Order) {
	if c == nil {
		return
	}
	raw, err := json.Marshal(o.Snapshot())
	if err != nil {
		return
	}
	c.rdb.Set(ctx, fmt.Sprintf(keyOrderStatus, o.ID), raw, TTLStatusCache)
}

// OrderChanged refreshes the status entry after a committed transition.
func (c *Cache) OrderChanged(ctx context.Context, o *orders.Order) {
	c.Prime(ctx, o)
}

// --- reconcile.DedupCache ---

func (c *Cache) SeenEvent(ctx context.Context, eventID string) bool {
	if c == nil {
		return false
	}
	n, err := c.rdb.Exists(ctx, fmt.Sprintf(keyDedupWebhook, eventID)).Result()
	return err == nil && n > 0
}

func (c *Cache) MarkEvent(ctx context.Context, eventID string) {
	if c == nil {
		return
	}
	c.rdb.Set(ctx, fmt.Sprintf(keyDedupWebhook, eventID), 1, TTLDedup)
}
