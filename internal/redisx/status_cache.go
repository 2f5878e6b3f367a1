package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ariefcatur/go-checkout-fulfillment/internal/orders"
	"github.com/redis/go-redis/v9"
)

// StatusCache is a short-lived read cache in front of the ledger.
type StatusCache struct {
	RDB *redis.Client
}

func NewStatusCache(rdb *redis.Client) *StatusCache { return &StatusCache{RDB: rdb} }

// Get reports a miss for entries written without an owner so they are
// re-read from the ledger.
func (c *StatusCache) Get(ctx context.Context, orderID string) (orders.StatusEntry, bool, error) {
	b, err := c.RDB.Get(ctx, fmt.Sprintf(KeyOrderStatus, orderID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return orders.StatusEntry{}, false, nil
	}
	if err != nil {
		return orders.StatusEntry{}, false, err
	}
	var v orders.StatusEntry
	if err := json.Unmarshal(b, &v); err != nil {
		return orders.StatusEntry{}, false, err
	}
	if v.CustomerID == "" {
		return orders.StatusEntry{}, false, nil
	}
	return v, true, nil
}

func (c *StatusCache) Set(ctx context.Context, orderID string, e orders.StatusEntry) error {
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return c.RDB.Set(ctx, fmt.Sprintf(KeyOrderStatus, orderID), b, TTLStatusCache).Err()
}
