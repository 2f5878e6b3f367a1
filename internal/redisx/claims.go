package redisx

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// IntentClaims stops two confirmations of one payment intent from
// fulfilling concurrently. The ledger's unique intent index remains the
// durable guard.
type IntentClaims struct {
	RDB *redis.Client
}

func NewIntentClaims(rdb *redis.Client) *IntentClaims { return &IntentClaims{RDB: rdb} }

func (c *IntentClaims) Claim(ctx context.Context, intentID, customerID string) (bool, error) {
	return c.RDB.SetNX(ctx, fmt.Sprintf(KeyIntentClaim, intentID), customerID, TTLIntentClaim).Result()
}

func (c *IntentClaims) Release(ctx context.Context, intentID string) error {
	return c.RDB.Del(ctx, fmt.Sprintf(KeyIntentClaim, intentID)).Err()
}
