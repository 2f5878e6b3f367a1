package redisx

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

func New(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
}

// Dedup records processed event ids per consuming service.
type Dedup struct {
	RDB *redis.Client
}

func NewDedup(rdb *redis.Client) *Dedup { return &Dedup{RDB: rdb} }

// MarkProcessed reports false when id was already recorded for service.
func (d *Dedup) MarkProcessed(ctx context.Context, service, id string) (bool, error) {
	return d.RDB.SetNX(ctx, fmt.Sprintf(KeyDedup, service, id), 1, TTLDedup).Result()
}

// UnmarkProcessed lets a failed handler be retried on redelivery.
func (d *Dedup) UnmarkProcessed(ctx context.Context, service, id string) error {
	return d.RDB.Del(ctx, fmt.Sprintf(KeyDedup, service, id)).Err()
}
