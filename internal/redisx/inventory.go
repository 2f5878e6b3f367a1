package redisx

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/ariefcatur/go-checkout-fulfillment/internal/orders"
	"github.com/redis/go-redis/v9"
)

// KEYS[1]: product hash
// ARGV[1]: quantity
// Returns 1 when decremented, 0 when stock is short or the product is unknown.
var decrementScript = redis.NewScript(`
local stock = tonumber(redis.call('hget', KEYS[1], 'stock'))
if not stock then
    return 0
end
local qty = tonumber(ARGV[1])
if stock >= qty then
    redis.call('hincrby', KEYS[1], 'stock', -qty)
    return 1
end
return 0
`)

// KEYS[1]: product hash
// ARGV[1]: quantity
// Returns -1 when the product is unknown.
var incrementScript = redis.NewScript(`
if redis.call('exists', KEYS[1]) == 0 then
    return -1
end
return redis.call('hincrby', KEYS[1], 'stock', ARGV[1])
`)

// Inventory keeps stock in Redis hashes. It has no transaction spanning the
// order ledger, so pairing it with any ledger runs the saga path.
type Inventory struct {
	RDB *redis.Client
}

func NewInventory(rdb *redis.Client) *Inventory { return &Inventory{RDB: rdb} }

func (i *Inventory) PutProduct(ctx context.Context, p orders.Product) error {
	pipe := i.RDB.TxPipeline()
	pipe.HSet(ctx, fmt.Sprintf(KeyProduct, p.ID), "name", p.Name, "price_cents", p.PriceCents, "stock", p.Stock)
	pipe.SAdd(ctx, KeyProductIndex, p.ID)
	_, err := pipe.Exec(ctx)
	return err
}

func (i *Inventory) FindMany(ctx context.Context, ids []string) ([]orders.Product, error) {
	pipe := i.RDB.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for n, id := range ids {
		cmds[n] = pipe.HGetAll(ctx, fmt.Sprintf(KeyProduct, id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}

	out := make([]orders.Product, 0, len(ids))
	for n, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		p, err := parseProduct(ids[n], fields)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (i *Inventory) ListProducts(ctx context.Context) ([]orders.Product, error) {
	ids, err := i.RDB.SMembers(ctx, KeyProductIndex).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)
	if len(ids) == 0 {
		return nil, nil
	}
	return i.FindMany(ctx, ids)
}

func (i *Inventory) ConditionalDecrement(ctx context.Context, id string, qty int64) (int64, error) {
	return decrementScript.Run(ctx, i.RDB, []string{fmt.Sprintf(KeyProduct, id)}, qty).Int64()
}

func (i *Inventory) Increment(ctx context.Context, id string, qty int64) error {
	n, err := incrementScript.Run(ctx, i.RDB, []string{fmt.Sprintf(KeyProduct, id)}, qty).Int64()
	if err != nil {
		return err
	}
	if n < 0 {
		return fmt.Errorf("%w: %s", orders.ErrProductNotFound, id)
	}
	return nil
}

func parseProduct(id string, fields map[string]string) (orders.Product, error) {
	price, err := strconv.ParseInt(fields["price_cents"], 10, 64)
	if err != nil {
		return orders.Product{}, fmt.Errorf("product %s price: %w", id, err)
	}
	stock, err := strconv.ParseInt(fields["stock"], 10, 64)
	if err != nil {
		return orders.Product{}, fmt.Errorf("product %s stock: %w", id, err)
	}
	return orders.Product{ID: id, Name: fields["name"], PriceCents: price, Stock: stock}, nil
}
