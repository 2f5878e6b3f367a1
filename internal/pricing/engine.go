// Package pricing computes authoritative order totals from live inventory.
package pricing

import (
	"context"
	"fmt"

	"github.com/ariefcatur/go-checkout-fulfillment/internal/orders"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("github.com/ariefcatur/go-checkout-fulfillment/internal/pricing")

// Quote is a priced order. All amounts are minor units.
type Quote struct {
	SubtotalCents    int64                 `json:"subtotal_cents"`
	ShippingFeeCents int64                 `json:"shipping_fee_cents"`
	TotalCents       int64                 `json:"total_cents"`
	Currency         string                `json:"currency"`
	Method           orders.ShippingMethod `json:"shipping_method"`
}

// Engine never writes. It is called once to quote and again at commit time.
type Engine struct {
	Inventory orders.Inventory
	Currency  string
}

func NewEngine(inv orders.Inventory, currency string) *Engine {
	return &Engine{Inventory: inv, Currency: currency}
}

// Quote validates items against one batched inventory read and prices them
// with the current unit prices. Client-supplied amounts are never consulted.
func (e *Engine) Quote(ctx context.Context, items []orders.LineItem, method orders.ShippingMethod) (Quote, error) {
	ctx, span := tracer.Start(ctx, "pricing.Quote")
	defer span.End()

	if len(items) == 0 {
		return Quote{}, orders.ErrEmptyOrder
	}
	for _, it := range items {
		if it.Quantity <= 0 {
			return Quote{}, fmt.Errorf("%w: product %s qty %d", orders.ErrInvalidQuantity, it.ProductID, it.Quantity)
		}
	}

	products, err := e.Inventory.FindMany(ctx, orders.ProductIDs(items))
	if err != nil {
		return Quote{}, fmt.Errorf("load products: %w", err)
	}
	byID := make(map[string]orders.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}

	var subtotal int64
	for _, it := range items {
		p, ok := byID[it.ProductID]
		if !ok {
			return Quote{}, fmt.Errorf("%w: %s", orders.ErrProductNotFound, it.ProductID)
		}
		subtotal += p.PriceCents * int64(it.Quantity)
	}
	for id, qty := range orders.Quantities(items) {
		if p := byID[id]; p.Stock < qty {
			return Quote{}, fmt.Errorf("%w: product %s requested %d available %d", orders.ErrInsufficientStock, id, qty, p.Stock)
		}
	}

	method = orders.NormalizeShipping(method)
	fee := orders.ShippingFee(method)
	q := Quote{
		SubtotalCents:    subtotal,
		ShippingFeeCents: fee,
		TotalCents:       subtotal + fee,
		Currency:         e.Currency,
		Method:           method,
	}
	span.SetAttributes(attribute.Int64("order.total_cents", q.TotalCents), attribute.Int("order.lines", len(items)))
	return q, nil
}
