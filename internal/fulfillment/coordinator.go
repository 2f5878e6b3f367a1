// Package fulfillment turns a priced cart into a persisted order while
// decrementing stock, either inside one store transaction or as a
// compensating sequence when the store cannot run transactions.
package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ariefcatur/go-checkout-fulfillment/internal/metrics"
	"github.com/ariefcatur/go-checkout-fulfillment/internal/orders"
	"github.com/ariefcatur/go-checkout-fulfillment/internal/pricing"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/ariefcatur/go-checkout-fulfillment/internal/fulfillment")

const (
	PathAtomic = "atomic"
	PathSaga   = "saga"
)

// Request is a validated, server-priced order ready to commit.
type Request struct {
	CustomerID     string
	Items          []orders.LineItem
	ShippingMethod orders.ShippingMethod
	Address        *orders.Address
	Quote          pricing.Quote
	Payment        *orders.PaymentAuthorization
	Notes          string
}

func (r Request) newOrder() *orders.Order {
	return &orders.Order{
		ID:               uuid.NewString(),
		CustomerID:       r.CustomerID,
		Items:            append([]orders.LineItem(nil), r.Items...),
		SubtotalCents:    r.Quote.SubtotalCents,
		ShippingFeeCents: r.Quote.ShippingFeeCents,
		TotalCents:       r.Quote.TotalCents,
		Currency:         r.Quote.Currency,
		Status:           orders.StatusPending,
		ShippingMethod:   orders.NormalizeShipping(r.ShippingMethod),
		Address:          r.Address,
		Payment:          r.Payment,
		Notes:            r.Notes,
	}
}

type Coordinator struct {
	inv     orders.Inventory
	ledger  orders.Ledger
	tx      orders.Transactor
	log     zerolog.Logger
	metrics *metrics.Metrics

	// txOff latches once the store has shown it cannot run transactions.
	txOff atomic.Bool
}

type Option func(*Coordinator)

// WithTransactor enables the atomic path. The transactor must cover both the
// inventory and the ledger handed to NewCoordinator.
func WithTransactor(tx orders.Transactor) Option {
	return func(c *Coordinator) { c.tx = tx }
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *Coordinator) { c.log = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// NewCoordinator probes the transactor once, when it implements
// orders.TxProber. A failed probe leaves the atomic path enabled; the first
// ErrTxUnsupported seen at runtime disables it for good.
func NewCoordinator(ctx context.Context, inv orders.Inventory, ledger orders.Ledger, opts ...Option) *Coordinator {
	c := &Coordinator{inv: inv, ledger: ledger, log: zerolog.Nop()}
	for _, o := range opts {
		o(c)
	}
	if c.tx == nil {
		c.txOff.Store(true)
		return c
	}
	if p, ok := c.tx.(orders.TxProber); ok {
		supported, err := p.SupportsTransactions(ctx)
		switch {
		case err != nil:
			c.log.Warn().Err(err).Msg("transaction probe failed, keeping atomic path")
		case !supported:
			c.log.Info().Msg("store has no transactions, using saga path")
			c.txOff.Store(true)
		}
	}
	return c
}

// Path reports which path the next Fulfill will try first.
func (c *Coordinator) Path() string {
	if c.txOff.Load() {
		return PathSaga
	}
	return PathAtomic
}

// Fulfill decrements stock for every line and persists the order as one
// unit. On any error no stock stays decremented and no order is stored. A
// lost race for stock is reported as orders.ErrStockConflict.
func (c *Coordinator) Fulfill(ctx context.Context, req Request) (*orders.Order, error) {
	ctx, span := tracer.Start(ctx, "fulfillment.Fulfill")
	defer span.End()

	if len(req.Items) == 0 {
		return nil, orders.ErrEmptyOrder
	}
	o := req.newOrder()

	if !c.txOff.Load() {
		start := time.Now()
		err := c.fulfillAtomic(ctx, o)
		if !errors.Is(err, orders.ErrTxUnsupported) {
			return c.finish(span, PathAtomic, start, o, err)
		}
		if c.txOff.CompareAndSwap(false, true) {
			c.log.Warn().Msg("store rejected transaction, switching to saga path")
		}
	}

	start := time.Now()
	err := c.fulfillSaga(ctx, o)
	return c.finish(span, PathSaga, start, o, err)
}

func (c *Coordinator) fulfillAtomic(ctx context.Context, o *orders.Order) error {
	return c.tx.InTx(ctx, func(tx orders.TxWriter) error {
		for _, it := range o.Items {
			n, err := tx.ConditionalDecrement(ctx, it.ProductID, int64(it.Quantity))
			if err != nil {
				return fmt.Errorf("decrement %s: %w", it.ProductID, err)
			}
			if n == 0 {
				return fmt.Errorf("%w: product %s", orders.ErrStockConflict, it.ProductID)
			}
		}
		return tx.Insert(ctx, o)
	})
}

func (c *Coordinator) fulfillSaga(ctx context.Context, o *orders.Order) error {
	res := NewReservation(c.inv)
	for _, it := range o.Items {
		n, err := c.inv.ConditionalDecrement(ctx, it.ProductID, int64(it.Quantity))
		if err != nil {
			c.unwind(ctx, res, o.ID)
			return fmt.Errorf("decrement %s: %w", it.ProductID, err)
		}
		if n == 0 {
			c.unwind(ctx, res, o.ID)
			return fmt.Errorf("%w: product %s", orders.ErrStockConflict, it.ProductID)
		}
		res.Push(it.ProductID, int64(it.Quantity))
	}
	if err := c.ledger.Insert(ctx, o); err != nil {
		c.unwind(ctx, res, o.ID)
		return err
	}
	return nil
}

// unwind never masks the error that caused it.
func (c *Coordinator) unwind(ctx context.Context, res *Reservation, orderID string) {
	if res.Len() == 0 {
		return
	}
	c.metrics.Compensated()
	held := res.Holds()
	if err := res.Undo(ctx); err != nil {
		products := make([]string, len(held))
		for i, h := range held {
			products[i] = h.ProductID
		}
		c.log.Error().Err(err).Str("order_id", orderID).Strs("products", products).Msg("compensation incomplete, stock may be under-counted")
		return
	}
	c.log.Debug().Str("order_id", orderID).Int("holds", len(held)).Msg("reservation released")
}

func (c *Coordinator) finish(span trace.Span, path string, start time.Time, o *orders.Order, err error) (*orders.Order, error) {
	span.SetAttributes(attribute.String("fulfillment.path", path))
	outcome := "ok"
	switch {
	case err == nil:
	case errors.Is(err, orders.ErrStockConflict):
		outcome = "conflict"
	default:
		outcome = "error"
	}
	c.metrics.ObserveFulfillment(path, outcome, time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
		return nil, err
	}
	c.log.Info().Str("order_id", o.ID).Str("customer_id", o.CustomerID).Int64("total_cents", o.TotalCents).Str("path", path).Msg("order fulfilled")
	return o, nil
}
