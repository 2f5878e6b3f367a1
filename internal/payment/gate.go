package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ariefcatur/go-checkout-fulfillment/internal/fulfillment"
	"github.com/ariefcatur/go-checkout-fulfillment/internal/metrics"
	"github.com/ariefcatur/go-checkout-fulfillment/internal/orders"
	"github.com/ariefcatur/go-checkout-fulfillment/internal/pricing"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("github.com/ariefcatur/go-checkout-fulfillment/internal/payment")

type Quoter interface {
	Quote(ctx context.Context, items []orders.LineItem, method orders.ShippingMethod) (pricing.Quote, error)
}

type Fulfiller interface {
	Fulfill(ctx context.Context, req fulfillment.Request) (*orders.Order, error)
}

// Claims serialises confirmations of one intent. Claim reports false when
// the intent is already claimed.
type Claims interface {
	Claim(ctx context.Context, intentID, customerID string) (bool, error)
	Release(ctx context.Context, intentID string) error
}

// Confirmation is what the client sends once the processor reports payment.
type Confirmation struct {
	IntentID       string
	CustomerID     string
	Items          []orders.LineItem
	ShippingMethod orders.ShippingMethod
	Address        *orders.Address
	Notes          string
}

type Gate struct {
	quoter    Quoter
	processor Processor
	fulfiller Fulfiller
	claims    Claims
	log       zerolog.Logger
	metrics   *metrics.Metrics
}

type GateOption func(*Gate)

func WithClaims(c Claims) GateOption            { return func(g *Gate) { g.claims = c } }
func WithLogger(l zerolog.Logger) GateOption    { return func(g *Gate) { g.log = l } }
func WithMetrics(m *metrics.Metrics) GateOption { return func(g *Gate) { g.metrics = m } }

func NewGate(q Quoter, p Processor, f Fulfiller, opts ...GateOption) *Gate {
	g := &Gate{quoter: q, processor: p, fulfiller: f, log: zerolog.Nop()}
	for _, o := range opts {
		o(g)
	}
	return g
}

type intentItem struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

// CreateIntent prices the cart on the server and opens an intent for that
// exact amount.
func (g *Gate) CreateIntent(ctx context.Context, customerID string, items []orders.LineItem, method orders.ShippingMethod) (Intent, error) {
	q, err := g.quoter.Quote(ctx, items, method)
	if err != nil {
		return Intent{}, err
	}

	lines := make([]intentItem, len(items))
	for i, it := range items {
		lines[i] = intentItem{ProductID: it.ProductID, Quantity: it.Quantity}
	}
	itemsJSON, err := json.Marshal(lines)
	if err != nil {
		return Intent{}, err
	}
	metadata := map[string]string{
		"customer_id":     customerID,
		"items":           string(itemsJSON),
		"shipping_method": string(q.Method),
		"shipping_fee":    strconv.FormatInt(q.ShippingFeeCents, 10),
	}

	in, err := g.processor.CreateIntent(ctx, q.TotalCents, q.Currency, metadata)
	if err != nil {
		return Intent{}, fmt.Errorf("create intent: %w", err)
	}
	g.log.Info().Str("intent_id", in.ID).Str("customer_id", customerID).Int64("amount", q.TotalCents).Msg("payment intent created")
	return in, nil
}

// ConfirmPaid verifies the intent against a freshly recomputed total and
// then fulfils the order with the authorization attached. Nothing the
// client claims about the amount is trusted.
func (g *Gate) ConfirmPaid(ctx context.Context, c Confirmation) (*orders.Order, error) {
	ctx, span := tracer.Start(ctx, "payment.ConfirmPaid")
	defer span.End()
	span.SetAttributes(attribute.String("payment.intent_id", c.IntentID))

	o, err := g.confirm(ctx, c)
	g.metrics.PaymentConfirmation(confirmOutcome(err))
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return o, nil
}

func (g *Gate) confirm(ctx context.Context, c Confirmation) (o *orders.Order, err error) {
	q, err := g.quoter.Quote(ctx, c.Items, c.ShippingMethod)
	if err != nil {
		return nil, err
	}

	in, err := g.processor.RetrieveIntent(ctx, c.IntentID)
	if errors.Is(err, ErrIntentNotFound) {
		return nil, fmt.Errorf("%w: intent %s unknown", orders.ErrPaymentNotCompleted, c.IntentID)
	}
	if err != nil {
		return nil, fmt.Errorf("retrieve intent: %w", err)
	}
	if in.Status != StatusSucceeded {
		return nil, fmt.Errorf("%w: intent %s is %s", orders.ErrPaymentNotCompleted, in.ID, in.Status)
	}
	if owner := in.Metadata["customer_id"]; owner != "" && owner != c.CustomerID {
		g.log.Warn().Str("intent_id", in.ID).Str("customer_id", c.CustomerID).Msg("intent created for another customer")
		return nil, fmt.Errorf("%w: intent %s belongs to another customer", orders.ErrPaymentNotCompleted, in.ID)
	}
	if in.AmountCents != q.TotalCents || !strings.EqualFold(in.Currency, q.Currency) {
		g.log.Warn().Str("intent_id", in.ID).Int64("paid", in.AmountCents).Str("paid_currency", in.Currency).
			Int64("expected", q.TotalCents).Str("expected_currency", q.Currency).Msg("payment amount mismatch")
		return nil, fmt.Errorf("%w: paid %d %s, order %d %s", orders.ErrAmountMismatch, in.AmountCents, in.Currency, q.TotalCents, q.Currency)
	}

	if g.claims != nil {
		claimed, cerr := g.claims.Claim(ctx, in.ID, c.CustomerID)
		switch {
		case cerr != nil:
			g.log.Warn().Err(cerr).Str("intent_id", in.ID).Msg("intent claim unavailable, relying on ledger")
		case !claimed:
			return nil, fmt.Errorf("%w: intent %s", orders.ErrPaymentAlreadyUsed, in.ID)
		default:
			// a failed fulfilment must not burn the intent
			defer func() {
				if err == nil {
					return
				}
				if rerr := g.claims.Release(context.WithoutCancel(ctx), in.ID); rerr != nil {
					g.log.Warn().Err(rerr).Str("intent_id", in.ID).Msg("release intent claim")
				}
			}()
		}
	}

	return g.fulfiller.Fulfill(ctx, fulfillment.Request{
		CustomerID:     c.CustomerID,
		Items:          c.Items,
		ShippingMethod: q.Method,
		Address:        c.Address,
		Quote:          q,
		Notes:          c.Notes,
		Payment: &orders.PaymentAuthorization{
			Processor:   g.processor.Name(),
			IntentID:    in.ID,
			AmountCents: in.AmountCents,
			Currency:    in.Currency,
			Status:      in.Status,
		},
	})
}

func confirmOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, orders.ErrPaymentNotCompleted):
		return "not_completed"
	case errors.Is(err, orders.ErrAmountMismatch):
		return "amount_mismatch"
	case errors.Is(err, orders.ErrPaymentAlreadyUsed):
		return "already_used"
	case errors.Is(err, orders.ErrStockConflict):
		return "stock_conflict"
	default:
		return "error"
	}
}
