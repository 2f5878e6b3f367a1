// Package checkout is the customer-facing API of the service: quoting,
// placing and paying for orders, and following them afterwards.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/go-checkout-fulfillment/internal/fulfillment"
	"github.com/ariefcatur/go-checkout-fulfillment/internal/notify"
	"github.com/ariefcatur/go-checkout-fulfillment/internal/orders"
	"github.com/ariefcatur/go-checkout-fulfillment/internal/payment"
	"github.com/ariefcatur/go-checkout-fulfillment/internal/pricing"
	"github.com/rs/zerolog"
)

// StatusCache is an optional read-through cache of order status.
type StatusCache interface {
	Get(ctx context.Context, orderID string) (orders.StatusEntry, bool, error)
	Set(ctx context.Context, orderID string, e orders.StatusEntry) error
}

type Deps struct {
	Pricing   *pricing.Engine
	Fulfiller payment.Fulfiller
	Gate      *payment.Gate
	Ledger    orders.Ledger
	Catalog   orders.Catalog
	Cache     StatusCache
	Notifier  notify.Dispatcher
	Log       zerolog.Logger
}

type Service struct {
	pricing   *pricing.Engine
	fulfiller payment.Fulfiller
	gate      *payment.Gate
	ledger    orders.Ledger
	catalog   orders.Catalog
	cache     StatusCache
	notifier  notify.Dispatcher
	log       zerolog.Logger
}

func New(d Deps) *Service {
	s := &Service{
		pricing:   d.Pricing,
		fulfiller: d.Fulfiller,
		gate:      d.Gate,
		ledger:    d.Ledger,
		catalog:   d.Catalog,
		cache:     d.Cache,
		notifier:  d.Notifier,
		log:       d.Log,
	}
	if s.notifier == nil {
		s.notifier = notify.LogDispatcher{Log: d.Log}
	}
	return s
}

// OrderRequest is an unpaid (cash on delivery) order.
type OrderRequest struct {
	CustomerID     string
	Items          []orders.LineItem
	ShippingMethod orders.ShippingMethod
	Address        *orders.Address
	Notes          string
}

func (s *Service) Quote(ctx context.Context, items []orders.LineItem, method orders.ShippingMethod) (pricing.Quote, error) {
	return s.pricing.Quote(ctx, items, method)
}

// PlaceOrder re-prices the cart at commit time and fulfils it.
func (s *Service) PlaceOrder(ctx context.Context, req OrderRequest) (*orders.Order, error) {
	q, err := s.pricing.Quote(ctx, req.Items, req.ShippingMethod)
	if err != nil {
		return nil, err
	}
	o, err := s.fulfiller.Fulfill(ctx, fulfillment.Request{
		CustomerID:     req.CustomerID,
		Items:          req.Items,
		ShippingMethod: q.Method,
		Address:        req.Address,
		Quote:          q,
		Notes:          req.Notes,
	})
	if err != nil {
		return nil, err
	}
	s.committed(ctx, o)
	return o, nil
}

func (s *Service) CreatePaymentIntent(ctx context.Context, customerID string, items []orders.LineItem, method orders.ShippingMethod) (payment.Intent, error) {
	return s.gate.CreateIntent(ctx, customerID, items, method)
}

func (s *Service) ConfirmPaidOrder(ctx context.Context, c payment.Confirmation) (*orders.Order, error) {
	o, err := s.gate.ConfirmPaid(ctx, c)
	if err != nil {
		return nil, err
	}
	s.committed(ctx, o)
	return o, nil
}

func (s *Service) ListOrders(ctx context.Context, customerID string) ([]orders.Order, error) {
	return s.ledger.ListByCustomer(ctx, customerID)
}

// GetOrder hides other customers' orders behind ErrOrderNotFound.
func (s *Service) GetOrder(ctx context.Context, customerID, orderID string) (*orders.Order, error) {
	o, err := s.ledger.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.CustomerID != customerID {
		return nil, fmt.Errorf("%w: %s", orders.ErrOrderNotFound, orderID)
	}
	return o, nil
}

// OrderStatus serves from the cache when it can. A cached entry owned by
// another customer is reported as not found, same as a ledger read.
func (s *Service) OrderStatus(ctx context.Context, customerID, orderID string) (orders.Status, error) {
	if s.cache != nil {
		e, hit, err := s.cache.Get(ctx, orderID)
		if err != nil {
			s.log.Warn().Err(err).Str("order_id", orderID).Msg("status cache read")
		}
		if hit {
			if e.CustomerID != customerID {
				return "", fmt.Errorf("%w: %s", orders.ErrOrderNotFound, orderID)
			}
			return e.Status, nil
		}
	}
	o, err := s.GetOrder(ctx, customerID, orderID)
	if err != nil {
		return "", err
	}
	s.cacheStatus(ctx, o)
	return o.Status, nil
}

// UpdateStatus moves an order along its lifecycle. Administrators only.
func (s *Service) UpdateStatus(ctx context.Context, orderID string, to orders.Status) (*orders.Order, error) {
	if !to.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", orders.ErrInvalidTransition, to)
	}
	o, err := s.ledger.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	from := o.Status
	if !orders.CanTransition(from, to) {
		return nil, fmt.Errorf("%w: %s -> %s", orders.ErrInvalidTransition, from, to)
	}
	if err := s.ledger.UpdateStatus(ctx, orderID, from, to); err != nil {
		return nil, err
	}
	o.Status = to
	o.UpdatedAt = time.Now().UTC()
	s.cacheStatus(ctx, o)
	s.notify(ctx, notify.Event{
		Type:    orders.EventOrderStatusChanged,
		OrderID: o.ID,
		Payload: orders.OrderStatusChangedPayload{OrderID: o.ID, CustomerID: o.CustomerID, From: from, To: to},
	})
	return o, nil
}

// Products lists the catalog.
func (s *Service) Products(ctx context.Context) ([]orders.Product, error) {
	if s.catalog == nil {
		return nil, errors.New("catalog not available for this store")
	}
	return s.catalog.ListProducts(ctx)
}

func (s *Service) committed(ctx context.Context, o *orders.Order) {
	s.cacheStatus(ctx, o)
	placed := orders.PlacedPayload(o)
	if o.Payment == nil {
		s.notify(ctx, notify.Event{Type: orders.EventOrderPlaced, OrderID: o.ID, Payload: placed})
		return
	}
	s.notify(ctx, notify.Event{
		Type:    orders.EventOrderPaid,
		OrderID: o.ID,
		Payload: orders.OrderPaidPayload{OrderPlacedPayload: placed, IntentID: o.Payment.IntentID, Processor: o.Payment.Processor},
	})
}

func (s *Service) notify(ctx context.Context, e notify.Event) {
	if err := s.notifier.Notify(ctx, e); err != nil {
		s.log.Warn().Err(err).Str("event_type", e.Type).Str("order_id", e.OrderID).Msg("notification not sent")
	}
}

func (s *Service) cacheStatus(ctx context.Context, o *orders.Order) {
	if s.cache == nil {
		return
	}
	e := orders.StatusEntry{CustomerID: o.CustomerID, Status: o.Status, UpdatedAt: o.UpdatedAt}
	if err := s.cache.Set(ctx, o.ID, e); err != nil {
		s.log.Warn().Err(err).Str("order_id", o.ID).Msg("status cache write")
	}
}
