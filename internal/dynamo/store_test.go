package dynamo

import (
	"context"
	"testing"
	"time"

	"github.com/ariefcatur/go-checkout-fulfillment/internal/fulfillment"
	"github.com/ariefcatur/go-checkout-fulfillment/internal/orders"
	"github.com/ariefcatur/go-checkout-fulfillment/internal/pricing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	productsTable = "products"
	ordersTable   = "orders"
)

func newTestStore(t *testing.T) (*Store, *mockDynamo) {
	t.Helper()
	mock := newMockDynamo()
	s := NewStore(mock, productsTable, ordersTable)
	tick := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s.nowFunc = func() time.Time {
		tick = tick.Add(time.Second)
		return tick
	}
	ctx := context.Background()
	require.NoError(t, s.PutProduct(ctx, orders.Product{ID: "P", Name: "Tent", PriceCents: 1000, Stock: 3}))
	require.NoError(t, s.PutProduct(ctx, orders.Product{ID: "Q", Name: "Stove", PriceCents: 250, Stock: 1}))
	return s, mock
}

func stockOf(t *testing.T, s *Store, id string) int64 {
	t.Helper()
	ps, err := s.FindMany(context.Background(), []string{id})
	require.NoError(t, err)
	require.Len(t, ps, 1)
	return ps[0].Stock
}

func TestInventory(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	all, err := s.ListProducts(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "P", all[0].ID)

	n, err := s.ConditionalDecrement(ctx, "P", 4)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	n, err = s.ConditionalDecrement(ctx, "P", 3)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, int64(0), stockOf(t, s, "P"))

	n, err = s.ConditionalDecrement(ctx, "missing", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	require.NoError(t, s.Increment(ctx, "P", 3))
	assert.Equal(t, int64(3), stockOf(t, s, "P"))
	require.ErrorIs(t, s.Increment(ctx, "missing", 1), orders.ErrProductNotFound)
}

func request(items ...orders.LineItem) fulfillment.Request {
	return fulfillment.Request{
		CustomerID: "c1",
		Items:      items,
		Quote:      pricing.Quote{SubtotalCents: 1000, ShippingFeeCents: 695, TotalCents: 1695, Currency: "aud"},
	}
}

func TestAtomicFulfilment(t *testing.T) {
	ctx := context.Background()
	s, mock := newTestStore(t)
	c := fulfillment.NewCoordinator(ctx, s, s, fulfillment.WithTransactor(s))
	require.Equal(t, fulfillment.PathAtomic, c.Path())

	req := request(orders.LineItem{ProductID: "P", Quantity: 1})
	req.Address = &orders.Address{Line1: "1 George St", City: "Sydney"}
	o, err := c.Fulfill(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 1, mock.transactCalls)
	assert.Equal(t, int64(2), stockOf(t, s, "P"))

	got, err := s.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, o.Items, got.Items)
	assert.Equal(t, int64(1695), got.TotalCents)
	assert.Equal(t, "Sydney", got.Address.City)
	assert.Equal(t, orders.StatusPending, got.Status)
}

func TestAtomicConflictWritesNothing(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	c := fulfillment.NewCoordinator(ctx, s, s, fulfillment.WithTransactor(s))

	_, err := c.Fulfill(ctx, request(
		orders.LineItem{ProductID: "P", Quantity: 2},
		orders.LineItem{ProductID: "Q", Quantity: 2},
	))
	require.ErrorIs(t, err, orders.ErrStockConflict)
	assert.Equal(t, int64(3), stockOf(t, s, "P"))
	assert.Equal(t, int64(1), stockOf(t, s, "Q"))

	list, err := s.ListByCustomer(ctx, "c1")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestDuplicateLinesMergedInTransaction(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	c := fulfillment.NewCoordinator(ctx, s, s, fulfillment.WithTransactor(s))

	_, err := c.Fulfill(ctx, request(
		orders.LineItem{ProductID: "P", Quantity: 2},
		orders.LineItem{ProductID: "P", Quantity: 2},
	))
	require.ErrorIs(t, err, orders.ErrStockConflict)
	assert.Equal(t, int64(3), stockOf(t, s, "P"))

	o, err := c.Fulfill(ctx, request(
		orders.LineItem{ProductID: "P", Quantity: 1},
		orders.LineItem{ProductID: "P", Quantity: 2},
	))
	require.NoError(t, err)
	assert.Len(t, o.Items, 2)
	assert.Equal(t, int64(0), stockOf(t, s, "P"))
}

func TestIntentUsedOnce(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	c := fulfillment.NewCoordinator(ctx, s, s, fulfillment.WithTransactor(s))

	req := request(orders.LineItem{ProductID: "P", Quantity: 1})
	req.Payment = &orders.PaymentAuthorization{Processor: "memory", IntentID: "pi_1", AmountCents: 1695, Currency: "aud", Status: "succeeded"}
	o, err := c.Fulfill(ctx, req)
	require.NoError(t, err)

	_, err = c.Fulfill(ctx, req)
	require.ErrorIs(t, err, orders.ErrPaymentAlreadyUsed)
	assert.Equal(t, int64(2), stockOf(t, s, "P"))

	got, err := s.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, "pi_1", got.Payment.IntentID)

	_, err = s.Get(ctx, intentKeyPrefix+"pi_1")
	require.ErrorIs(t, err, orders.ErrOrderNotFound)
}

func TestLedger(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	first := &orders.Order{ID: "o1", CustomerID: "c1", Status: orders.StatusPending, Items: []orders.LineItem{{ProductID: "P", Quantity: 1}}}
	second := &orders.Order{ID: "o2", CustomerID: "c1", Status: orders.StatusPending}
	require.NoError(t, s.Insert(ctx, first))
	require.NoError(t, s.Insert(ctx, second))
	assert.False(t, first.CreatedAt.IsZero())

	list, err := s.ListByCustomer(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "o2", list[0].ID)

	_, err = s.Get(ctx, "missing")
	require.ErrorIs(t, err, orders.ErrOrderNotFound)

	require.NoError(t, s.UpdateStatus(ctx, "o1", orders.StatusPending, orders.StatusShipped))
	got, err := s.Get(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, orders.StatusShipped, got.Status)

	err = s.UpdateStatus(ctx, "o1", orders.StatusPending, orders.StatusCancelled)
	require.ErrorIs(t, err, orders.ErrInvalidTransition)
	err = s.UpdateStatus(ctx, "missing", orders.StatusPending, orders.StatusShipped)
	require.ErrorIs(t, err, orders.ErrOrderNotFound)
}
