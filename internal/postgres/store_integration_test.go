//go:build integration

package postgres

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/ariefcatur/go-checkout-fulfillment/internal/fulfillment"
	"github.com/ariefcatur/go-checkout-fulfillment/internal/orders"
	"github.com/ariefcatur/go-checkout-fulfillment/internal/pricing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
)

func startStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()

	ctr, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("checkout"),
		tcpostgres.WithUsername("checkout"),
		tcpostgres.WithPassword("checkout"),
		tcpostgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err)

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := Connect(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, Migrate(ctx, pool))

	_, err = pool.Exec(ctx, `INSERT INTO products(id, name, price_cents, stock) VALUES ('P', 'Tent', 1000, 3), ('Q', 'Stove', 250, 1)`)
	require.NoError(t, err)
	return NewStore(pool)
}

func stock(t *testing.T, s *Store, id string) int64 {
	t.Helper()
	ps, err := s.FindMany(context.Background(), []string{id})
	require.NoError(t, err)
	require.Len(t, ps, 1)
	return ps[0].Stock
}

func TestStoreFulfilment(t *testing.T) {
	ctx := context.Background()
	s := startStore(t)

	ok, err := s.SupportsTransactions(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	c := fulfillment.NewCoordinator(ctx, s, s, fulfillment.WithTransactor(s))
	require.Equal(t, fulfillment.PathAtomic, c.Path())

	quote, err := pricing.NewEngine(s, "aud").Quote(ctx, []orders.LineItem{{ProductID: "P", Quantity: 2}}, orders.ShippingExpress)
	require.NoError(t, err)
	assert.Equal(t, int64(3295), quote.TotalCents)

	o, err := c.Fulfill(ctx, fulfillment.Request{
		CustomerID:     "c1",
		Items:          []orders.LineItem{{ProductID: "P", Quantity: 2}},
		ShippingMethod: orders.ShippingExpress,
		Address:        &orders.Address{Line1: "1 George St", City: "Sydney", Country: "AU"},
		Quote:          quote,
		Payment:        &orders.PaymentAuthorization{Processor: "stripe", IntentID: "pi_1", AmountCents: 3295, Currency: "aud", Status: "succeeded"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), stock(t, s, "P"))

	got, err := s.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, o.Items, got.Items)
	assert.Equal(t, "Sydney", got.Address.City)
	assert.Equal(t, "pi_1", got.Payment.IntentID)

	list, err := s.ListByCustomer(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, list, 1)

	// second use of the same intent rolls back its decrement
	_, err = c.Fulfill(ctx, fulfillment.Request{
		CustomerID: "c1",
		Items:      []orders.LineItem{{ProductID: "P", Quantity: 1}},
		Quote:      quote,
		Payment:    &orders.PaymentAuthorization{IntentID: "pi_1"},
	})
	require.ErrorIs(t, err, orders.ErrPaymentAlreadyUsed)
	assert.Equal(t, int64(1), stock(t, s, "P"))

	require.NoError(t, s.UpdateStatus(ctx, o.ID, orders.StatusPending, orders.StatusShipped))
	require.ErrorIs(t, s.UpdateStatus(ctx, o.ID, orders.StatusPending, orders.StatusCancelled), orders.ErrInvalidTransition)
	require.ErrorIs(t, s.UpdateStatus(ctx, "missing", orders.StatusPending, orders.StatusShipped), orders.ErrOrderNotFound)
}

func TestStoreLastUnitRace(t *testing.T) {
	ctx := context.Background()
	s := startStore(t)
	c := fulfillment.NewCoordinator(ctx, s, s, fulfillment.WithTransactor(s))

	var (
		wg   sync.WaitGroup
		wins atomic.Int32
	)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Fulfill(ctx, fulfillment.Request{CustomerID: "c2", Items: []orders.LineItem{{ProductID: "Q", Quantity: 1}}})
			if err == nil {
				wins.Add(1)
				return
			}
			assert.ErrorIs(t, err, orders.ErrStockConflict)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, int64(0), stock(t, s, "Q"))
}
