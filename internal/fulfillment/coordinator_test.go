package fulfillment

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/ariefcatur/go-checkout-fulfillment/internal/memstore"
	"github.com/ariefcatur/go-checkout-fulfillment/internal/metrics"
	"github.com/ariefcatur/go-checkout-fulfillment/internal/orders"
	"github.com/ariefcatur/go-checkout-fulfillment/internal/pricing"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var modes = []struct {
	name string
	tx   bool
	path string
}{
	{"transactional", true, PathAtomic},
	{"standalone", false, PathSaga},
}

func seeded(tx bool) *memstore.Store {
	st := memstore.New(memstore.WithTransactions(tx))
	st.Seed(
		orders.Product{ID: "P", Name: "Tent", PriceCents: 1000, Stock: 3},
		orders.Product{ID: "Q", Name: "Stove", PriceCents: 250, Stock: 1},
	)
	return st
}

func newCoordinator(st *memstore.Store, opts ...Option) *Coordinator {
	return NewCoordinator(context.Background(), st, st, append([]Option{WithTransactor(st)}, opts...)...)
}

func request(items ...orders.LineItem) Request {
	return Request{
		CustomerID:     "c1",
		Items:          items,
		ShippingMethod: orders.ShippingStandard,
		Quote:          pricing.Quote{SubtotalCents: 2000, ShippingFeeCents: 695, TotalCents: 2695, Currency: "aud", Method: orders.ShippingStandard},
	}
}

func TestFulfillSuccess(t *testing.T) {
	for _, mode := range modes {
		t.Run(mode.name, func(t *testing.T) {
			st := seeded(mode.tx)
			m := metrics.New(prometheus.NewRegistry())
			c := newCoordinator(st, WithMetrics(m))
			require.Equal(t, mode.path, c.Path())

			o, err := c.Fulfill(context.Background(), request(orders.LineItem{ProductID: "P", Quantity: 2}))
			require.NoError(t, err)

			assert.NotEmpty(t, o.ID)
			assert.Equal(t, int64(2695), o.TotalCents)
			assert.Equal(t, orders.StatusPending, o.Status)
			assert.Equal(t, int64(1), st.Stock("P"))

			stored, err := st.Get(context.Background(), o.ID)
			require.NoError(t, err)
			assert.Equal(t, o.Items, stored.Items)
			assert.Equal(t, 1.0, testutil.ToFloat64(m.FulfillmentAttempts.WithLabelValues(mode.path, "ok")))
		})
	}
}

func TestFulfillEmpty(t *testing.T) {
	c := newCoordinator(seeded(true))
	_, err := c.Fulfill(context.Background(), request())
	require.ErrorIs(t, err, orders.ErrEmptyOrder)
}

func TestLastUnitRace(t *testing.T) {
	for _, mode := range modes {
		t.Run(mode.name, func(t *testing.T) {
			st := seeded(mode.tx)
			c := newCoordinator(st)

			var (
				wg        sync.WaitGroup
				wins      atomic.Int32
				conflicts atomic.Int32
			)
			for i := 0; i < 2; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := c.Fulfill(context.Background(), request(orders.LineItem{ProductID: "Q", Quantity: 1}))
					switch {
					case err == nil:
						wins.Add(1)
					case errors.Is(err, orders.ErrStockConflict):
						conflicts.Add(1)
					}
				}()
			}
			wg.Wait()

			assert.Equal(t, int32(1), wins.Load())
			assert.Equal(t, int32(1), conflicts.Load())
			assert.Equal(t, int64(0), st.Stock("Q"))
			assert.Equal(t, 1, st.OrderCount())
		})
	}
}

func TestConflictLeavesNoTrace(t *testing.T) {
	for _, mode := range modes {
		t.Run(mode.name, func(t *testing.T) {
			st := seeded(mode.tx)
			c := newCoordinator(st)

			// P succeeds first, then Q conflicts.
			_, err := c.Fulfill(context.Background(), request(
				orders.LineItem{ProductID: "P", Quantity: 2},
				orders.LineItem{ProductID: "Q", Quantity: 2},
			))
			require.ErrorIs(t, err, orders.ErrStockConflict)
			assert.Equal(t, int64(3), st.Stock("P"))
			assert.Equal(t, int64(1), st.Stock("Q"))
			assert.Zero(t, st.OrderCount())
		})
	}
}

func TestResubmitAfterConflictDoesNotDoubleDecrement(t *testing.T) {
	for _, mode := range modes {
		t.Run(mode.name, func(t *testing.T) {
			st := seeded(mode.tx)
			c := newCoordinator(st)
			req := request(
				orders.LineItem{ProductID: "P", Quantity: 1},
				orders.LineItem{ProductID: "Q", Quantity: 2},
			)

			for i := 0; i < 2; i++ {
				_, err := c.Fulfill(context.Background(), req)
				require.ErrorIs(t, err, orders.ErrStockConflict)
			}
			assert.Equal(t, int64(3), st.Stock("P"))
			assert.Equal(t, int64(1), st.Stock("Q"))
			assert.Zero(t, st.OrderCount())
		})
	}
}

func TestDuplicateLinesDecrementedSeparately(t *testing.T) {
	for _, mode := range modes {
		t.Run(mode.name, func(t *testing.T) {
			st := seeded(mode.tx)
			c := newCoordinator(st)

			_, err := c.Fulfill(context.Background(), request(
				orders.LineItem{ProductID: "P", Quantity: 2},
				orders.LineItem{ProductID: "P", Quantity: 2},
			))
			require.ErrorIs(t, err, orders.ErrStockConflict)
			assert.Equal(t, int64(3), st.Stock("P"))

			_, err = c.Fulfill(context.Background(), request(
				orders.LineItem{ProductID: "P", Quantity: 1},
				orders.LineItem{ProductID: "P", Quantity: 2},
			))
			require.NoError(t, err)
			assert.Equal(t, int64(0), st.Stock("P"))
		})
	}
}

// failingLedger fails every Insert.
type failingLedger struct {
	orders.Ledger
	err error
}

func (f failingLedger) Insert(context.Context, *orders.Order) error { return f.err }

// failingTxStore routes transactional inserts to failingLedger semantics.
type failingTxStore struct {
	*memstore.Store
	err error
}

func (f failingTxStore) InTx(ctx context.Context, fn func(orders.TxWriter) error) error {
	return f.Store.InTx(ctx, func(tx orders.TxWriter) error {
		return fn(failingInsertTx{TxWriter: tx, err: f.err})
	})
}

type failingInsertTx struct {
	orders.TxWriter
	err error
}

func (f failingInsertTx) Insert(context.Context, *orders.Order) error { return f.err }

func TestInsertFailureRestoresStock(t *testing.T) {
	boom := errors.New("disk full")

	t.Run("saga", func(t *testing.T) {
		st := seeded(false)
		m := metrics.New(prometheus.NewRegistry())
		c := NewCoordinator(context.Background(), st, failingLedger{Ledger: st, err: boom}, WithMetrics(m))

		_, err := c.Fulfill(context.Background(), request(
			orders.LineItem{ProductID: "P", Quantity: 2},
			orders.LineItem{ProductID: "Q", Quantity: 1},
		))
		require.ErrorIs(t, err, boom)
		assert.Equal(t, int64(3), st.Stock("P"))
		assert.Equal(t, int64(1), st.Stock("Q"))
		assert.Equal(t, 1.0, testutil.ToFloat64(m.Compensations))
		assert.Equal(t, 1.0, testutil.ToFloat64(m.FulfillmentAttempts.WithLabelValues(PathSaga, "error")))
	})

	t.Run("atomic", func(t *testing.T) {
		st := seeded(true)
		c := NewCoordinator(context.Background(), st, st, WithTransactor(failingTxStore{Store: st, err: boom}))

		_, err := c.Fulfill(context.Background(), request(orders.LineItem{ProductID: "P", Quantity: 2}))
		require.ErrorIs(t, err, boom)
		assert.Equal(t, int64(3), st.Stock("P"))
		assert.Zero(t, st.OrderCount())
	})
}

// flakyInventory fails the decrement of one product.
type flakyInventory struct {
	orders.Inventory
	failOn string
	err    error
}

func (f flakyInventory) ConditionalDecrement(ctx context.Context, id string, qty int64) (int64, error) {
	if id == f.failOn {
		return 0, f.err
	}
	return f.Inventory.ConditionalDecrement(ctx, id, qty)
}

func TestDecrementErrorPropagates(t *testing.T) {
	st := seeded(false)
	timeout := errors.New("i/o timeout")
	c := NewCoordinator(context.Background(), flakyInventory{Inventory: st, failOn: "Q", err: timeout}, st)

	_, err := c.Fulfill(context.Background(), request(
		orders.LineItem{ProductID: "P", Quantity: 1},
		orders.LineItem{ProductID: "Q", Quantity: 1},
	))
	require.ErrorIs(t, err, timeout)
	assert.NotErrorIs(t, err, orders.ErrStockConflict)
	assert.Equal(t, int64(3), st.Stock("P"))
	assert.Zero(t, st.OrderCount())
}

// cancellingInventory cancels the request after the first successful decrement.
type cancellingInventory struct {
	orders.Inventory
	cancel context.CancelFunc
}

func (c cancellingInventory) ConditionalDecrement(ctx context.Context, id string, qty int64) (int64, error) {
	n, err := c.Inventory.ConditionalDecrement(ctx, id, qty)
	c.cancel()
	return n, err
}

func TestCancelledRequestStillRestoresStock(t *testing.T) {
	st := seeded(false)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c := NewCoordinator(ctx, cancellingInventory{Inventory: st, cancel: cancel}, st)

	_, err := c.Fulfill(ctx, request(
		orders.LineItem{ProductID: "P", Quantity: 2},
		orders.LineItem{ProductID: "Q", Quantity: 1},
	))
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int64(3), st.Stock("P"))
	assert.Equal(t, int64(1), st.Stock("Q"))
}

// lyingTransactor claims transaction support but rejects every transaction.
type lyingTransactor struct {
	calls atomic.Int32
}

func (l *lyingTransactor) SupportsTransactions(context.Context) (bool, error) { return true, nil }

func (l *lyingTransactor) InTx(context.Context, func(orders.TxWriter) error) error {
	l.calls.Add(1)
	return orders.ErrTxUnsupported
}

func TestRuntimeSignalLatchesFallback(t *testing.T) {
	st := seeded(true)
	lt := &lyingTransactor{}
	c := NewCoordinator(context.Background(), st, st, WithTransactor(lt))
	require.Equal(t, PathAtomic, c.Path())

	o, err := c.Fulfill(context.Background(), request(orders.LineItem{ProductID: "P", Quantity: 1}))
	require.NoError(t, err)
	require.NotNil(t, o)
	assert.Equal(t, PathSaga, c.Path())

	_, err = c.Fulfill(context.Background(), request(orders.LineItem{ProductID: "P", Quantity: 1}))
	require.NoError(t, err)

	assert.Equal(t, int32(1), lt.calls.Load())
	assert.Equal(t, int64(1), st.Stock("P"))
	assert.Equal(t, 2, st.OrderCount())
}

func TestProbeDisablesAtomicPath(t *testing.T) {
	st := seeded(false)
	c := newCoordinator(st)
	assert.Equal(t, PathSaga, c.Path())

	_, err := c.Fulfill(context.Background(), request(orders.LineItem{ProductID: "P", Quantity: 1}))
	require.NoError(t, err)
}

func TestNoTransactorUsesSaga(t *testing.T) {
	st := seeded(true)
	c := NewCoordinator(context.Background(), st, st)
	assert.Equal(t, PathSaga, c.Path())
}
