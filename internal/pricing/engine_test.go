package pricing

import (
	"context"
	"errors"
	"testing"

	"github.com/ariefcatur/go-checkout-fulfillment/internal/memstore"
	"github.com/ariefcatur/go-checkout-fulfillment/internal/orders"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEngine(t *testing.T) (*Engine, *memstore.Store) {
	t.Helper()
	st := memstore.New()
	st.Seed(
		orders.Product{ID: "P", Name: "Tent", PriceCents: 1000, Stock: 3},
		orders.Product{ID: "Q", Name: "Stove", PriceCents: 250, Stock: 10},
	)
	return NewEngine(st, "aud"), st
}

func TestQuote(t *testing.T) {
	e, _ := newEngine(t)

	tests := []struct {
		name    string
		items   []orders.LineItem
		method  orders.ShippingMethod
		want    Quote
		wantErr error
	}{
		{
			name:   "standard shipping",
			items:  []orders.LineItem{{ProductID: "P", Quantity: 2}},
			method: orders.ShippingStandard,
			want:   Quote{SubtotalCents: 2000, ShippingFeeCents: 695, TotalCents: 2695, Currency: "aud", Method: orders.ShippingStandard},
		},
		{
			name:   "express shipping, two products",
			items:  []orders.LineItem{{ProductID: "P", Quantity: 1}, {ProductID: "Q", Quantity: 4}},
			method: orders.ShippingExpress,
			want:   Quote{SubtotalCents: 2000, ShippingFeeCents: 1295, TotalCents: 3295, Currency: "aud", Method: orders.ShippingExpress},
		},
		{
			name:   "unknown method defaults to standard",
			items:  []orders.LineItem{{ProductID: "Q", Quantity: 1}},
			method: "drone",
			want:   Quote{SubtotalCents: 250, ShippingFeeCents: 695, TotalCents: 945, Currency: "aud", Method: orders.ShippingStandard},
		},
		{
			name:    "empty",
			wantErr: orders.ErrEmptyOrder,
		},
		{
			name:    "missing product",
			items:   []orders.LineItem{{ProductID: "X", Quantity: 1}},
			wantErr: orders.ErrProductNotFound,
		},
		{
			name:    "zero quantity",
			items:   []orders.LineItem{{ProductID: "P", Quantity: 0}},
			wantErr: orders.ErrInvalidQuantity,
		},
		{
			name:    "negative quantity",
			items:   []orders.LineItem{{ProductID: "P", Quantity: -1}},
			wantErr: orders.ErrInvalidQuantity,
		},
		{
			name:    "more than stock",
			items:   []orders.LineItem{{ProductID: "P", Quantity: 4}},
			wantErr: orders.ErrInsufficientStock,
		},
		{
			name:    "duplicate lines summed against stock",
			items:   []orders.LineItem{{ProductID: "P", Quantity: 2}, {ProductID: "P", Quantity: 2}},
			wantErr: orders.ErrInsufficientStock,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.Quote(context.Background(), tt.items, tt.method)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestQuoteDoesNotWrite(t *testing.T) {
	e, st := newEngine(t)

	_, err := e.Quote(context.Background(), []orders.LineItem{{ProductID: "P", Quantity: 3}}, "")
	require.NoError(t, err)
	assert.Equal(t, int64(3), st.Stock("P"))
	assert.Zero(t, st.OrderCount())
}

type failingInventory struct{ orders.Inventory }

func (failingInventory) FindMany(context.Context, []string) ([]orders.Product, error) {
	return nil, errors.New("connection reset")
}

func TestQuoteStoreError(t *testing.T) {
	e := NewEngine(failingInventory{}, "aud")
	_, err := e.Quote(context.Background(), []orders.LineItem{{ProductID: "P", Quantity: 1}}, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
}
