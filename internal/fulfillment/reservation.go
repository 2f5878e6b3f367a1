package fulfillment

import (
	"context"
	"errors"
	"fmt"

	"github.com/ariefcatur/go-checkout-fulfillment/internal/orders"
)

// Hold is one applied stock decrement.
type Hold struct {
	ProductID string
	Qty       int64
}

// Reservation records decrements applied outside a transaction so that they
// can be given back if a later step fails.
type Reservation struct {
	inv   orders.Inventory
	holds []Hold
}

func NewReservation(inv orders.Inventory) *Reservation {
	return &Reservation{inv: inv}
}

func (r *Reservation) Push(productID string, qty int64) {
	r.holds = append(r.holds, Hold{ProductID: productID, Qty: qty})
}

func (r *Reservation) Holds() []Hold {
	return append([]Hold(nil), r.holds...)
}

func (r *Reservation) Len() int { return len(r.holds) }

// Undo increments every held product back, newest first. It runs on a context
// detached from ctx's cancellation so an aborted request still restores
// stock. Every hold is attempted; failures are joined. The reservation is
// empty afterwards.
func (r *Reservation) Undo(ctx context.Context) error {
	ctx = context.WithoutCancel(ctx)
	var errs []error
	for i := len(r.holds) - 1; i >= 0; i-- {
		h := r.holds[i]
		if err := r.inv.Increment(ctx, h.ProductID, h.Qty); err != nil {
			errs = append(errs, fmt.Errorf("restore %s x%d: %w", h.ProductID, h.Qty, err))
		}
	}
	r.holds = nil
	return errors.Join(errs...)
}
