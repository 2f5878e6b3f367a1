package orders

import "errors"

// Quote-time validation failures. Detected before any write.
var (
	ErrEmptyOrder        = errors.New("order has no items")
	ErrProductNotFound   = errors.New("product not found")
	ErrInvalidQuantity   = errors.New("invalid quantity")
	ErrInsufficientStock = errors.New("insufficient stock")
)

// ErrStockConflict means a reservation lost a race at commit time. Callers may resubmit.
var ErrStockConflict = errors.New("stock changed, please retry")

// Payment-flow integrity failures.
var (
	ErrPaymentNotCompleted = errors.New("payment not completed")
	ErrAmountMismatch      = errors.New("payment amount does not match order total")
	ErrPaymentAlreadyUsed  = errors.New("payment already used for another order")
)

var (
	ErrOrderNotFound     = errors.New("order not found")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// ErrTxUnsupported is returned by a Transactor whose deployment cannot run
// multi-statement transactions. It switches the coordinator to its fallback
// path and never reaches API callers.
var ErrTxUnsupported = errors.New("transactions not supported by store")
