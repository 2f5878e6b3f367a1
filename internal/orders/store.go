package orders

import "context"

// Inventory holds per-product price and stock.
//
// ConditionalDecrement must be atomic at the storage layer: it subtracts qty
// only when stock >= qty and reports how many records changed (0 or 1).
type Inventory interface {
	FindMany(ctx context.Context, ids []string) ([]Product, error)
	ConditionalDecrement(ctx context.Context, id string, qty int64) (int64, error)
	Increment(ctx context.Context, id string, qty int64) error
}

// Ledger is the append-only order store. Insert assigns timestamps.
type Ledger interface {
	Insert(ctx context.Context, o *Order) error
	Get(ctx context.Context, id string) (*Order, error)
	ListByCustomer(ctx context.Context, customerID string) ([]Order, error)
	UpdateStatus(ctx context.Context, id string, from, to Status) error
}

// TxWriter is the write surface available inside a transaction.
type TxWriter interface {
	ConditionalDecrement(ctx context.Context, id string, qty int64) (int64, error)
	Insert(ctx context.Context, o *Order) error
}

// Transactor runs fn so that every write made through the TxWriter commits
// or rolls back together. A non-nil error from fn rolls back.
type Transactor interface {
	InTx(ctx context.Context, fn func(tx TxWriter) error) error
}

// TxProber reports whether the current deployment can actually run
// transactions (a standalone node may expose the API but reject it).
type TxProber interface {
	SupportsTransactions(ctx context.Context) (bool, error)
}

// Catalog is implemented by stores that can list every product.
type Catalog interface {
	ListProducts(ctx context.Context) ([]Product, error)
}
