// Package memstore is an embedded inventory and order ledger.
//
// Stock counters and orders live in one arena guarded by a mutex, which makes
// the conditional decrement atomic. Transactions can be disabled to behave
// like a standalone node that rejects multi-statement work.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ariefcatur/go-checkout-fulfillment/internal/orders"
	"github.com/google/uuid"
)

type Store struct {
	mu         sync.Mutex
	products   map[string]orders.Product
	orders     map[string]orders.Order
	byCustomer map[string][]string
	intents    map[string]string // payment intent id -> order id

	transactions bool
	now          func() time.Time
}

type Option func(*Store)

// WithTransactions toggles InTx support. Enabled by default.
func WithTransactions(enabled bool) Option {
	return func(s *Store) { s.transactions = enabled }
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func New(opts ...Option) *Store {
	s := &Store{
		products:     map[string]orders.Product{},
		orders:       map[string]orders.Order{},
		byCustomer:   map[string][]string{},
		intents:      map[string]string{},
		transactions: true,
		now:          time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Seed inserts or replaces products.
func (s *Store) Seed(products ...orders.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range products {
		s.products[p.ID] = p
	}
}

// Stock returns the current stock of id, or -1 when it does not exist.
func (s *Store) Stock(id string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	if !ok {
		return -1
	}
	return p.Stock
}

func (s *Store) OrderCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.orders)
}

func (s *Store) FindMany(ctx context.Context, ids []string) ([]orders.Product, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]orders.Product, 0, len(ids))
	for _, id := range ids {
		if p, ok := s.products[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *Store) ListProducts(ctx context.Context) ([]orders.Product, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]orders.Product, 0, len(s.products))
	for _, p := range s.products {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) ConditionalDecrement(ctx context.Context, id string, qty int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.decrementLocked(id, qty), nil
}

func (s *Store) Increment(ctx context.Context, id string, qty int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.incrementLocked(id, qty)
}

func (s *Store) Insert(ctx context.Context, o *orders.Order) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.insertLocked(o)
	return err
}

func (s *Store) Get(ctx context.Context, id string) (*orders.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", orders.ErrOrderNotFound, id)
	}
	c := cloneOrder(o)
	return &c, nil
}

func (s *Store) ListByCustomer(ctx context.Context, customerID string) ([]orders.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := s.byCustomer[customerID]
	out := make([]orders.Order, 0, len(ids))
	// newest first
	for i := len(ids) - 1; i >= 0; i-- {
		out = append(out, cloneOrder(s.orders[ids[i]]))
	}
	return out, nil
}

func (s *Store) UpdateStatus(ctx context.Context, id string, from, to orders.Status) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return fmt.Errorf("%w: %s", orders.ErrOrderNotFound, id)
	}
	if o.Status != from {
		return fmt.Errorf("%w: order %s is %s, not %s", orders.ErrInvalidTransition, id, o.Status, from)
	}
	o.Status = to
	o.UpdatedAt = s.now().UTC()
	s.orders[id] = o
	return nil
}

func (s *Store) SupportsTransactions(context.Context) (bool, error) {
	return s.transactions, nil
}

// InTx holds the arena lock for the whole of fn and replays an undo journal
// when fn fails.
func (s *Store) InTx(ctx context.Context, fn func(tx orders.TxWriter) error) error {
	if !s.transactions {
		return orders.ErrTxUnsupported
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{s: s}
	if err := fn(tx); err != nil {
		tx.rollback()
		return err
	}
	if err := ctx.Err(); err != nil {
		tx.rollback()
		return err
	}
	return nil
}

func (s *Store) decrementLocked(id string, qty int64) int64 {
	p, ok := s.products[id]
	if !ok || qty <= 0 || p.Stock < qty {
		return 0
	}
	p.Stock -= qty
	s.products[id] = p
	return 1
}

func (s *Store) incrementLocked(id string, qty int64) error {
	p, ok := s.products[id]
	if !ok {
		return fmt.Errorf("%w: %s", orders.ErrProductNotFound, id)
	}
	p.Stock += qty
	s.products[id] = p
	return nil
}

func (s *Store) insertLocked(o *orders.Order) (func(), error) {
	if o.Payment != nil && o.Payment.IntentID != "" {
		if _, used := s.intents[o.Payment.IntentID]; used {
			return nil, fmt.Errorf("%w: intent %s", orders.ErrPaymentAlreadyUsed, o.Payment.IntentID)
		}
	}
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	if _, exists := s.orders[o.ID]; exists {
		return nil, fmt.Errorf("order %s already exists", o.ID)
	}
	now := s.now().UTC()
	o.CreatedAt, o.UpdatedAt = now, now

	s.orders[o.ID] = cloneOrder(*o)
	s.byCustomer[o.CustomerID] = append(s.byCustomer[o.CustomerID], o.ID)
	if o.Payment != nil && o.Payment.IntentID != "" {
		s.intents[o.Payment.IntentID] = o.ID
	}

	id, customer := o.ID, o.CustomerID
	undo := func() {
		if o.Payment != nil {
			delete(s.intents, o.Payment.IntentID)
		}
		delete(s.orders, id)
		ids := s.byCustomer[customer]
		s.byCustomer[customer] = ids[:len(ids)-1]
	}
	return undo, nil
}

type memTx struct {
	s    *Store
	undo []func()
}

func (t *memTx) ConditionalDecrement(ctx context.Context, id string, qty int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	n := t.s.decrementLocked(id, qty)
	if n == 1 {
		t.undo = append(t.undo, func() { _ = t.s.incrementLocked(id, qty) })
	}
	return n, nil
}

func (t *memTx) Insert(ctx context.Context, o *orders.Order) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	undo, err := t.s.insertLocked(o)
	if err != nil {
		return err
	}
	t.undo = append(t.undo, undo)
	return nil
}

func (t *memTx) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

func cloneOrder(o orders.Order) orders.Order {
	c := o
	c.Items = append([]orders.LineItem(nil), o.Items...)
	if o.Address != nil {
		a := *o.Address
		c.Address = &a
	}
	if o.Payment != nil {
		p := *o.Payment
		c.Payment = &p
	}
	return c
}
