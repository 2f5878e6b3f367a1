package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/go-checkout-fulfillment/internal/orders"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	codeUniqueViolation     = "23505"
	codeFeatureNotSupported = "0A000"

	intentConstraint = "orders_payment_intent_id_key"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store is the inventory and the order ledger on one database, so it can run
// the whole fulfilment in a single transaction.
type Store struct{ DB *pgxpool.Pool }

func NewStore(db *pgxpool.Pool) *Store { return &Store{DB: db} }

func (s *Store) FindMany(ctx context.Context, ids []string) ([]orders.Product, error) {
	rows, err := s.DB.Query(ctx, `SELECT id, name, price_cents, stock FROM products WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]orders.Product, 0, len(ids))
	for rows.Next() {
		var p orders.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.PriceCents, &p.Stock); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) ListProducts(ctx context.Context) ([]orders.Product, error) {
	rows, err := s.DB.Query(ctx, `SELECT id, name, price_cents, stock FROM products ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []orders.Product
	for rows.Next() {
		var p orders.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.PriceCents, &p.Stock); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) ConditionalDecrement(ctx context.Context, id string, qty int64) (int64, error) {
	return decrement(ctx, s.DB, id, qty)
}

func (s *Store) Increment(ctx context.Context, id string, qty int64) error {
	ct, err := s.DB.Exec(ctx, `UPDATE products SET stock = stock + $2, updated_at = now() WHERE id = $1`, id, qty)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return fmt.Errorf("%w: %s", orders.ErrProductNotFound, id)
	}
	return nil
}

func (s *Store) Insert(ctx context.Context, o *orders.Order) error {
	return insert(ctx, s.DB, o)
}

func (s *Store) Get(ctx context.Context, id string) (*orders.Order, error) {
	row := s.DB.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
	o, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", orders.ErrOrderNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	items, err := s.items(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	o.Items = items[id]
	return o, nil
}

func (s *Store) ListByCustomer(ctx context.Context, customerID string) ([]orders.Order, error) {
	rows, err := s.DB.Query(ctx, `SELECT `+orderColumns+` FROM orders WHERE customer_id = $1 ORDER BY created_at DESC`, customerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var (
		out []orders.Order
		ids []string
	)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
		ids = append(ids, o.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return out, nil
	}

	items, err := s.items(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Items = items[out[i].ID]
	}
	return out, nil
}

func (s *Store) UpdateStatus(ctx context.Context, id string, from, to orders.Status) error {
	ct, err := s.DB.Exec(ctx, `UPDATE orders SET status = $3, updated_at = now() WHERE id = $1 AND status = $2`, id, string(from), string(to))
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 1 {
		return nil
	}

	var current string
	err = s.DB.QueryRow(ctx, `SELECT status FROM orders WHERE id = $1`, id).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s", orders.ErrOrderNotFound, id)
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: order %s is %s, not %s", orders.ErrInvalidTransition, id, current, from)
}

// SupportsTransactions opens and rolls back an empty transaction.
func (s *Store) SupportsTransactions(ctx context.Context) (bool, error) {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		if isCode(err, codeFeatureNotSupported) {
			return false, nil
		}
		return false, err
	}
	return true, tx.Rollback(ctx)
}

func (s *Store) InTx(ctx context.Context, fn func(tx orders.TxWriter) error) error {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		if isCode(err, codeFeatureNotSupported) {
			return orders.ErrTxUnsupported
		}
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(txWriter{tx: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

type txWriter struct{ tx pgx.Tx }

func (w txWriter) ConditionalDecrement(ctx context.Context, id string, qty int64) (int64, error) {
	return decrement(ctx, w.tx, id, qty)
}

func (w txWriter) Insert(ctx context.Context, o *orders.Order) error {
	return insert(ctx, w.tx, o)
}

// decrement never lets stock go negative: the guard and the write are one statement.
func decrement(ctx context.Context, q querier, id string, qty int64) (int64, error) {
	ct, err := q.Exec(ctx, `UPDATE products SET stock = stock - $2, updated_at = now() WHERE id = $1 AND stock >= $2`, id, qty)
	if err != nil {
		return 0, err
	}
	return ct.RowsAffected(), nil
}

// insert writes the order header and its lines in a single statement so it
// needs no surrounding transaction on the fallback path.
func insert(ctx context.Context, q querier, o *orders.Order) error {
	var addr []byte
	if o.Address != nil {
		b, err := json.Marshal(o.Address)
		if err != nil {
			return err
		}
		addr = b
	}
	var (
		processor, intentID, payCurrency, payStatus *string
		payAmount                                   *int64
	)
	if p := o.Payment; p != nil {
		processor, intentID, payCurrency, payStatus = &p.Processor, &p.IntentID, &p.Currency, &p.Status
		payAmount = &p.AmountCents
	}

	lineNos := make([]int32, len(o.Items))
	productIDs := make([]string, len(o.Items))
	qtys := make([]int64, len(o.Items))
	for i, it := range o.Items {
		lineNos[i] = int32(i + 1)
		productIDs[i] = it.ProductID
		qtys[i] = int64(it.Quantity)
	}

	now := time.Now().UTC()
	_, err := q.Exec(ctx, `
		WITH o AS (
			INSERT INTO orders(id, customer_id, status, shipping_method, subtotal_cents, shipping_fee_cents,
			                   total_cents, currency, address, notes, payment_processor, payment_intent_id,
			                   payment_amount_cents, payment_currency, payment_status, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$16)
			RETURNING id
		)
		INSERT INTO order_items(order_id, line_no, product_id, qty)
		SELECT o.id, l.line_no, l.product_id, l.qty
		FROM o, unnest($17::int[], $18::text[], $19::bigint[]) AS l(line_no, product_id, qty)`,
		o.ID, o.CustomerID, string(o.Status), string(o.ShippingMethod), o.SubtotalCents, o.ShippingFeeCents,
		o.TotalCents, o.Currency, addr, o.Notes, processor, intentID,
		payAmount, payCurrency, payStatus, now,
		lineNos, productIDs, qtys,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation && pgErr.ConstraintName == intentConstraint {
			return fmt.Errorf("%w: intent %s", orders.ErrPaymentAlreadyUsed, *intentID)
		}
		return err
	}
	o.CreatedAt, o.UpdatedAt = now, now
	return nil
}

const orderColumns = `id, customer_id, status, shipping_method, subtotal_cents, shipping_fee_cents, total_cents,
	currency, address, notes, payment_processor, payment_intent_id, payment_amount_cents, payment_currency,
	payment_status, created_at, updated_at`

func scanOrder(row pgx.Row) (*orders.Order, error) {
	var (
		o                                           orders.Order
		status, method                              string
		addr                                        []byte
		processor, intentID, payCurrency, payStatus *string
		payAmount                                   *int64
	)
	err := row.Scan(&o.ID, &o.CustomerID, &status, &method, &o.SubtotalCents, &o.ShippingFeeCents, &o.TotalCents,
		&o.Currency, &addr, &o.Notes, &processor, &intentID, &payAmount, &payCurrency,
		&payStatus, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	o.Status = orders.Status(status)
	o.ShippingMethod = orders.ShippingMethod(method)
	if len(addr) > 0 {
		o.Address = &orders.Address{}
		if err := json.Unmarshal(addr, o.Address); err != nil {
			return nil, fmt.Errorf("decode address of order %s: %w", o.ID, err)
		}
	}
	if intentID != nil {
		o.Payment = &orders.PaymentAuthorization{IntentID: *intentID}
		if processor != nil {
			o.Payment.Processor = *processor
		}
		if payAmount != nil {
			o.Payment.AmountCents = *payAmount
		}
		if payCurrency != nil {
			o.Payment.Currency = *payCurrency
		}
		if payStatus != nil {
			o.Payment.Status = *payStatus
		}
	}
	return &o, nil
}

func (s *Store) items(ctx context.Context, orderIDs []string) (map[string][]orders.LineItem, error) {
	rows, err := s.DB.Query(ctx, `SELECT order_id, product_id, qty FROM order_items WHERE order_id = ANY($1) ORDER BY order_id, line_no`, orderIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string][]orders.LineItem, len(orderIDs))
	for rows.Next() {
		var (
			orderID string
			it      orders.LineItem
			qty     int64
		)
		if err := rows.Scan(&orderID, &it.ProductID, &qty); err != nil {
			return nil, err
		}
		it.Quantity = int(qty)
		out[orderID] = append(out[orderID], it)
	}
	return out, rows.Err()
}

func isCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}
