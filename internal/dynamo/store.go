// Package dynamo keeps inventory and orders in DynamoDB. Stock decrements are
// conditional updates and the atomic path commits with TransactWriteItems.
package dynamo

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ariefcatur/go-checkout-fulfillment/internal/awsx"
	"github.com/ariefcatur/go-checkout-fulfillment/internal/orders"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
)

const (
	CustomerIndex = "customer_id-created_at-index"

	intentKeyPrefix = "intent#"

	condStockAvailable = "attribute_exists(product_id) AND stock >= :qty"
	condProductExists  = "attribute_exists(product_id)"
	condOrderAbsent    = "attribute_not_exists(order_id)"
	condStatusIs       = "attribute_exists(order_id) AND #s = :from"

	updDecrement = "SET stock = stock - :qty"
	updIncrement = "ADD stock :qty"
	updStatus    = "SET #s = :to, updated_at = :ua"
)

type productRecord struct {
	ProductID  string `dynamodbav:"product_id"`
	Name       string `dynamodbav:"name"`
	PriceCents int64  `dynamodbav:"price_cents"`
	Stock      int64  `dynamodbav:"stock"`
}

type itemRecord struct {
	ProductID string `dynamodbav:"product_id"`
	Quantity  int    `dynamodbav:"qty"`
}

type orderRecord struct {
	OrderID          string                       `dynamodbav:"order_id"`
	CustomerID       string                       `dynamodbav:"customer_id"`
	Status           string                       `dynamodbav:"status"`
	ShippingMethod   string                       `dynamodbav:"shipping_method"`
	Items            []itemRecord                 `dynamodbav:"items"`
	SubtotalCents    int64                        `dynamodbav:"subtotal_cents"`
	ShippingFeeCents int64                        `dynamodbav:"shipping_fee_cents"`
	TotalCents       int64                        `dynamodbav:"total_cents"`
	Currency         string                       `dynamodbav:"currency"`
	Address          *orders.Address              `dynamodbav:"address,omitempty"`
	Payment          *orders.PaymentAuthorization `dynamodbav:"payment,omitempty"`
	Notes            string                       `dynamodbav:"notes,omitempty"`
	CreatedAt        string                       `dynamodbav:"created_at"`
	UpdatedAt        string                       `dynamodbav:"updated_at"`
}

// intentRecord reserves a payment intent id inside the orders table.
type intentRecord struct {
	OrderID   string `dynamodbav:"order_id"`
	ClaimedBy string `dynamodbav:"claimed_by"`
}

type Store struct {
	client        awsx.DynamoDBAPI
	productsTable string
	ordersTable   string
	nowFunc       func() time.Time
}

func NewStore(client awsx.DynamoDBAPI, productsTable, ordersTable string) *Store {
	return &Store{
		client:        client,
		productsTable: productsTable,
		ordersTable:   ordersTable,
		nowFunc:       time.Now,
	}
}

func (s *Store) PutProduct(ctx context.Context, p orders.Product) error {
	item, err := attributevalue.MarshalMap(productRecord{ProductID: p.ID, Name: p.Name, PriceCents: p.PriceCents, Stock: p.Stock})
	if err != nil {
		return fmt.Errorf("marshal product: %w", err)
	}
	if _, err := s.client.PutItem(ctx, &dyn.PutItemInput{TableName: &s.productsTable, Item: item}); err != nil {
		return fmt.Errorf("put product: %w", err)
	}
	return nil
}

func (s *Store) FindMany(ctx context.Context, ids []string) ([]orders.Product, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]map[string]types.AttributeValue, len(ids))
	for i, id := range ids {
		keys[i] = productKey(id)
	}

	var out []orders.Product
	req := map[string]types.KeysAndAttributes{s.productsTable: {Keys: keys}}
	for len(req) > 0 {
		res, err := s.client.BatchGetItem(ctx, &dyn.BatchGetItemInput{RequestItems: req})
		if err != nil {
			return nil, fmt.Errorf("batch get products: %w", err)
		}
		for _, item := range res.Responses[s.productsTable] {
			var r productRecord
			if err := attributevalue.UnmarshalMap(item, &r); err != nil {
				return nil, fmt.Errorf("unmarshal product: %w", err)
			}
			out = append(out, r.toProduct())
		}
		req = res.UnprocessedKeys
	}
	return out, nil
}

func (s *Store) ListProducts(ctx context.Context) ([]orders.Product, error) {
	var (
		out   []orders.Product
		start map[string]types.AttributeValue
	)
	for {
		res, err := s.client.Scan(ctx, &dyn.ScanInput{TableName: &s.productsTable, ExclusiveStartKey: start})
		if err != nil {
			return nil, fmt.Errorf("scan products: %w", err)
		}
		for _, item := range res.Items {
			var r productRecord
			if err := attributevalue.UnmarshalMap(item, &r); err != nil {
				return nil, fmt.Errorf("unmarshal product: %w", err)
			}
			out = append(out, r.toProduct())
		}
		if len(res.LastEvaluatedKey) == 0 {
			break
		}
		start = res.LastEvaluatedKey
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) ConditionalDecrement(ctx context.Context, id string, qty int64) (int64, error) {
	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:                 &s.productsTable,
		Key:                       productKey(id),
		UpdateExpression:          aws.String(updDecrement),
		ConditionExpression:       aws.String(condStockAvailable),
		ExpressionAttributeValues: map[string]types.AttributeValue{":qty": number(qty)},
	})
	if err != nil {
		if conditionFailed(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("decrement %s: %w", id, err)
	}
	return 1, nil
}

func (s *Store) Increment(ctx context.Context, id string, qty int64) error {
	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:                 &s.productsTable,
		Key:                       productKey(id),
		UpdateExpression:          aws.String(updIncrement),
		ConditionExpression:       aws.String(condProductExists),
		ExpressionAttributeValues: map[string]types.AttributeValue{":qty": number(qty)},
	})
	if err != nil {
		if conditionFailed(err) {
			return fmt.Errorf("%w: %s", orders.ErrProductNotFound, id)
		}
		return fmt.Errorf("increment %s: %w", id, err)
	}
	return nil
}

// Insert writes the order, plus its intent reservation when it carries a
// payment, in one TransactWriteItems call.
func (s *Store) Insert(ctx context.Context, o *orders.Order) error {
	w := &txWriter{s: s}
	if err := w.Insert(ctx, o); err != nil {
		return err
	}
	return w.commit(ctx)
}

func (s *Store) Get(ctx context.Context, id string) (*orders.Order, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{TableName: &s.ordersTable, Key: orderKey(id)})
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	if len(out.Item) == 0 || isIntentKey(id) {
		return nil, fmt.Errorf("%w: %s", orders.ErrOrderNotFound, id)
	}
	var r orderRecord
	if err := attributevalue.UnmarshalMap(out.Item, &r); err != nil {
		return nil, fmt.Errorf("unmarshal order: %w", err)
	}
	return r.toOrder(), nil
}

func (s *Store) ListByCustomer(ctx context.Context, customerID string) ([]orders.Order, error) {
	var (
		out   []orders.Order
		start map[string]types.AttributeValue
	)
	for {
		res, err := s.client.Query(ctx, &dyn.QueryInput{
			TableName:                 &s.ordersTable,
			IndexName:                 aws.String(CustomerIndex),
			KeyConditionExpression:    aws.String("customer_id = :c"),
			ExpressionAttributeValues: map[string]types.AttributeValue{":c": &types.AttributeValueMemberS{Value: customerID}},
			ScanIndexForward:          aws.Bool(false),
			ExclusiveStartKey:         start,
		})
		if err != nil {
			return nil, fmt.Errorf("query orders: %w", err)
		}
		for _, item := range res.Items {
			var r orderRecord
			if err := attributevalue.UnmarshalMap(item, &r); err != nil {
				return nil, fmt.Errorf("unmarshal order: %w", err)
			}
			out = append(out, *r.toOrder())
		}
		if len(res.LastEvaluatedKey) == 0 {
			return out, nil
		}
		start = res.LastEvaluatedKey
	}
}

func (s *Store) UpdateStatus(ctx context.Context, id string, from, to orders.Status) error {
	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:                &s.ordersTable,
		Key:                      orderKey(id),
		UpdateExpression:         aws.String(updStatus),
		ConditionExpression:      aws.String(condStatusIs),
		ExpressionAttributeNames: map[string]string{"#s": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":from": &types.AttributeValueMemberS{Value: string(from)},
			":to":   &types.AttributeValueMemberS{Value: string(to)},
			":ua":   &types.AttributeValueMemberS{Value: s.timestamp()},
		},
	})
	if err == nil {
		return nil
	}
	if !conditionFailed(err) {
		return fmt.Errorf("update status: %w", err)
	}
	cur, gerr := s.Get(ctx, id)
	if gerr != nil {
		return gerr
	}
	return fmt.Errorf("%w: order %s is %s, not %s", orders.ErrInvalidTransition, id, cur.Status, from)
}

// SupportsTransactions is always true; DynamoDB transactions need no setup.
func (s *Store) SupportsTransactions(context.Context) (bool, error) { return true, nil }

// InTx buffers the writes made by fn and commits them as one
// TransactWriteItems call. A decrement reports success when buffered; a
// failed stock condition at commit surfaces as orders.ErrStockConflict.
func (s *Store) InTx(ctx context.Context, fn func(tx orders.TxWriter) error) error {
	w := &txWriter{s: s}
	if err := fn(w); err != nil {
		return err
	}
	return w.commit(ctx)
}

type opKind int

const (
	opStock opKind = iota
	opOrder
	opIntent
)

type txWriter struct {
	s     *Store
	items []types.TransactWriteItem
	kinds []opKind
	refs  []string
	// decrements merged per product; one transaction may touch an item once.
	stockAt map[string]int
	qty     map[string]int64
}

func (w *txWriter) ConditionalDecrement(ctx context.Context, id string, qty int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if w.stockAt == nil {
		w.stockAt, w.qty = map[string]int{}, map[string]int64{}
	}
	w.qty[id] += qty
	update := &types.Update{
		TableName:                 &w.s.productsTable,
		Key:                       productKey(id),
		UpdateExpression:          aws.String(updDecrement),
		ConditionExpression:       aws.String(condStockAvailable),
		ExpressionAttributeValues: map[string]types.AttributeValue{":qty": number(w.qty[id])},
	}
	if i, ok := w.stockAt[id]; ok {
		w.items[i].Update = update
		return 1, nil
	}
	w.stockAt[id] = len(w.items)
	w.add(types.TransactWriteItem{Update: update}, opStock, id)
	return 1, nil
}

func (w *txWriter) Insert(ctx context.Context, o *orders.Order) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ts := w.s.timestamp()
	rec := newOrderRecord(o, ts)
	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return fmt.Errorf("marshal order: %w", err)
	}
	w.add(types.TransactWriteItem{Put: &types.Put{
		TableName:           &w.s.ordersTable,
		Item:                item,
		ConditionExpression: aws.String(condOrderAbsent),
	}}, opOrder, o.ID)

	if o.Payment != nil && o.Payment.IntentID != "" {
		guard, err := attributevalue.MarshalMap(intentRecord{OrderID: intentKeyPrefix + o.Payment.IntentID, ClaimedBy: o.ID})
		if err != nil {
			return fmt.Errorf("marshal intent: %w", err)
		}
		w.add(types.TransactWriteItem{Put: &types.Put{
			TableName:           &w.s.ordersTable,
			Item:                guard,
			ConditionExpression: aws.String(condOrderAbsent),
		}}, opIntent, o.Payment.IntentID)
	}

	t, _ := time.Parse(time.RFC3339Nano, ts)
	o.CreatedAt, o.UpdatedAt = t, t
	return nil
}

func (w *txWriter) add(item types.TransactWriteItem, kind opKind, ref string) {
	w.items = append(w.items, item)
	w.kinds = append(w.kinds, kind)
	w.refs = append(w.refs, ref)
}

func (w *txWriter) commit(ctx context.Context) error {
	if len(w.items) == 0 {
		return nil
	}
	_, err := w.s.client.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{TransactItems: w.items})
	if err == nil {
		return nil
	}
	var tce *types.TransactionCanceledException
	if !errors.As(err, &tce) {
		return fmt.Errorf("transact write: %w", err)
	}
	for i, reason := range tce.CancellationReasons {
		if i >= len(w.kinds) || aws.ToString(reason.Code) != "ConditionalCheckFailed" {
			continue
		}
		switch w.kinds[i] {
		case opStock:
			return fmt.Errorf("%w: product %s", orders.ErrStockConflict, w.refs[i])
		case opIntent:
			return fmt.Errorf("%w: intent %s", orders.ErrPaymentAlreadyUsed, w.refs[i])
		case opOrder:
			return fmt.Errorf("order %s already exists: %w", w.refs[i], err)
		}
	}
	return fmt.Errorf("transaction canceled: %w", err)
}

func (s *Store) timestamp() string {
	return s.nowFunc().UTC().Format(time.RFC3339Nano)
}

func newOrderRecord(o *orders.Order, ts string) orderRecord {
	items := make([]itemRecord, len(o.Items))
	for i, it := range o.Items {
		items[i] = itemRecord{ProductID: it.ProductID, Quantity: it.Quantity}
	}
	return orderRecord{
		OrderID:          o.ID,
		CustomerID:       o.CustomerID,
		Status:           string(o.Status),
		ShippingMethod:   string(o.ShippingMethod),
		Items:            items,
		SubtotalCents:    o.SubtotalCents,
		ShippingFeeCents: o.ShippingFeeCents,
		TotalCents:       o.TotalCents,
		Currency:         o.Currency,
		Address:          o.Address,
		Payment:          o.Payment,
		Notes:            o.Notes,
		CreatedAt:        ts,
		UpdatedAt:        ts,
	}
}

func (r orderRecord) toOrder() *orders.Order {
	items := make([]orders.LineItem, len(r.Items))
	for i, it := range r.Items {
		items[i] = orders.LineItem{ProductID: it.ProductID, Quantity: it.Quantity}
	}
	created, _ := time.Parse(time.RFC3339Nano, r.CreatedAt)
	updated, _ := time.Parse(time.RFC3339Nano, r.UpdatedAt)
	return &orders.Order{
		ID:               r.OrderID,
		CustomerID:       r.CustomerID,
		Items:            items,
		SubtotalCents:    r.SubtotalCents,
		ShippingFeeCents: r.ShippingFeeCents,
		TotalCents:       r.TotalCents,
		Currency:         r.Currency,
		Status:           orders.Status(r.Status),
		ShippingMethod:   orders.ShippingMethod(r.ShippingMethod),
		Address:          r.Address,
		Payment:          r.Payment,
		Notes:            r.Notes,
		CreatedAt:        created,
		UpdatedAt:        updated,
	}
}

func (r productRecord) toProduct() orders.Product {
	return orders.Product{ID: r.ProductID, Name: r.Name, PriceCents: r.PriceCents, Stock: r.Stock}
}

func productKey(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{"product_id": &types.AttributeValueMemberS{Value: id}}
}

func orderKey(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{"order_id": &types.AttributeValueMemberS{Value: id}}
}

func number(n int64) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(n, 10)}
}

func conditionFailed(err error) bool {
	var ae smithy.APIError
	return errors.As(err, &ae) && ae.ErrorCode() == "ConditionalCheckFailedException"
}

func isIntentKey(id string) bool {
	return strings.HasPrefix(id, intentKeyPrefix)
}
