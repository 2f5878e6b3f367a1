package dynamo

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// mockDynamo is a small in-memory DynamoDB that understands exactly the
// expressions the store sends. Items are kept per table by primary key.
type mockDynamo struct {
	mu     sync.Mutex
	tables map[string]map[string]map[string]types.AttributeValue

	transactCalls int
}

func newMockDynamo() *mockDynamo {
	return &mockDynamo{tables: map[string]map[string]map[string]types.AttributeValue{}}
}

func (m *mockDynamo) table(name string) map[string]map[string]types.AttributeValue {
	if _, ok := m.tables[name]; !ok {
		m.tables[name] = map[string]map[string]types.AttributeValue{}
	}
	return m.tables[name]
}

func pk(key map[string]types.AttributeValue) (string, error) {
	for _, attr := range []string{"product_id", "order_id"} {
		if v, ok := key[attr]; ok {
			return v.(*types.AttributeValueMemberS).Value, nil
		}
	}
	return "", errors.New("no primary key")
}

func str(v types.AttributeValue) string {
	if s, ok := v.(*types.AttributeValueMemberS); ok {
		return s.Value
	}
	return ""
}

func num(v types.AttributeValue) int64 {
	if n, ok := v.(*types.AttributeValueMemberN); ok {
		i, _ := strconv.ParseInt(n.Value, 10, 64)
		return i
	}
	return 0
}

func copyItem(item map[string]types.AttributeValue) map[string]types.AttributeValue {
	out := make(map[string]types.AttributeValue, len(item))
	for k, v := range item {
		out[k] = v
	}
	return out
}

func check(cond *string, item, vals map[string]types.AttributeValue) bool {
	switch aws.ToString(cond) {
	case "":
		return true
	case condStockAvailable:
		return item != nil && num(item["stock"]) >= num(vals[":qty"])
	case condProductExists:
		return item != nil
	case condOrderAbsent:
		return item == nil
	case condStatusIs:
		return item != nil && str(item["status"]) == str(vals[":from"])
	}
	panic("unexpected condition " + aws.ToString(cond))
}

func apply(update string, item, vals map[string]types.AttributeValue) map[string]types.AttributeValue {
	out := copyItem(item)
	switch update {
	case updDecrement:
		out["stock"] = number(num(item["stock"]) - num(vals[":qty"]))
	case updIncrement:
		out["stock"] = number(num(item["stock"]) + num(vals[":qty"]))
	case updStatus:
		out["status"] = vals[":to"]
		out["updated_at"] = vals[":ua"]
	default:
		panic("unexpected update " + update)
	}
	return out
}

func (m *mockDynamo) PutItem(_ context.Context, in *dyn.PutItemInput, _ ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, err := pk(in.Item)
	if err != nil {
		return nil, err
	}
	t := m.table(*in.TableName)
	if !check(in.ConditionExpression, t[k], in.ExpressionAttributeValues) {
		return nil, &types.ConditionalCheckFailedException{}
	}
	t[k] = copyItem(in.Item)
	return &dyn.PutItemOutput{}, nil
}

func (m *mockDynamo) GetItem(_ context.Context, in *dyn.GetItemInput, _ ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, err := pk(in.Key)
	if err != nil {
		return nil, err
	}
	item, ok := m.table(*in.TableName)[k]
	if !ok {
		return &dyn.GetItemOutput{}, nil
	}
	return &dyn.GetItemOutput{Item: copyItem(item)}, nil
}

func (m *mockDynamo) UpdateItem(_ context.Context, in *dyn.UpdateItemInput, _ ...func(*dyn.Options)) (*dyn.UpdateItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, err := pk(in.Key)
	if err != nil {
		return nil, err
	}
	t := m.table(*in.TableName)
	if !check(in.ConditionExpression, t[k], in.ExpressionAttributeValues) {
		return nil, &types.ConditionalCheckFailedException{}
	}
	t[k] = apply(aws.ToString(in.UpdateExpression), t[k], in.ExpressionAttributeValues)
	return &dyn.UpdateItemOutput{}, nil
}

// Query only serves the customer index.
func (m *mockDynamo) Query(_ context.Context, in *dyn.QueryInput, _ ...func(*dyn.Options)) (*dyn.QueryOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if aws.ToString(in.IndexName) != CustomerIndex {
		return nil, errors.New("unknown index")
	}
	customer := str(in.ExpressionAttributeValues[":c"])
	var items []map[string]types.AttributeValue
	for _, item := range m.table(*in.TableName) {
		if c, ok := item["customer_id"]; ok && str(c) == customer {
			items = append(items, copyItem(item))
		}
	}
	sort.Slice(items, func(i, j int) bool {
		a, b := str(items[i]["created_at"]), str(items[j]["created_at"])
		if aws.ToBool(in.ScanIndexForward) {
			return a < b
		}
		return a > b
	})
	return &dyn.QueryOutput{Items: items}, nil
}

func (m *mockDynamo) Scan(_ context.Context, in *dyn.ScanInput, _ ...func(*dyn.Options)) (*dyn.ScanOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var items []map[string]types.AttributeValue
	for _, item := range m.table(*in.TableName) {
		items = append(items, copyItem(item))
	}
	return &dyn.ScanOutput{Items: items}, nil
}

func (m *mockDynamo) BatchGetItem(_ context.Context, in *dyn.BatchGetItemInput, _ ...func(*dyn.Options)) (*dyn.BatchGetItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := &dyn.BatchGetItemOutput{Responses: map[string][]map[string]types.AttributeValue{}}
	for table, ka := range in.RequestItems {
		for _, key := range ka.Keys {
			k, err := pk(key)
			if err != nil {
				return nil, err
			}
			if item, ok := m.table(table)[k]; ok {
				out.Responses[table] = append(out.Responses[table], copyItem(item))
			}
		}
	}
	return out, nil
}

func (m *mockDynamo) TransactWriteItems(_ context.Context, in *dyn.TransactWriteItemsInput, _ ...func(*dyn.Options)) (*dyn.TransactWriteItemsOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transactCalls++

	reasons := make([]types.CancellationReason, len(in.TransactItems))
	failed := false
	for i, it := range in.TransactItems {
		reasons[i].Code = aws.String("None")
		var ok bool
		switch {
		case it.Put != nil:
			k, err := pk(it.Put.Item)
			if err != nil {
				return nil, err
			}
			ok = check(it.Put.ConditionExpression, m.table(*it.Put.TableName)[k], it.Put.ExpressionAttributeValues)
		case it.Update != nil:
			k, err := pk(it.Update.Key)
			if err != nil {
				return nil, err
			}
			ok = check(it.Update.ConditionExpression, m.table(*it.Update.TableName)[k], it.Update.ExpressionAttributeValues)
		}
		if !ok {
			reasons[i].Code = aws.String("ConditionalCheckFailed")
			failed = true
		}
	}
	if failed {
		return nil, &types.TransactionCanceledException{CancellationReasons: reasons}
	}

	for _, it := range in.TransactItems {
		switch {
		case it.Put != nil:
			k, _ := pk(it.Put.Item)
			m.table(*it.Put.TableName)[k] = copyItem(it.Put.Item)
		case it.Update != nil:
			k, _ := pk(it.Update.Key)
			t := m.table(*it.Update.TableName)
			t[k] = apply(aws.ToString(it.Update.UpdateExpression), t[k], it.Update.ExpressionAttributeValues)
		}
	}
	return &dyn.TransactWriteItemsOutput{}, nil
}
