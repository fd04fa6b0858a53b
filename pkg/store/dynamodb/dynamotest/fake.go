// Package dynamotest provides an in-memory DynamoDB client for tests.
//
// It supports the expression shapes used by the table repository: single comparisons
// "#name <op> :value" for key conditions and filters, "SET #a = :a, ..." updates and
// "attribute_exists(#name)" conditions. Scan and Query honour Limit, ExclusiveStartKey
// and LastEvaluatedKey with items ordered by hash then range key.
package dynamotest

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
)

// Item is a stored DynamoDB item.
type Item = map[string]types.AttributeValue

type table struct {
	hashKey     string
	rangeKey    string
	items       map[string]Item
	deletingFor int
}

// Fake is an in-memory DynamoDB client. Call New to construct one.
type Fake struct {
	mu     sync.Mutex
	tables map[string]*table
	calls  map[string]int
	sizes  []int

	// PageSize caps items evaluated per Scan/Query page when the request sets no Limit.
	PageSize int
	// OnTransact, when set, runs before a transaction is applied and may reject it.
	OnTransact func(items []types.TransactWriteItem) error
}

// New returns an empty fake.
func New() *Fake {
	return &Fake{tables: map[string]*table{}, calls: map[string]int{}}
}

// AddTable creates an ACTIVE table keyed by PartitionKey/RowKey.
func (f *Fake) AddTable(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tables[name] = &table{hashKey: "PartitionKey", rangeKey: "RowKey", items: map[string]Item{}}
}

// MarkDeleting makes name report DELETING for the next describeCalls DescribeTable
// calls, after which the table disappears.
func (f *Fake) MarkDeleting(name string, describeCalls int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t, ok := f.tables[name]; ok {
		t.deletingFor = describeCalls
	}
}

// HasTable reports whether name exists.
func (f *Fake) HasTable(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.tables[name]
	return ok
}

// ItemCount returns the number of items stored in name.
func (f *Fake) ItemCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t, ok := f.tables[name]; ok {
		return len(t.items)
	}
	return 0
}

// Calls returns how many times the named API operation was invoked.
func (f *Fake) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// TransactionSizes returns the item count of every applied or attempted transaction.
func (f *Fake) TransactionSizes() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.sizes...)
}

func notFound(name string) error {
	return &types.ResourceNotFoundException{Message: aws.String("Requested resource not found: Table: " + name + " not found")}
}

func validation(msg string) error {
	return &smithy.GenericAPIError{Code: "ValidationException", Message: msg, Fault: smithy.FaultClient}
}

func (f *Fake) table(name *string) (*table, error) {
	t, ok := f.tables[aws.ToString(name)]
	if !ok || t.deletingFor > 0 {
		return nil, notFound(aws.ToString(name))
	}
	return t, nil
}

func stringValue(av types.AttributeValue) (string, bool) {
	s, ok := av.(*types.AttributeValueMemberS)
	if !ok {
		return "", false
	}
	return s.Value, true
}

func (t *table) keyOf(item Item) (string, error) {
	pk, ok := stringValue(item[t.hashKey])
	if !ok || pk == "" {
		return "", validation("missing or empty hash key " + t.hashKey)
	}
	rk, ok := stringValue(item[t.rangeKey])
	if !ok || rk == "" {
		return "", validation("missing or empty range key " + t.rangeKey)
	}
	return pk + "\x00" + rk, nil
}

func (t *table) keyAttributes(item Item) Item {
	return Item{t.hashKey: item[t.hashKey], t.rangeKey: item[t.rangeKey]}
}

func cloneItem(item Item) Item {
	out := make(Item, len(item))
	for k, v := range item {
		out[k] = v
	}
	return out
}

func (f *Fake) ListTables(_ context.Context, _ *dynamodb.ListTablesInput, _ ...func(*dynamodb.Options)) (*dynamodb.ListTablesOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["ListTables"]++
	names := make([]string, 0, len(f.tables))
	for name := range f.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return &dynamodb.ListTablesOutput{TableNames: names}, nil
}

func (f *Fake) CreateTable(_ context.Context, in *dynamodb.CreateTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["CreateTable"]++
	name := aws.ToString(in.TableName)
	if _, ok := f.tables[name]; ok {
		return nil, &types.ResourceInUseException{Message: aws.String("Table already exists: " + name)}
	}
	t := &table{items: map[string]Item{}}
	for _, k := range in.KeySchema {
		switch k.KeyType {
		case types.KeyTypeHash:
			t.hashKey = aws.ToString(k.AttributeName)
		case types.KeyTypeRange:
			t.rangeKey = aws.ToString(k.AttributeName)
		}
	}
	if t.hashKey == "" || t.rangeKey == "" {
		return nil, validation("fake tables need a hash and a range key")
	}
	f.tables[name] = t
	return &dynamodb.CreateTableOutput{TableDescription: &types.TableDescription{
		TableName:   aws.String(name),
		TableStatus: types.TableStatusActive,
	}}, nil
}

func (f *Fake) DescribeTable(_ context.Context, in *dynamodb.DescribeTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["DescribeTable"]++
	name := aws.ToString(in.TableName)
	t, ok := f.tables[name]
	if !ok {
		return nil, notFound(name)
	}
	status := types.TableStatusActive
	if t.deletingFor > 0 {
		status = types.TableStatusDeleting
		t.deletingFor--
		if t.deletingFor == 0 {
			delete(f.tables, name)
		}
	}
	return &dynamodb.DescribeTableOutput{Table: &types.TableDescription{
		TableName:   aws.String(name),
		TableStatus: status,
		ItemCount:   aws.Int64(int64(len(t.items))),
	}}, nil
}

func (f *Fake) DeleteTable(_ context.Context, in *dynamodb.DeleteTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteTableOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["DeleteTable"]++
	if _, err := f.table(in.TableName); err != nil {
		return nil, err
	}
	delete(f.tables, aws.ToString(in.TableName))
	return &dynamodb.DeleteTableOutput{TableDescription: &types.TableDescription{
		TableName:   in.TableName,
		TableStatus: types.TableStatusDeleting,
	}}, nil
}

func (f *Fake) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["GetItem"]++
	t, err := f.table(in.TableName)
	if err != nil {
		return nil, err
	}
	key, err := t.keyOf(in.Key)
	if err != nil {
		return nil, err
	}
	item, ok := t.items[key]
	if !ok {
		return &dynamodb.GetItemOutput{}, nil
	}
	return &dynamodb.GetItemOutput{Item: cloneItem(item)}, nil
}

func (f *Fake) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["PutItem"]++
	t, err := f.table(in.TableName)
	if err != nil {
		return nil, err
	}
	key, err := t.keyOf(in.Item)
	if err != nil {
		return nil, err
	}
	t.items[key] = cloneItem(in.Item)
	return &dynamodb.PutItemOutput{}, nil
}

func (f *Fake) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["DeleteItem"]++
	t, err := f.table(in.TableName)
	if err != nil {
		return nil, err
	}
	key, err := t.keyOf(in.Key)
	if err != nil {
		return nil, err
	}
	old, ok := t.items[key]
	delete(t.items, key)
	out := &dynamodb.DeleteItemOutput{}
	if ok && in.ReturnValues == types.ReturnValueAllOld {
		out.Attributes = old
	}
	return out, nil
}

func (f *Fake) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["UpdateItem"]++
	t, err := f.table(in.TableName)
	if err != nil {
		return nil, err
	}
	key, err := t.keyOf(in.Key)
	if err != nil {
		return nil, err
	}
	current, exists := t.items[key]

	if cond := strings.TrimSpace(aws.ToString(in.ConditionExpression)); cond != "" {
		ref, ok := strings.CutPrefix(cond, "attribute_exists(")
		if !ok || !strings.HasSuffix(ref, ")") {
			return nil, validation("unsupported condition " + cond)
		}
		attr := in.ExpressionAttributeNames[strings.TrimSuffix(ref, ")")]
		if !exists || current[attr] == nil {
			return nil, &types.ConditionalCheckFailedException{Message: aws.String("The conditional request failed")}
		}
	}

	updated := cloneItem(in.Key)
	if exists {
		updated = cloneItem(current)
	}
	expr, ok := strings.CutPrefix(strings.TrimSpace(aws.ToString(in.UpdateExpression)), "SET ")
	if !ok {
		return nil, validation("unsupported update expression")
	}
	for _, assignment := range strings.Split(expr, ",") {
		parts := strings.Fields(assignment)
		if len(parts) != 3 || parts[1] != "=" {
			return nil, validation("unsupported assignment " + assignment)
		}
		name, okName := in.ExpressionAttributeNames[parts[0]]
		value, okValue := in.ExpressionAttributeValues[parts[2]]
		if !okName || !okValue {
			return nil, validation("unresolved placeholder in " + assignment)
		}
		if name == t.hashKey || name == t.rangeKey {
			return nil, validation("cannot update key attribute " + name)
		}
		updated[name] = value
	}
	t.items[key] = updated

	out := &dynamodb.UpdateItemOutput{}
	if in.ReturnValues == types.ReturnValueAllNew {
		out.Attributes = cloneItem(updated)
	}
	return out, nil
}

func (f *Fake) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["Query"]++
	t, err := f.table(in.TableName)
	if err != nil {
		return nil, err
	}
	keyCond, err := parseComparison(aws.ToString(in.KeyConditionExpression), in.ExpressionAttributeNames, in.ExpressionAttributeValues)
	if err != nil {
		return nil, err
	}
	if keyCond.attr != t.hashKey || keyCond.op != "=" {
		return nil, validation("query key condition must be hash key equality")
	}
	filter, err := parseOptionalComparison(aws.ToString(in.FilterExpression), in.ExpressionAttributeNames, in.ExpressionAttributeValues)
	if err != nil {
		return nil, err
	}

	candidates := t.sorted(func(item Item) bool { return keyCond.matches(item) })
	items, last := f.page(t, candidates, filter, in.ExclusiveStartKey, aws.ToInt32(in.Limit))
	return &dynamodb.QueryOutput{Items: items, LastEvaluatedKey: last, Count: int32(len(items))}, nil
}

func (f *Fake) Scan(_ context.Context, in *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["Scan"]++
	t, err := f.table(in.TableName)
	if err != nil {
		return nil, err
	}
	filter, err := parseOptionalComparison(aws.ToString(in.FilterExpression), in.ExpressionAttributeNames, in.ExpressionAttributeValues)
	if err != nil {
		return nil, err
	}

	candidates := t.sorted(func(Item) bool { return true })
	items, last := f.page(t, candidates, filter, in.ExclusiveStartKey, aws.ToInt32(in.Limit))
	return &dynamodb.ScanOutput{Items: items, LastEvaluatedKey: last, Count: int32(len(items))}, nil
}

func (f *Fake) TransactWriteItems(_ context.Context, in *dynamodb.TransactWriteItemsInput, _ ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["TransactWriteItems"]++
	f.sizes = append(f.sizes, len(in.TransactItems))

	if len(in.TransactItems) == 0 || len(in.TransactItems) > 100 {
		return nil, validation(fmt.Sprintf("transaction must contain 1 to 100 items, got %d", len(in.TransactItems)))
	}
	if f.OnTransact != nil {
		if err := f.OnTransact(in.TransactItems); err != nil {
			return nil, err
		}
	}

	type op struct {
		t    *table
		key  string
		item Item
	}
	ops := make([]op, 0, len(in.TransactItems))
	seen := map[string]struct{}{}
	for _, ti := range in.TransactItems {
		var (
			tableName *string
			source    Item
			isPut     bool
		)
		switch {
		case ti.Put != nil:
			tableName, source, isPut = ti.Put.TableName, ti.Put.Item, true
		case ti.Delete != nil:
			tableName, source = ti.Delete.TableName, ti.Delete.Key
		default:
			return nil, validation("only Put and Delete are supported")
		}
		t, err := f.table(tableName)
		if err != nil {
			return nil, err
		}
		key, err := t.keyOf(source)
		if err != nil {
			return nil, err
		}
		scoped := aws.ToString(tableName) + "\x01" + key
		if _, dup := seen[scoped]; dup {
			return nil, validation("Transaction request cannot include multiple operations on one item")
		}
		seen[scoped] = struct{}{}
		var item Item
		if isPut {
			item = cloneItem(source)
		}
		ops = append(ops, op{t: t, key: key, item: item})
	}

	for _, o := range ops {
		if o.item == nil {
			delete(o.t.items, o.key)
			continue
		}
		o.t.items[o.key] = o.item
	}
	return &dynamodb.TransactWriteItemsOutput{}, nil
}

func (t *table) sorted(keep func(Item) bool) []Item {
	out := make([]Item, 0, len(t.items))
	for _, item := range t.items {
		if keep(item) {
			out = append(out, item)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		ki, _ := t.keyOf(out[i])
		kj, _ := t.keyOf(out[j])
		return ki < kj
	})
	return out
}

func (f *Fake) page(t *table, candidates []Item, filter *comparison, start Item, limit int32) ([]Item, Item) {
	startKey := ""
	if len(start) > 0 {
		startKey, _ = t.keyOf(start)
	}
	pageSize := int(limit)
	if pageSize <= 0 {
		pageSize = f.PageSize
	}

	var (
		items     []Item
		evaluated int
		last      Item
	)
	for i, item := range candidates {
		key, _ := t.keyOf(item)
		if startKey != "" && key <= startKey {
			continue
		}
		evaluated++
		if filter == nil || filter.matches(item) {
			items = append(items, cloneItem(item))
		}
		if pageSize > 0 && evaluated == pageSize {
			if i < len(candidates)-1 {
				last = t.keyAttributes(item)
			}
			break
		}
	}
	return items, last
}

type comparison struct {
	attr  string
	op    string
	value types.AttributeValue
}

func parseOptionalComparison(expr string, names map[string]string, values map[string]types.AttributeValue) (*comparison, error) {
	if strings.TrimSpace(expr) == "" {
		return nil, nil
	}
	c, err := parseComparison(expr, names, values)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func parseComparison(expr string, names map[string]string, values map[string]types.AttributeValue) (comparison, error) {
	parts := strings.Fields(expr)
	if len(parts) != 3 {
		return comparison{}, validation("unsupported expression " + expr)
	}
	attr, ok := names[parts[0]]
	if !ok {
		return comparison{}, validation("unresolved attribute name " + parts[0])
	}
	value, ok := values[parts[2]]
	if !ok {
		return comparison{}, validation("unresolved attribute value " + parts[2])
	}
	switch parts[1] {
	case "=", "<>", "<", "<=", ">", ">=":
	default:
		return comparison{}, validation("unsupported operator " + parts[1])
	}
	return comparison{attr: attr, op: parts[1], value: value}, nil
}

func (c comparison) matches(item Item) bool {
	actual, ok := item[c.attr]
	if !ok {
		return false
	}
	cmp, comparable := compare(actual, c.value)
	if !comparable {
		return c.op == "<>"
	}
	switch c.op {
	case "=":
		return cmp == 0
	case "<>":
		return cmp != 0
	case "<":
		return cmp < 0
	case "<=":
		return cmp <= 0
	case ">":
		return cmp > 0
	default:
		return cmp >= 0
	}
}

func compare(a, b types.AttributeValue) (int, bool) {
	switch av := a.(type) {
	case *types.AttributeValueMemberS:
		bv, ok := b.(*types.AttributeValueMemberS)
		if !ok {
			return 0, false
		}
		return strings.Compare(av.Value, bv.Value), true
	case *types.AttributeValueMemberN:
		bv, ok := b.(*types.AttributeValueMemberN)
		if !ok {
			return 0, false
		}
		x, errA := strconv.ParseFloat(av.Value, 64)
		y, errB := strconv.ParseFloat(bv.Value, 64)
		if errA != nil || errB != nil {
			return 0, false
		}
		switch {
		case x < y:
			return -1, true
		case x > y:
			return 1, true
		default:
			return 0, true
		}
	case *types.AttributeValueMemberBOOL:
		bv, ok := b.(*types.AttributeValueMemberBOOL)
		if !ok {
			return 0, false
		}
		if av.Value == bv.Value {
			return 0, true
		}
		if !av.Value {
			return -1, true
		}
		return 1, true
	default:
		return 0, false
	}
}
