// Package awstest provides in-memory stand-ins for the AWS clients in
// internal/aws, for tests that wire several stores together.
package awstest

import (
	"context"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"sync"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

type item = map[string]types.AttributeValue

// MemoryDynamo is an in-memory DynamoDB supporting the expressions the stores
// use: attribute_not_exists, equality conditions, and SET updates with
// if_not_exists and +.
type MemoryDynamo struct {
	mu     sync.Mutex
	keys   map[string]string
	tables map[string]map[string]item
	calls  map[string]int
}

// NewMemoryDynamo returns a MemoryDynamo without tables.
func NewMemoryDynamo() *MemoryDynamo {
	return &MemoryDynamo{
		keys:   map[string]string{},
		tables: map[string]map[string]item{},
		calls:  map[string]int{},
	}
}

// CreateTable registers a table keyed by the string attribute partitionKey.
func (m *MemoryDynamo) CreateTable(name, partitionKey string) *MemoryDynamo {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[name] = partitionKey
	m.tables[name] = map[string]item{}
	return m
}

// Item returns a copy of the stored item, or nil.
func (m *MemoryDynamo) Item(table, key string) map[string]types.AttributeValue {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.tables[table][key]
	if !ok {
		return nil
	}
	return clone(it)
}

// Len returns the number of items in table.
func (m *MemoryDynamo) Len(table string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tables[table])
}

// Calls returns how many times op (e.g. "PutItem") was invoked.
func (m *MemoryDynamo) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

func (m *MemoryDynamo) PutItem(ctx context.Context, in *dyn.PutItemInput, _ ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["PutItem"]++
	if err := m.checkPut(*in.TableName, in.Item, in.ConditionExpression, in.ExpressionAttributeNames, in.ExpressionAttributeValues); err != nil {
		return nil, err
	}
	m.put(*in.TableName, in.Item)
	return &dyn.PutItemOutput{}, nil
}

func (m *MemoryDynamo) GetItem(ctx context.Context, in *dyn.GetItemInput, _ ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["GetItem"]++
	k, err := m.keyOf(*in.TableName, in.Key)
	if err != nil {
		return nil, err
	}
	it, ok := m.tables[*in.TableName][k]
	if !ok {
		return &dyn.GetItemOutput{}, nil
	}
	return &dyn.GetItemOutput{Item: clone(it)}, nil
}

func (m *MemoryDynamo) UpdateItem(ctx context.Context, in *dyn.UpdateItemInput, _ ...func(*dyn.Options)) (*dyn.UpdateItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["UpdateItem"]++
	next, err := m.prepareUpdate(*in.TableName, in.Key, in.UpdateExpression, in.ConditionExpression, in.ExpressionAttributeNames, in.ExpressionAttributeValues)
	if err != nil {
		return nil, err
	}
	m.put(*in.TableName, next)
	return &dyn.UpdateItemOutput{Attributes: clone(next)}, nil
}

func (m *MemoryDynamo) DeleteItem(ctx context.Context, in *dyn.DeleteItemInput, _ ...func(*dyn.Options)) (*dyn.DeleteItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["DeleteItem"]++
	k, err := m.keyOf(*in.TableName, in.Key)
	if err != nil {
		return nil, err
	}
	delete(m.tables[*in.TableName], k)
	return &dyn.DeleteItemOutput{}, nil
}

// TransactWriteItems applies Put and Update entries all or nothing.
func (m *MemoryDynamo) TransactWriteItems(ctx context.Context, in *dyn.TransactWriteItemsInput, _ ...func(*dyn.Options)) (*dyn.TransactWriteItemsOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["TransactWriteItems"]++

	type write struct {
		table string
		it    item
	}
	writes := make([]write, 0, len(in.TransactItems))
	reasons := make([]types.CancellationReason, len(in.TransactItems))
	canceled := false
	for i, ti := range in.TransactItems {
		var (
			w   write
			err error
		)
		switch {
		case ti.Put != nil:
			p := ti.Put
			err = m.checkPut(*p.TableName, p.Item, p.ConditionExpression, p.ExpressionAttributeNames, p.ExpressionAttributeValues)
			w = write{*p.TableName, p.Item}
		case ti.Update != nil:
			u := ti.Update
			w.table = *u.TableName
			w.it, err = m.prepareUpdate(*u.TableName, u.Key, u.UpdateExpression, u.ConditionExpression, u.ExpressionAttributeNames, u.ExpressionAttributeValues)
		default:
			return nil, fmt.Errorf("awstest: unsupported transact item %d", i)
		}
		if err != nil {
			if _, ok := err.(*types.ConditionalCheckFailedException); !ok {
				return nil, err
			}
			canceled = true
			reasons[i] = types.CancellationReason{Code: strPtr("ConditionalCheckFailed")}
			continue
		}
		reasons[i] = types.CancellationReason{Code: strPtr("None")}
		writes = append(writes, w)
	}
	if canceled {
		return nil, &types.TransactionCanceledException{Message: strPtr("Transaction cancelled"), CancellationReasons: reasons}
	}
	for _, w := range writes {
		m.put(w.table, w.it)
	}
	return &dyn.TransactWriteItemsOutput{}, nil
}

func (m *MemoryDynamo) keyOf(table string, it item) (string, error) {
	pk, ok := m.keys[table]
	if !ok {
		return "", &types.ResourceNotFoundException{Message: strPtr("table " + table + " not found")}
	}
	av, ok := it[pk].(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("awstest: item in %s has no string key %s", table, pk)
	}
	return av.Value, nil
}

func (m *MemoryDynamo) put(table string, it item) {
	k, _ := m.keyOf(table, it)
	m.tables[table][k] = clone(it)
}

func (m *MemoryDynamo) checkPut(table string, it item, cond *string, names map[string]string, values item) error {
	k, err := m.keyOf(table, it)
	if err != nil {
		return err
	}
	if cond == nil {
		return nil
	}
	ok, err := evalCondition(m.tables[table][k], *cond, names, values)
	if err != nil {
		return err
	}
	if !ok {
		return &types.ConditionalCheckFailedException{Message: strPtr("The conditional request failed")}
	}
	return nil
}

func (m *MemoryDynamo) prepareUpdate(table string, key item, update, cond *string, names map[string]string, values item) (item, error) {
	k, err := m.keyOf(table, key)
	if err != nil {
		return nil, err
	}
	cur := m.tables[table][k]
	if cond != nil {
		ok, err := evalCondition(cur, *cond, names, values)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, &types.ConditionalCheckFailedException{Message: strPtr("The conditional request failed")}
		}
	}
	next := clone(cur)
	if next == nil {
		next = clone(key)
	}
	if update != nil {
		if err := applyUpdate(next, *update, names, values); err != nil {
			return nil, err
		}
	}
	return next, nil
}

func evalCondition(it item, expr string, names map[string]string, values item) (bool, error) {
	expr = strings.TrimSpace(expr)
	for _, fn := range []string{"attribute_not_exists", "attribute_exists"} {
		if arg, ok := call(expr, fn); ok {
			_, present := it[resolve(arg, names)]
			return present == (fn == "attribute_exists"), nil
		}
	}
	lhs, rhs, ok := strings.Cut(expr, " = ")
	if !ok {
		return false, fmt.Errorf("awstest: unsupported condition %q", expr)
	}
	cur, present := it[resolve(strings.TrimSpace(lhs), names)]
	if !present {
		return false, nil
	}
	want, ok := values[strings.TrimSpace(rhs)]
	if !ok {
		return false, fmt.Errorf("awstest: missing value %s", rhs)
	}
	return equal(cur, want), nil
}

func applyUpdate(it item, expr string, names map[string]string, values item) error {
	body, ok := strings.CutPrefix(strings.TrimSpace(expr), "SET ")
	if !ok {
		return fmt.Errorf("awstest: unsupported update %q", expr)
	}
	for _, assign := range splitTop(body, ',') {
		lhs, rhs, ok := strings.Cut(assign, "=")
		if !ok {
			return fmt.Errorf("awstest: bad assignment %q", assign)
		}
		v, err := operand(it, strings.TrimSpace(rhs), names, values)
		if err != nil {
			return err
		}
		it[resolve(strings.TrimSpace(lhs), names)] = v
	}
	return nil
}

func operand(it item, expr string, names map[string]string, values item) (types.AttributeValue, error) {
	if parts := splitTop(expr, '+'); len(parts) > 1 {
		var sum float64
		for _, p := range parts {
			v, err := operand(it, strings.TrimSpace(p), names, values)
			if err != nil {
				return nil, err
			}
			n, ok := v.(*types.AttributeValueMemberN)
			if !ok {
				return nil, fmt.Errorf("awstest: non-numeric operand %q", p)
			}
			f, err := strconv.ParseFloat(n.Value, 64)
			if err != nil {
				return nil, err
			}
			sum += f
		}
		return &types.AttributeValueMemberN{Value: strconv.FormatFloat(sum, 'f', -1, 64)}, nil
	}
	if args, ok := call(expr, "if_not_exists"); ok {
		ab := splitTop(args, ',')
		if len(ab) != 2 {
			return nil, fmt.Errorf("awstest: bad if_not_exists %q", expr)
		}
		if v, present := it[resolve(strings.TrimSpace(ab[0]), names)]; present {
			return v, nil
		}
		return operand(it, strings.TrimSpace(ab[1]), names, values)
	}
	if strings.HasPrefix(expr, ":") {
		v, ok := values[expr]
		if !ok {
			return nil, fmt.Errorf("awstest: missing value %s", expr)
		}
		return v, nil
	}
	v, ok := it[resolve(expr, names)]
	if !ok {
		return nil, fmt.Errorf("awstest: missing attribute %s", expr)
	}
	return v, nil
}

// call matches fn(args) and returns args.
func call(expr, fn string) (string, bool) {
	if !strings.HasPrefix(expr, fn+"(") || !strings.HasSuffix(expr, ")") {
		return "", false
	}
	return strings.TrimSpace(expr[len(fn)+1 : len(expr)-1]), true
}

// splitTop splits s on sep outside parentheses.
func splitTop(s string, sep rune) []string {
	var (
		out   []string
		depth int
		start int
	)
	for i, r := range s {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
		case sep:
			if depth == 0 {
				out = append(out, strings.TrimSpace(s[start:i]))
				start = i + 1
			}
		}
	}
	return append(out, strings.TrimSpace(s[start:]))
}

func resolve(name string, names map[string]string) string {
	if strings.HasPrefix(name, "#") {
		return names[name]
	}
	return name
}

func equal(a, b types.AttributeValue) bool {
	switch x := a.(type) {
	case *types.AttributeValueMemberS:
		y, ok := b.(*types.AttributeValueMemberS)
		return ok && x.Value == y.Value
	case *types.AttributeValueMemberN:
		y, ok := b.(*types.AttributeValueMemberN)
		if !ok {
			return false
		}
		fx, errx := strconv.ParseFloat(x.Value, 64)
		fy, erry := strconv.ParseFloat(y.Value, 64)
		return errx == nil && erry == nil && fx == fy
	case *types.AttributeValueMemberBOOL:
		y, ok := b.(*types.AttributeValueMemberBOOL)
		return ok && x.Value == y.Value
	}
	return reflect.DeepEqual(a, b)
}

func clone(it item) item {
	if it == nil {
		return nil
	}
	out := make(item, len(it))
	for k, v := range it {
		out[k] = v
	}
	return out
}

func strPtr(s string) *string { return &s }
