// Package awstest provides in-memory doubles for the AWS client interfaces.
//
// Dynamo understands the small expression dialect the stores use:
// SET clauses with +/- arithmetic and if_not_exists, AND-joined conditions
// with attribute_exists/attribute_not_exists and comparisons, and
// TransactWriteItems with per-item cancellation reasons.
package awstest

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/shopspring/decimal"
)

type Item = map[string]types.AttributeValue

type index struct {
	pk, sk string
}

type table struct {
	key     index
	indexes map[string]index
	items   map[string]Item
}

// Dynamo is a goroutine-safe in-memory DynamoDB.
type Dynamo struct {
	mu     sync.Mutex
	tables map[string]*table
	faults map[string][]error
	calls  map[string]int
}

// NewDynamo returns an empty Dynamo with no tables.
func NewDynamo() *Dynamo {
	return &Dynamo{
		tables: map[string]*table{},
		faults: map[string][]error{},
		calls:  map[string]int{},
	}
}

// CreateTable registers a table keyed by pk and optional sort key sk.
func (d *Dynamo) CreateTable(name, pk, sk string) *Dynamo {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tables[name] = &table{
		key:     index{pk: pk, sk: sk},
		indexes: map[string]index{},
		items:   map[string]Item{},
	}
	return d
}

// CreateIndex registers a global secondary index on an existing table.
func (d *Dynamo) CreateIndex(tableName, indexName, pk, sk string) *Dynamo {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tables[tableName].indexes[indexName] = index{pk: pk, sk: sk}
	return d
}

// FailNext queues err to be returned by the next call of op
// ("PutItem", "GetItem", "UpdateItem", "Query", "Scan", "TransactWriteItems").
func (d *Dynamo) FailNext(op string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.faults[op] = append(d.faults[op], err)
}

// Calls reports how many times op was invoked.
func (d *Dynamo) Calls(op string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls[op]
}

// Seed writes item unconditionally.
func (d *Dynamo) Seed(tableName string, item Item) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t := d.mustTable(tableName)
	t.items[t.keyOf(item)] = copyItem(item)
}

// Get returns a copy of the item with the given key values, or nil.
func (d *Dynamo) Get(tableName string, keyValues ...string) Item {
	d.mu.Lock()
	defer d.mu.Unlock()
	t := d.mustTable(tableName)
	item, ok := t.items[strings.Join(keyValues, "|")]
	if !ok {
		return nil
	}
	return copyItem(item)
}

// Len returns the number of items in a table.
func (d *Dynamo) Len(tableName string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.mustTable(tableName).items)
}

func (d *Dynamo) mustTable(name string) *table {
	t, ok := d.tables[name]
	if !ok {
		panic(fmt.Sprintf("awstest: table %q not created", name))
	}
	return t
}

func (d *Dynamo) begin(op string) error {
	d.calls[op]++
	if q := d.faults[op]; len(q) > 0 {
		d.faults[op] = q[1:]
		return q[0]
	}
	return nil
}

func (d *Dynamo) lookup(name *string) (*table, error) {
	if name == nil {
		return nil, fmt.Errorf("awstest: missing table name")
	}
	t, ok := d.tables[*name]
	if !ok {
		return nil, &types.ResourceNotFoundException{Message: sdkaws.String("table not found: " + *name)}
	}
	return t, nil
}

func (t *table) keyOf(item Item) string {
	k := scalarString(item[t.key.pk])
	if t.key.sk != "" {
		k += "|" + scalarString(item[t.key.sk])
	}
	return k
}

func (d *Dynamo) PutItem(ctx context.Context, in *dyn.PutItemInput, _ ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.begin("PutItem"); err != nil {
		return nil, err
	}
	t, err := d.lookup(in.TableName)
	if err != nil {
		return nil, err
	}
	k := t.keyOf(in.Item)
	e := expr{names: in.ExpressionAttributeNames, values: in.ExpressionAttributeValues}
	ok, err := e.condition(sdkaws.ToString(in.ConditionExpression), t.items[k])
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, conditionalFailed()
	}
	t.items[k] = copyItem(in.Item)
	return &dyn.PutItemOutput{}, nil
}

func (d *Dynamo) GetItem(ctx context.Context, in *dyn.GetItemInput, _ ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.begin("GetItem"); err != nil {
		return nil, err
	}
	t, err := d.lookup(in.TableName)
	if err != nil {
		return nil, err
	}
	item, ok := t.items[t.keyOf(in.Key)]
	if !ok {
		return &dyn.GetItemOutput{}, nil
	}
	return &dyn.GetItemOutput{Item: copyItem(item)}, nil
}

func (d *Dynamo) UpdateItem(ctx context.Context, in *dyn.UpdateItemInput, _ ...func(*dyn.Options)) (*dyn.UpdateItemOutput, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.begin("UpdateItem"); err != nil {
		return nil, err
	}
	t, err := d.lookup(in.TableName)
	if err != nil {
		return nil, err
	}
	e := expr{names: in.ExpressionAttributeNames, values: in.ExpressionAttributeValues}
	next, err := e.applyUpdate(t, in.Key, sdkaws.ToString(in.ConditionExpression), sdkaws.ToString(in.UpdateExpression))
	if err != nil {
		return nil, err
	}
	out := &dyn.UpdateItemOutput{}
	if in.ReturnValues == types.ReturnValueAllNew || in.ReturnValues == types.ReturnValueUpdatedNew {
		out.Attributes = copyItem(next)
	}
	return out, nil
}

func (e expr) applyUpdate(t *table, key Item, cond, update string) (Item, error) {
	k := t.keyOf(key)
	current := t.items[k]
	ok, err := e.condition(cond, current)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, conditionalFailed()
	}
	next := copyItem(current)
	if next == nil {
		next = copyItem(key)
	}
	if err := e.set(update, current, next); err != nil {
		return nil, err
	}
	t.items[k] = next
	return next, nil
}

func (d *Dynamo) Query(ctx context.Context, in *dyn.QueryInput, _ ...func(*dyn.Options)) (*dyn.QueryOutput, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.begin("Query"); err != nil {
		return nil, err
	}
	t, err := d.lookup(in.TableName)
	if err != nil {
		return nil, err
	}
	idx := t.key
	if in.IndexName != nil {
		var ok bool
		if idx, ok = t.indexes[*in.IndexName]; !ok {
			return nil, fmt.Errorf("awstest: index %q not created", *in.IndexName)
		}
	}
	e := expr{names: in.ExpressionAttributeNames, values: in.ExpressionAttributeValues}
	var out []Item
	for _, item := range t.items {
		if _, ok := item[idx.pk]; !ok {
			continue
		}
		match, err := e.condition(sdkaws.ToString(in.KeyConditionExpression), item)
		if err != nil {
			return nil, err
		}
		if !match {
			continue
		}
		if match, err = e.condition(sdkaws.ToString(in.FilterExpression), item); err != nil {
			return nil, err
		} else if match {
			out = append(out, copyItem(item))
		}
	}
	sortItems(out, idx, t.key)
	if in.ScanIndexForward != nil && !*in.ScanIndexForward {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return &dyn.QueryOutput{Items: out, Count: int32(len(out))}, nil
}

func (d *Dynamo) Scan(ctx context.Context, in *dyn.ScanInput, _ ...func(*dyn.Options)) (*dyn.ScanOutput, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.begin("Scan"); err != nil {
		return nil, err
	}
	t, err := d.lookup(in.TableName)
	if err != nil {
		return nil, err
	}
	e := expr{names: in.ExpressionAttributeNames, values: in.ExpressionAttributeValues}
	var out []Item
	for _, item := range t.items {
		match, err := e.condition(sdkaws.ToString(in.FilterExpression), item)
		if err != nil {
			return nil, err
		}
		if match {
			out = append(out, copyItem(item))
		}
	}
	sortItems(out, t.key, t.key)
	return &dyn.ScanOutput{Items: out, Count: int32(len(out))}, nil
}

func (d *Dynamo) TransactWriteItems(ctx context.Context, in *dyn.TransactWriteItemsInput, _ ...func(*dyn.Options)) (*dyn.TransactWriteItemsOutput, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.begin("TransactWriteItems"); err != nil {
		return nil, err
	}

	// stage against a snapshot so a failed condition leaves every table untouched
	snapshot := map[string]map[string]Item{}
	for name, t := range d.tables {
		cp := make(map[string]Item, len(t.items))
		for k, v := range t.items {
			cp[k] = v
		}
		snapshot[name] = cp
	}
	restore := func() {
		for name, items := range snapshot {
			d.tables[name].items = items
		}
	}

	reasons := make([]types.CancellationReason, len(in.TransactItems))
	failed := false
	for i, ti := range in.TransactItems {
		reasons[i] = types.CancellationReason{Code: sdkaws.String("None")}
		err := d.applyTransactItem(ti)
		if err == nil {
			continue
		}
		if _, ok := err.(*types.ConditionalCheckFailedException); !ok {
			restore()
			return nil, err
		}
		failed = true
		reasons[i] = types.CancellationReason{
			Code:    sdkaws.String("ConditionalCheckFailed"),
			Message: sdkaws.String("The conditional request failed"),
		}
	}
	if failed {
		restore()
		return nil, &types.TransactionCanceledException{
			Message:             sdkaws.String("Transaction cancelled, please refer cancellation reasons for specific reasons"),
			CancellationReasons: reasons,
		}
	}
	return &dyn.TransactWriteItemsOutput{}, nil
}

func (d *Dynamo) applyTransactItem(ti types.TransactWriteItem) error {
	switch {
	case ti.Put != nil:
		t, err := d.lookup(ti.Put.TableName)
		if err != nil {
			return err
		}
		e := expr{names: ti.Put.ExpressionAttributeNames, values: ti.Put.ExpressionAttributeValues}
		k := t.keyOf(ti.Put.Item)
		ok, err := e.condition(sdkaws.ToString(ti.Put.ConditionExpression), t.items[k])
		if err != nil {
			return err
		}
		if !ok {
			return conditionalFailed()
		}
		t.items[k] = copyItem(ti.Put.Item)
	case ti.Update != nil:
		t, err := d.lookup(ti.Update.TableName)
		if err != nil {
			return err
		}
		e := expr{names: ti.Update.ExpressionAttributeNames, values: ti.Update.ExpressionAttributeValues}
		if _, err := e.applyUpdate(t, ti.Update.Key, sdkaws.ToString(ti.Update.ConditionExpression), sdkaws.ToString(ti.Update.UpdateExpression)); err != nil {
			return err
		}
	case ti.ConditionCheck != nil:
		t, err := d.lookup(ti.ConditionCheck.TableName)
		if err != nil {
			return err
		}
		e := expr{names: ti.ConditionCheck.ExpressionAttributeNames, values: ti.ConditionCheck.ExpressionAttributeValues}
		ok, err := e.condition(sdkaws.ToString(ti.ConditionCheck.ConditionExpression), t.items[t.keyOf(ti.ConditionCheck.Key)])
		if err != nil {
			return err
		}
		if !ok {
			return conditionalFailed()
		}
	case ti.Delete != nil:
		t, err := d.lookup(ti.Delete.TableName)
		if err != nil {
			return err
		}
		delete(t.items, t.keyOf(ti.Delete.Key))
	}
	return nil
}

func conditionalFailed() error {
	return &types.ConditionalCheckFailedException{Message: sdkaws.String("The conditional request failed")}
}

// expr evaluates expressions against an item using the request's
// placeholder maps.
type expr struct {
	names  map[string]string
	values map[string]types.AttributeValue
}

func (e expr) name(path string) string {
	path = strings.TrimSpace(path)
	if strings.HasPrefix(path, "#") {
		if n, ok := e.names[path]; ok {
			return n
		}
	}
	return path
}

func (e expr) condition(cond string, item Item) (bool, error) {
	cond = strings.TrimSpace(cond)
	if cond == "" {
		return true, nil
	}
	for _, term := range strings.Split(cond, " AND ") {
		ok, err := e.term(trimParens(term), item)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

var comparators = []string{"<>", "<=", ">=", "=", "<", ">"}

func (e expr) term(term string, item Item) (bool, error) {
	if inner, ok := call(term, "attribute_exists"); ok {
		_, exists := item[e.name(inner)]
		return exists, nil
	}
	if inner, ok := call(term, "attribute_not_exists"); ok {
		_, exists := item[e.name(inner)]
		return !exists, nil
	}
	for _, op := range comparators {
		i := strings.Index(term, " "+op+" ")
		if i < 0 {
			continue
		}
		left, err := e.operand(term[:i], item)
		if err != nil {
			return false, err
		}
		right, err := e.operand(term[i+len(op)+2:], item)
		if err != nil {
			return false, err
		}
		if left == nil || right == nil {
			return false, nil
		}
		c, comparable := compare(left, right)
		switch op {
		case "=":
			return comparable && c == 0, nil
		case "<>":
			return !comparable || c != 0, nil
		case "<":
			return comparable && c < 0, nil
		case "<=":
			return comparable && c <= 0, nil
		case ">":
			return comparable && c > 0, nil
		case ">=":
			return comparable && c >= 0, nil
		}
	}
	return false, fmt.Errorf("awstest: unsupported condition %q", term)
}

func (e expr) operand(s string, item Item) (types.AttributeValue, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, ":") {
		v, ok := e.values[s]
		if !ok {
			return nil, fmt.Errorf("awstest: missing value %s", s)
		}
		return v, nil
	}
	if inner, ok := call(s, "if_not_exists"); ok {
		parts := strings.SplitN(inner, ",", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("awstest: bad if_not_exists %q", s)
		}
		if v, ok := item[e.name(parts[0])]; ok {
			return v, nil
		}
		return e.operand(parts[1], item)
	}
	return item[e.name(s)], nil
}

// set applies a SET update expression. Right-hand sides read from before.
func (e expr) set(update string, before, next Item) error {
	update = strings.TrimSpace(update)
	if update == "" {
		return nil
	}
	if !strings.HasPrefix(update, "SET ") {
		return fmt.Errorf("awstest: unsupported update %q", update)
	}
	for _, clause := range splitTopLevel(strings.TrimPrefix(update, "SET ")) {
		eq := strings.Index(clause, "=")
		if eq < 0 {
			return fmt.Errorf("awstest: bad set clause %q", clause)
		}
		target := e.name(clause[:eq])
		v, err := e.value(clause[eq+1:], before)
		if err != nil {
			return err
		}
		next[target] = v
	}
	return nil
}

func (e expr) value(s string, item Item) (types.AttributeValue, error) {
	s = strings.TrimSpace(s)
	for _, op := range []string{" + ", " - "} {
		i := lastTopLevel(s, op)
		if i < 0 {
			continue
		}
		left, err := e.value(s[:i], item)
		if err != nil {
			return nil, err
		}
		right, err := e.operand(s[i+len(op):], item)
		if err != nil {
			return nil, err
		}
		a, err := number(left)
		if err != nil {
			return nil, err
		}
		b, err := number(right)
		if err != nil {
			return nil, err
		}
		if op == " + " {
			return &types.AttributeValueMemberN{Value: a.Add(b).String()}, nil
		}
		return &types.AttributeValueMemberN{Value: a.Sub(b).String()}, nil
	}
	v, err := e.operand(s, item)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, fmt.Errorf("awstest: attribute %q does not exist", s)
	}
	return v, nil
}

func number(v types.AttributeValue) (decimal.Decimal, error) {
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return decimal.Zero, fmt.Errorf("awstest: arithmetic on non-number %T", v)
	}
	return decimal.NewFromString(n.Value)
}

func compare(a, b types.AttributeValue) (int, bool) {
	switch av := a.(type) {
	case *types.AttributeValueMemberN:
		bv, ok := b.(*types.AttributeValueMemberN)
		if !ok {
			return 0, false
		}
		x, err1 := decimal.NewFromString(av.Value)
		y, err2 := decimal.NewFromString(bv.Value)
		if err1 != nil || err2 != nil {
			return 0, false
		}
		return x.Cmp(y), true
	case *types.AttributeValueMemberS:
		bv, ok := b.(*types.AttributeValueMemberS)
		if !ok {
			return 0, false
		}
		return strings.Compare(av.Value, bv.Value), true
	case *types.AttributeValueMemberBOOL:
		bv, ok := b.(*types.AttributeValueMemberBOOL)
		if !ok || av.Value != bv.Value {
			return 1, ok
		}
		return 0, true
	}
	if reflect.DeepEqual(a, b) {
		return 0, true
	}
	return 1, reflect.TypeOf(a) == reflect.TypeOf(b)
}

func call(s, fn string) (string, bool) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, fn+"(") || !strings.HasSuffix(s, ")") {
		return "", false
	}
	return s[len(fn)+1 : len(s)-1], true
}

func trimParens(s string) string {
	s = strings.TrimSpace(s)
	for strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		s = strings.TrimSpace(s[1 : len(s)-1])
	}
	return s
}

func splitTopLevel(s string) []string {
	var out []string
	depth, start := 0, 0
	for i, r := range s {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
		case ',':
			if depth == 0 {
				out = append(out, s[start:i])
				start = i + 1
			}
		}
	}
	return append(out, s[start:])
}

func lastTopLevel(s, op string) int {
	depth := 0
	for i := len(s) - 1; i >= 0; i-- {
		switch s[i] {
		case ')':
			depth++
		case '(':
			depth--
		}
		if depth == 0 && strings.HasPrefix(s[i:], op) {
			return i
		}
	}
	return -1
}

func scalarString(v types.AttributeValue) string {
	switch av := v.(type) {
	case *types.AttributeValueMemberS:
		return av.Value
	case *types.AttributeValueMemberN:
		return av.Value
	}
	return ""
}

func sortItems(items []Item, primary, tableKey index) {
	sort.SliceStable(items, func(i, j int) bool {
		for _, attr := range []string{primary.sk, tableKey.pk, tableKey.sk} {
			if attr == "" {
				continue
			}
			a, b := items[i][attr], items[j][attr]
			if a == nil || b == nil {
				continue
			}
			if c, ok := compare(a, b); ok && c != 0 {
				return c < 0
			}
		}
		return false
	})
}

func copyItem(item Item) Item {
	if item == nil {
		return nil
	}
	out := make(Item, len(item))
	for k, v := range item {
		out[k] = v
	}
	return out
}

// Storefront returns a Dynamo with the storefront's default tables and indexes.
func Storefront() *Dynamo {
	return NewDynamo().
		CreateTable("products", "product_id", "").
		CreateTable("suppliers", "supplier_id", "").
		CreateTable("product_suppliers", "product_id", "supplier_id").
		CreateTable("customers", "customer_id", "").
		CreateTable("customer_audit_log", "audit_id", "").
		CreateTable("orders", "order_id", "").
		CreateIndex("orders", "customer_id-order_seq-index", "customer_id", "order_seq").
		CreateIndex("orders", "status-order_seq-index", "status", "order_seq").
		CreateTable("counters", "counter_name", "").
		CreateTable("idempotency", "idempotency_key", "")
}
