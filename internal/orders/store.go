package orders

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/imrishuroy/storefront-orderflow/internal/aws"
	"github.com/imrishuroy/storefront-orderflow/internal/money"
)

// Tables names every table the order commit touches.
type Tables struct {
	Orders    string
	Customers string
	Products  string
	Counters  string
}

const (
	customerIndex = "customer_id-order_seq-index"
	statusIndex   = "status-order_seq-index"

	orderCounter = "order_number"

	maxCommitAttempts = 3
	baseBackoff       = 25 * time.Millisecond
)

// Store encapsulates operations on the orders table and the order commit
// transaction.
type Store struct {
	client  aws.DynamoDBAPI
	tables  Tables
	nowFunc func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewStore creates a new orders Store.
func NewStore(client aws.DynamoDBAPI, tables Tables) *Store {
	return &Store{
		client:  client,
		tables:  tables,
		nowFunc: time.Now,
		sleep:   sleepCtx,
	}
}

// NextOrderNumber allocates the next order sequence value and formats it as
// ORD-YYYYMMDD-NNNNNN using the date of at.
func (s *Store) NextOrderNumber(ctx context.Context, at time.Time) (string, int64, error) {
	out, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:        &s.tables.Counters,
		Key:              map[string]types.AttributeValue{"counter_name": &types.AttributeValueMemberS{Value: orderCounter}},
		UpdateExpression: aws.String("SET seq = if_not_exists(seq, :zero) + :inc"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":zero": &types.AttributeValueMemberN{Value: "0"},
			":inc":  &types.AttributeValueMemberN{Value: "1"},
		},
		ReturnValues: types.ReturnValueUpdatedNew,
	})
	if err != nil {
		return "", 0, fmt.Errorf("increment order counter: %w", err)
	}
	var counter struct {
		Seq int64 `dynamodbav:"seq"`
	}
	if err := attributevalue.UnmarshalMap(out.Attributes, &counter); err != nil {
		return "", 0, fmt.Errorf("unmarshal order counter: %w", err)
	}
	return FormatOrderNumber(at, counter.Seq), counter.Seq, nil
}

// FormatOrderNumber renders an order number for seq placed at at.
func FormatOrderNumber(at time.Time, seq int64) string {
	return fmt.Sprintf("ORD-%s-%06d", at.UTC().Format("20060102"), seq)
}

// CommitPlacement writes the order, debits the customer and decrements each
// product's cached stock in one transaction. Every check that matters is
// re-asserted as a condition, so a concurrent order cannot overdraw funds or
// stock. Transaction conflicts are retried with backoff.
func (s *Store) CommitPlacement(ctx context.Context, order Order) error {
	orderItem, err := attributevalue.MarshalMap(order)
	if err != nil {
		return &PlacementError{Kind: ErrCommitFailed, Err: fmt.Errorf("marshal order: %w", err)}
	}
	now := &types.AttributeValueMemberS{Value: s.nowFunc().UTC().Format(time.RFC3339Nano)}
	active := &types.AttributeValueMemberBOOL{Value: true}

	transactItems := []types.TransactWriteItem{
		{
			Put: &types.Put{
				TableName:           &s.tables.Orders,
				Item:                orderItem,
				ConditionExpression: aws.String("attribute_not_exists(order_id)"),
			},
		},
		{
			Update: &types.Update{
				TableName:           &s.tables.Customers,
				Key:                 map[string]types.AttributeValue{"customer_id": &types.AttributeValueMemberS{Value: order.CustomerID}},
				UpdateExpression:    aws.String("SET account_funds = account_funds - :total, updated_at = :now"),
				ConditionExpression: aws.String("attribute_exists(customer_id) AND is_active = :active AND account_funds >= :total"),
				ExpressionAttributeValues: map[string]types.AttributeValue{
					":total":  order.TotalAmount.AttributeValue(),
					":now":    now,
					":active": active,
				},
			},
		},
	}
	for _, it := range order.Items {
		transactItems = append(transactItems, types.TransactWriteItem{
			Update: &types.Update{
				TableName:           &s.tables.Products,
				Key:                 map[string]types.AttributeValue{"product_id": &types.AttributeValueMemberS{Value: it.ProductID}},
				UpdateExpression:    aws.String("SET stock_quantity = stock_quantity - :q, version = if_not_exists(version, :zero) + :inc, updated_at = :now"),
				ConditionExpression: aws.String("attribute_exists(product_id) AND is_active = :active AND stock_quantity >= :q"),
				ExpressionAttributeValues: map[string]types.AttributeValue{
					":q":      &types.AttributeValueMemberN{Value: strconv.Itoa(it.Quantity)},
					":zero":   &types.AttributeValueMemberN{Value: "0"},
					":inc":    &types.AttributeValueMemberN{Value: "1"},
					":now":    now,
					":active": active,
				},
			},
		})
	}
	input := &dyn.TransactWriteItemsInput{TransactItems: transactItems}

	for attempt := 0; ; attempt++ {
		_, err = s.client.TransactWriteItems(ctx, input)
		if err == nil {
			return nil
		}

		var tce *types.TransactionCanceledException
		if !errors.As(err, &tce) {
			return &PlacementError{Kind: ErrCommitFailed, Err: fmt.Errorf("transact write: %w", err)}
		}
		if rejection := cancellationCause(tce.CancellationReasons, order); rejection != nil {
			return rejection
		}
		if attempt+1 >= maxCommitAttempts {
			return &PlacementError{Kind: ErrCommitFailed, Err: fmt.Errorf("transaction conflict after %d attempts: %w", attempt+1, err)}
		}
		if serr := s.sleep(ctx, backoff(attempt)); serr != nil {
			return &PlacementError{Kind: ErrCommitFailed, Err: serr}
		}
	}
}

// cancellationCause maps a failed condition back to the rule it enforces.
// It returns nil when the cancellation was a retryable conflict.
func cancellationCause(reasons []types.CancellationReason, order Order) *PlacementError {
	for i, r := range reasons {
		if r.Code == nil || *r.Code != "ConditionalCheckFailed" {
			continue
		}
		switch {
		case i == 0:
			return &PlacementError{Kind: ErrCommitFailed, Detail: "order id already exists"}
		case i == 1:
			return reject(ErrInsufficientFunds, "", "total %s exceeds available funds", order.TotalAmount)
		case i-2 < len(order.Items):
			it := order.Items[i-2]
			return reject(ErrInsufficientStock, it.ProductID, "%d requested, stock changed before commit", it.Quantity)
		}
	}
	for _, r := range reasons {
		if r.Code != nil && *r.Code == "TransactionConflict" {
			return nil
		}
	}
	// cancelled without a recognised reason; treat as retryable
	return nil
}

// backoff is exponential with up to 50% jitter.
func backoff(attempt int) time.Duration {
	exp := baseBackoff * time.Duration(1<<attempt)
	return exp + time.Duration(rand.Int64N(int64(exp/2)))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Get fetches an order by order_id. Returns (nil, nil) if not found.
func (s *Store) Get(ctx context.Context, orderID string) (*Order, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.tables.Orders,
		Key: map[string]types.AttributeValue{
			"order_id": &types.AttributeValueMemberS{Value: orderID},
		},
		ConsistentRead: boolPtr(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var o Order
	if err := attributevalue.UnmarshalMap(out.Item, &o); err != nil {
		return nil, fmt.Errorf("unmarshal order: %w", err)
	}
	return &o, nil
}

// ErrStatusMismatch is returned by UpdateStatus when the order is missing or
// not in the expected status.
var ErrStatusMismatch = errors.New("status mismatch/conditional failed")

// UpdateStatus conditionally moves an order from expected to next, setting
// any extra attributes in the same write, and returns the updated order.
func (s *Store) UpdateStatus(ctx context.Context, orderID string, expected, next Status, extra map[string]types.AttributeValue) (*Order, error) {
	updateExpr := "SET #s = :new, updated_at = :ua"
	values := map[string]types.AttributeValue{
		":new":      &types.AttributeValueMemberS{Value: string(next)},
		":expected": &types.AttributeValueMemberS{Value: string(expected)},
		":ua":       &types.AttributeValueMemberS{Value: s.nowFunc().UTC().Format(time.RFC3339Nano)},
	}
	names := make([]string, 0, len(extra))
	for attr := range extra {
		names = append(names, attr)
	}
	sort.Strings(names)
	for i, attr := range names {
		placeholder := ":x" + strconv.Itoa(i)
		updateExpr += fmt.Sprintf(", %s = %s", attr, placeholder)
		values[placeholder] = extra[attr]
	}

	out, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName: &s.tables.Orders,
		Key: map[string]types.AttributeValue{
			"order_id": &types.AttributeValueMemberS{Value: orderID},
		},
		UpdateExpression:          &updateExpr,
		ExpressionAttributeNames:  map[string]string{"#s": "status"},
		ExpressionAttributeValues: values,
		ConditionExpression:       aws.String("#s = :expected"),
		ReturnValues:              types.ReturnValueAllNew,
	})
	if err != nil {
		var sc *types.ConditionalCheckFailedException
		if errors.As(err, &sc) {
			return nil, ErrStatusMismatch
		}
		return nil, fmt.Errorf("update item: %w", err)
	}
	var o Order
	if err := attributevalue.UnmarshalMap(out.Attributes, &o); err != nil {
		return nil, fmt.Errorf("unmarshal order: %w", err)
	}
	return &o, nil
}

// MarkDispatched moves a pending order to dispatched, stamping when and by whom.
func (s *Store) MarkDispatched(ctx context.Context, orderID, dispatchedBy string, at time.Time) (*Order, error) {
	return s.UpdateStatus(ctx, orderID, StatusPending, StatusDispatched, map[string]types.AttributeValue{
		"dispatched_date": &types.AttributeValueMemberS{Value: at.UTC().Format(time.RFC3339Nano)},
		"dispatched_by":   &types.AttributeValueMemberS{Value: dispatchedBy},
	})
}

// ListByCustomer returns a customer's orders, newest first.
func (s *Store) ListByCustomer(ctx context.Context, customerID string, page, pageSize int) (Page, error) {
	orders, err := s.query(ctx, customerIndex, "customer_id", customerID, false)
	if err != nil {
		return Page{}, err
	}
	return paginate(orders, page, pageSize), nil
}

// ListByStatus returns orders in status. Pending dispatch queues read oldest
// first; staff views read newest first.
func (s *Store) ListByStatus(ctx context.Context, status Status, oldestFirst bool, page, pageSize int) (Page, error) {
	orders, err := s.query(ctx, statusIndex, "status", string(status), oldestFirst)
	if err != nil {
		return Page{}, err
	}
	return paginate(orders, page, pageSize), nil
}

// ListAll returns every order, newest first.
func (s *Store) ListAll(ctx context.Context, page, pageSize int) (Page, error) {
	in := &dyn.ScanInput{TableName: &s.tables.Orders}
	var orders []Order
	for {
		out, err := s.client.Scan(ctx, in)
		if err != nil {
			return Page{}, fmt.Errorf("scan orders: %w", err)
		}
		var batch []Order
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &batch); err != nil {
			return Page{}, fmt.Errorf("unmarshal orders: %w", err)
		}
		orders = append(orders, batch...)
		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		in.ExclusiveStartKey = out.LastEvaluatedKey
	}
	sort.SliceStable(orders, func(i, j int) bool { return orders[i].OrderSeq > orders[j].OrderSeq })
	return paginate(orders, page, pageSize), nil
}

func (s *Store) query(ctx context.Context, index, attr, value string, ascending bool) ([]Order, error) {
	in := &dyn.QueryInput{
		TableName:                 &s.tables.Orders,
		IndexName:                 aws.String(index),
		KeyConditionExpression:    aws.String("#k = :v"),
		ExpressionAttributeNames:  map[string]string{"#k": attr},
		ExpressionAttributeValues: map[string]types.AttributeValue{":v": &types.AttributeValueMemberS{Value: value}},
		ScanIndexForward:          boolPtr(ascending),
	}
	var orders []Order
	for {
		out, err := s.client.Query(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("query %s: %w", index, err)
		}
		var batch []Order
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &batch); err != nil {
			return nil, fmt.Errorf("unmarshal orders: %w", err)
		}
		orders = append(orders, batch...)
		if len(out.LastEvaluatedKey) == 0 {
			return orders, nil
		}
		in.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

func paginate(orders []Order, page, pageSize int) Page {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	if page <= 0 {
		page = 1
	}
	p := Page{Page: page, PageSize: pageSize, Total: len(orders), Items: []Order{}}
	start := (page - 1) * pageSize
	if start >= len(orders) {
		return p
	}
	end := min(start+pageSize, len(orders))
	p.Items = orders[start:end]
	return p
}

// total sums line totals.
func total(items []OrderItem) money.Amount {
	sum := money.Zero
	for _, it := range items {
		sum = sum.Add(it.TotalPrice)
	}
	return sum
}

func boolPtr(b bool) *bool { return &b }
