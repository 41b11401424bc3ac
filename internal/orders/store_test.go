package orders

import (
	"context"
	"errors"
	"testing"
	"time"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/storefront-orderflow/internal/aws/awstest"
	"github.com/imrishuroy/storefront-orderflow/internal/money"
)

var testTables = Tables{
	Orders:    "orders",
	Customers: "customers",
	Products:  "products",
	Counters:  "counters",
}

var fixedNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestStore(db *awstest.Dynamo) *Store {
	s := NewStore(db, testTables)
	s.nowFunc = func() time.Time { return fixedNow }
	s.sleep = func(context.Context, time.Duration) error { return nil }
	return s
}

func seedOrder(t *testing.T, s *Store, id, customerID string, seq int64, status Status) Order {
	t.Helper()
	o := Order{
		OrderID:     id,
		OrderNumber: FormatOrderNumber(fixedNow, seq),
		OrderSeq:    seq,
		CustomerID:  customerID,
		Status:      status,
		TotalAmount: money.Zero,
		OrderDate:   fixedNow.Add(time.Duration(seq) * time.Minute),
		Items:       []OrderItem{},
		CreatedAt:   fixedNow,
		UpdatedAt:   fixedNow,
	}
	s.client.(*awstest.Dynamo).Seed("customers", awstest.Item{
		"customer_id":   &types.AttributeValueMemberS{Value: customerID},
		"account_funds": &types.AttributeValueMemberN{Value: "1000"},
		"is_active":     &types.AttributeValueMemberBOOL{Value: true},
	})
	require.NoError(t, s.CommitPlacement(context.Background(), o))
	return o
}

func TestFormatOrderNumber(t *testing.T) {
	at := time.Date(2024, 12, 31, 23, 59, 0, 0, time.FixedZone("x", 3*3600))
	require.Equal(t, "ORD-20241231-000042", FormatOrderNumber(at, 42))
	require.Equal(t, "ORD-20250301-1234567", FormatOrderNumber(fixedNow, 1234567))
}

func TestNextOrderNumber_Monotonic(t *testing.T) {
	s := newTestStore(awstest.Storefront())
	ctx := context.Background()

	n1, seq1, err := s.NextOrderNumber(ctx, fixedNow)
	require.NoError(t, err)
	n2, seq2, err := s.NextOrderNumber(ctx, fixedNow)
	require.NoError(t, err)

	require.Equal(t, int64(1), seq1)
	require.Equal(t, int64(2), seq2)
	require.Equal(t, "ORD-20250301-000001", n1)
	require.Equal(t, "ORD-20250301-000002", n2)
}

func TestCommitPlacement_RejectsDuplicateOrderID(t *testing.T) {
	s := newTestStore(awstest.Storefront())
	o := seedOrder(t, s, "o1", "c1", 1, StatusPending)

	err := s.CommitPlacement(context.Background(), o)
	require.ErrorIs(t, err, ErrCommitFailed)
}

func TestCommitPlacement_RetriesTransactionConflict(t *testing.T) {
	db := awstest.Storefront()
	s := newTestStore(db)
	db.FailNext("TransactWriteItems", &types.TransactionCanceledException{
		CancellationReasons: []types.CancellationReason{
			{Code: sdkaws.String("None")},
			{Code: sdkaws.String("TransactionConflict")},
		},
	})

	seedOrder(t, s, "o1", "c1", 1, StatusPending)
	require.Equal(t, 2, db.Calls("TransactWriteItems"))
	require.Equal(t, 1, db.Len("orders"))
}

func TestCommitPlacement_GivesUpAfterRepeatedConflicts(t *testing.T) {
	db := awstest.Storefront()
	s := newTestStore(db)
	for i := 0; i < maxCommitAttempts; i++ {
		db.FailNext("TransactWriteItems", &types.TransactionCanceledException{})
	}
	db.Seed("customers", awstest.Item{
		"customer_id":   &types.AttributeValueMemberS{Value: "c1"},
		"account_funds": &types.AttributeValueMemberN{Value: "10"},
		"is_active":     &types.AttributeValueMemberBOOL{Value: true},
	})

	err := s.CommitPlacement(context.Background(), Order{OrderID: "o1", CustomerID: "c1", Status: StatusPending, TotalAmount: money.Zero})
	require.ErrorIs(t, err, ErrCommitFailed)
	require.Equal(t, maxCommitAttempts, db.Calls("TransactWriteItems"))
	require.Equal(t, 0, db.Len("orders"))
}

func TestCommitPlacement_InfrastructureErrorIsNotRetried(t *testing.T) {
	db := awstest.Storefront()
	s := newTestStore(db)
	db.FailNext("TransactWriteItems", errors.New("throttled"))

	err := s.CommitPlacement(context.Background(), Order{OrderID: "o1", CustomerID: "c1"})
	require.ErrorIs(t, err, ErrCommitFailed)
	require.ErrorContains(t, err, "throttled")
	require.Equal(t, 1, db.Calls("TransactWriteItems"))
}

func TestCancellationCause(t *testing.T) {
	order := Order{Items: []OrderItem{{ProductID: "p1", Quantity: 2}, {ProductID: "p2", Quantity: 1}}}
	reasons := func(codes ...string) []types.CancellationReason {
		out := make([]types.CancellationReason, len(codes))
		for i, c := range codes {
			out[i] = types.CancellationReason{Code: sdkaws.String(c)}
		}
		return out
	}

	require.ErrorIs(t, cancellationCause(reasons("ConditionalCheckFailed"), order), ErrCommitFailed)
	require.ErrorIs(t, cancellationCause(reasons("None", "ConditionalCheckFailed"), order), ErrInsufficientFunds)

	err := cancellationCause(reasons("None", "None", "None", "ConditionalCheckFailed"), order)
	require.ErrorIs(t, err, ErrInsufficientStock)
	require.Equal(t, "p2", err.ProductID)

	require.Nil(t, cancellationCause(reasons("None", "TransactionConflict"), order))
	require.Nil(t, cancellationCause(nil, order))
}

func TestBackoffGrows(t *testing.T) {
	for attempt := 0; attempt < 3; attempt++ {
		exp := baseBackoff * time.Duration(1<<attempt)
		d := backoff(attempt)
		require.GreaterOrEqual(t, d, exp)
		require.Less(t, d, exp+exp/2)
	}
}

func TestMarkDispatched_Once(t *testing.T) {
	s := newTestStore(awstest.Storefront())
	ctx := context.Background()
	seedOrder(t, s, "o1", "c1", 1, StatusPending)
	at := fixedNow.Add(time.Hour)

	o, err := s.MarkDispatched(ctx, "o1", "staff@example.com", at)
	require.NoError(t, err)
	require.Equal(t, StatusDispatched, o.Status)
	require.Equal(t, "staff@example.com", o.DispatchedBy)
	require.NotNil(t, o.DispatchedDate)
	require.True(t, at.Equal(*o.DispatchedDate))

	_, err = s.MarkDispatched(ctx, "o1", "other@example.com", at.Add(time.Hour))
	require.ErrorIs(t, err, ErrStatusMismatch)

	got, err := s.Get(ctx, "o1")
	require.NoError(t, err)
	require.Equal(t, "staff@example.com", got.DispatchedBy)

	_, err = s.MarkDispatched(ctx, "missing", "staff@example.com", at)
	require.ErrorIs(t, err, ErrStatusMismatch)
}

func TestGet_NotFound(t *testing.T) {
	s := newTestStore(awstest.Storefront())
	o, err := s.Get(context.Background(), "nope")
	require.NoError(t, err)
	require.Nil(t, o)
}

func TestListings(t *testing.T) {
	s := newTestStore(awstest.Storefront())
	ctx := context.Background()
	seedOrder(t, s, "o1", "c1", 1, StatusPending)
	seedOrder(t, s, "o2", "c2", 2, StatusPending)
	seedOrder(t, s, "o3", "c1", 3, StatusPending)
	_, err := s.MarkDispatched(ctx, "o2", "staff", fixedNow)
	require.NoError(t, err)

	ids := func(p Page) []string {
		out := make([]string, 0, len(p.Items))
		for _, o := range p.Items {
			out = append(out, o.OrderID)
		}
		return out
	}

	history, err := s.ListByCustomer(ctx, "c1", 1, 10)
	require.NoError(t, err)
	require.Equal(t, []string{"o3", "o1"}, ids(history))

	pending, err := s.ListByStatus(ctx, StatusPending, true, 1, 10)
	require.NoError(t, err)
	require.Equal(t, []string{"o1", "o3"}, ids(pending))

	dispatched, err := s.ListByStatus(ctx, StatusDispatched, false, 1, 10)
	require.NoError(t, err)
	require.Equal(t, []string{"o2"}, ids(dispatched))

	all, err := s.ListAll(ctx, 1, 2)
	require.NoError(t, err)
	require.Equal(t, []string{"o3", "o2"}, ids(all))
	require.Equal(t, 3, all.Total)

	second, err := s.ListAll(ctx, 2, 2)
	require.NoError(t, err)
	require.Equal(t, []string{"o1"}, ids(second))
}

func TestPaginate_Bounds(t *testing.T) {
	orders := make([]Order, 5)
	p := paginate(orders, 0, 0)
	require.Equal(t, 1, p.Page)
	require.Equal(t, DefaultPageSize, p.PageSize)
	require.Len(t, p.Items, 5)

	p = paginate(orders, 1, 1000)
	require.Equal(t, MaxPageSize, p.PageSize)

	p = paginate(orders, 9, 2)
	require.Empty(t, p.Items)
	require.NotNil(t, p.Items)
	require.Equal(t, 5, p.Total)
}
