package customers

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"github.com/imrishuroy/storefront-orderflow/internal/aws"
	"github.com/imrishuroy/storefront-orderflow/internal/money"
)

var (
	ErrNotFound      = errors.New("customer not found")
	ErrInvalidAmount = errors.New("amount must be greater than zero")
	// ErrConflict means the balance kept changing underneath a credit.
	ErrConflict = errors.New("customer funds changed concurrently")
)

const maxCreditAttempts = 3

// Store encapsulates operations on the customers and audit log tables.
type Store struct {
	client     aws.DynamoDBAPI
	tableName  string
	auditTable string
	nowFunc    func() time.Time
}

// NewStore creates a new customers Store.
func NewStore(client aws.DynamoDBAPI, tableName, auditTable string) *Store {
	return &Store{
		client:     client,
		tableName:  tableName,
		auditTable: auditTable,
		nowFunc:    time.Now,
	}
}

// TableName is the customers table, used by the order commit transaction.
func (s *Store) TableName() string { return s.tableName }

// Get fetches a customer by id. Returns (nil, nil) if not found.
func (s *Store) Get(ctx context.Context, customerID string) (*Customer, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &s.tableName,
		Key:            map[string]types.AttributeValue{"customer_id": &types.AttributeValueMemberS{Value: customerID}},
		ConsistentRead: boolPtr(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get customer: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var c Customer
	if err := attributevalue.UnmarshalMap(out.Item, &c); err != nil {
		return nil, fmt.Errorf("unmarshal customer: %w", err)
	}
	return &c, nil
}

// GetFunds returns an active customer's balance.
func (s *Store) GetFunds(ctx context.Context, customerID string) (money.Amount, error) {
	c, err := s.Get(ctx, customerID)
	if err != nil {
		return money.Zero, err
	}
	if c == nil || !c.IsActive {
		return money.Zero, ErrNotFound
	}
	return c.AccountFunds, nil
}

// Put writes c, creating or replacing it.
func (s *Store) Put(ctx context.Context, c Customer) error {
	now := s.nowFunc().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	item, err := attributevalue.MarshalMap(c)
	if err != nil {
		return fmt.Errorf("marshal customer: %w", err)
	}
	if _, err := s.client.PutItem(ctx, &dyn.PutItemInput{TableName: &s.tableName, Item: item}); err != nil {
		return fmt.Errorf("put customer: %w", err)
	}
	return nil
}

// AddFunds credits amount to the customer's balance and writes an audit
// entry in the same transaction. The credit is guarded on the balance that
// was read, so the audited old and new values are exact.
func (s *Store) AddFunds(ctx context.Context, customerID string, amount money.Amount, changedBy string) (money.Amount, error) {
	if !amount.IsPositive() {
		return money.Zero, ErrInvalidAmount
	}

	for attempt := 0; attempt < maxCreditAttempts; attempt++ {
		c, err := s.Get(ctx, customerID)
		if err != nil {
			return money.Zero, err
		}
		if c == nil || !c.IsActive {
			return money.Zero, ErrNotFound
		}

		balance := c.AccountFunds.Add(amount)
		err = s.credit(ctx, c, amount, balance, changedBy)
		if err == nil {
			return balance, nil
		}
		var tce *types.TransactionCanceledException
		if !errors.As(err, &tce) {
			return money.Zero, err
		}
	}
	return money.Zero, ErrConflict
}

func (s *Store) credit(ctx context.Context, c *Customer, amount, balance money.Amount, changedBy string) error {
	now := s.nowFunc().UTC()
	entry := AuditEntry{
		AuditID:    uuid.NewString(),
		CustomerID: c.CustomerID,
		Action:     ActionFundsAdded,
		OldValue:   c.AccountFunds.String(),
		NewValue:   balance.String(),
		ChangedBy:  changedBy,
		ChangedAt:  now,
	}
	auditItem, err := attributevalue.MarshalMap(entry)
	if err != nil {
		return fmt.Errorf("marshal audit entry: %w", err)
	}

	_, err = s.client.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Update: &types.Update{
					TableName:           &s.tableName,
					Key:                 map[string]types.AttributeValue{"customer_id": &types.AttributeValueMemberS{Value: c.CustomerID}},
					UpdateExpression:    aws.String("SET account_funds = account_funds + :amt, updated_at = :now"),
					ConditionExpression: aws.String("attribute_exists(customer_id) AND account_funds = :old"),
					ExpressionAttributeValues: map[string]types.AttributeValue{
						":amt": amount.AttributeValue(),
						":old": c.AccountFunds.AttributeValue(),
						":now": &types.AttributeValueMemberS{Value: now.Format(time.RFC3339Nano)},
					},
				},
			},
			{
				Put: &types.Put{
					TableName:           &s.auditTable,
					Item:                auditItem,
					ConditionExpression: aws.String("attribute_not_exists(audit_id)"),
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("credit funds: %w", err)
	}
	return nil
}

// AuditLog returns a customer's audit entries, oldest first.
func (s *Store) AuditLog(ctx context.Context, customerID string) ([]AuditEntry, error) {
	in := &dyn.ScanInput{
		TableName:                 &s.auditTable,
		FilterExpression:          aws.String("customer_id = :c"),
		ExpressionAttributeValues: map[string]types.AttributeValue{":c": &types.AttributeValueMemberS{Value: customerID}},
	}
	var entries []AuditEntry
	for {
		out, err := s.client.Scan(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("scan audit log: %w", err)
		}
		var page []AuditEntry
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &page); err != nil {
			return nil, fmt.Errorf("unmarshal audit log: %w", err)
		}
		entries = append(entries, page...)
		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		in.ExclusiveStartKey = out.LastEvaluatedKey
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].ChangedAt.Before(entries[j].ChangedAt) })
	return entries, nil
}

func boolPtr(b bool) *bool { return &b }
