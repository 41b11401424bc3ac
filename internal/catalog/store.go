package catalog

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/imrishuroy/storefront-orderflow/internal/aws"
	"github.com/imrishuroy/storefront-orderflow/internal/money"
)

var (
	// ErrVersionConflict means a product changed between read and guarded write.
	ErrVersionConflict = errors.New("product version changed")
	// ErrLinkStockExhausted means a supplier link no longer holds the requested quantity.
	ErrLinkStockExhausted = errors.New("supplier stock exhausted")
	// ErrLinkNotFound means no link exists for the product/supplier pair.
	ErrLinkNotFound = errors.New("supplier link not found")
)

// Store encapsulates operations on the products, suppliers and links tables.
type Store struct {
	client  aws.DynamoDBAPI
	tables  Tables
	nowFunc func() time.Time
}

// NewStore creates a new catalog Store.
func NewStore(client aws.DynamoDBAPI, tables Tables) *Store {
	return &Store{
		client:  client,
		tables:  tables,
		nowFunc: time.Now,
	}
}

// Tables reports the table names the store writes to.
func (s *Store) Tables() Tables { return s.tables }

// GetProduct fetches a product by id. Returns (nil, nil) if not found.
func (s *Store) GetProduct(ctx context.Context, productID string) (*Product, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &s.tables.Products,
		Key:            map[string]types.AttributeValue{"product_id": str(productID)},
		ConsistentRead: boolPtr(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get product: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var p Product
	if err := attributevalue.UnmarshalMap(out.Item, &p); err != nil {
		return nil, fmt.Errorf("unmarshal product: %w", err)
	}
	return &p, nil
}

// PutProduct writes p, creating or replacing it.
func (s *Store) PutProduct(ctx context.Context, p Product) error {
	now := s.nowFunc().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	item, err := attributevalue.MarshalMap(p)
	if err != nil {
		return fmt.Errorf("marshal product: %w", err)
	}
	if _, err := s.client.PutItem(ctx, &dyn.PutItemInput{TableName: &s.tables.Products, Item: item}); err != nil {
		return fmt.Errorf("put product: %w", err)
	}
	return nil
}

// ListProducts returns active products, optionally narrowed to a category and
// to products with cached stock on hand.
func (s *Store) ListProducts(ctx context.Context, category string, includeOutOfStock bool) ([]Product, error) {
	filter := "is_active = :t"
	values := map[string]types.AttributeValue{":t": &types.AttributeValueMemberBOOL{Value: true}}
	if category != "" {
		filter += " AND category = :c"
		values[":c"] = str(category)
	}
	if !includeOutOfStock {
		filter += " AND stock_quantity > :zero"
		values[":zero"] = num(0)
	}

	var products []Product
	err := s.scan(ctx, &dyn.ScanInput{
		TableName:                 &s.tables.Products,
		FilterExpression:          &filter,
		ExpressionAttributeValues: values,
	}, func(items []map[string]types.AttributeValue) error {
		var page []Product
		if err := attributevalue.UnmarshalListOfMaps(items, &page); err != nil {
			return fmt.Errorf("unmarshal products: %w", err)
		}
		products = append(products, page...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(products, func(i, j int) bool { return products[i].Name < products[j].Name })
	return products, nil
}

// ActiveProducts returns every active product regardless of stock.
func (s *Store) ActiveProducts(ctx context.Context) ([]Product, error) {
	return s.ListProducts(ctx, "", true)
}

// UpdateProductStock overwrites the cached stock if the product is still at
// expectedVersion. Returns ErrVersionConflict otherwise.
func (s *Store) UpdateProductStock(ctx context.Context, productID string, expectedVersion int64, qty int) error {
	now := s.nowFunc().UTC().Format(time.RFC3339Nano)
	return s.guardedProductUpdate(ctx, productID, expectedVersion,
		"SET stock_quantity = :qty, last_stock_update = :now, updated_at = :now, version = :next",
		map[string]types.AttributeValue{
			":qty": num(qty),
			":now": str(now),
		})
}

// UpdateProductPrice overwrites the cached price if the product is still at expectedVersion.
func (s *Store) UpdateProductPrice(ctx context.Context, productID string, expectedVersion int64, price money.Amount) error {
	now := s.nowFunc().UTC().Format(time.RFC3339Nano)
	return s.guardedProductUpdate(ctx, productID, expectedVersion,
		"SET current_price = :price, updated_at = :now, version = :next",
		map[string]types.AttributeValue{
			":price": price.AttributeValue(),
			":now":   str(now),
		})
}

func (s *Store) guardedProductUpdate(ctx context.Context, productID string, expectedVersion int64, update string, values map[string]types.AttributeValue) error {
	values[":v"] = num64(expectedVersion)
	values[":next"] = num64(expectedVersion + 1)
	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:                 &s.tables.Products,
		Key:                       map[string]types.AttributeValue{"product_id": str(productID)},
		UpdateExpression:          &update,
		ConditionExpression:       aws.String("attribute_exists(product_id) AND version = :v"),
		ExpressionAttributeValues: values,
	})
	if err != nil {
		var cf *types.ConditionalCheckFailedException
		if errors.As(err, &cf) {
			return ErrVersionConflict
		}
		return fmt.Errorf("update product %s: %w", productID, err)
	}
	return nil
}

// GetSupplier fetches a supplier by id. Returns (nil, nil) if not found.
func (s *Store) GetSupplier(ctx context.Context, supplierID string) (*Supplier, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.tables.Suppliers,
		Key:       map[string]types.AttributeValue{"supplier_id": str(supplierID)},
	})
	if err != nil {
		return nil, fmt.Errorf("get supplier: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var sup Supplier
	if err := attributevalue.UnmarshalMap(out.Item, &sup); err != nil {
		return nil, fmt.Errorf("unmarshal supplier: %w", err)
	}
	return &sup, nil
}

// PutSupplier writes sup, creating or replacing it.
func (s *Store) PutSupplier(ctx context.Context, sup Supplier) error {
	item, err := attributevalue.MarshalMap(sup)
	if err != nil {
		return fmt.Errorf("marshal supplier: %w", err)
	}
	if _, err := s.client.PutItem(ctx, &dyn.PutItemInput{TableName: &s.tables.Suppliers, Item: item}); err != nil {
		return fmt.Errorf("put supplier: %w", err)
	}
	return nil
}

// ActiveSupplierIDs returns the set of active supplier ids.
func (s *Store) ActiveSupplierIDs(ctx context.Context) (map[string]bool, error) {
	active := map[string]bool{}
	err := s.scan(ctx, &dyn.ScanInput{
		TableName:                 &s.tables.Suppliers,
		FilterExpression:          aws.String("is_active = :t"),
		ExpressionAttributeValues: map[string]types.AttributeValue{":t": &types.AttributeValueMemberBOOL{Value: true}},
	}, func(items []map[string]types.AttributeValue) error {
		var page []Supplier
		if err := attributevalue.UnmarshalListOfMaps(items, &page); err != nil {
			return fmt.Errorf("unmarshal suppliers: %w", err)
		}
		for _, sup := range page {
			active[sup.SupplierID] = true
		}
		return nil
	})
	return active, err
}

// PutLink writes l, creating or replacing it.
func (s *Store) PutLink(ctx context.Context, l Link) error {
	if l.LastUpdated.IsZero() {
		l.LastUpdated = s.nowFunc().UTC()
	}
	item, err := attributevalue.MarshalMap(l)
	if err != nil {
		return fmt.Errorf("marshal link: %w", err)
	}
	if _, err := s.client.PutItem(ctx, &dyn.PutItemInput{TableName: &s.tables.Links, Item: item}); err != nil {
		return fmt.Errorf("put link: %w", err)
	}
	return nil
}

// Links returns every link for a product.
func (s *Store) Links(ctx context.Context, productID string) ([]Link, error) {
	out, err := s.client.Query(ctx, &dyn.QueryInput{
		TableName:                 &s.tables.Links,
		KeyConditionExpression:    aws.String("product_id = :p"),
		ExpressionAttributeValues: map[string]types.AttributeValue{":p": str(productID)},
		ConsistentRead:            boolPtr(true),
	})
	if err != nil {
		return nil, fmt.Errorf("query links: %w", err)
	}
	var links []Link
	if err := attributevalue.UnmarshalListOfMaps(out.Items, &links); err != nil {
		return nil, fmt.Errorf("unmarshal links: %w", err)
	}
	return links, nil
}

// ActiveLinks returns the product's links whose supplier is active, cheapest
// first. Ties are broken by supplier id so the order is stable.
func (s *Store) ActiveLinks(ctx context.Context, productID string) ([]Link, error) {
	links, err := s.Links(ctx, productID)
	if err != nil {
		return nil, err
	}
	active, err := s.ActiveSupplierIDs(ctx)
	if err != nil {
		return nil, err
	}
	return FilterActive(links, active), nil
}

// FilterActive keeps links of active suppliers, sorted cheapest first.
func FilterActive(links []Link, active map[string]bool) []Link {
	out := make([]Link, 0, len(links))
	for _, l := range links {
		if active[l.SupplierID] {
			out = append(out, l)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if c := out[i].SupplierPrice.Cmp(out[j].SupplierPrice); c != 0 {
			return c < 0
		}
		return out[i].SupplierID < out[j].SupplierID
	})
	return out
}

// AllLinks scans every link in the catalog.
func (s *Store) AllLinks(ctx context.Context) ([]Link, error) {
	var links []Link
	err := s.scan(ctx, &dyn.ScanInput{TableName: &s.tables.Links}, func(items []map[string]types.AttributeValue) error {
		var page []Link
		if err := attributevalue.UnmarshalListOfMaps(items, &page); err != nil {
			return fmt.Errorf("unmarshal links: %w", err)
		}
		links = append(links, page...)
		return nil
	})
	return links, err
}

// TakeLinkStock decrements a link's stock by qty if at least qty remain.
// Returns ErrLinkStockExhausted when the guard fails.
func (s *Store) TakeLinkStock(ctx context.Context, productID, supplierID string, qty int) error {
	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:           &s.tables.Links,
		Key:                 linkKey(productID, supplierID),
		UpdateExpression:    aws.String("SET stock_quantity = stock_quantity - :q, last_updated = :now"),
		ConditionExpression: aws.String("attribute_exists(supplier_id) AND stock_quantity >= :q"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":q":   num(qty),
			":now": str(s.nowFunc().UTC().Format(time.RFC3339Nano)),
		},
	})
	if err != nil {
		var cf *types.ConditionalCheckFailedException
		if errors.As(err, &cf) {
			return ErrLinkStockExhausted
		}
		return fmt.Errorf("take link stock: %w", err)
	}
	return nil
}

// ReturnLinkStock adds qty back to a link.
func (s *Store) ReturnLinkStock(ctx context.Context, productID, supplierID string, qty int) error {
	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:           &s.tables.Links,
		Key:                 linkKey(productID, supplierID),
		UpdateExpression:    aws.String("SET stock_quantity = stock_quantity + :q, last_updated = :now"),
		ConditionExpression: aws.String("attribute_exists(supplier_id)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":q":   num(qty),
			":now": str(s.nowFunc().UTC().Format(time.RFC3339Nano)),
		},
	})
	if err != nil {
		var cf *types.ConditionalCheckFailedException
		if errors.As(err, &cf) {
			return ErrLinkNotFound
		}
		return fmt.Errorf("return link stock: %w", err)
	}
	return nil
}

// SetLinkStock overwrites a link's stock level.
func (s *Store) SetLinkStock(ctx context.Context, productID, supplierID string, qty int) error {
	return s.setLink(ctx, productID, supplierID, "stock_quantity", num(qty))
}

// SetLinkPrice overwrites a link's supplier price.
func (s *Store) SetLinkPrice(ctx context.Context, productID, supplierID string, price money.Amount) error {
	return s.setLink(ctx, productID, supplierID, "supplier_price", price.AttributeValue())
}

func (s *Store) setLink(ctx context.Context, productID, supplierID, attr string, v types.AttributeValue) error {
	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:           &s.tables.Links,
		Key:                 linkKey(productID, supplierID),
		UpdateExpression:    aws.String("SET #a = :v, last_updated = :now"),
		ConditionExpression: aws.String("attribute_exists(supplier_id)"),
		ExpressionAttributeNames: map[string]string{
			"#a": attr,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":v":   v,
			":now": str(s.nowFunc().UTC().Format(time.RFC3339Nano)),
		},
	})
	if err != nil {
		var cf *types.ConditionalCheckFailedException
		if errors.As(err, &cf) {
			return ErrLinkNotFound
		}
		return fmt.Errorf("set link %s: %w", attr, err)
	}
	return nil
}

func (s *Store) scan(ctx context.Context, in *dyn.ScanInput, page func([]map[string]types.AttributeValue) error) error {
	for {
		out, err := s.client.Scan(ctx, in)
		if err != nil {
			return fmt.Errorf("scan %s: %w", *in.TableName, err)
		}
		if err := page(out.Items); err != nil {
			return err
		}
		if len(out.LastEvaluatedKey) == 0 {
			return nil
		}
		in.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

func linkKey(productID, supplierID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"product_id":  str(productID),
		"supplier_id": str(supplierID),
	}
}

func str(v string) types.AttributeValue { return &types.AttributeValueMemberS{Value: v} }
func num(v int) types.AttributeValue    { return &types.AttributeValueMemberN{Value: strconv.Itoa(v)} }
func num64(v int64) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(v, 10)}
}
func boolPtr(b bool) *bool { return &b }
