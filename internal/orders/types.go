package orders

import (
	"time"

	"github.com/imrishuroy/storefront-orderflow/internal/money"
)

// Status is an order's lifecycle state. Orders move PENDING -> DISPATCHED once.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusDispatched Status = "DISPATCHED"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s == StatusPending || s == StatusDispatched
}

// Order represents the item stored in the orders DynamoDB table.
type Order struct {
	OrderID         string       `dynamodbav:"order_id" json:"order_id"` // PK
	OrderNumber     string       `dynamodbav:"order_number" json:"order_number"`
	OrderSeq        int64        `dynamodbav:"order_seq" json:"-"` // sort key of the listing indexes
	CustomerID      string       `dynamodbav:"customer_id" json:"customer_id"`
	Status          Status       `dynamodbav:"status" json:"status"`
	TotalAmount     money.Amount `dynamodbav:"total_amount" json:"total_amount"`
	DeliveryAddress string       `dynamodbav:"delivery_address" json:"delivery_address"`
	PhoneNumber     string       `dynamodbav:"phone_number" json:"phone_number"`
	OrderDate       time.Time    `dynamodbav:"order_date" json:"order_date"`
	DispatchedDate  *time.Time   `dynamodbav:"dispatched_date,omitempty" json:"dispatched_date,omitempty"`
	DispatchedBy    string       `dynamodbav:"dispatched_by,omitempty" json:"dispatched_by,omitempty"`
	Items           []OrderItem  `dynamodbav:"items" json:"items"`
	CreatedAt       time.Time    `dynamodbav:"created_at" json:"created_at"`
	UpdatedAt       time.Time    `dynamodbav:"updated_at" json:"updated_at"`
}

// OrderItem is one line of an order. UnitPrice is the product's price when
// the order was placed and is never recomputed.
type OrderItem struct {
	ProductID   string       `dynamodbav:"product_id" json:"product_id"`
	ProductName string       `dynamodbav:"product_name" json:"product_name"`
	SupplierID  string       `dynamodbav:"supplier_id" json:"supplier_id"`
	Quantity    int          `dynamodbav:"quantity" json:"quantity"`
	UnitPrice   money.Amount `dynamodbav:"unit_price" json:"unit_price"`
	TotalPrice  money.Amount `dynamodbav:"total_price" json:"total_price"`
}

// LineRequest asks for quantity units of a product.
type LineRequest struct {
	ProductID string
	Quantity  int
}

// Page is one page of a listing.
type Page struct {
	Items    []Order `json:"items"`
	Page     int     `json:"page"`
	PageSize int     `json:"page_size"`
	Total    int     `json:"total"`
}

// Paging defaults.
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)
