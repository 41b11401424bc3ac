package catalog

import (
	"time"

	"github.com/imrishuroy/storefront-orderflow/internal/money"
)

// Product is a catalog entry. CurrentPrice and StockQuantity are read-cache
// snapshots derived from the product's active supplier links; they are
// written only by reconciliation and by the order commit's guarded decrement.
type Product struct {
	ProductID       string       `dynamodbav:"product_id" json:"product_id"`
	Name            string       `dynamodbav:"name" json:"name"`
	Description     string       `dynamodbav:"description,omitempty" json:"description,omitempty"`
	Category        string       `dynamodbav:"category,omitempty" json:"category,omitempty"`
	BasePrice       money.Amount `dynamodbav:"base_price" json:"base_price"`
	CurrentPrice    money.Amount `dynamodbav:"current_price" json:"current_price"`
	StockQuantity   int          `dynamodbav:"stock_quantity" json:"stock_quantity"`
	LastStockUpdate time.Time    `dynamodbav:"last_stock_update" json:"last_stock_update"`
	ImageURL        string       `dynamodbav:"image_url,omitempty" json:"image_url,omitempty"`
	IsActive        bool         `dynamodbav:"is_active" json:"is_active"`
	Version         int64        `dynamodbav:"version" json:"-"`
	CreatedAt       time.Time    `dynamodbav:"created_at" json:"created_at"`
	UpdatedAt       time.Time    `dynamodbav:"updated_at" json:"updated_at"`
}

// Supplier is an upstream vendor. Inactive suppliers are ignored for
// aggregation and purchasing.
type Supplier struct {
	SupplierID  string `dynamodbav:"supplier_id" json:"supplier_id"`
	Name        string `dynamodbav:"name" json:"name"`
	APIEndpoint string `dynamodbav:"api_endpoint,omitempty" json:"api_endpoint,omitempty"`
	IsActive    bool   `dynamodbav:"is_active" json:"is_active"`
}

// Link is a supplier's offer for a product: the source of truth for price and stock.
type Link struct {
	ProductID         string       `dynamodbav:"product_id" json:"product_id"`
	SupplierID        string       `dynamodbav:"supplier_id" json:"supplier_id"`
	SupplierProductID string       `dynamodbav:"supplier_product_id,omitempty" json:"supplier_product_id,omitempty"`
	SupplierPrice     money.Amount `dynamodbav:"supplier_price" json:"supplier_price"`
	StockQuantity     int          `dynamodbav:"stock_quantity" json:"stock_quantity"`
	LastUpdated       time.Time    `dynamodbav:"last_updated" json:"last_updated"`
}

// Tables names the DynamoDB tables backing the catalog.
type Tables struct {
	Products  string
	Suppliers string
	Links     string
}
