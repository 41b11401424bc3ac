package validation

import "github.com/imrishuroy/storefront-orderflow/internal/money"

// Item represents a single order line.
type Item struct {
	ProductID string `json:"product_id" validate:"required,max=64"`
	Quantity  int    `json:"quantity" validate:"required,min=1,max=100"`
}

// CreateOrderRequest is the payload for POST /orders. Prices are never taken
// from the client; they come from the catalog at placement time.
type CreateOrderRequest struct {
	Items []Item `json:"items" validate:"required,min=1,max=50,dive"`
}

// AddFundsRequest is the payload for POST /customers/funds.
type AddFundsRequest struct {
	Amount money.Amount `json:"amount"`
}

// ListQuery holds paging and filter query parameters.
type ListQuery struct {
	Page     int    `form:"page" validate:"omitempty,min=1"`
	PageSize int    `form:"page_size" validate:"omitempty,min=1,max=100"`
	Status   string `form:"status" validate:"omitempty,oneof=PENDING DISPATCHED"`
}

// ProductQuery holds catalog listing filters.
type ProductQuery struct {
	Category          string `form:"category" validate:"omitempty,max=100"`
	IncludeOutOfStock bool   `form:"include_out_of_stock"`
}
