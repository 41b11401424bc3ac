package orders

import (
	"errors"
	"fmt"
)

// Placement and dispatch failures. Every rejection returned by Service is a
// *PlacementError whose Kind is one of these, so errors.Is works on it.
var (
	ErrInvalidRequest            = errors.New("invalid order request")
	ErrCustomerNotFound          = errors.New("customer not found")
	ErrIncompleteProfile         = errors.New("customer profile incomplete")
	ErrProductNotFound           = errors.New("product not found")
	ErrInsufficientStock         = errors.New("insufficient stock")
	ErrInsufficientFunds         = errors.New("insufficient funds")
	ErrSupplierReservationFailed = errors.New("supplier reservation failed")
	ErrCommitFailed              = errors.New("order commit failed")
	ErrOrderNotFound             = errors.New("order not found")
)

// PlacementError carries which constraint failed and for which product.
type PlacementError struct {
	Kind      error
	ProductID string
	Detail    string
	Err       error
}

func (e *PlacementError) Error() string {
	msg := e.Kind.Error()
	if e.ProductID != "" {
		msg = fmt.Sprintf("%s: product %s", msg, e.ProductID)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *PlacementError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func reject(kind error, productID, format string, args ...any) *PlacementError {
	return &PlacementError{Kind: kind, ProductID: productID, Detail: fmt.Sprintf(format, args...)}
}
