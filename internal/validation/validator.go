package validation

import (
	"fmt"

	validatorv10 "github.com/go-playground/validator/v10"

	"github.com/imrishuroy/storefront-orderflow/internal/money"
)

// maxFundsTopUp caps a single credit.
var maxFundsTopUp = money.MustParse("10000.00")

// New returns a configured validator with custom struct-level validation registered.
func New() *validatorv10.Validate {
	v := validatorv10.New()

	// an order names each product once; repeated lines would be checked
	// against stock separately and could jointly oversell it
	v.RegisterStructValidation(createOrderStructValidation, CreateOrderRequest{})
	v.RegisterStructValidation(addFundsStructValidation, AddFundsRequest{})

	return v
}

func createOrderStructValidation(sl validatorv10.StructLevel) {
	req := sl.Current().Interface().(CreateOrderRequest)

	seen := make(map[string]bool, len(req.Items))
	for i, it := range req.Items {
		if it.ProductID == "" {
			continue
		}
		if seen[it.ProductID] {
			sl.ReportError(req.Items[i].ProductID, fmt.Sprintf("items[%d].product_id", i), "ProductID", "unique_product", it.ProductID)
			return
		}
		seen[it.ProductID] = true
	}
}

// addFundsStructValidation requires 0.01 <= amount <= maxFundsTopUp in
// whole cents.
func addFundsStructValidation(sl validatorv10.StructLevel) {
	req := sl.Current().Interface().(AddFundsRequest)

	switch {
	case !req.Amount.IsPositive():
		sl.ReportError(req.Amount, "amount", "Amount", "gt", "0")
	case req.Amount.GreaterThan(maxFundsTopUp):
		sl.ReportError(req.Amount, "amount", "Amount", "max", maxFundsTopUp.String())
	case !req.Amount.Equal(req.Amount.Round()):
		sl.ReportError(req.Amount, "amount", "Amount", "cents", "2")
	}
}
