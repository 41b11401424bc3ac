package customers

import (
	"strings"
	"time"

	"github.com/imrishuroy/storefront-orderflow/internal/money"
)

// Customer is the profile the order path reads and debits.
type Customer struct {
	CustomerID      string       `dynamodbav:"customer_id" json:"customer_id"`
	Name            string       `dynamodbav:"name" json:"name"`
	Email           string       `dynamodbav:"email" json:"email"`
	PhoneNumber     string       `dynamodbav:"phone_number" json:"phone_number"`
	DeliveryAddress string       `dynamodbav:"delivery_address" json:"delivery_address"`
	PaymentAddress  string       `dynamodbav:"payment_address,omitempty" json:"payment_address,omitempty"`
	AccountFunds    money.Amount `dynamodbav:"account_funds" json:"account_funds"`
	IsActive        bool         `dynamodbav:"is_active" json:"is_active"`
	CreatedAt       time.Time    `dynamodbav:"created_at" json:"created_at"`
	UpdatedAt       time.Time    `dynamodbav:"updated_at" json:"updated_at"`
}

// ProfileComplete reports whether the customer can receive deliveries.
func (c Customer) ProfileComplete() bool {
	return strings.TrimSpace(c.DeliveryAddress) != "" && strings.TrimSpace(c.PhoneNumber) != ""
}

// Audit actions.
const (
	ActionFundsAdded = "Funds Added"
)

// AuditEntry records a change to a customer's account.
type AuditEntry struct {
	AuditID    string    `dynamodbav:"audit_id" json:"audit_id"`
	CustomerID string    `dynamodbav:"customer_id" json:"customer_id"`
	Action     string    `dynamodbav:"action" json:"action"`
	OldValue   string    `dynamodbav:"old_value" json:"old_value"`
	NewValue   string    `dynamodbav:"new_value" json:"new_value"`
	ChangedBy  string    `dynamodbav:"changed_by" json:"changed_by"`
	ChangedAt  time.Time `dynamodbav:"changed_at" json:"changed_at"`
}
