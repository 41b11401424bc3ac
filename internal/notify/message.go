// Package notify carries order notifications from the API to the worker
// over SQS and turns them into customer emails.
package notify

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/imrishuroy/storefront-orderflow/internal/money"
	"github.com/imrishuroy/storefront-orderflow/internal/orders"
)

// Event names the notification kind.
type Event string

const (
	EventOrderCreated       Event = "order_created"
	EventOrderStatusChanged Event = "order_status_changed"
)

// Message is the SQS body for one notification. MessageID is unique per
// notification and is what the worker deduplicates on.
type Message struct {
	MessageID      string       `json:"message_id"`
	Event          Event        `json:"event"`
	Email          string       `json:"email"`
	OrderID        string       `json:"order_id"`
	OrderNumber    string       `json:"order_number"`
	Status         string       `json:"status"`
	TotalAmount    money.Amount `json:"total_amount"`
	OrderDate      time.Time    `json:"order_date"`
	DispatchedDate *time.Time   `json:"dispatched_date,omitempty"`
	OccurredAt     time.Time    `json:"occurred_at"`
}

// NewMessage snapshots o for event.
func NewMessage(event Event, email string, o orders.Order, at time.Time) Message {
	return Message{
		MessageID:      uuid.NewString(),
		Event:          event,
		Email:          email,
		OrderID:        o.OrderID,
		OrderNumber:    o.OrderNumber,
		Status:         string(o.Status),
		TotalAmount:    o.TotalAmount,
		OrderDate:      o.OrderDate,
		DispatchedDate: o.DispatchedDate,
		OccurredAt:     at.UTC(),
	}
}

// Decode parses and checks an SQS body.
func Decode(body string) (Message, error) {
	var m Message
	if err := json.Unmarshal([]byte(body), &m); err != nil {
		return Message{}, fmt.Errorf("decode notification: %w", err)
	}
	if m.MessageID == "" || m.OrderID == "" {
		return Message{}, fmt.Errorf("decode notification: message_id and order_id are required")
	}
	switch m.Event {
	case EventOrderCreated, EventOrderStatusChanged:
	default:
		return Message{}, fmt.Errorf("decode notification: unknown event %q", m.Event)
	}
	return m, nil
}
