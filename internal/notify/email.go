package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Email is a rendered customer email.
type Email struct {
	To      string
	Subject string
	Body    string
}

// Render builds the email for m.
func Render(m Message) Email {
	var b strings.Builder
	b.WriteString("Dear Customer,\n\n")
	switch m.Event {
	case EventOrderCreated:
		b.WriteString("Thank you for your order!\n\n")
		b.WriteString("Order Details:\n")
		fmt.Fprintf(&b, "Order Number: %s\n", m.OrderNumber)
		fmt.Fprintf(&b, "Total Amount: £%s\n", m.TotalAmount)
		fmt.Fprintf(&b, "Order Date: %s\n", m.OrderDate.UTC().Format("2006-01-02 15:04"))
		fmt.Fprintf(&b, "Status: %s\n\n", m.Status)
		b.WriteString("We will notify you when your order is dispatched.\n")
	default:
		b.WriteString("Your order status has been updated!\n\n")
		b.WriteString("Order Details:\n")
		fmt.Fprintf(&b, "Order Number: %s\n", m.OrderNumber)
		fmt.Fprintf(&b, "New Status: %s\n", m.Status)
		if m.DispatchedDate != nil {
			fmt.Fprintf(&b, "Dispatched Date: %s\n", m.DispatchedDate.UTC().Format("2006-01-02 15:04"))
		}
	}
	b.WriteString("\nBest regards,\nThe Storefront Team\n")

	subject := "Order " + m.OrderNumber + " confirmed"
	if m.Event == EventOrderStatusChanged {
		subject = "Order " + m.OrderNumber + " is now " + strings.ToLower(m.Status)
	}
	return Email{To: m.Email, Subject: subject, Body: b.String()}
}

// Mailer delivers rendered emails.
type Mailer interface {
	Send(ctx context.Context, e Email) error
}

// LogMailer writes emails to the log instead of sending them.
type LogMailer struct {
	Log *slog.Logger
}

func (m LogMailer) Send(ctx context.Context, e Email) error {
	if e.To == "" {
		return fmt.Errorf("send email %q: no recipient", e.Subject)
	}
	logger := m.Log
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "email sent", "to", e.To, "subject", e.Subject, "bytes", len(e.Body))
	return nil
}
