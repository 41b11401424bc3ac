package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/imrishuroy/storefront-orderflow/internal/orders"
)

// Sender publishes a message body with string attributes. *aws.Publisher
// implements it.
type Sender interface {
	Send(ctx context.Context, body string, attributes map[string]string) error
}

// Sink enqueues order notifications for the worker.
type Sink struct {
	sender  Sender
	log     *slog.Logger
	nowFunc func() time.Time
}

// NewSink returns a Sink publishing through sender.
func NewSink(sender Sender, logger *slog.Logger) *Sink {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sink{sender: sender, log: logger, nowFunc: time.Now}
}

func (s *Sink) NotifyOrderCreated(ctx context.Context, email string, o orders.Order) error {
	return s.publish(ctx, NewMessage(EventOrderCreated, email, o, s.nowFunc()))
}

func (s *Sink) NotifyOrderStatusChanged(ctx context.Context, email string, o orders.Order) error {
	return s.publish(ctx, NewMessage(EventOrderStatusChanged, email, o, s.nowFunc()))
}

func (s *Sink) publish(ctx context.Context, m Message) error {
	if m.Email == "" {
		s.log.Warn("no email on file, notification skipped", "event", m.Event, "order_id", m.OrderID)
		return nil
	}
	body, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	if err := s.sender.Send(ctx, string(body), map[string]string{
		"event":      string(m.Event),
		"order_id":   m.OrderID,
		"message_id": m.MessageID,
	}); err != nil {
		return fmt.Errorf("publish %s for order %s: %w", m.Event, m.OrderID, err)
	}
	s.log.Info("notification queued", "event", m.Event, "order_id", m.OrderID, "message_id", m.MessageID)
	return nil
}
