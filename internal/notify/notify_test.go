package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/storefront-orderflow/internal/aws"
	"github.com/imrishuroy/storefront-orderflow/internal/aws/awstest"
	"github.com/imrishuroy/storefront-orderflow/internal/money"
	"github.com/imrishuroy/storefront-orderflow/internal/orders"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func sampleOrder() orders.Order {
	return orders.Order{
		OrderID:     "o1",
		OrderNumber: "ORD-20250301-000007",
		CustomerID:  "c1",
		Status:      orders.StatusPending,
		TotalAmount: money.MustParse("40.50"),
		OrderDate:   time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC),
	}
}

func TestSink_PublishesDecodableMessage(t *testing.T) {
	q := &awstest.Queue{}
	sink := NewSink(aws.NewPublisher(q, "https://sqs.local/notifications"), quiet)

	require.NoError(t, sink.NotifyOrderCreated(context.Background(), "ada@example.com", sampleOrder()))
	require.Len(t, q.Messages, 1)
	require.Equal(t, "order_created", sdkaws.ToString(q.Messages[0].MessageAttributes["event"].StringValue))

	m, err := Decode(q.Bodies()[0])
	require.NoError(t, err)
	require.Equal(t, EventOrderCreated, m.Event)
	require.Equal(t, "ada@example.com", m.Email)
	require.Equal(t, "ORD-20250301-000007", m.OrderNumber)
	require.Equal(t, "40.50", m.TotalAmount.String())
	require.NotEmpty(t, m.MessageID)
}

func TestSink_SkipsMissingEmail(t *testing.T) {
	q := &awstest.Queue{}
	sink := NewSink(aws.NewPublisher(q, "https://sqs.local/notifications"), quiet)

	require.NoError(t, sink.NotifyOrderStatusChanged(context.Background(), "", sampleOrder()))
	require.Empty(t, q.Messages)
}

func TestSink_ReportsQueueFailure(t *testing.T) {
	q := &awstest.Queue{Err: errors.New("queue unavailable")}
	sink := NewSink(aws.NewPublisher(q, "https://sqs.local/notifications"), quiet)

	err := sink.NotifyOrderCreated(context.Background(), "ada@example.com", sampleOrder())
	require.ErrorContains(t, err, "queue unavailable")
}

func TestDecode_Rejects(t *testing.T) {
	for name, body := range map[string]string{
		"not json":      "{",
		"no message id": `{"event":"order_created","order_id":"o1"}`,
		"no order":      `{"event":"order_created","message_id":"m1"}`,
		"unknown event": `{"event":"order_cancelled","message_id":"m1","order_id":"o1"}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Decode(body)
			require.Error(t, err)
		})
	}
}

func TestRender(t *testing.T) {
	o := sampleOrder()
	created := Render(NewMessage(EventOrderCreated, "ada@example.com", o, o.OrderDate))
	require.Equal(t, "ada@example.com", created.To)
	require.Equal(t, "Order ORD-20250301-000007 confirmed", created.Subject)
	require.Contains(t, created.Body, "Total Amount: £40.50")
	require.Contains(t, created.Body, "Order Date: 2025-03-01 09:30")

	at := o.OrderDate.Add(26 * time.Hour)
	o.Status = orders.StatusDispatched
	o.DispatchedDate = &at
	changed := Render(NewMessage(EventOrderStatusChanged, "ada@example.com", o, at))
	require.Equal(t, "Order ORD-20250301-000007 is now dispatched", changed.Subject)
	require.Contains(t, changed.Body, "New Status: DISPATCHED")
	require.Contains(t, changed.Body, "Dispatched Date: 2025-03-02 11:30")
}

func TestLogMailer(t *testing.T) {
	require.NoError(t, LogMailer{Log: quiet}.Send(context.Background(), Email{To: "a@b.c", Subject: "s"}))
	require.Error(t, LogMailer{}.Send(context.Background(), Email{Subject: "s"}))
}
