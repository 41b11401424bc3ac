package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-lambda-go/events"

	"github.com/imrishuroy/storefront-orderflow/internal/idempotency"
	"github.com/imrishuroy/storefront-orderflow/internal/notify"
)

// errInFlight means another invocation is delivering the same message.
var errInFlight = errors.New("notification delivery already in progress")

// IdempotencyStore deduplicates deliveries. *idempotency.Store implements it.
type IdempotencyStore interface {
	Begin(ctx context.Context, key, fingerprint string) (*idempotency.IdempotencyRecord, bool, error)
	MarkDone(ctx context.Context, key, resourceID, responseBody string, status int) error
	MarkFailed(ctx context.Context, key, note string) error
}

// Processor delivers order notification emails from SQS. SQS delivers at
// least once, so each message id is claimed in the idempotency table before
// the email goes out.
type Processor struct {
	idem   IdempotencyStore
	mailer notify.Mailer
	log    *slog.Logger
}

// NewProcessor creates a new worker processor.
func NewProcessor(idem IdempotencyStore, mailer notify.Mailer, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{idem: idem, mailer: mailer, log: logger}
}

// Handle processes an SQS batch. Messages that fail transiently are reported
// as batch item failures so only they are redelivered; malformed messages
// are logged and dropped.
func (p *Processor) Handle(ctx context.Context, ev events.SQSEvent) (events.SQSEventResponse, error) {
	var resp events.SQSEventResponse
	for _, rec := range ev.Records {
		if err := p.processMessage(ctx, rec); err != nil {
			p.log.Warn("notification delivery failed", "sqs_message_id", rec.MessageId, "error", err)
			resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{ItemIdentifier: rec.MessageId})
		}
	}
	return resp, nil
}

func (p *Processor) processMessage(ctx context.Context, rec events.SQSMessage) error {
	msg, err := notify.Decode(rec.Body)
	if err != nil {
		p.log.Error("dropping malformed notification", "sqs_message_id", rec.MessageId, "error", err)
		return nil
	}
	log := p.log.With("message_id", msg.MessageID, "order_id", msg.OrderID, "event", string(msg.Event))

	key := "notify:" + msg.MessageID
	existing, acquired, err := p.idem.Begin(ctx, key, idempotency.Fingerprint(string(msg.Event), msg.OrderID, msg.Status))
	if errors.Is(err, idempotency.ErrFingerprintMismatch) {
		log.Error("message id reused for a different notification; dropping")
		return nil
	}
	if err != nil {
		return fmt.Errorf("claim message %s: %w", msg.MessageID, err)
	}
	if !acquired {
		if existing.Status == idempotency.StatusDone {
			log.Info("duplicate notification skipped")
			return nil
		}
		return errInFlight
	}

	email := notify.Render(msg)
	if err := p.mailer.Send(ctx, email); err != nil {
		if merr := p.idem.MarkFailed(context.WithoutCancel(ctx), key, err.Error()); merr != nil {
			log.Warn("mark delivery failed", "error", merr)
		}
		return fmt.Errorf("send email: %w", err)
	}

	if err := p.idem.MarkDone(ctx, key, msg.OrderID, email.Subject, 0); err != nil {
		// the email is out; a redelivery would send it again, so do not ask for one
		log.Warn("mark delivery done", "error", err)
	}
	log.Info("notification delivered", "to", email.To)
	return nil
}
