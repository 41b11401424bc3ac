package main

import (
	"context"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"github.com/imrishuroy/storefront-orderflow/internal/aws"
	"github.com/imrishuroy/storefront-orderflow/internal/config"
	"github.com/imrishuroy/storefront-orderflow/internal/idempotency"
	"github.com/imrishuroy/storefront-orderflow/internal/notify"
	"github.com/imrishuroy/storefront-orderflow/internal/telemetry"
)

func main() {
	cfg := config.Load()
	logger := telemetry.InitLogger("storefront-worker", cfg.LogLevel)

	clients, err := aws.NewAWSClients(context.Background(), cfg.AWSRegion, cfg.AWSEndpoint)
	if err != nil {
		logger.Error("failed to init aws clients", "error", err)
		os.Exit(1)
	}

	p := NewProcessor(
		idempotency.NewStore(clients.DynamoDB, cfg.Tables.Idempotency, cfg.IdempotencyTTL),
		notify.LogMailer{Log: logger},
		logger,
	)

	// If RUN_LOCAL=true, process a single message from LOCAL_SQS_BODY and exit.
	if cfg.RunLocal {
		body := os.Getenv("LOCAL_SQS_BODY")
		if body == "" {
			logger.Error("LOCAL_SQS_BODY is required when RUN_LOCAL=true")
			os.Exit(1)
		}
		resp, err := p.Handle(context.Background(), events.SQSEvent{
			Records: []events.SQSMessage{{MessageId: "local-1", Body: body}},
		})
		if err != nil || len(resp.BatchItemFailures) > 0 {
			logger.Error("local handler failed", "error", err, "failures", len(resp.BatchItemFailures))
			os.Exit(1)
		}
		return
	}

	lambda.Start(p.Handle)
}
