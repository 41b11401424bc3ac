package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"
	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/storefront-orderflow/internal/aws"
	"github.com/imrishuroy/storefront-orderflow/internal/catalog"
	"github.com/imrishuroy/storefront-orderflow/internal/config"
	"github.com/imrishuroy/storefront-orderflow/internal/customers"
	"github.com/imrishuroy/storefront-orderflow/internal/handlers"
	"github.com/imrishuroy/storefront-orderflow/internal/idempotency"
	"github.com/imrishuroy/storefront-orderflow/internal/notify"
	"github.com/imrishuroy/storefront-orderflow/internal/orders"
	"github.com/imrishuroy/storefront-orderflow/internal/reconcile"
	"github.com/imrishuroy/storefront-orderflow/internal/scheduler"
	"github.com/imrishuroy/storefront-orderflow/internal/supplier"
	"github.com/imrishuroy/storefront-orderflow/internal/telemetry"
)

const shutdownTimeout = 15 * time.Second

// app is the wired storefront: routes plus the reconciliation scheduler.
type app struct {
	router    *gin.Engine
	scheduler *scheduler.Scheduler
}

func setupRouter(cfg handlers.HandlerConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	// health
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	handlers.Register(r, cfg)

	return r
}

func build(cfg *config.Config, clients *aws.AWSClients, logger *slog.Logger) *app {
	metrics := aws.NewMetrics(clients.CloudWatch, cfg.MetricsNamespace)

	catalogStore := catalog.NewStore(clients.DynamoDB, catalog.Tables{
		Products:  cfg.Tables.Products,
		Suppliers: cfg.Tables.Suppliers,
		Links:     cfg.Tables.ProductSuppliers,
	})
	customerStore := customers.NewStore(clients.DynamoDB, cfg.Tables.Customers, cfg.Tables.CustomerAudit)
	orderStore := orders.NewStore(clients.DynamoDB, orders.Tables{
		Orders:    cfg.Tables.Orders,
		Customers: cfg.Tables.Customers,
		Products:  cfg.Tables.Products,
		Counters:  cfg.Tables.Counters,
	})

	gateway := supplier.NewSimulatedGateway(cfg.SupplierLatency, cfg.SupplierFailureRate, cfg.SupplierSeed)
	coordinator := supplier.NewCoordinator(catalogStore, gateway, logger)

	var notifier orders.Notifier
	if cfg.NotificationQueueURL != "" {
		notifier = notify.NewSink(aws.NewPublisher(clients.SQS, cfg.NotificationQueueURL), logger)
	} else {
		logger.Warn("NOTIFICATIONS_QUEUE_URL not set; order notifications disabled")
	}

	service := orders.NewService(orders.Deps{
		Orders:    orderStore,
		Products:  catalogStore,
		Customers: customerStore,
		Suppliers: coordinator,
		Notifier:  notifier,
		Metrics:   metrics,
		Logger:    logger,
	})

	var (
		stockFeed reconcile.StockFeed
		priceFeed reconcile.PriceFeed
	)
	if cfg.SupplierFeed {
		feed := supplier.NewFeed(catalogStore, cfg.SupplierSeed, logger)
		stockFeed, priceFeed = feed, feed
	}

	sched := scheduler.New(logger,
		scheduler.Schedule{
			Job:        reconcile.NewStockJob(catalogStore, stockFeed, metrics, logger),
			Interval:   cfg.StockInterval,
			RetryDelay: cfg.StockRetryDelay,
		},
		scheduler.Schedule{
			Job:          reconcile.NewPricingJob(catalogStore, priceFeed, metrics, cfg.PriceMarkup, logger),
			InitialDelay: cfg.PricingDelay,
			Interval:     cfg.PricingInterval,
			RetryDelay:   cfg.PricingRetryDelay,
		},
	)

	router := setupRouter(handlers.HandlerConfig{
		Orders:      service,
		Customers:   customerStore,
		Products:    catalogStore,
		Idempotency: idempotency.NewStore(clients.DynamoDB, cfg.Tables.Idempotency, cfg.IdempotencyTTL),
		Jobs:        sched,
		Logger:      logger,
	})
	return &app{router: router, scheduler: sched}
}

func main() {
	cfg := config.Load()
	logger := telemetry.InitLogger("storefront-api", cfg.LogLevel)

	clients, err := aws.NewAWSClients(context.Background(), cfg.AWSRegion, cfg.AWSEndpoint)
	if err != nil {
		logger.Error("failed to init aws clients", "error", err)
		os.Exit(1)
	}

	a := build(cfg, clients, logger)

	// RUN_LOCAL=true runs a long-lived HTTP server that also owns the
	// reconciliation schedule.
	if cfg.RunLocal {
		if err := serve(a, ":"+cfg.Port, logger); err != nil {
			logger.Error("server stopped", "error", err)
			os.Exit(1)
		}
		return
	}

	// lambda adapter; reconciliation runs through POST /staff/jobs/:name/run
	// from a scheduled rule since a Lambda has no process lifetime
	adapter := ginadapter.New(a.router)

	lambda.Start(func(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
		return adapter.ProxyWithContext(ctx, req)
	})
}

func serve(a *app, addr string, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a.scheduler.Start(ctx)

	srv := &http.Server{
		Addr:              addr,
		Handler:           a.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("running local server", "addr", addr, "jobs", a.scheduler.Jobs())
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		stop()
		a.scheduler.Wait()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	a.scheduler.Wait()
	return err
}
