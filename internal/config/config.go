package config

import (
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Tables holds DynamoDB table names.
type Tables struct {
	Products         string
	Suppliers        string
	ProductSuppliers string
	Customers        string
	CustomerAudit    string
	Orders           string
	Counters         string
	Idempotency      string
}

type Config struct {
	Port     string
	RunLocal bool
	LogLevel string

	AWSRegion   string
	AWSEndpoint string

	Tables               Tables
	NotificationQueueURL string
	MetricsNamespace     string
	IdempotencyTTL       time.Duration

	StockInterval     time.Duration
	StockRetryDelay   time.Duration
	PricingDelay      time.Duration
	PricingInterval   time.Duration
	PricingRetryDelay time.Duration
	PriceMarkup       decimal.Decimal

	SupplierLatency     time.Duration
	SupplierFailureRate float64
	SupplierFeed        bool
	SupplierSeed        uint64
}

// Load reads configuration from the environment. Missing or unparsable
// values fall back to defaults.
func Load() *Config {
	return &Config{
		Port:     str("PORT", "8080"),
		RunLocal: boolean("RUN_LOCAL", false),
		LogLevel: str("LOG_LEVEL", "info"),

		AWSRegion:   str("AWS_REGION", "us-east-1"),
		AWSEndpoint: str("AWS_ENDPOINT_OVERRIDE", ""),

		Tables: Tables{
			Products:         str("PRODUCTS_TABLE", "products"),
			Suppliers:        str("SUPPLIERS_TABLE", "suppliers"),
			ProductSuppliers: str("PRODUCT_SUPPLIERS_TABLE", "product_suppliers"),
			Customers:        str("CUSTOMERS_TABLE", "customers"),
			CustomerAudit:    str("CUSTOMER_AUDIT_TABLE", "customer_audit_log"),
			Orders:           str("ORDERS_TABLE", "orders"),
			Counters:         str("COUNTERS_TABLE", "counters"),
			Idempotency:      str("IDEMPOTENCY_TABLE", "idempotency"),
		},
		NotificationQueueURL: str("NOTIFICATIONS_QUEUE_URL", ""),
		MetricsNamespace:     str("METRICS_NAMESPACE", "Storefront"),
		IdempotencyTTL:       duration("IDEMPOTENCY_TTL", 48*time.Hour),

		StockInterval:     duration("STOCK_SYNC_INTERVAL", 5*time.Minute),
		StockRetryDelay:   duration("STOCK_SYNC_RETRY_DELAY", time.Minute),
		PricingDelay:      duration("PRICING_SYNC_INITIAL_DELAY", 2*time.Minute),
		PricingInterval:   duration("PRICING_SYNC_INTERVAL", 24*time.Hour),
		PricingRetryDelay: duration("PRICING_SYNC_RETRY_DELAY", time.Hour),
		PriceMarkup:       markup("PRICE_MARKUP", decimal.RequireFromString("1.10")),

		SupplierLatency:     duration("SUPPLIER_LATENCY", 100*time.Millisecond),
		SupplierFailureRate: rate("SUPPLIER_FAILURE_RATE", 0),
		SupplierFeed:        boolean("SUPPLIER_FEED", true),
		SupplierSeed:        seed("SUPPLIER_SEED"),
	}
}

func str(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func boolean(key string, def bool) bool {
	if b, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return b
	}
	return def
}

func duration(key string, def time.Duration) time.Duration {
	if d, err := time.ParseDuration(os.Getenv(key)); err == nil && d > 0 {
		return d
	}
	return def
}

func rate(key string, def float64) float64 {
	if f, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil && f >= 0 && f <= 1 {
		return f
	}
	return def
}

func markup(key string, def decimal.Decimal) decimal.Decimal {
	if d, err := decimal.NewFromString(os.Getenv(key)); err == nil && d.IsPositive() {
		return d
	}
	return def
}

// seed defaults to the clock so separate processes draw different feeds.
func seed(key string) uint64 {
	if n, err := strconv.ParseUint(os.Getenv(key), 10, 64); err == nil {
		return n
	}
	return uint64(time.Now().UnixNano())
}
