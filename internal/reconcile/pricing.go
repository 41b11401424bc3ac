package reconcile

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/imrishuroy/storefront-orderflow/internal/catalog"
)

// PricingJobName identifies the pricing job in logs, metrics and triggers.
const PricingJobName = "pricing"

// DefaultMarkup is applied to the cheapest active supplier price.
var DefaultMarkup = decimal.RequireFromString("1.10")

// PriceFeed moves supplier prices before a pass. *supplier.Feed implements it.
type PriceFeed interface {
	RefreshPrices(ctx context.Context) (int, error)
}

// PricingJob sets each product's price to the cheapest active supplier price
// times the markup, rounded half to even at cents.
type PricingJob struct {
	store   Catalog
	feed    PriceFeed
	metrics Recorder
	markup  decimal.Decimal
	log     *slog.Logger
	nowFunc func() time.Time
}

// NewPricingJob returns a PricingJob. A zero markup uses DefaultMarkup; feed
// and metrics may be nil.
func NewPricingJob(store Catalog, feed PriceFeed, metrics Recorder, markup decimal.Decimal, logger *slog.Logger) *PricingJob {
	if logger == nil {
		logger = slog.Default()
	}
	if markup.IsZero() {
		markup = DefaultMarkup
	}
	return &PricingJob{store: store, feed: feed, metrics: metrics, markup: markup, log: logger, nowFunc: time.Now}
}

func (j *PricingJob) Name() string { return PricingJobName }

// Run performs one pass for the scheduler.
func (j *PricingJob) Run(ctx context.Context) error {
	_, err := j.Reconcile(ctx)
	return err
}

// Reconcile reprices every product that has at least one active supplier.
// Products without one keep their current price.
func (j *PricingJob) Reconcile(ctx context.Context) (Result, error) {
	start := j.nowFunc()
	if j.feed != nil {
		if _, err := j.feed.RefreshPrices(ctx); err != nil {
			j.log.Warn("supplier price refresh failed", "job", PricingJobName, "error", err)
		}
	}

	res, err := pass(ctx, PricingJobName, j.store, j.log, func(p catalog.Product, links []catalog.Link) (func() error, bool) {
		if len(links) == 0 {
			return nil, false
		}
		// links are sorted cheapest first
		price := links[0].SupplierPrice.Scale(j.markup)
		if price.Equal(p.CurrentPrice) {
			return nil, false
		}
		return func() error {
			j.log.Info("product price reconciled", "job", PricingJobName, "product_id", p.ProductID,
				"from", p.CurrentPrice.String(), "to", price.String(), "supplier_id", links[0].SupplierID)
			return j.store.UpdateProductPrice(ctx, p.ProductID, p.Version, price)
		}, true
	})
	if err != nil {
		j.log.Error("pricing reconciliation failed", "job", PricingJobName, "error", err)
		return res, err
	}
	report(ctx, j.metrics, j.log, PricingJobName, res, j.nowFunc().Sub(start))
	return res, nil
}
