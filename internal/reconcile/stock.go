package reconcile

import (
	"context"
	"log/slog"
	"time"

	"github.com/imrishuroy/storefront-orderflow/internal/catalog"
)

// StockJobName identifies the stock job in logs, metrics and triggers.
const StockJobName = "stock"

// StockFeed moves supplier stock before a pass. *supplier.Feed implements it.
type StockFeed interface {
	RefreshStock(ctx context.Context) (int, error)
}

// StockJob sets each product's cached stock to the total held by its active
// suppliers.
type StockJob struct {
	store   Catalog
	feed    StockFeed
	metrics Recorder
	log     *slog.Logger
	nowFunc func() time.Time
}

// NewStockJob returns a StockJob. feed and metrics may be nil.
func NewStockJob(store Catalog, feed StockFeed, metrics Recorder, logger *slog.Logger) *StockJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &StockJob{store: store, feed: feed, metrics: metrics, log: logger, nowFunc: time.Now}
}

func (j *StockJob) Name() string { return StockJobName }

// Run performs one pass for the scheduler.
func (j *StockJob) Run(ctx context.Context) error {
	_, err := j.Reconcile(ctx)
	return err
}

// Reconcile refreshes the supplier feed, when configured, then writes the
// summed stock of every product whose cached value differs. Products already
// in sync are left untouched so last_stock_update only moves on change.
func (j *StockJob) Reconcile(ctx context.Context) (Result, error) {
	start := j.nowFunc()
	if j.feed != nil {
		if _, err := j.feed.RefreshStock(ctx); err != nil {
			// a stale feed still leaves the cache worth correcting
			j.log.Warn("supplier stock refresh failed", "job", StockJobName, "error", err)
		}
	}

	res, err := pass(ctx, StockJobName, j.store, j.log, func(p catalog.Product, links []catalog.Link) (func() error, bool) {
		total := 0
		for _, l := range links {
			total += l.StockQuantity
		}
		if total == p.StockQuantity {
			return nil, false
		}
		return func() error {
			j.log.Info("product stock reconciled", "job", StockJobName, "product_id", p.ProductID, "from", p.StockQuantity, "to", total)
			return j.store.UpdateProductStock(ctx, p.ProductID, p.Version, total)
		}, true
	})
	if err != nil {
		j.log.Error("stock reconciliation failed", "job", StockJobName, "error", err)
		return res, err
	}
	report(ctx, j.metrics, j.log, StockJobName, res, j.nowFunc().Sub(start))
	return res, nil
}
