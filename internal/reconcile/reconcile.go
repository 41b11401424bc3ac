// Package reconcile recomputes the cached stock and price on every product
// from its active supplier links.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/imrishuroy/storefront-orderflow/internal/catalog"
	"github.com/imrishuroy/storefront-orderflow/internal/money"
)

// Catalog is the product and link access both jobs need. *catalog.Store
// implements it.
type Catalog interface {
	ActiveProducts(ctx context.Context) ([]catalog.Product, error)
	AllLinks(ctx context.Context) ([]catalog.Link, error)
	ActiveSupplierIDs(ctx context.Context) (map[string]bool, error)
	UpdateProductStock(ctx context.Context, productID string, expectedVersion int64, qty int) error
	UpdateProductPrice(ctx context.Context, productID string, expectedVersion int64, price money.Amount) error
}

// Recorder publishes job counters. *aws.Metrics implements it.
type Recorder interface {
	Count(ctx context.Context, name string, value float64, dims ...string) error
	Duration(ctx context.Context, name string, d time.Duration, dims ...string) error
}

// Result summarises one pass.
type Result struct {
	Scanned   int
	Updated   int
	Conflicts int
}

// linksByProduct groups the links of active suppliers by product, cheapest
// first.
func linksByProduct(ctx context.Context, store Catalog) (map[string][]catalog.Link, error) {
	links, err := store.AllLinks(ctx)
	if err != nil {
		return nil, fmt.Errorf("load links: %w", err)
	}
	active, err := store.ActiveSupplierIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("load suppliers: %w", err)
	}
	grouped := map[string][]catalog.Link{}
	for _, l := range links {
		grouped[l.ProductID] = append(grouped[l.ProductID], l)
	}
	for id, ls := range grouped {
		grouped[id] = catalog.FilterActive(ls, active)
	}
	return grouped, nil
}

// pass walks every active product, asking decide whether it needs a write.
// A version conflict skips the product; the next pass sees the newer state.
func pass(ctx context.Context, job string, store Catalog, log *slog.Logger, decide func(catalog.Product, []catalog.Link) (func() error, bool)) (Result, error) {
	var res Result
	products, err := store.ActiveProducts(ctx)
	if err != nil {
		return res, fmt.Errorf("load products: %w", err)
	}
	grouped, err := linksByProduct(ctx, store)
	if err != nil {
		return res, err
	}

	for _, p := range products {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.Scanned++
		write, ok := decide(p, grouped[p.ProductID])
		if !ok {
			continue
		}
		if err := write(); err != nil {
			if errors.Is(err, catalog.ErrVersionConflict) {
				res.Conflicts++
				log.Info("product changed during reconciliation, skipping", "job", job, "product_id", p.ProductID)
				continue
			}
			return res, err
		}
		res.Updated++
	}
	return res, nil
}

func report(ctx context.Context, m Recorder, log *slog.Logger, job string, res Result, elapsed time.Duration) {
	log.Info("reconciliation finished",
		"job", job,
		"scanned", res.Scanned,
		"updated", res.Updated,
		"conflicts", res.Conflicts,
		"elapsed_ms", elapsed.Milliseconds())
	if m == nil {
		return
	}
	for name, v := range map[string]int{
		"ProductsScanned":  res.Scanned,
		"ProductsUpdated":  res.Updated,
		"VersionConflicts": res.Conflicts,
	} {
		if err := m.Count(ctx, name, float64(v), "Job", job); err != nil {
			log.Warn("metric publish failed", "job", job, "metric", name, "error", err)
		}
	}
	if err := m.Duration(ctx, "ReconcileDuration", elapsed, "Job", job); err != nil {
		log.Warn("metric publish failed", "job", job, "metric", "ReconcileDuration", "error", err)
	}
}
