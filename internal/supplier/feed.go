package supplier

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/imrishuroy/storefront-orderflow/internal/catalog"
	"github.com/imrishuroy/storefront-orderflow/internal/money"
)

// FeedStore is the catalog access the feed simulation needs.
type FeedStore interface {
	AllLinks(ctx context.Context) ([]catalog.Link, error)
	ActiveSupplierIDs(ctx context.Context) (map[string]bool, error)
	SetLinkStock(ctx context.Context, productID, supplierID string, qty int) error
	SetLinkPrice(ctx context.Context, productID, supplierID string, price money.Amount) error
}

// Feed simulates suppliers changing their stock and prices between
// reconciliation passes. Only links of active suppliers move.
type Feed struct {
	store FeedStore
	log   *slog.Logger

	mu  sync.Mutex
	rnd *rand.Rand
}

// Stock moves by a random delta in [MinStockDelta, MaxStockDelta], floored at zero.
const (
	MinStockDelta = -5
	MaxStockDelta = 19
)

// Prices move by up to PriceSwing in either direction.
var PriceSwing = decimal.RequireFromString("0.05")

// NewFeed returns a Feed drawing from a PCG source seeded with seed.
func NewFeed(store FeedStore, seed uint64, logger *slog.Logger) *Feed {
	if logger == nil {
		logger = slog.Default()
	}
	return &Feed{
		store: store,
		log:   logger,
		rnd:   rand.New(rand.NewPCG(seed, seed+1)),
	}
}

// RefreshStock applies a random stock movement to every active link and
// reports how many links were written.
func (f *Feed) RefreshStock(ctx context.Context) (int, error) {
	links, err := f.activeLinks(ctx)
	if err != nil {
		return 0, err
	}
	written := 0
	for _, l := range links {
		next := l.StockQuantity + f.intn(MaxStockDelta-MinStockDelta+1) + MinStockDelta
		if next < 0 {
			next = 0
		}
		if next == l.StockQuantity {
			continue
		}
		if err := f.store.SetLinkStock(ctx, l.ProductID, l.SupplierID, next); err != nil {
			return written, fmt.Errorf("refresh stock %s/%s: %w", l.ProductID, l.SupplierID, err)
		}
		written++
	}
	f.log.Info("supplier stock refreshed", "links", len(links), "written", written)
	return written, nil
}

// RefreshPrices moves every active link's price by up to ±PriceSwing,
// rounded to cents and never below one cent.
func (f *Feed) RefreshPrices(ctx context.Context) (int, error) {
	links, err := f.activeLinks(ctx)
	if err != nil {
		return 0, err
	}
	written := 0
	for _, l := range links {
		factor := decimal.NewFromInt(1).Sub(PriceSwing).Add(PriceSwing.Mul(decimal.NewFromInt(2)).Mul(decimal.NewFromFloat(f.roll())))
		next := money.Max(l.SupplierPrice.Scale(factor), money.Cent)
		if next.Equal(l.SupplierPrice) {
			continue
		}
		if err := f.store.SetLinkPrice(ctx, l.ProductID, l.SupplierID, next); err != nil {
			return written, fmt.Errorf("refresh price %s/%s: %w", l.ProductID, l.SupplierID, err)
		}
		written++
	}
	f.log.Info("supplier prices refreshed", "links", len(links), "written", written)
	return written, nil
}

func (f *Feed) activeLinks(ctx context.Context) ([]catalog.Link, error) {
	links, err := f.store.AllLinks(ctx)
	if err != nil {
		return nil, fmt.Errorf("load links: %w", err)
	}
	active, err := f.store.ActiveSupplierIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("load suppliers: %w", err)
	}
	out := links[:0]
	for _, l := range links {
		if active[l.SupplierID] {
			out = append(out, l)
		}
	}
	return out, nil
}

func (f *Feed) intn(n int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rnd.IntN(n)
}

func (f *Feed) roll() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rnd.Float64()
}
