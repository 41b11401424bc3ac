package supplier

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/imrishuroy/storefront-orderflow/internal/catalog"
	"github.com/imrishuroy/storefront-orderflow/internal/money"
)

func TestFeed_RefreshStockBounds(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		store := newCatalog(t)
		start := rapid.IntRange(0, 50).Draw(rt, "start")
		seed := rapid.Uint64().Draw(rt, "seed")
		link(t, store, "a", "5.00", start)
		link(t, store, "z", "5.00", start)

		_, err := NewFeed(store, seed, nil).RefreshStock(context.Background())
		require.NoError(rt, err)

		got := stockOf(t, store, "a")
		require.GreaterOrEqual(rt, got, 0)
		require.GreaterOrEqual(rt, got, start+MinStockDelta)
		require.LessOrEqual(rt, got, start+MaxStockDelta)
		require.Equal(rt, start, stockOf(t, store, "z"), "inactive supplier moved")
	})
}

func TestFeed_RefreshPricesBounds(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		store := newCatalog(t)
		cents := rapid.Int64Range(1, 100000).Draw(rt, "cents")
		seed := rapid.Uint64().Draw(rt, "seed")
		price := money.FromDecimal(decimal.New(cents, -2))
		require.NoError(rt, store.PutLink(context.Background(), catalog.Link{ProductID: "p1", SupplierID: "b", SupplierPrice: price, StockQuantity: 1}))

		_, err := NewFeed(store, seed, nil).RefreshPrices(context.Background())
		require.NoError(rt, err)

		links, err := store.Links(context.Background(), "p1")
		require.NoError(rt, err)
		got := links[0].SupplierPrice

		low := money.Max(price.Scale(decimal.RequireFromString("0.95")), money.Cent)
		high := money.Max(price.Scale(decimal.RequireFromString("1.05")), money.Cent)
		require.False(rt, got.LessThan(low), "price %s below %s", got, low)
		require.False(rt, got.GreaterThan(high), "price %s above %s", got, high)
		require.True(rt, got.Equal(got.Round()), "price %s not in cents", got)
	})
}
