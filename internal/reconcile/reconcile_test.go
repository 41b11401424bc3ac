package reconcile

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/storefront-orderflow/internal/aws"
	"github.com/imrishuroy/storefront-orderflow/internal/aws/awstest"
	"github.com/imrishuroy/storefront-orderflow/internal/catalog"
	"github.com/imrishuroy/storefront-orderflow/internal/money"
	"github.com/imrishuroy/storefront-orderflow/internal/supplier"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func newCatalog(t *testing.T) *catalog.Store {
	t.Helper()
	store := catalog.NewStore(awstest.Storefront(), catalog.Tables{
		Products:  "products",
		Suppliers: "suppliers",
		Links:     "product_suppliers",
	})
	ctx := context.Background()
	require.NoError(t, store.PutSupplier(ctx, catalog.Supplier{SupplierID: "s1", Name: "Acme", IsActive: true}))
	require.NoError(t, store.PutSupplier(ctx, catalog.Supplier{SupplierID: "s2", Name: "Globex", IsActive: true}))
	require.NoError(t, store.PutSupplier(ctx, catalog.Supplier{SupplierID: "off", Name: "Closed", IsActive: false}))
	return store
}

func putProduct(t *testing.T, store *catalog.Store, id, price string, stock int) {
	t.Helper()
	require.NoError(t, store.PutProduct(context.Background(), catalog.Product{
		ProductID:     id,
		Name:          id,
		BasePrice:     money.MustParse(price),
		CurrentPrice:  money.MustParse(price),
		StockQuantity: stock,
		IsActive:      true,
	}))
}

func putLink(t *testing.T, store *catalog.Store, productID, supplierID, price string, stock int) {
	t.Helper()
	require.NoError(t, store.PutLink(context.Background(), catalog.Link{
		ProductID:     productID,
		SupplierID:    supplierID,
		SupplierPrice: money.MustParse(price),
		StockQuantity: stock,
	}))
}

func product(t *testing.T, store *catalog.Store, id string) *catalog.Product {
	t.Helper()
	p, err := store.GetProduct(context.Background(), id)
	require.NoError(t, err)
	return p
}

func TestStockJob_SumsActiveSuppliers(t *testing.T) {
	store := newCatalog(t)
	putProduct(t, store, "p1", "10.00", 0)
	putLink(t, store, "p1", "s1", "8.00", 4)
	putLink(t, store, "p1", "s2", "9.00", 6)
	putLink(t, store, "p1", "off", "1.00", 100)
	watch := &awstest.Watch{}
	job := NewStockJob(store, nil, aws.NewMetrics(watch, "Storefront"), quiet)

	res, err := job.Reconcile(context.Background())
	require.NoError(t, err)
	require.Equal(t, Result{Scanned: 1, Updated: 1}, res)

	p := product(t, store, "p1")
	require.Equal(t, 10, p.StockQuantity)
	require.Equal(t, int64(1), p.Version)
	require.False(t, p.LastStockUpdate.IsZero())
	require.Equal(t, float64(1), watch.Sum("ProductsUpdated"))
	require.Equal(t, float64(1), watch.Sum("ProductsScanned"))
}

func TestStockJob_SecondRunIsNoop(t *testing.T) {
	store := newCatalog(t)
	putProduct(t, store, "p1", "10.00", 0)
	putLink(t, store, "p1", "s1", "8.00", 4)
	job := NewStockJob(store, nil, nil, quiet)
	ctx := context.Background()

	_, err := job.Reconcile(ctx)
	require.NoError(t, err)
	first := product(t, store, "p1")

	res, err := job.Reconcile(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, res.Updated)
	second := product(t, store, "p1")
	require.Equal(t, first.Version, second.Version)
	require.True(t, first.LastStockUpdate.Equal(second.LastStockUpdate))
}

func TestStockJob_NoLinksMeansNoStock(t *testing.T) {
	store := newCatalog(t)
	putProduct(t, store, "orphan", "5.00", 7)

	_, err := NewStockJob(store, nil, nil, quiet).Reconcile(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, product(t, store, "orphan").StockQuantity)
}

// staleCatalog hands out products one version behind, as if an order had
// committed between the read and the write.
type staleCatalog struct {
	*catalog.Store
	stale string
}

func (c staleCatalog) ActiveProducts(ctx context.Context) ([]catalog.Product, error) {
	products, err := c.Store.ActiveProducts(ctx)
	for i := range products {
		if products[i].ProductID == c.stale {
			products[i].Version--
		}
	}
	return products, err
}

func TestStockJob_VersionConflictSkipsProduct(t *testing.T) {
	store := newCatalog(t)
	putProduct(t, store, "p1", "10.00", 0)
	putProduct(t, store, "p2", "10.00", 0)
	putLink(t, store, "p1", "s1", "8.00", 4)
	putLink(t, store, "p2", "s1", "8.00", 5)
	watch := &awstest.Watch{}
	job := NewStockJob(staleCatalog{Store: store, stale: "p1"}, nil, aws.NewMetrics(watch, "Storefront"), quiet)

	res, err := job.Reconcile(context.Background())
	require.NoError(t, err)
	require.Equal(t, Result{Scanned: 2, Updated: 1, Conflicts: 1}, res)
	require.Equal(t, 0, product(t, store, "p1").StockQuantity)
	require.Equal(t, 5, product(t, store, "p2").StockQuantity)
	require.Equal(t, float64(1), watch.Sum("VersionConflicts"))

	// the next pass sees the current version and heals
	res, err = NewStockJob(store, nil, nil, quiet).Reconcile(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, res.Updated)
	require.Equal(t, 4, product(t, store, "p1").StockQuantity)
}

type failingFeed struct{ calls int }

func (f *failingFeed) RefreshStock(context.Context) (int, error) {
	f.calls++
	return 0, errors.New("feed offline")
}

func (f *failingFeed) RefreshPrices(context.Context) (int, error) {
	f.calls++
	return 0, errors.New("feed offline")
}

func TestJobs_FeedFailureStillReconciles(t *testing.T) {
	store := newCatalog(t)
	putProduct(t, store, "p1", "10.00", 0)
	putLink(t, store, "p1", "s1", "8.00", 4)
	feed := &failingFeed{}

	_, err := NewStockJob(store, feed, nil, quiet).Reconcile(context.Background())
	require.NoError(t, err)
	_, err = NewPricingJob(store, feed, nil, decimal.Zero, quiet).Reconcile(context.Background())
	require.NoError(t, err)

	require.Equal(t, 2, feed.calls)
	require.Equal(t, 4, product(t, store, "p1").StockQuantity)
	require.Equal(t, "8.80", product(t, store, "p1").CurrentPrice.String())
}

func TestStockJob_WithSupplierFeed(t *testing.T) {
	store := newCatalog(t)
	putProduct(t, store, "p1", "10.00", 0)
	putLink(t, store, "p1", "s1", "8.00", 4)
	putLink(t, store, "p1", "s2", "9.00", 6)

	_, err := NewStockJob(store, supplier.NewFeed(store, 7, quiet), nil, quiet).Reconcile(context.Background())
	require.NoError(t, err)

	links, err := store.ActiveLinks(context.Background(), "p1")
	require.NoError(t, err)
	sum := 0
	for _, l := range links {
		sum += l.StockQuantity
	}
	require.Equal(t, sum, product(t, store, "p1").StockQuantity)
}

func TestPricingJob_CheapestTimesMarkup(t *testing.T) {
	store := newCatalog(t)
	putProduct(t, store, "p1", "99.00", 1)
	putLink(t, store, "p1", "s1", "12.00", 1)
	putLink(t, store, "p1", "s2", "10.00", 0)
	putLink(t, store, "p1", "off", "1.00", 5)

	res, err := NewPricingJob(store, nil, nil, decimal.Zero, quiet).Reconcile(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, res.Updated)
	require.Equal(t, "11.00", product(t, store, "p1").CurrentPrice.String())
}

func TestPricingJob_RoundsHalfToEven(t *testing.T) {
	cases := map[string]string{
		"0.15":  "0.16", // 0.165
		"0.25":  "0.28", // 0.275
		"1.05":  "1.16", // 1.155
		"19.99": "21.99",
	}
	for cost, want := range cases {
		store := newCatalog(t)
		putProduct(t, store, "p1", "1.00", 1)
		putLink(t, store, "p1", "s1", cost, 1)

		_, err := NewPricingJob(store, nil, nil, decimal.Zero, quiet).Reconcile(context.Background())
		require.NoError(t, err)
		require.Equal(t, want, product(t, store, "p1").CurrentPrice.String(), "cost %s", cost)
	}
}

func TestPricingJob_KeepsPriceWithoutActiveSupplier(t *testing.T) {
	store := newCatalog(t)
	putProduct(t, store, "p1", "42.00", 1)
	putLink(t, store, "p1", "off", "1.00", 5)

	res, err := NewPricingJob(store, nil, nil, decimal.Zero, quiet).Reconcile(context.Background())
	require.NoError(t, err)
	require.Equal(t, Result{Scanned: 1}, res)
	p := product(t, store, "p1")
	require.Equal(t, "42.00", p.CurrentPrice.String())
	require.Equal(t, int64(0), p.Version)
}

func TestPricingJob_SecondRunIsNoop(t *testing.T) {
	store := newCatalog(t)
	putProduct(t, store, "p1", "1.00", 1)
	putLink(t, store, "p1", "s1", "10.00", 1)
	job := NewPricingJob(store, nil, nil, decimal.RequireFromString("1.25"), quiet)

	_, err := job.Reconcile(context.Background())
	require.NoError(t, err)
	require.Equal(t, "12.50", product(t, store, "p1").CurrentPrice.String())

	res, err := job.Reconcile(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, res.Updated)
	require.Equal(t, int64(1), product(t, store, "p1").Version)
}

func TestJobs_StopOnCancelledContext(t *testing.T) {
	store := newCatalog(t)
	putProduct(t, store, "p1", "1.00", 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewStockJob(store, nil, nil, quiet).Reconcile(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestJobs_Names(t *testing.T) {
	require.Equal(t, "stock", NewStockJob(nil, nil, nil, nil).Name())
	require.Equal(t, "pricing", NewPricingJob(nil, nil, nil, decimal.Zero, nil).Name())
	require.True(t, NewPricingJob(nil, nil, nil, decimal.Zero, nil).markup.Equal(DefaultMarkup))
}
