package supplier

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/storefront-orderflow/internal/aws/awstest"
	"github.com/imrishuroy/storefront-orderflow/internal/catalog"
	"github.com/imrishuroy/storefront-orderflow/internal/money"
)

func newCatalog(t *testing.T) *catalog.Store {
	t.Helper()
	store := catalog.NewStore(awstest.Storefront(), catalog.Tables{
		Products:  "products",
		Suppliers: "suppliers",
		Links:     "product_suppliers",
	})
	ctx := context.Background()
	for _, s := range []catalog.Supplier{
		{SupplierID: "a", Name: "Cheap", IsActive: true},
		{SupplierID: "b", Name: "Mid", IsActive: true},
		{SupplierID: "c", Name: "Dear", IsActive: true},
		{SupplierID: "z", Name: "Dormant", IsActive: false},
	} {
		require.NoError(t, store.PutSupplier(ctx, s))
	}
	return store
}

func link(t *testing.T, store *catalog.Store, supplierID, price string, stock int) {
	t.Helper()
	require.NoError(t, store.PutLink(context.Background(), catalog.Link{
		ProductID:     "p1",
		SupplierID:    supplierID,
		SupplierPrice: money.MustParse(price),
		StockQuantity: stock,
	}))
}

func stockOf(t *testing.T, store *catalog.Store, supplierID string) int {
	t.Helper()
	links, err := store.Links(context.Background(), "p1")
	require.NoError(t, err)
	for _, l := range links {
		if l.SupplierID == supplierID {
			return l.StockQuantity
		}
	}
	t.Fatalf("no link for supplier %s", supplierID)
	return 0
}

type recordingGateway struct {
	calls []string
	fail  map[string]error
}

func (g *recordingGateway) Purchase(ctx context.Context, req PurchaseRequest) error {
	g.calls = append(g.calls, req.SupplierID)
	return g.fail[req.SupplierID]
}

func TestReserve_SkipsCheaperSupplierWithoutStock(t *testing.T) {
	store := newCatalog(t)
	link(t, store, "a", "8.00", 0)
	link(t, store, "b", "9.00", 10)
	gw := &recordingGateway{}
	c := NewCoordinator(store, gw, nil)

	r, err := c.Reserve(context.Background(), "p1", 4)
	require.NoError(t, err)
	require.Equal(t, "b", r.SupplierID)
	require.Equal(t, "9.00", r.UnitCost.String())
	require.Equal(t, []string{"b"}, gw.calls)
	require.Equal(t, 0, stockOf(t, store, "a"))
	require.Equal(t, 6, stockOf(t, store, "b"))
}

func TestReserve_CheapestFirstAndIgnoresInactive(t *testing.T) {
	store := newCatalog(t)
	link(t, store, "z", "1.00", 100)
	link(t, store, "c", "12.00", 10)
	link(t, store, "a", "10.00", 10)
	c := NewCoordinator(store, &recordingGateway{}, nil)

	r, err := c.Reserve(context.Background(), "p1", 10)
	require.NoError(t, err)
	require.Equal(t, "a", r.SupplierID)
	require.Equal(t, 100, stockOf(t, store, "z"))
}

func TestReserve_TransientFailureMovesOnWithoutRetry(t *testing.T) {
	store := newCatalog(t)
	link(t, store, "a", "8.00", 5)
	link(t, store, "b", "9.00", 5)
	gw := &recordingGateway{fail: map[string]error{"a": ErrSupplierUnavailable}}
	c := NewCoordinator(store, gw, nil)

	r, err := c.Reserve(context.Background(), "p1", 5)
	require.NoError(t, err)
	require.Equal(t, "b", r.SupplierID)
	require.Equal(t, []string{"a", "b"}, gw.calls)
	// failed supplier keeps its stock
	require.Equal(t, 5, stockOf(t, store, "a"))
	require.Equal(t, 0, stockOf(t, store, "b"))
}

func TestReserve_NeverSplitsAcrossSuppliers(t *testing.T) {
	store := newCatalog(t)
	link(t, store, "a", "8.00", 3)
	link(t, store, "b", "9.00", 3)
	gw := &recordingGateway{}
	c := NewCoordinator(store, gw, nil)

	_, err := c.Reserve(context.Background(), "p1", 5)
	require.ErrorIs(t, err, ErrNoSupplierAvailable)
	require.Empty(t, gw.calls)
	require.Equal(t, 3, stockOf(t, store, "a"))
	require.Equal(t, 3, stockOf(t, store, "b"))
}

func TestReserve_AllSuppliersFail(t *testing.T) {
	store := newCatalog(t)
	link(t, store, "a", "8.00", 3)
	link(t, store, "b", "9.00", 3)
	gw := &recordingGateway{fail: map[string]error{"a": ErrSupplierUnavailable, "b": errors.New("timeout")}}
	c := NewCoordinator(store, gw, nil)

	_, err := c.Reserve(context.Background(), "p1", 2)
	require.ErrorIs(t, err, ErrNoSupplierAvailable)
	require.Equal(t, 3, stockOf(t, store, "a"))
	require.Equal(t, 3, stockOf(t, store, "b"))
}

func TestReserve_RejectsNonPositiveQuantity(t *testing.T) {
	c := NewCoordinator(newCatalog(t), &recordingGateway{}, nil)
	_, err := c.Reserve(context.Background(), "p1", 0)
	require.Error(t, err)
}

func TestRelease_RestoresStock(t *testing.T) {
	store := newCatalog(t)
	link(t, store, "a", "8.00", 5)
	c := NewCoordinator(store, &recordingGateway{}, nil)
	ctx := context.Background()

	r, err := c.Reserve(ctx, "p1", 5)
	require.NoError(t, err)
	require.Equal(t, 0, stockOf(t, store, "a"))

	require.NoError(t, c.Release(ctx, r))
	require.Equal(t, 5, stockOf(t, store, "a"))
}

func TestSimulatedGateway(t *testing.T) {
	ctx := context.Background()
	req := PurchaseRequest{ProductID: "p1", SupplierID: "a", Quantity: 1}

	require.NoError(t, NewSimulatedGateway(0, 0, 1).Purchase(ctx, req))
	require.ErrorIs(t, NewSimulatedGateway(0, 1, 1).Purchase(ctx, req), ErrSupplierUnavailable)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	require.ErrorIs(t, NewSimulatedGateway(time.Hour, 0, 1).Purchase(cancelled, req), context.Canceled)
}
