// Package supplier selects and reserves supplier stock for order lines and
// simulates the suppliers' own stock and price movements.
package supplier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/imrishuroy/storefront-orderflow/internal/catalog"
	"github.com/imrishuroy/storefront-orderflow/internal/money"
)

// ErrNoSupplierAvailable means no active supplier could fill the whole quantity.
var ErrNoSupplierAvailable = errors.New("no supplier can fulfil the request")

// LinkStore is the catalog access the coordinator needs.
type LinkStore interface {
	ActiveLinks(ctx context.Context, productID string) ([]catalog.Link, error)
	TakeLinkStock(ctx context.Context, productID, supplierID string, qty int) error
	ReturnLinkStock(ctx context.Context, productID, supplierID string, qty int) error
}

// Reservation is supplier stock held for one order line.
type Reservation struct {
	ProductID  string
	SupplierID string
	Quantity   int
	UnitCost   money.Amount
}

// Coordinator reserves stock cheapest supplier first. A line is always
// filled by a single supplier.
type Coordinator struct {
	links   LinkStore
	gateway Gateway
	log     *slog.Logger
}

// NewCoordinator returns a Coordinator. A nil logger uses slog.Default.
func NewCoordinator(links LinkStore, gateway Gateway, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{links: links, gateway: gateway, log: logger}
}

// Reserve takes qty units of productID from the cheapest active supplier
// that holds them and accepts the purchase. Suppliers that fail are skipped,
// never retried.
func (c *Coordinator) Reserve(ctx context.Context, productID string, qty int) (Reservation, error) {
	if qty <= 0 {
		return Reservation{}, fmt.Errorf("reserve %s: quantity must be positive", productID)
	}
	links, err := c.links.ActiveLinks(ctx, productID)
	if err != nil {
		return Reservation{}, fmt.Errorf("load supplier links: %w", err)
	}

	for _, link := range links {
		if link.StockQuantity < qty {
			continue
		}
		if err := ctx.Err(); err != nil {
			return Reservation{}, err
		}

		if err := c.links.TakeLinkStock(ctx, productID, link.SupplierID, qty); err != nil {
			if errors.Is(err, catalog.ErrLinkStockExhausted) {
				c.log.Info("supplier stock taken concurrently", "product_id", productID, "supplier_id", link.SupplierID)
				continue
			}
			c.log.Warn("supplier stock update failed", "product_id", productID, "supplier_id", link.SupplierID, "error", err)
			continue
		}

		err := c.gateway.Purchase(ctx, PurchaseRequest{
			ProductID:         productID,
			SupplierID:        link.SupplierID,
			SupplierProductID: link.SupplierProductID,
			Quantity:          qty,
		})
		if err == nil {
			c.log.Info("supplier reserved", "product_id", productID, "supplier_id", link.SupplierID, "quantity", qty)
			return Reservation{
				ProductID:  productID,
				SupplierID: link.SupplierID,
				Quantity:   qty,
				UnitCost:   link.SupplierPrice,
			}, nil
		}

		c.log.Warn("supplier purchase failed", "product_id", productID, "supplier_id", link.SupplierID, "error", err)
		if rerr := c.links.ReturnLinkStock(context.WithoutCancel(ctx), productID, link.SupplierID, qty); rerr != nil {
			c.log.Error("return supplier stock failed", "product_id", productID, "supplier_id", link.SupplierID, "quantity", qty, "error", rerr)
		}
		if ctx.Err() != nil {
			return Reservation{}, ctx.Err()
		}
	}
	return Reservation{}, fmt.Errorf("reserve %d of %s: %w", qty, productID, ErrNoSupplierAvailable)
}

// Release returns a reservation's stock to its supplier.
func (c *Coordinator) Release(ctx context.Context, r Reservation) error {
	if err := c.links.ReturnLinkStock(ctx, r.ProductID, r.SupplierID, r.Quantity); err != nil {
		return fmt.Errorf("release %s from %s: %w", r.ProductID, r.SupplierID, err)
	}
	c.log.Info("supplier reservation released", "product_id", r.ProductID, "supplier_id", r.SupplierID, "quantity", r.Quantity)
	return nil
}
