package orders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/imrishuroy/storefront-orderflow/internal/catalog"
	"github.com/imrishuroy/storefront-orderflow/internal/customers"
	"github.com/imrishuroy/storefront-orderflow/internal/supplier"
)

// ProductReader reads catalog products.
type ProductReader interface {
	GetProduct(ctx context.Context, productID string) (*catalog.Product, error)
}

// CustomerReader reads customer profiles.
type CustomerReader interface {
	Get(ctx context.Context, customerID string) (*customers.Customer, error)
}

// Reserver holds and returns supplier stock.
type Reserver interface {
	Reserve(ctx context.Context, productID string, qty int) (supplier.Reservation, error)
	Release(ctx context.Context, r supplier.Reservation) error
}

// Notifier receives best-effort order notifications.
type Notifier interface {
	NotifyOrderCreated(ctx context.Context, email string, o Order) error
	NotifyOrderStatusChanged(ctx context.Context, email string, o Order) error
}

// Recorder counts order outcomes.
type Recorder interface {
	Count(ctx context.Context, name string, value float64, dims ...string) error
}

// Repository is the order persistence the service needs. *Store implements it.
type Repository interface {
	NextOrderNumber(ctx context.Context, at time.Time) (string, int64, error)
	CommitPlacement(ctx context.Context, order Order) error
	Get(ctx context.Context, orderID string) (*Order, error)
	MarkDispatched(ctx context.Context, orderID, dispatchedBy string, at time.Time) (*Order, error)
	ListByCustomer(ctx context.Context, customerID string, page, pageSize int) (Page, error)
	ListByStatus(ctx context.Context, status Status, oldestFirst bool, page, pageSize int) (Page, error)
	ListAll(ctx context.Context, page, pageSize int) (Page, error)
}

// Deps wires a Service.
type Deps struct {
	Orders    Repository
	Products  ProductReader
	Customers CustomerReader
	Suppliers Reserver
	Notifier  Notifier
	Metrics   Recorder
	Logger    *slog.Logger
}

// Service places and dispatches orders.
type Service struct {
	orders    Repository
	products  ProductReader
	customers CustomerReader
	suppliers Reserver
	notifier  Notifier
	metrics   Recorder
	log       *slog.Logger
	nowFunc   func() time.Time

	notifyTimeout time.Duration
}

// NewService returns a Service. Notifier and Metrics may be nil.
func NewService(d Deps) *Service {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		orders:        d.Orders,
		products:      d.Products,
		customers:     d.Customers,
		suppliers:     d.Suppliers,
		notifier:      d.Notifier,
		metrics:       d.Metrics,
		log:           logger,
		nowFunc:       time.Now,
		notifyTimeout: 5 * time.Second,
	}
}

// PlaceOrder validates the request against the customer, the catalog and the
// customer's funds, reserves supplier stock for every line, then commits the
// order, the funds debit and the stock decrements together. Nothing is left
// behind when any part fails: reservations are released and the commit is a
// single transaction.
func (s *Service) PlaceOrder(ctx context.Context, customerID string, lines []LineRequest) (*Order, error) {
	order, err := s.placeOrder(ctx, customerID, lines)
	if err != nil {
		s.count(ctx, "OrdersRejected", "Reason", ErrorCode(err))
		return nil, err
	}
	s.count(ctx, "OrdersPlaced")

	if s.notifier != nil {
		email := ""
		if c, cerr := s.customers.Get(ctx, customerID); cerr == nil && c != nil {
			email = c.Email
		}
		s.notify(ctx, "order_created", order.OrderID, func(nctx context.Context) error {
			return s.notifier.NotifyOrderCreated(nctx, email, *order)
		})
	}
	return order, nil
}

func (s *Service) placeOrder(ctx context.Context, customerID string, lines []LineRequest) (*Order, error) {
	if err := checkLines(lines); err != nil {
		return nil, err
	}

	customer, err := s.customers.Get(ctx, customerID)
	if err != nil {
		return nil, fmt.Errorf("load customer: %w", err)
	}
	if customer == nil || !customer.IsActive {
		return nil, reject(ErrCustomerNotFound, "", "customer %s", customerID)
	}
	if !customer.ProfileComplete() {
		return nil, reject(ErrIncompleteProfile, "", "delivery address and phone number are required")
	}

	items := make([]OrderItem, 0, len(lines))
	for _, line := range lines {
		p, err := s.products.GetProduct(ctx, line.ProductID)
		if err != nil {
			return nil, fmt.Errorf("load product %s: %w", line.ProductID, err)
		}
		if p == nil || !p.IsActive {
			return nil, reject(ErrProductNotFound, line.ProductID, "")
		}
		if p.StockQuantity < line.Quantity {
			return nil, reject(ErrInsufficientStock, p.ProductID, "%s: %d available, %d requested", p.Name, p.StockQuantity, line.Quantity)
		}
		items = append(items, OrderItem{
			ProductID:   p.ProductID,
			ProductName: p.Name,
			Quantity:    line.Quantity,
			UnitPrice:   p.CurrentPrice,
			TotalPrice:  p.CurrentPrice.Times(line.Quantity),
		})
	}

	orderTotal := total(items)
	if orderTotal.GreaterThan(customer.AccountFunds) {
		return nil, reject(ErrInsufficientFunds, "", "total %s exceeds available funds %s", orderTotal, customer.AccountFunds)
	}

	now := s.nowFunc().UTC()
	order := Order{
		OrderID:         uuid.NewString(),
		CustomerID:      customer.CustomerID,
		Status:          StatusPending,
		TotalAmount:     orderTotal,
		DeliveryAddress: customer.DeliveryAddress,
		PhoneNumber:     customer.PhoneNumber,
		OrderDate:       now,
		Items:           items,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	steps := make([]step, 0, len(items)+1)
	for i := range items {
		item := &order.Items[i]
		var held supplier.Reservation
		steps = append(steps, step{
			name: "reserve " + item.ProductID,
			execute: func(ctx context.Context) error {
				r, err := s.suppliers.Reserve(ctx, item.ProductID, item.Quantity)
				if err != nil {
					return &PlacementError{Kind: ErrSupplierReservationFailed, ProductID: item.ProductID, Err: err}
				}
				held = r
				item.SupplierID = r.SupplierID
				return nil
			},
			compensate: func(ctx context.Context) error {
				return s.suppliers.Release(ctx, held)
			},
		})
	}
	steps = append(steps, step{
		name: "commit",
		execute: func(ctx context.Context) error {
			number, seq, err := s.orders.NextOrderNumber(ctx, now)
			if err != nil {
				return &PlacementError{Kind: ErrCommitFailed, Err: err}
			}
			order.OrderNumber, order.OrderSeq = number, seq
			return s.orders.CommitPlacement(ctx, order)
		},
	})

	if err := runSaga(ctx, s.log, steps); err != nil {
		return nil, err
	}

	s.log.Info("order placed",
		"order_id", order.OrderID,
		"order_number", order.OrderNumber,
		"customer_id", order.CustomerID,
		"total", order.TotalAmount.String(),
		"lines", len(order.Items))
	return &order, nil
}

func checkLines(lines []LineRequest) error {
	if len(lines) == 0 {
		return reject(ErrInvalidRequest, "", "at least one item is required")
	}
	seen := make(map[string]bool, len(lines))
	for _, l := range lines {
		if l.ProductID == "" {
			return reject(ErrInvalidRequest, "", "product id is required")
		}
		if l.Quantity <= 0 {
			return reject(ErrInvalidRequest, l.ProductID, "quantity must be positive")
		}
		if seen[l.ProductID] {
			return reject(ErrInvalidRequest, l.ProductID, "product listed more than once")
		}
		seen[l.ProductID] = true
	}
	return nil
}

// Dispatch moves a pending order to dispatched. An order that is missing or
// already dispatched is reported as ErrOrderNotFound and left untouched.
func (s *Service) Dispatch(ctx context.Context, orderID, dispatchedBy string) (*Order, error) {
	o, err := s.orders.MarkDispatched(ctx, orderID, dispatchedBy, s.nowFunc())
	if errors.Is(err, ErrStatusMismatch) {
		return nil, reject(ErrOrderNotFound, "", "no pending order %s", orderID)
	}
	if err != nil {
		return nil, fmt.Errorf("dispatch order %s: %w", orderID, err)
	}
	s.log.Info("order dispatched", "order_id", o.OrderID, "order_number", o.OrderNumber, "dispatched_by", dispatchedBy)
	s.count(ctx, "OrdersDispatched")

	if s.notifier != nil {
		email := ""
		if c, cerr := s.customers.Get(ctx, o.CustomerID); cerr == nil && c != nil {
			email = c.Email
		}
		s.notify(ctx, "order_status_changed", o.OrderID, func(nctx context.Context) error {
			return s.notifier.NotifyOrderStatusChanged(nctx, email, *o)
		})
	}
	return o, nil
}

// GetOrder returns one order. A non-empty customerID restricts the lookup to
// that customer's orders.
func (s *Service) GetOrder(ctx context.Context, orderID, customerID string) (*Order, error) {
	o, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("get order %s: %w", orderID, err)
	}
	if o == nil || (customerID != "" && o.CustomerID != customerID) {
		return nil, reject(ErrOrderNotFound, "", "order %s", orderID)
	}
	return o, nil
}

// ListCustomerOrders returns a customer's order history, newest first.
func (s *Service) ListCustomerOrders(ctx context.Context, customerID string, page, pageSize int) (Page, error) {
	return s.orders.ListByCustomer(ctx, customerID, page, pageSize)
}

// ListPendingDispatch returns orders awaiting dispatch, oldest first.
func (s *Service) ListPendingDispatch(ctx context.Context, page, pageSize int) (Page, error) {
	return s.orders.ListByStatus(ctx, StatusPending, true, page, pageSize)
}

// ListOrders returns all orders, or only those in status, newest first.
func (s *Service) ListOrders(ctx context.Context, status Status, page, pageSize int) (Page, error) {
	if status == "" {
		return s.orders.ListAll(ctx, page, pageSize)
	}
	if !status.Valid() {
		return Page{}, reject(ErrInvalidRequest, "", "unknown status %q", status)
	}
	return s.orders.ListByStatus(ctx, status, false, page, pageSize)
}

// notify runs fn detached from ctx's cancellation with its own timeout.
// Failures are logged and never change the outcome of the order.
func (s *Service) notify(ctx context.Context, event, orderID string, fn func(context.Context) error) {
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.notifyTimeout)
	defer cancel()
	if err := fn(nctx); err != nil {
		s.log.Warn("notification failed", "event", event, "order_id", orderID, "error", err)
	}
}

func (s *Service) count(ctx context.Context, name string, dims ...string) {
	if s.metrics == nil {
		return
	}
	if err := s.metrics.Count(ctx, name, 1, dims...); err != nil {
		s.log.Warn("metric publish failed", "metric", name, "error", err)
	}
}

// ErrorCode is the stable machine-readable code for err.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	case errors.Is(err, ErrCustomerNotFound):
		return "customer_not_found"
	case errors.Is(err, ErrIncompleteProfile):
		return "incomplete_profile"
	case errors.Is(err, ErrProductNotFound):
		return "product_not_found"
	case errors.Is(err, ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, ErrSupplierReservationFailed):
		return "order_unavailable"
	case errors.Is(err, ErrCommitFailed):
		return "retryable_failure"
	case errors.Is(err, ErrOrderNotFound):
		return "order_not_found"
	}
	return "internal_error"
}
