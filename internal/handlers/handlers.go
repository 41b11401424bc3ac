package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	validatorv10 "github.com/go-playground/validator/v10"

	"github.com/imrishuroy/storefront-orderflow/internal/catalog"
	"github.com/imrishuroy/storefront-orderflow/internal/idempotency"
	"github.com/imrishuroy/storefront-orderflow/internal/money"
	"github.com/imrishuroy/storefront-orderflow/internal/orders"
	"github.com/imrishuroy/storefront-orderflow/internal/validation"
)

// Request headers carrying the caller's identity. Authentication happens
// upstream (API Gateway authorizer); these are trusted as given.
const (
	HeaderCustomerID     = "X-Customer-Id"
	HeaderStaffEmail     = "X-Staff-Email"
	HeaderIdempotencyKey = "Idempotency-Key"
)

// OrderService is the order engine the routes drive. *orders.Service implements it.
type OrderService interface {
	PlaceOrder(ctx context.Context, customerID string, lines []orders.LineRequest) (*orders.Order, error)
	Dispatch(ctx context.Context, orderID, dispatchedBy string) (*orders.Order, error)
	GetOrder(ctx context.Context, orderID, customerID string) (*orders.Order, error)
	ListCustomerOrders(ctx context.Context, customerID string, page, pageSize int) (orders.Page, error)
	ListPendingDispatch(ctx context.Context, page, pageSize int) (orders.Page, error)
	ListOrders(ctx context.Context, status orders.Status, page, pageSize int) (orders.Page, error)
}

// FundsStore credits and reads customer balances. *customers.Store implements it.
type FundsStore interface {
	AddFunds(ctx context.Context, customerID string, amount money.Amount, changedBy string) (money.Amount, error)
	GetFunds(ctx context.Context, customerID string) (money.Amount, error)
}

// ProductCatalog serves catalog reads. *catalog.Store implements it.
type ProductCatalog interface {
	GetProduct(ctx context.Context, productID string) (*catalog.Product, error)
	ListProducts(ctx context.Context, category string, includeOutOfStock bool) ([]catalog.Product, error)
}

// IdempotencyStore remembers POST /orders outcomes. *idempotency.Store implements it.
type IdempotencyStore interface {
	Begin(ctx context.Context, key, fingerprint string) (*idempotency.IdempotencyRecord, bool, error)
	MarkDone(ctx context.Context, key, resourceID, responseBody string, status int) error
	MarkFailed(ctx context.Context, key, note string) error
}

// JobRunner runs a reconciliation job on demand. *scheduler.Scheduler implements it.
type JobRunner interface {
	Trigger(ctx context.Context, name string) error
}

// HandlerConfig groups dependencies for the route handlers.
type HandlerConfig struct {
	Orders      OrderService
	Customers   FundsStore
	Products    ProductCatalog
	Idempotency IdempotencyStore
	Jobs        JobRunner
	Logger      *slog.Logger
}

type handler struct {
	cfg HandlerConfig
	v   *validatorv10.Validate
	log *slog.Logger
}

// Register mounts every storefront route on r.
func Register(r *gin.Engine, cfg HandlerConfig) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	h := &handler{cfg: cfg, v: validation.New(), log: logger}

	r.GET("/products", h.listProducts)
	r.GET("/products/:id", h.getProduct)

	customer := r.Group("/", requireHeader(HeaderCustomerID, "missing_customer_id"))
	customer.POST("/orders", h.createOrder)
	customer.GET("/orders/history", h.orderHistory)
	customer.GET("/orders/:id", h.getOrder)
	customer.POST("/customers/funds", h.addFunds)
	customer.GET("/customers/funds", h.getFunds)

	staff := r.Group("/staff", requireHeader(HeaderStaffEmail, "missing_staff_identity"))
	staff.GET("/orders", h.listOrders)
	staff.GET("/orders/pending-dispatch", h.pendingDispatch)
	staff.PUT("/orders/:id/dispatch", h.dispatch)
	staff.POST("/jobs/:name/run", h.runJob)
}

func requireHeader(name, code string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader(name) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   code,
				"message": name + " header is required",
			})
			return
		}
		c.Next()
	}
}

// statusFor maps an order engine error to its HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, orders.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, orders.ErrCustomerNotFound),
		errors.Is(err, orders.ErrProductNotFound),
		errors.Is(err, orders.ErrOrderNotFound):
		return http.StatusNotFound
	case errors.Is(err, orders.ErrIncompleteProfile):
		return http.StatusUnprocessableEntity
	case errors.Is(err, orders.ErrInsufficientStock):
		return http.StatusConflict
	case errors.Is(err, orders.ErrInsufficientFunds):
		return http.StatusPaymentRequired
	case errors.Is(err, orders.ErrSupplierReservationFailed),
		errors.Is(err, orders.ErrCommitFailed):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// errorBody renders err the way every route reports failures:
// {"error": code, "message": text, "product_id": id?}.
func errorBody(err error) (int, gin.H) {
	status := statusFor(err)
	body := gin.H{"error": orders.ErrorCode(err)}

	var pe *orders.PlacementError
	switch {
	case status == http.StatusInternalServerError:
		body["message"] = "internal error"
	case errors.As(err, &pe):
		body["message"] = pe.Error()
		if pe.ProductID != "" {
			body["product_id"] = pe.ProductID
		}
	default:
		body["message"] = err.Error()
	}
	return status, body
}

func (h *handler) writeError(c *gin.Context, err error) {
	status, body := errorBody(err)
	if status >= http.StatusInternalServerError {
		h.log.Error("request failed", "method", c.Request.Method, "path", c.FullPath(), "status", status, "error", err)
	}
	c.JSON(status, body)
}
