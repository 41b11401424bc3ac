package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/storefront-orderflow/internal/idempotency"
	"github.com/imrishuroy/storefront-orderflow/internal/orders"
	"github.com/imrishuroy/storefront-orderflow/internal/validation"
)

// createOrder places an order for the calling customer. With an
// Idempotency-Key header, a retry of the same request replays the stored
// response instead of placing a second order.
func (h *handler) createOrder(c *gin.Context) {
	ctx := c.Request.Context()
	customerID := c.GetHeader(HeaderCustomerID)

	var req validation.CreateOrderRequest
	if err := validation.BindAndValidate(c, &req, h.v); err != nil {
		// already wrote a 400
		return
	}

	key := c.GetHeader(HeaderIdempotencyKey)
	if key != "" {
		// keys are scoped per customer so two callers cannot collide
		key = "orders:" + customerID + ":" + key
		canonical, _ := json.Marshal(req)
		rec, acquired, err := h.cfg.Idempotency.Begin(ctx, key, idempotency.Fingerprint(customerID, string(canonical)))
		if errors.Is(err, idempotency.ErrFingerprintMismatch) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{
				"error":   "idempotency_key_reused",
				"message": err.Error(),
			})
			return
		}
		if err != nil {
			h.log.Error("idempotency check failed", "customer_id", customerID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "idempotency_check_failed", "message": "internal error"})
			return
		}
		if !acquired {
			h.replay(c, rec)
			return
		}
	}

	lines := make([]orders.LineRequest, 0, len(req.Items))
	for _, it := range req.Items {
		lines = append(lines, orders.LineRequest{ProductID: it.ProductID, Quantity: it.Quantity})
	}

	order, err := h.cfg.Orders.PlaceOrder(ctx, customerID, lines)
	if err != nil {
		if key != "" {
			if merr := h.cfg.Idempotency.MarkFailed(ctx, key, orders.ErrorCode(err)); merr != nil {
				h.log.Warn("mark idempotency failed", "key", key, "error", merr)
			}
		}
		h.writeError(c, err)
		return
	}

	body, err := json.Marshal(order)
	if err != nil {
		h.writeError(c, fmt.Errorf("encode order: %w", err))
		return
	}
	if key != "" {
		if err := h.cfg.Idempotency.MarkDone(ctx, key, order.OrderID, string(body), http.StatusCreated); err != nil {
			// the order exists; a retry will see IN_PROGRESS until the key expires
			h.log.Warn("mark idempotency done", "key", key, "order_id", order.OrderID, "error", err)
		}
	}

	c.Header("Location", fmt.Sprintf("/orders/%s", order.OrderID))
	c.Data(http.StatusCreated, "application/json; charset=utf-8", body)
}

func (h *handler) replay(c *gin.Context, rec *idempotency.IdempotencyRecord) {
	switch rec.Status {
	case idempotency.StatusDone:
		if rec.ResourceID != "" {
			c.Header("Location", fmt.Sprintf("/orders/%s", rec.ResourceID))
		}
		c.Header("Idempotent-Replayed", "true")
		c.Data(rec.ResponseStatus, "application/json; charset=utf-8", []byte(rec.ResponseBody))
	case idempotency.StatusInProgress:
		c.JSON(http.StatusConflict, gin.H{
			"error":   "request_in_progress",
			"message": "a request with this idempotency key is still being processed",
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "unknown_idempotency_status", "message": rec.Status})
	}
}

func (h *handler) getOrder(c *gin.Context) {
	o, err := h.cfg.Orders.GetOrder(c.Request.Context(), c.Param("id"), c.GetHeader(HeaderCustomerID))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

func (h *handler) orderHistory(c *gin.Context) {
	var q validation.ListQuery
	if err := validation.BindQueryAndValidate(c, &q, h.v); err != nil {
		return
	}
	page, err := h.cfg.Orders.ListCustomerOrders(c.Request.Context(), c.GetHeader(HeaderCustomerID), q.Page, q.PageSize)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (h *handler) listOrders(c *gin.Context) {
	var q validation.ListQuery
	if err := validation.BindQueryAndValidate(c, &q, h.v); err != nil {
		return
	}
	page, err := h.cfg.Orders.ListOrders(c.Request.Context(), orders.Status(q.Status), q.Page, q.PageSize)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (h *handler) pendingDispatch(c *gin.Context) {
	var q validation.ListQuery
	if err := validation.BindQueryAndValidate(c, &q, h.v); err != nil {
		return
	}
	page, err := h.cfg.Orders.ListPendingDispatch(c.Request.Context(), q.Page, q.PageSize)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (h *handler) dispatch(c *gin.Context) {
	o, err := h.cfg.Orders.Dispatch(c.Request.Context(), c.Param("id"), c.GetHeader(HeaderStaffEmail))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}
