package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/storefront-orderflow/internal/customers"
	"github.com/imrishuroy/storefront-orderflow/internal/validation"
)

func (h *handler) addFunds(c *gin.Context) {
	customerID := c.GetHeader(HeaderCustomerID)

	var req validation.AddFundsRequest
	if err := validation.BindAndValidate(c, &req, h.v); err != nil {
		return
	}

	balance, err := h.cfg.Customers.AddFunds(c.Request.Context(), customerID, req.Amount, customerID)
	if err != nil {
		h.writeFundsError(c, err)
		return
	}
	h.log.Info("funds added", "customer_id", customerID, "amount", req.Amount.String(), "balance", balance.String())
	c.JSON(http.StatusOK, gin.H{"customer_id": customerID, "account_funds": balance})
}

func (h *handler) getFunds(c *gin.Context) {
	customerID := c.GetHeader(HeaderCustomerID)
	balance, err := h.cfg.Customers.GetFunds(c.Request.Context(), customerID)
	if err != nil {
		h.writeFundsError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"customer_id": customerID, "account_funds": balance})
}

func (h *handler) writeFundsError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, customers.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "customer_not_found", "message": err.Error()})
	case errors.Is(err, customers.ErrInvalidAmount):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
	case errors.Is(err, customers.ErrConflict):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "retryable_failure", "message": err.Error()})
	default:
		h.writeError(c, err)
	}
}
