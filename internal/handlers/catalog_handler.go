package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/storefront-orderflow/internal/scheduler"
	"github.com/imrishuroy/storefront-orderflow/internal/validation"
)

func (h *handler) listProducts(c *gin.Context) {
	var q validation.ProductQuery
	if err := validation.BindQueryAndValidate(c, &q, h.v); err != nil {
		return
	}
	products, err := h.cfg.Products.ListProducts(c.Request.Context(), q.Category, q.IncludeOutOfStock)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": products, "total": len(products)})
}

func (h *handler) getProduct(c *gin.Context) {
	p, err := h.cfg.Products.GetProduct(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	if p == nil || !p.IsActive {
		c.JSON(http.StatusNotFound, gin.H{"error": "product_not_found", "product_id": c.Param("id"), "message": "product not found"})
		return
	}
	c.JSON(http.StatusOK, p)
}

// runJob runs one reconciliation pass now and waits for it. A pass already
// in flight is joined rather than started twice.
func (h *handler) runJob(c *gin.Context) {
	name := c.Param("name")
	err := h.cfg.Jobs.Trigger(c.Request.Context(), name)
	switch {
	case errors.Is(err, scheduler.ErrUnknownJob):
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown_job", "message": err.Error()})
	case err != nil:
		h.log.Error("manual job run failed", "job", name, "staff", c.GetHeader(HeaderStaffEmail), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "job_failed", "message": err.Error()})
	default:
		h.log.Info("manual job run", "job", name, "staff", c.GetHeader(HeaderStaffEmail))
		c.JSON(http.StatusOK, gin.H{"job": name, "status": "completed"})
	}
}
