package router

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"storefront/internal/envelope"
	"storefront/internal/repo"
)

const msgInvalidStatus = "Invalid order status"

func setAdminOrderAPIRoutes(r *gin.RouterGroup, opts Options) {
	r.GET("/orders", adminListOrdersHandler(opts))
	r.GET("/orders/:id", adminGetOrderHandler(opts))
	r.PUT("/orders/:id/status", adminUpdateOrderStatusHandler(opts))
}

func adminListOrdersHandler(opts Options) gin.HandlerFunc {
	return func(c *gin.Context) {
		f := repo.OrderFilter{
			UserID: strings.TrimSpace(c.Query("userId")),
			Limit:  queryInt(c, "limit", 50),
			Offset: queryInt(c, "offset", 0),
		}
		if raw := strings.TrimSpace(c.Query("status")); raw != "" {
			st, ok := repo.ParseOrderStatus(raw)
			if !ok {
				envelope.Error(c, msgInvalidStatus, http.StatusBadRequest)
				return
			}
			f.Status = st
		}
		orders, err := opts.Repos.Orders.List(c.Request.Context(), f)
		if err != nil {
			envelope.FromError(c, err)
			return
		}
		envelope.OK(c, gin.H{"orders": orders})
	}
}

func adminGetOrderHandler(opts Options) gin.HandlerFunc {
	return func(c *gin.Context) {
		o, err := opts.Repos.Orders.Get(c.Request.Context(), c.Param("id"))
		if err != nil {
			notFoundAs(c, err, msgOrderNotFound)
			return
		}
		envelope.OK(c, gin.H{"order": o})
	}
}

// adminUpdateOrderStatusHandler 走 checkout 服务，保证库存与客户统计随状态同步。
func adminUpdateOrderStatusHandler(opts Options) gin.HandlerFunc {
	type reqBody struct {
		csrfField
		Status string `json:"status" binding:"required"`
	}
	return func(c *gin.Context) {
		var req reqBody
		if !bindJSON(c, &req) {
			return
		}
		to, ok := repo.ParseOrderStatus(req.Status)
		if !ok {
			envelope.Error(c, msgInvalidStatus, http.StatusBadRequest)
			return
		}
		if !checkCSRF(c, opts, req.CSRFToken) {
			return
		}
		id := c.Param("id")
		o, err := opts.Checkout.UpdateStatus(c.Request.Context(), id, to, actorID(c))
		if err != nil {
			notFoundAs(c, err, msgOrderNotFound)
			return
		}
		audit(c, opts, "order.status_changed", id, map[string]any{"status": string(o.Status)})
		envelope.OK(c, gin.H{"order": o, "message": "Order status updated successfully"})
	}
}
