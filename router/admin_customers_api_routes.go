package router

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"storefront/internal/envelope"
	"storefront/internal/repo"
)

const (
	msgCustomerNotFound = "Customer not found"
	msgSegmentNotFound  = "Segment not found"
)

func setAdminCustomerAPIRoutes(r *gin.RouterGroup, opts Options) {
	r.GET("/customers", adminListCustomersHandler(opts))
	r.GET("/customers/:id", adminGetCustomerHandler(opts))
	r.PUT("/customers/:id", adminUpdateCustomerHandler(opts))
	r.POST("/customers/:id/recalculate", adminRecalculateCustomerHandler(opts))
}

func setAdminSegmentAPIRoutes(r *gin.RouterGroup, opts Options) {
	r.GET("/customer-segments", adminListSegmentsHandler(opts))
	r.POST("/customer-segments", adminCreateSegmentHandler(opts))
	r.GET("/customer-segments/:id", adminGetSegmentHandler(opts))
	r.PUT("/customer-segments/:id", adminUpdateSegmentHandler(opts))
	r.DELETE("/customer-segments/:id", adminDeleteSegmentHandler(opts))
	r.GET("/customer-segments/:id/customers", adminSegmentMembersHandler(opts))
}

func adminListCustomersHandler(opts Options) gin.HandlerFunc {
	return func(c *gin.Context) {
		customers, err := opts.Repos.Customers.List(c.Request.Context(), repo.CustomerFilter{
			Search: strings.TrimSpace(c.Query("search")),
			Limit:  queryInt(c, "limit", 50),
			Offset: queryInt(c, "offset", 0),
		})
		if err != nil {
			envelope.FromError(c, err)
			return
		}
		envelope.OK(c, gin.H{"customers": customers})
	}
}

func adminGetCustomerHandler(opts Options) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		cust, err := opts.Repos.Customers.Get(ctx, c.Param("id"))
		if err != nil {
			notFoundAs(c, err, msgCustomerNotFound)
			return
		}
		orders, err := opts.Repos.Orders.List(ctx, repo.OrderFilter{UserID: cust.ID, Limit: 20})
		if err != nil {
			envelope.FromError(c, err)
			return
		}
		envelope.OK(c, gin.H{"customer": cust, "recentOrders": orders})
	}
}

func adminUpdateCustomerHandler(opts Options) gin.HandlerFunc {
	type reqBody struct {
		csrfField
		Name  *string  `json:"name"`
		Phone *string  `json:"phone"`
		Notes *string  `json:"notes"`
		Tags  []string `json:"tags"`
	}
	return func(c *gin.Context) {
		var req reqBody
		if !bindJSON(c, &req) || !checkCSRF(c, opts, req.CSRFToken) {
			return
		}
		cust, err := opts.Repos.Customers.Update(c.Request.Context(), c.Param("id"), repo.CustomerPatch{
			Name:  req.Name,
			Phone: req.Phone,
			Notes: req.Notes,
			Tags:  req.Tags,
		})
		if err != nil {
			notFoundAs(c, err, msgCustomerNotFound)
			return
		}
		audit(c, opts, "customer.updated", cust.ID, nil)
		envelope.OK(c, gin.H{"customer": cust, "message": "Customer updated successfully"})
	}
}

func adminRecalculateCustomerHandler(opts Options) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !checkCSRF(c, opts, "") {
			return
		}
		cust, err := opts.Repos.Customers.RecalculateStats(c.Request.Context(), opts.Repos.Orders, c.Param("id"))
		if err != nil {
			notFoundAs(c, err, msgCustomerNotFound)
			return
		}
		audit(c, opts, "customer.recalculated", cust.ID, map[string]any{"lifetimeValue": cust.LifetimeValue.StringFixed(2)})
		envelope.OK(c, gin.H{"customer": cust})
	}
}

type segmentBody struct {
	csrfField
	Name        string             `json:"name" binding:"required,max=100"`
	Description string             `json:"description" binding:"max=500"`
	Match       string             `json:"match" binding:"omitempty,oneof=all any"`
	Rules       []repo.SegmentRule `json:"rules"`
}

func (b segmentBody) input() repo.SegmentInput {
	return repo.SegmentInput{Name: b.Name, Description: b.Description, Match: b.Match, Rules: b.Rules}
}

func adminListSegmentsHandler(opts Options) gin.HandlerFunc {
	return func(c *gin.Context) {
		segs, err := opts.Repos.Segments.List(c.Request.Context())
		if err != nil {
			envelope.FromError(c, err)
			return
		}
		envelope.OK(c, gin.H{"segments": segs})
	}
}

func adminCreateSegmentHandler(opts Options) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req segmentBody
		if !bindJSON(c, &req) || !checkCSRF(c, opts, req.CSRFToken) {
			return
		}
		seg, err := opts.Repos.Segments.Create(c.Request.Context(), req.input())
		if err != nil {
			envelope.FromError(c, err)
			return
		}
		audit(c, opts, "segment.created", seg.ID, map[string]any{"name": seg.Name})
		envelope.OK(c, gin.H{"segment": seg, "message": "Segment created successfully"}, http.StatusCreated)
	}
}

func adminGetSegmentHandler(opts Options) gin.HandlerFunc {
	return func(c *gin.Context) {
		seg, err := opts.Repos.Segments.Get(c.Request.Context(), c.Param("id"))
		if err != nil {
			notFoundAs(c, err, msgSegmentNotFound)
			return
		}
		envelope.OK(c, gin.H{"segment": seg})
	}
}

func adminUpdateSegmentHandler(opts Options) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req segmentBody
		if !bindJSON(c, &req) || !checkCSRF(c, opts, req.CSRFToken) {
			return
		}
		seg, err := opts.Repos.Segments.Update(c.Request.Context(), c.Param("id"), req.input())
		if err != nil {
			notFoundAs(c, err, msgSegmentNotFound)
			return
		}
		audit(c, opts, "segment.updated", seg.ID, nil)
		envelope.OK(c, gin.H{"segment": seg, "message": "Segment updated successfully"})
	}
}

func adminDeleteSegmentHandler(opts Options) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !checkCSRF(c, opts, "") {
			return
		}
		id := c.Param("id")
		if err := opts.Repos.Segments.Delete(c.Request.Context(), id); err != nil {
			notFoundAs(c, err, msgSegmentNotFound)
			return
		}
		audit(c, opts, "segment.deleted", id, nil)
		envelope.OK(c, gin.H{"success": true, "message": "Segment deleted successfully"})
	}
}

func adminSegmentMembersHandler(opts Options) gin.HandlerFunc {
	return func(c *gin.Context) {
		members, err := opts.Repos.Segments.Members(c.Request.Context(), opts.Repos.Customers, c.Param("id"))
		if err != nil {
			notFoundAs(c, err, msgSegmentNotFound)
			return
		}
		envelope.OK(c, gin.H{"customers": members, "count": len(members)})
	}
}
