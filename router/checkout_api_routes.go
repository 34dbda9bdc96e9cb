package router

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"storefront/internal/access"
	"storefront/internal/checkout"
	"storefront/internal/envelope"
	"storefront/internal/repo"
)

const (
	msgOrderNotFound      = "Order not found"
	msgCheckoutInProgress = "Checkout already in progress"
)

func setCheckoutAPIRoutes(r *gin.RouterGroup, opts Options) {
	authed := r.Group("", requireAccess(opts, access.Authed))
	authed.POST("/checkout", placeOrderHandler(opts))
	authed.POST("/checkout/paypal/capture", capturePayPalHandler(opts))
	authed.GET("/orders", listMyOrdersHandler(opts))
	authed.GET("/orders/:id", getMyOrderHandler(opts))
}

func checkoutProvidersHandler(opts Options) gin.HandlerFunc {
	return func(c *gin.Context) {
		providers := []string{}
		if opts.Checkout != nil {
			providers = append(providers, opts.Checkout.Providers()...)
		}
		envelope.OK(c, gin.H{"providers": providers})
	}
}

type addressBody struct {
	Name       string `json:"name"`
	Line1      string `json:"line1" binding:"required"`
	Line2      string `json:"line2"`
	City       string `json:"city" binding:"required"`
	State      string `json:"state"`
	PostalCode string `json:"postalCode" binding:"required"`
	Country    string `json:"country" binding:"required"`
	Phone      string `json:"phone"`
}

func (a addressBody) toAddress() repo.Address {
	return repo.Address{
		Name:       strings.TrimSpace(a.Name),
		Line1:      strings.TrimSpace(a.Line1),
		Line2:      strings.TrimSpace(a.Line2),
		City:       strings.TrimSpace(a.City),
		State:      strings.TrimSpace(a.State),
		PostalCode: strings.TrimSpace(a.PostalCode),
		Country:    strings.ToUpper(strings.TrimSpace(a.Country)),
		Phone:      strings.TrimSpace(a.Phone),
	}
}

func placeOrderHandler(opts Options) gin.HandlerFunc {
	type reqBody struct {
		csrfField
		ShippingAddress addressBody `json:"shippingAddress" binding:"required"`
		Provider        string      `json:"provider" binding:"required,oneof=stripe paypal epay"`
		EPayType        string      `json:"epayType"`
	}
	return func(c *gin.Context) {
		var req reqBody
		if !bindJSON(c, &req) || !checkCSRF(c, opts, req.CSRFToken) {
			return
		}
		if opts.Checkout == nil {
			envelope.FromError(c, checkout.ErrProviderDisabled)
			return
		}
		uid := actorID(c)
		if !opts.CheckoutInflight.Acquire(uid) {
			envelope.Error(c, msgCheckoutInProgress, http.StatusTooManyRequests)
			return
		}
		defer opts.CheckoutInflight.Release(uid)

		ctx := c.Request.Context()
		u, err := opts.Repos.Users.Get(ctx, uid)
		if err != nil {
			envelope.FromError(c, err)
			return
		}
		res, err := opts.Checkout.PlaceOrder(ctx, checkout.PlaceOrderInput{
			User:            u,
			CartID:          u.ID,
			ShippingAddress: req.ShippingAddress.toAddress(),
			Provider:        req.Provider,
			EPayType:        req.EPayType,
			BaseURL:         opts.BaseURL.For(c.Request),
		})
		if err != nil {
			envelope.FromError(c, err)
			return
		}
		envelope.OK(c, res, http.StatusCreated)
	}
}

func capturePayPalHandler(opts Options) gin.HandlerFunc {
	type reqBody struct {
		csrfField
		OrderID string `json:"orderId" binding:"required"`
	}
	return func(c *gin.Context) {
		var req reqBody
		if !bindJSON(c, &req) || !checkCSRF(c, opts, req.CSRFToken) {
			return
		}
		if opts.Checkout == nil {
			envelope.FromError(c, checkout.ErrProviderDisabled)
			return
		}
		o, err := opts.Checkout.CapturePayPal(c.Request.Context(), actorID(c), req.OrderID)
		if err != nil {
			if repo.IsNotFound(err) {
				envelope.Error(c, msgOrderNotFound, http.StatusNotFound)
				return
			}
			envelope.FromError(c, err)
			return
		}
		envelope.OK(c, gin.H{"order": o})
	}
}

func listMyOrdersHandler(opts Options) gin.HandlerFunc {
	return func(c *gin.Context) {
		list, err := opts.Repos.Orders.List(c.Request.Context(), repo.OrderFilter{
			UserID: actorID(c),
			Limit:  queryInt(c, "limit", 50),
			Offset: queryInt(c, "offset", 0),
		})
		if err != nil {
			envelope.FromError(c, err)
			return
		}
		envelope.OK(c, gin.H{"orders": list})
	}
}

func getMyOrderHandler(opts Options) gin.HandlerFunc {
	return func(c *gin.Context) {
		o, err := opts.Repos.Orders.Get(c.Request.Context(), c.Param("id"))
		if err != nil || o.UserID != actorID(c) {
			if err == nil || repo.IsNotFound(err) {
				envelope.Error(c, msgOrderNotFound, http.StatusNotFound)
				return
			}
			envelope.FromError(c, err)
			return
		}
		envelope.OK(c, gin.H{"order": o})
	}
}
