package router

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"storefront/internal/access"
	"storefront/internal/envelope"
	"storefront/internal/middleware"
	"storefront/internal/repo"
)

func setWebhookRoutes(r *gin.Engine, opts Options) {
	webhookChain := func(h http.HandlerFunc) gin.HandlerFunc {
		return wrapHTTP(middleware.Chain(h, middleware.BodyCache(opts.WebhookMaxBodyBytes)))
	}

	if opts.StripeWebhook != nil {
		r.POST("/api/webhooks/stripe", webhookChain(opts.StripeWebhook))
	}
	if opts.PayPalWebhook != nil {
		r.POST("/api/webhooks/paypal", webhookChain(opts.PayPalWebhook))
	}
	if opts.EPayNotify != nil {
		r.GET("/api/webhooks/epay", webhookChain(opts.EPayNotify))
		r.POST("/api/webhooks/epay", webhookChain(opts.EPayNotify))
	}
}

func setPublicAPIRoutes(r *gin.RouterGroup, opts Options) {
	r.GET("/csrf", csrfTokenHandler(opts))
	r.GET("/settings", publicSettingsHandler(opts))
	r.GET("/products", publicListProductsHandler(opts))
	r.GET("/products/:id", publicGetProductHandler(opts))
	r.GET("/checkout/providers", checkoutProvidersHandler(opts))
	r.GET("/verify-session", verifySessionHandler(opts))
}

func publicSettingsHandler(opts Options) gin.HandlerFunc {
	return func(c *gin.Context) {
		s, err := opts.Repos.Settings.Get(c.Request.Context())
		if err != nil {
			envelope.FromError(c, err)
			return
		}
		envelope.OK(c, gin.H{"settings": s.Public()})
	}
}

func publicListProductsHandler(opts Options) gin.HandlerFunc {
	return func(c *gin.Context) {
		list, err := opts.Repos.Products.List(c.Request.Context(), repo.ProductFilter{
			Category:      strings.TrimSpace(c.Query("category")),
			PublishedOnly: true,
			FeaturedOnly:  queryBool(c, "featured"),
			Search:        strings.TrimSpace(c.Query("q")),
			Limit:         queryInt(c, "limit", 0),
			Offset:        queryInt(c, "offset", 0),
		})
		if err != nil {
			envelope.FromError(c, err)
			return
		}
		envelope.OK(c, gin.H{"products": list})
	}
}

func publicGetProductHandler(opts Options) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, err := opts.Repos.Products.GetBySlugOrID(c.Request.Context(), c.Param("id"))
		if err != nil {
			if repo.IsNotFound(err) {
				envelope.Error(c, msgProductNotFound, http.StatusNotFound)
				return
			}
			envelope.FromError(c, err)
			return
		}
		if !p.Published {
			envelope.Error(c, msgProductNotFound, http.StatusNotFound)
			return
		}
		envelope.OK(c, gin.H{"product": p})
	}
}

// verifySessionHandler 供前端页面守卫探测登录态；path 决定需要的权限。
func verifySessionHandler(opts Options) gin.HandlerFunc {
	return func(c *gin.Context) {
		policy := access.PolicyForPath(strings.TrimSpace(c.Query("path")))
		res := policy.Apply(opts.Decider.Check(c.Request.Context(), c.Request))
		if !res.Authenticated || (policy.RequireAdmin && !res.IsAdmin) {
			envelope.Error(c, res.Error, res.Status)
			return
		}
		envelope.OK(c, gin.H{
			"authenticated": true,
			"userId":        res.UserID,
			"isAdmin":       res.IsAdmin,
		})
	}
}
