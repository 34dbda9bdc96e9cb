package router

import (
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
)

func SetRouter(r *gin.Engine, opts Options) {
	setSystemRoutes(r, opts)
	setWebhookRoutes(r, opts)
	setUploadRoutes(r, opts)

	api := r.Group("/api")
	api.Use(gzip.Gzip(gzip.DefaultCompression))
	setAuthAPIRoutes(api, opts)
	setPublicAPIRoutes(api, opts)
	setCartAPIRoutes(api, opts)
	setCheckoutAPIRoutes(api, opts)
	setImageAPIRoutes(api, opts)
	setAdminAPIRoutes(api, opts)

	setWebSPARoutes(r, opts)
}
