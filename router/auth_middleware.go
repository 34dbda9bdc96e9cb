package router

import (
	"github.com/gin-gonic/gin"

	"storefront/internal/access"
	"storefront/internal/auth"
	"storefront/internal/envelope"
	"storefront/internal/middleware"
	"storefront/internal/obs"
)

// requireAccess 对每个请求只做一次访问裁决。Public 策略下携带有效令牌时同样注入当前用户。
func requireAccess(opts Options, p access.Policy) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		res := opts.Decider.Authorize(ctx, c.Request, p)
		if !p.Allowed(res) {
			obs.RecordAccessDenied(res.Status)
			envelope.Error(c, res.Error, res.Status)
			return
		}
		if res.Authenticated {
			middleware.AnnotateUser(ctx, res.UserID)
			c.Request = c.Request.WithContext(auth.WithPrincipal(ctx, res.Principal))
		}
		c.Next()
	}
}
