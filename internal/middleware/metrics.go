package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"storefront/internal/obs"
)

// Metrics 以路由模板为标签记录请求数与耗时；未匹配路由统一记为 unmatched。
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		obs.ObserveHTTP(c.Request.Method, c.FullPath(), c.Writer.Status(), time.Since(start))
	}
}
