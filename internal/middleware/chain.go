// Package middleware 提供 net/http 风格的中间件以及挂到 gin 上的适配。
package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type Middleware func(http.Handler) http.Handler

func Chain(h http.Handler, mws ...Middleware) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// Gin 把 net/http 中间件挂到 gin 链上。中间件没有调用 next 时中止后续 handler。
func Gin(mws ...Middleware) gin.HandlerFunc {
	return func(c *gin.Context) {
		called := false
		h := Chain(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
			called = true
			c.Request = r
			c.Next()
		}), mws...)
		h.ServeHTTP(c.Writer, c.Request)
		if !called {
			c.Abort()
		}
	}
}
