package router

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/gin-gonic/gin"

	"storefront/internal/access"
)

const defaultSessionProbeTimeout = 3 * time.Second

// pageGuard 在返回 SPA 页面前探测会话。探测超时或内部错误时按 SessionProbeFailOpen 决定放行还是跳转登录。
func pageGuard(opts Options) gin.HandlerFunc {
	timeout := opts.SessionProbeTimeout
	if timeout <= 0 {
		timeout = defaultSessionProbeTimeout
	}
	return func(c *gin.Context) {
		if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
			c.Next()
			return
		}
		path := c.Request.URL.Path
		if isAPIPrefix(path) {
			c.Next()
			return
		}
		policy := access.PolicyForPath(path)
		if policy == access.Public {
			c.Next()
			return
		}
		if opts.Decider == nil {
			if opts.SessionProbeFailOpen {
				c.Next()
				return
			}
			redirectToLogin(c)
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
		defer cancel()

		done := make(chan access.Result, 1)
		req := c.Request.WithContext(ctx)
		go func() {
			done <- opts.Decider.Authorize(ctx, req, policy)
		}()

		var res access.Result
		select {
		case res = <-done:
		case <-ctx.Done():
			opts.logger().WarnContext(c.Request.Context(), "会话探测超时", "path", path, "fail_open", opts.SessionProbeFailOpen)
			res = access.Result{Status: http.StatusGatewayTimeout}
		}

		switch {
		case policy.Allowed(res):
			c.Next()
		case res.Status >= http.StatusInternalServerError:
			if opts.SessionProbeFailOpen {
				c.Next()
				return
			}
			redirectToLogin(c)
		case res.Status == http.StatusForbidden && res.Authenticated:
			c.Redirect(http.StatusFound, "/")
			c.Abort()
		default:
			redirectToLogin(c)
		}
	}
}

func redirectToLogin(c *gin.Context) {
	c.Redirect(http.StatusFound, "/login?next="+url.QueryEscape(c.Request.URL.RequestURI()))
	c.Abort()
}
