package router

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"storefront/internal/auth"
	"storefront/internal/envelope"
	"storefront/internal/repo"
)

const (
	msgInvalidBody = "Invalid request body"
	msgNotFound    = "Not found"
)

func wrapHTTP(h http.Handler) gin.HandlerFunc {
	if h == nil {
		return func(c *gin.Context) {
			envelope.Error(c, msgNotFound, http.StatusNotFound)
		}
	}

	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

func wrapHTTPFunc(f http.HandlerFunc) gin.HandlerFunc {
	if f == nil {
		return wrapHTTP(nil)
	}
	return wrapHTTP(f)
}

// bindJSON 绑定并校验请求体；失败时已写出 400。
func bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		envelope.Error(c, msgInvalidBody, http.StatusBadRequest, map[string]any{"details": err.Error()})
		return false
	}
	return true
}

// principal 返回 requireAccess 放入 context 的当前用户。
func principal(c *gin.Context) (auth.Principal, bool) {
	return auth.PrincipalFromContext(c.Request.Context())
}

func actorID(c *gin.Context) string {
	p, _ := principal(c)
	return p.UserID
}

func queryInt(c *gin.Context, key string, def int) int {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func queryBool(c *gin.Context, key string) bool {
	v, _ := strconv.ParseBool(strings.TrimSpace(c.Query(key)))
	return v
}

// audit 记录后台写操作；写日志失败不影响主流程。
func audit(c *gin.Context, opts Options, action, target string, meta map[string]any) {
	err := opts.Repos.Logs.System(c.Request.Context(), repo.LogEntry{
		Level:   "info",
		Action:  action,
		ActorID: actorID(c),
		Target:  target,
		Meta:    meta,
	})
	if err != nil {
		opts.logger().WarnContext(c.Request.Context(), "写入审计日志失败", "action", action, "err", err)
	}
}

func activity(c *gin.Context, opts Options, userID, action, target string, meta map[string]any) {
	err := opts.Repos.Logs.Activity(c.Request.Context(), repo.LogEntry{
		Action:  action,
		ActorID: userID,
		Target:  target,
		Meta:    meta,
	})
	if err != nil {
		opts.logger().WarnContext(c.Request.Context(), "写入活动日志失败", "action", action, "err", err)
	}
}
