// Package envelope 统一 JSON 响应：所有响应都带 JSON body 与禁用缓存的头。
package envelope

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"storefront/internal/apperr"
	"storefront/internal/auth"
	"storefront/internal/docstore"
)

const msgInternal = "Internal server error"

func noCache(c *gin.Context) {
	h := c.Writer.Header()
	h.Set("Cache-Control", "no-store, no-cache, must-revalidate, max-age=0")
	h.Set("Pragma", "no-cache")
	h.Set("Expires", "0")
}

// OK 写出 data；status 缺省为 200。
func OK(c *gin.Context, data any, status ...int) {
	code := http.StatusOK
	if len(status) > 0 && status[0] > 0 {
		code = status[0]
	}
	if data == nil {
		data = gin.H{}
	}
	noCache(c)
	c.JSON(code, data)
}

// Error 写出 {error: message, ...details} 并中止后续 handler。
func Error(c *gin.Context, message string, status int, details ...map[string]any) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	body := gin.H{}
	for _, d := range details {
		for k, v := range d {
			body[k] = v
		}
	}
	body["error"] = message
	noCache(c)
	c.AbortWithStatusJSON(status, body)
}

// FromError 按错误分类映射状态码。未分类错误按上游失败处理，底层信息放入 details。
func FromError(c *gin.Context, err error) {
	if err == nil {
		OK(c, nil)
		return
	}
	if e := apperr.As(err); e != nil {
		if e.Kind == apperr.KindUpstream {
			slog.ErrorContext(c.Request.Context(), "上游调用失败", "path", c.FullPath(), "err", err)
		}
		Error(c, e.Message, e.Status(), e.Details)
		return
	}
	switch {
	case errors.Is(err, docstore.ErrNotFound):
		Error(c, "Not found", http.StatusNotFound)
	case errors.Is(err, docstore.ErrConflict):
		Error(c, "Already exists", http.StatusBadRequest)
	case errors.Is(err, auth.ErrMissingToken):
		Error(c, auth.ErrMissingToken.Error(), http.StatusUnauthorized)
	case errors.Is(err, auth.ErrInvalidToken):
		Error(c, "Invalid authentication token", http.StatusUnauthorized)
	default:
		slog.ErrorContext(c.Request.Context(), "请求处理失败", "path", c.FullPath(), "err", err)
		Error(c, msgInternal, http.StatusInternalServerError, map[string]any{"details": err.Error()})
	}
}

// Recovery 把 panic 转成 500 信封。
func Recovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		slog.ErrorContext(c.Request.Context(), "panic recovered", "path", c.Request.URL.Path, "panic", recovered)
		Error(c, msgInternal, http.StatusInternalServerError)
	})
}
