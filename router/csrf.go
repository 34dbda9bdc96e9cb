package router

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"storefront/internal/csrf"
	"storefront/internal/envelope"
	"storefront/internal/obs"
)

const (
	csrfHeader     = "X-CSRF-Token"
	msgInvalidCSRF = "Invalid CSRF token"
)

// csrfField 嵌入需要 CSRF 的请求体。
type csrfField struct {
	CSRFToken string `json:"csrfToken"`
}

func csrfTokenHandler(opts Options) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := opts.CSRF.Generate(sessionID(c, true))
		if err != nil {
			envelope.FromError(c, err)
			return
		}
		envelope.OK(c, gin.H{"csrfToken": token})
	}
}

// checkCSRF 校验请求体中的令牌，缺省时读取 X-CSRF-Token 头；失败时已写出 403。
func checkCSRF(c *gin.Context, opts Options, bodyToken string) bool {
	token := strings.TrimSpace(bodyToken)
	if token == "" {
		token = strings.TrimSpace(c.GetHeader(csrfHeader))
	}
	err := opts.CSRF.Verify(c.Request.Context(), sessionID(c, false), token)
	if err != nil {
		reason := csrf.Reason(err)
		obs.RecordCSRFRejection(reason)
		opts.logger().InfoContext(c.Request.Context(), "CSRF 校验失败", "path", c.FullPath(), "reason", reason)
		envelope.Error(c, msgInvalidCSRF, http.StatusForbidden)
		return false
	}
	return true
}
