package server

import (
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
)

// SessionCookieName 是 cookie 会话名，保存 CSRF 会话 id 与访客购物车 id。
const SessionCookieName = "storefront_session"

const sessionMaxAgeSeconds = 30 * 24 * 3600

// newSessionStore 使用 Lax 而不是 Strict：支付渠道回跳到 /checkout/success 时需要带上会话。
func newSessionStore(secret string, secure bool) sessions.Store {
	st := cookie.NewStore([]byte(secret))
	st.Options(sessions.Options{
		Path:     "/",
		MaxAge:   sessionMaxAgeSeconds,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
	return st
}
