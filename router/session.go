package router

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"storefront/internal/auth"
)

const (
	sessionIDKey = "sid"
	cartIDKey    = "cart_id"

	authStatusValue = "authenticated"
)

// sessionID 返回 cookie 会话中的 sid；create=true 时按需生成。
func sessionID(c *gin.Context, create bool) string {
	sess := sessions.Default(c)
	if sid, ok := sess.Get(sessionIDKey).(string); ok && strings.TrimSpace(sid) != "" {
		return sid
	}
	if !create {
		return ""
	}
	sid := uuid.NewString()
	sess.Set(sessionIDKey, sid)
	_ = sess.Save()
	return sid
}

// cartID 已登录用户的购物车 id 即用户 id；访客使用会话中的 cart_id。
func cartID(c *gin.Context, create bool) string {
	if p, ok := principal(c); ok && p.UserID != "" {
		return p.UserID
	}
	return guestCartID(c, create)
}

func guestCartID(c *gin.Context, create bool) string {
	sess := sessions.Default(c)
	if id, ok := sess.Get(cartIDKey).(string); ok && strings.TrimSpace(id) != "" {
		return id
	}
	if !create {
		return ""
	}
	id := "guest-" + uuid.NewString()
	sess.Set(cartIDKey, id)
	_ = sess.Save()
	return id
}

func forgetGuestCart(c *gin.Context) {
	sess := sessions.Default(c)
	sess.Delete(cartIDKey)
	_ = sess.Save()
}

func setAuthCookies(c *gin.Context, opts Options, token string, expiresAt time.Time) {
	maxAge := int(time.Until(expiresAt).Seconds())
	if maxAge <= 0 {
		maxAge = int(opts.Sessions.TTL().Seconds())
	}
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     auth.CookieAuthToken,
		Value:    token,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   opts.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	// 前端据此判断登录态，不含任何凭据。
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     auth.CookieAuthStatus,
		Value:    authStatusValue,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: false,
		Secure:   opts.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

func clearAuthCookies(c *gin.Context, opts Options) {
	for _, name := range []string{auth.CookieAuthToken, auth.CookieAuthStatus, auth.CookieSession} {
		http.SetCookie(c.Writer, &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     "/",
			MaxAge:   -1,
			HttpOnly: name != auth.CookieAuthStatus,
			Secure:   opts.SecureCookies,
			SameSite: http.SameSiteLaxMode,
		})
	}
}
