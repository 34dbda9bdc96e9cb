package router

import (
	"io/fs"
	"log/slog"
	"net/http"
	"time"

	"storefront/internal/access"
	"storefront/internal/auth"
	"storefront/internal/checkout"
	"storefront/internal/csrf"
	"storefront/internal/limits"
	"storefront/internal/objstore"
	"storefront/internal/repo"
	"storefront/internal/security"
)

type Options struct {
	Repos    *repo.Repos
	Sessions *auth.SessionTokens
	Verifier *auth.Verifier
	Decider  *access.Decider
	CSRF     *csrf.Service
	Checkout *checkout.Service
	Logger   *slog.Logger

	// CheckoutInflight 限制同一用户并发下单，nil 表示不限制。
	CheckoutInflight *limits.Inflight

	// Storage 用于后台上传；Images 把外链图片转存到同一存储。
	Storage objstore.Storage
	Images  *objstore.ImageCache
	// LocalUploads 非 nil 时由本服务提供 /uploads/* 静态访问。
	LocalUploads   *objstore.Local
	MaxUploadBytes int64

	BaseURL security.BaseURL

	AllowOpenRegistration bool
	SecureCookies         bool
	DevBypass             access.DevBypass

	// 页面守卫调用会话校验的超时与失败策略。
	SessionProbeTimeout  time.Duration
	SessionProbeFailOpen bool

	FrontendBaseURL   string // optional; if set, non-API requests redirect to this base.
	FrontendDistDir   string // optional; e.g. "./web/dist" for serving static assets.
	FrontendIndexPage []byte // optional; when empty, SPA routes read dist/index.html at request time.
	FrontendFS        fs.FS  // optional; when set, static assets are served from this FS.

	// system
	Healthz http.HandlerFunc
	Metrics http.Handler

	// payments/webhooks
	WebhookMaxBodyBytes int64
	StripeWebhook       http.HandlerFunc
	PayPalWebhook       http.HandlerFunc
	EPayNotify          http.HandlerFunc
}

func (o Options) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}
