// Package server 组装存储、鉴权、支付与路由，使 main 保持简单可读。
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	root "storefront"
	"storefront/internal/access"
	"storefront/internal/auth"
	"storefront/internal/checkout"
	"storefront/internal/config"
	"storefront/internal/csrf"
	"storefront/internal/docstore"
	"storefront/internal/docstore/firestore"
	"storefront/internal/envelope"
	"storefront/internal/limits"
	"storefront/internal/middleware"
	"storefront/internal/objstore"
	"storefront/internal/obs"
	"storefront/internal/payment"
	"storefront/internal/repo"
	"storefront/internal/security"
	"storefront/internal/store"
	"storefront/internal/version"
	"storefront/router"
)

const (
	webhookMaxBodyBytes = 1 << 20
	uploadMaxBytes      = 10 << 20
	csrfReplayCacheSize = 100_000
)

type AppOptions struct {
	Config  config.Config
	Logger  *slog.Logger
	Version version.BuildInfo

	// Store 非 nil 时不再按 db.driver 打开存储，供测试与命令行工具注入。
	Store docstore.Store
}

type App struct {
	cfg     config.Config
	logger  *slog.Logger
	version version.BuildInfo

	docs     docstore.Store
	repos    *repo.Repos
	checkout *checkout.Service
	stripe   *payment.Stripe
	paypal   *payment.PayPal
	epay     *payment.EPay

	engine  *gin.Engine
	closers []func() error
}

// OpenStore 按 db.driver 打开文档存储；SQL 驱动会先执行建表或迁移。
func OpenStore(ctx context.Context, cfg config.Config) (docstore.Store, func() error, error) {
	if cfg.DB.Driver == "firestore" {
		fst, err := firestore.Open(ctx, cfg.DB.FirestoreProject)
		if err != nil {
			return nil, nil, err
		}
		return fst, fst.Close, nil
	}
	db, dialect, err := store.OpenDB(cfg.Env, cfg.DB.Driver, cfg.DB.DSN, cfg.DB.SQLitePath)
	if err != nil {
		return nil, nil, err
	}
	if err := store.EnsureSchema(db, dialect); err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	st := store.New(db)
	st.SetDialect(dialect)
	return st, db.Close, nil
}

func NewApp(ctx context.Context, opts AppOptions) (*App, error) {
	cfg := opts.Config
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	app := &App{cfg: cfg, logger: logger, version: opts.Version}

	docs := opts.Store
	if docs == nil {
		st, closeFn, err := OpenStore(ctx, cfg)
		if err != nil {
			return nil, err
		}
		docs = st
		app.closers = append(app.closers, closeFn)
	}
	app.docs = docs
	app.repos = repo.New(docs)
	if err := app.repos.Roles.EnsureSystemRoles(ctx); err != nil {
		app.Close()
		return nil, fmt.Errorf("初始化系统角色失败: %w", err)
	}

	tokens, err := auth.NewSessionTokens(cfg.Security.JWTSecret, cfg.Security.SessionTTL)
	if err != nil {
		app.Close()
		return nil, err
	}
	var provider auth.ProviderVerifier
	if cfg.IdP.Enabled() {
		p, err := auth.NewJWKSProvider(auth.JWKSProviderOptions{
			JWKSURL:  cfg.IdP.JWKSURL,
			Issuer:   cfg.IdP.Issuer,
			Audience: cfg.IdP.Audience,
		})
		if err != nil {
			app.Close()
			return nil, err
		}
		provider = p
	}
	verifier := auth.NewVerifier(tokens, provider)
	decider := access.NewDecider(verifier, app.repos.Users, logger)

	csrfSvc, err := csrf.New(cfg.CSRF.Secret, cfg.CSRF.TTL, app.replayStore())
	if err != nil {
		app.Close()
		return nil, err
	}

	if err := app.initPayments(ctx); err != nil {
		app.Close()
		return nil, err
	}

	storage, local, err := openObjectStorage(cfg)
	if err != nil {
		app.Close()
		return nil, err
	}
	allow, err := security.NewHostAllowlist(cfg.ObjStore.AllowedImageHosts)
	if err != nil {
		app.Close()
		return nil, err
	}
	images := objstore.NewImageCache(storage, objstore.ImageCacheOptions{
		AllowedHosts: allow,
		TTL:          cfg.ObjStore.ImageCacheTTL,
	})

	baseURL, err := security.NewBaseURL(cfg.Server.PublicBaseURL, cfg.Server.TrustProxyHeaders, cfg.Server.TrustedProxyCIDRs)
	if err != nil {
		app.Close()
		return nil, err
	}

	if cfg.Env != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(envelope.Recovery())
	engine.Use(middleware.Gin(middleware.RequestID, middleware.AccessLog))
	engine.Use(middleware.Metrics())
	if cfg.Server.HandlerTimeoutSeconds > 0 {
		engine.Use(middleware.Gin(middleware.RequestTimeout(time.Duration(cfg.Server.HandlerTimeoutSeconds) * time.Second)))
	}
	if cfg.Server.PublicMaxBodyBytes > 0 {
		engine.Use(middleware.Gin(middleware.MaxBytes(cfg.Server.PublicMaxBodyBytes)))
	}
	secure := cfg.Env != "dev" && !cfg.Security.DisableSecureCookies
	engine.Use(sessions.Sessions(SessionCookieName, newSessionStore(cfg.CSRF.Secret, secure)))

	frontendFS, indexPage := embeddedFrontend()
	router.SetRouter(engine, router.Options{
		Repos:            app.repos,
		Sessions:         tokens,
		Verifier:         verifier,
		Decider:          decider,
		CSRF:             csrfSvc,
		Checkout:         app.checkout,
		CheckoutInflight: limits.NewInflight(1),
		Logger:           logger,

		Storage:        storage,
		Images:         images,
		LocalUploads:   local,
		MaxUploadBytes: uploadMaxBytes,

		BaseURL: baseURL,

		AllowOpenRegistration: cfg.Security.AllowOpenRegistration,
		SecureCookies:         secure,
		DevBypass: access.DevBypass{
			Enabled:  cfg.Env == "dev" && cfg.Security.DevAdminBypass,
			Email:    cfg.Security.DevAdminEmail,
			Password: cfg.Security.DevAdminPassword,
		},
		SessionProbeTimeout:  cfg.Security.SessionProbeTimeout,
		SessionProbeFailOpen: cfg.Security.SessionProbeFailOpen,

		FrontendBaseURL:   strings.TrimSpace(os.Getenv("STOREFRONT_FRONTEND_BASE_URL")),
		FrontendDistDir:   cfg.Frontend.DistDir,
		FrontendIndexPage: indexPage,
		FrontendFS:        frontendFS,

		Healthz: app.handleHealthz,
		Metrics: obs.MetricsHandler(),

		WebhookMaxBodyBytes: webhookMaxBodyBytes,
		StripeWebhook:       app.handleStripeWebhook,
		PayPalWebhook:       app.handlePayPalWebhook,
		EPayNotify:          app.handleEPayNotify,
	})
	app.engine = engine
	return app, nil
}

// replayStore 按 csrf.replay_store 选择 nonce 去重后端。
func (a *App) replayStore() csrf.ReplayStore {
	switch a.cfg.CSRF.ReplayStore {
	case "none":
		return nil
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: a.cfg.CSRF.RedisAddr})
		a.closers = append(a.closers, client.Close)
		return csrf.NewRedisReplayStore(client)
	default:
		return csrf.NewMemoryReplayStore(csrfReplayCacheSize, a.cfg.CSRF.TTL)
	}
}

func (a *App) initPayments(ctx context.Context) error {
	cfg := a.cfg
	opts := checkout.Options{Logger: a.logger}
	if strings.TrimSpace(cfg.Stripe.SecretKey) != "" {
		s, err := payment.NewStripe(cfg.Stripe.SecretKey, cfg.Stripe.WebhookSecret, cfg.Stripe.Currency, nil)
		if err != nil {
			return err
		}
		a.stripe = s
		opts.Stripe = s
	}
	if strings.TrimSpace(cfg.PayPal.ClientID) != "" {
		p, err := payment.NewPayPal(ctx, payment.PayPalOptions{
			ClientID:     cfg.PayPal.ClientID,
			ClientSecret: cfg.PayPal.ClientSecret,
			BaseURL:      cfg.PayPal.BaseURL,
			WebhookID:    cfg.PayPal.WebhookID,
		})
		if err != nil {
			return err
		}
		a.paypal = p
		opts.PayPal = p
	}
	if strings.TrimSpace(cfg.EPay.Gateway) != "" {
		e, err := payment.NewEPay(cfg.EPay.Gateway, cfg.EPay.PartnerID, cfg.EPay.Key)
		if err != nil {
			return err
		}
		a.epay = e
		opts.EPay = e
	}
	a.checkout = checkout.New(a.repos, opts)
	return nil
}

// openObjectStorage 配置了 Supabase 时使用远端存储，否则落本地目录并由本服务提供 /uploads。
func openObjectStorage(cfg config.Config) (objstore.Storage, *objstore.Local, error) {
	if strings.TrimSpace(cfg.ObjStore.SupabaseURL) != "" {
		s, err := objstore.NewSupabase(cfg.ObjStore.SupabaseURL, cfg.ObjStore.SupabaseServiceKey, cfg.ObjStore.Bucket, &http.Client{Timeout: 30 * time.Second})
		if err != nil {
			return nil, nil, err
		}
		return s, nil, nil
	}
	local := objstore.NewLocal(cfg.ObjStore.LocalDir, "/uploads")
	return local, local, nil
}

func embeddedFrontend() (fs.FS, []byte) {
	if root.WebDistFS == nil {
		return nil, nil
	}
	b, err := fs.ReadFile(root.WebDistFS, "web/dist/index.html")
	if err != nil || len(b) == 0 {
		return nil, nil
	}
	return root.WebDistFS, b
}

func (a *App) Handler() http.Handler {
	return a.engine
}

func (a *App) Repos() *repo.Repos {
	return a.repos
}

// Close 释放存储与 Redis 连接，按打开的逆序关闭。
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *App) handleHealthz(w http.ResponseWriter, r *http.Request) {
	type resp struct {
		OK      bool   `json:"ok"`
		Env     string `json:"env"`
		Version string `json:"version"`
		Commit  string `json:"commit"`
		Date    string `json:"date"`
		DBOK    bool   `json:"db_ok"`

		Providers []string `json:"providers"`
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	dbOK := a.docs.Ping(ctx) == nil
	if !dbOK {
		a.logger.WarnContext(r.Context(), "健康检查：存储不可用")
	}

	out := resp{
		OK:        true,
		Env:       a.cfg.Env,
		Version:   a.version.Version,
		Commit:    a.version.Commit,
		Date:      a.version.Date,
		DBOK:      dbOK,
		Providers: a.checkout.Providers(),
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	if r.Method == http.MethodHead {
		w.WriteHeader(http.StatusOK)
		return
	}
	_ = json.NewEncoder(w).Encode(out)
}
