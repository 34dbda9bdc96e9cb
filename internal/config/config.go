// Package config 负责读取并合并服务配置（环境变量为主），避免在业务代码里散落解析逻辑。
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Env      string         `yaml:"env"`
	Server   ServerConfig   `yaml:"server"`
	DB       DBConfig       `yaml:"db"`
	Security SecurityConfig `yaml:"security"`
	IdP      IdPConfig      `yaml:"idp"`
	CSRF     CSRFConfig     `yaml:"csrf"`
	Stripe   StripeConfig   `yaml:"stripe"`
	PayPal   PayPalConfig   `yaml:"paypal"`
	EPay     EPayConfig     `yaml:"epay"`
	ObjStore ObjStoreConfig `yaml:"objstore"`
	Frontend FrontendConfig `yaml:"frontend"`
}

type ServerConfig struct {
	Addr          string `yaml:"addr"`
	PublicBaseURL string `yaml:"public_base_url"`

	// HTTP 连接硬化：这些参数会直接映射到 net/http 的 http.Server。
	ReadHeaderTimeoutSeconds int `yaml:"read_header_timeout_seconds"`
	ReadTimeoutSeconds       int `yaml:"read_timeout_seconds"`
	IdleTimeoutSeconds       int `yaml:"idle_timeout_seconds"`
	MaxHeaderBytes           int `yaml:"max_header_bytes"`
	// 单个请求的处理截止时间，<= 0 表示不限制。
	HandlerTimeoutSeconds int `yaml:"handler_timeout_seconds"`

	// 请求体上限（BodyCache 读取 webhook payload 时使用）。<= 0 表示不限制。
	PublicMaxBodyBytes int64 `yaml:"public_max_body_bytes"`

	TrustProxyHeaders bool     `yaml:"trust_proxy_headers"`
	TrustedProxyCIDRs []string `yaml:"trusted_proxy_cidrs"`
}

type DBConfig struct {
	// Driver 支持 sqlite/mysql/postgres/firestore；为空时会根据 dsn 自动推断。
	Driver string `yaml:"driver"`
	// DSN 用于 MySQL / Postgres。
	DSN string `yaml:"dsn"`
	// SQLitePath 是 SQLite 数据库文件路径（可包含 DSN query，如 ?_busy_timeout=30000）。
	SQLitePath string `yaml:"sqlite_path"`
	// FirestoreProject 为 driver=firestore 时使用的 GCP 项目 ID。
	FirestoreProject string `yaml:"firestore_project"`
}

type SecurityConfig struct {
	JWTSecret  string        `yaml:"jwt_secret"`
	SessionTTL time.Duration `yaml:"session_ttl"`

	AllowOpenRegistration bool `yaml:"allow_open_registration"`
	DisableSecureCookies  bool `yaml:"disable_secure_cookies"`

	// SessionProbeTimeout 是页面守卫调用会话校验的超时时间。
	SessionProbeTimeout time.Duration `yaml:"session_probe_timeout"`
	// SessionProbeFailOpen 为 true 时，会话校验超时/失败会放行页面请求。
	SessionProbeFailOpen bool `yaml:"session_probe_fail_open"`

	// DevAdminBypass 仅允许在 env=dev 下开启。
	DevAdminBypass   bool   `yaml:"dev_admin_bypass"`
	DevAdminEmail    string `yaml:"dev_admin_email"`
	DevAdminPassword string `yaml:"dev_admin_password"`
}

type IdPConfig struct {
	ProjectID string `yaml:"project_id"`
	JWKSURL   string `yaml:"jwks_url"`
	Issuer    string `yaml:"issuer"`
	Audience  string `yaml:"audience"`
}

// Enabled 表示是否配置了第三方身份提供方。
func (c IdPConfig) Enabled() bool {
	return c.JWKSURL != "" && c.Issuer != ""
}

type CSRFConfig struct {
	Secret string        `yaml:"secret"`
	TTL    time.Duration `yaml:"ttl"`
	// ReplayStore 支持 memory/redis/none；none 表示不做一次性校验。
	ReplayStore string `yaml:"replay_store"`
	RedisAddr   string `yaml:"redis_addr"`
}

type StripeConfig struct {
	SecretKey     string `yaml:"secret_key"`
	WebhookSecret string `yaml:"webhook_secret"`
	Currency      string `yaml:"currency"`
}

type PayPalConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	BaseURL      string `yaml:"base_url"`
	WebhookID    string `yaml:"webhook_id"`
}

type EPayConfig struct {
	Gateway   string `yaml:"gateway"`
	PartnerID string `yaml:"partner_id"`
	Key       string `yaml:"key"`
}

type ObjStoreConfig struct {
	SupabaseURL        string        `yaml:"supabase_url"`
	SupabaseServiceKey string        `yaml:"supabase_service_key"`
	Bucket             string        `yaml:"bucket"`
	LocalDir           string        `yaml:"local_dir"`
	ImageCacheTTL      time.Duration `yaml:"image_cache_ttl"`
	AllowedImageHosts  []string      `yaml:"allowed_image_hosts"`
}

type FrontendConfig struct {
	DistDir string `yaml:"dist_dir"`
}

// LoadFromEnv 仅从环境变量加载配置（不读取任何配置文件）。
func LoadFromEnv() (Config, error) {
	cfg := defaultConfig()
	applyEnvOverrides(&cfg)
	return normalizeAndValidate(cfg)
}

func normalizeAndValidate(cfg Config) (Config, error) {
	cfg.Env = strings.ToLower(strings.TrimSpace(cfg.Env))
	if cfg.Env == "" {
		cfg.Env = "dev"
	}

	publicBaseURL, err := NormalizeHTTPBaseURL(cfg.Server.PublicBaseURL, "server.public_base_url")
	if err != nil {
		return Config{}, err
	}
	cfg.Server.PublicBaseURL = publicBaseURL
	if cfg.Server.Addr == "" {
		return Config{}, errors.New("server.addr 不能为空")
	}

	cfg.DB.Driver = strings.ToLower(strings.TrimSpace(cfg.DB.Driver))
	cfg.DB.DSN = strings.TrimSpace(cfg.DB.DSN)
	cfg.DB.SQLitePath = strings.TrimSpace(cfg.DB.SQLitePath)
	cfg.DB.FirestoreProject = strings.TrimSpace(cfg.DB.FirestoreProject)

	if cfg.DB.Driver == "" {
		switch {
		case strings.HasPrefix(cfg.DB.DSN, "postgres://"), strings.HasPrefix(cfg.DB.DSN, "postgresql://"):
			cfg.DB.Driver = "postgres"
		case cfg.DB.DSN != "":
			cfg.DB.Driver = "mysql"
		default:
			cfg.DB.Driver = "sqlite"
		}
	}

	switch cfg.DB.Driver {
	case "sqlite":
		if cfg.DB.SQLitePath == "" {
			cfg.DB.SQLitePath = "./data/storefront.db?_busy_timeout=30000"
		}
	case "mysql", "postgres":
		if cfg.DB.DSN == "" {
			return Config{}, fmt.Errorf("db.dsn 不能为空（db.driver=%s）", cfg.DB.Driver)
		}
	case "firestore":
		if cfg.DB.FirestoreProject == "" {
			cfg.DB.FirestoreProject = cfg.IdP.ProjectID
		}
		if cfg.DB.FirestoreProject == "" {
			return Config{}, errors.New("db.firestore_project 不能为空（db.driver=firestore）")
		}
	default:
		return Config{}, fmt.Errorf("db.driver 不支持：%s（仅支持 sqlite/mysql/postgres/firestore）", cfg.DB.Driver)
	}

	cfg.Security.JWTSecret = strings.TrimSpace(cfg.Security.JWTSecret)
	if cfg.Security.JWTSecret == "" {
		if cfg.Env != "dev" {
			return Config{}, errors.New("security.jwt_secret 不能为空（非 dev 环境）")
		}
		cfg.Security.JWTSecret = "dev-insecure-jwt-secret"
	}
	if cfg.Env != "dev" && len(cfg.Security.JWTSecret) < 32 {
		return Config{}, errors.New("security.jwt_secret 长度至少 32 位")
	}
	if cfg.Security.SessionTTL <= 0 {
		return Config{}, errors.New("security.session_ttl 必须大于 0")
	}
	if cfg.Security.SessionProbeTimeout <= 0 {
		cfg.Security.SessionProbeTimeout = 3 * time.Second
	}
	if cfg.Security.DevAdminBypass {
		if cfg.Env != "dev" {
			return Config{}, errors.New("security.dev_admin_bypass 仅允许在 env=dev 下开启")
		}
		cfg.Security.DevAdminEmail = strings.ToLower(strings.TrimSpace(cfg.Security.DevAdminEmail))
		if cfg.Security.DevAdminEmail == "" || cfg.Security.DevAdminPassword == "" {
			return Config{}, errors.New("security.dev_admin_email/dev_admin_password 不能为空（dev_admin_bypass=true）")
		}
	}

	cfg.IdP.ProjectID = strings.TrimSpace(cfg.IdP.ProjectID)
	if cfg.IdP.ProjectID != "" {
		if cfg.IdP.JWKSURL == "" {
			cfg.IdP.JWKSURL = "https://www.googleapis.com/service_accounts/v1/jwk/securetoken@system.gserviceaccount.com"
		}
		if cfg.IdP.Issuer == "" {
			cfg.IdP.Issuer = "https://securetoken.google.com/" + cfg.IdP.ProjectID
		}
		if cfg.IdP.Audience == "" {
			cfg.IdP.Audience = cfg.IdP.ProjectID
		}
	}
	if cfg.IdP.JWKSURL != "" {
		if _, err := NormalizeHTTPBaseURL(cfg.IdP.JWKSURL, "idp.jwks_url"); err != nil {
			return Config{}, err
		}
	}

	cfg.CSRF.Secret = strings.TrimSpace(cfg.CSRF.Secret)
	if cfg.CSRF.Secret == "" {
		cfg.CSRF.Secret = cfg.Security.JWTSecret
	}
	if cfg.CSRF.TTL <= 0 {
		return Config{}, errors.New("csrf.ttl 必须大于 0")
	}
	cfg.CSRF.ReplayStore = strings.ToLower(strings.TrimSpace(cfg.CSRF.ReplayStore))
	switch cfg.CSRF.ReplayStore {
	case "", "memory":
		cfg.CSRF.ReplayStore = "memory"
	case "none":
	case "redis":
		if strings.TrimSpace(cfg.CSRF.RedisAddr) == "" {
			return Config{}, errors.New("csrf.redis_addr 不能为空（csrf.replay_store=redis）")
		}
	default:
		return Config{}, fmt.Errorf("csrf.replay_store 不支持：%s（仅支持 memory/redis/none）", cfg.CSRF.ReplayStore)
	}

	cfg.Stripe.Currency = strings.ToLower(strings.TrimSpace(cfg.Stripe.Currency))
	if cfg.Stripe.Currency == "" {
		cfg.Stripe.Currency = "usd"
	}

	paypalBaseURL, err := NormalizeHTTPBaseURL(cfg.PayPal.BaseURL, "paypal.base_url")
	if err != nil {
		return Config{}, err
	}
	cfg.PayPal.BaseURL = paypalBaseURL

	epayGateway, err := NormalizeHTTPBaseURL(cfg.EPay.Gateway, "epay.gateway")
	if err != nil {
		return Config{}, err
	}
	cfg.EPay.Gateway = epayGateway

	supabaseURL, err := NormalizeHTTPBaseURL(cfg.ObjStore.SupabaseURL, "objstore.supabase_url")
	if err != nil {
		return Config{}, err
	}
	cfg.ObjStore.SupabaseURL = supabaseURL
	if cfg.ObjStore.SupabaseURL != "" && strings.TrimSpace(cfg.ObjStore.SupabaseServiceKey) == "" {
		return Config{}, errors.New("objstore.supabase_service_key 不能为空（已配置 supabase_url）")
	}
	cfg.ObjStore.Bucket = strings.TrimSpace(cfg.ObjStore.Bucket)
	if cfg.ObjStore.Bucket == "" {
		cfg.ObjStore.Bucket = "storefront"
	}
	cfg.ObjStore.LocalDir = strings.TrimSpace(cfg.ObjStore.LocalDir)
	if cfg.ObjStore.LocalDir == "" {
		cfg.ObjStore.LocalDir = "./data/uploads"
	}

	cfg.Frontend.DistDir = strings.TrimSpace(cfg.Frontend.DistDir)
	return cfg, nil
}

func NormalizeHTTPBaseURL(raw string, label string) (string, error) {
	v := strings.TrimRight(strings.TrimSpace(raw), "/")
	if v == "" {
		return "", nil
	}
	u, err := url.Parse(v)
	if err != nil {
		if strings.TrimSpace(label) == "" {
			return "", fmt.Errorf("解析 base_url 失败: %w", err)
		}
		return "", fmt.Errorf("解析 %s 失败: %w", label, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		if strings.TrimSpace(label) == "" {
			return "", errors.New("base_url 仅支持 http/https")
		}
		return "", fmt.Errorf("%s 仅支持 http/https", label)
	}
	if u.Host == "" {
		if strings.TrimSpace(label) == "" {
			return "", errors.New("base_url host 不能为空")
		}
		return "", fmt.Errorf("%s host 不能为空", label)
	}
	return v, nil
}

func defaultConfig() Config {
	return Config{
		Env: "dev",
		Server: ServerConfig{
			Addr: ":8080",

			ReadHeaderTimeoutSeconds: 5,
			ReadTimeoutSeconds:       30,
			IdleTimeoutSeconds:       120,
			MaxHeaderBytes:           1048576,
			HandlerTimeoutSeconds:    30,

			PublicMaxBodyBytes: 1 << 20, // 1MB
		},
		DB: DBConfig{
			SQLitePath: "./data/storefront.db?_busy_timeout=30000",
		},
		Security: SecurityConfig{
			SessionTTL:            7 * 24 * time.Hour,
			AllowOpenRegistration: true,
			SessionProbeTimeout:   3 * time.Second,
			SessionProbeFailOpen:  true,
		},
		CSRF: CSRFConfig{
			TTL:         time.Hour,
			ReplayStore: "memory",
		},
		Stripe: StripeConfig{
			Currency: "usd",
		},
		PayPal: PayPalConfig{
			BaseURL: "https://api-m.sandbox.paypal.com",
		},
		ObjStore: ObjStoreConfig{
			Bucket:        "storefront",
			LocalDir:      "./data/uploads",
			ImageCacheTTL: 24 * time.Hour,
		},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("STOREFRONT_ENV"); v != "" {
		cfg.Env = v
		// 非 dev 环境默认 fail-closed；显式配置仍可覆盖。
		if strings.ToLower(strings.TrimSpace(v)) != "dev" {
			cfg.Security.SessionProbeFailOpen = false
		}
	}
	if v := os.Getenv("STOREFRONT_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("STOREFRONT_PUBLIC_BASE_URL"); v != "" {
		cfg.Server.PublicBaseURL = v
	}
	if v := os.Getenv("STOREFRONT_SERVER_READ_HEADER_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.Server.ReadHeaderTimeoutSeconds = n
		}
	}
	if v := os.Getenv("STOREFRONT_SERVER_READ_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.Server.ReadTimeoutSeconds = n
		}
	}
	if v := os.Getenv("STOREFRONT_SERVER_IDLE_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.Server.IdleTimeoutSeconds = n
		}
	}
	if v := os.Getenv("STOREFRONT_SERVER_HANDLER_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.HandlerTimeoutSeconds = n
		}
	}
	if v := os.Getenv("STOREFRONT_PUBLIC_MAX_BODY_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Server.PublicMaxBodyBytes = n
		}
	}
	if v := os.Getenv("STOREFRONT_TRUST_PROXY_HEADERS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Server.TrustProxyHeaders = b
		}
	}
	if v := os.Getenv("STOREFRONT_TRUSTED_PROXY_CIDRS"); v != "" {
		cfg.Server.TrustedProxyCIDRs = splitCSV(v)
	}

	if v := os.Getenv("STOREFRONT_DB_DRIVER"); v != "" {
		cfg.DB.Driver = v
	}
	if v := os.Getenv("STOREFRONT_DB_DSN"); v != "" {
		cfg.DB.DSN = v
	}
	if v := os.Getenv("STOREFRONT_SQLITE_PATH"); v != "" {
		cfg.DB.SQLitePath = v
	}
	if v := os.Getenv("STOREFRONT_FIRESTORE_PROJECT"); v != "" {
		cfg.DB.FirestoreProject = v
	}

	if v := os.Getenv("STOREFRONT_JWT_SECRET"); v != "" {
		cfg.Security.JWTSecret = v
	}
	if v := os.Getenv("STOREFRONT_SESSION_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Security.SessionTTL = d
		}
	}
	if v := os.Getenv("STOREFRONT_ALLOW_OPEN_REGISTRATION"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Security.AllowOpenRegistration = b
		}
	}
	if v := os.Getenv("STOREFRONT_DISABLE_SECURE_COOKIES"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Security.DisableSecureCookies = b
		}
	}
	if v := os.Getenv("STOREFRONT_SESSION_PROBE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Security.SessionProbeTimeout = d
		}
	}
	if v := os.Getenv("STOREFRONT_SESSION_PROBE_FAIL_OPEN"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Security.SessionProbeFailOpen = b
		}
	}
	if v := os.Getenv("STOREFRONT_DEV_ADMIN_BYPASS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Security.DevAdminBypass = b
		}
	}
	if v := os.Getenv("STOREFRONT_DEV_ADMIN_EMAIL"); v != "" {
		cfg.Security.DevAdminEmail = v
	}
	if v := os.Getenv("STOREFRONT_DEV_ADMIN_PASSWORD"); v != "" {
		cfg.Security.DevAdminPassword = v
	}

	if v := os.Getenv("STOREFRONT_IDP_PROJECT_ID"); v != "" {
		cfg.IdP.ProjectID = v
	}
	if v := os.Getenv("STOREFRONT_IDP_JWKS_URL"); v != "" {
		cfg.IdP.JWKSURL = v
	}
	if v := os.Getenv("STOREFRONT_IDP_ISSUER"); v != "" {
		cfg.IdP.Issuer = v
	}
	if v := os.Getenv("STOREFRONT_IDP_AUDIENCE"); v != "" {
		cfg.IdP.Audience = v
	}

	if v := os.Getenv("STOREFRONT_CSRF_SECRET"); v != "" {
		cfg.CSRF.Secret = v
	}
	if v := os.Getenv("STOREFRONT_CSRF_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.CSRF.TTL = d
		}
	}
	if v := os.Getenv("STOREFRONT_CSRF_REPLAY_STORE"); v != "" {
		cfg.CSRF.ReplayStore = v
	}
	if v := os.Getenv("STOREFRONT_REDIS_ADDR"); v != "" {
		cfg.CSRF.RedisAddr = v
	}

	if v := os.Getenv("STOREFRONT_STRIPE_SECRET_KEY"); v != "" {
		cfg.Stripe.SecretKey = v
	}
	if v := os.Getenv("STOREFRONT_STRIPE_WEBHOOK_SECRET"); v != "" {
		cfg.Stripe.WebhookSecret = v
	}
	if v := os.Getenv("STOREFRONT_STRIPE_CURRENCY"); v != "" {
		cfg.Stripe.Currency = v
	}

	if v := os.Getenv("STOREFRONT_PAYPAL_CLIENT_ID"); v != "" {
		cfg.PayPal.ClientID = v
	}
	if v := os.Getenv("STOREFRONT_PAYPAL_CLIENT_SECRET"); v != "" {
		cfg.PayPal.ClientSecret = v
	}
	if v := os.Getenv("STOREFRONT_PAYPAL_BASE_URL"); v != "" {
		cfg.PayPal.BaseURL = v
	}
	if v := os.Getenv("STOREFRONT_PAYPAL_WEBHOOK_ID"); v != "" {
		cfg.PayPal.WebhookID = v
	}

	if v := os.Getenv("STOREFRONT_EPAY_GATEWAY"); v != "" {
		cfg.EPay.Gateway = v
	}
	if v := os.Getenv("STOREFRONT_EPAY_PARTNER_ID"); v != "" {
		cfg.EPay.PartnerID = v
	}
	if v := os.Getenv("STOREFRONT_EPAY_KEY"); v != "" {
		cfg.EPay.Key = v
	}

	if v := os.Getenv("STOREFRONT_SUPABASE_URL"); v != "" {
		cfg.ObjStore.SupabaseURL = v
	}
	if v := os.Getenv("STOREFRONT_SUPABASE_SERVICE_KEY"); v != "" {
		cfg.ObjStore.SupabaseServiceKey = v
	}
	if v := os.Getenv("STOREFRONT_SUPABASE_BUCKET"); v != "" {
		cfg.ObjStore.Bucket = v
	}
	if v := os.Getenv("STOREFRONT_UPLOADS_DIR"); v != "" {
		cfg.ObjStore.LocalDir = v
	}
	if v := os.Getenv("STOREFRONT_IMAGE_CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.ObjStore.ImageCacheTTL = d
		}
	}
	if v := os.Getenv("STOREFRONT_ALLOWED_IMAGE_HOSTS"); v != "" {
		cfg.ObjStore.AllowedImageHosts = splitCSV(v)
	}

	if v := os.Getenv("STOREFRONT_FRONTEND_DIST_DIR"); v != "" {
		cfg.Frontend.DistDir = v
	}
}

func splitCSV(raw string) []string {
	parts := strings.Split(raw, ",")
	var out []string
	for _, p := range parts {
		s := strings.TrimSpace(p)
		if s == "" {
			continue
		}
		out = append(out, s)
	}
	return out
}
