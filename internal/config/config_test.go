package config

import (
	"strings"
	"testing"
	"time"
)

func TestNormalizeHTTPBaseURL(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name       string
		in         string
		label      string
		want       string
		wantErrSub string
	}{
		{name: "empty ok", in: "", label: "paypal.base_url", want: ""},
		{name: "trim ok", in: " https://example.com/ ", label: "paypal.base_url", want: "https://example.com"},
		{name: "path ok", in: "https://example.com/shop/", label: "paypal.base_url", want: "https://example.com/shop"},
		{name: "invalid scheme", in: "ftp://example.com", label: "epay.gateway", wantErrSub: "epay.gateway 仅支持 http/https"},
		{name: "missing host", in: "https://", label: "epay.gateway", wantErrSub: "epay.gateway host 不能为空"},
		{name: "parse error", in: "://bad", label: "epay.gateway", wantErrSub: "解析 epay.gateway 失败"},
		{name: "no label scheme", in: "ftp://example.com", label: "", wantErrSub: "base_url 仅支持 http/https"},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got, err := NormalizeHTTPBaseURL(tc.in, tc.label)
			if tc.wantErrSub != "" {
				if err == nil {
					t.Fatalf("NormalizeHTTPBaseURL(%q, %q) expected error, got nil", tc.in, tc.label)
				}
				if !strings.Contains(err.Error(), tc.wantErrSub) {
					t.Fatalf("NormalizeHTTPBaseURL(%q, %q) error = %q, want contains %q", tc.in, tc.label, err.Error(), tc.wantErrSub)
				}
				return
			}
			if err != nil {
				t.Fatalf("NormalizeHTTPBaseURL(%q, %q) unexpected error: %v", tc.in, tc.label, err)
			}
			if got != tc.want {
				t.Fatalf("NormalizeHTTPBaseURL(%q, %q) = %q, want %q", tc.in, tc.label, got, tc.want)
			}
		})
	}
}

func TestNormalizeAndValidate_Defaults(t *testing.T) {
	t.Parallel()

	cfg, err := normalizeAndValidate(defaultConfig())
	if err != nil {
		t.Fatalf("normalizeAndValidate: %v", err)
	}
	if cfg.DB.Driver != "sqlite" {
		t.Fatalf("db.driver=%q, want sqlite", cfg.DB.Driver)
	}
	if cfg.Security.JWTSecret == "" {
		t.Fatalf("expected dev jwt secret fallback")
	}
	if cfg.CSRF.Secret != cfg.Security.JWTSecret {
		t.Fatalf("expected csrf secret to fall back to jwt secret")
	}
	if cfg.Security.SessionProbeTimeout != 3*time.Second {
		t.Fatalf("session_probe_timeout=%s, want 3s", cfg.Security.SessionProbeTimeout)
	}
	if cfg.CSRF.ReplayStore != "memory" {
		t.Fatalf("csrf.replay_store=%q, want memory", cfg.CSRF.ReplayStore)
	}
}

func TestNormalizeAndValidate_Rejects(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name       string
		mutate     func(*Config)
		wantErrSub string
	}{
		{
			name:       "prod requires jwt secret",
			mutate:     func(c *Config) { c.Env = "prod" },
			wantErrSub: "security.jwt_secret 不能为空",
		},
		{
			name: "prod short jwt secret",
			mutate: func(c *Config) {
				c.Env = "prod"
				c.Security.JWTSecret = "short"
			},
			wantErrSub: "长度至少 32 位",
		},
		{
			name: "dev bypass outside dev",
			mutate: func(c *Config) {
				c.Env = "prod"
				c.Security.JWTSecret = strings.Repeat("x", 40)
				c.Security.DevAdminBypass = true
			},
			wantErrSub: "仅允许在 env=dev 下开启",
		},
		{
			name: "dev bypass missing credentials",
			mutate: func(c *Config) {
				c.Security.DevAdminBypass = true
			},
			wantErrSub: "dev_admin_email/dev_admin_password 不能为空",
		},
		{
			name:       "mysql requires dsn",
			mutate:     func(c *Config) { c.DB.Driver = "mysql" },
			wantErrSub: "db.dsn 不能为空（db.driver=mysql）",
		},
		{
			name:       "unknown driver",
			mutate:     func(c *Config) { c.DB.Driver = "oracle" },
			wantErrSub: "db.driver 不支持",
		},
		{
			name:       "firestore requires project",
			mutate:     func(c *Config) { c.DB.Driver = "firestore" },
			wantErrSub: "db.firestore_project 不能为空",
		},
		{
			name: "redis replay store requires addr",
			mutate: func(c *Config) {
				c.CSRF.ReplayStore = "redis"
			},
			wantErrSub: "csrf.redis_addr 不能为空",
		},
		{
			name: "supabase requires key",
			mutate: func(c *Config) {
				c.ObjStore.SupabaseURL = "https://x.supabase.co"
			},
			wantErrSub: "objstore.supabase_service_key 不能为空",
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			cfg := defaultConfig()
			tc.mutate(&cfg)
			_, err := normalizeAndValidate(cfg)
			if err == nil {
				t.Fatalf("expected error containing %q, got nil", tc.wantErrSub)
			}
			if !strings.Contains(err.Error(), tc.wantErrSub) {
				t.Fatalf("error=%q, want contains %q", err.Error(), tc.wantErrSub)
			}
		})
	}
}

func TestNormalizeAndValidate_InferDriverFromDSN(t *testing.T) {
	t.Parallel()

	cfg := defaultConfig()
	cfg.DB.DSN = "postgres://u:p@localhost:5432/shop"
	got, err := normalizeAndValidate(cfg)
	if err != nil {
		t.Fatalf("normalizeAndValidate: %v", err)
	}
	if got.DB.Driver != "postgres" {
		t.Fatalf("driver=%q, want postgres", got.DB.Driver)
	}

	cfg = defaultConfig()
	cfg.DB.DSN = "user:pass@tcp(127.0.0.1:3306)/shop?parseTime=true"
	got, err = normalizeAndValidate(cfg)
	if err != nil {
		t.Fatalf("normalizeAndValidate: %v", err)
	}
	if got.DB.Driver != "mysql" {
		t.Fatalf("driver=%q, want mysql", got.DB.Driver)
	}
}

func TestNormalizeAndValidate_IdPDefaultsFromProject(t *testing.T) {
	t.Parallel()

	cfg := defaultConfig()
	cfg.IdP.ProjectID = "shop-123"
	got, err := normalizeAndValidate(cfg)
	if err != nil {
		t.Fatalf("normalizeAndValidate: %v", err)
	}
	if got.IdP.Issuer != "https://securetoken.google.com/shop-123" {
		t.Fatalf("issuer=%q", got.IdP.Issuer)
	}
	if got.IdP.Audience != "shop-123" {
		t.Fatalf("audience=%q", got.IdP.Audience)
	}
	if !got.IdP.Enabled() {
		t.Fatalf("expected idp enabled")
	}
}

func TestApplyEnvOverrides_ProbePolicy(t *testing.T) {
	t.Setenv("STOREFRONT_ENV", "prod")

	cfg := defaultConfig()
	applyEnvOverrides(&cfg)
	if cfg.Security.SessionProbeFailOpen {
		t.Fatalf("expected fail-closed default outside dev")
	}

	t.Setenv("STOREFRONT_SESSION_PROBE_FAIL_OPEN", "true")
	t.Setenv("STOREFRONT_SESSION_PROBE_TIMEOUT", "1500ms")
	cfg = defaultConfig()
	applyEnvOverrides(&cfg)
	if !cfg.Security.SessionProbeFailOpen {
		t.Fatalf("expected explicit fail-open override")
	}
	if cfg.Security.SessionProbeTimeout != 1500*time.Millisecond {
		t.Fatalf("timeout=%s, want 1.5s", cfg.Security.SessionProbeTimeout)
	}
}

func TestApplyEnvOverrides_AllowedImageHosts(t *testing.T) {
	t.Setenv("STOREFRONT_ALLOWED_IMAGE_HOSTS", " images.example.com, ,cdn.example.com ")

	cfg := defaultConfig()
	applyEnvOverrides(&cfg)
	if len(cfg.ObjStore.AllowedImageHosts) != 2 || cfg.ObjStore.AllowedImageHosts[1] != "cdn.example.com" {
		t.Fatalf("allowed hosts=%v", cfg.ObjStore.AllowedImageHosts)
	}
}
