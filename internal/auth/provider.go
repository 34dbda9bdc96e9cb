package auth

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
)

//go:generate mockgen -destination=mocks/provider_mock.go -package=mocks storefront/internal/auth ProviderVerifier

// ProviderIdentity 是第三方身份提供方（Firebase 兼容 ID token）校验后的结果。
type ProviderIdentity struct {
	UID           string
	Email         string
	EmailVerified bool
	Name          string
}

// ProviderVerifier 校验第三方 ID token。
type ProviderVerifier interface {
	VerifyIDToken(ctx context.Context, token string) (ProviderIdentity, error)
}

type providerClaims struct {
	jwt.RegisteredClaims
	UserID        string `json:"user_id,omitempty"`
	Email         string `json:"email,omitempty"`
	EmailVerified bool   `json:"email_verified,omitempty"`
	Name          string `json:"name,omitempty"`
}

// JWKSProvider 通过 JWKS 公钥校验 RS256 ID token。
type JWKSProvider struct {
	jwks     keyfunc.Keyfunc
	issuer   string
	audience string
	leeway   time.Duration
}

type JWKSProviderOptions struct {
	JWKSURL         string
	Issuer          string
	Audience        string
	HTTPClient      *http.Client
	RefreshInterval time.Duration
	Leeway          time.Duration
}

// NewJWKSProvider 创建带后台刷新的 JWKS 校验器；首次拉取失败不会阻止启动。
func NewJWKSProvider(opts JWKSProviderOptions) (*JWKSProvider, error) {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	refresh := opts.RefreshInterval
	if refresh <= 0 {
		refresh = time.Hour
	}
	storage, err := jwkset.NewStorageFromHTTP(opts.JWKSURL, jwkset.HTTPClientStorageOptions{
		Client:                    client,
		NoErrorReturnFirstHTTPReq: true,
		RefreshInterval:           refresh,
		RefreshErrorHandler: func(_ context.Context, err error) {
			slog.Error("刷新 JWKS 失败", "url", opts.JWKSURL, "err", err)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("创建 JWKS storage: %w", err)
	}
	k, err := keyfunc.New(keyfunc.Options{Storage: storage})
	if err != nil {
		return nil, fmt.Errorf("创建 keyfunc: %w", err)
	}
	return NewJWKSProviderWithKeyfunc(k, opts.Issuer, opts.Audience, opts.Leeway), nil
}

// NewJWKSProviderWithKeyfunc 使用给定 keyfunc 创建校验器（测试中可注入本地 JWKS）。
func NewJWKSProviderWithKeyfunc(kf keyfunc.Keyfunc, issuer, audience string, leeway time.Duration) *JWKSProvider {
	if leeway <= 0 {
		leeway = 30 * time.Second
	}
	return &JWKSProvider{jwks: kf, issuer: issuer, audience: audience, leeway: leeway}
}

func (p *JWKSProvider) VerifyIDToken(ctx context.Context, token string) (ProviderIdentity, error) {
	claims := &providerClaims{}
	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(p.leeway),
	}
	if p.issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(p.issuer))
	}
	if p.audience != "" {
		parserOpts = append(parserOpts, jwt.WithAudience(p.audience))
	}
	if _, err := jwt.ParseWithClaims(token, claims, p.jwks.KeyfuncCtx(ctx), parserOpts...); err != nil {
		return ProviderIdentity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	uid := claims.Subject
	if uid == "" {
		uid = claims.UserID
	}
	if uid == "" {
		return ProviderIdentity{}, fmt.Errorf("%w: 缺少 sub", ErrInvalidToken)
	}
	return ProviderIdentity{
		UID:           uid,
		Email:         claims.Email,
		EmailVerified: claims.EmailVerified,
		Name:          claims.Name,
	}, nil
}
