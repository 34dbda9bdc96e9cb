package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type TokenKind string

const (
	TokenKindSession  TokenKind = "session"
	TokenKindProvider TokenKind = "provider"
)

// 会话相关 cookie 名称。
const (
	CookieAuthToken  = "auth-token"
	CookieAuthStatus = "auth-status"
	CookieSession    = "session"
)

// Identity 是令牌校验后的身份信息；尚未与用户记录关联。
type Identity struct {
	Kind        TokenKind
	UserID      string
	ProviderUID string
	Email       string
	Role        Role
}

// Verifier 从请求中提取并校验令牌，不产生任何副作用。
type Verifier struct {
	sessions *SessionTokens
	provider ProviderVerifier
}

// NewVerifier 创建校验器；provider 为 nil 表示不接受第三方 ID token。
func NewVerifier(sessions *SessionTokens, provider ProviderVerifier) *Verifier {
	return &Verifier{sessions: sessions, provider: provider}
}

// TokenFromRequest 依次读取 Authorization: Bearer、auth-token cookie、session cookie。
func TokenFromRequest(r *http.Request) string {
	if h := strings.TrimSpace(r.Header.Get("Authorization")); h != "" {
		scheme, tok, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			if tok = strings.TrimSpace(tok); tok != "" {
				return tok
			}
		}
	}
	for _, name := range []string{CookieAuthToken, CookieSession} {
		if c, err := r.Cookie(name); err == nil && strings.TrimSpace(c.Value) != "" {
			return strings.TrimSpace(c.Value)
		}
	}
	return ""
}

func (v *Verifier) Verify(ctx context.Context, r *http.Request) (Identity, error) {
	return v.VerifyToken(ctx, TokenFromRequest(r))
}

// VerifyToken 按 JWT header 中的 alg 选择本地会话或第三方校验。
func (v *Verifier) VerifyToken(ctx context.Context, token string) (Identity, error) {
	if token == "" {
		return Identity{}, ErrMissingToken
	}
	unverified, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	switch unverified.Method.Alg() {
	case jwt.SigningMethodHS256.Alg():
		claims, err := v.sessions.Parse(token)
		if err != nil {
			return Identity{}, err
		}
		return Identity{
			Kind:   TokenKindSession,
			UserID: claims.UserID,
			Email:  claims.Email,
			Role:   claims.Role,
		}, nil
	case jwt.SigningMethodRS256.Alg():
		if v.provider == nil {
			return Identity{}, fmt.Errorf("%w: %w", ErrInvalidToken, ErrProviderDisabled)
		}
		pid, err := v.provider.VerifyIDToken(ctx, token)
		if err != nil {
			if errors.Is(err, ErrInvalidToken) {
				return Identity{}, err
			}
			return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
		}
		return Identity{
			Kind:        TokenKindProvider,
			ProviderUID: pid.UID,
			Email:       strings.ToLower(pid.Email),
		}, nil
	default:
		return Identity{}, fmt.Errorf("%w: 不支持的签名算法 %s", ErrInvalidToken, unverified.Method.Alg())
	}
}

// VerifyProviderToken 仅接受第三方 ID token（用于登录时换取本地会话）。
func (v *Verifier) VerifyProviderToken(ctx context.Context, token string) (ProviderIdentity, error) {
	if token == "" {
		return ProviderIdentity{}, ErrMissingToken
	}
	if v.provider == nil {
		return ProviderIdentity{}, fmt.Errorf("%w: %w", ErrInvalidToken, ErrProviderDisabled)
	}
	pid, err := v.provider.VerifyIDToken(ctx, token)
	if err != nil {
		if errors.Is(err, ErrInvalidToken) {
			return ProviderIdentity{}, err
		}
		return ProviderIdentity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	pid.Email = strings.ToLower(pid.Email)
	return pid, nil
}
