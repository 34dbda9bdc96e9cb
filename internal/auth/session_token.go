package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const sessionIssuer = "storefront"

// SessionClaims 是本地签发的会话 JWT（HS256）。
type SessionClaims struct {
	UserID string `json:"userId"`
	Email  string `json:"email,omitempty"`
	Role   Role   `json:"role,omitempty"`
	jwt.RegisteredClaims
}

type SessionTokens struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewSessionTokens(secret string, ttl time.Duration) (*SessionTokens, error) {
	if secret == "" {
		return nil, errors.New("会话签名密钥不能为空")
	}
	if ttl <= 0 {
		return nil, errors.New("会话有效期必须大于 0")
	}
	return &SessionTokens{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

func (s *SessionTokens) TTL() time.Duration {
	return s.ttl
}

// Issue 签发会话令牌，返回令牌与过期时间。
func (s *SessionTokens) Issue(userID string, email string, role Role) (string, time.Time, error) {
	if userID == "" {
		return "", time.Time{}, errors.New("userId 不能为空")
	}
	now := s.now()
	exp := now.Add(s.ttl)
	claims := SessionClaims{
		UserID: userID,
		Email:  email,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    sessionIssuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("签发会话令牌失败: %w", err)
	}
	return tok, exp, nil
}

// Parse 校验签名与有效期；任何失败都归一为 ErrInvalidToken。
func (s *SessionTokens) Parse(token string) (SessionClaims, error) {
	var claims SessionClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(sessionIssuer),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return SessionClaims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.UserID == "" {
		return SessionClaims{}, fmt.Errorf("%w: 缺少 userId", ErrInvalidToken)
	}
	return claims, nil
}
