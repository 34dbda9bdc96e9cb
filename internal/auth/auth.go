// Package auth 提供统一的主体信息、会话令牌与第三方身份令牌校验，以及密码/随机数工具。
package auth

import (
	"context"
	"strings"
)

type Role string

const (
	RoleAdmin    Role = "ADMIN"
	RoleCustomer Role = "CUSTOMER"
)

// ParseRole 规范化角色名；未知角色返回 false。
func ParseRole(raw string) (Role, bool) {
	switch Role(strings.ToUpper(strings.TrimSpace(raw))) {
	case RoleAdmin:
		return RoleAdmin, true
	case RoleCustomer:
		return RoleCustomer, true
	}
	return "", false
}

// Principal 是通过访问控制后的当前用户。
type Principal struct {
	UserID  string
	Email   string
	Role    Role
	IsAdmin bool
	Kind    TokenKind
}

type ctxKey int

const principalKey ctxKey = 1

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	v := ctx.Value(principalKey)
	if v == nil {
		return Principal{}, false
	}
	p, ok := v.(Principal)
	return p, ok
}
