// Package access 在令牌校验之上结合用户记录给出一次性的访问裁决。
package access

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"storefront/internal/auth"
	"storefront/internal/docstore"
	"storefront/internal/repo"
)

// 返回给客户端的错误文案。
const (
	MsgAuthRequired    = "Authentication required"
	MsgInvalidToken    = "Invalid authentication token"
	MsgAccountDisabled = "Account disabled"
	MsgForbidden       = "Forbidden"
	MsgVerifyFailed    = "Failed to verify session"
)

// UserLookup 是裁决所需的用户读取能力。
type UserLookup interface {
	Get(ctx context.Context, id string) (repo.User, error)
	GetByProviderUID(ctx context.Context, uid string) (repo.User, error)
}

// Result 每个请求构造一次，调用方立即消费，不做持久化。
type Result struct {
	Authenticated bool   `json:"authenticated"`
	UserID        string `json:"userId,omitempty"`
	IsAdmin       bool   `json:"isAdmin"`
	Error         string `json:"error,omitempty"`
	Status        int    `json:"-"`

	Principal auth.Principal `json:"-"`
}

func deny(status int, msg string) Result {
	return Result{Authenticated: false, Error: msg, Status: status}
}

// Policy 声明路由的访问要求。
type Policy struct {
	RequireAuth  bool
	RequireAdmin bool
}

var (
	Public = Policy{}
	Authed = Policy{RequireAuth: true}
	Admin  = Policy{RequireAuth: true, RequireAdmin: true}
)

type Decider struct {
	verifier *auth.Verifier
	users    UserLookup
	logger   *slog.Logger
}

func NewDecider(verifier *auth.Verifier, users UserLookup, logger *slog.Logger) *Decider {
	if logger == nil {
		logger = slog.Default()
	}
	return &Decider{verifier: verifier, users: users, logger: logger}
}

// Check 校验令牌并关联用户记录。令牌有效但用户不存在时视为未认证。
// 任何失败都以 Result 返回，不会 panic 或返回 error。
func (d *Decider) Check(ctx context.Context, r *http.Request) Result {
	id, err := d.verifier.Verify(ctx, r)
	if err != nil {
		if errors.Is(err, auth.ErrMissingToken) {
			return deny(http.StatusUnauthorized, MsgAuthRequired)
		}
		d.logger.DebugContext(ctx, "令牌校验失败", "err", err)
		return deny(http.StatusUnauthorized, MsgInvalidToken)
	}

	var u repo.User
	switch id.Kind {
	case auth.TokenKindProvider:
		u, err = d.users.GetByProviderUID(ctx, id.ProviderUID)
	default:
		u, err = d.users.Get(ctx, id.UserID)
	}
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return deny(http.StatusUnauthorized, MsgAuthRequired)
		}
		d.logger.ErrorContext(ctx, "读取用户失败", "err", err)
		return deny(http.StatusInternalServerError, MsgVerifyFailed)
	}
	if u.Disabled() {
		return deny(http.StatusUnauthorized, MsgAccountDisabled)
	}

	return Result{
		Authenticated: true,
		UserID:        u.ID,
		IsAdmin:       u.IsAdmin(),
		Status:        http.StatusOK,
		Principal: auth.Principal{
			UserID:  u.ID,
			Email:   u.Email,
			Role:    u.Role,
			IsAdmin: u.IsAdmin(),
			Kind:    id.Kind,
		},
	}
}

// Authorize 执行 Check 并按 Policy 裁决。Public 策略下未认证不视为失败。
func (d *Decider) Authorize(ctx context.Context, r *http.Request, p Policy) Result {
	res := d.Check(ctx, r)
	return p.Apply(res)
}

func (p Policy) Apply(res Result) Result {
	if !p.RequireAuth && !p.RequireAdmin {
		return res
	}
	if !res.Authenticated {
		return res
	}
	if p.RequireAdmin && !res.IsAdmin {
		out := res
		out.Error = MsgForbidden
		out.Status = http.StatusForbidden
		return out
	}
	return res
}

// Allowed 表示请求可以继续执行。
func (p Policy) Allowed(res Result) bool {
	if !p.RequireAuth && !p.RequireAdmin {
		return true
	}
	return res.Authenticated && (!p.RequireAdmin || res.IsAdmin)
}

// PolicyForPath 给出页面路径的访问要求。
func PolicyForPath(path string) Policy {
	switch {
	case hasPrefixSegment(path, "/admin"):
		return Admin
	case hasPrefixSegment(path, "/account"), hasPrefixSegment(path, "/checkout"):
		return Authed
	}
	return Public
}

func hasPrefixSegment(path, prefix string) bool {
	if len(path) < len(prefix) || path[:len(prefix)] != prefix {
		return false
	}
	return len(path) == len(prefix) || path[len(prefix)] == '/'
}
