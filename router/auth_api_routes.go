package router

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"storefront/internal/access"
	"storefront/internal/auth"
	"storefront/internal/envelope"
	"storefront/internal/repo"
)

const (
	msgInvalidCredentials  = "Invalid email or password"
	msgRegistrationClosed  = "Registration is disabled"
	msgWrongPassword       = "Current password is incorrect"
	msgProviderUnavailable = "Identity provider is not configured"
	msgProviderNoEmail     = "Identity provider account has no email address"
	msgEmailNotVerified    = "Email not verified"
)

func setAuthAPIRoutes(r *gin.RouterGroup, opts Options) {
	g := r.Group("/auth")
	g.POST("/register", requireAccess(opts, access.Public), registerHandler(opts))
	g.POST("/login", requireAccess(opts, access.Public), loginHandler(opts))
	g.POST("/session", requireAccess(opts, access.Public), providerSessionHandler(opts))
	g.POST("/logout", logoutHandler(opts))
	g.GET("/me", requireAccess(opts, access.Authed), meHandler(opts))
	g.PUT("/password", requireAccess(opts, access.Authed), changePasswordHandler(opts))
}

type loginResponse struct {
	User      repo.UserView `json:"user"`
	Token     string        `json:"token"`
	ExpiresAt int64         `json:"expiresAt"`
}

// startSession 签发会话令牌、写 cookie，并把访客购物车并入用户购物车。
func startSession(c *gin.Context, opts Options, u repo.User, status int) {
	ctx := c.Request.Context()
	token, exp, err := opts.Sessions.Issue(u.ID, u.Email, u.Role)
	if err != nil {
		envelope.FromError(c, err)
		return
	}
	setAuthCookies(c, opts, token, exp)
	_ = opts.Repos.Users.TouchLogin(ctx, u.ID)

	if guest := guestCartID(c, false); guest != "" {
		if _, err := opts.Repos.Carts.Merge(ctx, guest, u.ID); err != nil {
			opts.logger().WarnContext(ctx, "合并访客购物车失败", "user_id", u.ID, "err", err)
		}
		forgetGuestCart(c)
	}
	activity(c, opts, u.ID, "auth.login", u.ID, nil)
	envelope.OK(c, loginResponse{User: u.View(), Token: token, ExpiresAt: exp.Unix()}, status)
}

func registerHandler(opts Options) gin.HandlerFunc {
	type reqBody struct {
		Email    string `json:"email" binding:"required"`
		Password string `json:"password" binding:"required,min=8"`
		Name     string `json:"name"`
	}
	return func(c *gin.Context) {
		if !opts.AllowOpenRegistration {
			envelope.Error(c, msgRegistrationClosed, http.StatusForbidden)
			return
		}
		var req reqBody
		if !bindJSON(c, &req) {
			return
		}
		ctx := c.Request.Context()

		role := auth.RoleCustomer
		n, err := opts.Repos.Users.Count(ctx)
		if err != nil {
			envelope.FromError(c, err)
			return
		}
		if n == 0 {
			// 空库的首个账号作为管理员。
			role = auth.RoleAdmin
		}
		u, err := opts.Repos.Users.Create(ctx, repo.CreateUserInput{
			Email:    req.Email,
			Password: req.Password,
			Name:     req.Name,
			Role:     role,
		})
		if err != nil {
			envelope.FromError(c, err)
			return
		}
		if _, err := opts.Repos.Customers.EnsureForUser(ctx, u); err != nil {
			opts.logger().WarnContext(ctx, "创建客户档案失败", "user_id", u.ID, "err", err)
		}
		activity(c, opts, u.ID, "auth.register", u.ID, nil)
		startSession(c, opts, u, http.StatusCreated)
	}
}

func loginHandler(opts Options) gin.HandlerFunc {
	type reqBody struct {
		Email    string `json:"email" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	return func(c *gin.Context) {
		var req reqBody
		if !bindJSON(c, &req) {
			return
		}
		ctx := c.Request.Context()

		if opts.DevBypass.Match(req.Email, req.Password) {
			u, err := provisionDevAdmin(c, opts, req.Email)
			if err != nil {
				envelope.FromError(c, err)
				return
			}
			opts.logger().WarnContext(ctx, "开发环境管理员直通登录", "email", u.Email)
			startSession(c, opts, u, http.StatusOK)
			return
		}

		u, err := opts.Repos.Users.GetByEmail(ctx, req.Email)
		if err != nil {
			if repo.IsNotFound(err) {
				envelope.Error(c, msgInvalidCredentials, http.StatusUnauthorized)
				return
			}
			envelope.FromError(c, err)
			return
		}
		if u.PasswordHash == "" || !auth.CheckPassword([]byte(u.PasswordHash), req.Password) {
			envelope.Error(c, msgInvalidCredentials, http.StatusUnauthorized)
			return
		}
		if u.Disabled() {
			envelope.Error(c, access.MsgAccountDisabled, http.StatusUnauthorized)
			return
		}
		startSession(c, opts, u, http.StatusOK)
	}
}

// provisionDevAdmin 首次使用开发直通账号时自动创建，并保证其为管理员。
func provisionDevAdmin(c *gin.Context, opts Options, email string) (repo.User, error) {
	ctx := c.Request.Context()
	u, err := opts.Repos.Users.GetByEmail(ctx, email)
	if err == nil {
		if !u.IsAdmin() {
			return opts.Repos.Users.SetRole(ctx, u.ID, auth.RoleAdmin)
		}
		return u, nil
	}
	if !repo.IsNotFound(err) {
		return repo.User{}, err
	}
	u, err = opts.Repos.Users.Create(ctx, repo.CreateUserInput{Email: email, Name: "Dev Admin", Role: auth.RoleAdmin})
	if errors.Is(err, repo.ErrEmailTaken) {
		return opts.Repos.Users.GetByEmail(ctx, email)
	}
	return u, err
}

// providerSessionHandler 用第三方 ID token 换取本地会话。
func providerSessionHandler(opts Options) gin.HandlerFunc {
	type reqBody struct {
		IDToken string `json:"idToken" binding:"required"`
	}
	return func(c *gin.Context) {
		var req reqBody
		if !bindJSON(c, &req) {
			return
		}
		ctx := c.Request.Context()
		id, err := opts.Verifier.VerifyProviderToken(ctx, req.IDToken)
		if err != nil {
			if errors.Is(err, auth.ErrProviderDisabled) {
				envelope.Error(c, msgProviderUnavailable, http.StatusBadRequest)
				return
			}
			envelope.Error(c, access.MsgInvalidToken, http.StatusUnauthorized)
			return
		}

		u, err := opts.Repos.Users.GetByProviderUID(ctx, id.UID)
		switch {
		case err == nil:
		case repo.IsNotFound(err):
			// 未绑定的身份只能凭已验证邮箱关联或建号。
			if id.Email == "" {
				envelope.Error(c, msgProviderNoEmail, http.StatusBadRequest)
				return
			}
			if !id.EmailVerified {
				envelope.Error(c, msgEmailNotVerified, http.StatusUnauthorized)
				return
			}
			u, err = linkOrCreateProviderUser(c, opts, id)
			if err != nil {
				envelope.FromError(c, err)
				return
			}
		default:
			envelope.FromError(c, err)
			return
		}
		if u.Disabled() {
			envelope.Error(c, access.MsgAccountDisabled, http.StatusUnauthorized)
			return
		}
		startSession(c, opts, u, http.StatusOK)
	}
}

// linkOrCreateProviderUser 要求调用方已确认 id.Email 非空且已验证。
func linkOrCreateProviderUser(c *gin.Context, opts Options, id auth.ProviderIdentity) (repo.User, error) {
	ctx := c.Request.Context()
	u, err := opts.Repos.Users.GetByEmail(ctx, id.Email)
	if err == nil {
		if err := opts.Repos.Users.LinkProvider(ctx, u.ID, id.UID); err != nil {
			return repo.User{}, err
		}
		return opts.Repos.Users.Get(ctx, u.ID)
	}
	if !repo.IsNotFound(err) {
		return repo.User{}, err
	}
	u, err = opts.Repos.Users.Create(ctx, repo.CreateUserInput{
		Email:       id.Email,
		Name:        id.Name,
		Role:        auth.RoleCustomer,
		ProviderUID: id.UID,
	})
	if err != nil {
		return repo.User{}, err
	}
	if _, err := opts.Repos.Customers.EnsureForUser(ctx, u); err != nil {
		opts.logger().WarnContext(ctx, "创建客户档案失败", "user_id", u.ID, "err", err)
	}
	return u, nil
}

func logoutHandler(opts Options) gin.HandlerFunc {
	return func(c *gin.Context) {
		clearAuthCookies(c, opts)
		envelope.OK(c, gin.H{"success": true})
	}
}

func meHandler(opts Options) gin.HandlerFunc {
	return func(c *gin.Context) {
		u, err := opts.Repos.Users.Get(c.Request.Context(), actorID(c))
		if err != nil {
			envelope.FromError(c, err)
			return
		}
		envelope.OK(c, gin.H{"user": u.View()})
	}
}

func changePasswordHandler(opts Options) gin.HandlerFunc {
	type reqBody struct {
		csrfField
		CurrentPassword string `json:"currentPassword"`
		NewPassword     string `json:"newPassword" binding:"required,min=8"`
	}
	return func(c *gin.Context) {
		var req reqBody
		if !bindJSON(c, &req) || !checkCSRF(c, opts, req.CSRFToken) {
			return
		}
		ctx := c.Request.Context()
		u, err := opts.Repos.Users.Get(ctx, actorID(c))
		if err != nil {
			envelope.FromError(c, err)
			return
		}
		if u.PasswordHash != "" && !auth.CheckPassword([]byte(u.PasswordHash), req.CurrentPassword) {
			envelope.Error(c, msgWrongPassword, http.StatusBadRequest)
			return
		}
		if err := opts.Repos.Users.SetPassword(ctx, u.ID, req.NewPassword); err != nil {
			envelope.FromError(c, err)
			return
		}
		activity(c, opts, u.ID, "auth.password_changed", u.ID, nil)
		envelope.OK(c, gin.H{"success": true, "message": "Password updated successfully"})
	}
}
