package router

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"storefront/internal/auth"
	"storefront/internal/envelope"
	"storefront/internal/repo"
)

const (
	msgUserNotFound   = "User not found"
	msgInvalidRole    = "Invalid role"
	msgOwnRole        = "You cannot change your own role"
	msgOwnDelete      = "You cannot delete your own account"
	msgOwnDisable     = "You cannot disable your own account"
	tempPasswordBytes = 12
)

func setAdminUserAPIRoutes(r *gin.RouterGroup, opts Options) {
	r.GET("/users", adminListUsersHandler(opts))
	r.POST("/users", adminCreateUserHandler(opts))
	r.GET("/users/:id", adminGetUserHandler(opts))
	r.PUT("/users/:id", adminUpdateUserHandler(opts))
	r.DELETE("/users/:id", adminDeleteUserHandler(opts))
	r.PUT("/users/:id/role", adminSetUserRoleHandler(opts))
	r.POST("/users/:id/reset-password", adminResetUserPasswordHandler(opts))
}

func userNotFound(c *gin.Context, err error) {
	if repo.IsNotFound(err) {
		envelope.Error(c, msgUserNotFound, http.StatusNotFound)
		return
	}
	envelope.FromError(c, err)
}

func viewsOf(users []repo.User) []repo.UserView {
	out := make([]repo.UserView, 0, len(users))
	for _, u := range users {
		out = append(out, u.View())
	}
	return out
}

func adminListUsersHandler(opts Options) gin.HandlerFunc {
	return func(c *gin.Context) {
		f := repo.UserFilter{
			Search: strings.TrimSpace(c.Query("search")),
			Limit:  queryInt(c, "limit", 50),
			Offset: queryInt(c, "offset", 0),
		}
		if raw := strings.TrimSpace(c.Query("role")); raw != "" {
			role, ok := auth.ParseRole(raw)
			if !ok {
				envelope.Error(c, msgInvalidRole, http.StatusBadRequest)
				return
			}
			f.Role = role
		}
		users, err := opts.Repos.Users.List(c.Request.Context(), f)
		if err != nil {
			envelope.FromError(c, err)
			return
		}
		envelope.OK(c, gin.H{"users": viewsOf(users)})
	}
}

func adminCreateUserHandler(opts Options) gin.HandlerFunc {
	type reqBody struct {
		csrfField
		Email    string `json:"email" binding:"required"`
		Password string `json:"password" binding:"required,min=8"`
		Name     string `json:"name"`
		Role     string `json:"role"`
	}
	return func(c *gin.Context) {
		var req reqBody
		if !bindJSON(c, &req) {
			return
		}
		role := auth.RoleCustomer
		if strings.TrimSpace(req.Role) != "" {
			r, ok := auth.ParseRole(req.Role)
			if !ok {
				envelope.Error(c, msgInvalidRole, http.StatusBadRequest)
				return
			}
			role = r
		}
		if !checkCSRF(c, opts, req.CSRFToken) {
			return
		}
		ctx := c.Request.Context()
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
		if role == auth.RoleCustomer {
			if _, err := opts.Repos.Customers.EnsureForUser(ctx, u); err != nil {
				opts.logger().WarnContext(ctx, "创建客户档案失败", "user_id", u.ID, "err", err)
			}
		}
		audit(c, opts, "user.created", u.ID, map[string]any{"email": u.Email, "role": string(u.Role)})
		envelope.OK(c, gin.H{"user": u.View(), "message": "User created successfully"}, http.StatusCreated)
	}
}

func adminGetUserHandler(opts Options) gin.HandlerFunc {
	return func(c *gin.Context) {
		u, err := opts.Repos.Users.Get(c.Request.Context(), c.Param("id"))
		if err != nil {
			userNotFound(c, err)
			return
		}
		envelope.OK(c, gin.H{"user": u.View()})
	}
}

func adminUpdateUserHandler(opts Options) gin.HandlerFunc {
	type reqBody struct {
		csrfField
		Email  *string `json:"email"`
		Name   *string `json:"name"`
		Status *string `json:"status"`
	}
	return func(c *gin.Context) {
		var req reqBody
		if !bindJSON(c, &req) {
			return
		}
		id := c.Param("id")
		if id == actorID(c) && req.Status != nil && *req.Status == repo.UserStatusDisabled {
			envelope.Error(c, msgOwnDisable, http.StatusBadRequest)
			return
		}
		if !checkCSRF(c, opts, req.CSRFToken) {
			return
		}
		u, err := opts.Repos.Users.Update(c.Request.Context(), id, repo.UserPatch{
			Email:  req.Email,
			Name:   req.Name,
			Status: req.Status,
		})
		if err != nil {
			userNotFound(c, err)
			return
		}
		audit(c, opts, "user.updated", u.ID, nil)
		envelope.OK(c, gin.H{"user": u.View(), "message": "User updated successfully"})
	}
}

func adminDeleteUserHandler(opts Options) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		if id == actorID(c) {
			envelope.Error(c, msgOwnDelete, http.StatusBadRequest)
			return
		}
		if !checkCSRF(c, opts, "") {
			return
		}
		if err := opts.Repos.Users.Delete(c.Request.Context(), id); err != nil {
			userNotFound(c, err)
			return
		}
		audit(c, opts, "user.deleted", id, nil)
		envelope.OK(c, gin.H{"success": true, "message": "User deleted successfully"})
	}
}

func adminSetUserRoleHandler(opts Options) gin.HandlerFunc {
	type reqBody struct {
		csrfField
		Role string `json:"role" binding:"required"`
	}
	return func(c *gin.Context) {
		var req reqBody
		if !bindJSON(c, &req) {
			return
		}
		id := c.Param("id")
		if id == actorID(c) {
			envelope.Error(c, msgOwnRole, http.StatusBadRequest)
			return
		}
		role, ok := auth.ParseRole(req.Role)
		if !ok {
			envelope.Error(c, msgInvalidRole, http.StatusBadRequest)
			return
		}
		if !checkCSRF(c, opts, req.CSRFToken) {
			return
		}
		u, err := opts.Repos.Users.SetRole(c.Request.Context(), id, role)
		if err != nil {
			userNotFound(c, err)
			return
		}
		audit(c, opts, "user.role_changed", u.ID, map[string]any{"role": string(role)})
		envelope.OK(c, gin.H{"user": u.View(), "message": "User role updated successfully"})
	}
}

// adminResetUserPasswordHandler 未提供新密码时生成临时密码并返回一次。
func adminResetUserPasswordHandler(opts Options) gin.HandlerFunc {
	type reqBody struct {
		csrfField
		Password string `json:"password" binding:"omitempty,min=8"`
	}
	return func(c *gin.Context) {
		var req reqBody
		if !bindJSON(c, &req) || !checkCSRF(c, opts, req.CSRFToken) {
			return
		}
		ctx := c.Request.Context()
		id := c.Param("id")
		if _, err := opts.Repos.Users.Get(ctx, id); err != nil {
			userNotFound(c, err)
			return
		}
		password := req.Password
		generated := password == ""
		if generated {
			p, err := auth.NewRandomToken("", tempPasswordBytes)
			if err != nil {
				envelope.FromError(c, err)
				return
			}
			password = p
		}
		if err := opts.Repos.Users.SetPassword(ctx, id, password); err != nil {
			userNotFound(c, err)
			return
		}
		audit(c, opts, "user.password_reset", id, nil)
		out := gin.H{"success": true, "message": "Password reset successfully"}
		if generated {
			out["temporaryPassword"] = password
		}
		envelope.OK(c, out)
	}
}
