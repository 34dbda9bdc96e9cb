package repo

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"storefront/internal/apperr"
	"storefront/internal/auth"
	"storefront/internal/docstore"
)

const (
	UserStatusActive   = "active"
	UserStatusDisabled = "disabled"
)

type User struct {
	ID           string     `json:"id"`
	Email        string     `json:"email"`
	Name         string     `json:"name,omitempty"`
	Role         auth.Role  `json:"role"`
	Status       string     `json:"status"`
	PasswordHash string     `json:"passwordHash,omitempty"`
	ProviderUID  string     `json:"providerUid,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	CreatedUnix  int64      `json:"createdUnix"`
	UpdatedAt    time.Time  `json:"updatedAt"`
	LastLoginAt  *time.Time `json:"lastLoginAt,omitempty"`
}

func (u User) IsAdmin() bool  { return u.Role == auth.RoleAdmin }
func (u User) Disabled() bool { return u.Status == UserStatusDisabled }

// UserView 是对外返回的用户信息（不含密码哈希）。
type UserView struct {
	ID          string     `json:"id"`
	Email       string     `json:"email"`
	Name        string     `json:"name,omitempty"`
	Role        auth.Role  `json:"role"`
	IsAdmin     bool       `json:"isAdmin"`
	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	LastLoginAt *time.Time `json:"lastLoginAt,omitempty"`
}

func (u User) View() UserView {
	return UserView{
		ID:          u.ID,
		Email:       u.Email,
		Name:        u.Name,
		Role:        u.Role,
		IsAdmin:     u.IsAdmin(),
		Status:      u.Status,
		CreatedAt:   u.CreatedAt,
		UpdatedAt:   u.UpdatedAt,
		LastLoginAt: u.LastLoginAt,
	}
}

type Users struct {
	st  docstore.Store
	now func() time.Time
}

// NormalizeEmail 校验并规范化邮箱（小写、去空白）。
func NormalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	if email == "" {
		return "", apperr.Validation("Email is required", nil)
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", apperr.Validation("Invalid email address", nil)
	}
	return email, nil
}

type CreateUserInput struct {
	Email       string
	Password    string
	Name        string
	Role        auth.Role
	ProviderUID string
}

// Create 先占用邮箱索引再写用户文档；邮箱已存在时返回 ErrEmailTaken。
func (r *Users) Create(ctx context.Context, in CreateUserInput) (User, error) {
	email, err := NormalizeEmail(in.Email)
	if err != nil {
		return User{}, err
	}
	role := in.Role
	if role == "" {
		role = auth.RoleCustomer
	}
	var hash string
	if in.Password != "" {
		h, err := auth.HashPassword(in.Password)
		if err != nil {
			return User{}, err
		}
		hash = string(h)
	}

	now := r.now()
	u := User{
		ID:           newID(),
		Email:        email,
		Name:         strings.TrimSpace(in.Name),
		Role:         role,
		Status:       UserStatusActive,
		PasswordHash: hash,
		ProviderUID:  strings.TrimSpace(in.ProviderUID),
		CreatedAt:    now,
		CreatedUnix:  now.UnixMilli(),
		UpdatedAt:    now,
	}

	if err := r.st.Create(ctx, docstore.CollUserEmails, email, indexRef{ID: u.ID}); err != nil {
		if errors.Is(err, docstore.ErrConflict) {
			return User{}, ErrEmailTaken
		}
		return User{}, fmt.Errorf("占用邮箱索引失败: %w", err)
	}
	if u.ProviderUID != "" {
		if err := r.st.Create(ctx, docstore.CollUserProviderUIDs, u.ProviderUID, indexRef{ID: u.ID}); err != nil {
			_ = r.st.Delete(ctx, docstore.CollUserEmails, email)
			if errors.Is(err, docstore.ErrConflict) {
				return User{}, fmt.Errorf("身份提供方账号已绑定: %w", err)
			}
			return User{}, fmt.Errorf("占用身份索引失败: %w", err)
		}
	}
	if err := r.st.Create(ctx, docstore.CollUsers, u.ID, u); err != nil {
		_ = r.st.Delete(ctx, docstore.CollUserEmails, email)
		if u.ProviderUID != "" {
			_ = r.st.Delete(ctx, docstore.CollUserProviderUIDs, u.ProviderUID)
		}
		return User{}, fmt.Errorf("创建用户失败: %w", err)
	}
	return u, nil
}

func (r *Users) Get(ctx context.Context, id string) (User, error) {
	d, err := r.st.Get(ctx, docstore.CollUsers, id)
	if err != nil {
		return User{}, err
	}
	var u User
	if err := d.Decode(&u); err != nil {
		return User{}, err
	}
	u.ID = d.ID
	return u, nil
}

func (r *Users) GetByEmail(ctx context.Context, email string) (User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return User{}, docstore.ErrNotFound
	}
	id, err := lookupIndex(ctx, r.st, docstore.CollUserEmails, email)
	if err != nil {
		return User{}, err
	}
	return r.Get(ctx, id)
}

func (r *Users) GetByProviderUID(ctx context.Context, uid string) (User, error) {
	if strings.TrimSpace(uid) == "" {
		return User{}, docstore.ErrNotFound
	}
	id, err := lookupIndex(ctx, r.st, docstore.CollUserProviderUIDs, uid)
	if err != nil {
		return User{}, err
	}
	return r.Get(ctx, id)
}

func (r *Users) Count(ctx context.Context) (int, error) {
	docs, err := r.st.Query(ctx, docstore.CollUsers, docstore.Query{})
	if err != nil {
		return 0, fmt.Errorf("统计用户失败: %w", err)
	}
	return len(docs), nil
}

type UserFilter struct {
	Role   auth.Role
	Search string
	Limit  int
	Offset int
}

func (r *Users) List(ctx context.Context, f UserFilter) ([]User, error) {
	q := docstore.Query{OrderBy: "createdUnix", Desc: true}
	if f.Role != "" {
		q.Where = append(q.Where, docstore.Where("role", docstore.OpEq, string(f.Role)))
	}
	docs, err := r.st.Query(ctx, docstore.CollUsers, q)
	if err != nil {
		return nil, fmt.Errorf("查询用户失败: %w", err)
	}
	search := strings.ToLower(strings.TrimSpace(f.Search))
	out := make([]User, 0, len(docs))
	for _, d := range docs {
		var u User
		if err := d.Decode(&u); err != nil {
			return nil, err
		}
		u.ID = d.ID
		if search != "" && !strings.Contains(u.Email, search) && !strings.Contains(strings.ToLower(u.Name), search) {
			continue
		}
		out = append(out, u)
	}
	return paginate(out, f.Offset, clampLimit(f.Limit, 50, 500)), nil
}

type UserPatch struct {
	Email  *string
	Name   *string
	Status *string
}

func (r *Users) Update(ctx context.Context, id string, p UserPatch) (User, error) {
	cur, err := r.Get(ctx, id)
	if err != nil {
		return User{}, err
	}
	patch := map[string]any{}
	if p.Name != nil {
		patch["name"] = strings.TrimSpace(*p.Name)
	}
	if p.Status != nil {
		switch *p.Status {
		case UserStatusActive, UserStatusDisabled:
			patch["status"] = *p.Status
		default:
			return User{}, apperr.Validation("Invalid user status", map[string]any{"status": *p.Status})
		}
	}
	if p.Email != nil {
		email, err := NormalizeEmail(*p.Email)
		if err != nil {
			return User{}, err
		}
		if email != cur.Email {
			if err := r.st.Create(ctx, docstore.CollUserEmails, email, indexRef{ID: id}); err != nil {
				if errors.Is(err, docstore.ErrConflict) {
					return User{}, ErrEmailTaken
				}
				return User{}, fmt.Errorf("占用邮箱索引失败: %w", err)
			}
			_ = r.st.Delete(ctx, docstore.CollUserEmails, cur.Email)
			patch["email"] = email
		}
	}
	if len(patch) == 0 {
		return cur, nil
	}
	patch["updatedAt"] = r.now()
	if err := r.st.Update(ctx, docstore.CollUsers, id, patch); err != nil {
		return User{}, fmt.Errorf("更新用户失败: %w", err)
	}
	return r.Get(ctx, id)
}

func (r *Users) SetRole(ctx context.Context, id string, role auth.Role) (User, error) {
	if err := r.st.Update(ctx, docstore.CollUsers, id, map[string]any{"role": string(role), "updatedAt": r.now()}); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return User{}, err
		}
		return User{}, fmt.Errorf("更新用户角色失败: %w", err)
	}
	return r.Get(ctx, id)
}

func (r *Users) SetPassword(ctx context.Context, id string, password string) error {
	h, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	if err := r.st.Update(ctx, docstore.CollUsers, id, map[string]any{"passwordHash": string(h), "updatedAt": r.now()}); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return err
		}
		return fmt.Errorf("更新密码失败: %w", err)
	}
	return nil
}

// LinkProvider 绑定第三方身份 UID。
func (r *Users) LinkProvider(ctx context.Context, id string, uid string) error {
	if err := r.st.Create(ctx, docstore.CollUserProviderUIDs, uid, indexRef{ID: id}); err != nil {
		if errors.Is(err, docstore.ErrConflict) {
			owner, lerr := lookupIndex(ctx, r.st, docstore.CollUserProviderUIDs, uid)
			if lerr == nil && owner == id {
				return nil
			}
		}
		return fmt.Errorf("绑定身份提供方失败: %w", err)
	}
	if err := r.st.Update(ctx, docstore.CollUsers, id, map[string]any{"providerUid": uid, "updatedAt": r.now()}); err != nil {
		_ = r.st.Delete(ctx, docstore.CollUserProviderUIDs, uid)
		return fmt.Errorf("绑定身份提供方失败: %w", err)
	}
	return nil
}

func (r *Users) TouchLogin(ctx context.Context, id string) error {
	return r.st.Update(ctx, docstore.CollUsers, id, map[string]any{"lastLoginAt": r.now()})
}

func (r *Users) Delete(ctx context.Context, id string) error {
	u, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := r.st.Delete(ctx, docstore.CollUsers, id); err != nil {
		return fmt.Errorf("删除用户失败: %w", err)
	}
	_ = r.st.Delete(ctx, docstore.CollUserEmails, u.Email)
	if u.ProviderUID != "" {
		_ = r.st.Delete(ctx, docstore.CollUserProviderUIDs, u.ProviderUID)
	}
	return nil
}

func paginate[T any](items []T, offset, limit int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return []T{}
		}
		items = items[offset:]
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}
