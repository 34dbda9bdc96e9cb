package repo

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"storefront/internal/apperr"
	"storefront/internal/auth"
	"storefront/internal/docstore"
)

// PermissionCatalog 是可分配的全部权限。
var PermissionCatalog = []string{
	"products:read",
	"products:write",
	"orders:read",
	"orders:write",
	"customers:read",
	"customers:write",
	"segments:read",
	"segments:write",
	"users:read",
	"users:write",
	"roles:write",
	"settings:write",
	"logs:read",
	"uploads:write",
}

type Role struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Permissions []string  `json:"permissions"`
	System      bool      `json:"system"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type RoleInput struct {
	Name        string
	Description string
	Permissions []string
}

type Roles struct {
	st  docstore.Store
	now func() time.Time
}

func validPermissions(in []string) ([]string, error) {
	known := make(map[string]struct{}, len(PermissionCatalog))
	for _, p := range PermissionCatalog {
		known[p] = struct{}{}
	}
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, p := range in {
		p = strings.TrimSpace(p)
		if _, ok := known[p]; !ok {
			return nil, apperr.Validation("Unknown permission", map[string]any{"permission": p})
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	sort.Strings(out)
	return out, nil
}

// roleID 以大写名称作为文档 id，使角色名唯一。
func roleID(name string) string {
	return strings.ToUpper(strings.TrimSpace(name))
}

// EnsureSystemRoles 幂等地写入 ADMIN 与 CUSTOMER 两个系统角色。
func (r *Roles) EnsureSystemRoles(ctx context.Context) error {
	now := r.now()
	system := []Role{
		{ID: string(auth.RoleAdmin), Name: string(auth.RoleAdmin), Description: "Full access", Permissions: append([]string(nil), PermissionCatalog...), System: true},
		{ID: string(auth.RoleCustomer), Name: string(auth.RoleCustomer), Description: "Storefront customer", Permissions: []string{}, System: true},
	}
	for _, role := range system {
		role.CreatedAt, role.UpdatedAt = now, now
		if err := r.st.Create(ctx, docstore.CollRoles, role.ID, role); err != nil && !errors.Is(err, docstore.ErrConflict) {
			return fmt.Errorf("初始化系统角色 %s 失败: %w", role.ID, err)
		}
	}
	return nil
}

func (r *Roles) Create(ctx context.Context, in RoleInput) (Role, error) {
	id := roleID(in.Name)
	if id == "" {
		return Role{}, apperr.Validation("Role name is required", nil)
	}
	perms, err := validPermissions(in.Permissions)
	if err != nil {
		return Role{}, err
	}
	now := r.now()
	role := Role{
		ID:          id,
		Name:        strings.TrimSpace(in.Name),
		Description: strings.TrimSpace(in.Description),
		Permissions: perms,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := r.st.Create(ctx, docstore.CollRoles, id, role); err != nil {
		if errors.Is(err, docstore.ErrConflict) {
			return Role{}, ErrRoleExists
		}
		return Role{}, fmt.Errorf("创建角色失败: %w", err)
	}
	return role, nil
}

func (r *Roles) Get(ctx context.Context, id string) (Role, error) {
	d, err := r.st.Get(ctx, docstore.CollRoles, roleID(id))
	if err != nil {
		return Role{}, err
	}
	var role Role
	if err := d.Decode(&role); err != nil {
		return Role{}, err
	}
	role.ID = d.ID
	return role, nil
}

func (r *Roles) List(ctx context.Context) ([]Role, error) {
	docs, err := r.st.Query(ctx, docstore.CollRoles, docstore.Query{OrderBy: "name"})
	if err != nil {
		return nil, fmt.Errorf("查询角色失败: %w", err)
	}
	out := make([]Role, 0, len(docs))
	for _, d := range docs {
		var role Role
		if err := d.Decode(&role); err != nil {
			return nil, err
		}
		role.ID = d.ID
		out = append(out, role)
	}
	return out, nil
}

// Update 只修改描述与权限；系统角色 ADMIN 的权限固定为全集。
func (r *Roles) Update(ctx context.Context, id string, in RoleInput) (Role, error) {
	cur, err := r.Get(ctx, id)
	if err != nil {
		return Role{}, err
	}
	perms, err := validPermissions(in.Permissions)
	if err != nil {
		return Role{}, err
	}
	if cur.ID == string(auth.RoleAdmin) {
		perms = append([]string(nil), PermissionCatalog...)
	}
	patch := map[string]any{
		"description": strings.TrimSpace(in.Description),
		"permissions": perms,
		"updatedAt":   r.now(),
	}
	if err := r.st.Update(ctx, docstore.CollRoles, cur.ID, patch); err != nil {
		return Role{}, fmt.Errorf("更新角色失败: %w", err)
	}
	return r.Get(ctx, cur.ID)
}

func (r *Roles) Delete(ctx context.Context, id string) error {
	cur, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	if cur.System {
		return ErrSystemRole
	}
	return r.st.Delete(ctx, docstore.CollRoles, cur.ID)
}
