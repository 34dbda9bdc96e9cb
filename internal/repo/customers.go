package repo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"storefront/internal/docstore"
)

// Customer 是面向运营的客户档案，id 与用户 id 相同。
type Customer struct {
	ID            string          `json:"id"`
	Email         string          `json:"email"`
	Name          string          `json:"name,omitempty"`
	Phone         string          `json:"phone,omitempty"`
	Notes         string          `json:"notes,omitempty"`
	Tags          []string        `json:"tags,omitempty"`
	LifetimeValue decimal.Decimal `json:"lifetimeValue"`
	// TotalSpent 是 LifetimeValue 的数值副本，供分群规则做范围比较。
	TotalSpent  float64    `json:"totalSpent"`
	OrderCount  int        `json:"orderCount"`
	LastOrderAt *time.Time `json:"lastOrderAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	CreatedUnix int64      `json:"createdUnix"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

type Customers struct {
	st  docstore.Store
	now func() time.Time
}

// EnsureForUser 在客户档案不存在时创建；已存在直接返回。
func (r *Customers) EnsureForUser(ctx context.Context, u User) (Customer, error) {
	c, err := r.Get(ctx, u.ID)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, docstore.ErrNotFound) {
		return Customer{}, err
	}
	now := r.now()
	c = Customer{
		ID:            u.ID,
		Email:         u.Email,
		Name:          u.Name,
		LifetimeValue: decimal.Zero,
		CreatedAt:     now,
		CreatedUnix:   now.UnixMilli(),
		UpdatedAt:     now,
	}
	if err := r.st.Create(ctx, docstore.CollCustomers, c.ID, c); err != nil {
		if errors.Is(err, docstore.ErrConflict) {
			return r.Get(ctx, u.ID)
		}
		return Customer{}, fmt.Errorf("创建客户档案失败: %w", err)
	}
	return c, nil
}

func (r *Customers) Get(ctx context.Context, id string) (Customer, error) {
	d, err := r.st.Get(ctx, docstore.CollCustomers, id)
	if err != nil {
		return Customer{}, err
	}
	var c Customer
	if err := d.Decode(&c); err != nil {
		return Customer{}, err
	}
	c.ID = d.ID
	return c, nil
}

type CustomerFilter struct {
	Search string
	Limit  int
	Offset int
}

func (r *Customers) List(ctx context.Context, f CustomerFilter) ([]Customer, error) {
	all, err := r.all(ctx, docstore.Query{OrderBy: "createdUnix", Desc: true})
	if err != nil {
		return nil, err
	}
	search := strings.ToLower(strings.TrimSpace(f.Search))
	out := all[:0]
	for _, c := range all {
		if search != "" && !strings.Contains(c.Email, search) && !strings.Contains(strings.ToLower(c.Name), search) {
			continue
		}
		out = append(out, c)
	}
	return paginate(out, f.Offset, clampLimit(f.Limit, 50, 500)), nil
}

func (r *Customers) all(ctx context.Context, q docstore.Query) ([]Customer, error) {
	docs, err := r.st.Query(ctx, docstore.CollCustomers, q)
	if err != nil {
		return nil, fmt.Errorf("查询客户失败: %w", err)
	}
	out := make([]Customer, 0, len(docs))
	for _, d := range docs {
		var c Customer
		if err := d.Decode(&c); err != nil {
			return nil, err
		}
		c.ID = d.ID
		out = append(out, c)
	}
	return out, nil
}

type CustomerPatch struct {
	Name  *string
	Phone *string
	Notes *string
	Tags  []string
}

func (r *Customers) Update(ctx context.Context, id string, p CustomerPatch) (Customer, error) {
	patch := map[string]any{"updatedAt": r.now()}
	if p.Name != nil {
		patch["name"] = strings.TrimSpace(*p.Name)
	}
	if p.Phone != nil {
		patch["phone"] = strings.TrimSpace(*p.Phone)
	}
	if p.Notes != nil {
		patch["notes"] = strings.TrimSpace(*p.Notes)
	}
	if p.Tags != nil {
		patch["tags"] = normalizeTags(p.Tags)
	}
	if err := r.st.Update(ctx, docstore.CollCustomers, id, patch); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return Customer{}, err
		}
		return Customer{}, fmt.Errorf("更新客户失败: %w", err)
	}
	return r.Get(ctx, id)
}

// RecalculateStats 从订单集合全量重算消费总额与订单数。
// 全量重算是幂等的：并发订单写入导致的偏差会被下一次重算修正。
func (r *Customers) RecalculateStats(ctx context.Context, orders *Orders, id string) (Customer, error) {
	list, err := orders.List(ctx, OrderFilter{UserID: id})
	if err != nil {
		return Customer{}, err
	}
	ltv := decimal.Zero
	count := 0
	var last *time.Time
	for _, o := range list {
		if !o.Status.Counted() {
			continue
		}
		ltv = ltv.Add(o.Total)
		count++
		if last == nil || o.CreatedAt.After(*last) {
			t := o.CreatedAt
			last = &t
		}
	}
	patch := map[string]any{
		"lifetimeValue": ltv.Round(2),
		"totalSpent":    ltv.Round(2).InexactFloat64(),
		"orderCount":    count,
		"updatedAt":     r.now(),
	}
	if last != nil {
		patch["lastOrderAt"] = *last
	}
	if err := r.st.Update(ctx, docstore.CollCustomers, id, patch); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return Customer{}, err
		}
		return Customer{}, fmt.Errorf("更新客户统计失败: %w", err)
	}
	return r.Get(ctx, id)
}

func normalizeTags(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, t := range in {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
