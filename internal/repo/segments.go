package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"storefront/internal/apperr"
	"storefront/internal/docstore"
)

const (
	SegmentMatchAll = "all"
	SegmentMatchAny = "any"
)

// SegmentRule 作用于客户文档字段，如 {lifetimeValue, >=, 100}。
type SegmentRule struct {
	Field string      `json:"field"`
	Op    docstore.Op `json:"op"`
	Value any         `json:"value"`
}

type Segment struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	Match       string        `json:"match"`
	Rules       []SegmentRule `json:"rules"`
	CreatedAt   time.Time     `json:"createdAt"`
	CreatedUnix int64         `json:"createdUnix"`
	UpdatedAt   time.Time     `json:"updatedAt"`
}

type SegmentInput struct {
	Name        string
	Description string
	Match       string
	Rules       []SegmentRule
}

type Segments struct {
	st  docstore.Store
	now func() time.Time
}

// segmentFields 把规则字段映射到客户文档路径。
var segmentFields = map[string]string{
	"email":         "email",
	"name":          "name",
	"tags":          "tags",
	"lifetimeValue": "totalSpent",
	"orderCount":    "orderCount",
	"createdUnix":   "createdUnix",
}

func normalizeSegmentInput(in SegmentInput) (SegmentInput, error) {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return in, apperr.Validation("Segment name is required", nil)
	}
	in.Match = strings.ToLower(strings.TrimSpace(in.Match))
	if in.Match == "" {
		in.Match = SegmentMatchAll
	}
	if in.Match != SegmentMatchAll && in.Match != SegmentMatchAny {
		return in, apperr.Validation("Invalid segment match mode", map[string]any{"match": in.Match})
	}
	for i, rule := range in.Rules {
		if _, ok := segmentFields[rule.Field]; !ok {
			return in, apperr.Validation("Invalid segment rule field", map[string]any{"field": rule.Field})
		}
		switch rule.Op {
		case docstore.OpEq, docstore.OpNe, docstore.OpLt, docstore.OpLte, docstore.OpGt, docstore.OpGte, docstore.OpIn, docstore.OpArrayContains:
		default:
			return in, apperr.Validation("Invalid segment rule operator", map[string]any{"op": string(rule.Op)})
		}
		in.Rules[i].Value = normalizeRuleValue(rule.Value)
	}
	return in, nil
}

// normalizeRuleValue 把 json.Number 转为 float64，其余原样保留。
func normalizeRuleValue(v any) any {
	if n, ok := v.(json.Number); ok {
		if f, err := n.Float64(); err == nil {
			return f
		}
	}
	return v
}

func (r *Segments) Create(ctx context.Context, in SegmentInput) (Segment, error) {
	in, err := normalizeSegmentInput(in)
	if err != nil {
		return Segment{}, err
	}
	now := r.now()
	s := Segment{
		ID:          newID(),
		Name:        in.Name,
		Description: strings.TrimSpace(in.Description),
		Match:       in.Match,
		Rules:       in.Rules,
		CreatedAt:   now,
		CreatedUnix: now.UnixMilli(),
		UpdatedAt:   now,
	}
	if s.Rules == nil {
		s.Rules = []SegmentRule{}
	}
	if err := r.st.Create(ctx, docstore.CollCustomerSegments, s.ID, s); err != nil {
		return Segment{}, fmt.Errorf("创建客户分群失败: %w", err)
	}
	return s, nil
}

func (r *Segments) Get(ctx context.Context, id string) (Segment, error) {
	d, err := r.st.Get(ctx, docstore.CollCustomerSegments, id)
	if err != nil {
		return Segment{}, err
	}
	var s Segment
	if err := d.Decode(&s); err != nil {
		return Segment{}, err
	}
	s.ID = d.ID
	return s, nil
}

func (r *Segments) List(ctx context.Context) ([]Segment, error) {
	docs, err := r.st.Query(ctx, docstore.CollCustomerSegments, docstore.Query{OrderBy: "createdUnix", Desc: true})
	if err != nil {
		return nil, fmt.Errorf("查询客户分群失败: %w", err)
	}
	out := make([]Segment, 0, len(docs))
	for _, d := range docs {
		var s Segment
		if err := d.Decode(&s); err != nil {
			return nil, err
		}
		s.ID = d.ID
		out = append(out, s)
	}
	return out, nil
}

func (r *Segments) Update(ctx context.Context, id string, in SegmentInput) (Segment, error) {
	cur, err := r.Get(ctx, id)
	if err != nil {
		return Segment{}, err
	}
	in, err = normalizeSegmentInput(in)
	if err != nil {
		return Segment{}, err
	}
	cur.Name = in.Name
	cur.Description = strings.TrimSpace(in.Description)
	cur.Match = in.Match
	cur.Rules = in.Rules
	if cur.Rules == nil {
		cur.Rules = []SegmentRule{}
	}
	cur.UpdatedAt = r.now()
	if err := r.st.Set(ctx, docstore.CollCustomerSegments, id, cur); err != nil {
		return Segment{}, fmt.Errorf("更新客户分群失败: %w", err)
	}
	return cur, nil
}

func (r *Segments) Delete(ctx context.Context, id string) error {
	if _, err := r.Get(ctx, id); err != nil {
		return err
	}
	return r.st.Delete(ctx, docstore.CollCustomerSegments, id)
}

// Members 返回满足分群规则的客户。match=all 时下推为存储查询，match=any 时逐条匹配。
func (r *Segments) Members(ctx context.Context, customers *Customers, id string) ([]Customer, error) {
	s, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	filters := make([]docstore.Filter, 0, len(s.Rules))
	for _, rule := range s.Rules {
		filters = append(filters, docstore.Where(segmentFields[rule.Field], rule.Op, rule.Value))
	}
	if s.Match == SegmentMatchAll || len(filters) == 0 {
		return customers.all(ctx, docstore.Query{Where: filters, OrderBy: "createdUnix", Desc: true})
	}
	all, err := customers.all(ctx, docstore.Query{OrderBy: "createdUnix", Desc: true})
	if err != nil {
		return nil, err
	}
	out := make([]Customer, 0)
	for _, c := range all {
		raw, err := json.Marshal(c)
		if err != nil {
			return nil, errors.Join(errors.New("编码客户失败"), err)
		}
		for _, f := range filters {
			if docstore.Match(raw, []docstore.Filter{f}) {
				out = append(out, c)
				break
			}
		}
	}
	return out, nil
}
