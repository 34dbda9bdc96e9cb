package repo

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"storefront/internal/apperr"
	"storefront/internal/docstore"
	"storefront/internal/htmlsafe"
)

type Product struct {
	ID             string           `json:"id"`
	Name           string           `json:"name"`
	Slug           string           `json:"slug"`
	Description    string           `json:"description,omitempty"`
	Price          decimal.Decimal  `json:"price"`
	CompareAtPrice *decimal.Decimal `json:"compareAtPrice,omitempty"`
	Stock          int              `json:"stock"`
	Category       string           `json:"category,omitempty"`
	Images         []string         `json:"images,omitempty"`
	Tags           []string         `json:"tags,omitempty"`
	Published      bool             `json:"published"`
	Featured       bool             `json:"featured"`
	CreatedAt      time.Time        `json:"createdAt"`
	CreatedUnix    int64            `json:"createdUnix"`
	UpdatedAt      time.Time        `json:"updatedAt"`
}

type ProductInput struct {
	Name           string
	Slug           string
	Description    string
	Price          decimal.Decimal
	CompareAtPrice *decimal.Decimal
	Stock          int
	Category       string
	Images         []string
	Tags           []string
	Published      bool
	Featured       bool
}

type Products struct {
	st  docstore.Store
	now func() time.Time
}

var slugUnsafe = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify 生成 URL 友好的 slug（仅 a-z0-9 与 -）。
func Slugify(s string) string {
	s = slugUnsafe.ReplaceAllString(strings.ToLower(strings.TrimSpace(s)), "-")
	return strings.Trim(s, "-")
}

func normalizeProductInput(in ProductInput) (ProductInput, error) {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return in, apperr.Validation("Product name is required", nil)
	}
	in.Slug = Slugify(in.Slug)
	if in.Slug == "" {
		in.Slug = Slugify(in.Name)
	}
	if in.Slug == "" {
		return in, apperr.Validation("Slug is required", nil)
	}
	if in.Price.IsNegative() {
		return in, apperr.Validation("Price cannot be negative", nil)
	}
	in.Price = in.Price.Round(2)
	if in.CompareAtPrice != nil {
		v := in.CompareAtPrice.Round(2)
		in.CompareAtPrice = &v
	}
	if in.Stock < 0 {
		return in, apperr.Validation("Stock cannot be negative", nil)
	}
	in.Description = htmlsafe.Sanitize(in.Description)
	in.Category = strings.ToLower(strings.TrimSpace(in.Category))
	return in, nil
}

func (r *Products) Create(ctx context.Context, in ProductInput) (Product, error) {
	in, err := normalizeProductInput(in)
	if err != nil {
		return Product{}, err
	}
	now := r.now()
	p := Product{
		ID:             newID(),
		Name:           in.Name,
		Slug:           in.Slug,
		Description:    in.Description,
		Price:          in.Price,
		CompareAtPrice: in.CompareAtPrice,
		Stock:          in.Stock,
		Category:       in.Category,
		Images:         in.Images,
		Tags:           in.Tags,
		Published:      in.Published,
		Featured:       in.Featured,
		CreatedAt:      now,
		CreatedUnix:    now.UnixMilli(),
		UpdatedAt:      now,
	}
	if err := r.st.Create(ctx, docstore.CollProductSlugs, p.Slug, indexRef{ID: p.ID}); err != nil {
		if errors.Is(err, docstore.ErrConflict) {
			return Product{}, ErrSlugTaken
		}
		return Product{}, fmt.Errorf("占用 slug 失败: %w", err)
	}
	if err := r.st.Create(ctx, docstore.CollProducts, p.ID, p); err != nil {
		_ = r.st.Delete(ctx, docstore.CollProductSlugs, p.Slug)
		return Product{}, fmt.Errorf("创建商品失败: %w", err)
	}
	return p, nil
}

func (r *Products) Get(ctx context.Context, id string) (Product, error) {
	d, err := r.st.Get(ctx, docstore.CollProducts, id)
	if err != nil {
		return Product{}, err
	}
	var p Product
	if err := d.Decode(&p); err != nil {
		return Product{}, err
	}
	p.ID = d.ID
	return p, nil
}

// GetBySlugOrID 先按 slug 查找，找不到再按 id。
func (r *Products) GetBySlugOrID(ctx context.Context, key string) (Product, error) {
	if id, err := lookupIndex(ctx, r.st, docstore.CollProductSlugs, key); err == nil {
		return r.Get(ctx, id)
	} else if !errors.Is(err, docstore.ErrNotFound) {
		return Product{}, err
	}
	return r.Get(ctx, key)
}

type ProductFilter struct {
	Category      string
	PublishedOnly bool
	FeaturedOnly  bool
	Search        string
	Limit         int
	Offset        int
}

func (r *Products) List(ctx context.Context, f ProductFilter) ([]Product, error) {
	q := docstore.Query{OrderBy: "createdUnix", Desc: true}
	if f.PublishedOnly {
		q.Where = append(q.Where, docstore.Where("published", docstore.OpEq, true))
	}
	if f.FeaturedOnly {
		q.Where = append(q.Where, docstore.Where("featured", docstore.OpEq, true))
	}
	if c := strings.ToLower(strings.TrimSpace(f.Category)); c != "" {
		q.Where = append(q.Where, docstore.Where("category", docstore.OpEq, c))
	}
	docs, err := r.st.Query(ctx, docstore.CollProducts, q)
	if err != nil {
		return nil, fmt.Errorf("查询商品失败: %w", err)
	}
	search := strings.ToLower(strings.TrimSpace(f.Search))
	out := make([]Product, 0, len(docs))
	for _, d := range docs {
		var p Product
		if err := d.Decode(&p); err != nil {
			return nil, err
		}
		p.ID = d.ID
		if search != "" && !strings.Contains(strings.ToLower(p.Name), search) && !strings.Contains(strings.ToLower(htmlsafe.StripTags(p.Description)), search) {
			continue
		}
		out = append(out, p)
	}
	return paginate(out, f.Offset, clampLimit(f.Limit, 50, 200)), nil
}

func (r *Products) Update(ctx context.Context, id string, in ProductInput) (Product, error) {
	cur, err := r.Get(ctx, id)
	if err != nil {
		return Product{}, err
	}
	in, err = normalizeProductInput(in)
	if err != nil {
		return Product{}, err
	}
	if in.Slug != cur.Slug {
		if err := r.st.Create(ctx, docstore.CollProductSlugs, in.Slug, indexRef{ID: id}); err != nil {
			if errors.Is(err, docstore.ErrConflict) {
				return Product{}, ErrSlugTaken
			}
			return Product{}, fmt.Errorf("占用 slug 失败: %w", err)
		}
		_ = r.st.Delete(ctx, docstore.CollProductSlugs, cur.Slug)
	}
	next := cur
	next.Name = in.Name
	next.Slug = in.Slug
	next.Description = in.Description
	next.Price = in.Price
	next.CompareAtPrice = in.CompareAtPrice
	next.Stock = in.Stock
	next.Category = in.Category
	next.Images = in.Images
	next.Tags = in.Tags
	next.Published = in.Published
	next.Featured = in.Featured
	next.UpdatedAt = r.now()
	if err := r.st.Set(ctx, docstore.CollProducts, id, next); err != nil {
		return Product{}, fmt.Errorf("更新商品失败: %w", err)
	}
	return next, nil
}

// AdjustStock 以 delta 调整库存，结果不能为负。
func (r *Products) AdjustStock(ctx context.Context, id string, delta int) error {
	p, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	if p.Stock+delta < 0 {
		return ErrInsufficientStock
	}
	return r.st.Update(ctx, docstore.CollProducts, id, map[string]any{"stock": p.Stock + delta, "updatedAt": r.now()})
}

func (r *Products) Delete(ctx context.Context, id string) error {
	p, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := r.st.Delete(ctx, docstore.CollProducts, id); err != nil {
		return fmt.Errorf("删除商品失败: %w", err)
	}
	_ = r.st.Delete(ctx, docstore.CollProductSlugs, p.Slug)
	return nil
}

func (r *Products) Count(ctx context.Context) (int, error) {
	docs, err := r.st.Query(ctx, docstore.CollProducts, docstore.Query{})
	if err != nil {
		return 0, fmt.Errorf("统计商品失败: %w", err)
	}
	return len(docs), nil
}
