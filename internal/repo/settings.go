package repo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"storefront/internal/apperr"
	"storefront/internal/docstore"
)

const settingsDocID = "global"

type SiteSettings struct {
	StoreName        string          `json:"storeName"`
	Tagline          string          `json:"tagline,omitempty"`
	LogoURL          string          `json:"logoUrl,omitempty"`
	ContactEmail     string          `json:"contactEmail,omitempty"`
	ContactPhone     string          `json:"contactPhone,omitempty"`
	Currency         string          `json:"currency"`
	ShippingFlat     decimal.Decimal `json:"shippingFlat"`
	FreeShippingAt   decimal.Decimal `json:"freeShippingAt"`
	TaxRate          decimal.Decimal `json:"taxRate"`
	Maintenance      bool            `json:"maintenance"`
	AnnouncementHTML string          `json:"announcementHtml,omitempty"`
	UpdatedAt        time.Time       `json:"updatedAt"`
	UpdatedBy        string          `json:"updatedBy,omitempty"`
}

// PublicSettings 是对匿名访客公开的字段子集。
type PublicSettings struct {
	StoreName        string `json:"storeName"`
	Tagline          string `json:"tagline,omitempty"`
	LogoURL          string `json:"logoUrl,omitempty"`
	ContactEmail     string `json:"contactEmail,omitempty"`
	ContactPhone     string `json:"contactPhone,omitempty"`
	Currency         string `json:"currency"`
	Maintenance      bool   `json:"maintenance"`
	AnnouncementHTML string `json:"announcementHtml,omitempty"`
}

func (s SiteSettings) Public() PublicSettings {
	return PublicSettings{
		StoreName:        s.StoreName,
		Tagline:          s.Tagline,
		LogoURL:          s.LogoURL,
		ContactEmail:     s.ContactEmail,
		ContactPhone:     s.ContactPhone,
		Currency:         s.Currency,
		Maintenance:      s.Maintenance,
		AnnouncementHTML: s.AnnouncementHTML,
	}
}

func DefaultSiteSettings() SiteSettings {
	return SiteSettings{
		StoreName:      "Storefront",
		Currency:       "usd",
		ShippingFlat:   decimal.Zero,
		FreeShippingAt: decimal.Zero,
		TaxRate:        decimal.Zero,
	}
}

// ShippingFor 按小计计算运费：FreeShippingAt>0 且小计达到阈值时免运费。
func (s SiteSettings) ShippingFor(subtotal decimal.Decimal) decimal.Decimal {
	if s.FreeShippingAt.IsPositive() && subtotal.GreaterThanOrEqual(s.FreeShippingAt) {
		return decimal.Zero
	}
	return s.ShippingFlat
}

func (s SiteSettings) TaxFor(subtotal decimal.Decimal) decimal.Decimal {
	return subtotal.Mul(s.TaxRate).Round(2)
}

type Settings struct {
	st  docstore.Store
	now func() time.Time
}

// Get 读取全局站点设置；文档不存在时返回默认值。
func (r *Settings) Get(ctx context.Context) (SiteSettings, error) {
	d, err := r.st.Get(ctx, docstore.CollSiteSettings, settingsDocID)
	if errors.Is(err, docstore.ErrNotFound) {
		return DefaultSiteSettings(), nil
	}
	if err != nil {
		return SiteSettings{}, fmt.Errorf("读取站点设置失败: %w", err)
	}
	s := DefaultSiteSettings()
	if err := d.Decode(&s); err != nil {
		return SiteSettings{}, err
	}
	return s, nil
}

func (r *Settings) Put(ctx context.Context, s SiteSettings, by string) (SiteSettings, error) {
	s.StoreName = strings.TrimSpace(s.StoreName)
	if s.StoreName == "" {
		return SiteSettings{}, apperr.Validation("Store name is required", nil)
	}
	s.Currency = strings.ToLower(strings.TrimSpace(s.Currency))
	if len(s.Currency) != 3 {
		return SiteSettings{}, apperr.Validation("Currency must be a 3-letter ISO code", nil)
	}
	if s.ShippingFlat.IsNegative() || s.FreeShippingAt.IsNegative() || s.TaxRate.IsNegative() || s.TaxRate.GreaterThan(decimal.NewFromInt(1)) {
		return SiteSettings{}, apperr.Validation("Invalid shipping or tax settings", nil)
	}
	s.UpdatedAt = r.now()
	s.UpdatedBy = by
	if err := r.st.Set(ctx, docstore.CollSiteSettings, settingsDocID, s); err != nil {
		return SiteSettings{}, fmt.Errorf("保存站点设置失败: %w", err)
	}
	return s, nil
}
