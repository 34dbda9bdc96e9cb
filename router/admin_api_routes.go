package router

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"storefront/internal/access"
	"storefront/internal/envelope"
	"storefront/internal/htmlsafe"
	"storefront/internal/repo"
)

func setAdminAPIRoutes(r *gin.RouterGroup, opts Options) {
	admin := r.Group("/admin", requireAccess(opts, access.Admin))

	admin.GET("/dashboard", adminDashboardHandler(opts))
	admin.GET("/settings", adminGetSettingsHandler(opts))
	admin.PUT("/settings", adminPutSettingsHandler(opts))
	admin.GET("/logs", adminListLogsHandler(opts, false))
	admin.GET("/activity", adminListLogsHandler(opts, true))

	setAdminUserAPIRoutes(admin, opts)
	setAdminRoleAPIRoutes(admin, opts)
	setAdminProductAPIRoutes(admin, opts)
	setAdminOrderAPIRoutes(admin, opts)
	setAdminCustomerAPIRoutes(admin, opts)
	setAdminSegmentAPIRoutes(admin, opts)
}

func adminDashboardHandler(opts Options) gin.HandlerFunc {
	return func(c *gin.Context) {
		stats, err := opts.Repos.Dashboard(c.Request.Context())
		if err != nil {
			envelope.FromError(c, err)
			return
		}
		envelope.OK(c, gin.H{"stats": stats})
	}
}

func adminGetSettingsHandler(opts Options) gin.HandlerFunc {
	return func(c *gin.Context) {
		s, err := opts.Repos.Settings.Get(c.Request.Context())
		if err != nil {
			envelope.FromError(c, err)
			return
		}
		envelope.OK(c, gin.H{"settings": s})
	}
}

func adminPutSettingsHandler(opts Options) gin.HandlerFunc {
	type reqBody struct {
		csrfField
		StoreName        string          `json:"storeName" binding:"required"`
		Tagline          string          `json:"tagline"`
		LogoURL          string          `json:"logoUrl"`
		ContactEmail     string          `json:"contactEmail"`
		ContactPhone     string          `json:"contactPhone"`
		Currency         string          `json:"currency" binding:"required,len=3"`
		ShippingFlat     decimal.Decimal `json:"shippingFlat"`
		FreeShippingAt   decimal.Decimal `json:"freeShippingAt"`
		TaxRate          decimal.Decimal `json:"taxRate"`
		Maintenance      bool            `json:"maintenance"`
		AnnouncementHTML string          `json:"announcementHtml"`
	}
	return func(c *gin.Context) {
		var req reqBody
		if !bindJSON(c, &req) || !checkCSRF(c, opts, req.CSRFToken) {
			return
		}
		s, err := opts.Repos.Settings.Put(c.Request.Context(), repo.SiteSettings{
			StoreName:        req.StoreName,
			Tagline:          strings.TrimSpace(req.Tagline),
			LogoURL:          strings.TrimSpace(req.LogoURL),
			ContactEmail:     strings.TrimSpace(req.ContactEmail),
			ContactPhone:     strings.TrimSpace(req.ContactPhone),
			Currency:         req.Currency,
			ShippingFlat:     req.ShippingFlat,
			FreeShippingAt:   req.FreeShippingAt,
			TaxRate:          req.TaxRate,
			Maintenance:      req.Maintenance,
			AnnouncementHTML: htmlsafe.Sanitize(req.AnnouncementHTML),
		}, actorID(c))
		if err != nil {
			envelope.FromError(c, err)
			return
		}
		audit(c, opts, "settings.updated", "global", nil)
		envelope.OK(c, gin.H{"settings": s, "message": "Settings updated successfully"})
	}
}

func adminListLogsHandler(opts Options, activityLog bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		f := repo.LogFilter{
			Action:  strings.TrimSpace(c.Query("action")),
			ActorID: strings.TrimSpace(c.Query("actorId")),
			Limit:   queryInt(c, "limit", 100),
			Offset:  queryInt(c, "offset", 0),
		}
		var (
			logs []repo.LogEntry
			err  error
		)
		if activityLog {
			logs, err = opts.Repos.Logs.ListActivity(c.Request.Context(), f)
		} else {
			logs, err = opts.Repos.Logs.ListSystem(c.Request.Context(), f)
		}
		if err != nil {
			envelope.FromError(c, err)
			return
		}
		envelope.OK(c, gin.H{"logs": logs})
	}
}
