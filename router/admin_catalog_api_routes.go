package router

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"storefront/internal/envelope"
	"storefront/internal/repo"
)

const (
	msgProductNotFound = "Product not found"
	msgRoleNotFound    = "Role not found"
)

func setAdminRoleAPIRoutes(r *gin.RouterGroup, opts Options) {
	r.GET("/permissions", func(c *gin.Context) {
		envelope.OK(c, gin.H{"permissions": repo.PermissionCatalog})
	})
	r.GET("/roles", adminListRolesHandler(opts))
	r.POST("/roles", adminCreateRoleHandler(opts))
	r.GET("/roles/:id", adminGetRoleHandler(opts))
	r.PUT("/roles/:id", adminUpdateRoleHandler(opts))
	r.DELETE("/roles/:id", adminDeleteRoleHandler(opts))
}

func setAdminProductAPIRoutes(r *gin.RouterGroup, opts Options) {
	r.GET("/products", adminListProductsHandler(opts))
	r.POST("/products", adminCreateProductHandler(opts))
	r.GET("/products/:id", adminGetProductHandler(opts))
	r.PUT("/products/:id", adminUpdateProductHandler(opts))
	r.DELETE("/products/:id", adminDeleteProductHandler(opts))
}

func notFoundAs(c *gin.Context, err error, msg string) {
	if repo.IsNotFound(err) {
		envelope.Error(c, msg, http.StatusNotFound)
		return
	}
	envelope.FromError(c, err)
}

type roleBody struct {
	csrfField
	Name        string   `json:"name" binding:"required,max=64"`
	Description string   `json:"description" binding:"max=500"`
	Permissions []string `json:"permissions"`
}

func (b roleBody) input() repo.RoleInput {
	return repo.RoleInput{Name: b.Name, Description: b.Description, Permissions: b.Permissions}
}

func adminListRolesHandler(opts Options) gin.HandlerFunc {
	return func(c *gin.Context) {
		roles, err := opts.Repos.Roles.List(c.Request.Context())
		if err != nil {
			envelope.FromError(c, err)
			return
		}
		envelope.OK(c, gin.H{"roles": roles})
	}
}

func adminCreateRoleHandler(opts Options) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req roleBody
		if !bindJSON(c, &req) || !checkCSRF(c, opts, req.CSRFToken) {
			return
		}
		role, err := opts.Repos.Roles.Create(c.Request.Context(), req.input())
		if err != nil {
			envelope.FromError(c, err)
			return
		}
		audit(c, opts, "role.created", role.ID, map[string]any{"name": role.Name})
		envelope.OK(c, gin.H{"role": role, "message": "Role created successfully"}, http.StatusCreated)
	}
}

func adminGetRoleHandler(opts Options) gin.HandlerFunc {
	return func(c *gin.Context) {
		role, err := opts.Repos.Roles.Get(c.Request.Context(), c.Param("id"))
		if err != nil {
			notFoundAs(c, err, msgRoleNotFound)
			return
		}
		envelope.OK(c, gin.H{"role": role})
	}
}

func adminUpdateRoleHandler(opts Options) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req roleBody
		if !bindJSON(c, &req) || !checkCSRF(c, opts, req.CSRFToken) {
			return
		}
		role, err := opts.Repos.Roles.Update(c.Request.Context(), c.Param("id"), req.input())
		if err != nil {
			notFoundAs(c, err, msgRoleNotFound)
			return
		}
		audit(c, opts, "role.updated", role.ID, nil)
		envelope.OK(c, gin.H{"role": role, "message": "Role updated successfully"})
	}
}

func adminDeleteRoleHandler(opts Options) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !checkCSRF(c, opts, "") {
			return
		}
		id := c.Param("id")
		if err := opts.Repos.Roles.Delete(c.Request.Context(), id); err != nil {
			notFoundAs(c, err, msgRoleNotFound)
			return
		}
		audit(c, opts, "role.deleted", id, nil)
		envelope.OK(c, gin.H{"success": true, "message": "Role deleted successfully"})
	}
}

type productBody struct {
	csrfField
	Name           string           `json:"name" binding:"required,max=200"`
	Slug           string           `json:"slug" binding:"max=200"`
	Description    string           `json:"description"`
	Price          decimal.Decimal  `json:"price"`
	CompareAtPrice *decimal.Decimal `json:"compareAtPrice"`
	Stock          int              `json:"stock" binding:"min=0"`
	Category       string           `json:"category" binding:"max=100"`
	Images         []string         `json:"images"`
	Tags           []string         `json:"tags"`
	Published      bool             `json:"published"`
	Featured       bool             `json:"featured"`
}

func (b productBody) input() repo.ProductInput {
	return repo.ProductInput{
		Name:           b.Name,
		Slug:           b.Slug,
		Description:    b.Description,
		Price:          b.Price,
		CompareAtPrice: b.CompareAtPrice,
		Stock:          b.Stock,
		Category:       b.Category,
		Images:         b.Images,
		Tags:           b.Tags,
		Published:      b.Published,
		Featured:       b.Featured,
	}
}

func adminListProductsHandler(opts Options) gin.HandlerFunc {
	return func(c *gin.Context) {
		products, err := opts.Repos.Products.List(c.Request.Context(), repo.ProductFilter{
			Category: strings.TrimSpace(c.Query("category")),
			Search:   strings.TrimSpace(c.Query("search")),
			Limit:    queryInt(c, "limit", 50),
			Offset:   queryInt(c, "offset", 0),
		})
		if err != nil {
			envelope.FromError(c, err)
			return
		}
		envelope.OK(c, gin.H{"products": products})
	}
}

func adminCreateProductHandler(opts Options) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req productBody
		if !bindJSON(c, &req) || !checkCSRF(c, opts, req.CSRFToken) {
			return
		}
		p, err := opts.Repos.Products.Create(c.Request.Context(), req.input())
		if err != nil {
			envelope.FromError(c, err)
			return
		}
		audit(c, opts, "product.created", p.ID, map[string]any{"name": p.Name})
		envelope.OK(c, gin.H{"product": p, "message": "Product created successfully"}, http.StatusCreated)
	}
}

func adminGetProductHandler(opts Options) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, err := opts.Repos.Products.Get(c.Request.Context(), c.Param("id"))
		if err != nil {
			notFoundAs(c, err, msgProductNotFound)
			return
		}
		envelope.OK(c, gin.H{"product": p})
	}
}

func adminUpdateProductHandler(opts Options) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req productBody
		if !bindJSON(c, &req) || !checkCSRF(c, opts, req.CSRFToken) {
			return
		}
		p, err := opts.Repos.Products.Update(c.Request.Context(), c.Param("id"), req.input())
		if err != nil {
			notFoundAs(c, err, msgProductNotFound)
			return
		}
		audit(c, opts, "product.updated", p.ID, nil)
		envelope.OK(c, gin.H{"product": p, "message": "Product updated successfully"})
	}
}

func adminDeleteProductHandler(opts Options) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !checkCSRF(c, opts, "") {
			return
		}
		id := c.Param("id")
		if err := opts.Repos.Products.Delete(c.Request.Context(), id); err != nil {
			notFoundAs(c, err, msgProductNotFound)
			return
		}
		audit(c, opts, "product.deleted", id, nil)
		envelope.OK(c, gin.H{"success": true, "message": "Product deleted successfully"})
	}
}
