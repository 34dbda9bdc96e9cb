package router

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"storefront/internal/access"
	"storefront/internal/envelope"
	"storefront/internal/repo"
)

func setCartAPIRoutes(r *gin.RouterGroup, opts Options) {
	g := r.Group("/cart", requireAccess(opts, access.Public))
	g.GET("", getCartHandler(opts))
	g.POST("/items", addCartItemHandler(opts))
	g.PUT("/items/:productId", setCartItemHandler(opts))
	g.DELETE("/items/:productId", removeCartItemHandler(opts))
}

type cartLine struct {
	ProductID string          `json:"productId"`
	Quantity  int             `json:"quantity"`
	Name      string          `json:"name"`
	Slug      string          `json:"slug,omitempty"`
	Image     string          `json:"image,omitempty"`
	Price     decimal.Decimal `json:"price"`
	Subtotal  decimal.Decimal `json:"subtotal"`
	Available bool            `json:"available"`
}

type cartView struct {
	ID       string          `json:"id"`
	Items    []cartLine      `json:"items"`
	Subtotal decimal.Decimal `json:"subtotal"`
}

// buildCartView 以商品当前价格展示购物车；下架或已删除的商品标记为不可购买。
func buildCartView(ctx context.Context, opts Options, cart repo.Cart) (cartView, error) {
	out := cartView{ID: cart.ID, Items: make([]cartLine, 0, len(cart.Items)), Subtotal: decimal.Zero}
	for _, it := range cart.Items {
		line := cartLine{ProductID: it.ProductID, Quantity: it.Quantity, Price: decimal.Zero, Subtotal: decimal.Zero}
		p, err := opts.Repos.Products.Get(ctx, it.ProductID)
		switch {
		case err == nil:
			line.Name = p.Name
			line.Slug = p.Slug
			if len(p.Images) > 0 {
				line.Image = p.Images[0]
			}
			line.Price = p.Price
			line.Available = p.Published && p.Stock >= it.Quantity
			line.Subtotal = p.Price.Mul(decimal.NewFromInt(int64(it.Quantity)))
			if p.Published {
				out.Subtotal = out.Subtotal.Add(line.Subtotal)
			}
		case repo.IsNotFound(err):
		default:
			return cartView{}, err
		}
		out.Items = append(out.Items, line)
	}
	return out, nil
}

func respondCart(c *gin.Context, opts Options, cart repo.Cart) {
	view, err := buildCartView(c.Request.Context(), opts, cart)
	if err != nil {
		envelope.FromError(c, err)
		return
	}
	envelope.OK(c, gin.H{"cart": view})
}

func getCartHandler(opts Options) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := cartID(c, false)
		if id == "" {
			envelope.OK(c, gin.H{"cart": cartView{Items: []cartLine{}, Subtotal: decimal.Zero}})
			return
		}
		cart, err := opts.Repos.Carts.Get(c.Request.Context(), id)
		if err != nil {
			envelope.FromError(c, err)
			return
		}
		respondCart(c, opts, cart)
	}
}

// purchasable 校验商品可加入购物车；失败时已写出响应。
func purchasable(c *gin.Context, opts Options, productID string, quantity int) bool {
	p, err := opts.Repos.Products.Get(c.Request.Context(), productID)
	if err != nil || !p.Published {
		if err == nil || repo.IsNotFound(err) {
			envelope.Error(c, msgProductNotFound, http.StatusNotFound)
			return false
		}
		envelope.FromError(c, err)
		return false
	}
	if quantity > p.Stock {
		envelope.Error(c, repo.ErrInsufficientStock.Message, http.StatusBadRequest, map[string]any{"available": p.Stock})
		return false
	}
	return true
}

func addCartItemHandler(opts Options) gin.HandlerFunc {
	type reqBody struct {
		csrfField
		ProductID string `json:"productId" binding:"required"`
		Quantity  int    `json:"quantity" binding:"required,min=1"`
	}
	return func(c *gin.Context) {
		var req reqBody
		if !bindJSON(c, &req) || !checkCSRF(c, opts, req.CSRFToken) {
			return
		}
		ctx := c.Request.Context()
		id := cartID(c, true)
		cur, err := opts.Repos.Carts.Get(ctx, id)
		if err != nil {
			envelope.FromError(c, err)
			return
		}
		want := req.Quantity
		for _, it := range cur.Items {
			if it.ProductID == req.ProductID {
				want += it.Quantity
			}
		}
		if !purchasable(c, opts, req.ProductID, want) {
			return
		}
		cart, err := opts.Repos.Carts.AddItem(ctx, id, req.ProductID, req.Quantity)
		if err != nil {
			envelope.FromError(c, err)
			return
		}
		respondCart(c, opts, cart)
	}
}

func setCartItemHandler(opts Options) gin.HandlerFunc {
	type reqBody struct {
		csrfField
		Quantity int `json:"quantity" binding:"min=0"`
	}
	return func(c *gin.Context) {
		var req reqBody
		if !bindJSON(c, &req) || !checkCSRF(c, opts, req.CSRFToken) {
			return
		}
		productID := c.Param("productId")
		if req.Quantity > 0 && !purchasable(c, opts, productID, req.Quantity) {
			return
		}
		cart, err := opts.Repos.Carts.SetItem(c.Request.Context(), cartID(c, true), productID, req.Quantity)
		if err != nil {
			envelope.FromError(c, err)
			return
		}
		respondCart(c, opts, cart)
	}
}

func removeCartItemHandler(opts Options) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !checkCSRF(c, opts, "") {
			return
		}
		cart, err := opts.Repos.Carts.SetItem(c.Request.Context(), cartID(c, true), c.Param("productId"), 0)
		if err != nil {
			envelope.FromError(c, err)
			return
		}
		respondCart(c, opts, cart)
	}
}
