package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"storefront/internal/apperr"
	"storefront/internal/docstore"
)

const maxCartQuantity = 99

type CartItem struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

// Cart 的 id 为用户 id 或访客 cart_id。
type Cart struct {
	ID        string     `json:"id"`
	Items     []CartItem `json:"items"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

type Carts struct {
	st  docstore.Store
	now func() time.Time
}

func (r *Carts) Get(ctx context.Context, id string) (Cart, error) {
	d, err := r.st.Get(ctx, docstore.CollCarts, id)
	if errors.Is(err, docstore.ErrNotFound) {
		return Cart{ID: id, Items: []CartItem{}}, nil
	}
	if err != nil {
		return Cart{}, fmt.Errorf("读取购物车失败: %w", err)
	}
	var c Cart
	if err := d.Decode(&c); err != nil {
		return Cart{}, err
	}
	c.ID = d.ID
	if c.Items == nil {
		c.Items = []CartItem{}
	}
	return c, nil
}

func (r *Carts) save(ctx context.Context, c Cart) (Cart, error) {
	c.UpdatedAt = r.now()
	if err := r.st.Set(ctx, docstore.CollCarts, c.ID, c); err != nil {
		return Cart{}, fmt.Errorf("保存购物车失败: %w", err)
	}
	return c, nil
}

// SetItem 设置商品数量；quantity<=0 表示移除。
func (r *Carts) SetItem(ctx context.Context, id, productID string, quantity int) (Cart, error) {
	if quantity > maxCartQuantity {
		return Cart{}, apperr.Validation("Quantity too large", map[string]any{"max": maxCartQuantity})
	}
	c, err := r.Get(ctx, id)
	if err != nil {
		return Cart{}, err
	}
	items := c.Items[:0]
	found := false
	for _, it := range c.Items {
		if it.ProductID == productID {
			found = true
			if quantity <= 0 {
				continue
			}
			it.Quantity = quantity
		}
		items = append(items, it)
	}
	if !found && quantity > 0 {
		items = append(items, CartItem{ProductID: productID, Quantity: quantity})
	}
	c.Items = items
	return r.save(ctx, c)
}

// AddItem 在现有数量上累加。
func (r *Carts) AddItem(ctx context.Context, id, productID string, quantity int) (Cart, error) {
	if quantity <= 0 {
		return Cart{}, apperr.Validation("Quantity must be positive", nil)
	}
	c, err := r.Get(ctx, id)
	if err != nil {
		return Cart{}, err
	}
	for _, it := range c.Items {
		if it.ProductID == productID {
			quantity += it.Quantity
			break
		}
	}
	return r.SetItem(ctx, id, productID, quantity)
}

func (r *Carts) Clear(ctx context.Context, id string) error {
	return r.st.Delete(ctx, docstore.CollCarts, id)
}

// Merge 把访客购物车并入用户购物车并删除访客购物车。
func (r *Carts) Merge(ctx context.Context, guestID, userID string) (Cart, error) {
	if guestID == "" || guestID == userID {
		return r.Get(ctx, userID)
	}
	guest, err := r.Get(ctx, guestID)
	if err != nil {
		return Cart{}, err
	}
	user, err := r.Get(ctx, userID)
	if err != nil {
		return Cart{}, err
	}
	if len(guest.Items) == 0 {
		return user, nil
	}
	idx := make(map[string]int, len(user.Items))
	for i, it := range user.Items {
		idx[it.ProductID] = i
	}
	for _, it := range guest.Items {
		if i, ok := idx[it.ProductID]; ok {
			user.Items[i].Quantity = min(user.Items[i].Quantity+it.Quantity, maxCartQuantity)
			continue
		}
		idx[it.ProductID] = len(user.Items)
		user.Items = append(user.Items, it)
	}
	user, err = r.save(ctx, user)
	if err != nil {
		return Cart{}, err
	}
	_ = r.Clear(ctx, guestID)
	return user, nil
}
