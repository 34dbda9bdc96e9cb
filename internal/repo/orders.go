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

type OrderStatus string

const (
	OrderPending    OrderStatus = "pending"
	OrderPaid       OrderStatus = "paid"
	OrderProcessing OrderStatus = "processing"
	OrderShipped    OrderStatus = "shipped"
	OrderDelivered  OrderStatus = "delivered"
	OrderCancelled  OrderStatus = "cancelled"
	OrderRefunded   OrderStatus = "refunded"
)

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderPending:    {OrderPaid, OrderCancelled},
	OrderPaid:       {OrderProcessing, OrderRefunded, OrderCancelled},
	OrderProcessing: {OrderShipped, OrderCancelled},
	OrderShipped:    {OrderDelivered},
	OrderDelivered:  {OrderRefunded},
}

func ParseOrderStatus(raw string) (OrderStatus, bool) {
	s := OrderStatus(strings.ToLower(strings.TrimSpace(raw)))
	switch s {
	case OrderPending, OrderPaid, OrderProcessing, OrderShipped, OrderDelivered, OrderCancelled, OrderRefunded:
		return s, true
	}
	return "", false
}

func CanTransition(from, to OrderStatus) bool {
	for _, s := range orderTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Counted 表示该状态的订单计入客户消费统计。
func (s OrderStatus) Counted() bool {
	switch s {
	case OrderPaid, OrderProcessing, OrderShipped, OrderDelivered:
		return true
	}
	return false
}

type Address struct {
	Name       string `json:"name,omitempty"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
	Phone      string `json:"phone,omitempty"`
}

type OrderItem struct {
	ProductID string          `json:"productId"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
	Subtotal  decimal.Decimal `json:"subtotal"`
}

type StatusChange struct {
	From OrderStatus `json:"from,omitempty"`
	To   OrderStatus `json:"to"`
	By   string      `json:"by,omitempty"`
	At   time.Time   `json:"at"`
}

type Order struct {
	ID              string          `json:"id"`
	UserID          string          `json:"userId"`
	Email           string          `json:"email"`
	Items           []OrderItem     `json:"items"`
	Subtotal        decimal.Decimal `json:"subtotal"`
	Shipping        decimal.Decimal `json:"shipping"`
	Tax             decimal.Decimal `json:"tax"`
	Total           decimal.Decimal `json:"total"`
	Currency        string          `json:"currency"`
	Status          OrderStatus     `json:"status"`
	PaymentProvider string          `json:"paymentProvider,omitempty"`
	PaymentRef      string          `json:"paymentRef,omitempty"`
	ShippingAddress Address         `json:"shippingAddress"`
	History         []StatusChange  `json:"history,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
	CreatedUnix     int64           `json:"createdUnix"`
	UpdatedAt       time.Time       `json:"updatedAt"`
	PaidAt          *time.Time      `json:"paidAt,omitempty"`
}

type Orders struct {
	st  docstore.Store
	now func() time.Time
}

// Create 写入 pending 订单；Total 由 Items/Shipping/Tax 重新计算。
func (r *Orders) Create(ctx context.Context, o Order) (Order, error) {
	if o.UserID == "" {
		return Order{}, errors.New("订单缺少 userId")
	}
	if len(o.Items) == 0 {
		return Order{}, ErrEmptyCart
	}
	subtotal := decimal.Zero
	for i := range o.Items {
		it := &o.Items[i]
		if it.Quantity <= 0 {
			return Order{}, apperr.Validation("Invalid quantity", map[string]any{"productId": it.ProductID})
		}
		it.Subtotal = it.Price.Mul(decimal.NewFromInt(int64(it.Quantity))).Round(2)
		subtotal = subtotal.Add(it.Subtotal)
	}
	now := r.now()
	o.ID = newID()
	o.Subtotal = subtotal
	o.Total = subtotal.Add(o.Shipping).Add(o.Tax).Round(2)
	o.Status = OrderPending
	o.History = []StatusChange{{To: OrderPending, By: o.UserID, At: now}}
	o.CreatedAt = now
	o.CreatedUnix = now.UnixMilli()
	o.UpdatedAt = now
	if err := r.st.Create(ctx, docstore.CollOrders, o.ID, o); err != nil {
		return Order{}, fmt.Errorf("创建订单失败: %w", err)
	}
	return o, nil
}

func (r *Orders) Get(ctx context.Context, id string) (Order, error) {
	d, err := r.st.Get(ctx, docstore.CollOrders, id)
	if err != nil {
		return Order{}, err
	}
	var o Order
	if err := d.Decode(&o); err != nil {
		return Order{}, err
	}
	o.ID = d.ID
	return o, nil
}

type OrderFilter struct {
	UserID string
	Status OrderStatus
	Limit  int
	Offset int
}

func (r *Orders) List(ctx context.Context, f OrderFilter) ([]Order, error) {
	q := docstore.Query{OrderBy: "createdUnix", Desc: true}
	if f.UserID != "" {
		q.Where = append(q.Where, docstore.Where("userId", docstore.OpEq, f.UserID))
	}
	if f.Status != "" {
		q.Where = append(q.Where, docstore.Where("status", docstore.OpEq, string(f.Status)))
	}
	if f.Limit > 0 {
		q.Limit = clampLimit(f.Limit, 50, 500)
		q.Offset = f.Offset
	}
	docs, err := r.st.Query(ctx, docstore.CollOrders, q)
	if err != nil {
		return nil, fmt.Errorf("查询订单失败: %w", err)
	}
	out := make([]Order, 0, len(docs))
	for _, d := range docs {
		var o Order
		if err := d.Decode(&o); err != nil {
			return nil, err
		}
		o.ID = d.ID
		out = append(out, o)
	}
	return out, nil
}

func (r *Orders) SetPayment(ctx context.Context, id string, provider string, ref string) error {
	return r.st.Update(ctx, docstore.CollOrders, id, map[string]any{
		"paymentProvider": provider,
		"paymentRef":      ref,
		"updatedAt":       r.now(),
	})
}

// Transition 按状态机推进订单状态；非法流转返回 ErrInvalidTransition。
func (r *Orders) Transition(ctx context.Context, id string, to OrderStatus, by string) (Order, error) {
	o, err := r.Get(ctx, id)
	if err != nil {
		return Order{}, err
	}
	if !CanTransition(o.Status, to) {
		return Order{}, ErrInvalidTransition
	}
	now := r.now()
	o.History = append(o.History, StatusChange{From: o.Status, To: to, By: by, At: now})
	patch := map[string]any{
		"status":    string(to),
		"history":   o.History,
		"updatedAt": now,
	}
	if to == OrderPaid {
		patch["paidAt"] = now
		o.PaidAt = &now
	}
	if err := r.st.Update(ctx, docstore.CollOrders, id, patch); err != nil {
		return Order{}, fmt.Errorf("更新订单状态失败: %w", err)
	}
	o.Status = to
	o.UpdatedAt = now
	return o, nil
}

// MarkPaid 幂等地把 pending 订单置为 paid；已支付（或之后状态）返回 changed=false。
func (r *Orders) MarkPaid(ctx context.Context, id string, provider string, ref string) (Order, bool, error) {
	o, err := r.Get(ctx, id)
	if err != nil {
		return Order{}, false, err
	}
	if o.Status != OrderPending {
		if o.Status.Counted() || o.Status == OrderRefunded {
			return o, false, nil
		}
		return o, false, ErrInvalidTransition
	}
	if ref != "" && o.PaymentRef != "" && o.PaymentRef != ref {
		return o, false, fmt.Errorf("支付单号不一致: %s != %s", ref, o.PaymentRef)
	}
	if o.PaymentRef == "" && ref != "" {
		if err := r.SetPayment(ctx, id, provider, ref); err != nil {
			return o, false, err
		}
		o.PaymentProvider, o.PaymentRef = provider, ref
	}
	o, err = r.Transition(ctx, id, OrderPaid, provider)
	if err != nil {
		return Order{}, false, err
	}
	return o, true, nil
}

func (r *Orders) FindByPaymentRef(ctx context.Context, provider, ref string) (Order, error) {
	docs, err := r.st.Query(ctx, docstore.CollOrders, docstore.Query{
		Where: []docstore.Filter{
			docstore.Where("paymentProvider", docstore.OpEq, provider),
			docstore.Where("paymentRef", docstore.OpEq, ref),
		},
		Limit: 1,
	})
	if err != nil {
		return Order{}, fmt.Errorf("查询订单失败: %w", err)
	}
	if len(docs) == 0 {
		return Order{}, docstore.ErrNotFound
	}
	var o Order
	if err := docs[0].Decode(&o); err != nil {
		return Order{}, err
	}
	o.ID = docs[0].ID
	return o, nil
}
