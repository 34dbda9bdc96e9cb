// Package checkout 把购物车转成订单，并在支付渠道确认后推进订单与客户统计。
package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"storefront/internal/apperr"
	"storefront/internal/payment"
	"storefront/internal/repo"
)

var (
	ErrProviderDisabled = apperr.Validation("Payment provider is not available", nil)
	ErrOrderNotPayable  = apperr.Validation("Order cannot be paid", nil)
)

// StripeGateway 与 PayPalGateway 便于在测试中替换真实渠道。
type StripeGateway interface {
	Currency() string
	CreateIntent(ctx context.Context, orderID string, amount decimal.Decimal, email string) (payment.Intent, error)
}

type PayPalGateway interface {
	CreateOrder(ctx context.Context, orderID string, amount decimal.Decimal, currency, returnURL, cancelURL string) (payment.PayPalOrder, error)
	Capture(ctx context.Context, paypalOrderID string) (payment.PayPalCapture, error)
}

type EPayGateway interface {
	Purchase(orderID, name string, amount decimal.Decimal, payType, notifyURL, returnURL string) (payment.EPayPurchase, error)
}

type Service struct {
	repos  *repo.Repos
	stripe StripeGateway
	paypal PayPalGateway
	epay   EPayGateway
	logger *slog.Logger
}

// Options 中未配置的渠道必须是 nil 接口。
type Options struct {
	Stripe StripeGateway
	PayPal PayPalGateway
	EPay   EPayGateway
	Logger *slog.Logger
}

func New(repos *repo.Repos, opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repos:  repos,
		stripe: opts.Stripe,
		paypal: opts.PayPal,
		epay:   opts.EPay,
		logger: logger,
	}
}

// Providers 返回已配置的支付渠道。
func (s *Service) Providers() []string {
	var out []string
	if s.stripe != nil {
		out = append(out, payment.ProviderStripe)
	}
	if s.paypal != nil {
		out = append(out, payment.ProviderPayPal)
	}
	if s.epay != nil {
		out = append(out, payment.ProviderEPay)
	}
	return out
}

type PlaceOrderInput struct {
	User            repo.User
	CartID          string
	ShippingAddress repo.Address
	Provider        string
	EPayType        string
	// BaseURL 是对外访问地址，用于回跳与异步通知。
	BaseURL string
}

type PlaceOrderResult struct {
	OrderID      string            `json:"orderId"`
	Total        decimal.Decimal   `json:"total"`
	Currency     string            `json:"currency"`
	Provider     string            `json:"provider"`
	ClientSecret string            `json:"clientSecret,omitempty"`
	ApproveURL   string            `json:"approveUrl,omitempty"`
	PayURL       string            `json:"payUrl,omitempty"`
	Params       map[string]string `json:"params,omitempty"`
}

// PlaceOrder 按商品当前价格生成 pending 订单并向支付渠道下单。
// 库存只在此处检查，扣减发生在支付确认时。
func (s *Service) PlaceOrder(ctx context.Context, in PlaceOrderInput) (PlaceOrderResult, error) {
	provider := strings.ToLower(strings.TrimSpace(in.Provider))
	if !s.enabled(provider) {
		return PlaceOrderResult{}, ErrProviderDisabled
	}
	if err := validateAddress(in.ShippingAddress); err != nil {
		return PlaceOrderResult{}, err
	}

	cart, err := s.repos.Carts.Get(ctx, in.CartID)
	if err != nil {
		return PlaceOrderResult{}, err
	}
	if len(cart.Items) == 0 {
		return PlaceOrderResult{}, repo.ErrEmptyCart
	}
	settings, err := s.repos.Settings.Get(ctx)
	if err != nil {
		return PlaceOrderResult{}, err
	}
	if settings.Maintenance {
		return PlaceOrderResult{}, apperr.Validation("Store is in maintenance mode", nil)
	}
	currency := strings.ToLower(settings.Currency)
	if err := s.checkCurrency(provider, currency); err != nil {
		return PlaceOrderResult{}, err
	}

	items := make([]repo.OrderItem, 0, len(cart.Items))
	subtotal := decimal.Zero
	for _, it := range cart.Items {
		p, err := s.repos.Products.Get(ctx, it.ProductID)
		if err != nil {
			if repo.IsNotFound(err) {
				return PlaceOrderResult{}, apperr.Validation("Product is no longer available", map[string]any{"productId": it.ProductID})
			}
			return PlaceOrderResult{}, err
		}
		if !p.Published {
			return PlaceOrderResult{}, apperr.Validation("Product is no longer available", map[string]any{"productId": p.ID})
		}
		if p.Stock < it.Quantity {
			return PlaceOrderResult{}, &apperr.Error{
				Kind:    apperr.KindValidation,
				Message: repo.ErrInsufficientStock.Message,
				Details: map[string]any{"productId": p.ID, "available": p.Stock},
			}
		}
		items = append(items, repo.OrderItem{ProductID: p.ID, Name: p.Name, Price: p.Price, Quantity: it.Quantity})
		subtotal = subtotal.Add(p.Price.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}

	order, err := s.repos.Orders.Create(ctx, repo.Order{
		UserID:          in.User.ID,
		Email:           in.User.Email,
		Items:           items,
		Shipping:        settings.ShippingFor(subtotal),
		Tax:             settings.TaxFor(subtotal),
		Currency:        currency,
		ShippingAddress: in.ShippingAddress,
	})
	if err != nil {
		return PlaceOrderResult{}, err
	}
	if _, err := s.repos.Customers.EnsureForUser(ctx, in.User); err != nil {
		s.logger.WarnContext(ctx, "创建客户档案失败", "user_id", in.User.ID, "err", err)
	}

	res := PlaceOrderResult{OrderID: order.ID, Total: order.Total, Currency: currency, Provider: provider}
	if err := s.startPayment(ctx, order, provider, in, settings.StoreName, &res); err != nil {
		s.abandonOrder(ctx, order, provider, err)
		return PlaceOrderResult{}, err
	}

	if err := s.repos.Carts.Clear(ctx, in.CartID); err != nil {
		s.logger.WarnContext(ctx, "清空购物车失败", "cart_id", in.CartID, "err", err)
	}
	_ = s.repos.Logs.Activity(ctx, repo.LogEntry{
		Action:  "order.placed",
		ActorID: in.User.ID,
		Target:  order.ID,
		Meta:    map[string]any{"total": order.Total.String(), "currency": currency, "provider": provider},
	})
	return res, nil
}

// startPayment 向支付渠道下单并把渠道单号写回订单。
func (s *Service) startPayment(ctx context.Context, order repo.Order, provider string, in PlaceOrderInput, storeName string, res *PlaceOrderResult) error {
	base := strings.TrimRight(in.BaseURL, "/")
	switch provider {
	case payment.ProviderStripe:
		intent, err := s.stripe.CreateIntent(ctx, order.ID, order.Total, order.Email)
		if err != nil {
			return apperr.Upstream("Failed to create payment", err)
		}
		if err := s.repos.Orders.SetPayment(ctx, order.ID, provider, intent.ID); err != nil {
			return err
		}
		res.ClientSecret = intent.ClientSecret
	case payment.ProviderPayPal:
		pp, err := s.paypal.CreateOrder(ctx, order.ID, order.Total, order.Currency,
			base+"/checkout/success?orderId="+order.ID, base+"/checkout/cancel?orderId="+order.ID)
		if err != nil {
			return apperr.Upstream("Failed to create payment", err)
		}
		if err := s.repos.Orders.SetPayment(ctx, order.ID, provider, pp.ID); err != nil {
			return err
		}
		res.ApproveURL = pp.ApproveURL
	case payment.ProviderEPay:
		name := storeName + " #" + shortID(order.ID)
		purchase, err := s.epay.Purchase(order.ID, name, order.Total, in.EPayType,
			base+"/api/webhooks/epay", base+"/checkout/success?orderId="+order.ID)
		if err != nil {
			return apperr.Upstream("Failed to create payment", err)
		}
		if err := s.repos.Orders.SetPayment(ctx, order.ID, provider, ""); err != nil {
			return err
		}
		res.PayURL = purchase.PayURL
		res.Params = purchase.Params
	}
	return nil
}

// abandonOrder 在渠道下单失败后取消刚写入的 pending 订单，避免留下无法支付的订单。
func (s *Service) abandonOrder(ctx context.Context, order repo.Order, provider string, cause error) {
	if _, err := s.repos.Orders.Transition(ctx, order.ID, repo.OrderCancelled, ProviderSystem); err != nil {
		s.logger.ErrorContext(ctx, "取消未支付订单失败", "order_id", order.ID, "err", err)
	}
	s.systemLog(ctx, "warn", "order.payment_init_failed", order.ID, "Payment could not be started; order cancelled",
		map[string]any{"provider": provider, "error": cause.Error()})
}

func (s *Service) enabled(provider string) bool {
	switch provider {
	case payment.ProviderStripe:
		return s.stripe != nil
	case payment.ProviderPayPal:
		return s.paypal != nil
	case payment.ProviderEPay:
		return s.epay != nil
	}
	return false
}

func (s *Service) checkCurrency(provider, currency string) error {
	want := ""
	switch provider {
	case payment.ProviderStripe:
		want = s.stripe.Currency()
	case payment.ProviderEPay:
		want = payment.EPayCurrency
	}
	if want != "" && want != currency {
		return apperr.Validation("Currency not supported by payment provider", map[string]any{"currency": currency})
	}
	return nil
}

func validateAddress(a repo.Address) error {
	missing := []string{}
	if strings.TrimSpace(a.Line1) == "" {
		missing = append(missing, "line1")
	}
	if strings.TrimSpace(a.City) == "" {
		missing = append(missing, "city")
	}
	if strings.TrimSpace(a.PostalCode) == "" {
		missing = append(missing, "postalCode")
	}
	if strings.TrimSpace(a.Country) == "" {
		missing = append(missing, "country")
	}
	if len(missing) > 0 {
		return apperr.Validation("Invalid shipping address", map[string]any{"fields": missing})
	}
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

const (
	// ProviderManual 标记后台手动确认的收款。
	ProviderManual = "manual"
	// ProviderSystem 标记服务自身触发的状态变更。
	ProviderSystem = "system"
)

// UpdateStatus 是后台推进订单状态的入口。手动置为 paid 与回调走同一条路径；
// 已计入统计的订单被取消或退款时归还库存并重算客户统计。
func (s *Service) UpdateStatus(ctx context.Context, orderID string, to repo.OrderStatus, by string) (repo.Order, error) {
	o, err := s.repos.Orders.Get(ctx, orderID)
	if err != nil {
		return repo.Order{}, err
	}
	if to == repo.OrderPaid && o.Status == repo.OrderPending {
		paid, _, err := s.confirm(ctx, o, ProviderManual, "", decimal.Zero, "")
		return paid, err
	}
	updated, err := s.repos.Orders.Transition(ctx, orderID, to, by)
	if err != nil {
		return repo.Order{}, err
	}
	if o.Status.Counted() && !to.Counted() {
		for _, it := range o.Items {
			if err := s.repos.Products.AdjustStock(ctx, it.ProductID, it.Quantity); err != nil {
				s.logger.WarnContext(ctx, "归还库存失败", "order_id", o.ID, "product_id", it.ProductID, "err", err)
			}
		}
		if err := s.refreshCustomer(ctx, o.UserID); err != nil {
			s.logger.WarnContext(ctx, "更新客户统计失败", "user_id", o.UserID, "err", err)
		}
	}
	return updated, nil
}

// CapturePayPal 在买家批准后捕获 PayPal 订单。只能捕获自己的订单。
func (s *Service) CapturePayPal(ctx context.Context, userID, orderID string) (repo.Order, error) {
	if s.paypal == nil {
		return repo.Order{}, ErrProviderDisabled
	}
	o, err := s.repos.Orders.Get(ctx, orderID)
	if err != nil {
		return repo.Order{}, err
	}
	if o.UserID != userID {
		return repo.Order{}, repo.ErrNotFound
	}
	if o.PaymentProvider != payment.ProviderPayPal || o.PaymentRef == "" {
		return repo.Order{}, ErrOrderNotPayable
	}
	if o.Status != repo.OrderPending {
		return o, nil
	}
	capture, err := s.paypal.Capture(ctx, o.PaymentRef)
	if err != nil {
		return repo.Order{}, apperr.Upstream("Failed to capture payment", err)
	}
	if !capture.Completed() {
		return repo.Order{}, apperr.Validation("Payment not completed", map[string]any{"status": capture.Status})
	}
	paid, _, err := s.confirm(ctx, o, payment.ProviderPayPal, o.PaymentRef, capture.Amount, capture.Currency)
	return paid, err
}

// Outcome 是支付回调的处理结果，用于指标与日志。
type Outcome string

const (
	OutcomePaid      Outcome = "paid"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeIgnored   Outcome = "ignored"
	OutcomeFailed    Outcome = "payment_failed"
	OutcomeMismatch  Outcome = "amount_mismatch"
)

var errAmountMismatch = errors.New("支付金额与订单不一致")

// confirm 校验金额后幂等地标记已支付，并更新库存与客户统计。
func (s *Service) confirm(ctx context.Context, o repo.Order, provider, ref string, amount decimal.Decimal, currency string) (repo.Order, Outcome, error) {
	if currency != "" && !strings.EqualFold(currency, o.Currency) {
		return o, OutcomeMismatch, errAmountMismatch
	}
	if !amount.IsZero() && !amount.Round(2).Equal(o.Total.Round(2)) {
		return o, OutcomeMismatch, errAmountMismatch
	}
	paid, changed, err := s.repos.Orders.MarkPaid(ctx, o.ID, provider, ref)
	if err != nil {
		return o, "", err
	}
	if !changed {
		return paid, OutcomeDuplicate, nil
	}
	for _, it := range paid.Items {
		err := s.repos.Products.AdjustStock(ctx, it.ProductID, -it.Quantity)
		switch {
		case errors.Is(err, repo.ErrInsufficientStock):
			// 下单时检查过库存，并发支付仍可能超卖；库存保持不变，留给后台处理。
			s.systemLog(ctx, "warn", "inventory.oversold", it.ProductID, "Paid order exceeds available stock",
				map[string]any{"orderId": paid.ID, "quantity": it.Quantity})
		case err != nil:
			s.logger.WarnContext(ctx, "扣减库存失败", "order_id", paid.ID, "product_id", it.ProductID, "err", err)
		}
	}
	if err := s.refreshCustomer(ctx, paid.UserID); err != nil {
		s.logger.WarnContext(ctx, "更新客户统计失败", "user_id", paid.UserID, "err", err)
	}
	_ = s.repos.Logs.Activity(ctx, repo.LogEntry{
		Action:  "order.paid",
		ActorID: paid.UserID,
		Target:  paid.ID,
		Meta:    map[string]any{"provider": provider, "ref": ref},
	})
	return paid, OutcomePaid, nil
}

// refreshCustomer 在订单写入之后全量重算客户统计。
func (s *Service) refreshCustomer(ctx context.Context, userID string) error {
	if _, err := s.repos.Customers.Get(ctx, userID); err != nil {
		if !repo.IsNotFound(err) {
			return err
		}
		u, err := s.repos.Users.Get(ctx, userID)
		if err != nil {
			return err
		}
		if _, err := s.repos.Customers.EnsureForUser(ctx, u); err != nil {
			return err
		}
	}
	_, err := s.repos.Customers.RecalculateStats(ctx, s.repos.Orders, userID)
	return err
}

// HandleStripeEvent 处理已验签的 Stripe 事件。
func (s *Service) HandleStripeEvent(ctx context.Context, ev payment.StripeEvent) (Outcome, error) {
	switch {
	case ev.Succeeded():
		o, err := s.findOrder(ctx, payment.ProviderStripe, ev.OrderID, ev.IntentID)
		if err != nil {
			if repo.IsNotFound(err) {
				return OutcomeIgnored, nil
			}
			return "", err
		}
		amount := payment.FromMinorUnits(ev.Amount, ev.Currency)
		_, outcome, err := s.confirm(ctx, o, payment.ProviderStripe, ev.IntentID, amount, ev.Currency)
		if errors.Is(err, errAmountMismatch) {
			s.systemLog(ctx, "warn", "payment.amount_mismatch", o.ID, "Stripe amount does not match order total", map[string]any{"event": ev.ID})
			return outcome, nil
		}
		return outcome, err
	case ev.Failed():
		target := ev.OrderID
		if target == "" {
			target = ev.IntentID
		}
		s.systemLog(ctx, "warn", "payment.failed", target, ev.FailureMessage, map[string]any{"event": ev.ID, "provider": payment.ProviderStripe})
		return OutcomeFailed, nil
	}
	return OutcomeIgnored, nil
}

// HandlePayPalEvent 处理已验签的 PayPal 事件，仅关心 PAYMENT.CAPTURE.COMPLETED。
func (s *Service) HandlePayPalEvent(ctx context.Context, ev payment.PayPalEvent) (Outcome, error) {
	if !ev.CaptureCompleted() {
		return OutcomeIgnored, nil
	}
	o, err := s.findOrder(ctx, payment.ProviderPayPal, ev.OrderID, ev.PayPalOrderID)
	if err != nil {
		if repo.IsNotFound(err) {
			return OutcomeIgnored, nil
		}
		return "", err
	}
	ref := o.PaymentRef
	if ref == "" {
		ref = ev.PayPalOrderID
	}
	_, outcome, err := s.confirm(ctx, o, payment.ProviderPayPal, ref, ev.Amount, "")
	if errors.Is(err, errAmountMismatch) {
		s.systemLog(ctx, "warn", "payment.amount_mismatch", o.ID, "PayPal amount does not match order total", map[string]any{"event": ev.ID})
		return outcome, nil
	}
	return outcome, err
}

// HandleEPayNotify 处理已验签的 EPay 异步通知。
func (s *Service) HandleEPayNotify(ctx context.Context, n payment.EPayNotify) (Outcome, error) {
	if !n.Success {
		return OutcomeIgnored, nil
	}
	o, err := s.repos.Orders.Get(ctx, n.OrderID)
	if err != nil {
		if repo.IsNotFound(err) {
			return OutcomeIgnored, nil
		}
		return "", err
	}
	if o.PaymentProvider != payment.ProviderEPay {
		return OutcomeIgnored, nil
	}
	_, outcome, err := s.confirm(ctx, o, payment.ProviderEPay, n.TradeNo, n.Money, "")
	if errors.Is(err, errAmountMismatch) {
		s.systemLog(ctx, "warn", "payment.amount_mismatch", o.ID, "EPay amount does not match order total", map[string]any{"tradeNo": n.TradeNo})
		return outcome, nil
	}
	return outcome, err
}

// findOrder 优先按 metadata 中的订单 ID 查找，其次按渠道单号。
func (s *Service) findOrder(ctx context.Context, provider, orderID, ref string) (repo.Order, error) {
	if orderID != "" {
		o, err := s.repos.Orders.Get(ctx, orderID)
		if err == nil {
			if o.PaymentProvider != "" && o.PaymentProvider != provider {
				return repo.Order{}, repo.ErrNotFound
			}
			return o, nil
		}
		if !repo.IsNotFound(err) {
			return repo.Order{}, err
		}
	}
	if ref == "" {
		return repo.Order{}, repo.ErrNotFound
	}
	o, err := s.repos.Orders.FindByPaymentRef(ctx, provider, ref)
	if err != nil {
		return repo.Order{}, err
	}
	return o, nil
}

func (s *Service) systemLog(ctx context.Context, level, action, target, msg string, meta map[string]any) {
	if err := s.repos.Logs.System(ctx, repo.LogEntry{Level: level, Action: action, Target: target, Message: msg, Meta: meta}); err != nil {
		s.logger.ErrorContext(ctx, "写入系统日志失败", "action", action, "err", fmt.Sprint(err))
	}
}
