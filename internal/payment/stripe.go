package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/paymentintent"
	stripeWebhook "github.com/stripe/stripe-go/v81/webhook"
	"github.com/tidwall/gjson"
)

var ErrInvalidSignature = errors.New("支付回调验签失败")

type Stripe struct {
	intents       paymentintent.Client
	webhookSecret string
	currency      string
}

// NewStripe 创建 Stripe 客户端；backend 为 nil 时使用默认 API 后端。
func NewStripe(secretKey, webhookSecret, currency string, backend stripe.Backend) (*Stripe, error) {
	secretKey = strings.TrimSpace(secretKey)
	if secretKey == "" {
		return nil, errors.New("stripe secret_key 不能为空")
	}
	if backend == nil {
		backend = stripe.GetBackend(stripe.APIBackend)
	}
	currency = strings.ToLower(strings.TrimSpace(currency))
	if currency == "" {
		currency = "usd"
	}
	return &Stripe{
		intents:       paymentintent.Client{B: backend, Key: secretKey},
		webhookSecret: strings.TrimSpace(webhookSecret),
		currency:      currency,
	}, nil
}

func (s *Stripe) Currency() string { return s.currency }

type Intent struct {
	ID           string
	ClientSecret string
}

// CreateIntent 为订单创建 PaymentIntent，订单 id 写入 metadata.order_id。
func (s *Stripe) CreateIntent(ctx context.Context, orderID string, amount decimal.Decimal, email string) (Intent, error) {
	minor, err := ToMinorUnits(amount, s.currency)
	if err != nil {
		return Intent{}, err
	}
	if minor <= 0 {
		return Intent{}, errors.New("支付金额必须大于 0")
	}
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(minor),
		Currency: stripe.String(s.currency),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	if email != "" {
		params.ReceiptEmail = stripe.String(email)
	}
	params.Context = ctx
	params.AddMetadata("order_id", orderID)
	params.SetIdempotencyKey("order-" + orderID)

	pi, err := s.intents.New(params)
	if err != nil {
		return Intent{}, fmt.Errorf("创建 Stripe PaymentIntent 失败: %w", err)
	}
	return Intent{ID: pi.ID, ClientSecret: pi.ClientSecret}, nil
}

type StripeEvent struct {
	ID       string
	Type     stripe.EventType
	IntentID string
	OrderID  string
	Amount   int64
	Currency string
	// FailureMessage 仅在 payment_intent.payment_failed 时有值。
	FailureMessage string
}

func (e StripeEvent) Succeeded() bool { return e.Type == stripe.EventTypePaymentIntentSucceeded }
func (e StripeEvent) Failed() bool    { return e.Type == stripe.EventTypePaymentIntentPaymentFailed }

// ParseWebhook 校验 Stripe-Signature 并提取 PaymentIntent 字段。
func (s *Stripe) ParseWebhook(payload []byte, signature string) (StripeEvent, error) {
	if s.webhookSecret == "" {
		return StripeEvent{}, errors.New("stripe webhook_secret 未配置")
	}
	event, err := stripeWebhook.ConstructEventWithOptions(payload, signature, s.webhookSecret, stripeWebhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return StripeEvent{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	out := StripeEvent{ID: event.ID, Type: event.Type}
	if event.Data == nil || len(event.Data.Raw) == 0 {
		return out, nil
	}
	obj := gjson.ParseBytes(event.Data.Raw)
	out.IntentID = strings.TrimSpace(obj.Get("id").String())
	out.OrderID = strings.TrimSpace(obj.Get("metadata.order_id").String())
	out.Currency = strings.ToLower(strings.TrimSpace(obj.Get("currency").String()))
	out.Amount = obj.Get("amount_received").Int()
	if out.Amount == 0 {
		out.Amount = obj.Get("amount").Int()
	}
	out.FailureMessage = strings.TrimSpace(obj.Get("last_payment_error.message").String())
	return out, nil
}
