package payment

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const paypalMaxResponseBytes = 1 << 20

// PayPal 是 Orders v2 REST 客户端，访问令牌由 clientcredentials 自动获取与刷新。
type PayPal struct {
	baseURL   string
	webhookID string
	http      *http.Client
}

type PayPalOptions struct {
	ClientID     string
	ClientSecret string
	BaseURL      string
	WebhookID    string
	// HTTPClient 用于获取令牌的底层客户端（测试注入）；为空时使用默认客户端。
	HTTPClient *http.Client
}

func NewPayPal(ctx context.Context, opts PayPalOptions) (*PayPal, error) {
	if strings.TrimSpace(opts.ClientID) == "" || strings.TrimSpace(opts.ClientSecret) == "" {
		return nil, errors.New("paypal client_id/client_secret 不能为空")
	}
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		base = "https://api-m.sandbox.paypal.com"
	}
	cc := clientcredentials.Config{
		ClientID:     strings.TrimSpace(opts.ClientID),
		ClientSecret: strings.TrimSpace(opts.ClientSecret),
		TokenURL:     base + "/v1/oauth2/token",
	}
	if opts.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, opts.HTTPClient)
	}
	return &PayPal{
		baseURL:   base,
		webhookID: strings.TrimSpace(opts.WebhookID),
		http:      cc.Client(ctx),
	}, nil
}

func (p *PayPal) do(ctx context.Context, method, path string, body []byte) (gjson.Result, int, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, rd)
	if err != nil {
		return gjson.Result{}, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	resp, err := p.http.Do(req)
	if err != nil {
		return gjson.Result{}, 0, fmt.Errorf("请求 PayPal 失败: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, paypalMaxResponseBytes))
	if err != nil {
		return gjson.Result{}, resp.StatusCode, fmt.Errorf("读取 PayPal 响应失败: %w", err)
	}
	res := gjson.ParseBytes(raw)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := res.Get("message").String()
		if msg == "" {
			msg = res.Get("error_description").String()
		}
		return res, resp.StatusCode, fmt.Errorf("PayPal 返回 %d: %s", resp.StatusCode, msg)
	}
	return res, resp.StatusCode, nil
}

type PayPalOrder struct {
	ID         string
	Status     string
	ApproveURL string
}

// CreateOrder 创建 intent=CAPTURE 的订单；reference_id 与 custom_id 均为本地订单 id。
func (p *PayPal) CreateOrder(ctx context.Context, orderID string, amount decimal.Decimal, currency, returnURL, cancelURL string) (PayPalOrder, error) {
	body := []byte(`{"intent":"CAPTURE"}`)
	var err error
	for _, kv := range []struct {
		path  string
		value any
	}{
		{"purchase_units.0.reference_id", orderID},
		{"purchase_units.0.custom_id", orderID},
		{"purchase_units.0.amount.currency_code", strings.ToUpper(currency)},
		{"purchase_units.0.amount.value", FormatAmount(amount, currency)},
		{"application_context.return_url", returnURL},
		{"application_context.cancel_url", cancelURL},
		{"application_context.user_action", "PAY_NOW"},
	} {
		if body, err = sjson.SetBytes(body, kv.path, kv.value); err != nil {
			return PayPalOrder{}, err
		}
	}
	res, _, err := p.do(ctx, http.MethodPost, "/v2/checkout/orders", body)
	if err != nil {
		return PayPalOrder{}, err
	}
	out := PayPalOrder{
		ID:         res.Get("id").String(),
		Status:     res.Get("status").String(),
		ApproveURL: res.Get(`links.#(rel=="approve").href`).String(),
	}
	if out.ID == "" {
		return PayPalOrder{}, errors.New("PayPal 响应缺少订单 id")
	}
	return out, nil
}

type PayPalCapture struct {
	Status      string
	CaptureID   string
	ReferenceID string
	Amount      decimal.Decimal
	Currency    string
}

func (c PayPalCapture) Completed() bool { return c.Status == "COMPLETED" }

// Capture 捕获已批准的订单。重复捕获时 PayPal 返回 422 ORDER_ALREADY_CAPTURED，此时回查订单状态。
func (p *PayPal) Capture(ctx context.Context, paypalOrderID string) (PayPalCapture, error) {
	res, code, err := p.do(ctx, http.MethodPost, "/v2/checkout/orders/"+paypalOrderID+"/capture", []byte(`{}`))
	if err != nil {
		if code == http.StatusUnprocessableEntity && res.Get(`details.#(issue=="ORDER_ALREADY_CAPTURED")`).Exists() {
			res, _, err = p.do(ctx, http.MethodGet, "/v2/checkout/orders/"+paypalOrderID, nil)
		}
		if err != nil {
			return PayPalCapture{}, err
		}
	}
	unit := res.Get("purchase_units.0")
	capture := unit.Get("payments.captures.0")
	out := PayPalCapture{
		Status:      res.Get("status").String(),
		CaptureID:   capture.Get("id").String(),
		ReferenceID: unit.Get("reference_id").String(),
		Currency:    strings.ToLower(capture.Get("amount.currency_code").String()),
	}
	if v := capture.Get("amount.value").String(); v != "" {
		if d, err := decimal.NewFromString(v); err == nil {
			out.Amount = d
		}
	}
	return out, nil
}

// VerifyWebhook 调用 verify-webhook-signature 接口校验回调。
func (p *PayPal) VerifyWebhook(ctx context.Context, h http.Header, payload []byte) error {
	if p.webhookID == "" {
		return errors.New("paypal webhook_id 未配置")
	}
	if !gjson.ValidBytes(payload) {
		return ErrInvalidSignature
	}
	body := []byte(`{}`)
	var err error
	for _, kv := range [][2]string{
		{"auth_algo", h.Get("Paypal-Auth-Algo")},
		{"cert_url", h.Get("Paypal-Cert-Url")},
		{"transmission_id", h.Get("Paypal-Transmission-Id")},
		{"transmission_sig", h.Get("Paypal-Transmission-Sig")},
		{"transmission_time", h.Get("Paypal-Transmission-Time")},
		{"webhook_id", p.webhookID},
	} {
		if kv[1] == "" {
			return ErrInvalidSignature
		}
		if body, err = sjson.SetBytes(body, kv[0], kv[1]); err != nil {
			return err
		}
	}
	if body, err = sjson.SetRawBytes(body, "webhook_event", payload); err != nil {
		return err
	}
	res, _, err := p.do(ctx, http.MethodPost, "/v1/notifications/verify-webhook-signature", body)
	if err != nil {
		return err
	}
	if res.Get("verification_status").String() != "SUCCESS" {
		return ErrInvalidSignature
	}
	return nil
}

type PayPalEvent struct {
	ID            string
	Type          string
	PayPalOrderID string
	OrderID       string
	CaptureID     string
	Amount        decimal.Decimal
}

func (e PayPalEvent) CaptureCompleted() bool { return e.Type == "PAYMENT.CAPTURE.COMPLETED" }

func ParsePayPalEvent(payload []byte) PayPalEvent {
	ev := gjson.ParseBytes(payload)
	res := ev.Get("resource")
	out := PayPalEvent{
		ID:            ev.Get("id").String(),
		Type:          ev.Get("event_type").String(),
		PayPalOrderID: res.Get("supplementary_data.related_ids.order_id").String(),
		OrderID:       res.Get("custom_id").String(),
		CaptureID:     res.Get("id").String(),
	}
	if d, err := decimal.NewFromString(res.Get("amount.value").String()); err == nil {
		out.Amount = d
	}
	return out
}
