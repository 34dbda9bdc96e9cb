package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"

	"storefront/internal/checkout"
	"storefront/internal/middleware"
	"storefront/internal/obs"
	"storefront/internal/payment"
)

func writeWebhookJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func webhookError(w http.ResponseWriter, status int, msg string) {
	writeWebhookJSON(w, status, map[string]string{"error": msg})
}

// finishWebhook 统一记录结果。处理失败返回 500，让渠道按自身策略重试；重复投递由订单状态机保证幂等。
func (a *App) finishWebhook(w http.ResponseWriter, r *http.Request, provider string, outcome checkout.Outcome, err error) {
	if err != nil {
		obs.RecordWebhook(provider, "error")
		a.logger.ErrorContext(r.Context(), "支付回调处理失败", "provider", provider, "err", err)
		webhookError(w, http.StatusInternalServerError, "Webhook processing failed")
		return
	}
	obs.RecordWebhook(provider, string(outcome))
	a.logger.InfoContext(r.Context(), "支付回调已处理", "provider", provider, "outcome", string(outcome))
	writeWebhookJSON(w, http.StatusOK, map[string]any{"received": true, "outcome": outcome})
}

func (a *App) handleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	if a.stripe == nil {
		webhookError(w, http.StatusNotFound, "Not found")
		return
	}
	payload := middleware.CachedBody(r.Context())
	if len(payload) == 0 {
		webhookError(w, http.StatusBadRequest, "Empty request body")
		return
	}
	ev, err := a.stripe.ParseWebhook(payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		obs.RecordWebhook(payment.ProviderStripe, "invalid_signature")
		if !errors.Is(err, payment.ErrInvalidSignature) {
			a.logger.WarnContext(r.Context(), "解析 Stripe 回调失败", "err", err)
		}
		webhookError(w, http.StatusBadRequest, "Invalid signature")
		return
	}
	outcome, err := a.checkout.HandleStripeEvent(r.Context(), ev)
	a.finishWebhook(w, r, payment.ProviderStripe, outcome, err)
}

func (a *App) handlePayPalWebhook(w http.ResponseWriter, r *http.Request) {
	if a.paypal == nil {
		webhookError(w, http.StatusNotFound, "Not found")
		return
	}
	payload := middleware.CachedBody(r.Context())
	if len(payload) == 0 {
		webhookError(w, http.StatusBadRequest, "Empty request body")
		return
	}
	if err := a.paypal.VerifyWebhook(r.Context(), r.Header, payload); err != nil {
		obs.RecordWebhook(payment.ProviderPayPal, "invalid_signature")
		a.logger.WarnContext(r.Context(), "PayPal 回调验签失败", "err", err)
		webhookError(w, http.StatusBadRequest, "Invalid signature")
		return
	}
	outcome, err := a.checkout.HandlePayPalEvent(r.Context(), payment.ParsePayPalEvent(payload))
	a.finishWebhook(w, r, payment.ProviderPayPal, outcome, err)
}

// handleEPayNotify 同时接受 GET 查询串与 POST 表单；渠道只认纯文本 success。
func (a *App) handleEPayNotify(w http.ResponseWriter, r *http.Request) {
	if a.epay == nil {
		http.NotFound(w, r)
		return
	}
	values := r.URL.Query()
	if r.Method == http.MethodPost {
		form, err := url.ParseQuery(string(middleware.CachedBody(r.Context())))
		if err == nil {
			for k, vs := range form {
				values[k] = vs
			}
		}
	}
	params := make(map[string]string, len(values))
	for k := range values {
		params[k] = values.Get(k)
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	n, err := a.epay.Verify(params)
	if err != nil {
		obs.RecordWebhook(payment.ProviderEPay, "invalid_signature")
		a.logger.WarnContext(r.Context(), "EPay 通知验签失败", "err", err)
		_, _ = w.Write([]byte("fail"))
		return
	}
	outcome, err := a.checkout.HandleEPayNotify(r.Context(), n)
	if err != nil {
		obs.RecordWebhook(payment.ProviderEPay, "error")
		a.logger.ErrorContext(r.Context(), "EPay 通知处理失败", "order_id", n.OrderID, "err", err)
		_, _ = w.Write([]byte("fail"))
		return
	}
	obs.RecordWebhook(payment.ProviderEPay, string(outcome))
	_, _ = w.Write([]byte("success"))
}
