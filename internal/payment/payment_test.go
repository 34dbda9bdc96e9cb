package payment

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v81"
	stripeWebhook "github.com/stripe/stripe-go/v81/webhook"
	"github.com/tidwall/gjson"
)

func TestToMinorUnits(t *testing.T) {
	t.Parallel()

	cases := []struct {
		amount   string
		currency string
		want     int64
		wantErr  bool
	}{
		{"12.34", "usd", 1234, false},
		{"12", "USD", 1200, false},
		{"12.345", "usd", 0, true},
		{"500", "jpy", 500, false},
		{"500.5", "jpy", 0, true},
		{"-1", "usd", 0, true},
	}
	for _, tc := range cases {
		got, err := ToMinorUnits(decimal.RequireFromString(tc.amount), tc.currency)
		if tc.wantErr {
			assert.Error(t, err, tc.amount)
			continue
		}
		require.NoError(t, err, tc.amount)
		assert.Equal(t, tc.want, got, tc.amount)
	}
	assert.True(t, FromMinorUnits(1234, "usd").Equal(decimal.RequireFromString("12.34")))
	assert.Equal(t, "7.50", FormatAmount(decimal.RequireFromString("7.5"), "eur"))
}

const whsec = "whsec_test_secret"

func intentEventPayload(t *testing.T, typ string) []byte {
	t.Helper()
	payload, err := json.Marshal(map[string]any{
		"id":          "evt_1",
		"object":      "event",
		"type":        typ,
		"api_version": "2020-08-27",
		"data": map[string]any{
			"object": map[string]any{
				"id":              "pi_123",
				"object":          "payment_intent",
				"amount":          2600,
				"amount_received": 2600,
				"currency":        "usd",
				"metadata":        map[string]string{"order_id": "order-1"},
				"last_payment_error": map[string]any{
					"message": "card declined",
				},
			},
		},
	})
	require.NoError(t, err)
	return payload
}

func TestStripe_ParseWebhook(t *testing.T) {
	t.Parallel()

	s, err := NewStripe("sk_test_x", whsec, "", nil)
	require.NoError(t, err)
	assert.Equal(t, "usd", s.Currency())

	payload := intentEventPayload(t, "payment_intent.succeeded")
	signed := stripeWebhook.GenerateTestSignedPayload(&stripeWebhook.UnsignedPayload{Payload: payload, Secret: whsec})

	ev, err := s.ParseWebhook(signed.Payload, signed.Header)
	require.NoError(t, err)
	assert.True(t, ev.Succeeded())
	assert.Equal(t, "pi_123", ev.IntentID)
	assert.Equal(t, "order-1", ev.OrderID)
	assert.Equal(t, int64(2600), ev.Amount)
	assert.Equal(t, "usd", ev.Currency)

	_, err = s.ParseWebhook(payload, "t=1,v1=deadbeef")
	assert.ErrorIs(t, err, ErrInvalidSignature)

	forged := stripeWebhook.GenerateTestSignedPayload(&stripeWebhook.UnsignedPayload{Payload: payload, Secret: "whsec_other"})
	_, err = s.ParseWebhook(forged.Payload, forged.Header)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestStripe_ParseWebhookFailed(t *testing.T) {
	t.Parallel()

	s, err := NewStripe("sk_test_x", whsec, "usd", nil)
	require.NoError(t, err)
	payload := intentEventPayload(t, "payment_intent.payment_failed")
	signed := stripeWebhook.GenerateTestSignedPayload(&stripeWebhook.UnsignedPayload{Payload: payload, Secret: whsec})

	ev, err := s.ParseWebhook(signed.Payload, signed.Header)
	require.NoError(t, err)
	assert.True(t, ev.Failed())
	assert.Equal(t, "card declined", ev.FailureMessage)
}

func TestStripe_CreateIntent(t *testing.T) {
	t.Parallel()

	var gotForm string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/payment_intents" {
			http.NotFound(w, r)
			return
		}
		b, _ := io.ReadAll(r.Body)
		gotForm = string(b)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"pi_9","object":"payment_intent","client_secret":"pi_9_secret_abc","amount":1999,"currency":"usd"}`))
	}))
	t.Cleanup(srv.Close)

	backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		URL:               stripe.String(srv.URL),
		HTTPClient:        srv.Client(),
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelNull},
	})
	s, err := NewStripe("sk_test_x", whsec, "usd", backend)
	require.NoError(t, err)

	intent, err := s.CreateIntent(context.Background(), "order-7", decimal.RequireFromString("19.99"), "a@b.com")
	require.NoError(t, err)
	assert.Equal(t, "pi_9", intent.ID)
	assert.Equal(t, "pi_9_secret_abc", intent.ClientSecret)
	assert.Contains(t, gotForm, "amount=1999")
	assert.Contains(t, gotForm, "order-7")

	_, err = s.CreateIntent(context.Background(), "order-8", decimal.Zero, "")
	assert.Error(t, err)
}

func newPayPalServer(t *testing.T, verifyStatus string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Path == "/v1/oauth2/token" {
			_, _ = w.Write([]byte(`{"access_token":"tok-1","token_type":"Bearer","expires_in":3600}`))
			return
		}
		if r.Header.Get("Authorization") != "Bearer tok-1" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"message":"unauthorized"}`))
			return
		}
		body, _ := io.ReadAll(r.Body)
		switch {
		case r.URL.Path == "/v2/checkout/orders":
			req := gjson.ParseBytes(body)
			if req.Get("purchase_units.0.amount.value").String() != "26.00" || req.Get("purchase_units.0.custom_id").String() != "order-1" {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(`{"message":"bad amount"}`))
				return
			}
			_, _ = w.Write([]byte(`{"id":"PP-1","status":"CREATED","links":[{"rel":"self","href":"https://x/self"},{"rel":"approve","href":"https://paypal.test/approve/PP-1"}]}`))
		case r.URL.Path == "/v2/checkout/orders/PP-1/capture":
			_, _ = w.Write([]byte(`{"id":"PP-1","status":"COMPLETED","purchase_units":[{"reference_id":"order-1","payments":{"captures":[{"id":"CAP-1","amount":{"currency_code":"USD","value":"26.00"}}]}}]}`))
		case r.URL.Path == "/v2/checkout/orders/PP-2/capture":
			w.WriteHeader(http.StatusUnprocessableEntity)
			_, _ = w.Write([]byte(`{"name":"UNPROCESSABLE_ENTITY","details":[{"issue":"ORDER_ALREADY_CAPTURED"}]}`))
		case r.URL.Path == "/v2/checkout/orders/PP-2" && r.Method == http.MethodGet:
			_, _ = w.Write([]byte(`{"id":"PP-2","status":"COMPLETED","purchase_units":[{"reference_id":"order-2","payments":{"captures":[{"id":"CAP-2","amount":{"currency_code":"USD","value":"5.00"}}]}}]}`))
		case r.URL.Path == "/v1/notifications/verify-webhook-signature":
			req := gjson.ParseBytes(body)
			if req.Get("webhook_id").String() != "WH-1" || req.Get("webhook_event.event_type").String() == "" {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			_, _ = w.Write([]byte(`{"verification_status":"` + verifyStatus + `"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestPayPal(t *testing.T, srv *httptest.Server) *PayPal {
	t.Helper()
	p, err := NewPayPal(context.Background(), PayPalOptions{
		ClientID:     "cid",
		ClientSecret: "csecret",
		BaseURL:      srv.URL,
		WebhookID:    "WH-1",
		HTTPClient:   srv.Client(),
	})
	require.NoError(t, err)
	return p
}

func TestPayPal_CreateAndCapture(t *testing.T) {
	t.Parallel()

	p := newTestPayPal(t, newPayPalServer(t, "SUCCESS"))
	ctx := context.Background()

	order, err := p.CreateOrder(ctx, "order-1", decimal.NewFromInt(26), "usd", "https://shop/return", "https://shop/cancel")
	require.NoError(t, err)
	assert.Equal(t, "PP-1", order.ID)
	assert.Equal(t, "https://paypal.test/approve/PP-1", order.ApproveURL)

	capture, err := p.Capture(ctx, "PP-1")
	require.NoError(t, err)
	assert.True(t, capture.Completed())
	assert.Equal(t, "order-1", capture.ReferenceID)
	assert.Equal(t, "CAP-1", capture.CaptureID)
	assert.True(t, capture.Amount.Equal(decimal.NewFromInt(26)))

	again, err := p.Capture(ctx, "PP-2")
	require.NoError(t, err)
	assert.True(t, again.Completed())
	assert.Equal(t, "order-2", again.ReferenceID)
}

func paypalHeaders() http.Header {
	h := http.Header{}
	h.Set("Paypal-Auth-Algo", "SHA256withRSA")
	h.Set("Paypal-Cert-Url", "https://api.paypal.com/cert")
	h.Set("Paypal-Transmission-Id", "tid")
	h.Set("Paypal-Transmission-Sig", "sig")
	h.Set("Paypal-Transmission-Time", "2024-01-01T00:00:00Z")
	return h
}

func TestPayPal_VerifyWebhook(t *testing.T) {
	t.Parallel()

	payload := []byte(`{"id":"WH-EV-1","event_type":"PAYMENT.CAPTURE.COMPLETED","resource":{"id":"CAP-1","custom_id":"order-1","amount":{"value":"26.00","currency_code":"USD"},"supplementary_data":{"related_ids":{"order_id":"PP-1"}}}}`)

	ok := newTestPayPal(t, newPayPalServer(t, "SUCCESS"))
	require.NoError(t, ok.VerifyWebhook(context.Background(), paypalHeaders(), payload))
	assert.ErrorIs(t, ok.VerifyWebhook(context.Background(), http.Header{}, payload), ErrInvalidSignature)

	bad := newTestPayPal(t, newPayPalServer(t, "FAILURE"))
	assert.ErrorIs(t, bad.VerifyWebhook(context.Background(), paypalHeaders(), payload), ErrInvalidSignature)

	ev := ParsePayPalEvent(payload)
	assert.True(t, ev.CaptureCompleted())
	assert.Equal(t, "order-1", ev.OrderID)
	assert.Equal(t, "PP-1", ev.PayPalOrderID)
	assert.True(t, ev.Amount.Equal(decimal.NewFromInt(26)))
}

func epaySign(params map[string]string, key string) string {
	keys := make([]string, 0, len(params))
	for k, v := range params {
		if k == "sign" || k == "sign_type" || v == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+params[k])
	}
	sum := md5.Sum([]byte(strings.Join(parts, "&") + key))
	return hex.EncodeToString(sum[:])
}

func TestEPay_PurchaseAndVerify(t *testing.T) {
	t.Parallel()

	e, err := NewEPay("https://pay.example.com", "1001", "epay-key")
	require.NoError(t, err)

	purchase, err := e.Purchase("order-1", "Storefront order", decimal.RequireFromString("12.5"), "", "https://shop/api/webhooks/epay", "https://shop/account/orders/order-1")
	require.NoError(t, err)
	assert.Equal(t, "order-1", purchase.Params["out_trade_no"])
	assert.Equal(t, "12.50", purchase.Params["money"])
	assert.NotEmpty(t, purchase.Params["sign"])
	redirect, err := purchase.RedirectURL()
	require.NoError(t, err)
	assert.Contains(t, redirect, "pay.example.com")

	_, err = e.Purchase("order-1", "x", decimal.NewFromInt(1), "bitcoin", "https://shop/n", "https://shop/r")
	assert.Error(t, err)

	notify := map[string]string{
		"pid":          "1001",
		"trade_no":     "T123",
		"out_trade_no": "order-1",
		"type":         "alipay",
		"name":         "Storefront order",
		"money":        "12.50",
		"trade_status": "TRADE_SUCCESS",
	}
	notify["sign"] = epaySign(notify, "epay-key")
	notify["sign_type"] = "MD5"

	got, err := e.Verify(notify)
	require.NoError(t, err)
	assert.True(t, got.Success)
	assert.Equal(t, "order-1", got.OrderID)
	assert.Equal(t, "T123", got.TradeNo)
	assert.True(t, got.Money.Equal(decimal.RequireFromString("12.5")))

	notify["money"] = "0.01"
	_, err = e.Verify(notify)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}
