package payment

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/Calcium-Ion/go-epay/epay"
	"github.com/shopspring/decimal"
)

// EPay 使用的结算币种固定为 cny。
const EPayCurrency = "cny"

type EPay struct {
	client *epay.Client
}

func NewEPay(gateway, partnerID, key string) (*EPay, error) {
	gateway, partnerID, key = strings.TrimSpace(gateway), strings.TrimSpace(partnerID), strings.TrimSpace(key)
	if gateway == "" || partnerID == "" || key == "" {
		return nil, errors.New("epay gateway/partner_id/key 不能为空")
	}
	client, err := epay.NewClient(&epay.Config{PartnerID: partnerID, Key: key}, gateway)
	if err != nil {
		return nil, fmt.Errorf("初始化 EPay 失败: %w", err)
	}
	return &EPay{client: client}, nil
}

type EPayPurchase struct {
	PayURL string
	Params map[string]string
}

// RedirectURL 把签名参数拼到网关地址上，便于前端直接跳转。
func (p EPayPurchase) RedirectURL() (string, error) {
	u, err := url.Parse(p.PayURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	for k, v := range p.Params {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Purchase 生成签名后的跳转参数；payType 支持 alipay/wxpay/qqpay。
func (e *EPay) Purchase(orderID, name string, amount decimal.Decimal, payType, notifyURL, returnURL string) (EPayPurchase, error) {
	if payType == "" {
		payType = "alipay"
	}
	switch payType {
	case "alipay", "wxpay", "qqpay":
	default:
		return EPayPurchase{}, fmt.Errorf("EPay 支付类型不支持: %s", payType)
	}
	notify, err := url.Parse(notifyURL)
	if err != nil {
		return EPayPurchase{}, fmt.Errorf("回调 URL 配置错误: %w", err)
	}
	ret, err := url.Parse(returnURL)
	if err != nil {
		return EPayPurchase{}, fmt.Errorf("回跳 URL 配置错误: %w", err)
	}
	payURL, params, err := e.client.Purchase(&epay.PurchaseArgs{
		Type:           payType,
		ServiceTradeNo: orderID,
		Name:           name,
		Money:          FormatAmount(amount, EPayCurrency),
		Device:         epay.PC,
		NotifyUrl:      notify,
		ReturnUrl:      ret,
	})
	if err != nil {
		return EPayPurchase{}, fmt.Errorf("创建 EPay 支付失败: %w", err)
	}
	return EPayPurchase{PayURL: payURL, Params: params}, nil
}

type EPayNotify struct {
	OrderID string
	TradeNo string
	Money   decimal.Decimal
	Success bool
}

// Verify 校验异步通知签名；签名无效返回 ErrInvalidSignature。
func (e *EPay) Verify(params map[string]string) (EPayNotify, error) {
	info, err := e.client.Verify(params)
	if err != nil || info == nil || !info.VerifyStatus {
		return EPayNotify{}, ErrInvalidSignature
	}
	out := EPayNotify{
		OrderID: strings.TrimSpace(info.ServiceTradeNo),
		TradeNo: strings.TrimSpace(info.TradeNo),
		Success: info.TradeStatus == epay.StatusTradeSuccess,
	}
	money := strings.TrimPrefix(strings.TrimSpace(info.Money), "¥")
	if d, err := decimal.NewFromString(money); err == nil && !d.IsNegative() {
		out.Money = d
	}
	return out, nil
}
