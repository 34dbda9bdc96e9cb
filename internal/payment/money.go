// Package payment 封装 Stripe / PayPal / EPay 三个支付渠道的下单、捕获与回调验签。
package payment

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// 以下币种没有小数位（Stripe 文档中的 zero-decimal currencies）。
var zeroDecimal = map[string]bool{
	"bif": true, "clp": true, "djf": true, "gnf": true, "jpy": true, "kmf": true,
	"krw": true, "mga": true, "pyg": true, "rwf": true, "ugx": true, "vnd": true,
	"vuv": true, "xaf": true, "xof": true, "xpf": true,
}

func currencyScale(currency string) int32 {
	if zeroDecimal[strings.ToLower(strings.TrimSpace(currency))] {
		return 0
	}
	return 2
}

// ToMinorUnits 把金额转换为最小货币单位；精度超出币种小数位时拒绝。
func ToMinorUnits(amount decimal.Decimal, currency string) (int64, error) {
	if amount.IsNegative() {
		return 0, fmt.Errorf("金额不能为负数: %s", amount)
	}
	scale := currencyScale(currency)
	scaled := amount.Shift(scale)
	if !scaled.Equal(scaled.Truncate(0)) {
		return 0, fmt.Errorf("金额 %s 超出 %s 的精度", amount, currency)
	}
	n := scaled.IntPart()
	if !decimal.NewFromInt(n).Equal(scaled) {
		return 0, fmt.Errorf("金额 %s 溢出", amount)
	}
	return n, nil
}

func FromMinorUnits(n int64, currency string) decimal.Decimal {
	return decimal.NewFromInt(n).Shift(-currencyScale(currency))
}

// FormatAmount 按币种小数位输出字符串（PayPal / EPay 使用）。
func FormatAmount(amount decimal.Decimal, currency string) string {
	return amount.StringFixed(currencyScale(currency))
}

// Provider 名称同时用于订单 paymentProvider 字段与指标标签。
const (
	ProviderStripe = "stripe"
	ProviderPayPal = "paypal"
	ProviderEPay   = "epay"
)
