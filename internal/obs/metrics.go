package obs

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storefront_http_requests_total",
			Help: "HTTP 请求总数",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "storefront_http_request_duration_seconds",
			Help:    "HTTP 请求耗时（秒）",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	webhookEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storefront_payment_webhook_events_total",
			Help: "支付回调处理结果",
		},
		[]string{"provider", "outcome"},
	)

	csrfRejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storefront_csrf_rejections_total",
			Help: "CSRF 校验失败次数",
		},
		[]string{"reason"},
	)

	accessDeniedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storefront_access_denied_total",
			Help: "访问控制拒绝次数",
		},
		[]string{"status"},
	)
)

// ObserveHTTP 记录一次 HTTP 请求。route 必须是路由模板（如 /api/admin/users/:id），避免标签基数膨胀。
func ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

func RecordWebhook(provider, outcome string) {
	webhookEventsTotal.WithLabelValues(provider, outcome).Inc()
}

func RecordCSRFRejection(reason string) {
	csrfRejectionsTotal.WithLabelValues(reason).Inc()
}

func RecordAccessDenied(status int) {
	accessDeniedTotal.WithLabelValues(strconv.Itoa(status)).Inc()
}

// MetricsHandler 暴露默认 registry。
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
