package security

import (
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
)

// BaseURL 给出对外访问地址，用于支付回跳、异步通知与图片 URL。
// 配置了 public_base_url 时直接使用；否则从请求推断，只有来源命中受信代理时才读取 X-Forwarded-*。
type BaseURL struct {
	Configured        string
	TrustProxyHeaders bool
	TrustedProxies    []netip.Prefix
}

func NewBaseURL(configured string, trustProxyHeaders bool, cidrs []string) (BaseURL, error) {
	prefixes, err := ParseTrustedProxies(cidrs)
	if err != nil {
		return BaseURL{}, err
	}
	return BaseURL{
		Configured:        strings.TrimRight(strings.TrimSpace(configured), "/"),
		TrustProxyHeaders: trustProxyHeaders,
		TrustedProxies:    prefixes,
	}, nil
}

func (b BaseURL) For(r *http.Request) string {
	if b.Configured != "" {
		return b.Configured
	}
	return DeriveBaseURLFromRequest(r, b.TrustProxyHeaders, b.TrustedProxies)
}

// ParseTrustedProxies 解析 CIDR 列表；单个 IP 视为 /32 或 /128。
func ParseTrustedProxies(cidrs []string) ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(cidrs))
	for _, raw := range cidrs {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if !strings.Contains(raw, "/") {
			ip, err := netip.ParseAddr(raw)
			if err != nil {
				return nil, fmt.Errorf("trusted_proxy_cidrs 不合法: %q", raw)
			}
			out = append(out, netip.PrefixFrom(ip, ip.BitLen()))
			continue
		}
		p, err := netip.ParsePrefix(raw)
		if err != nil {
			return nil, fmt.Errorf("trusted_proxy_cidrs 不合法: %q", raw)
		}
		out = append(out, p.Masked())
	}
	return out, nil
}

// DeriveBaseURLFromRequest 从请求推断 scheme://host。
// X-Forwarded-Proto 仅允许 http/https；X-Forwarded-Host 仅允许纯 host[:port]。
func DeriveBaseURLFromRequest(r *http.Request, trustProxyHeaders bool, trustedProxies []netip.Prefix) string {
	if r == nil {
		return ""
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	host := strings.TrimSpace(r.Host)
	if host == "" && r.URL != nil {
		host = strings.TrimSpace(r.URL.Host)
	}
	if trustProxyHeaders && fromTrustedProxy(r, trustedProxies) {
		if proto, ok := forwardedProto(r.Header.Get("X-Forwarded-Proto")); ok {
			scheme = proto
		}
		if h, ok := forwardedHost(r.Header.Get("X-Forwarded-Host")); ok {
			host = h
		}
	}
	if host == "" {
		return ""
	}
	return scheme + "://" + host
}

func fromTrustedProxy(r *http.Request, trusted []netip.Prefix) bool {
	if len(trusted) == 0 {
		return false
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err != nil {
		host = strings.TrimSpace(r.RemoteAddr)
	}
	ip, err := netip.ParseAddr(host)
	if err != nil {
		return false
	}
	ip = ip.Unmap()
	for _, p := range trusted {
		if p.Contains(ip) {
			return true
		}
	}
	return false
}

func forwardedProto(raw string) (string, bool) {
	switch v := strings.ToLower(firstToken(raw)); v {
	case "http", "https":
		return v, true
	}
	return "", false
}

func forwardedHost(raw string) (string, bool) {
	v := firstToken(raw)
	if v == "" || strings.ContainsAny(v, " \t\r\n/\\@") {
		return "", false
	}
	u, err := url.Parse("http://" + v)
	if err != nil || u.Host == "" || u.Path != "" || u.RawQuery != "" || u.Fragment != "" {
		return "", false
	}
	if !strings.EqualFold(u.Host, v) {
		return "", false
	}
	return v, true
}

func firstToken(raw string) string {
	v, _, _ := strings.Cut(strings.TrimSpace(raw), ",")
	return strings.TrimSpace(v)
}
