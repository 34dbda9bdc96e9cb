// Package security 提供出站请求的 SSRF 防护与对外 Base URL 推断。
package security

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"syscall"
	"time"

	"golang.org/x/net/publicsuffix"
)

var (
	ErrURLNotAllowed = errors.New("URL 不在允许范围内")
	ErrPrivateAddr   = errors.New("目标地址为内网地址")
)

// HostAllowlist 匹配主机名本身及其子域名。
type HostAllowlist []string

// NewHostAllowlist 规范化主机列表；拒绝公共后缀（如 com、co.uk），避免放行整个顶级域。
func NewHostAllowlist(hosts []string) (HostAllowlist, error) {
	out := make(HostAllowlist, 0, len(hosts))
	for _, h := range hosts {
		h = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(h)), ".")
		h = strings.TrimPrefix(h, "*.")
		if h == "" {
			continue
		}
		if net.ParseIP(h) == nil {
			if suffix, _ := publicsuffix.PublicSuffix(h); suffix == h {
				return nil, fmt.Errorf("allowed_image_hosts 不能是公共后缀: %s", h)
			}
		}
		out = append(out, h)
	}
	return out, nil
}

func (l HostAllowlist) Allows(host string) bool {
	host = strings.TrimSuffix(strings.ToLower(host), ".")
	for _, h := range l {
		if host == h || strings.HasSuffix(host, "."+h) {
			return true
		}
	}
	return false
}

// ValidateFetchURL 校验出站图片 URL：仅 http/https、不带凭据、主机命中白名单，且不能是内网 IP 字面量。
// 白名单为空时任何公网主机都允许。
func ValidateFetchURL(raw string, allow HostAllowlist) (*url.URL, error) {
	u, err := ParseFetchURL(raw, allow)
	if err != nil {
		return nil, err
	}
	if ip, err := netip.ParseAddr(u.Hostname()); err == nil && !IsPublicAddr(ip) {
		return nil, ErrPrivateAddr
	}
	return u, nil
}

// ParseFetchURL 与 ValidateFetchURL 相同，但不检查 IP 字面量。
func ParseFetchURL(raw string, allow HostAllowlist) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrURLNotAllowed, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: 仅支持 http/https", ErrURLNotAllowed)
	}
	if u.User != nil || u.Hostname() == "" {
		return nil, ErrURLNotAllowed
	}
	if len(allow) > 0 && !allow.Allows(u.Hostname()) {
		return nil, fmt.Errorf("%w: %s", ErrURLNotAllowed, u.Hostname())
	}
	return u, nil
}

// IsPublicAddr 排除回环、私网、链路本地、组播与未指定地址。
func IsPublicAddr(ip netip.Addr) bool {
	ip = ip.Unmap()
	if !ip.IsValid() || ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() || ip.IsInterfaceLocalMulticast() || ip.IsMulticast() || ip.IsUnspecified() {
		return false
	}
	// 100.64.0.0/10 (CGNAT) 与 metadata 服务常用网段。
	if cgnat.Contains(ip) {
		return false
	}
	return true
}

var cgnat = netip.MustParsePrefix("100.64.0.0/10")

// SafeHTTPClient 在建立连接时校验实际解析到的 IP，防止 DNS rebinding 绕过。
// allowPrivate 仅用于测试。
func SafeHTTPClient(timeout time.Duration, allowPrivate bool) *http.Client {
	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
		Control: func(_, address string, _ syscall.RawConn) error {
			if allowPrivate {
				return nil
			}
			host, _, err := net.SplitHostPort(address)
			if err != nil {
				return err
			}
			ip, err := netip.ParseAddr(host)
			if err != nil {
				return err
			}
			if !IsPublicAddr(ip) {
				return ErrPrivateAddr
			}
			return nil
		},
	}
	transport := &http.Transport{
		Proxy:                 nil,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          32,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 15 * time.Second,
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 3 {
				return errors.New("重定向次数过多")
			}
			if req.URL.Scheme != "http" && req.URL.Scheme != "https" {
				return ErrURLNotAllowed
			}
			return nil
		},
	}
}
