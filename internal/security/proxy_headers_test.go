package security

import (
	"net/http/httptest"
	"net/netip"
	"testing"
)

func TestDeriveBaseURLFromRequest(t *testing.T) {
	t.Parallel()

	trusted := []netip.Prefix{netip.MustParsePrefix("10.0.0.0/8")}
	cases := []struct {
		name    string
		remote  string
		proto   string
		host    string
		trusted []netip.Prefix
		want    string
	}{
		{name: "untrusted ignores forwarded", remote: "203.0.113.10:1234", proto: "https", host: "evil.example.com", trusted: trusted, want: "http://shop.example.com"},
		{name: "trusted uses forwarded", remote: "10.1.2.3:1234", proto: "https, http", host: "pay.example.com, internal", trusted: trusted, want: "https://pay.example.com"},
		{name: "invalid values ignored", remote: "10.1.2.3:1234", proto: "ftp", host: "evil.example.com/path", trusted: trusted, want: "http://shop.example.com"},
		{name: "userinfo rejected", remote: "10.1.2.3:1234", host: "a@evil.example.com", trusted: trusted, want: "http://shop.example.com"},
		{name: "no trusted list", remote: "10.1.2.3:1234", proto: "https", host: "pay.example.com", want: "http://shop.example.com"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			r := httptest.NewRequest("GET", "http://shop.example.com/", nil)
			r.RemoteAddr = tc.remote
			if tc.proto != "" {
				r.Header.Set("X-Forwarded-Proto", tc.proto)
			}
			if tc.host != "" {
				r.Header.Set("X-Forwarded-Host", tc.host)
			}
			if got := DeriveBaseURLFromRequest(r, true, tc.trusted); got != tc.want {
				t.Fatalf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestBaseURL_ConfiguredWins(t *testing.T) {
	t.Parallel()

	b, err := NewBaseURL("https://shop.example.com/", true, []string{"10.0.0.1", "192.168.0.0/16"})
	if err != nil {
		t.Fatalf("NewBaseURL: %v", err)
	}
	if len(b.TrustedProxies) != 2 || b.TrustedProxies[0].Bits() != 32 {
		t.Fatalf("trusted=%v", b.TrustedProxies)
	}
	r := httptest.NewRequest("GET", "http://internal/", nil)
	if got := b.For(r); got != "https://shop.example.com" {
		t.Fatalf("For=%q", got)
	}
	if _, err := NewBaseURL("", false, []string{"not-a-cidr"}); err == nil {
		t.Fatalf("expected invalid cidr error")
	}
}
