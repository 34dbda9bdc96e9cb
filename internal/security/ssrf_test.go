package security

import (
	"errors"
	"net/netip"
	"testing"
)

func TestNewHostAllowlist_RejectsPublicSuffix(t *testing.T) {
	t.Parallel()

	if _, err := NewHostAllowlist([]string{"co.uk"}); err == nil {
		t.Fatalf("expected public suffix rejected")
	}
	l, err := NewHostAllowlist([]string{" Images.Example.com. ", "*.cdn.example.net", ""})
	if err != nil {
		t.Fatalf("NewHostAllowlist: %v", err)
	}
	if len(l) != 2 || l[0] != "images.example.com" || l[1] != "cdn.example.net" {
		t.Fatalf("allowlist=%v", l)
	}
	if !l.Allows("a.cdn.example.net") || !l.Allows("images.example.com") {
		t.Fatalf("expected subdomain match")
	}
	if l.Allows("evilexample.com") || l.Allows("cdn.example.net.evil.io") {
		t.Fatalf("unexpected match")
	}
}

func TestValidateFetchURL(t *testing.T) {
	t.Parallel()

	allow := HostAllowlist{"example.com"}
	cases := []struct {
		raw     string
		wantErr error
	}{
		{raw: "https://img.example.com/a.png"},
		{raw: "ftp://example.com/a.png", wantErr: ErrURLNotAllowed},
		{raw: "https://user:pw@example.com/a.png", wantErr: ErrURLNotAllowed},
		{raw: "https://other.org/a.png", wantErr: ErrURLNotAllowed},
	}
	for _, tc := range cases {
		_, err := ValidateFetchURL(tc.raw, allow)
		if tc.wantErr == nil && err != nil {
			t.Fatalf("%s: unexpected error %v", tc.raw, err)
		}
		if tc.wantErr != nil && !errors.Is(err, tc.wantErr) {
			t.Fatalf("%s: err=%v, want %v", tc.raw, err, tc.wantErr)
		}
	}

	if _, err := ValidateFetchURL("http://127.0.0.1/a.png", nil); !errors.Is(err, ErrPrivateAddr) {
		t.Fatalf("loopback err=%v", err)
	}
}

func TestIsPublicAddr(t *testing.T) {
	t.Parallel()

	private := []string{"127.0.0.1", "10.0.0.8", "192.168.1.1", "169.254.169.254", "100.64.0.1", "::1", "fe80::1", "::ffff:10.0.0.1", "0.0.0.0"}
	for _, s := range private {
		if IsPublicAddr(netip.MustParseAddr(s)) {
			t.Fatalf("%s should not be public", s)
		}
	}
	for _, s := range []string{"8.8.8.8", "2606:4700:4700::1111"} {
		if !IsPublicAddr(netip.MustParseAddr(s)) {
			t.Fatalf("%s should be public", s)
		}
	}
}
