package auth

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestSessionTokens_IssueParse(t *testing.T) {
	st, err := NewSessionTokens("test-secret-test-secret-test-secret", time.Hour)
	if err != nil {
		t.Fatalf("NewSessionTokens: %v", err)
	}
	tok, exp, err := st.Issue("u1", "a@b.com", RoleAdmin)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if time.Until(exp) <= 0 {
		t.Fatalf("expected future expiry, got %v", exp)
	}

	claims, err := st.Parse(tok)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if claims.UserID != "u1" || claims.Email != "a@b.com" || claims.Role != RoleAdmin {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if claims.ID == "" {
		t.Fatalf("expected jti")
	}
}

func TestSessionTokens_Rejects(t *testing.T) {
	st, _ := NewSessionTokens("secret-a", time.Hour)
	other, _ := NewSessionTokens("secret-b", time.Hour)

	tok, _, err := other.Issue("u1", "", RoleCustomer)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := st.Parse(tok); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("wrong secret err=%v, want ErrInvalidToken", err)
	}

	expired, _ := NewSessionTokens("secret-a", time.Hour)
	expired.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	old, _, err := expired.Issue("u1", "", RoleCustomer)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := st.Parse(old); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expired err=%v, want ErrInvalidToken", err)
	}

	if _, err := st.Parse("not-a-jwt"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("garbage err=%v, want ErrInvalidToken", err)
	}

	parts := strings.Split(tok, ".")
	tampered := parts[0] + "." + parts[1] + "x." + parts[2]
	if _, err := other.Parse(tampered); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("tampered err=%v, want ErrInvalidToken", err)
	}
}

func TestHashPassword(t *testing.T) {
	if _, err := HashPassword("short"); err == nil {
		t.Fatalf("expected error for short password")
	}
	h, err := HashPassword("12345678")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if !CheckPassword(h, "12345678") || CheckPassword(h, "87654321") {
		t.Fatalf("CheckPassword mismatch")
	}
}

func TestParseRole(t *testing.T) {
	if r, ok := ParseRole(" admin "); !ok || r != RoleAdmin {
		t.Fatalf("ParseRole(admin)=%q,%v", r, ok)
	}
	if _, ok := ParseRole("root"); ok {
		t.Fatalf("expected unknown role to be rejected")
	}
}
