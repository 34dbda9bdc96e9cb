package access_test

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/mock/gomock"

	"storefront/internal/access"
	"storefront/internal/auth"
	"storefront/internal/auth/mocks"
	"storefront/internal/docstore"
	"storefront/internal/repo"
)

const testSecret = "access-test-secret-access-test-secret"

type fixture struct {
	repos    *repo.Repos
	sessions *auth.SessionTokens
	decider  *access.Decider
	provider *mocks.MockProviderVerifier
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	ctrl := gomock.NewController(t)
	sessions, err := auth.NewSessionTokens(testSecret, time.Hour)
	if err != nil {
		t.Fatalf("NewSessionTokens: %v", err)
	}
	provider := mocks.NewMockProviderVerifier(ctrl)
	repos := repo.New(docstore.NewMemory())
	return fixture{
		repos:    repos,
		sessions: sessions,
		provider: provider,
		decider:  access.NewDecider(auth.NewVerifier(sessions, provider), repos.Users, nil),
	}
}

func (f fixture) bearer(t *testing.T, u repo.User) *http.Request {
	t.Helper()
	tok, _, err := f.sessions.Issue(u.ID, u.Email, u.Role)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	r := httptest.NewRequest(http.MethodGet, "/api/admin/users", nil)
	r.Header.Set("Authorization", "Bearer "+tok)
	return r
}

// rs256Shaped 构造一个 header 为 RS256 的令牌，签名交给 mock 校验。
func rs256Shaped() string {
	enc := base64.RawURLEncoding.EncodeToString
	return enc([]byte(`{"alg":"RS256","typ":"JWT"}`)) + "." + enc([]byte(`{"sub":"uid-9"}`)) + ".c2ln"
}

func TestCheck_MissingToken(t *testing.T) {
	f := newFixture(t)
	res := f.decider.Check(context.Background(), httptest.NewRequest(http.MethodGet, "/", nil))
	if res.Authenticated || res.Status != http.StatusUnauthorized || res.Error != access.MsgAuthRequired {
		t.Fatalf("res=%+v", res)
	}
}

func TestCheck_InvalidToken(t *testing.T) {
	f := newFixture(t)
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.AddCookie(&http.Cookie{Name: auth.CookieAuthToken, Value: "not-a-jwt"})
	res := f.decider.Check(context.Background(), r)
	if res.Authenticated || res.Status != http.StatusUnauthorized || res.Error != access.MsgInvalidToken {
		t.Fatalf("res=%+v", res)
	}
}

func TestCheck_OrphanedTokenIsUnauthenticated(t *testing.T) {
	f := newFixture(t)
	ghost := repo.User{ID: "deleted-user", Email: "ghost@example.com", Role: auth.RoleAdmin}
	res := f.decider.Check(context.Background(), f.bearer(t, ghost))
	if res.Authenticated || res.Status != http.StatusUnauthorized || res.Error != access.MsgAuthRequired {
		t.Fatalf("res=%+v", res)
	}
}

func TestCheck_RoleComesFromStoreNotToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u, err := f.repos.Users.Create(ctx, repo.CreateUserInput{Email: "c@example.com", Role: auth.RoleCustomer})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	forged := u
	forged.Role = auth.RoleAdmin
	res := f.decider.Check(ctx, f.bearer(t, forged))
	if !res.Authenticated || res.IsAdmin {
		t.Fatalf("res=%+v", res)
	}
	if got := access.Admin.Apply(res); got.Status != http.StatusForbidden || got.Error != access.MsgForbidden {
		t.Fatalf("admin policy result=%+v", got)
	}
	if !access.Authed.Allowed(res) || access.Admin.Allowed(res) {
		t.Fatalf("unexpected Allowed results")
	}
}

func TestCheck_DisabledAccount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u, _ := f.repos.Users.Create(ctx, repo.CreateUserInput{Email: "d@example.com", Role: auth.RoleAdmin})
	disabled := repo.UserStatusDisabled
	if _, err := f.repos.Users.Update(ctx, u.ID, repo.UserPatch{Status: &disabled}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	res := f.decider.Check(ctx, f.bearer(t, u))
	if res.Authenticated || res.Error != access.MsgAccountDisabled {
		t.Fatalf("res=%+v", res)
	}
}

func TestCheck_ProviderToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u, _ := f.repos.Users.Create(ctx, repo.CreateUserInput{Email: "p@example.com", Role: auth.RoleAdmin, ProviderUID: "uid-9"})

	tok := rs256Shaped()
	f.provider.EXPECT().VerifyIDToken(gomock.Any(), tok).Return(auth.ProviderIdentity{UID: "uid-9", Email: "p@example.com"}, nil)

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.AddCookie(&http.Cookie{Name: auth.CookieSession, Value: tok})
	res := f.decider.Authorize(ctx, r, access.Admin)
	if !res.Authenticated || !res.IsAdmin || res.UserID != u.ID || res.Principal.Kind != auth.TokenKindProvider {
		t.Fatalf("res=%+v", res)
	}
}

func TestCheck_ProviderFailure(t *testing.T) {
	f := newFixture(t)
	tok := rs256Shaped()
	f.provider.EXPECT().VerifyIDToken(gomock.Any(), tok).Return(auth.ProviderIdentity{}, errors.New("revoked"))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer "+tok)
	res := f.decider.Check(context.Background(), r)
	if res.Authenticated || res.Status != http.StatusUnauthorized {
		t.Fatalf("res=%+v", res)
	}
}

type failingUsers struct{}

func (failingUsers) Get(context.Context, string) (repo.User, error) {
	return repo.User{}, errors.New("db down")
}

func (failingUsers) GetByProviderUID(context.Context, string) (repo.User, error) {
	return repo.User{}, errors.New("db down")
}

func TestCheck_StoreFailure(t *testing.T) {
	sessions, _ := auth.NewSessionTokens(testSecret, time.Hour)
	d := access.NewDecider(auth.NewVerifier(sessions, nil), failingUsers{}, nil)
	tok, _, _ := sessions.Issue("u1", "u1@example.com", auth.RoleAdmin)
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer "+tok)
	res := d.Check(context.Background(), r)
	if res.Authenticated || res.Status != http.StatusInternalServerError || res.Error != access.MsgVerifyFailed {
		t.Fatalf("res=%+v", res)
	}
}

func TestPolicyForPath(t *testing.T) {
	t.Parallel()

	cases := []struct {
		path string
		want access.Policy
	}{
		{"/admin", access.Admin},
		{"/admin/users", access.Admin},
		{"/administrator", access.Public},
		{"/account/orders", access.Authed},
		{"/checkout", access.Authed},
		{"/products/rose", access.Public},
		{"", access.Public},
	}
	for _, tc := range cases {
		if got := access.PolicyForPath(tc.path); got != tc.want {
			t.Fatalf("PolicyForPath(%q)=%+v, want %+v", tc.path, got, tc.want)
		}
	}
}

func TestDevBypass(t *testing.T) {
	t.Parallel()

	b := access.DevBypass{Enabled: true, Email: "dev@local", Password: "devpass123"}
	if !b.Match(" DEV@local ", "devpass123") {
		t.Fatalf("expected match")
	}
	if b.Match("dev@local", "wrong") {
		t.Fatalf("expected mismatch on password")
	}
	b.Enabled = false
	if b.Match("dev@local", "devpass123") {
		t.Fatalf("disabled bypass must never match")
	}
}
