package router

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"storefront/internal/access"
	"storefront/internal/auth"
	"storefront/internal/checkout"
	"storefront/internal/csrf"
	"storefront/internal/docstore"
	"storefront/internal/payment"
	"storefront/internal/repo"
)

const testSecret = "router-test-secret-0123456789abcdef"

type stubStripe struct{}

func (stubStripe) Currency() string { return "usd" }

func (stubStripe) CreateIntent(_ context.Context, orderID string, _ decimal.Decimal, _ string) (payment.Intent, error) {
	return payment.Intent{ID: "pi_" + orderID, ClientSecret: "cs_" + orderID}, nil
}

type harness struct {
	t        *testing.T
	engine   *gin.Engine
	repos    *repo.Repos
	sessions *auth.SessionTokens
	admin    repo.User
}

func newHarness(t *testing.T, mutate ...func(*Options)) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	repos := repo.New(docstore.NewMemory())
	tokens, err := auth.NewSessionTokens(testSecret, time.Hour)
	if err != nil {
		t.Fatalf("NewSessionTokens: %v", err)
	}
	verifier := auth.NewVerifier(tokens, nil)
	csrfSvc, err := csrf.New(testSecret, time.Hour, csrf.NewMemoryReplayStore(128, time.Hour))
	if err != nil {
		t.Fatalf("csrf.New: %v", err)
	}

	admin, err := repos.Users.Create(context.Background(), repo.CreateUserInput{
		Email:    "admin@example.com",
		Password: "admin-password",
		Name:     "Admin",
		Role:     auth.RoleAdmin,
	})
	if err != nil {
		t.Fatalf("create admin: %v", err)
	}

	opts := Options{
		Repos:                 repos,
		Sessions:              tokens,
		Verifier:              verifier,
		Decider:               access.NewDecider(verifier, repos.Users, nil),
		CSRF:                  csrfSvc,
		Checkout:              checkout.New(repos, checkout.Options{Stripe: stubStripe{}}),
		AllowOpenRegistration: true,
		FrontendIndexPage:     []byte("<!doctype html><html><body>INDEX</body></html>"),
	}
	for _, m := range mutate {
		m(&opts)
	}

	engine := gin.New()
	engine.Use(sessions.Sessions("storefront_session", cookie.NewStore([]byte(testSecret))))
	SetRouter(engine, opts)

	return &harness{t: t, engine: engine, repos: repos, sessions: tokens, admin: admin}
}

// client 在请求之间保留 cookie。
type client struct {
	h       *harness
	cookies map[string]*http.Cookie
}

func (h *harness) client() *client {
	return &client{h: h, cookies: map[string]*http.Cookie{}}
}

// as 给客户端签发指定用户的会话令牌。
func (h *harness) as(u repo.User) *client {
	h.t.Helper()
	token, _, err := h.sessions.Issue(u.ID, u.Email, u.Role)
	if err != nil {
		h.t.Fatalf("Issue: %v", err)
	}
	cl := h.client()
	cl.cookies[auth.CookieAuthToken] = &http.Cookie{Name: auth.CookieAuthToken, Value: token}
	return cl
}

func (cl *client) do(method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	cl.h.t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			cl.h.t.Fatalf("marshal body: %v", err)
		}
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	for _, ck := range cl.cookies {
		req.AddCookie(ck)
	}
	rr := httptest.NewRecorder()
	cl.h.engine.ServeHTTP(rr, req)
	for _, ck := range rr.Result().Cookies() {
		if ck.MaxAge < 0 || ck.Value == "" {
			delete(cl.cookies, ck.Name)
			continue
		}
		cl.cookies[ck.Name] = &http.Cookie{Name: ck.Name, Value: ck.Value}
	}
	return rr
}

func (cl *client) csrfToken() string {
	cl.h.t.Helper()
	rr := cl.do(http.MethodGet, "/api/csrf", nil)
	if rr.Code != http.StatusOK {
		cl.h.t.Fatalf("GET /api/csrf status=%d body=%s", rr.Code, rr.Body.String())
	}
	return decode(cl.h.t, rr)["csrfToken"].(string)
}

func decode(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
	return out
}

func wantError(t *testing.T, rr *httptest.ResponseRecorder, status int, msg string) {
	t.Helper()
	if rr.Code != status {
		t.Fatalf("status=%d, want %d body=%s", rr.Code, status, rr.Body.String())
	}
	if got := decode(t, rr)["error"]; got != msg {
		t.Fatalf("error=%v, want %q", got, msg)
	}
}

func (h *harness) createCustomer(email, password string) repo.User {
	h.t.Helper()
	u, err := h.repos.Users.Create(context.Background(), repo.CreateUserInput{
		Email:    email,
		Password: password,
		Name:     "Customer",
		Role:     auth.RoleCustomer,
	})
	if err != nil {
		h.t.Fatalf("create customer: %v", err)
	}
	return u
}
