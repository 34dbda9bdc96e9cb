package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	old := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})))
	t.Cleanup(func() { slog.SetDefault(old) })
	return &buf
}

func TestAccessLog_DoesNotLogAuthorization(t *testing.T) {
	buf := captureLogs(t)

	secret := "eyJhbGciOiJIUzI1NiJ9.secret_should_not_appear"
	req := httptest.NewRequest(http.MethodGet, "http://example.com/api/orders?token="+secret, nil)
	req.Header.Set("Authorization", "Bearer "+secret)

	rr := httptest.NewRecorder()
	h := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		AnnotateUser(r.Context(), "u-1")
		w.WriteHeader(http.StatusCreated)
	}), RequestID, AccessLog)
	h.ServeHTTP(rr, req)

	out := buf.String()
	if strings.Contains(out, secret) {
		t.Fatalf("log contains secret token: %s", out)
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(out)), &entry); err != nil {
		t.Fatalf("decode log: %v (%s)", err, out)
	}
	if entry["status"] != float64(http.StatusCreated) || entry["user_id"] != "u-1" {
		t.Fatalf("unexpected entry: %v", entry)
	}
	if entry["request_id"] != rr.Header().Get(RequestIDHeader) {
		t.Fatalf("request_id mismatch: %v vs %q", entry["request_id"], rr.Header().Get(RequestIDHeader))
	}
}

func TestGin_AccessLogSeesGinStatus(t *testing.T) {
	gin.SetMode(gin.TestMode)
	buf := captureLogs(t)

	r := gin.New()
	r.Use(Gin(RequestID, AccessLog))
	r.GET("/api/ping", func(c *gin.Context) {
		if GetRequestID(c.Request.Context()) == "" {
			t.Errorf("missing request id in context")
		}
		c.JSON(http.StatusTeapot, gin.H{"ok": true})
	})

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/ping", nil))
	if rr.Code != http.StatusTeapot {
		t.Fatalf("status=%d", rr.Code)
	}
	if !strings.Contains(buf.String(), `"status":418`) {
		t.Fatalf("access log missing gin status: %s", buf.String())
	}
}

func TestGin_AbortsWhenMiddlewareStops(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Gin(BodyCache(4)))
	reached := false
	r.POST("/hook", func(c *gin.Context) {
		reached = true
		c.Status(http.StatusOK)
	})

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/hook", strings.NewReader("too long body")))
	if reached {
		t.Fatalf("handler should not run")
	}
	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status=%d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"error":"Request body too large"`) {
		t.Fatalf("body=%s", rr.Body.String())
	}
}

func TestBodyCache_ExposesRawBody(t *testing.T) {
	var seen []byte
	h := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = CachedBody(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}), BodyCache(0))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/webhooks/stripe", strings.NewReader(`{"id":"evt_1"}`)))
	if string(seen) != `{"id":"evt_1"}` {
		t.Fatalf("cached body=%q", seen)
	}
}
