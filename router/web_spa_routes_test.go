package router

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestWebSPARoutes_APINoRouteWithGzip_NoClosedWriterError(t *testing.T) {
	prevMode := gin.Mode()
	gin.SetMode(gin.DebugMode)
	defer gin.SetMode(prevMode)

	prevWriter := gin.DefaultWriter
	logBuf := &bytes.Buffer{}
	gin.DefaultWriter = logBuf
	defer func() {
		gin.DefaultWriter = prevWriter
	}()

	engine := gin.New()
	engine.Use(gin.Recovery())
	setWebSPARoutes(engine, Options{
		FrontendIndexPage: []byte("<!doctype html><html><body>INDEX</body></html>"),
	})

	req := httptest.NewRequest(http.MethodGet, "http://example.com/api/not-found", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	rr := httptest.NewRecorder()
	engine.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Header().Get("Content-Type"), "application/json") {
		t.Fatalf("content-type=%q", rr.Header().Get("Content-Type"))
	}

	if strings.Contains(logBuf.String(), "cannot write message to writer during serve error") {
		t.Fatalf("unexpected gin closed-writer debug log: %s", logBuf.String())
	}
}

func TestWebSPARoutes_FrontendRedirect(t *testing.T) {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	setWebSPARoutes(engine, Options{FrontendBaseURL: "https://shop.example.com/"})

	req := httptest.NewRequest(http.MethodGet, "http://api.example.com/products/mug?x=1", nil)
	rr := httptest.NewRecorder()
	engine.ServeHTTP(rr, req)

	if rr.Code != http.StatusMovedPermanently {
		t.Fatalf("status=%d", rr.Code)
	}
	if loc := rr.Header().Get("Location"); loc != "https://shop.example.com/products/mug?x=1" {
		t.Fatalf("location=%q", loc)
	}
}

func TestIsAPIPrefix(t *testing.T) {
	cases := map[string]bool{
		"/api":           true,
		"/api/cart":      true,
		"/apiary":        false,
		"/uploads/a.png": true,
		"/healthz":       true,
		"/metrics":       true,
		"/admin":         false,
		"/checkout/done": false,
	}
	for p, want := range cases {
		if got := isAPIPrefix(p); got != want {
			t.Fatalf("isAPIPrefix(%q)=%v, want %v", p, got, want)
		}
	}
}
