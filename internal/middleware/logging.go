package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

type statusWriter struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(p []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(p)
	w.bytes += int64(n)
	return n, err
}

func (w *statusWriter) Flush() {
	if fl, ok := w.ResponseWriter.(http.Flusher); ok {
		fl.Flush()
	}
}

// result 优先使用自身统计；经 Gin 适配时写入绕过了 statusWriter，改读 gin.ResponseWriter。
func (w *statusWriter) result() (int, int64) {
	if w.status != 0 {
		return w.status, w.bytes
	}
	if gw, ok := w.ResponseWriter.(interface {
		Status() int
		Size() int
	}); ok {
		size := int64(gw.Size())
		if size < 0 {
			size = 0
		}
		return gw.Status(), size
	}
	return http.StatusOK, w.bytes
}

type accessInfo struct {
	userID string
}

// AnnotateUser 把通过访问控制的用户 ID 记入当前请求的访问日志。
func AnnotateUser(ctx context.Context, userID string) {
	if info, ok := ctx.Value(accessInfoKey).(*accessInfo); ok {
		info.userID = userID
	}
}

// AccessLog 输出结构化访问日志，不记录请求体、query 与任何凭据。
func AccessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w}
		info := &accessInfo{}
		r = r.WithContext(context.WithValue(r.Context(), accessInfoKey, info))
		start := time.Now()
		next.ServeHTTP(sw, r)
		lat := time.Since(start)

		status, n := sw.result()
		var userID any
		if info.userID != "" {
			userID = info.userID
		}
		level := slog.LevelInfo
		if status >= http.StatusInternalServerError {
			level = slog.LevelWarn
		}
		slog.Log(r.Context(), level, "access",
			"request_id", GetRequestID(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"bytes", n,
			"latency_ms", lat.Milliseconds(),
			"user_id", userID,
		)
	})
}
