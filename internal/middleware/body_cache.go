package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
)

type bodyKey int

const cachedBodyKey bodyKey = 1

// BodyCache 读出完整请求体并放入 context，支付回调验签需要原始字节。maxBytes <= 0 表示不限制。
func BodyCache(maxBytes int64) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body == nil || r.Body == http.NoBody {
				next.ServeHTTP(w, r)
				return
			}
			defer r.Body.Close()

			var src io.Reader = r.Body
			if maxBytes > 0 {
				src = io.LimitReader(r.Body, maxBytes+1)
			}
			b, err := io.ReadAll(src)
			if err != nil {
				writeJSONError(w, http.StatusBadRequest, "Failed to read request body")
				return
			}
			if maxBytes > 0 && int64(len(b)) > maxBytes {
				writeJSONError(w, http.StatusRequestEntityTooLarge, "Request body too large")
				return
			}
			ctx := context.WithValue(r.Context(), cachedBodyKey, b)
			r.Body = io.NopCloser(bytes.NewReader(b))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func CachedBody(ctx context.Context) []byte {
	b, _ := ctx.Value(cachedBodyKey).([]byte)
	return b
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	h := w.Header()
	h.Set("Content-Type", "application/json; charset=utf-8")
	h.Set("Cache-Control", "no-store, no-cache, must-revalidate, max-age=0")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
