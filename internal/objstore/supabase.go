package objstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Supabase 通过 Storage REST API 读写对象。bucket 不存在时会自动创建一次（public）。
type Supabase struct {
	baseURL    string
	serviceKey string
	bucket     string
	hc         *http.Client

	bucketMu    sync.Mutex
	bucketReady bool
}

func NewSupabase(baseURL, serviceKey, bucket string, hc *http.Client) (*Supabase, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" || strings.TrimSpace(serviceKey) == "" {
		return nil, errors.New("supabase_url/supabase_service_key 不能为空")
	}
	if strings.TrimSpace(bucket) == "" {
		return nil, errors.New("bucket 不能为空")
	}
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	return &Supabase{baseURL: baseURL, serviceKey: serviceKey, bucket: bucket, hc: hc}, nil
}

func (s *Supabase) PublicURL(key string) string {
	return s.baseURL + "/storage/v1/object/public/" + s.bucket + "/" + escapeKey(key)
}

func (s *Supabase) objectURL(key string) string {
	return s.baseURL + "/storage/v1/object/" + s.bucket + "/" + escapeKey(key)
}

// Put 需要重试时会重放 body，因此先整体读入内存；上传对象均为图片，大小有上限。
func (s *Supabase) Put(ctx context.Context, key, contentType string, r io.Reader) (string, error) {
	key = cleanKey(key)
	if key == "" {
		return "", errors.New("对象路径为空")
	}
	body, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("读取上传内容失败: %w", err)
	}
	if contentType == "" {
		contentType = http.DetectContentType(body)
	}

	status, respBody, err := s.upload(ctx, key, contentType, body)
	if err != nil {
		return "", err
	}
	if isBucketMissing(status, respBody) {
		if err := s.ensureBucket(ctx); err != nil {
			return "", err
		}
		status, respBody, err = s.upload(ctx, key, contentType, body)
		if err != nil {
			return "", err
		}
	}
	if status < 200 || status >= 300 {
		return "", fmt.Errorf("supabase 上传失败: status=%d body=%s", status, truncate(respBody))
	}
	return s.PublicURL(key), nil
}

func (s *Supabase) upload(ctx context.Context, key, contentType string, body []byte) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.objectURL(key), bytes.NewReader(body))
	if err != nil {
		return 0, nil, fmt.Errorf("构造上传请求失败: %w", err)
	}
	s.authorize(req)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("x-upsert", "true")
	req.Header.Set("Cache-Control", "max-age=31536000")
	return s.do(req)
}

func (s *Supabase) ensureBucket(ctx context.Context) error {
	s.bucketMu.Lock()
	defer s.bucketMu.Unlock()
	if s.bucketReady {
		return nil
	}

	payload, _ := sjson.SetBytes([]byte(`{}`), "id", s.bucket)
	payload, _ = sjson.SetBytes(payload, "name", s.bucket)
	payload, _ = sjson.SetBytes(payload, "public", true)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/storage/v1/bucket", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("构造建桶请求失败: %w", err)
	}
	s.authorize(req)
	req.Header.Set("Content-Type", "application/json")
	status, body, err := s.do(req)
	if err != nil {
		return err
	}
	// 并发实例可能已经建好。
	if status >= 300 && !strings.Contains(strings.ToLower(gjson.GetBytes(body, "error").String()), "duplicate") {
		return fmt.Errorf("supabase 建桶失败: status=%d body=%s", status, truncate(body))
	}
	s.bucketReady = true
	return nil
}

func (s *Supabase) Get(ctx context.Context, key string) (Object, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.objectURL(cleanKey(key)), nil)
	if err != nil {
		return Object{}, fmt.Errorf("构造下载请求失败: %w", err)
	}
	s.authorize(req)
	resp, err := s.hc.Do(req)
	if err != nil {
		return Object{}, fmt.Errorf("supabase 下载失败: %w", err)
	}
	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusBadRequest {
		_ = resp.Body.Close()
		return Object{}, ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		_ = resp.Body.Close()
		return Object{}, fmt.Errorf("supabase 下载失败: status=%d body=%s", resp.StatusCode, truncate(b))
	}
	return Object{Body: resp.Body, ContentType: resp.Header.Get("Content-Type"), Size: resp.ContentLength}, nil
}

func (s *Supabase) Exists(ctx context.Context, key string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, s.objectURL(cleanKey(key)), nil)
	if err != nil {
		return false, fmt.Errorf("构造请求失败: %w", err)
	}
	s.authorize(req)
	resp, err := s.hc.Do(req)
	if err != nil {
		return false, fmt.Errorf("supabase 请求失败: %w", err)
	}
	_ = resp.Body.Close()
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return true, nil
	case resp.StatusCode == http.StatusNotFound, resp.StatusCode == http.StatusBadRequest:
		return false, nil
	default:
		return false, fmt.Errorf("supabase 请求失败: status=%d", resp.StatusCode)
	}
}

func (s *Supabase) authorize(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+s.serviceKey)
	req.Header.Set("apikey", s.serviceKey)
}

func (s *Supabase) do(req *http.Request) (int, []byte, error) {
	resp, err := s.hc.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("supabase 请求失败: %w", err)
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return 0, nil, fmt.Errorf("读取 supabase 响应失败: %w", err)
	}
	return resp.StatusCode, b, nil
}

// isBucketMissing 兼容两种返回：HTTP 404，或 HTTP 400 且 body.statusCode="404"。
func isBucketMissing(status int, body []byte) bool {
	if status != http.StatusNotFound && status != http.StatusBadRequest {
		return false
	}
	msg := strings.ToLower(gjson.GetBytes(body, "message").String() + " " + gjson.GetBytes(body, "error").String())
	if !strings.Contains(msg, "bucket not found") {
		return false
	}
	code := gjson.GetBytes(body, "statusCode").String()
	return status == http.StatusNotFound || code == strconv.Itoa(http.StatusNotFound)
}

func escapeKey(key string) string {
	parts := strings.Split(cleanKey(key), "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}

func truncate(b []byte) string {
	const max = 256
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
