package objstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"storefront/internal/security"
)

const (
	DefaultMaxImageBytes = 10 << 20
	imageCachePrefix     = "image-cache/"
)

var (
	ErrNotImage      = errors.New("远端内容不是图片")
	ErrImageTooLarge = errors.New("图片超过大小上限")
	ErrFetchFailed   = errors.New("拉取远端图片失败")
)

// ImageCache 把外部图片转存到对象存储，之后直接返回存储中的公开地址。
// 同一 URL 的并发请求只拉取一次。
type ImageCache struct {
	store    Storage
	client   *http.Client
	allow    security.HostAllowlist
	maxBytes int64
	validate func(string, security.HostAllowlist) (*url.URL, error)

	known *expirable.LRU[string, string]
	group singleflight.Group
}

type ImageCacheOptions struct {
	AllowedHosts security.HostAllowlist
	TTL          time.Duration
	MaxBytes     int64
	// AllowPrivate 放行内网地址，仅用于测试。
	AllowPrivate bool
	// Client 为空时使用拒绝内网地址的客户端。
	Client *http.Client
}

func NewImageCache(store Storage, opts ImageCacheOptions) *ImageCache {
	if opts.TTL <= 0 {
		opts.TTL = 24 * time.Hour
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = DefaultMaxImageBytes
	}
	if opts.Client == nil {
		opts.Client = security.SafeHTTPClient(20*time.Second, opts.AllowPrivate)
	}
	validate := security.ValidateFetchURL
	if opts.AllowPrivate {
		validate = security.ParseFetchURL
	}
	return &ImageCache{
		validate: validate,
		store:    store,
		client:   opts.Client,
		allow:    opts.AllowedHosts,
		maxBytes: opts.MaxBytes,
		known:    expirable.NewLRU[string, string](4096, nil, opts.TTL),
	}
}

// Key 返回 URL 对应的对象 key。
func Key(rawURL string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(rawURL)))
	return imageCachePrefix + hex.EncodeToString(sum[:])
}

// Resolve 返回图片在对象存储中的公开地址；不在存储中时先拉取并写入。
func (c *ImageCache) Resolve(ctx context.Context, rawURL string) (string, error) {
	u, err := c.validate(rawURL, c.allow)
	if err != nil {
		return "", err
	}
	key := Key(u.String())
	if v, ok := c.known.Get(key); ok {
		return v, nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		exists, err := c.store.Exists(ctx, key)
		if err != nil {
			return "", err
		}
		if exists {
			return c.store.PublicURL(key), nil
		}
		body, contentType, err := c.fetch(ctx, u.String())
		if err != nil {
			return "", err
		}
		return c.store.Put(ctx, key, contentType, bytes.NewReader(body))
	})
	if err != nil {
		return "", err
	}
	public := v.(string)
	c.known.Add(key, public)
	return public, nil
}

func (c *ImageCache) fetch(ctx context.Context, rawURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	req.Header.Set("Accept", "image/*")
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("%w: status=%d", ErrFetchFailed, resp.StatusCode)
	}
	if resp.ContentLength > c.maxBytes {
		return nil, "", ErrImageTooLarge
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	if int64(len(body)) > c.maxBytes {
		return nil, "", ErrImageTooLarge
	}

	contentType := resp.Header.Get("Content-Type")
	if mt, _, err := mime.ParseMediaType(contentType); err == nil {
		contentType = mt
	} else {
		contentType = http.DetectContentType(body)
	}
	if !IsRasterImage(contentType) {
		return nil, "", ErrNotImage
	}
	return body, contentType, nil
}

// IsRasterImage 只接受 image/*，SVG 可携带脚本因此排除。
func IsRasterImage(contentType string) bool {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	return strings.HasPrefix(ct, "image/") && !strings.HasPrefix(ct, "image/svg")
}
