// Package objstore 提供商品图片等对象的存储：本地目录或 Supabase Storage。
package objstore

import (
	"context"
	"errors"
	"io"
	"strings"
)

var ErrNotFound = errors.New("对象不存在")

// Object 是读取到的对象；调用方负责关闭 Body。
type Object struct {
	Body        io.ReadCloser
	ContentType string
	Size        int64
}

// Storage 的 key 使用 / 分隔的相对路径。
type Storage interface {
	Put(ctx context.Context, key, contentType string, r io.Reader) (string, error)
	Get(ctx context.Context, key string) (Object, error)
	Exists(ctx context.Context, key string) (bool, error)
	PublicURL(key string) string
}

func cleanKey(key string) string {
	return strings.TrimLeft(strings.TrimSpace(key), "/")
}
