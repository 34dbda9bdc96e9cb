package objstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// ErrInvalidKey 表示对象路径越界或包含非法字符。
var ErrInvalidKey = errors.New("对象路径非法")

// Local 把对象写入本地目录，通过 PublicPrefix（默认 /uploads）对外提供。
type Local struct {
	baseDir      string
	publicPrefix string
}

func NewLocal(baseDir, publicPrefix string) *Local {
	publicPrefix = "/" + strings.Trim(strings.TrimSpace(publicPrefix), "/")
	if publicPrefix == "/" {
		publicPrefix = "/uploads"
	}
	return &Local{baseDir: strings.TrimSpace(baseDir), publicPrefix: publicPrefix}
}

func (s *Local) BaseDir() string { return s.baseDir }

func (s *Local) PublicURL(key string) string {
	return s.publicPrefix + "/" + cleanKey(key)
}

// Put 先写临时文件再 rename，读者不会看到半写入的对象。
func (s *Local) Put(_ context.Context, key, _ string, r io.Reader) (string, error) {
	finalPath, err := s.Resolve(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(finalPath), 0o755); err != nil {
		return "", fmt.Errorf("创建上传目录失败: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(finalPath), ".upload-*.tmp")
	if err != nil {
		return "", fmt.Errorf("创建上传文件失败: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = tmp.Close()
	}()

	if _, err := io.Copy(tmp, r); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("写入上传文件失败: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("关闭上传文件失败: %w", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("落盘上传文件失败: %w", err)
	}
	return s.PublicURL(key), nil
}

func (s *Local) Get(_ context.Context, key string) (Object, error) {
	p, err := s.Resolve(key)
	if err != nil {
		return Object{}, err
	}
	f, err := os.Open(p)
	if errors.Is(err, os.ErrNotExist) {
		return Object{}, ErrNotFound
	}
	if err != nil {
		return Object{}, fmt.Errorf("打开对象失败: %w", err)
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return Object{}, fmt.Errorf("读取对象信息失败: %w", err)
	}
	if st.IsDir() {
		_ = f.Close()
		return Object{}, ErrNotFound
	}
	ct := mime.TypeByExtension(filepath.Ext(p))
	if ct == "" {
		head := make([]byte, 512)
		n, _ := io.ReadFull(f, head)
		ct = http.DetectContentType(head[:n])
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			_ = f.Close()
			return Object{}, fmt.Errorf("读取对象失败: %w", err)
		}
	}
	return Object{Body: f, ContentType: ct, Size: st.Size()}, nil
}

func (s *Local) Exists(_ context.Context, key string) (bool, error) {
	p, err := s.Resolve(key)
	if err != nil {
		return false, err
	}
	st, err := os.Stat(p)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("读取对象信息失败: %w", err)
	}
	return !st.IsDir(), nil
}

// Resolve 把 key 映射为 baseDir 内的绝对路径，拒绝任何越界路径。
func (s *Local) Resolve(key string) (string, error) {
	if s.baseDir == "" {
		return "", errors.New("上传目录未配置")
	}
	rel := strings.TrimSpace(key)
	if rel == "" || strings.Contains(rel, "\x00") || strings.Contains(rel, "\\") {
		return "", ErrInvalidKey
	}
	cleanRel := filepath.Clean(filepath.FromSlash(rel))
	if cleanRel == "." || filepath.IsAbs(cleanRel) ||
		cleanRel == ".." || strings.HasPrefix(cleanRel, ".."+string(filepath.Separator)) {
		return "", ErrInvalidKey
	}

	base := filepath.Clean(s.baseDir)
	full := filepath.Clean(filepath.Join(base, cleanRel))
	if !strings.HasPrefix(full, base+string(filepath.Separator)) {
		return "", ErrInvalidKey
	}
	return full, nil
}
