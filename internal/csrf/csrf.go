// Package csrf 签发并校验与会话绑定的一次性防伪令牌。
//
// 令牌格式：base64url(nonce) "." unix秒 "." base64url(HMAC-SHA256(secret, nonce|sid|ts))。
// MAC 校验通过后 nonce 写入 ReplayStore，同一令牌只能成功校验一次。
package csrf

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	ErrMissing   = errors.New("csrf: 令牌缺失")
	ErrMalformed = errors.New("csrf: 令牌格式错误")
	ErrExpired   = errors.New("csrf: 令牌已过期")
	ErrMismatch  = errors.New("csrf: 令牌与会话不匹配")
	ErrReplayed  = errors.New("csrf: 令牌已被使用")
)

const nonceLen = 16

// ReplayStore 记录已消费的 nonce。Claim 首次返回 true，重复返回 false。
type ReplayStore interface {
	Claim(ctx context.Context, nonce string, ttl time.Duration) (bool, error)
}

type Service struct {
	secret []byte
	ttl    time.Duration
	replay ReplayStore
	now    func() time.Time
}

// New 创建服务；replay 为 nil 时不做一次性限制。
func New(secret string, ttl time.Duration, replay ReplayStore) (*Service, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("csrf secret 不能为空")
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Service{secret: []byte(secret), ttl: ttl, replay: replay, now: time.Now}, nil
}

func (s *Service) TTL() time.Duration { return s.ttl }

func (s *Service) Generate(sessionID string) (string, error) {
	if sessionID == "" {
		return "", errors.New("csrf: 会话 id 不能为空")
	}
	nonce := make([]byte, nonceLen)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("生成随机数失败: %w", err)
	}
	ts := strconv.FormatInt(s.now().Unix(), 10)
	n := base64.RawURLEncoding.EncodeToString(nonce)
	return n + "." + ts + "." + base64.RawURLEncoding.EncodeToString(s.mac(n, sessionID, ts)), nil
}

func (s *Service) mac(nonce, sessionID, ts string) []byte {
	h := hmac.New(sha256.New, s.secret)
	h.Write([]byte(nonce))
	h.Write([]byte{'|'})
	h.Write([]byte(sessionID))
	h.Write([]byte{'|'})
	h.Write([]byte(ts))
	return h.Sum(nil)
}

// Verify 校验令牌并消费 nonce。
func (s *Service) Verify(ctx context.Context, sessionID, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return ErrMissing
	}
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return ErrMalformed
	}
	nonce, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil || len(nonce) != nonceLen {
		return ErrMalformed
	}
	issued, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return ErrMalformed
	}
	sig, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil || len(sig) != sha256.Size {
		return ErrMalformed
	}
	if sessionID == "" || !hmac.Equal(sig, s.mac(parts[0], sessionID, parts[1])) {
		return ErrMismatch
	}

	now := s.now()
	expires := time.Unix(issued, 0).Add(s.ttl)
	if issued > now.Add(time.Minute).Unix() || !now.Before(expires) {
		return ErrExpired
	}

	if s.replay == nil {
		return nil
	}
	ok, err := s.replay.Claim(ctx, parts[0], expires.Sub(now))
	if err != nil {
		return fmt.Errorf("csrf: 记录令牌失败: %w", err)
	}
	if !ok {
		return ErrReplayed
	}
	return nil
}

// Reason 返回用于指标标签的失败原因。
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrMissing):
		return "missing"
	case errors.Is(err, ErrMalformed):
		return "malformed"
	case errors.Is(err, ErrExpired):
		return "expired"
	case errors.Is(err, ErrMismatch):
		return "mismatch"
	case errors.Is(err, ErrReplayed):
		return "replayed"
	default:
		return "error"
	}
}
