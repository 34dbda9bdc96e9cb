package access

import (
	"crypto/subtle"
	"strings"
)

// DevBypass 是仅在 env=dev 下可用的固定管理员凭据。
type DevBypass struct {
	Enabled  bool
	Email    string
	Password string
}

// Match 以常量时间比较凭据；未启用时恒为 false。
func (b DevBypass) Match(email, password string) bool {
	if !b.Enabled || b.Email == "" || b.Password == "" {
		return false
	}
	e := subtle.ConstantTimeCompare([]byte(strings.ToLower(strings.TrimSpace(email))), []byte(strings.ToLower(b.Email)))
	p := subtle.ConstantTimeCompare([]byte(password), []byte(b.Password))
	return e&p == 1
}
