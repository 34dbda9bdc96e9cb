package auth

import "errors"

var (
	ErrMissingToken = errors.New("Authentication required")
	ErrInvalidToken = errors.New("Invalid authentication token")
	// ErrProviderDisabled 总是与 ErrInvalidToken 一起包装返回。
	ErrProviderDisabled = errors.New("未配置身份提供方")
)
