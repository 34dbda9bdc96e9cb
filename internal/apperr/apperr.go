// Package apperr 定义路由边界使用的错误分类，每一类对应一个固定的 HTTP 状态码。
package apperr

import (
	"errors"
	"net/http"
)

type Kind int

const (
	KindUnauthenticated Kind = iota + 1
	KindForbidden
	KindValidation
	KindNotFound
	KindConflict
	KindUpstream
)

func (k Kind) Status() int {
	switch k {
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindValidation, KindConflict:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// Error 的 Message 直接返回给客户端；Err 仅用于日志与 details。
type Error struct {
	Kind    Kind
	Message string
	Details map[string]any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Status() int { return e.Kind.Status() }

func Unauthenticated(msg string) *Error { return &Error{Kind: KindUnauthenticated, Message: msg} }
func Forbidden(msg string) *Error       { return &Error{Kind: KindForbidden, Message: msg} }
func NotFound(msg string) *Error        { return &Error{Kind: KindNotFound, Message: msg} }
func Conflict(msg string) *Error        { return &Error{Kind: KindConflict, Message: msg} }

func Validation(msg string, details map[string]any) *Error {
	return &Error{Kind: KindValidation, Message: msg, Details: details}
}

// Upstream 包装外部依赖（数据库/支付/身份提供方）失败，details 携带底层错误信息。
func Upstream(msg string, err error) *Error {
	e := &Error{Kind: KindUpstream, Message: msg, Err: err}
	if err != nil {
		e.Details = map[string]any{"details": err.Error()}
	}
	return e
}

// As 提取 *Error；非分类错误返回 nil。
func As(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return nil
}
