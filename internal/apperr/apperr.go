package apperr

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"gorm.io/gorm"
)

// Kind 错误类别。HTTP 映射与副作用（是否清 cookie）都由类别决定，
// 各 handler 不再自行判断。
type Kind int

const (
	KindValidation Kind = iota
	KindNotFound
	KindStateConflict
	KindAuthFailure
	KindBackendUnavailable
	KindInternal
)

// Error 带类别的业务错误。Code 供客户端做程序化分支（如 SESSION_INVALID）。
type Error struct {
	Kind Kind
	Code string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// HTTPStatus 类别到状态码的统一映射。
// 会话互斥冲突是唯一返回 409 的 StateConflict，由 Code 区分。
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindStateConflict:
		if e.Code == CodeSessionExists {
			return http.StatusConflict
		}
		return http.StatusBadRequest
	case KindAuthFailure:
		return http.StatusUnauthorized
	case KindBackendUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

const (
	CodeSessionExists  = "SESSION_EXISTS"
	CodeSessionInvalid = "SESSION_INVALID"
	CodeOutOfStock     = "OUT_OF_STOCK"
)

func Validation(msg string) *Error    { return &Error{Kind: KindValidation, Msg: msg} }
func NotFound(msg string) *Error      { return &Error{Kind: KindNotFound, Msg: msg} }
func StateConflict(msg string) *Error { return &Error{Kind: KindStateConflict, Msg: msg} }

func AuthFailure(code, msg string) *Error {
	return &Error{Kind: KindAuthFailure, Code: code, Msg: msg}
}

func BackendUnavailable(err error) *Error {
	return &Error{Kind: KindBackendUnavailable, Msg: "service temporarily unavailable", Err: err}
}

func Internal(err error) *Error {
	// 对外不泄露内部细节，原始错误只进日志。
	return &Error{Kind: KindInternal, Msg: "internal error", Err: err}
}

func WithCode(e *Error, code string) *Error {
	e.Code = code
	return e
}

// As 取出 *Error；普通 error 按 Internal 处理。
func As(err error) *Error {
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	return Internal(err)
}

// IsKind 判断错误是否属于某一类别。
func IsKind(err error, k Kind) bool {
	var ae *Error
	return errors.As(err, &ae) && ae.Kind == k
}

// ClassifyDB 把数据层错误归类后再上抛：
// - 记录缺失 → NotFound
// - 连接/超时类故障 → BackendUnavailable（鉴权路径绝不能把它当 AuthFailure）
// - 其余 → Internal
func ClassifyDB(err error, notFoundMsg string) *Error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return NotFound(notFoundMsg)
	}
	if IsUnavailable(err) {
		return BackendUnavailable(err)
	}
	return Internal(err)
}

// IsUnavailable 识别传输层/连接层故障信号。
func IsUnavailable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	s := err.Error()
	for _, marker := range []string{
		"connection refused",
		"connection reset",
		"database is closed",
		"database is locked",
		"i/o timeout",
		"bad connection",
	} {
		if strings.Contains(s, marker) {
			return true
		}
	}
	return false
}

// IsUniqueViolation 识别唯一约束冲突，调用方据此转成领域冲突
// （如并发登录撞上 idx_sessions_user_active）。
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "UNIQUE") || strings.Contains(s, "unique") ||
		strings.Contains(s, "duplicate key")
}
