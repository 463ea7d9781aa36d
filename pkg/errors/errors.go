// Package errors 提供统一的错误定义
package errors

import (
	"fmt"
	"net/http"
)

// ErrorCode 错误码类型
type ErrorCode string

// 预定义错误码
const (
	// 通用错误 (1xxx)
	CodeInvalidParam       ErrorCode = "1001"
	CodeUnauthorized       ErrorCode = "1002"
	CodeConflict           ErrorCode = "1005"
	CodeTooManyRequests    ErrorCode = "1006"
	CodeInternalError      ErrorCode = "1007"
	CodeServiceUnavailable ErrorCode = "1008"

	// 认证错误 (2xxx)
	CodeTokenExpired ErrorCode = "2001"
	CodeTokenInvalid ErrorCode = "2002"
	CodeTokenMissing ErrorCode = "2003"

	// 资源错误 (3xxx)
	CodeSessionNotFound ErrorCode = "3005"
	CodeNodeNotFound    ErrorCode = "3006"
	CodeHistoryNotFound ErrorCode = "3007"

	// 设定生成错误 (4xxx)
	CodeGenerationFailed    ErrorCode = "4001"
	CodeValidationFailed    ErrorCode = "4002"
	CodeSessionNotReady     ErrorCode = "4007"
	CodeScopeViolation      ErrorCode = "4008"
	CodeInsufficientCredits ErrorCode = "4009"
	CodeModelConfigInvalid  ErrorCode = "4010"
)

var httpStatus = map[ErrorCode]int{
	CodeInvalidParam:        http.StatusBadRequest,
	CodeValidationFailed:    http.StatusBadRequest,
	CodeModelConfigInvalid:  http.StatusBadRequest,
	CodeUnauthorized:        http.StatusUnauthorized,
	CodeTokenExpired:        http.StatusUnauthorized,
	CodeTokenInvalid:        http.StatusUnauthorized,
	CodeTokenMissing:        http.StatusUnauthorized,
	CodeInsufficientCredits: http.StatusPaymentRequired,
	CodeSessionNotFound:     http.StatusNotFound,
	CodeNodeNotFound:        http.StatusNotFound,
	CodeHistoryNotFound:     http.StatusNotFound,
	CodeConflict:            http.StatusConflict,
	CodeSessionNotReady:     http.StatusConflict,
	CodeScopeViolation:      http.StatusUnprocessableEntity,
	CodeTooManyRequests:     http.StatusTooManyRequests,
	CodeServiceUnavailable:  http.StatusServiceUnavailable,
}

// AppError 应用错误
type AppError struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	Detail     string    `json:"detail,omitempty"`
	HTTPStatus int       `json:"-"`
	Err        error     `json:"-"`
}

// Error 实现 error 接口
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap 返回底层错误
func (e *AppError) Unwrap() error {
	return e.Err
}

// Is 错误码相同即视为同一错误，WithDetail 产生的副本也能匹配预定义错误
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	return ok && t.Code == e.Code
}

// WithDetail 返回带详细信息的副本，预定义错误不会被修改
func (e *AppError) WithDetail(detail string) *AppError {
	cp := *e
	cp.Detail = detail
	return &cp
}

// WithError 返回带底层错误的副本
func (e *AppError) WithError(err error) *AppError {
	cp := *e
	cp.Err = err
	return &cp
}

// New 创建新的应用错误，未登记的错误码按 500 处理
func New(code ErrorCode, message string) *AppError {
	status, ok := httpStatus[code]
	if !ok {
		status = http.StatusInternalServerError
	}
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: status,
	}
}

// 预定义错误
var (
	ErrInvalidParam       = New(CodeInvalidParam, "invalid parameter")
	ErrUnauthorized       = New(CodeUnauthorized, "unauthorized")
	ErrConflict           = New(CodeConflict, "resource conflict")
	ErrTooManyRequests    = New(CodeTooManyRequests, "rate limit exceeded")
	ErrInternalError      = New(CodeInternalError, "internal server error")
	ErrServiceUnavailable = New(CodeServiceUnavailable, "service unavailable")

	ErrTokenExpired = New(CodeTokenExpired, "token expired")
	ErrTokenInvalid = New(CodeTokenInvalid, "token invalid")
	ErrTokenMissing = New(CodeTokenMissing, "token missing")

	ErrSessionNotFound = New(CodeSessionNotFound, "generation session not found")
	ErrNodeNotFound    = New(CodeNodeNotFound, "setting node not found")
	ErrHistoryNotFound = New(CodeHistoryNotFound, "setting history not found")

	ErrGenerationFailed    = New(CodeGenerationFailed, "setting generation failed")
	ErrValidationFailed    = New(CodeValidationFailed, "validation failed")
	ErrSessionNotReady     = New(CodeSessionNotReady, "generation session not ready")
	ErrScopeViolation      = New(CodeScopeViolation, "modification scope violation")
	ErrInsufficientCredits = New(CodeInsufficientCredits, "insufficient credits")
	ErrModelConfigInvalid  = New(CodeModelConfigInvalid, "model config invalid")
)
