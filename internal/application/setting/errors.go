// Package setting 实现流式文本到设定树的混合生成引擎
package setting

import (
	"errors"
	"fmt"

	"z-novel-setting-api/internal/application/quota"
	"z-novel-setting-api/internal/domain/entity"
)

var (
	ErrSessionNotFound = errors.New("generation session not found")
	ErrNodeNotFound    = errors.New("setting node not found")
	ErrSessionNotReady = errors.New("generation session not ready")
	ErrHistoryNotFound = errors.New("setting history not found")
	ErrInvalidInput    = errors.New("invalid input")
	ErrSessionBusy     = errors.New("another modification is in progress")

	// errDiscarded 会话已不在可接收结果的状态，结果被丢弃
	errDiscarded = errors.New("session no longer accepts results")
)

// ValidationCode 节点校验失败原因
type ValidationCode string

const (
	ValidationEmptyName           ValidationCode = "EMPTY_NAME"
	ValidationEmptyDescription    ValidationCode = "EMPTY_DESCRIPTION"
	ValidationInvalidType         ValidationCode = "INVALID_TYPE"
	ValidationNameTooLong         ValidationCode = "NAME_TOO_LONG"
	ValidationDescriptionTooLong  ValidationCode = "DESCRIPTION_TOO_LONG"
	ValidationUnresolvedParent    ValidationCode = "UNRESOLVED_PARENT"
	ValidationCycle               ValidationCode = "CYCLE"
	ValidationDuplicateNode       ValidationCode = "DUPLICATE_NODE"
	ValidationScopeViolation      ValidationCode = "SCOPE_VIOLATION"
	ValidationParentChangeBlocked ValidationCode = "PARENT_CHANGE_NOT_ALLOWED"
	ValidationReservedTempID      ValidationCode = "RESERVED_TEMP_ID"
)

// ValidationError 候选节点被拒绝（可恢复）
type ValidationError struct {
	Code    ValidationCode
	Message string
	NodeID  string
	Name    string
}

func (e *ValidationError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("validation failed [%s] %q: %s", e.Code, e.Name, e.Message)
	}
	return fmt.Sprintf("validation failed [%s]: %s", e.Code, e.Message)
}

// IsScopeViolation 是否为范围越界
func (e *ValidationError) IsScopeViolation() bool {
	return e.Code == ValidationScopeViolation || e.Code == ValidationParentChangeBlocked
}

// ParseError 抽取结果无法解释（可恢复，触发兜底解析）
type ParseError struct {
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse extraction result: %s: %v", e.Reason, e.Err)
	}
	return "parse extraction result: " + e.Reason
}

func (e *ParseError) Unwrap() error { return e.Err }

// TransientProviderError 限流或流中断，有限次重试后视为本轮提前结束
type TransientProviderError struct {
	Op  string
	Err error
}

func (e *TransientProviderError) Error() string {
	return fmt.Sprintf("transient provider error during %s: %v", e.Op, e.Err)
}

func (e *TransientProviderError) Unwrap() error { return e.Err }

// ModelConfigError 模型配置不可用（仅对当前轮致命）
type ModelConfigError struct {
	ConfigID string
	Reason   string
	Err      error
}

func (e *ModelConfigError) Error() string {
	msg := fmt.Sprintf("model config %q unusable: %s", e.ConfigID, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ModelConfigError) Unwrap() error { return e.Err }

// GenerationFailedError 无任何可用产出的失败，会话进入 ERROR
type GenerationFailedError struct {
	Reason string
	Err    error
}

func (e *GenerationFailedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("generation failed: %s: %v", e.Reason, e.Err)
	}
	return "generation failed: " + e.Reason
}

func (e *GenerationFailedError) Unwrap() error { return e.Err }

// eventErrorCode 将引擎错误映射为事件错误码
func eventErrorCode(err error) string {
	var (
		ve  *ValidationError
		pe  *ParseError
		mce *ModelConfigError
		tpe *TransientProviderError
		ice *quota.InsufficientCreditsError
	)
	switch {
	case errors.As(err, &ve):
		if ve.IsScopeViolation() {
			return entity.EventErrScopeViolation
		}
		return entity.EventErrValidation
	case errors.As(err, &pe):
		return entity.EventErrParse
	case errors.As(err, &mce):
		return entity.EventErrModelConfig
	case errors.As(err, &ice):
		return entity.EventErrInsufficientCredits
	case errors.As(err, &tpe):
		return entity.EventErrProvider
	default:
		return entity.EventErrProvider
	}
}
