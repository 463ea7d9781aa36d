package node

import (
	"context"
	"errors"
	"io"
	"strings"
)

// IsToolsUnsupportedError 判断 Provider 是否不支持 tools/tool_choice 参数
func IsToolsUnsupportedError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "unknown parameter") && strings.Contains(msg, "tool"):
		return true
	case strings.Contains(msg, "tool") && strings.Contains(msg, "not supported"):
		return true
	case strings.Contains(msg, "tool_choice") && strings.Contains(msg, "invalid"):
		return true
	case strings.Contains(msg, "does not support tools"):
		return true
	default:
		return false
	}
}

// IsTransientProviderError 判断是否为可重试的 Provider 错误（限流、网络抖动、流中断、5xx）。
// 上游取消不算瞬时错误。
func IsTransientProviderError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "429"), strings.Contains(msg, "rate limit"), strings.Contains(msg, "too many requests"):
		return true
	case strings.Contains(msg, "status code: 50"), strings.Contains(msg, "bad gateway"), strings.Contains(msg, "service unavailable"):
		return true
	case strings.Contains(msg, "overloaded"), strings.Contains(msg, "temporarily unavailable"):
		return true
	case strings.Contains(msg, "connection reset"), strings.Contains(msg, "broken pipe"), strings.Contains(msg, "unexpected eof"):
		return true
	case strings.Contains(msg, "stream") && (strings.Contains(msg, "interrupt") || strings.Contains(msg, "closed")):
		return true
	case strings.Contains(msg, "timeout") && !errors.Is(err, context.DeadlineExceeded):
		return true
	default:
		return false
	}
}
