// Package service 定义跨层共享的模型调用上下文与计费端口
package service

import (
	"context"
	"strings"
)

const unknownLabel = "unknown"

type callInfoKey struct{}

// callInfo 一次模型调用的归属信息，随 context 传到 eino 全局回调
type callInfo struct {
	workflow string
	provider string
	billing  *UsageBilling
}

func callInfoFrom(ctx context.Context) callInfo {
	if ctx == nil {
		return callInfo{}
	}
	info, _ := ctx.Value(callInfoKey{}).(callInfo)
	return info
}

// withCallInfo 复制后修改，父 context 上的值不受影响
func withCallInfo(ctx context.Context, fn func(*callInfo)) context.Context {
	if ctx == nil {
		return nil
	}
	info := callInfoFrom(ctx)
	fn(&info)
	return context.WithValue(ctx, callInfoKey{}, info)
}

// WithWorkflowProvider 标记调用所属工作流与模型提供方，空值保留原有标记
func WithWorkflowProvider(ctx context.Context, workflow, provider string) context.Context {
	workflow, provider = strings.TrimSpace(workflow), strings.TrimSpace(provider)
	if workflow == "" && provider == "" {
		return ctx
	}
	return withCallInfo(ctx, func(info *callInfo) {
		if workflow != "" {
			info.workflow = workflow
		}
		if provider != "" {
			info.provider = provider
		}
	})
}

// WorkflowFromContext 指标标签使用，缺失时为 unknown
func WorkflowFromContext(ctx context.Context) string {
	return labelOrUnknown(callInfoFrom(ctx).workflow)
}

// ProviderFromContext 指标标签使用，缺失时为 unknown
func ProviderFromContext(ctx context.Context) string {
	return labelOrUnknown(callInfoFrom(ctx).provider)
}

func labelOrUnknown(s string) string {
	if s == "" {
		return unknownLabel
	}
	return s
}

// UsageBilling 共享池调用的计费信息，私有模型调用不携带
type UsageBilling struct {
	UserID           string
	SessionID        string
	InputPricePer1K  float64
	OutputPricePer1K float64
}

// WithBilling 没有用户的计费信息直接忽略
func WithBilling(ctx context.Context, b UsageBilling) context.Context {
	if strings.TrimSpace(b.UserID) == "" {
		return ctx
	}
	return withCallInfo(ctx, func(info *callInfo) { info.billing = &b })
}

func BillingFromContext(ctx context.Context) (UsageBilling, bool) {
	b := callInfoFrom(ctx).billing
	if b == nil {
		return UsageBilling{}, false
	}
	return *b, true
}
