package port

import (
	"context"
	"time"

	"github.com/cloudwego/eino/components/model"
)

// RouteKind 模型路由类型
type RouteKind string

const (
	// RouteKindPrivate 用户自带密钥（或平台默认）模型，不做积分预检
	RouteKindPrivate RouteKind = "private"
	// RouteKindSharedPool 平台共享额度池模型，按积分计费
	RouteKindSharedPool RouteKind = "shared_pool"
)

// ModelRoute 一轮调用所使用的模型路由，每轮解析一次
type ModelRoute struct {
	Kind        RouteKind
	ConfigID    string
	Provider    string
	Model       string
	BaseURL     string
	APIKey      string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration

	// 积分/千 token，仅共享池有效
	InputPricePer1K   float64
	OutputPricePer1K  float64
	MinBalanceCredits int64
}

// IsSharedPool 是否走共享池
func (r ModelRoute) IsSharedPool() bool {
	return r.Kind == RouteKindSharedPool
}

// ChatModelFactory 定义工作流层对 LLM ChatModel 的最小依赖（port）。
type ChatModelFactory interface {
	ForRoute(ctx context.Context, route ModelRoute) (model.ToolCallingChatModel, error)
}
