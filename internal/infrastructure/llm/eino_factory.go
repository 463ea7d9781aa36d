package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"

	"z-novel-setting-api/internal/workflow/port"
)

// EinoFactory 按模型路由创建并复用 Eino ChatModel 客户端。
// 用户自带密钥的路由同样缓存，缓存键只包含密钥摘要。
type EinoFactory struct {
	models map[string]model.ToolCallingChatModel
	mu     sync.RWMutex
}

var _ port.ChatModelFactory = (*EinoFactory)(nil)

// NewEinoFactory 创建 Eino LLM 工厂
func NewEinoFactory() *EinoFactory {
	return &EinoFactory{
		models: make(map[string]model.ToolCallingChatModel),
	}
}

// ForRoute 返回路由对应的 ChatModel，不存在时惰性创建
func (f *EinoFactory) ForRoute(ctx context.Context, route port.ModelRoute) (model.ToolCallingChatModel, error) {
	if strings.TrimSpace(route.Model) == "" {
		return nil, fmt.Errorf("model route %q has no model", route.ConfigID)
	}
	key := cacheKey(route)

	f.mu.RLock()
	m, ok := f.models[key]
	f.mu.RUnlock()
	if ok {
		return m, nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	// 再次检查防止竞态
	if m, ok = f.models[key]; ok {
		return m, nil
	}

	cfg := &openai.ChatModelConfig{
		APIKey:  route.APIKey,
		BaseURL: route.BaseURL,
		Model:   route.Model,
		Timeout: route.Timeout,
	}
	if route.MaxTokens > 0 {
		maxTokens := route.MaxTokens
		cfg.MaxTokens = &maxTokens
	}
	if route.Temperature > 0 {
		cfg.Temperature = ptrFloat32(float32(route.Temperature))
	}

	chatModel, err := openai.NewChatModel(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create eino chat model for %s/%s: %w", route.Provider, route.Model, err)
	}

	f.models[key] = chatModel
	return chatModel, nil
}

// Len 已缓存的客户端数量
func (f *EinoFactory) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.models)
}

func cacheKey(route port.ModelRoute) string {
	sum := sha256.Sum256([]byte(route.APIKey))
	return strings.Join([]string{
		string(route.Kind),
		route.Provider,
		route.Model,
		route.BaseURL,
		hex.EncodeToString(sum[:8]),
		strconv.Itoa(route.MaxTokens),
		strconv.FormatFloat(route.Temperature, 'f', -1, 64),
		route.Timeout.String(),
	}, "|")
}

func ptrFloat32(f float32) *float32 {
	return &f
}
