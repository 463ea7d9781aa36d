package setting

import (
	"context"
	"sort"
	"strings"

	"z-novel-setting-api/internal/config"
	"z-novel-setting-api/internal/domain/repository"
	"z-novel-setting-api/internal/workflow/port"
)

// ModelRouter 每轮解析一次模型路由：共享池按配置 ID 取平台密钥，
// 私有路由取用户自带配置，未指定时回落到默认 provider。
type ModelRouter struct {
	cfg  *config.LLMConfig
	repo repository.ModelConfigRepository
}

func NewModelRouter(cfg *config.LLMConfig, repo repository.ModelConfigRepository) *ModelRouter {
	return &ModelRouter{cfg: cfg, repo: repo}
}

// Resolve 返回 *ModelConfigError 表示配置不可用
func (r *ModelRouter) Resolve(ctx context.Context, userID, configID string, useSharedPool bool) (port.ModelRoute, error) {
	configID = strings.TrimSpace(configID)
	if useSharedPool {
		return r.resolvePool(configID)
	}
	return r.resolvePrivate(ctx, userID, configID)
}

func (r *ModelRouter) resolvePool(configID string) (port.ModelRoute, error) {
	if len(r.cfg.SharedPool) == 0 {
		return port.ModelRoute{}, &ModelConfigError{ConfigID: configID, Reason: "shared pool is not configured"}
	}
	if configID == "" {
		ids := make([]string, 0, len(r.cfg.SharedPool))
		for id, pc := range r.cfg.SharedPool {
			if pc.Enabled {
				ids = append(ids, id)
			}
		}
		if len(ids) == 0 {
			return port.ModelRoute{}, &ModelConfigError{Reason: "no enabled shared pool model"}
		}
		sort.Strings(ids)
		configID = ids[0]
	}

	pc, ok := r.cfg.SharedPool[configID]
	if !ok {
		return port.ModelRoute{}, &ModelConfigError{ConfigID: configID, Reason: "shared pool model not found"}
	}
	if !pc.Enabled {
		return port.ModelRoute{}, &ModelConfigError{ConfigID: configID, Reason: "shared pool model disabled"}
	}
	if strings.TrimSpace(pc.APIKey) == "" {
		return port.ModelRoute{}, &ModelConfigError{ConfigID: configID, Reason: "shared pool model has no api key"}
	}
	provider := pc.Provider
	if provider == "" {
		provider = r.cfg.DefaultProvider
	}
	return port.ModelRoute{
		Kind:              port.RouteKindSharedPool,
		ConfigID:          configID,
		Provider:          provider,
		Model:             pc.Model,
		BaseURL:           pc.BaseURL,
		APIKey:            pc.APIKey,
		MaxTokens:         pc.MaxTokens,
		Temperature:       pc.Temperature,
		Timeout:           pc.Timeout,
		InputPricePer1K:   pc.InputPricePer1K,
		OutputPricePer1K:  pc.OutputPricePer1K,
		MinBalanceCredits: pc.MinBalanceCredits,
	}, nil
}

func (r *ModelRouter) resolvePrivate(ctx context.Context, userID, configID string) (port.ModelRoute, error) {
	if configID == "" {
		return r.providerRoute(r.cfg.DefaultProvider, "")
	}
	if _, ok := r.cfg.Providers[configID]; ok {
		return r.providerRoute(configID, configID)
	}
	if r.repo == nil {
		return port.ModelRoute{}, &ModelConfigError{ConfigID: configID, Reason: "model config not found"}
	}

	mc, err := r.repo.GetByID(ctx, userID, configID)
	if err != nil {
		return port.ModelRoute{}, &ModelConfigError{ConfigID: configID, Reason: "load model config", Err: err}
	}
	if mc == nil {
		return port.ModelRoute{}, &ModelConfigError{ConfigID: configID, Reason: "model config not found"}
	}
	if !mc.Enabled {
		return port.ModelRoute{}, &ModelConfigError{ConfigID: configID, Reason: "model config disabled"}
	}
	if strings.TrimSpace(mc.APIKey) == "" {
		return port.ModelRoute{}, &ModelConfigError{ConfigID: configID, Reason: "model config has no api key"}
	}

	route := port.ModelRoute{
		Kind:        port.RouteKindPrivate,
		ConfigID:    configID,
		Provider:    mc.Provider,
		Model:       mc.Model,
		BaseURL:     mc.BaseURL,
		APIKey:      mc.APIKey,
		MaxTokens:   mc.MaxTokens,
		Temperature: mc.Temperature,
	}
	// 用户配置缺省项沿用同名 provider 的平台配置
	if pc, ok := r.cfg.Providers[mc.Provider]; ok {
		if route.BaseURL == "" {
			route.BaseURL = pc.BaseURL
		}
		if route.MaxTokens <= 0 {
			route.MaxTokens = pc.MaxTokens
		}
		route.Timeout = pc.Timeout
	}
	return route, nil
}

func (r *ModelRouter) providerRoute(name, configID string) (port.ModelRoute, error) {
	pc, ok := r.cfg.Providers[name]
	if !ok {
		return port.ModelRoute{}, &ModelConfigError{ConfigID: configID, Reason: "provider " + name + " not configured"}
	}
	return port.ModelRoute{
		Kind:        port.RouteKindPrivate,
		ConfigID:    configID,
		Provider:    name,
		Model:       pc.Model,
		BaseURL:     pc.BaseURL,
		APIKey:      pc.APIKey,
		MaxTokens:   pc.MaxTokens,
		Temperature: pc.Temperature,
		Timeout:     pc.Timeout,
	}, nil
}
