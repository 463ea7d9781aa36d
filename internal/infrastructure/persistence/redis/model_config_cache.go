package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"z-novel-setting-api/internal/domain/entity"
	"z-novel-setting-api/internal/domain/repository"
	"z-novel-setting-api/pkg/metrics"
)

const defaultModelConfigTTL = 5 * time.Minute

// CachedModelConfigRepository 为用户模型配置加一层 Redis 读穿缓存。
// 未找到的结果同样缓存，避免不存在的配置 ID 反复回源。
type CachedModelConfigRepository struct {
	inner repository.ModelConfigRepository
	cache *Cache
	ttl   time.Duration
}

var _ repository.ModelConfigRepository = (*CachedModelConfigRepository)(nil)

// NewCachedModelConfigRepository 创建带缓存的模型配置仓储
func NewCachedModelConfigRepository(inner repository.ModelConfigRepository, cache *Cache, ttl time.Duration) *CachedModelConfigRepository {
	if ttl <= 0 {
		ttl = defaultModelConfigTTL
	}
	return &CachedModelConfigRepository{inner: inner, cache: cache, ttl: ttl}
}

// modelConfigRecord 缓存载荷；entity 的 JSON 形式不含密钥，这里单独定义
type modelConfigRecord struct {
	Found       bool    `json:"found"`
	ID          string  `json:"id,omitempty"`
	UserID      string  `json:"user_id,omitempty"`
	Provider    string  `json:"provider,omitempty"`
	Model       string  `json:"model,omitempty"`
	BaseURL     string  `json:"base_url,omitempty"`
	APIKey      string  `json:"api_key,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
	Enabled     bool    `json:"enabled,omitempty"`
}

func toRecord(mc *entity.UserModelConfig) modelConfigRecord {
	if mc == nil {
		return modelConfigRecord{}
	}
	return modelConfigRecord{
		Found:       true,
		ID:          mc.ID,
		UserID:      mc.UserID,
		Provider:    mc.Provider,
		Model:       mc.Model,
		BaseURL:     mc.BaseURL,
		APIKey:      mc.APIKey,
		MaxTokens:   mc.MaxTokens,
		Temperature: mc.Temperature,
		Enabled:     mc.Enabled,
	}
}

func (r modelConfigRecord) entity() *entity.UserModelConfig {
	if !r.Found {
		return nil
	}
	return &entity.UserModelConfig{
		ID:          r.ID,
		UserID:      r.UserID,
		Provider:    r.Provider,
		Model:       r.Model,
		BaseURL:     r.BaseURL,
		APIKey:      r.APIKey,
		MaxTokens:   r.MaxTokens,
		Temperature: r.Temperature,
		Enabled:     r.Enabled,
	}
}

// ModelConfigCacheKey 构建模型配置缓存键
func ModelConfigCacheKey(userID, id string) string {
	return fmt.Sprintf("model_config:%s:%s", userID, id)
}

// GetByID 先读缓存，未命中时回源数据库
func (r *CachedModelConfigRepository) GetByID(ctx context.Context, userID, id string) (*entity.UserModelConfig, error) {
	data, result, err := r.cache.GetOrLoad(ctx, ModelConfigCacheKey(userID, id), r.ttl, func(ctx context.Context) (any, error) {
		mc, err := r.inner.GetByID(ctx, userID, id)
		if err != nil {
			return nil, err
		}
		return toRecord(mc), nil
	})
	metrics.CacheLookupsTotal.WithLabelValues("model_config", string(result)).Inc()
	if err != nil {
		return nil, err
	}

	var rec modelConfigRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode cached model config: %w", err)
	}
	return rec.entity(), nil
}
