package setting

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"z-novel-setting-api/internal/config"
	"z-novel-setting-api/internal/domain/entity"
	"z-novel-setting-api/internal/workflow/port"
)

type memModelConfigRepo struct {
	items map[string]*entity.UserModelConfig
	err   error
}

func (r *memModelConfigRepo) GetByID(_ context.Context, userID, id string) (*entity.UserModelConfig, error) {
	if r.err != nil {
		return nil, r.err
	}
	mc, ok := r.items[id]
	if !ok || mc.UserID != userID {
		return nil, nil
	}
	cp := *mc
	return &cp, nil
}

func testLLMConfig() *config.LLMConfig {
	return &config.LLMConfig{
		DefaultProvider: "openai",
		Providers: map[string]config.ProviderConfig{
			"openai":   {APIKey: "sk-platform", BaseURL: "https://api.openai.com/v1", Model: "gpt-4o-mini", MaxTokens: 4096, Timeout: time.Minute},
			"deepseek": {APIKey: "sk-ds", BaseURL: "https://api.deepseek.com/v1", Model: "deepseek-chat", MaxTokens: 8192},
		},
		SharedPool: map[string]config.PoolModelConfig{
			"pool-b": {ProviderConfig: config.ProviderConfig{APIKey: "k", Model: "b"}, Enabled: true, InputPricePer1K: 1, OutputPricePer1K: 2},
			"pool-a": {ProviderConfig: config.ProviderConfig{APIKey: "k", Model: "a"}, Provider: "deepseek", Enabled: true, MinBalanceCredits: 5},
			"pool-c": {ProviderConfig: config.ProviderConfig{APIKey: "k", Model: "c"}, Enabled: false},
			"pool-d": {ProviderConfig: config.ProviderConfig{Model: "d"}, Enabled: true},
		},
	}
}

func modelConfigReason(t *testing.T, err error) string {
	t.Helper()
	var mce *ModelConfigError
	require.True(t, errors.As(err, &mce), "expected *ModelConfigError, got %v", err)
	return mce.Reason
}

func TestResolveSharedPool(t *testing.T) {
	r := NewModelRouter(testLLMConfig(), nil)

	route, err := r.Resolve(context.Background(), "u1", "", true)
	require.NoError(t, err)
	assert.Equal(t, "pool-a", route.ConfigID, "first enabled pool model by id")
	assert.Equal(t, port.RouteKindSharedPool, route.Kind)
	assert.Equal(t, "deepseek", route.Provider)
	assert.Equal(t, int64(5), route.MinBalanceCredits)

	route, err = r.Resolve(context.Background(), "u1", "pool-b", true)
	require.NoError(t, err)
	assert.Equal(t, "openai", route.Provider, "pool entries default to the default provider")
	assert.Equal(t, 2.0, route.OutputPricePer1K)

	_, err = r.Resolve(context.Background(), "u1", "pool-c", true)
	assert.Equal(t, "shared pool model disabled", modelConfigReason(t, err))
	_, err = r.Resolve(context.Background(), "u1", "pool-d", true)
	assert.Equal(t, "shared pool model has no api key", modelConfigReason(t, err))
	_, err = r.Resolve(context.Background(), "u1", "nope", true)
	assert.Equal(t, "shared pool model not found", modelConfigReason(t, err))
}

func TestResolveSharedPoolNotConfigured(t *testing.T) {
	cfg := testLLMConfig()
	cfg.SharedPool = nil
	_, err := NewModelRouter(cfg, nil).Resolve(context.Background(), "u1", "", true)
	assert.Equal(t, "shared pool is not configured", modelConfigReason(t, err))
}

func TestResolvePrivateProviders(t *testing.T) {
	r := NewModelRouter(testLLMConfig(), nil)

	route, err := r.Resolve(context.Background(), "u1", "", false)
	require.NoError(t, err)
	assert.Equal(t, port.RouteKindPrivate, route.Kind)
	assert.Equal(t, "openai", route.Provider)
	assert.Equal(t, "sk-platform", route.APIKey)

	route, err = r.Resolve(context.Background(), "u1", "deepseek", false)
	require.NoError(t, err)
	assert.Equal(t, "deepseek-chat", route.Model)
	assert.False(t, route.IsSharedPool())

	_, err = r.Resolve(context.Background(), "u1", "cfg-1", false)
	assert.Equal(t, "model config not found", modelConfigReason(t, err))
}

func TestResolveUserModelConfig(t *testing.T) {
	repo := &memModelConfigRepo{items: map[string]*entity.UserModelConfig{
		"cfg-1": {ID: "cfg-1", UserID: "u1", Provider: "openai", Model: "gpt-4o", APIKey: "sk-user", Enabled: true},
		"cfg-2": {ID: "cfg-2", UserID: "u1", Provider: "openai", Model: "gpt-4o", APIKey: "sk-user", Enabled: false},
		"cfg-3": {ID: "cfg-3", UserID: "u1", Provider: "openai", Model: "gpt-4o", Enabled: true},
	}}
	r := NewModelRouter(testLLMConfig(), repo)

	route, err := r.Resolve(context.Background(), "u1", "cfg-1", false)
	require.NoError(t, err)
	assert.Equal(t, "sk-user", route.APIKey)
	assert.Equal(t, "https://api.openai.com/v1", route.BaseURL, "missing fields come from the provider")
	assert.Equal(t, 4096, route.MaxTokens)
	assert.Equal(t, time.Minute, route.Timeout)

	_, err = r.Resolve(context.Background(), "u2", "cfg-1", false)
	assert.Equal(t, "model config not found", modelConfigReason(t, err), "configs belong to their owner")
	_, err = r.Resolve(context.Background(), "u1", "cfg-2", false)
	assert.Equal(t, "model config disabled", modelConfigReason(t, err))
	_, err = r.Resolve(context.Background(), "u1", "cfg-3", false)
	assert.Equal(t, "model config has no api key", modelConfigReason(t, err))

	repo.err = errors.New("connection refused")
	_, err = r.Resolve(context.Background(), "u1", "cfg-1", false)
	assert.Equal(t, "load model config", modelConfigReason(t, err))
}
