//go:build wireinject
// +build wireinject

// Package wire 提供依赖注入配置
package wire

import (
	"context"

	"github.com/google/wire"

	"z-novel-setting-api/internal/application/quota"
	"z-novel-setting-api/internal/application/setting"
	"z-novel-setting-api/internal/config"
	"z-novel-setting-api/internal/domain/repository"
	"z-novel-setting-api/internal/infrastructure/llm"
	"z-novel-setting-api/internal/infrastructure/persistence/postgres"
	"z-novel-setting-api/internal/infrastructure/persistence/redis"
	"z-novel-setting-api/internal/interfaces/http/handler"
	"z-novel-setting-api/internal/interfaces/http/middleware"
	"z-novel-setting-api/internal/interfaces/http/router"
	"z-novel-setting-api/internal/workflow/port"
	"z-novel-setting-api/internal/workflow/prompt"
)

// InitializeApp 初始化整个应用
func InitializeApp(ctx context.Context, cfg *config.Config) (*App, func(), error) {
	wire.Build(
		RepoSet,
		RedisSet,
		MessagingSet,
		EngineSet,
		RouterSet,
		wire.Struct(new(App), "*"),
	)
	return nil, nil, nil
}

// InitializeBootstrap 仅初始化 PostgreSQL（用于 bootstrap）
func InitializeBootstrap(ctx context.Context, cfg *config.Config) (*BootstrapLayer, func(), error) {
	wire.Build(
		PostgresSet,
		wire.Struct(new(BootstrapLayer), "*"),
	)
	return nil, nil, nil
}

// PostgresSet PostgreSQL 提供者集合
var PostgresSet = wire.NewSet(
	ProvidePostgresClient,
	postgres.NewTxManager,
	wire.Bind(new(repository.Transactor), new(*postgres.TxManager)),
	postgres.NewSettingHistoryRepository,
	postgres.NewModelConfigRepository,
	postgres.NewCreditAccountRepository,
)

// RepoSet 具体实现与接口绑定
var RepoSet = wire.NewSet(
	PostgresSet,
	wire.Bind(new(repository.SettingHistoryRepository), new(*postgres.SettingHistoryRepository)),
	wire.Bind(new(repository.CreditAccountRepository), new(*postgres.CreditAccountRepository)),
)

// RedisSet Redis 提供者集合；模型配置读取走缓存
var RedisSet = wire.NewSet(
	ProvideRedisClient,
	redis.NewCache,
	redis.NewRateLimiter,
	ProvideCachedModelConfigRepository,
	wire.Bind(new(repository.ModelConfigRepository), new(*redis.CachedModelConfigRepository)),
	wire.Bind(new(middleware.RateLimiter), new(*redis.RateLimiter)),
)

// MessagingSet 领域事件发布
var MessagingSet = wire.NewSet(
	ProvideDomainEventPublisher,
)

// EngineSet 设定生成引擎
var EngineSet = wire.NewSet(
	llm.NewEinoFactory,
	wire.Bind(new(port.ChatModelFactory), new(*llm.EinoFactory)),
	prompt.NewRegistry,
	quota.NewCreditPreflightChecker,
	quota.NewCreditUsageRecorder,
	wire.Bind(new(setting.CreditChecker), new(*quota.CreditPreflightChecker)),
	ProvideModelRouter,
	wire.Bind(new(setting.ModelRouteResolver), new(*setting.ModelRouter)),
	ProvideSessionStore,
	ProvideEventHub,
	setting.NewTaskRegistry,
	ProvideCompletionGate,
	ProvideValidator,
	setting.NewAdmitter,
	ProvideRetryPolicy,
	setting.NewToolOrchestrator,
	ProvideProducerConfig,
	setting.NewProducer,
	setting.NewModifier,
	setting.NewTreePersister,
	ProvideSettingService,
)

// RouterSet 路由器提供者集合
var RouterSet = wire.NewSet(
	ProvideHealthHandler,
	handler.NewSettingHandler,
	wire.Bind(new(handler.SettingService), new(*setting.Service)),
	wire.Struct(new(router.Handlers), "*"),
	router.New,
)
