// Package wire 提供依赖注入配置
package wire

import (
	"context"
	"time"

	"z-novel-setting-api/internal/application/quota"
	"z-novel-setting-api/internal/application/setting"
	"z-novel-setting-api/internal/config"
	"z-novel-setting-api/internal/domain/repository"
	"z-novel-setting-api/internal/infrastructure/messaging"
	"z-novel-setting-api/internal/infrastructure/persistence/postgres"
	"z-novel-setting-api/internal/infrastructure/persistence/redis"
	"z-novel-setting-api/internal/interfaces/http/handler"
	"z-novel-setting-api/internal/interfaces/http/router"
	"z-novel-setting-api/pkg/logger"
)

// App API 服务依赖容器
type App struct {
	Router   *router.Router
	Service  *setting.Service
	Recorder *quota.CreditUsageRecorder
}

// BootstrapLayer 初始化脚本使用的数据层
type BootstrapLayer struct {
	PgClient   *postgres.Client
	Tx         repository.Transactor
	CreditRepo *postgres.CreditAccountRepository
}

const engineShutdownTimeout = 30 * time.Second

// ProvidePostgresClient 提供 PostgreSQL 客户端
func ProvidePostgresClient(cfg *config.Config) (*postgres.Client, func(), error) {
	client, err := postgres.NewClient(&cfg.Database.Postgres)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		_ = client.Close()
	}
	return client, cleanup, nil
}

// ProvideRedisClient 提供 Redis 客户端
func ProvideRedisClient(cfg *config.Config) (*redis.Client, func(), error) {
	client, err := redis.NewClient(&cfg.Cache.Redis)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		_ = client.Close()
	}
	return client, cleanup, nil
}

// ProvideCachedModelConfigRepository 模型配置仓储外包一层 Redis 缓存
func ProvideCachedModelConfigRepository(cfg *config.Config, inner *postgres.ModelConfigRepository, cache *redis.Cache) *redis.CachedModelConfigRepository {
	return redis.NewCachedModelConfigRepository(inner, cache, cfg.Cache.ModelConfigTTL)
}

// ProvideDomainEventPublisher 消息流关闭时事件直接丢弃
func ProvideDomainEventPublisher(ctx context.Context, cfg *config.Config, redisClient *redis.Client) setting.DomainEventPublisher {
	if !cfg.Messaging.RedisStream.Enabled {
		logger.Info(ctx, "redis stream disabled, setting events are not published")
		return messaging.NopPublisher{}
	}
	return messaging.NewProducer(redisClient.Redis(), int64(cfg.Messaging.RedisStream.MaxLen))
}

// ProvideModelRouter 提供模型路由
func ProvideModelRouter(cfg *config.Config, repo repository.ModelConfigRepository) *setting.ModelRouter {
	return setting.NewModelRouter(&cfg.LLM, repo)
}

// ProvideSessionStore 提供会话存储
func ProvideSessionStore(cfg *config.Config) *setting.SessionStore {
	return setting.NewSessionStore(cfg.Generation.SessionTTL, cfg.Generation.SweepInterval)
}

// ProvideEventHub 提供事件总线
func ProvideEventHub(cfg *config.Config) *setting.EventHub {
	return setting.NewEventHub(cfg.Generation.HeartbeatInterval)
}

// ProvideCompletionGate 提供完成判定，完成后向消息流发布事件
func ProvideCompletionGate(
	cfg *config.Config,
	store *setting.SessionStore,
	registry *setting.TaskRegistry,
	hub *setting.EventHub,
	events setting.DomainEventPublisher,
) *setting.CompletionGate {
	gate := setting.NewCompletionGate(store, registry, hub, cfg.Generation.ExtractionTimeout, cfg.Generation.BufferDelay)
	gate.SetEventPublisher(events)
	return gate
}

// ProvideValidator 提供节点校验
func ProvideValidator(cfg *config.Config) *setting.Validator {
	return setting.NewValidator(cfg.Generation.MaxNameLength, cfg.Generation.MaxDescriptionLength)
}

// ProvideRetryPolicy 提供瞬时错误重试策略
func ProvideRetryPolicy(cfg *config.Config) setting.RetryPolicy {
	return setting.RetryPolicyFromConfig(&cfg.Generation)
}

// ProvideProducerConfig 提供文本阶段参数
func ProvideProducerConfig(cfg *config.Config) setting.ProducerConfig {
	return setting.ProducerConfigFromConfig(&cfg.Generation)
}

// ProvideSettingService 提供引擎入口；清理时等待后台任务退出
func ProvideSettingService(
	store *setting.SessionStore,
	hub *setting.EventHub,
	registry *setting.TaskRegistry,
	gate *setting.CompletionGate,
	producer *setting.Producer,
	modifier *setting.Modifier,
	persister *setting.TreePersister,
) (*setting.Service, func()) {
	svc := setting.NewService(store, hub, registry, gate, producer, modifier, persister)
	cleanup := func() {
		ctx, cancel := context.WithTimeout(context.Background(), engineShutdownTimeout)
		defer cancel()
		if err := svc.Shutdown(ctx); err != nil {
			logger.Warn(ctx, "setting engine shutdown timed out", "error", err.Error())
		}
	}
	return svc, cleanup
}

// ProvideHealthHandler 提供健康检查处理器
func ProvideHealthHandler(cfg *config.Config, pg *postgres.Client, redisClient *redis.Client) *handler.HealthHandler {
	return handler.NewHealthHandler(cfg.App.Version, pg, redisClient)
}
