// Package config 提供配置加载功能
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/spf13/viper"
)

const configDir = "configs"

// envPattern 匹配 ${VAR} 与 ${VAR:default}
var envPattern = regexp.MustCompile(`\$\{(\w+)(:([^}]*))?}`)

// Load 依次叠加 configs/config.yaml、configs/config.<APP_ENV>.yaml 与环境变量，最后校验
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)

	if err := mergeFile(v, configDir+"/config.yaml", false); err != nil {
		return nil, err
	}

	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "development"
	}
	if err := mergeFile(v, fmt.Sprintf("%s/config.%s.yaml", configDir, env), true); err != nil {
		return nil, err
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// mergeFile 替换环境变量占位后合并进 viper；optional 为真时文件缺失不报错
func mergeFile(v *viper.Viper, path string, optional bool) error {
	content, err := os.ReadFile(path)
	if err != nil {
		if optional && os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := v.MergeConfig(strings.NewReader(expandEnv(string(content)))); err != nil {
		return fmt.Errorf("failed to merge config %s: %w", path, err)
	}
	return nil
}

// expandEnv 替换 ${VAR:default} 占位；未设置且无默认值的变量原样保留
func expandEnv(s string) string {
	return envPattern.ReplaceAllStringFunc(s, func(match string) string {
		sub := envPattern.FindStringSubmatch(match)
		if val, ok := os.LookupEnv(sub[1]); ok {
			return val
		}
		if sub[2] != "" {
			return sub[3]
		}
		return match
	})
}

// Validate 拒绝会让引擎无法工作的配置
func (c *Config) Validate() error {
	var errs []error
	if c.Generation.Rounds <= 0 {
		errs = append(errs, errors.New("generation.rounds must be positive"))
	}
	if c.Generation.EndMarker == "" {
		errs = append(errs, errors.New("generation.end_marker is required"))
	}
	if c.Generation.MaxNameLength <= 0 || c.Generation.MaxDescriptionLength <= 0 {
		errs = append(errs, errors.New("generation name/description limits must be positive"))
	}
	if c.Generation.SessionTTL <= 0 {
		errs = append(errs, errors.New("generation.session_ttl must be positive"))
	}
	if c.Security.JWT.Enabled && c.Security.JWT.Secret == "" {
		errs = append(errs, errors.New("security.jwt.secret is required when jwt is enabled"))
	}
	if c.Security.RateLimit.Enabled && c.Security.RateLimit.SessionStartsPerMinute <= 0 {
		errs = append(errs, errors.New("security.rate_limit.session_starts_per_minute must be positive"))
	}
	for id, pool := range c.LLM.SharedPool {
		if pool.Enabled && (pool.InputPricePer1K < 0 || pool.OutputPricePer1K < 0) {
			errs = append(errs, fmt.Errorf("llm.shared_pool.%s: prices must not be negative", id))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// setDefaults 设置配置默认值
func setDefaults(v *viper.Viper) {
	// 应用默认值
	v.SetDefault("app.name", "z-novel-setting-api")
	v.SetDefault("app.version", "v0.0.0")
	v.SetDefault("app.env", "development")

	// HTTP 服务器默认值，SSE 长连接不设置写超时
	v.SetDefault("server.http.host", "0.0.0.0")
	v.SetDefault("server.http.port", 8080)
	v.SetDefault("server.http.read_timeout", "30s")
	v.SetDefault("server.http.write_timeout", "0s")
	v.SetDefault("server.http.idle_timeout", "120s")

	// 数据库默认值
	v.SetDefault("database.postgres.host", "localhost")
	v.SetDefault("database.postgres.port", 5432)
	v.SetDefault("database.postgres.user", "postgres")
	v.SetDefault("database.postgres.database", "z_novel_ai")
	v.SetDefault("database.postgres.ssl_mode", "disable")
	v.SetDefault("database.postgres.max_open_conns", 50)
	v.SetDefault("database.postgres.max_idle_conns", 10)
	v.SetDefault("database.postgres.conn_max_lifetime", "30m")
	v.SetDefault("database.postgres.conn_max_idle_time", "5m")
	v.SetDefault("database.postgres.log_level", "warn")

	// Redis 默认值
	v.SetDefault("cache.redis.host", "localhost")
	v.SetDefault("cache.redis.port", 6379)
	v.SetDefault("cache.redis.db", 0)
	v.SetDefault("cache.redis.pool_size", 100)
	v.SetDefault("cache.redis.min_idle_conns", 10)
	v.SetDefault("cache.redis.dial_timeout", "5s")
	v.SetDefault("cache.redis.read_timeout", "3s")
	v.SetDefault("cache.redis.write_timeout", "3s")
	v.SetDefault("cache.model_config_ttl", "5m")

	// 设定生成默认值
	v.SetDefault("generation.rounds", 3)
	v.SetDefault("generation.min_delta_runes", 400)
	v.SetDefault("generation.max_flush_wait", "4s")
	v.SetDefault("generation.overlap_runes", 80)
	v.SetDefault("generation.round_timeout", "5m")
	v.SetDefault("generation.max_retries", 2)
	v.SetDefault("generation.retry_backoff.initial", "1s")
	v.SetDefault("generation.retry_backoff.max", "10s")
	v.SetDefault("generation.retry_backoff.multiplier", 2.0)
	v.SetDefault("generation.buffer_delay", "500ms")
	v.SetDefault("generation.extraction_timeout", "3m")
	v.SetDefault("generation.session_ttl", "24h")
	v.SetDefault("generation.sweep_interval", "1h")
	v.SetDefault("generation.heartbeat_interval", "15s")
	v.SetDefault("generation.end_marker", "<<SETTING_COMPLETE>>")
	v.SetDefault("generation.max_name_length", 128)
	v.SetDefault("generation.max_description_length", 20000)
	v.SetDefault("generation.preflight_output_tokens", 4000)

	// 消息流默认值
	v.SetDefault("messaging.redis_stream.enabled", true)
	v.SetDefault("messaging.redis_stream.max_len", 100000)

	// 可观测性默认值
	v.SetDefault("observability.logging.level", "info")
	v.SetDefault("observability.logging.format", "json")
	v.SetDefault("observability.tracing.enabled", false)
	v.SetDefault("observability.tracing.endpoint", "localhost:4317")
	v.SetDefault("observability.tracing.sample_rate", 1.0)
	v.SetDefault("observability.metrics.enabled", true)
	v.SetDefault("observability.metrics.path", "/metrics")

	// 安全默认值
	v.SetDefault("security.jwt.enabled", true)
	v.SetDefault("security.jwt.issuer", "z-novel-ai")
	v.SetDefault("security.rate_limit.enabled", true)
	v.SetDefault("security.rate_limit.session_starts_per_minute", 10)
}
