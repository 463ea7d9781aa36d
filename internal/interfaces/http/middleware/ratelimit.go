// Package middleware 提供 HTTP 中间件
package middleware

import (
	"context"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"z-novel-setting-api/internal/interfaces/http/dto"
	apperrors "z-novel-setting-api/pkg/errors"
	"z-novel-setting-api/pkg/logger"
	"z-novel-setting-api/pkg/metrics"
)

// RateLimitConfig 限流配置
type RateLimitConfig struct {
	// Enabled 是否启用限流
	Enabled bool
	// Limit 窗口内允许的请求数
	Limit int
	// Window 窗口长度
	Window time.Duration
	// Scope 限流维度名，写入键和指标
	Scope string
	// KeyFunc 由用户 ID 生成限流键
	KeyFunc func(userID, scope string) string
}

// RateLimiter 限流器接口
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, int, error)
}

// RateLimit 按用户限流；限流器故障时放行
func RateLimit(cfg RateLimitConfig, limiter RateLimiter) gin.HandlerFunc {
	if !cfg.Enabled || limiter == nil || cfg.Limit <= 0 {
		return func(c *gin.Context) {
			c.Next()
		}
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if cfg.Scope == "" {
		cfg.Scope = "default"
	}
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = func(userID, scope string) string {
			return "ratelimit:" + userID + ":" + scope
		}
	}

	return func(c *gin.Context) {
		userID := GetUserIDFromGin(c)
		if userID == "" {
			userID = "anonymous:" + c.ClientIP()
		}

		ctx := c.Request.Context()
		allowed, remaining, err := limiter.Allow(ctx, cfg.KeyFunc(userID, cfg.Scope), cfg.Limit, cfg.Window)
		if err != nil {
			logger.Warn(ctx, "rate limiter unavailable", "scope", cfg.Scope, "error", err.Error())
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(cfg.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
		if !allowed {
			metrics.RateLimitRejectedTotal.WithLabelValues(cfg.Scope).Inc()
			c.Header("Retry-After", strconv.Itoa(int(cfg.Window.Seconds())))
			dto.AbortAppError(c, apperrors.ErrTooManyRequests)
			return
		}

		c.Next()
	}
}
