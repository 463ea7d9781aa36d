package setting

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"z-novel-setting-api/internal/config"
	"z-novel-setting-api/internal/workflow/node"
	"z-novel-setting-api/pkg/logger"
	"z-novel-setting-api/pkg/metrics"
)

// RetryPolicy 瞬时错误的有限次指数退避
type RetryPolicy struct {
	MaxRetries int
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
}

// RetryPolicyFromConfig 从生成配置构造重试策略
func RetryPolicyFromConfig(cfg *config.GenerationConfig) RetryPolicy {
	return RetryPolicy{
		MaxRetries: cfg.MaxRetries,
		Initial:    cfg.RetryBackoff.Initial,
		Max:        cfg.RetryBackoff.Max,
		Multiplier: cfg.RetryBackoff.Multiplier,
	}
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if p.Initial > 0 {
		b.InitialInterval = p.Initial
	}
	if p.Max > 0 {
		b.MaxInterval = p.Max
	}
	if p.Multiplier > 1 {
		b.Multiplier = p.Multiplier
	}
	b.MaxElapsedTime = 0
	b.Reset()

	retries := p.MaxRetries
	if retries < 0 {
		retries = 0
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx)
}

// retryTransient 仅对限流、流中断类错误重试，其它错误立即返回
func retryTransient(ctx context.Context, p RetryPolicy, workflow, op string, fn func() error) error {
	attempt := 0
	err := backoff.RetryNotify(func() error {
		attempt++
		err := fn()
		if err == nil {
			return nil
		}
		if node.IsTransientProviderError(err) {
			return err
		}
		return backoff.Permanent(err)
	}, p.backOff(ctx), func(err error, wait time.Duration) {
		metrics.LLMRetryTotal.WithLabelValues(workflow).Inc()
		logger.Warn(ctx, "transient provider error, retrying",
			"workflow", workflow,
			"op", op,
			"attempt", attempt,
			"wait_ms", wait.Milliseconds(),
			"error", err.Error(),
		)
	})
	if err != nil && node.IsTransientProviderError(err) {
		return &TransientProviderError{Op: op, Err: err}
	}
	return err
}
