package messaging

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"z-novel-setting-api/internal/application/setting"
	"z-novel-setting-api/pkg/logger"
	"z-novel-setting-api/pkg/metrics"
)

var tracer = otel.Tracer("messaging")

const (
	defaultMaxLen    = 100000
	publishAttempts  = 3
	publishBaseDelay = 50 * time.Millisecond
)

// Producer 领域事件生产者，XADD 写入 Redis Stream 并按 MAXLEN 近似裁剪
type Producer struct {
	client *redis.Client
	maxLen int64
}

var _ setting.DomainEventPublisher = (*Producer)(nil)

// NewProducer maxLen 非正时使用默认上限
func NewProducer(client *redis.Client, maxLen int64) *Producer {
	if maxLen <= 0 {
		maxLen = defaultMaxLen
	}
	return &Producer{client: client, maxLen: maxLen}
}

// Publish 写入消息，短暂失败时有限次重试；返回流内消息 ID
func (p *Producer) Publish(ctx context.Context, stream Stream, msg *Message) (string, error) {
	ctx, span := tracer.Start(ctx, "messaging.Publish",
		trace.WithAttributes(
			attribute.String("stream", string(stream)),
			attribute.String("message.id", msg.ID),
			attribute.String("message.type", msg.Type),
		))
	defer span.End()

	values, err := msg.streamValues()
	if err != nil {
		span.RecordError(err)
		return "", err
	}

	var streamID string
	op := func() error {
		id, err := p.client.XAdd(ctx, &redis.XAddArgs{
			Stream: string(stream),
			MaxLen: p.maxLen,
			Approx: true,
			Values: values,
		}).Result()
		if err != nil {
			return err
		}
		streamID = id
		return nil
	}
	if err := backoff.Retry(op, publishBackOff(ctx)); err != nil {
		span.RecordError(err)
		metrics.RedisStreamPublished.WithLabelValues(string(stream), "error").Inc()
		return "", fmt.Errorf("xadd %s: %w", stream, err)
	}

	metrics.RedisStreamPublished.WithLabelValues(string(stream), "success").Inc()
	span.SetAttributes(attribute.String("stream.message_id", streamID))
	return streamID, nil
}

func publishBackOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = publishBaseDelay
	b.MaxInterval = 4 * publishBaseDelay
	return backoff.WithContext(backoff.WithMaxRetries(b, publishAttempts-1), ctx)
}

// PublishSettingEvent 发布设定生成领域事件，失败只记录日志
func (p *Producer) PublishSettingEvent(ctx context.Context, evt setting.DomainEvent) {
	msg, err := settingEventMessage(evt)
	if err != nil {
		logger.Warn(ctx, "encode setting event failed", "type", string(evt.Type), "error", err.Error())
		return
	}
	if _, err := p.Publish(ctx, StreamSettingEvents, msg); err != nil {
		logger.Warn(ctx, "publish setting event failed",
			"type", string(evt.Type),
			"session_id", evt.SessionID,
			"error", err.Error(),
		)
	}
}

func settingEventMessage(evt setting.DomainEvent) (*Message, error) {
	msg, err := NewMessage(uuid.NewString(), string(evt.Type), evt.UserID, evt.SessionID, evt)
	if err != nil {
		return nil, err
	}
	if evt.NovelID != "" {
		msg.SetMetadata("novel_id", evt.NovelID)
	}
	if evt.HistoryID != "" {
		msg.SetMetadata("history_id", evt.HistoryID)
	}
	return msg, nil
}

// NopPublisher 关闭消息流时使用
type NopPublisher struct{}

// PublishSettingEvent 丢弃事件
func (NopPublisher) PublishSettingEvent(context.Context, setting.DomainEvent) {}
