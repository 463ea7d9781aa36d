package eino

import (
	"context"
	"errors"
	"io"
	"time"

	einocb "github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
	cbtemplate "github.com/cloudwego/eino/utils/callbacks"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"z-novel-setting-api/internal/domain/service"
	"z-novel-setting-api/pkg/metrics"
)

type startTimeKey struct{}

// usageSink 汇总一次模型调用的 token 用量：上报指标，共享池调用再交给计费
type usageSink struct {
	recorder service.LLMUsageRecorder
}

func (s usageSink) report(ctx context.Context, modelName string, usage *model.TokenUsage) {
	workflow := service.WorkflowFromContext(ctx)
	provider := service.ProviderFromContext(ctx)

	metrics.LLMCallTotal.WithLabelValues(workflow, provider, modelName, "success").Inc()
	if d := elapsedSeconds(ctx); d > 0 {
		metrics.LLMCallDuration.WithLabelValues(workflow, provider, modelName).Observe(d)
	}
	if usage == nil {
		return
	}
	metrics.LLMTokensUsed.WithLabelValues(workflow, provider, modelName, "prompt").Add(float64(usage.PromptTokens))
	metrics.LLMTokensUsed.WithLabelValues(workflow, provider, modelName, "completion").Add(float64(usage.CompletionTokens))

	billing, ok := service.BillingFromContext(ctx)
	if !ok || s.recorder == nil {
		return
	}
	// best-effort：扣费失败由 recorder 记录日志，不影响调用结果
	_ = s.recorder.Record(context.WithoutCancel(ctx), service.LLMUsageInput{
		UserID:           billing.UserID,
		SessionID:        billing.SessionID,
		Workflow:         workflow,
		Provider:         provider,
		Model:            modelName,
		PromptTokens:     usage.PromptTokens,
		CompletionTokens: usage.CompletionTokens,
		DurationMs:       int(elapsedSeconds(ctx) * 1000),
		InputPricePer1K:  billing.InputPricePer1K,
		OutputPricePer1K: billing.OutputPricePer1K,
	})
}

func newChatModelCallbackHandler(recorder service.LLMUsageRecorder) *cbtemplate.ModelCallbackHandler {
	sink := usageSink{recorder: recorder}
	return &cbtemplate.ModelCallbackHandler{
		OnStart: func(ctx context.Context, info *einocb.RunInfo, input *model.CallbackInput) context.Context {
			ctx = context.WithValue(ctx, startTimeKey{}, time.Now())

			attrs := []attribute.KeyValue{
				attribute.String("eino.workflow", service.WorkflowFromContext(ctx)),
				attribute.String("llm.provider", service.ProviderFromContext(ctx)),
				attribute.String("llm.model", modelNameFromInput(input)),
			}
			if info != nil {
				attrs = append(attrs,
					attribute.String("eino.node_name", info.Name),
					attribute.String("eino.type", info.Type),
				)
			}
			if _, ok := service.BillingFromContext(ctx); ok {
				attrs = append(attrs, attribute.Bool("llm.shared_pool", true))
			}

			ctx, _ = otel.Tracer("eino").Start(ctx, "llm.generate", trace.WithAttributes(attrs...))
			return ctx
		},

		OnEnd: func(ctx context.Context, _ *einocb.RunInfo, output *model.CallbackOutput) context.Context {
			var usage *model.TokenUsage
			if output != nil {
				usage = output.TokenUsage
			}
			sink.report(ctx, modelNameFromOutput(output), usage)
			endSpan(ctx, usage, nil)
			return ctx
		},

		// 流式输出的用量在最后一个分片上，需要读完回调副本；副本必须被关闭
		OnEndWithStreamOutput: func(ctx context.Context, _ *einocb.RunInfo, output *schema.StreamReader[*model.CallbackOutput]) context.Context {
			go func() {
				defer output.Close()
				var (
					usage     *model.TokenUsage
					modelName string
					streamErr error
				)
				for {
					chunk, err := output.Recv()
					if errors.Is(err, io.EOF) {
						break
					}
					if err != nil {
						streamErr = err
						break
					}
					if chunk == nil {
						continue
					}
					if chunk.TokenUsage != nil {
						usage = chunk.TokenUsage
					}
					if name := modelNameFromOutput(chunk); name != "" {
						modelName = name
					}
				}
				if streamErr != nil {
					recordModelError(ctx, modelName)
				} else {
					sink.report(ctx, modelName, usage)
				}
				endSpan(ctx, usage, streamErr)
			}()
			return ctx
		},

		OnError: func(ctx context.Context, info *einocb.RunInfo, err error) context.Context {
			modelName := ""
			if info != nil {
				modelName = info.Type
			}
			recordModelError(ctx, modelName)
			endSpan(ctx, nil, err)
			return ctx
		},
	}
}

func recordModelError(ctx context.Context, modelName string) {
	workflow := service.WorkflowFromContext(ctx)
	provider := service.ProviderFromContext(ctx)
	metrics.LLMCallTotal.WithLabelValues(workflow, provider, modelName, "error").Inc()
	if d := elapsedSeconds(ctx); d > 0 {
		metrics.LLMCallDuration.WithLabelValues(workflow, provider, modelName).Observe(d)
	}
}

func endSpan(ctx context.Context, usage *model.TokenUsage, err error) {
	span := trace.SpanFromContext(ctx)
	if span == nil {
		return
	}
	if usage != nil {
		span.SetAttributes(
			attribute.Int("llm.prompt_tokens", usage.PromptTokens),
			attribute.Int("llm.completion_tokens", usage.CompletionTokens),
		)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func newToolCallbackHandler() *cbtemplate.ToolCallbackHandler {
	return &cbtemplate.ToolCallbackHandler{
		OnStart: func(ctx context.Context, info *einocb.RunInfo, _ *tool.CallbackInput) context.Context {
			ctx = context.WithValue(ctx, startTimeKey{}, time.Now())

			ctx, _ = otel.Tracer("eino").Start(ctx, "tool.invoke",
				trace.WithAttributes(
					attribute.String("eino.workflow", service.WorkflowFromContext(ctx)),
					attribute.String("tool.name", toolName(info)),
				),
			)
			return ctx
		},

		OnEnd: func(ctx context.Context, info *einocb.RunInfo, _ *tool.CallbackOutput) context.Context {
			recordToolCall(ctx, toolName(info), "success")
			endSpan(ctx, nil, nil)
			return ctx
		},

		OnError: func(ctx context.Context, info *einocb.RunInfo, err error) context.Context {
			recordToolCall(ctx, toolName(info), "error")
			endSpan(ctx, nil, err)
			return ctx
		},
	}
}

func recordToolCall(ctx context.Context, name, status string) {
	workflow := service.WorkflowFromContext(ctx)
	metrics.ToolCallTotal.WithLabelValues(workflow, name, status).Inc()
	if d := elapsedSeconds(ctx); d > 0 {
		metrics.ToolCallDuration.WithLabelValues(workflow, name).Observe(d)
	}
}

// toolName 工具节点回调里 RunInfo.Name 是工具名
func toolName(info *einocb.RunInfo) string {
	if info == nil {
		return ""
	}
	if info.Name != "" {
		return info.Name
	}
	return info.Type
}

func elapsedSeconds(ctx context.Context) float64 {
	v := ctx.Value(startTimeKey{})
	start, ok := v.(time.Time)
	if !ok || start.IsZero() {
		return 0
	}
	return time.Since(start).Seconds()
}

func modelNameFromInput(in *model.CallbackInput) string {
	if in == nil || in.Config == nil {
		return ""
	}
	return in.Config.Model
}

func modelNameFromOutput(out *model.CallbackOutput) string {
	if out == nil || out.Config == nil {
		return ""
	}
	return out.Config.Model
}
