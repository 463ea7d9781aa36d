package setting

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	openaiopts "github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	einotool "github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"z-novel-setting-api/internal/domain/entity"
	"z-novel-setting-api/internal/domain/service"
	"z-novel-setting-api/internal/workflow/node"
	"z-novel-setting-api/internal/workflow/port"
	"z-novel-setting-api/internal/workflow/prompt"
	"z-novel-setting-api/pkg/logger"
	"z-novel-setting-api/pkg/metrics"
	"z-novel-setting-api/pkg/tracer"
)

// 抽取触发来源
const (
	TriggerDelta     = "delta"
	TriggerRoundText = "round_text"
	TriggerDirect    = "direct"
	TriggerModify    = "modify"
	TriggerAdjust    = "adjust"
)

// ExtractionRequest 一次工具调用抽取的输入
type ExtractionRequest struct {
	SessionID string
	UserID    string
	Route     port.ModelRoute
	PromptID  prompt.PromptID
	Vars      map[string]any
	// SourceText 工具调用失败时的兜底解析输入
	SourceText    string
	Workflow      string
	Trigger       string
	Admit         AdmitOptions
	AllowComplete bool
}

// ExtractionOutcome 抽取结果统计
type ExtractionOutcome struct {
	Admitted  int
	Updated   int
	Rejected  int
	Complete  bool
	Fallback  bool
	Discarded bool
}

// Changed 是否有节点写入
func (o *ExtractionOutcome) Changed() bool {
	return o != nil && o.Admitted > 0
}

// ToolOrchestrator 把一段文本（或指令）经工具调用转为候选节点并准入
type ToolOrchestrator struct {
	store    *SessionStore
	admitter *Admitter
	hub      *EventHub
	factory  port.ChatModelFactory
	prompts  *prompt.Registry
	retry    RetryPolicy

	toolsNodeOnce sync.Once
	toolsNode     *compose.ToolsNode
	toolsNodeErr  error
}

func NewToolOrchestrator(store *SessionStore, admitter *Admitter, hub *EventHub, factory port.ChatModelFactory, prompts *prompt.Registry, retry RetryPolicy) *ToolOrchestrator {
	return &ToolOrchestrator{
		store:    store,
		admitter: admitter,
		hub:      hub,
		factory:  factory,
		prompts:  prompts,
		retry:    retry,
	}
}

func (o *ToolOrchestrator) getToolsNode() (*compose.ToolsNode, error) {
	o.toolsNodeOnce.Do(func() {
		o.toolsNode, o.toolsNodeErr = compose.NewToolNode(context.Background(), &compose.ToolsNodeConfig{
			// 工具集按次注入（每次抽取独立的结果收集器）
			Tools:               nil,
			ExecuteSequentially: true,
			UnknownToolsHandler: func(_ context.Context, name, _ string) (string, error) {
				b, _ := json.Marshal(map[string]any{
					"error": fmt.Sprintf("unknown tool: %s", strings.TrimSpace(name)),
				})
				return string(b), nil
			},
		})
	})
	return o.toolsNode, o.toolsNodeErr
}

// Extract 执行一次抽取。工具调用失败时退化为文本兜底解析；
// 已被吸收的错误以可恢复事件发出，无法吸收的错误返回给调用方。
func (o *ToolOrchestrator) Extract(ctx context.Context, req ExtractionRequest) (*ExtractionOutcome, error) {
	if req.Admit.Channel == "" {
		req.Admit.Channel = ChannelGeneration
	}
	if req.Workflow == "" {
		req.Workflow = "setting_extract"
	}
	ctx, span := tracer.Start(ctx, "setting.ToolOrchestrator.Extract", trace.WithAttributes(
		append(tracer.SessionAttributes(req.UserID, req.SessionID),
			attribute.String("setting.trigger", req.Trigger),
			attribute.String("llm.provider", req.Route.Provider),
		)...,
	))
	defer span.End()

	ctx = service.WithWorkflowProvider(ctx, req.Workflow, req.Route.Provider)
	if req.Route.IsSharedPool() {
		ctx = service.WithBilling(ctx, service.UsageBilling{
			UserID:           req.UserID,
			SessionID:        req.SessionID,
			InputPricePer1K:  req.Route.InputPricePer1K,
			OutputPricePer1K: req.Route.OutputPricePer1K,
		})
	}

	sess, err := o.store.Get(req.SessionID)
	if err != nil {
		return nil, err
	}
	if !statusAccepts(sess.Status, req.Admit.Mode) {
		return &ExtractionOutcome{Discarded: true}, nil
	}

	msgs, err := o.formatMessages(ctx, req, sess)
	if err != nil {
		return nil, err
	}

	sink := &extractionSink{}
	tools := []einotool.BaseTool{newCreateNodesTool(sink, req.Admit.AllowUpdates)}
	if req.AllowComplete {
		tools = append(tools, newMarkCompleteTool(sink))
	}
	toolInfos := make([]*schema.ToolInfo, 0, len(tools))
	for i := range tools {
		info, err := tools[i].Info(ctx)
		if err != nil {
			return nil, err
		}
		toolInfos = append(toolInfos, info)
	}

	baseModel, err := o.factory.ForRoute(ctx, req.Route)
	if err != nil {
		return nil, &ModelConfigError{ConfigID: req.Route.ConfigID, Reason: "create chat model", Err: err}
	}
	var chatModel model.BaseChatModel = baseModel
	toolsBound := false
	if withTools, err := baseModel.WithTools(toolInfos); err == nil && withTools != nil {
		chatModel = withTools
		toolsBound = true
	}

	outMsg, genErr := o.generate(ctx, chatModel, msgs, req, toolsBound)
	if genErr != nil && toolsBound && node.IsToolsUnsupportedError(genErr) {
		logger.Warn(ctx, "llm tools not supported, fallback to text parse",
			"provider", req.Route.Provider,
			"model", req.Route.Model,
			"error", genErr.Error(),
		)
		toolsBound = false
		outMsg, genErr = o.generate(ctx, baseModel, msgs, req, false)
	}

	var parseErr error
	if genErr == nil {
		switch {
		case outMsg == nil:
			parseErr = &ParseError{Reason: "empty llm response"}
		case toolsBound && len(outMsg.ToolCalls) > 0:
			toolsNode, err := o.getToolsNode()
			if err == nil {
				_, err = toolsNode.Invoke(ctx, outMsg, compose.WithToolList(tools...))
			}
			if err != nil {
				parseErr = &ParseError{Reason: "execute tool calls", Err: err}
			}
		default:
			parseErr = &ParseError{Reason: "no tool calls in response"}
		}
	}

	result := sink.snapshot()
	if parseErr == nil && len(result.Nodes) == 0 && result.Complete == nil && len(result.Invalid) > 0 {
		parseErr = result.Invalid[0]
	}

	batch := result.Nodes
	out := &ExtractionOutcome{}
	if genErr != nil || parseErr != nil {
		trigger := "parse_error"
		if genErr != nil {
			trigger = "provider_error"
			tracer.RecordError(span, genErr)
		}
		content := ""
		if outMsg != nil {
			content = outMsg.Content
		}
		batch = o.fallbackParse(ctx, trigger, content, req.SourceText)
		out.Fallback = true

		if len(batch) == 0 {
			if genErr != nil {
				return nil, genErr
			}
			o.hub.Publish(req.Admit.Channel, req.SessionID, entity.GenerationError{
				Code:        entity.EventErrParse,
				Message:     parseErr.Error(),
				Recoverable: true,
			})
			return out, nil
		}
	}

	res, err := o.admitter.Admit(ctx, req.SessionID, batch, req.Admit)
	if err != nil {
		return nil, err
	}
	out.Discarded = res.Discarded
	out.Rejected = len(res.Rejected)
	for _, an := range res.Admitted {
		out.Admitted++
		if an.Updated {
			out.Updated++
		}
	}

	if result.Complete != nil && req.AllowComplete && req.Admit.Mode == AdmitGeneration && !res.Discarded {
		out.Complete = true
		if _, err := o.store.Update(req.SessionID, func(s *entity.GenerationSession) error {
			if s.Status != entity.SessionStatusGenerating {
				return errDiscarded
			}
			s.Metadata.ToolPendingComplete = true
			return nil
		}); err == nil {
			logger.Info(ctx, "extraction model declared setting complete", "reason", result.Complete.Reason)
		}
	}

	logger.Debug(ctx, "extraction admitted",
		"trigger", req.Trigger,
		"admitted", out.Admitted,
		"rejected", out.Rejected,
		"redelivered", res.Redelivered,
		"fallback", out.Fallback,
	)
	return out, nil
}

func (o *ToolOrchestrator) formatMessages(ctx context.Context, req ExtractionRequest, sess *entity.GenerationSession) ([]*schema.Message, error) {
	tpl, err := o.prompts.ChatTemplate(req.PromptID)
	if err != nil {
		return nil, err
	}
	vars := make(map[string]any, len(req.Vars)+2)
	for k, v := range req.Vars {
		vars[k] = v
	}
	if _, ok := vars["type_list"]; !ok {
		vars["type_list"] = strings.Join(entity.SettingTypeNames(), ", ")
	}
	if _, ok := vars["tempid_index"]; !ok {
		vars["tempid_index"] = tempIDIndex(sess)
	}
	return tpl.Format(ctx, vars)
}

func (o *ToolOrchestrator) generate(ctx context.Context, cm model.BaseChatModel, msgs []*schema.Message, req ExtractionRequest, requireTools bool) (*schema.Message, error) {
	var out *schema.Message
	err := retryTransient(ctx, o.retry, req.Workflow, "extract", func() error {
		msg, err := cm.Generate(ctx, msgs, buildModelOptions(req.Route, requireTools)...)
		if err != nil {
			return err
		}
		out = msg
		return nil
	})
	return out, err
}

func (o *ToolOrchestrator) fallbackParse(ctx context.Context, trigger string, sources ...string) []CandidateNodeInstruction {
	for _, src := range sources {
		if nodes := ParseFallbackNodes(src); len(nodes) > 0 {
			metrics.FallbackParseTotal.WithLabelValues(trigger, "success").Inc()
			logger.Info(ctx, "fallback parse recovered nodes", "trigger", trigger, "nodes", len(nodes))
			return nodes
		}
	}
	metrics.FallbackParseTotal.WithLabelValues(trigger, "empty").Inc()
	logger.Warn(ctx, "fallback parse found no nodes", "trigger", trigger)
	return nil
}

func buildModelOptions(route port.ModelRoute, requireTools bool) []model.Option {
	opts := make([]model.Option, 0, 4)
	if route.Temperature > 0 {
		opts = append(opts, model.WithTemperature(float32(route.Temperature)))
	}
	if route.MaxTokens > 0 {
		opts = append(opts, model.WithMaxTokens(route.MaxTokens))
	}
	if strings.TrimSpace(route.Model) != "" {
		opts = append(opts, model.WithModel(strings.TrimSpace(route.Model)))
	}
	if requireTools {
		opts = append(opts, openaiopts.WithExtraFields(map[string]any{
			"tool_choice": "required",
		}))
	}
	return opts
}

// isModelConfigError 模型配置类错误只影响当前轮
func isModelConfigError(err error) bool {
	var mce *ModelConfigError
	return errors.As(err, &mce)
}
