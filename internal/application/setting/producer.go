package setting

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/cloudwego/eino/schema"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"z-novel-setting-api/internal/application/quota"
	"z-novel-setting-api/internal/config"
	"z-novel-setting-api/internal/domain/entity"
	"z-novel-setting-api/internal/domain/service"
	"z-novel-setting-api/internal/workflow/node"
	"z-novel-setting-api/internal/workflow/port"
	"z-novel-setting-api/internal/workflow/prompt"
	"z-novel-setting-api/pkg/logger"
	"z-novel-setting-api/pkg/metrics"
	"z-novel-setting-api/pkg/tracer"
)

const (
	workflowSettingText    = "setting_text"
	workflowSettingExtract = "setting_extract"
	workflowSettingDirect  = "setting_direct"

	continuePrompt  = "输出被中断，请从中断处继续写，不要重复已经输出的内容。"
	roundHintTail   = 2000
	defaultEndToken = "<<SETTING_COMPLETE>>"
)

// 本轮结束方式
const (
	roundEnded       = "ended"
	roundEndMarker   = "end_marker"
	roundInterrupted = "interrupted"
	roundTimeout     = "timeout"
	roundFailed      = "failed"
)

// ModelRouteResolver 每轮解析模型路由
type ModelRouteResolver interface {
	Resolve(ctx context.Context, userID, configID string, useSharedPool bool) (port.ModelRoute, error)
}

// CreditChecker 共享池积分预检
type CreditChecker interface {
	Check(ctx context.Context, userID string, route port.ModelRoute, inputText string, outputTokens int) (required int64, available int64, err error)
}

// ProducerConfig 文本阶段参数
type ProducerConfig struct {
	Rounds                int
	MinDeltaRunes         int
	OverlapRunes          int
	MaxFlushWait          time.Duration
	RoundTimeout          time.Duration
	BufferDelay           time.Duration
	StaleAfter            time.Duration
	EndMarker             string
	PreflightOutputTokens int
	Retry                 RetryPolicy
}

// ProducerConfigFromConfig 从生成配置构造文本阶段参数
func ProducerConfigFromConfig(cfg *config.GenerationConfig) ProducerConfig {
	return ProducerConfig{
		Rounds:                cfg.Rounds,
		MinDeltaRunes:         cfg.MinDeltaRunes,
		OverlapRunes:          cfg.OverlapRunes,
		MaxFlushWait:          cfg.MaxFlushWait,
		RoundTimeout:          cfg.RoundTimeout,
		BufferDelay:           cfg.BufferDelay,
		StaleAfter:            cfg.ExtractionTimeout,
		EndMarker:             cfg.EndMarker,
		PreflightOutputTokens: cfg.PreflightOutputTokens,
		Retry:                 RetryPolicyFromConfig(cfg),
	}
}

func (c *ProducerConfig) applyDefaults() {
	if c.Rounds <= 0 {
		c.Rounds = 3
	}
	if c.MinDeltaRunes <= 0 {
		c.MinDeltaRunes = 400
	}
	if c.OverlapRunes < 0 {
		c.OverlapRunes = 0
	}
	if c.OverlapRunes >= c.MinDeltaRunes {
		c.OverlapRunes = c.MinDeltaRunes / 2
	}
	if c.MaxFlushWait <= 0 {
		c.MaxFlushWait = 3 * time.Second
	}
	if c.RoundTimeout <= 0 {
		c.RoundTimeout = 5 * time.Minute
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = 3 * time.Minute
	}
	if strings.TrimSpace(c.EndMarker) == "" {
		c.EndMarker = defaultEndToken
	}
	if c.PreflightOutputTokens <= 0 {
		c.PreflightOutputTokens = 4000
	}
}

// Producer 驱动一次生成：混合模式下逐轮流式产出文本并把增量交给抽取任务，
// 直接模式下逐轮调用工具模型。两种模式都由 CompletionGate 决定何时完成。
type Producer struct {
	cfg          ProducerConfig
	store        *SessionStore
	hub          *EventHub
	registry     *TaskRegistry
	gate         *CompletionGate
	factory      port.ChatModelFactory
	prompts      *prompt.Registry
	router       ModelRouteResolver
	credits      CreditChecker
	orchestrator *ToolOrchestrator
	supervisor   *ExtractionSupervisor

	// 文本阶段结束后仍有在途任务时的超时复判
	recheckMu      sync.Mutex
	rechecks       map[string]*time.Timer
	recheckWG      sync.WaitGroup
	recheckStopped bool
}

func NewProducer(
	cfg ProducerConfig,
	store *SessionStore,
	hub *EventHub,
	registry *TaskRegistry,
	gate *CompletionGate,
	factory port.ChatModelFactory,
	prompts *prompt.Registry,
	router ModelRouteResolver,
	credits CreditChecker,
	orchestrator *ToolOrchestrator,
) *Producer {
	cfg.applyDefaults()
	p := &Producer{
		cfg:          cfg,
		store:        store,
		hub:          hub,
		registry:     registry,
		gate:         gate,
		factory:      factory,
		prompts:      prompts,
		router:       router,
		credits:      credits,
		orchestrator: orchestrator,
		rechecks:     make(map[string]*time.Timer),
	}
	p.supervisor = NewExtractionSupervisor(registry, p.runExtraction, gate, cfg.StaleAfter)
	return p
}

// Wait 等待全部抽取任务结束（用于优雅退出与测试）
func (p *Producer) Wait() {
	p.supervisor.Wait()
}

// Stop 撤销尚未触发的超时复判并等待正在执行的复判返回；之后不再安排新的复判
func (p *Producer) Stop() {
	p.recheckMu.Lock()
	p.recheckStopped = true
	for id, t := range p.rechecks {
		if t.Stop() {
			p.recheckWG.Done()
		}
		delete(p.rechecks, id)
	}
	p.recheckMu.Unlock()
	p.recheckWG.Wait()
}

// scheduleRecheck 卡住的抽取任务不会永远阻塞完成：超时后再判定一次
func (p *Producer) scheduleRecheck(ctx context.Context, sessionID string) {
	p.recheckMu.Lock()
	defer p.recheckMu.Unlock()
	if p.recheckStopped {
		return
	}
	if old, ok := p.rechecks[sessionID]; ok && old.Stop() {
		p.recheckWG.Done()
	}

	ctx = context.WithoutCancel(ctx)
	p.recheckWG.Add(1)
	var t *time.Timer
	t = time.AfterFunc(p.cfg.StaleAfter+p.cfg.BufferDelay, func() {
		defer p.recheckWG.Done()
		p.recheckMu.Lock()
		if p.rechecks[sessionID] == t {
			delete(p.rechecks, sessionID)
		}
		stopped := p.recheckStopped
		p.recheckMu.Unlock()
		if stopped {
			return
		}
		p.gate.TryFinalize(ctx, sessionID)
	})
	p.rechecks[sessionID] = t
}

// runExtraction 抽取任务体；吸收不了的错误作为可恢复事件发出
func (p *Producer) runExtraction(ctx context.Context, job ExtractionJob) error {
	_, err := p.orchestrator.Extract(ctx, job.Request)
	if err != nil {
		p.hub.Publish(ChannelGeneration, job.SessionID, entity.GenerationError{
			Code:        eventErrorCode(err),
			Message:     err.Error(),
			Recoverable: true,
		})
	}
	return err
}

// begin INITIALIZING → GENERATING
func (p *Producer) begin(ctx context.Context, sessionID string, mode entity.GenerationMode) (*entity.GenerationSession, error) {
	sess, err := p.store.Update(sessionID, func(s *entity.GenerationSession) error {
		if s.Status != entity.SessionStatusInitializing {
			return fmt.Errorf("%w: status %s", errDiscarded, s.Status)
		}
		s.Status = entity.SessionStatusGenerating
		s.Metadata.Mode = mode
		s.Metadata.TotalRounds = p.cfg.Rounds
		s.Metadata.CurrentStep = "starting"
		return nil
	})
	if err != nil {
		return nil, err
	}
	p.hub.Publish(ChannelGeneration, sessionID, entity.SessionStarted{
		Mode:        mode,
		TotalRounds: p.cfg.Rounds,
		Prompt:      sess.InitialPrompt,
	})
	metrics.SettingSessionsTotal.WithLabelValues(string(mode), string(entity.SessionStatusGenerating)).Inc()
	logger.Info(ctx, "setting generation started", "mode", string(mode), "rounds", p.cfg.Rounds)
	return sess, nil
}

// resolveRoute 解析本轮路由并做积分预检；失败时发出可恢复错误并记录提前结束原因
func (p *Producer) resolveRoute(ctx context.Context, sess *entity.GenerationSession, inputText string) (port.ModelRoute, bool) {
	route, err := p.router.Resolve(ctx, sess.UserID, sess.Metadata.ModelConfigID, sess.Metadata.UseSharedPool)
	if err != nil {
		metrics.SettingRoundsTotal.WithLabelValues("model_config").Inc()
		p.stopEarly(ctx, sess.ID, "model_config", err)
		return port.ModelRoute{}, false
	}
	if route.IsSharedPool() && p.credits != nil {
		required, available, err := p.credits.Check(ctx, sess.UserID, route, inputText, p.cfg.PreflightOutputTokens)
		if err != nil {
			var ice *quota.InsufficientCreditsError
			reason := "credit_check"
			if errors.As(err, &ice) {
				reason = "insufficient_credits"
			}
			logger.Warn(ctx, "credit preflight rejected round",
				"required", required,
				"available", available,
				"error", err.Error(),
			)
			metrics.SettingRoundsTotal.WithLabelValues(reason).Inc()
			p.stopEarly(ctx, sess.ID, reason, err)
			return port.ModelRoute{}, false
		}
	}
	_, _ = p.store.Update(sess.ID, func(s *entity.GenerationSession) error {
		s.Metadata.ResolvedProvider = route.Provider
		s.Metadata.ResolvedModel = route.Model
		return nil
	})
	return route, true
}

func (p *Producer) stopEarly(ctx context.Context, sessionID, reason string, err error) {
	_, _ = p.store.Update(sessionID, func(s *entity.GenerationSession) error {
		s.Metadata.EarlyStopReason = reason
		return nil
	})
	p.hub.Publish(ChannelGeneration, sessionID, entity.GenerationError{
		Code:        eventErrorCode(err),
		Message:     err.Error(),
		Recoverable: true,
	})
	logger.Warn(ctx, "text phase ended early", "reason", reason, "error", err.Error())
}

func (p *Producer) startRound(sessionID string, round int, step string) bool {
	_, err := p.store.Update(sessionID, func(s *entity.GenerationSession) error {
		if s.Status != entity.SessionStatusGenerating {
			return errDiscarded
		}
		s.Metadata.CurrentRound = round
		s.Metadata.CurrentStep = step
		return nil
	})
	if err != nil {
		return false
	}
	p.hub.Publish(ChannelGeneration, sessionID, entity.GenerationProgress{
		Progress:    roundProgress(round-1, p.cfg.Rounds),
		CurrentStep: step,
		Round:       round,
		TotalRounds: p.cfg.Rounds,
	})
	return true
}

// roundProgress 完成 done 轮后的进度，留出最后一步给完成判定
func roundProgress(done, total int) int {
	if total <= 0 {
		return 0
	}
	return done * 100 / (total + 1)
}

// RunHybrid 混合模式：流式文本 + 增量抽取
func (p *Producer) RunHybrid(ctx context.Context, sessionID string) {
	ctx, span := tracer.Start(ctx, "setting.Producer.RunHybrid",
		trace.WithAttributes(attribute.String("session.id", sessionID)))
	defer span.End()

	sess, err := p.begin(ctx, sessionID, entity.GenerationModeHybrid)
	if err != nil {
		logger.Warn(ctx, "hybrid generation not started", "error", err.Error())
		return
	}

	produced := false
	accumulated := ""
	for round := 1; round <= p.cfg.Rounds; round++ {
		if ctx.Err() != nil {
			return
		}
		route, ok := p.resolveRoute(ctx, sess, sess.InitialPrompt+accumulated)
		if !ok {
			break
		}
		if !p.startRound(sessionID, round, fmt.Sprintf("text_round_%d", round)) {
			return
		}

		text, how := p.streamRound(ctx, sess, route, round, accumulated)
		if ctx.Err() != nil {
			return
		}
		metrics.SettingRoundsTotal.WithLabelValues(how).Inc()
		if text != "" {
			produced = true
			accumulated += text
			_, _ = p.store.Update(sessionID, func(s *entity.GenerationSession) error {
				s.Metadata.AccumulatedText = accumulated
				return nil
			})
		}
		logger.Info(ctx, "text round finished",
			"round", round,
			"outcome", how,
			"round_runes", utf8.RuneCountInString(text),
			"pending_tasks", p.registry.Pending(sessionID),
		)
		if how == roundEndMarker || how == roundFailed {
			break
		}
	}

	p.endTextPhase(ctx, sessionID, produced)
}

// RunDirect 直接模式：每轮由工具模型直接产出节点
func (p *Producer) RunDirect(ctx context.Context, sessionID string) {
	ctx, span := tracer.Start(ctx, "setting.Producer.RunDirect",
		trace.WithAttributes(attribute.String("session.id", sessionID)))
	defer span.End()

	sess, err := p.begin(ctx, sessionID, entity.GenerationModeDirect)
	if err != nil {
		logger.Warn(ctx, "direct generation not started", "error", err.Error())
		return
	}

	promptID := p.pickPrompt(ctx, sess.PromptTemplateID, prompt.PromptSettingDirectV1)
	produced := false
	for round := 1; round <= p.cfg.Rounds; round++ {
		if ctx.Err() != nil {
			return
		}
		route, ok := p.resolveRoute(ctx, sess, sess.InitialPrompt)
		if !ok {
			break
		}
		if !p.startRound(sessionID, round, fmt.Sprintf("direct_round_%d", round)) {
			return
		}

		out, err := p.orchestrator.Extract(ctx, ExtractionRequest{
			SessionID: sessionID,
			UserID:    sess.UserID,
			Route:     route,
			PromptID:  promptID,
			Vars: map[string]any{
				"prompt":       sess.InitialPrompt,
				"round":        round,
				"total_rounds": p.cfg.Rounds,
			},
			Workflow:      workflowSettingDirect,
			Trigger:       TriggerDirect,
			Admit:         AdmitOptions{Mode: AdmitGeneration, Channel: ChannelGeneration},
			AllowComplete: true,
		})
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			metrics.SettingRoundsTotal.WithLabelValues(roundFailed).Inc()
			p.hub.Publish(ChannelGeneration, sessionID, entity.GenerationError{
				Code:        eventErrorCode(err),
				Message:     err.Error(),
				Recoverable: true,
			})
			logger.Warn(ctx, "direct round failed", "round", round, "error", err.Error())
			if isModelConfigError(err) {
				break
			}
			continue
		}
		produced = true
		metrics.SettingRoundsTotal.WithLabelValues(roundEnded).Inc()
		logger.Info(ctx, "direct round finished",
			"round", round,
			"admitted", out.Admitted,
			"rejected", out.Rejected,
		)
	}

	p.endTextPhase(ctx, sessionID, produced)
}

// endTextPhase 标记文本阶段结束，等待缓冲期后尝试完成
func (p *Producer) endTextPhase(ctx context.Context, sessionID string, produced bool) {
	now := time.Now()
	_, err := p.store.Update(sessionID, func(s *entity.GenerationSession) error {
		if s.Status != entity.SessionStatusGenerating {
			return errDiscarded
		}
		s.Metadata.TextStreamEnded = true
		s.Metadata.TextStreamEndedAt = &now
		s.Metadata.CurrentStep = "extracting"
		return nil
	})
	if err != nil {
		return
	}
	p.hub.Publish(ChannelGeneration, sessionID, entity.GenerationProgress{
		Progress:    roundProgress(p.cfg.Rounds, p.cfg.Rounds),
		CurrentStep: "extracting",
		TotalRounds: p.cfg.Rounds,
		Message:     "text phase ended",
	})
	logger.Info(ctx, "text phase ended", "pending_tasks", p.registry.Pending(sessionID))

	if p.cfg.BufferDelay > 0 {
		timer := time.NewTimer(p.cfg.BufferDelay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return
		}
	}

	if !produced && p.registry.Pending(sessionID) == 0 {
		if sess, err := p.store.Get(sessionID); err == nil && len(sess.Nodes) == 0 {
			reason := "no output produced"
			if sess.Metadata.EarlyStopReason != "" {
				reason = "no output produced: " + sess.Metadata.EarlyStopReason
			}
			p.failSession(ctx, sessionID, &GenerationFailedError{Reason: reason})
			return
		}
	}

	if p.gate.TryFinalize(ctx, sessionID) {
		return
	}
	p.scheduleRecheck(ctx, sessionID)
}

// failSession 无任何可用产出时进入 ERROR
func (p *Producer) failSession(ctx context.Context, sessionID string, cause error) {
	sess, err := p.store.Update(sessionID, func(s *entity.GenerationSession) error {
		if s.Status != entity.SessionStatusGenerating {
			return errDiscarded
		}
		s.Status = entity.SessionStatusError
		s.Metadata.ErrorMessage = cause.Error()
		s.Metadata.CurrentStep = "error"
		return nil
	})
	if err != nil {
		return
	}
	p.gate.MarkCompleted(sessionID)
	p.hub.Publish(ChannelGeneration, sessionID, entity.GenerationError{
		Code:        entity.EventErrGenerationFailed,
		Message:     cause.Error(),
		Recoverable: false,
	})
	p.hub.Close(ChannelGeneration, sessionID)
	metrics.SettingSessionsTotal.WithLabelValues(string(sess.Metadata.Mode), string(entity.SessionStatusError)).Inc()
	logger.Error(ctx, "setting generation failed", cause)
}

func (p *Producer) pickPrompt(ctx context.Context, templateID string, fallback prompt.PromptID) prompt.PromptID {
	id, ok := p.prompts.Resolve(templateID, fallback)
	if !ok && strings.TrimSpace(templateID) != "" {
		logger.Warn(ctx, "prompt template not usable for this phase, using default",
			"template_id", templateID, "default", string(fallback))
	}
	return id
}

// streamRound 流式产出一轮文本。可重试的中断会携带已产出文本续写；
// 重试耗尽或超时视为本轮提前结束，并对本轮文本做一次兜底解析。
func (p *Producer) streamRound(ctx context.Context, sess *entity.GenerationSession, route port.ModelRoute, round int, accumulated string) (string, string) {
	roundCtx, cancel := context.WithTimeout(ctx, p.cfg.RoundTimeout)
	defer cancel()
	roundCtx = service.WithWorkflowProvider(roundCtx, workflowSettingText, route.Provider)
	if route.IsSharedPool() {
		roundCtx = service.WithBilling(roundCtx, service.UsageBilling{
			UserID:           sess.UserID,
			SessionID:        sess.ID,
			InputPricePer1K:  route.InputPricePer1K,
			OutputPricePer1K: route.OutputPricePer1K,
		})
	}

	chatModel, err := p.factory.ForRoute(roundCtx, route)
	if err != nil {
		p.stopEarly(ctx, sess.ID, "model_config", &ModelConfigError{ConfigID: route.ConfigID, Reason: "create chat model", Err: err})
		return "", roundFailed
	}
	msgs, err := p.textMessages(roundCtx, sess, round, accumulated)
	if err != nil {
		p.stopEarly(ctx, sess.ID, "prompt", err)
		return "", roundFailed
	}

	buf := newDeltaBuffer(p.cfg.MinDeltaRunes, p.cfg.OverlapRunes, p.cfg.EndMarker)
	seq := 0
	dispatch := func(delta string) {
		seq++
		p.supervisor.Dispatch(ctx, ExtractionJob{
			SessionID: sess.ID,
			Round:     round,
			Seq:       seq,
			Request: ExtractionRequest{
				SessionID:  sess.ID,
				UserID:     sess.UserID,
				Route:      route,
				PromptID:   prompt.PromptSettingExtractV1,
				Vars:       map[string]any{"round_hint": fmt.Sprintf("当前为第 %d/%d 轮文本。", round, p.cfg.Rounds), "text": delta},
				SourceText: delta,
				Workflow:   workflowSettingExtract,
				Trigger:    TriggerDelta,
				Admit:      AdmitOptions{Mode: AdmitGeneration, Channel: ChannelGeneration},
				// 完成声明只作记录
				AllowComplete: true,
			},
		})
	}

	endSeen := false
	streamErr := retryTransient(roundCtx, p.cfg.Retry, workflowSettingText, "stream", func() error {
		reqMsgs := msgs
		if partial := buf.Text(); partial != "" {
			reqMsgs = append(append([]*schema.Message(nil), msgs...),
				schema.AssistantMessage(partial, nil),
				schema.UserMessage(continuePrompt),
			)
		}
		sr, err := chatModel.Stream(roundCtx, reqMsgs, buildModelOptions(route, false)...)
		if err != nil {
			return err
		}
		defer sr.Close()

		chunks := make(chan streamChunk)
		done := make(chan struct{})
		defer close(done)
		go func() {
			defer close(chunks)
			for {
				msg, err := sr.Recv()
				select {
				case chunks <- streamChunk{msg: msg, err: err}:
				case <-done:
					return
				}
				if err != nil {
					return
				}
			}
		}()

		ticker := time.NewTicker(p.cfg.MaxFlushWait)
		defer ticker.Stop()
		for {
			select {
			case c, ok := <-chunks:
				if !ok {
					return nil
				}
				if errors.Is(c.err, io.EOF) {
					return nil
				}
				if c.err != nil {
					return c.err
				}
				if c.msg == nil || c.msg.Content == "" {
					continue
				}
				if buf.Append(c.msg.Content) {
					endSeen = true
					return nil
				}
				if delta, ok := buf.Flush(false); ok {
					dispatch(delta)
				}
			case <-ticker.C:
				if delta, ok := buf.Flush(true); ok {
					dispatch(delta)
				}
			case <-roundCtx.Done():
				return roundCtx.Err()
			}
		}
	})

	text := buf.Text()
	if ctx.Err() != nil {
		return text, roundFailed
	}
	if delta, ok := buf.Final(); ok {
		dispatch(delta)
	}

	switch {
	case streamErr == nil && endSeen:
		logger.Info(ctx, "end marker received", "round", round)
		return text, roundEndMarker
	case streamErr == nil:
		return text, roundEnded
	}

	how := roundInterrupted
	var tpe *TransientProviderError
	switch {
	case errors.Is(streamErr, context.DeadlineExceeded):
		how = roundTimeout
	case errors.As(streamErr, &tpe):
	default:
		if !node.IsTransientProviderError(streamErr) {
			how = roundFailed
			p.stopEarly(ctx, sess.ID, "provider_error", streamErr)
		}
	}
	if how != roundFailed {
		p.hub.Publish(ChannelGeneration, sess.ID, entity.GenerationError{
			Code:        entity.EventErrProvider,
			Message:     fmt.Sprintf("round %d ended early: %v", round, streamErr),
			Recoverable: true,
		})
	}
	logger.Warn(ctx, "text round ended early",
		"round", round,
		"outcome", how,
		"round_runes", utf8.RuneCountInString(text),
		"error", streamErr.Error(),
	)
	p.salvageRound(ctx, sess.ID, text)
	return text, how
}

// salvageRound 中断轮次的兜底：直接把本轮文本解析为节点
func (p *Producer) salvageRound(ctx context.Context, sessionID, text string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	nodes := p.orchestrator.fallbackParse(ctx, TriggerRoundText, text)
	if len(nodes) == 0 {
		return
	}
	res, err := p.orchestrator.admitter.Admit(ctx, sessionID, nodes, AdmitOptions{Mode: AdmitGeneration, Channel: ChannelGeneration})
	if err != nil {
		logger.Warn(ctx, "admit salvaged round failed", "error", err.Error())
		return
	}
	logger.Info(ctx, "interrupted round salvaged",
		"admitted", len(res.Admitted),
		"rejected", len(res.Rejected),
	)
}

func (p *Producer) textMessages(ctx context.Context, sess *entity.GenerationSession, round int, accumulated string) ([]*schema.Message, error) {
	tpl, err := p.prompts.ChatTemplate(p.pickPrompt(ctx, sess.PromptTemplateID, prompt.PromptSettingTextV1))
	if err != nil {
		return nil, err
	}
	hint := "请先写出整体框架与最核心的设定条目。"
	if accumulated != "" {
		hint = "你已经写过的内容（节选）如下，请继续补充新的条目或细化已有条目：\n" + tailRunes(accumulated, roundHintTail)
	}
	return tpl.Format(ctx, map[string]any{
		"end_marker":   p.cfg.EndMarker,
		"prompt":       sess.InitialPrompt,
		"round":        round,
		"total_rounds": p.cfg.Rounds,
		"round_hint":   hint,
	})
}

type streamChunk struct {
	msg *schema.Message
	err error
}

func tailRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[len(r)-n:])
}
