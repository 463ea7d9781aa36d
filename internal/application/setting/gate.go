package setting

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"z-novel-setting-api/internal/domain/entity"
	"z-novel-setting-api/pkg/logger"
	"z-novel-setting-api/pkg/metrics"
	"z-novel-setting-api/pkg/tracer"
)

// autoPersister 完成后的一次性落盘
type autoPersister interface {
	Save(ctx context.Context, sessionID string, req SaveRequest) (*SaveResult, error)
}

// CompletionGate 保证每个会话只完成一次。
// 完成条件：textStreamEnded 为真、缓冲期已过、在途任务为空（或全部超时被清理）。
// 任何可能是“最后一个事件”的位置都可以调用 TryFinalize。
type CompletionGate struct {
	mu         sync.Mutex
	completing map[string]struct{}
	completed  map[string]struct{}

	store       *SessionStore
	registry    *TaskRegistry
	hub         *EventHub
	persister   autoPersister
	events      DomainEventPublisher
	staleAfter  time.Duration
	bufferDelay time.Duration
	now         func() time.Time
}

func NewCompletionGate(store *SessionStore, registry *TaskRegistry, hub *EventHub, staleAfter, bufferDelay time.Duration) *CompletionGate {
	if staleAfter <= 0 {
		staleAfter = 3 * time.Minute
	}
	return &CompletionGate{
		completing:  make(map[string]struct{}),
		completed:   make(map[string]struct{}),
		store:       store,
		registry:    registry,
		hub:         hub,
		staleAfter:  staleAfter,
		bufferDelay: bufferDelay,
		now:         time.Now,
	}
}

// SetPersister 注入完成后的落盘协作者
func (g *CompletionGate) SetPersister(p autoPersister) {
	g.persister = p
}

// SetEventPublisher 注入领域事件发布
func (g *CompletionGate) SetEventPublisher(p DomainEventPublisher) {
	g.events = p
}

// MarkCompleted 标记会话不再需要完成判定（取消、失败）
func (g *CompletionGate) MarkCompleted(sessionID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.completing, sessionID)
	g.completed[sessionID] = struct{}{}
}

// Forget 删除会话的判定标记
func (g *CompletionGate) Forget(sessionID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.completing, sessionID)
	delete(g.completed, sessionID)
}

// IsFinalized 是否已完成或正在完成
func (g *CompletionGate) IsFinalized(sessionID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, a := g.completing[sessionID]
	_, b := g.completed[sessionID]
	return a || b
}

// TryFinalize 条件不满足时为 no-op；返回本次调用是否执行了完成
func (g *CompletionGate) TryFinalize(ctx context.Context, sessionID string) bool {
	if g.IsFinalized(sessionID) {
		return false
	}

	sess, err := g.store.Get(sessionID)
	if err != nil {
		return false
	}
	if sess.Status != entity.SessionStatusGenerating || !sess.Metadata.TextStreamEnded {
		return false
	}
	if at := sess.Metadata.TextStreamEndedAt; at != nil && g.now().Before(at.Add(g.bufferDelay)) {
		return false
	}

	pending, cleared := g.registry.Drain(sessionID, g.staleAfter)
	if len(cleared) > 0 {
		for taskID, age := range cleared {
			logger.Warn(ctx, "stale extraction task cleared",
				"task_id", taskID,
				"age_ms", age.Milliseconds(),
			)
		}
		metrics.StaleTasksCleared.Add(float64(len(cleared)))
	}
	if pending > 0 {
		logger.Debug(ctx, "finalize deferred, extraction tasks in flight", "pending", pending)
		return false
	}

	// test-and-set
	g.mu.Lock()
	if _, ok := g.completing[sessionID]; ok {
		g.mu.Unlock()
		return false
	}
	if _, ok := g.completed[sessionID]; ok {
		g.mu.Unlock()
		return false
	}
	g.completing[sessionID] = struct{}{}
	g.mu.Unlock()

	ok := g.finalize(ctx, sessionID)

	g.mu.Lock()
	delete(g.completing, sessionID)
	g.completed[sessionID] = struct{}{}
	g.mu.Unlock()
	return ok
}

func (g *CompletionGate) finalize(ctx context.Context, sessionID string) bool {
	ctx, span := tracer.Start(ctx, "setting.CompletionGate.finalize",
		trace.WithAttributes(attribute.String("session.id", sessionID)))
	defer span.End()

	now := g.now()
	sess, err := g.store.Update(sessionID, func(s *entity.GenerationSession) error {
		if s.Status != entity.SessionStatusGenerating {
			return errDiscarded
		}
		s.Metadata.StreamFinalized = true
		s.Metadata.CurrentStep = "completed"
		s.Status = entity.SessionStatusCompleted
		s.CompletedAt = &now
		return nil
	})
	if err != nil {
		logger.Info(ctx, "finalize skipped", "reason", err.Error())
		metrics.FinalizeTotal.WithLabelValues("skipped").Inc()
		return false
	}

	nodeCount := len(sess.Nodes)
	outcome := entity.OutcomeCompleted
	if nodeCount == 0 {
		outcome = entity.OutcomeEmpty
	}
	g.hub.Publish(ChannelGeneration, sessionID, entity.GenerationCompleted{
		NodeCount:            nodeCount,
		DurationMs:           now.Sub(sess.CreatedAt).Milliseconds(),
		Outcome:              outcome,
		ToolDeclaredComplete: sess.Metadata.ToolPendingComplete,
	})
	g.hub.Close(ChannelGeneration, sessionID)
	metrics.FinalizeTotal.WithLabelValues(outcome).Inc()
	metrics.SettingSessionsTotal.WithLabelValues(string(sess.Metadata.Mode), string(entity.SessionStatusCompleted)).Inc()
	logger.Info(ctx, "setting session finalized",
		"node_count", nodeCount,
		"tool_declared_complete", sess.Metadata.ToolPendingComplete,
		"rounds", sess.Metadata.CurrentRound,
	)

	if g.events != nil {
		g.events.PublishSettingEvent(ctx, DomainEvent{
			Type:      DomainEventCompleted,
			SessionID: sessionID,
			UserID:    sess.UserID,
			NovelID:   sess.NovelID,
			NodeCount: nodeCount,
		})
	}

	if nodeCount > 0 && g.persister != nil && sess.NovelID != "" {
		res, err := g.persister.Save(ctx, sessionID, SaveRequest{NovelID: sess.NovelID})
		if err != nil {
			tracer.RecordError(span, err)
			logger.Error(ctx, "auto persist setting tree failed", err)
		} else {
			logger.Info(ctx, "setting tree handed off", "history_id", res.HistoryID)
		}
	}
	return true
}
