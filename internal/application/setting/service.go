package setting

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"z-novel-setting-api/internal/domain/entity"
	"z-novel-setting-api/pkg/logger"
	"z-novel-setting-api/pkg/metrics"
)

// StartRequest 启动生成
type StartRequest struct {
	UserID           string
	NovelID          string
	Prompt           string
	PromptTemplateID string
	ModelConfigID    string
	StrategyID       string
	UseSharedPool    bool
}

// StatusView 会话进度
type StatusView struct {
	SessionID    string               `json:"sessionId"`
	Status       entity.SessionStatus `json:"status"`
	Progress     int                  `json:"progress"`
	CurrentStep  string               `json:"currentStep"`
	CurrentRound int                  `json:"currentRound"`
	TotalSteps   int                  `json:"totalSteps"`
	NodeCount    int                  `json:"nodeCount"`
	ErrorMessage string               `json:"errorMessage,omitempty"`
}

// Service 设定生成引擎的对外入口。会话归属于创建者，其他用户访问视同不存在。
type Service struct {
	store     *SessionStore
	hub       *EventHub
	registry  *TaskRegistry
	gate      *CompletionGate
	producer  *Producer
	modifier  *Modifier
	persister *TreePersister

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup
}

func NewService(
	store *SessionStore,
	hub *EventHub,
	registry *TaskRegistry,
	gate *CompletionGate,
	producer *Producer,
	modifier *Modifier,
	persister *TreePersister,
) *Service {
	s := &Service{
		store:     store,
		hub:       hub,
		registry:  registry,
		gate:      gate,
		producer:  producer,
		modifier:  modifier,
		persister: persister,
		cancels:   make(map[string]context.CancelFunc),
	}
	gate.SetPersister(persister)
	store.OnEvicted(s.teardown)
	return s
}

// teardown 会话被删除或过期后清理附属状态；在存储锁内回调，不能访问 store
func (s *Service) teardown(sessionID string) {
	s.mu.Lock()
	if cancel, ok := s.cancels[sessionID]; ok {
		cancel()
		delete(s.cancels, sessionID)
	}
	s.mu.Unlock()
	s.hub.Remove(sessionID)
	s.registry.Remove(sessionID)
	s.gate.Forget(sessionID)
	s.modifier.Forget(sessionID)
}

// Start 直接模式；立即返回，调用方随后订阅事件流
func (s *Service) Start(ctx context.Context, req StartRequest) (string, error) {
	req.UseSharedPool = false
	return s.start(ctx, req, entity.GenerationModeDirect)
}

// StartHybrid 混合模式，结束标记由服务端固定
func (s *Service) StartHybrid(ctx context.Context, req StartRequest) (string, error) {
	return s.start(ctx, req, entity.GenerationModeHybrid)
}

func (s *Service) start(ctx context.Context, req StartRequest, mode entity.GenerationMode) (string, error) {
	if strings.TrimSpace(req.UserID) == "" {
		return "", fmt.Errorf("%w: user is required", ErrInvalidInput)
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return "", fmt.Errorf("%w: prompt is required", ErrInvalidInput)
	}

	sess := s.store.Create(req.UserID, strings.TrimSpace(req.NovelID), strings.TrimSpace(req.Prompt), req.StrategyID, req.PromptTemplateID)
	if _, err := s.store.Update(sess.ID, func(x *entity.GenerationSession) error {
		x.Metadata.Mode = mode
		x.Metadata.ModelConfigID = strings.TrimSpace(req.ModelConfigID)
		x.Metadata.UseSharedPool = req.UseSharedPool
		return nil
	}); err != nil {
		return "", err
	}

	runCtx, cancel := context.WithCancel(logger.WithSession(context.WithoutCancel(ctx), req.UserID, sess.ID))
	s.mu.Lock()
	s.cancels[sess.ID] = cancel
	s.mu.Unlock()

	run := s.producer.RunDirect
	if mode == entity.GenerationModeHybrid {
		run = s.producer.RunHybrid
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.release(sess.ID)
		run(runCtx, sess.ID)
	}()

	logger.Info(runCtx, "setting session created", "mode", string(mode), "shared_pool", req.UseSharedPool)
	return sess.ID, nil
}

func (s *Service) release(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cancel, ok := s.cancels[sessionID]; ok {
		cancel()
		delete(s.cancels, sessionID)
	}
}

func (s *Service) owned(userID, sessionID string) (*entity.GenerationSession, error) {
	sess, err := s.store.Get(sessionID)
	if err != nil {
		return nil, err
	}
	if userID != "" && sess.UserID != userID {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// Subscribe 订阅事件流（回放历史 + 后续事件 + 心跳）
func (s *Service) Subscribe(ctx context.Context, userID, sessionID string, ch Channel) (<-chan entity.GenerationEvent, error) {
	if _, err := s.owned(userID, sessionID); err != nil {
		return nil, err
	}
	return s.hub.Subscribe(ctx, ch, sessionID), nil
}

// ModifyNode 单节点修改
func (s *Service) ModifyNode(ctx context.Context, userID string, req ModifyNodeRequest) error {
	if _, err := s.owned(userID, req.SessionID); err != nil {
		return err
	}
	return s.modifier.ModifyNode(logger.WithSession(ctx, userID, req.SessionID), req)
}

// AdjustSession 整体调整
func (s *Service) AdjustSession(ctx context.Context, userID string, req AdjustSessionRequest) error {
	if _, err := s.owned(userID, req.SessionID); err != nil {
		return err
	}
	return s.modifier.AdjustSession(logger.WithSession(ctx, userID, req.SessionID), req)
}

// Cancel 取消进行中的生成；已结束的会话为 no-op
func (s *Service) Cancel(ctx context.Context, userID, sessionID string) error {
	if _, err := s.owned(userID, sessionID); err != nil {
		return err
	}
	_, err := s.interrupt(logger.WithSession(ctx, userID, sessionID), sessionID, "generation cancelled")
	return err
}

// interrupt 把进行中的会话置为 CANCELLED 并发出终止事件；
// 会话已结束时返回 false。
func (s *Service) interrupt(ctx context.Context, sessionID, message string) (bool, error) {
	sess, err := s.store.Update(sessionID, func(x *entity.GenerationSession) error {
		if x.Status != entity.SessionStatusInitializing && x.Status != entity.SessionStatusGenerating {
			return errDiscarded
		}
		x.Status = entity.SessionStatusCancelled
		x.Metadata.CurrentStep = "cancelled"
		return nil
	})
	if errors.Is(err, errDiscarded) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	s.release(sessionID)
	s.gate.MarkCompleted(sessionID)
	s.hub.Publish(ChannelGeneration, sessionID, entity.GenerationError{
		Code:        entity.EventErrCancelled,
		Message:     message,
		Recoverable: false,
	})
	s.hub.Close(ChannelGeneration, sessionID)
	metrics.SettingSessionsTotal.WithLabelValues(string(sess.Metadata.Mode), string(entity.SessionStatusCancelled)).Inc()
	logger.Info(ctx, "setting session cancelled", "node_count", len(sess.Nodes), "reason", message)
	return true, nil
}

// Save 保存到持久化协作者，幂等
func (s *Service) Save(ctx context.Context, userID, sessionID string, req SaveRequest) (*SaveResult, error) {
	if _, err := s.owned(userID, sessionID); err != nil {
		return nil, err
	}
	return s.persister.Save(logger.WithSession(ctx, userID, sessionID), sessionID, req)
}

// Status 进度：每轮一步，完成判定算最后一步
func (s *Service) Status(_ context.Context, userID, sessionID string) (*StatusView, error) {
	sess, err := s.owned(userID, sessionID)
	if err != nil {
		return nil, err
	}
	md := sess.Metadata
	rounds := md.TotalRounds
	if rounds <= 0 {
		rounds = s.producer.cfg.Rounds
	}
	view := &StatusView{
		SessionID:    sess.ID,
		Status:       sess.Status,
		CurrentStep:  md.CurrentStep,
		CurrentRound: md.CurrentRound,
		TotalSteps:   rounds + 1,
		NodeCount:    len(sess.Nodes),
		ErrorMessage: md.ErrorMessage,
	}
	switch {
	case sess.Status == entity.SessionStatusCompleted || sess.Status == entity.SessionStatusSaved:
		view.Progress = 100
	case md.TextStreamEnded:
		view.Progress = roundProgress(rounds, rounds)
	case md.CurrentRound > 0:
		view.Progress = roundProgress(md.CurrentRound-1, rounds)
	}
	if view.CurrentStep == "" {
		view.CurrentStep = strings.ToLower(string(sess.Status))
	}
	return view, nil
}

// Get 会话快照
func (s *Service) Get(_ context.Context, userID, sessionID string) (*entity.GenerationSession, error) {
	return s.owned(userID, sessionID)
}

// Delete 取消并删除会话及其附属状态
func (s *Service) Delete(ctx context.Context, userID, sessionID string) error {
	if _, err := s.owned(userID, sessionID); err != nil {
		return err
	}
	if err := s.Cancel(ctx, userID, sessionID); err != nil && !errors.Is(err, ErrSessionNotFound) {
		return err
	}
	s.store.Delete(sessionID)
	logger.Info(logger.WithSession(ctx, userID, sessionID), "setting session deleted")
	return nil
}

// Shutdown 取消全部进行中的生成（会话置为 CANCELLED、关闭事件流）并等待后台任务退出
func (s *Service) Shutdown(ctx context.Context) error {
	s.producer.Stop()

	// 先落状态再撤上下文，生产者退出时不会把会话改写成 ERROR
	interrupted := 0
	for _, id := range s.store.IDs() {
		ok, err := s.interrupt(ctx, id, "generation interrupted by shutdown")
		if err != nil && !errors.Is(err, ErrSessionNotFound) {
			logger.Warn(ctx, "failed to cancel session on shutdown", "session_id", id, "error", err)
		}
		if ok {
			interrupted++
		}
	}
	if interrupted > 0 {
		logger.Info(ctx, "sessions cancelled on shutdown", "count", interrupted)
	}

	s.mu.Lock()
	for id, cancel := range s.cancels {
		cancel()
		delete(s.cancels, id)
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		s.producer.Wait()
		s.modifier.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
