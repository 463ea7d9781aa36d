package setting

import (
	"context"
	"encoding/json"
	"fmt"

	"golang.org/x/sync/singleflight"
	"gorm.io/datatypes"

	"z-novel-setting-api/internal/domain/entity"
	"z-novel-setting-api/internal/domain/repository"
	"z-novel-setting-api/pkg/logger"
	"z-novel-setting-api/pkg/metrics"
	"z-novel-setting-api/pkg/tracer"
)

// DomainEventType 对外发布的领域事件类型
type DomainEventType string

const (
	DomainEventCompleted DomainEventType = "setting.generation.completed"
	DomainEventSaved     DomainEventType = "setting.tree.saved"
)

// DomainEvent 供下游消费的领域事件
type DomainEvent struct {
	Type        DomainEventType `json:"type"`
	SessionID   string          `json:"session_id"`
	UserID      string          `json:"user_id"`
	NovelID     string          `json:"novel_id,omitempty"`
	HistoryID   string          `json:"history_id,omitempty"`
	NodeCount   int             `json:"node_count"`
	RootNodeIDs []string        `json:"root_node_ids,omitempty"`
}

// DomainEventPublisher 领域事件发布（尽力而为，失败只记录日志）
type DomainEventPublisher interface {
	PublishSettingEvent(ctx context.Context, evt DomainEvent)
}

// SaveRequest 保存参数
type SaveRequest struct {
	NovelID         string
	UpdateExisting  bool
	TargetHistoryID string
}

// SaveResult 保存结果
type SaveResult struct {
	HistoryID   string   `json:"historyId"`
	RootNodeIDs []string `json:"rootNodeIds"`
	Reused      bool     `json:"-"`
}

// TreePersister 将设定树交给持久化协作者。
// 同一会话的并发保存合并为一次；树未变脏时重复保存返回已记录的结果。
type TreePersister struct {
	store  *SessionStore
	repo   repository.SettingHistoryRepository
	events DomainEventPublisher
	sf     singleflight.Group
}

func NewTreePersister(store *SessionStore, repo repository.SettingHistoryRepository, events DomainEventPublisher) *TreePersister {
	return &TreePersister{store: store, repo: repo, events: events}
}

// Save 幂等保存
func (p *TreePersister) Save(ctx context.Context, sessionID string, req SaveRequest) (*SaveResult, error) {
	v, err, _ := p.sf.Do(sessionID, func() (interface{}, error) {
		return p.save(ctx, sessionID, req)
	})
	if err != nil {
		return nil, err
	}
	res := v.(*SaveResult)
	cp := *res
	cp.RootNodeIDs = append([]string(nil), res.RootNodeIDs...)
	return &cp, nil
}

func (p *TreePersister) save(ctx context.Context, sessionID string, req SaveRequest) (*SaveResult, error) {
	ctx, span := tracer.Start(ctx, "setting.TreePersister.Save")
	defer span.End()

	sess, err := p.store.Get(sessionID)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(tracer.SessionAttributes(sess.UserID, sessionID)...)
	if sess.Status != entity.SessionStatusCompleted && sess.Status != entity.SessionStatusSaved {
		return nil, ErrSessionNotReady
	}

	md := sess.Metadata
	revision := md.TreeRevision
	if md.SavedHistoryID != "" && !md.TreeDirty {
		metrics.SettingPersistTotal.WithLabelValues("reuse", "success").Inc()
		return &SaveResult{HistoryID: md.SavedHistoryID, RootNodeIDs: md.SavedRootNodeIDs, Reused: true}, nil
	}

	novelID := req.NovelID
	if novelID == "" {
		novelID = sess.NovelID
	}
	if novelID == "" {
		return nil, fmt.Errorf("%w: novelId is required", ErrInvalidInput)
	}

	payload, err := json.Marshal(orderedNodes(sess))
	if err != nil {
		return nil, fmt.Errorf("marshal setting nodes: %w", err)
	}
	history := &entity.SettingHistory{
		UserID:      sess.UserID,
		NovelID:     novelID,
		SessionID:   sess.ID,
		Prompt:      sess.InitialPrompt,
		NodeCount:   len(sess.Nodes),
		RootNodeIDs: append([]string(nil), sess.RootNodeIDs...),
		Nodes:       datatypes.JSON(payload),
	}

	op := "create"
	target := ""
	if req.UpdateExisting {
		target = req.TargetHistoryID
		if target == "" {
			target = md.SavedHistoryID
		}
	}
	if target != "" {
		op = "update"
		existing, err := p.repo.GetByID(ctx, target)
		if err != nil {
			tracer.RecordError(span, err)
			metrics.SettingPersistTotal.WithLabelValues(op, "error").Inc()
			return nil, err
		}
		if existing == nil || existing.UserID != sess.UserID {
			return nil, ErrHistoryNotFound
		}
		history.ID = existing.ID
		history.CreatedAt = existing.CreatedAt
		if err := p.repo.Update(ctx, history); err != nil {
			tracer.RecordError(span, err)
			metrics.SettingPersistTotal.WithLabelValues(op, "error").Inc()
			return nil, err
		}
	} else if err := p.repo.Create(ctx, history); err != nil {
		tracer.RecordError(span, err)
		metrics.SettingPersistTotal.WithLabelValues(op, "error").Inc()
		return nil, err
	}
	metrics.SettingPersistTotal.WithLabelValues(op, "success").Inc()

	res := &SaveResult{HistoryID: history.ID, RootNodeIDs: []string(history.RootNodeIDs)}
	if _, err := p.store.Update(sessionID, func(s *entity.GenerationSession) error {
		s.Metadata.SavedHistoryID = res.HistoryID
		s.Metadata.SavedRootNodeIDs = append([]string(nil), res.RootNodeIDs...)
		// 快照之后准入的节点不在本次落盘内容里
		s.Metadata.TreeDirty = s.Metadata.TreeRevision != revision
		if s.NovelID == "" {
			s.NovelID = novelID
		}
		if s.Status == entity.SessionStatusCompleted {
			s.Status = entity.SessionStatusSaved
		}
		return nil
	}); err != nil {
		// 会话已被删除或过期，落盘结果仍然有效
		logger.Warn(ctx, "record saved history on session failed", "history_id", res.HistoryID, "error", err.Error())
	}

	logger.Info(ctx, "setting tree persisted",
		"op", op,
		"history_id", res.HistoryID,
		"node_count", history.NodeCount,
	)
	if p.events != nil {
		p.events.PublishSettingEvent(ctx, DomainEvent{
			Type:        DomainEventSaved,
			SessionID:   sess.ID,
			UserID:      sess.UserID,
			NovelID:     novelID,
			HistoryID:   res.HistoryID,
			NodeCount:   history.NodeCount,
			RootNodeIDs: res.RootNodeIDs,
		})
	}
	return res, nil
}

// orderedNodes 按根节点顺序广度优先展开，保证输出稳定
func orderedNodes(sess *entity.GenerationSession) []*entity.SettingNode {
	out := make([]*entity.SettingNode, 0, len(sess.Nodes))
	seen := make(map[string]bool, len(sess.Nodes))
	queue := append([]string(nil), sess.RootNodeIDs...)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		n, ok := sess.Nodes[id]
		if !ok || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, n)
		for _, c := range sess.Children(id) {
			queue = append(queue, c.ID)
		}
	}
	return out
}
