package setting

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"z-novel-setting-api/internal/domain/entity"
	"z-novel-setting-api/internal/workflow/node"
	"z-novel-setting-api/internal/workflow/prompt"
	"z-novel-setting-api/pkg/logger"
)

const (
	workflowSettingModify = "setting_modify"
	workflowSettingAdjust = "setting_adjust"

	treeDescRunes = 60
	adjustAlias   = "A"
)

// ModifyNodeRequest 单节点修改
type ModifyNodeRequest struct {
	SessionID     string
	NodeID        string
	Instruction   string
	ModelConfigID string
	Scope         entity.ModificationScope
}

// AdjustSessionRequest 整体调整
type AdjustSessionRequest struct {
	SessionID        string
	Instruction      string
	ModelConfigID    string
	PromptTemplateID string
}

// Modifier 对已完成的设定树做范围受限的修改。
// 每个会话同一时间只允许一个修改操作，事件发到 modification 流。
type Modifier struct {
	store        *SessionStore
	hub          *EventHub
	orchestrator *ToolOrchestrator
	router       ModelRouteResolver
	prompts      *prompt.Registry
	locks        sync.Map
	wg           sync.WaitGroup
}

func NewModifier(store *SessionStore, hub *EventHub, orchestrator *ToolOrchestrator, router ModelRouteResolver, prompts *prompt.Registry) *Modifier {
	return &Modifier{
		store:        store,
		hub:          hub,
		orchestrator: orchestrator,
		router:       router,
		prompts:      prompts,
	}
}

// Wait 等待进行中的修改结束
func (m *Modifier) Wait() {
	m.wg.Wait()
}

// Forget 删除会话的修改锁
func (m *Modifier) Forget(sessionID string) {
	m.locks.Delete(sessionID)
}

func (m *Modifier) tryLock(sessionID string) (func(), bool) {
	v, _ := m.locks.LoadOrStore(sessionID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	if !mu.TryLock() {
		return nil, false
	}
	return mu.Unlock, true
}

func modifiable(sess *entity.GenerationSession) error {
	if sess.Status != entity.SessionStatusCompleted && sess.Status != entity.SessionStatusSaved {
		return fmt.Errorf("%w: status %s", ErrSessionNotReady, sess.Status)
	}
	return nil
}

// ModifyNode 校验前置条件后异步执行，结果经 modification 流推送
func (m *Modifier) ModifyNode(ctx context.Context, req ModifyNodeRequest) error {
	if strings.TrimSpace(req.Instruction) == "" {
		return fmt.Errorf("%w: instruction is required", ErrInvalidInput)
	}
	if req.Scope == "" {
		req.Scope = entity.ScopeSelf
	}
	if !req.Scope.IsValid() {
		return fmt.Errorf("%w: unknown scope %q", ErrInvalidInput, req.Scope)
	}

	sess, err := m.store.Get(req.SessionID)
	if err != nil {
		return err
	}
	if err := modifiable(sess); err != nil {
		return err
	}
	target, ok := sess.Nodes[req.NodeID]
	if !ok {
		return ErrNodeNotFound
	}

	unlock, ok := m.tryLock(req.SessionID)
	if !ok {
		return ErrSessionBusy
	}
	route, err := m.router.Resolve(ctx, sess.UserID, pickConfigID(req.ModelConfigID, sess), sess.Metadata.UseSharedPool)
	if err != nil {
		unlock()
		return err
	}

	scope := &ScopeRule{Scope: req.Scope, TargetID: target.ID}
	m.prepare(req.SessionID, string(req.Scope), "modifying node "+target.Name)

	extract := ExtractionRequest{
		SessionID: req.SessionID,
		UserID:    sess.UserID,
		Route:     route,
		PromptID:  prompt.PromptSettingModifyV1,
		Vars: map[string]any{
			"scope_rules": scopeRules(scope),
			"node_block":  nodeBlock(sess, target),
			"instruction": strings.TrimSpace(req.Instruction),
		},
		Workflow: workflowSettingModify,
		Trigger:  TriggerModify,
		Admit: AdmitOptions{
			Mode:         AdmitModification,
			Channel:      ChannelModification,
			Scope:        scope,
			AllowUpdates: true,
		},
	}
	m.run(ctx, unlock, extract)
	return nil
}

// AdjustSession 以整棵树为上下文做一次调整。树以 A<n> 编号呈现，不暴露内部 ID。
func (m *Modifier) AdjustSession(ctx context.Context, req AdjustSessionRequest) error {
	if strings.TrimSpace(req.Instruction) == "" {
		return fmt.Errorf("%w: instruction is required", ErrInvalidInput)
	}
	sess, err := m.store.Get(req.SessionID)
	if err != nil {
		return err
	}
	if err := modifiable(sess); err != nil {
		return err
	}

	unlock, ok := m.tryLock(req.SessionID)
	if !ok {
		return ErrSessionBusy
	}
	route, err := m.router.Resolve(ctx, sess.UserID, pickConfigID(req.ModelConfigID, sess), sess.Metadata.UseSharedPool)
	if err != nil {
		unlock()
		return err
	}

	promptID, _ := m.prompts.Resolve(req.PromptTemplateID, prompt.PromptSettingAdjustV1)

	block, aliases := treeBlock(sess)
	m.prepare(req.SessionID, "", "adjusting setting tree")

	extract := ExtractionRequest{
		SessionID: req.SessionID,
		UserID:    sess.UserID,
		Route:     route,
		PromptID:  promptID,
		Vars: map[string]any{
			"tree_block":  block,
			"instruction": strings.TrimSpace(req.Instruction),
		},
		Workflow: workflowSettingAdjust,
		Trigger:  TriggerAdjust,
		Admit: AdmitOptions{
			Mode:         AdmitModification,
			Channel:      ChannelModification,
			Aliases:      aliases,
			AllowUpdates: true,
		},
	}
	m.run(ctx, unlock, extract)
	return nil
}

func pickConfigID(requested string, sess *entity.GenerationSession) string {
	if strings.TrimSpace(requested) != "" {
		return requested
	}
	return sess.Metadata.ModelConfigID
}

func (m *Modifier) prepare(sessionID, scope, message string) {
	m.hub.Reopen(ChannelModification, sessionID)
	_, _ = m.store.Update(sessionID, func(s *entity.GenerationSession) error {
		s.Metadata.Scope = entity.ModificationScope(scope)
		return nil
	})
	m.hub.Publish(ChannelModification, sessionID, entity.GenerationProgress{
		Progress:    0,
		CurrentStep: "modifying",
		Message:     message,
	})
}

func (m *Modifier) run(ctx context.Context, unlock func(), req ExtractionRequest) {
	m.wg.Add(1)
	runCtx := context.WithoutCancel(ctx)
	go func() {
		defer m.wg.Done()
		defer unlock()
		start := time.Now()

		out, err := m.orchestrator.Extract(runCtx, req)
		completed := entity.GenerationCompleted{DurationMs: time.Since(start).Milliseconds()}
		if sess, gerr := m.store.Get(req.SessionID); gerr == nil {
			completed.NodeCount = len(sess.Nodes)
		}
		switch {
		case err != nil:
			completed.Outcome = entity.OutcomeFailed
			m.hub.Publish(ChannelModification, req.SessionID, entity.GenerationError{
				Code:        eventErrorCode(err),
				Message:     err.Error(),
				Recoverable: true,
			})
			logger.Warn(runCtx, "setting modification failed", "trigger", req.Trigger, "error", err.Error())
		case out.Changed():
			completed.Outcome = entity.OutcomeModified
		default:
			completed.Outcome = entity.OutcomeEmpty
		}
		m.hub.Publish(ChannelModification, req.SessionID, completed)
		m.hub.Close(ChannelModification, req.SessionID)

		if out != nil {
			logger.Info(runCtx, "setting modification finished",
				"trigger", req.Trigger,
				"outcome", completed.Outcome,
				"admitted", out.Admitted,
				"updated", out.Updated,
				"rejected", out.Rejected,
			)
		}
	}()
}

// scopeRules 把范围写成模型可执行的规则，准入时仍会再次强制
func scopeRules(rule *ScopeRule) string {
	id := rule.TargetID
	switch rule.Scope {
	case entity.ScopeSelf:
		return fmt.Sprintf("- 只能修改节点 %s 本身（nodeId 填 %s），不能新建节点，不能修改其它节点，不能改变它的 parentId。", id, id)
	case entity.ScopeChildrenOnly:
		return fmt.Sprintf("- 不能修改节点 %s 本身。\n- 可以修改它的子孙节点（nodeId 填对应编号），或新建 parentId 为 %s 或其子孙节点的节点。", id, id)
	default:
		return fmt.Sprintf("- 可以修改节点 %s 本身（nodeId 填 %s），但不能改变它的 parentId。\n- 可以修改它的子孙节点，或新建 parentId 为 %s 或其子孙节点的节点。", id, id, id)
	}
}

func nodeBlock(sess *entity.GenerationSession, target *entity.SettingNode) string {
	var b strings.Builder
	parent := "无"
	if target.ParentID != nil {
		parent = *target.ParentID
	}
	fmt.Fprintf(&b, "目标节点 nodeId=%s | %s | %s | parentId=%s\n描述：%s\n", target.ID, target.Name, target.Type, parent, target.Description)
	children := sess.Children(target.ID)
	if len(children) == 0 {
		b.WriteString("（无子节点）")
		return b.String()
	}
	b.WriteString("子节点：\n")
	for _, c := range children {
		fmt.Fprintf(&b, "nodeId=%s | %s | %s | %s\n", c.ID, c.Name, c.Type, node.TruncateByRunes(c.Description, treeDescRunes))
	}
	return strings.TrimRight(b.String(), "\n")
}

// treeBlock 深度优先渲染整棵树，返回 A<n> → 节点 ID 的批次别名
func treeBlock(sess *entity.GenerationSession) (string, map[string]string) {
	aliases := make(map[string]string, len(sess.Nodes))
	var b strings.Builder
	n := 0
	var walk func(ids []string)
	walk = func(ids []string) {
		for _, id := range ids {
			nd, ok := sess.Nodes[id]
			if !ok {
				continue
			}
			n++
			alias := adjustAlias + strconv.Itoa(n)
			aliases[alias] = id
			fmt.Fprintf(&b, "%s | %s | %s | %s\n", alias, strings.Join(sess.Path(id), "/"), nd.Type, node.TruncateByRunes(nd.Description, treeDescRunes))

			children := sess.Children(id)
			childIDs := make([]string, 0, len(children))
			for _, c := range children {
				childIDs = append(childIDs, c.ID)
			}
			walk(childIDs)
		}
	}
	walk(sess.RootNodeIDs)
	if n == 0 {
		return "（空）", aliases
	}
	return strings.TrimRight(b.String(), "\n"), aliases
}
