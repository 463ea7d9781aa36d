package setting

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"z-novel-setting-api/internal/domain/entity"
	"z-novel-setting-api/pkg/logger"
	"z-novel-setting-api/pkg/metrics"
)

// AdmitMode 准入上下文
type AdmitMode string

const (
	// AdmitGeneration 初始生成：仅 GENERATING 状态接收结果
	AdmitGeneration AdmitMode = "generation"
	// AdmitModification 修改与整体调整：仅 COMPLETED/SAVED 状态接收结果
	AdmitModification AdmitMode = "modification"
)

// AdmitOptions 一次批量准入的参数
type AdmitOptions struct {
	Mode    AdmitMode
	Channel Channel
	Scope   *ScopeRule
	// Aliases 预置的批次内引用（整体调整时的 A<n> 编号）
	Aliases map[string]string
	// AllowUpdates 允许通过 nodeId 原地修改已有节点
	AllowUpdates bool
}

// AdmittedNode 已准入节点
type AdmittedNode struct {
	Node    *entity.SettingNode
	TempID  string
	Updated bool
}

// Rejection 被拒绝的候选
type Rejection struct {
	Instruction CandidateNodeInstruction
	Err         error
}

// AdmitResult 批量准入结果
type AdmitResult struct {
	Admitted    []AdmittedNode
	Rejected    []Rejection
	Redelivered int
	Discarded   bool
}

// Admitter 负责 tempId 解析、校验、写入会话并发出事件
type Admitter struct {
	store     *SessionStore
	validator *Validator
	hub       *EventHub
}

func NewAdmitter(store *SessionStore, validator *Validator, hub *EventHub) *Admitter {
	return &Admitter{store: store, validator: validator, hub: hub}
}

func statusAccepts(status entity.SessionStatus, mode AdmitMode) bool {
	if mode == AdmitModification {
		return status == entity.SessionStatusCompleted || status == entity.SessionStatusSaved
	}
	return status == entity.SessionStatusGenerating
}

// Admit 在一次原子更新内准入整批候选。单批内按返回顺序处理，
// 引用了本批稍后才定义的 tempId 的节点会延后到其父节点之后。
func (a *Admitter) Admit(ctx context.Context, sessionID string, batch []CandidateNodeInstruction, opts AdmitOptions) (*AdmitResult, error) {
	if opts.Mode == "" {
		opts.Mode = AdmitGeneration
	}
	if opts.Channel == "" {
		opts.Channel = ChannelGeneration
	}
	res := &AdmitResult{}
	if len(batch) == 0 {
		return res, nil
	}

	_, err := a.store.Update(sessionID, func(sess *entity.GenerationSession) error {
		if !statusAccepts(sess.Status, opts.Mode) {
			return errDiscarded
		}
		*res = AdmitResult{}
		a.admitBatch(sess, batch, opts, res)
		return nil
	})
	if errors.Is(err, errDiscarded) {
		logger.Debug(ctx, "extraction result discarded",
			"mode", string(opts.Mode),
			"candidates", len(batch),
		)
		return &AdmitResult{Discarded: true}, nil
	}
	if err != nil {
		return nil, err
	}

	a.emit(sessionID, opts, res)
	return res, nil
}

func (a *Admitter) admitBatch(sess *entity.GenerationSession, batch []CandidateNodeInstruction, opts AdmitOptions, res *AdmitResult) {
	r := newBatchResolver(sess, opts.Aliases)

	pendingDefs := make(map[string]int)
	for _, ins := range batch {
		if ins.TempID != "" {
			pendingDefs[ins.TempID]++
		}
	}
	done := func(ins CandidateNodeInstruction) {
		if ins.TempID == "" {
			return
		}
		pendingDefs[ins.TempID]--
		if pendingDefs[ins.TempID] <= 0 {
			delete(pendingDefs, ins.TempID)
		}
	}

	queue := make([]int, len(batch))
	for i := range batch {
		queue[i] = i
	}
	for len(queue) > 0 {
		var deferred []int
		for _, i := range queue {
			ins := batch[i]
			parentTok := strings.TrimSpace(ins.ParentID)
			if parentTok != "" {
				if _, ok := r.Resolve(parentTok); !ok && pendingDefs[parentTok] > 0 && parentTok != ins.TempID {
					deferred = append(deferred, i)
					continue
				}
			}
			a.admitOne(sess, r, ins, opts, res)
			done(ins)
		}
		if len(deferred) == len(queue) {
			// 互相等待的引用无法解析
			for _, i := range deferred {
				ins := batch[i]
				res.Rejected = append(res.Rejected, Rejection{
					Instruction: ins,
					Err: &ValidationError{
						Code:    ValidationUnresolvedParent,
						Message: "parent " + ins.ParentID + " is never defined",
						Name:    ins.Name,
					},
				})
			}
			return
		}
		queue = deferred
	}
}

func (a *Admitter) admitOne(sess *entity.GenerationSession, r *batchResolver, ins CandidateNodeInstruction, opts AdmitOptions, res *AdmitResult) {
	reject := func(err error) {
		res.Rejected = append(res.Rejected, Rejection{Instruction: ins, Err: err})
	}

	var (
		id       string
		existing *entity.SettingNode
	)
	if opts.AllowUpdates && ins.NodeID != "" {
		nid, ok := r.Resolve(ins.NodeID)
		if !ok || sess.Nodes[nid] == nil {
			reject(&ValidationError{Code: ValidationUnresolvedParent, Message: "node " + ins.NodeID + " does not exist", Name: ins.Name})
			return
		}
		id, existing = nid, sess.Nodes[nid]
	} else if ins.TempID != "" {
		if r.IsAlias(ins.TempID) {
			reject(&ValidationError{
				Code:    ValidationReservedTempID,
				Message: "tempId " + strings.TrimSpace(ins.TempID) + " already refers to an existing node",
				Name:    ins.Name,
			})
			return
		}
		if bound, ok := r.Resolve(ins.TempID); ok && sess.Nodes[bound] != nil {
			res.Redelivered++
			return
		}
	}
	if id == "" {
		id = uuid.NewString()
	}

	parentID := ""
	parentTok := strings.TrimSpace(ins.ParentID)
	switch {
	case parentTok != "":
		pid, ok := r.Resolve(parentTok)
		if !ok {
			reject(&ValidationError{Code: ValidationUnresolvedParent, Message: "parent " + parentTok + " is not bound", Name: ins.Name})
			return
		}
		parentID = pid
	case existing != nil:
		parentID = existing.ParentKey()
	}

	typ, _ := entity.ParseSettingType(ins.Type)
	name, desc := ins.Name, ins.Description
	if existing != nil {
		// 修改时未给出的字段沿用原值
		if strings.TrimSpace(name) == "" {
			name = existing.Name
		}
		if strings.TrimSpace(desc) == "" {
			desc = existing.Description
		}
		if strings.TrimSpace(ins.Type) == "" {
			typ = existing.Type
		}
	}

	c := &candidate{
		ID:          id,
		ParentID:    parentID,
		Name:        strings.TrimSpace(name),
		Type:        typ,
		RawType:     ins.Type,
		Description: strings.TrimSpace(desc),
		IsUpdate:    existing != nil,
	}
	if err := a.validator.Validate(sess, c, opts.Scope); err != nil {
		var ve *ValidationError
		if errors.As(err, &ve) && ve.Code == ValidationDuplicateNode && ins.TempID != "" && opts.Mode == AdmitGeneration {
			// 重复节点的新 tempId 指向已存在的同名节点，后续子节点仍能挂接
			if dup := findDuplicate(sess, c); dup != "" {
				r.Bind(ins.TempID, dup)
			}
		}
		reject(err)
		return
	}

	var node *entity.SettingNode
	if existing != nil {
		node = existing.Clone()
		node.Name = c.Name
		node.Type = c.Type
		node.Description = c.Description
		node.ParentID = entity.StringPtr(c.ParentID)
		if len(ins.Attributes) > 0 {
			if node.Attributes == nil {
				node.Attributes = make(map[string]any, len(ins.Attributes))
			}
			for k, v := range ins.Attributes {
				node.Attributes[k] = v
			}
		}
		node.GenerationStatus = entity.NodeStatusModified
	} else {
		node = &entity.SettingNode{
			ID:               id,
			ParentID:         entity.StringPtr(c.ParentID),
			Name:             c.Name,
			Type:             c.Type,
			Description:      c.Description,
			Attributes:       ins.Attributes,
			GenerationStatus: entity.NodeStatusCompleted,
		}
	}
	sess.AddNode(node)
	if ins.TempID != "" {
		r.Bind(ins.TempID, id)
	}
	if opts.Mode == AdmitModification && sess.Metadata.SavedHistoryID != "" {
		sess.Metadata.TreeDirty = true
	}
	res.Admitted = append(res.Admitted, AdmittedNode{Node: node.Clone(), TempID: ins.TempID, Updated: existing != nil})
}

func findDuplicate(sess *entity.GenerationSession, c *candidate) string {
	key := NormalizeName(c.Name)
	for id, n := range sess.Nodes {
		if n.ParentKey() == c.ParentID && n.Type == c.Type && NormalizeName(n.Name) == key {
			return id
		}
	}
	return ""
}

func (a *Admitter) emit(sessionID string, opts AdmitOptions, res *AdmitResult) {
	for _, an := range res.Admitted {
		if an.Updated {
			a.hub.Publish(opts.Channel, sessionID, entity.NodeUpdated{Node: an.Node, TempID: an.TempID})
			metrics.SettingNodesAdmitted.WithLabelValues(string(opts.Mode), "update").Inc()
			continue
		}
		a.hub.Publish(opts.Channel, sessionID, entity.NodeCreated{Node: an.Node, TempID: an.TempID})
		metrics.SettingNodesAdmitted.WithLabelValues(string(opts.Mode), "create").Inc()
	}
	for _, rj := range res.Rejected {
		code := entity.EventErrValidation
		reason := "unknown"
		var nodeID string
		var ve *ValidationError
		if errors.As(rj.Err, &ve) {
			reason = string(ve.Code)
			nodeID = ve.NodeID
			if ve.IsScopeViolation() {
				code = entity.EventErrScopeViolation
			}
		}
		if rj.Instruction.NodeID != "" {
			nodeID = rj.Instruction.NodeID
		}
		a.hub.Publish(opts.Channel, sessionID, entity.GenerationError{
			Code:        code,
			Message:     rj.Err.Error(),
			NodeID:      nodeID,
			Recoverable: true,
		})
		metrics.SettingNodesRejected.WithLabelValues(reason).Inc()
	}
}
